/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/tax/*            Tax brackets and the tax calculator
  /api/insurance/*      Insurance rates and the contribution calculator
  /api/rules/*          Calculation rules
  /api/parameters/*     System parameters
  /api/templates/*      Salary templates
  /api/history          Configuration change history
  /api/payroll/*        Pay-slip computation
  /api/config/export    Active configuration as a bundle
  /api/scenarios/*      Demo scenarios and reset (dev only)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Configuration handlers
  - compute.go: Calculator handlers
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOrigins are the dev frontend origins.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. A nil or
// empty origins list falls back to DefaultCORSOrigins.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/tax", func(r chi.Router) {
			r.Get("/brackets", h.ListTaxBrackets)
			r.Post("/brackets", h.CreateTaxBracket)
			r.Post("/brackets/set", h.CreateTaxBracketSet)
			r.Delete("/brackets/set", h.DeleteTaxBracketSet)
			r.Get("/brackets/effective", h.GetEffectiveSchedule)
			r.Get("/brackets/{id}", h.GetTaxBracket)
			r.Put("/brackets/{id}", h.UpdateTaxBracket)
			r.Delete("/brackets/{id}", h.DeleteTaxBracket)
			r.Post("/calculate", h.CalculateTax)
		})

		r.Route("/insurance", func(r chi.Router) {
			r.Get("/rates", h.ListInsuranceRates)
			r.Post("/rates", h.CreateInsuranceRate)
			r.Get("/rates/{id}", h.GetInsuranceRate)
			r.Put("/rates/{id}", h.UpdateInsuranceRate)
			r.Delete("/rates/{id}", h.DeleteInsuranceRate)
			r.Post("/calculate", h.CalculateInsurance)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListCalculationRules)
			r.Post("/", h.CreateCalculationRule)
			r.Get("/value/{type}", h.GetRuleValue)
			r.Get("/{id}", h.GetCalculationRule)
			r.Put("/{id}", h.UpdateCalculationRule)
			r.Delete("/{id}", h.DeleteCalculationRule)
		})

		r.Route("/parameters", func(r chi.Router) {
			r.Get("/", h.ListSystemParameters)
			r.Post("/", h.CreateSystemParameter)
			r.Get("/value/{key}", h.GetParameterValue)
			r.Get("/{id}", h.GetSystemParameter)
			r.Put("/{id}", h.UpdateSystemParameter)
			r.Delete("/{id}", h.DeleteSystemParameter)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListSalaryTemplates)
			r.Post("/", h.CreateSalaryTemplate)
			r.Post("/apply", h.ApplyTemplate)
			r.Post("/applicable", h.ApplicableTemplates)
			r.Get("/{id}", h.GetSalaryTemplate)
			r.Put("/{id}", h.UpdateSalaryTemplate)
			r.Delete("/{id}", h.DeleteSalaryTemplate)
			r.Post("/{id}/toggle", h.ToggleSalaryTemplate)
		})

		r.Get("/history", h.QueryHistory)
		r.Post("/payroll/compute", h.ComputePayroll)
		r.Get("/config/export", h.ExportConfig)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Payroll Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Payroll Engine API</h1>
<ul>
<li><a href="/api/tax/brackets">/api/tax/brackets</a> - Tax brackets</li>
<li><a href="/api/insurance/rates">/api/insurance/rates</a> - Insurance rates</li>
<li><a href="/api/rules">/api/rules</a> - Calculation rules</li>
<li><a href="/api/parameters">/api/parameters</a> - System parameters</li>
<li><a href="/api/templates">/api/templates</a> - Salary templates</li>
<li><a href="/api/history">/api/history</a> - Change history</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
