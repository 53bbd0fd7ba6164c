/*
handlers.go - HTTP API handlers for payroll configuration

PURPOSE:
  Exposes configuration CRUD and the change history via REST. Handles HTTP
  request/response, JSON serialization, and delegates every write to
  payroll.ConfigManager so validation and auditing cannot be bypassed.

ENDPOINTS:
  Tax brackets:
    GET    /api/tax/brackets           List (?is_active=true&start=&limit=)
    POST   /api/tax/brackets           Create one bracket
    POST   /api/tax/brackets/set       Replace a whole schedule
    GET    /api/tax/brackets/{id}      Detail
    PUT    /api/tax/brackets/{id}      Update
    DELETE /api/tax/brackets/{id}      Retire (?changed_by=&change_reason=)

  Insurance rates, calculation rules, system parameters:
    Same shape under /api/insurance/rates, /api/rules, /api/parameters,
    filterable by ?insurance_type=, ?rule_type=, ?category=

  Templates:
    GET/POST /api/templates, GET/PUT/DELETE /api/templates/{id},
    POST /api/templates/{id}/toggle

  History:
    GET    /api/history                ?parameter_type=&parameter_id=&start=&limit=

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Transactional configuration store
  - Manager: The audited write path
  - Snapshots: Versioned snapshot cache shared by every calculator

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 422: Configuration missing, bracket gap, arithmetic failure
  - 500: Internal errors

SEE ALSO:
  - compute.go: Calculator and payroll endpoints
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence: a transactional
// configuration store that can also be wiped for demo scenarios.
type Store interface {
	payroll.TxConfigStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Manager   *payroll.ConfigManager
	Snapshots *payroll.SnapshotCache

	Tax       *payroll.TaxCalculator
	Insurance *payroll.InsuranceCalculator
	Rules     *payroll.RuleEvaluator
	Templates *payroll.TemplateComposer
	Engine    *payroll.PayrollEngine

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Store) *Handler {
	snapshots := payroll.NewSnapshotCache(store)
	return &Handler{
		Store:     store,
		Manager:   payroll.NewConfigManager(store, nil),
		Snapshots: snapshots,
		Tax:       payroll.NewTaxCalculator(snapshots),
		Insurance: payroll.NewInsuranceCalculator(snapshots),
		Rules:     payroll.NewRuleEvaluator(snapshots),
		Templates: payroll.NewTemplateComposer(snapshots),
		Engine:    payroll.NewPayrollEngine(snapshots),
	}
}

// =============================================================================
// TAX BRACKETS
// =============================================================================

func (h *Handler) ListTaxBrackets(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListTaxBrackets(r.Context(), listFilter(r, ""))
	if err != nil {
		writeDomainError(w, "Failed to list tax brackets", err)
		return
	}
	writePage(w, r, records)
}

func (h *Handler) GetTaxBracket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.Store.GetTaxBracket(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Tax bracket not found", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) CreateTaxBracket(w http.ResponseWriter, r *http.Request) {
	var req TaxBracketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.Manager.CreateTaxBracket(r.Context(), req.TaxBracket, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to create tax bracket", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) CreateTaxBracketSet(w http.ResponseWriter, r *http.Request) {
	var req TaxBracketSetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.Manager.CreateTaxBracketSet(r.Context(), req.EffectiveDate, req.Brackets, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to create tax bracket set", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateTaxBracket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TaxBracketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TaxBracket.ID = id
	updated, err := h.Manager.UpdateTaxBracket(r.Context(), req.TaxBracket, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to update tax bracket", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteTaxBracket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Manager.DeleteTaxBracket(r.Context(), id, changeFromQuery(r)); err != nil {
		writeDomainError(w, "Failed to delete tax bracket", err)
		return
	}
	writeDeleted(w, id)
}

// DeleteTaxBracketSet retires the whole schedule given by ?effective_date=.
func (h *Handler) DeleteTaxBracketSet(w http.ResponseWriter, r *http.Request) {
	effective, err := payroll.ParseDate(r.URL.Query().Get("effective_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}
	retired, err := h.Manager.DeleteTaxBracketSet(r.Context(), effective, changeFromQuery(r))
	if err != nil {
		writeDomainError(w, "Failed to delete tax bracket set", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "effective_date": effective, "brackets": len(retired)})
}

// =============================================================================
// INSURANCE RATES
// =============================================================================

func (h *Handler) ListInsuranceRates(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListInsuranceRates(r.Context(), listFilter(r, "insurance_type"))
	if err != nil {
		writeDomainError(w, "Failed to list insurance rates", err)
		return
	}
	writePage(w, r, records)
}

func (h *Handler) GetInsuranceRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rate, err := h.Store.GetInsuranceRate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Insurance rate not found", err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (h *Handler) CreateInsuranceRate(w http.ResponseWriter, r *http.Request) {
	var req InsuranceRateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.Manager.CreateInsuranceRate(r.Context(), req.InsuranceRate, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to create insurance rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateInsuranceRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req InsuranceRateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.InsuranceRate.ID = id
	updated, err := h.Manager.UpdateInsuranceRate(r.Context(), req.InsuranceRate, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to update insurance rate", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteInsuranceRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Manager.DeleteInsuranceRate(r.Context(), id, changeFromQuery(r)); err != nil {
		writeDomainError(w, "Failed to delete insurance rate", err)
		return
	}
	writeDeleted(w, id)
}

// =============================================================================
// CALCULATION RULES
// =============================================================================

func (h *Handler) ListCalculationRules(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListCalculationRules(r.Context(), listFilter(r, "rule_type"))
	if err != nil {
		writeDomainError(w, "Failed to list calculation rules", err)
		return
	}
	writePage(w, r, records)
}

func (h *Handler) GetCalculationRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.Store.GetCalculationRule(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Calculation rule not found", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) CreateCalculationRule(w http.ResponseWriter, r *http.Request) {
	var req CalculationRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.Manager.CreateCalculationRule(r.Context(), req.CalculationRule, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to create calculation rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateCalculationRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CalculationRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.CalculationRule.ID = id
	updated, err := h.Manager.UpdateCalculationRule(r.Context(), req.CalculationRule, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to update calculation rule", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteCalculationRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Manager.DeleteCalculationRule(r.Context(), id, changeFromQuery(r)); err != nil {
		writeDomainError(w, "Failed to delete calculation rule", err)
		return
	}
	writeDeleted(w, id)
}

// =============================================================================
// SYSTEM PARAMETERS
// =============================================================================

func (h *Handler) ListSystemParameters(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListSystemParameters(r.Context(), listFilter(r, "category"))
	if err != nil {
		writeDomainError(w, "Failed to list system parameters", err)
		return
	}
	writePage(w, r, records)
}

func (h *Handler) GetSystemParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetSystemParameter(r.Context(), id)
	if err != nil {
		writeDomainError(w, "System parameter not found", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) CreateSystemParameter(w http.ResponseWriter, r *http.Request) {
	var req SystemParameterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.Manager.CreateSystemParameter(r.Context(), req.SystemParameter, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to create system parameter", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateSystemParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SystemParameterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.SystemParameter.ID = id
	updated, err := h.Manager.UpdateSystemParameter(r.Context(), req.SystemParameter, req.Change)
	if err != nil {
		writeDomainError(w, "Failed to update system parameter", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteSystemParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Manager.DeleteSystemParameter(r.Context(), id, changeFromQuery(r)); err != nil {
		writeDomainError(w, "Failed to delete system parameter", err)
		return
	}
	writeDeleted(w, id)
}

// =============================================================================
// SALARY TEMPLATES
// =============================================================================

func (h *Handler) ListSalaryTemplates(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListSalaryTemplates(r.Context(), listFilter(r, "name"))
	if err != nil {
		writeDomainError(w, "Failed to list salary templates", err)
		return
	}
	writePage(w, r, records)
}

func (h *Handler) GetSalaryTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.Store.GetSalaryTemplate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Salary template not found", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) CreateSalaryTemplate(w http.ResponseWriter, r *http.Request) {
	var t payroll.SalaryTemplate
	if !decodeBody(w, r, &t) {
		return
	}
	created, err := h.Manager.CreateSalaryTemplate(r.Context(), t)
	if err != nil {
		writeDomainError(w, "Failed to create salary template", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateSalaryTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var t payroll.SalaryTemplate
	if !decodeBody(w, r, &t) {
		return
	}
	t.ID = id
	updated, err := h.Manager.UpdateSalaryTemplate(r.Context(), t)
	if err != nil {
		writeDomainError(w, "Failed to update salary template", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) ToggleSalaryTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ToggleTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.Manager.SetTemplateActive(r.Context(), id, req.IsActive)
	if err != nil {
		writeDomainError(w, "Failed to toggle salary template", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteSalaryTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Manager.DeleteSalaryTemplate(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete salary template", err)
		return
	}
	writeDeleted(w, id)
}

// =============================================================================
// HISTORY
// =============================================================================

// QueryHistory returns configuration changes, newest first.
func (h *Handler) QueryHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := payroll.HistoryFilter{
		ParameterType: payroll.ConfigKind(q.Get("parameter_type")),
		Offset:        queryInt(q.Get("start"), 0),
		Limit:         queryInt(q.Get("limit"), 50),
	}
	if raw := q.Get("parameter_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid parameter_id", err)
			return
		}
		f.ParameterID = &id
	}

	records, total, err := h.Store.QueryHistory(r.Context(), f)
	if err != nil {
		writeDomainError(w, "Failed to query history", err)
		return
	}
	if records == nil {
		records = []payroll.ParameterHistory{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: records, Total: total})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a payroll error to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] %s: %v", message, err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case payroll.IsClientError(err):
		return http.StatusBadRequest
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case payroll.IsComputationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeDeleted(w http.ResponseWriter, id int64) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// writePage applies ?start=&limit= to records.
func writePage[T any](w http.ResponseWriter, r *http.Request, records []T) {
	q := r.URL.Query()
	page := payroll.Paginate(records, queryInt(q.Get("start"), 0), queryInt(q.Get("limit"), 0))
	if page.Records == nil {
		page.Records = []T{}
	}
	writeJSON(w, http.StatusOK, page)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", fmt.Errorf("%q is not a record id", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

// listFilter reads the kind's key filter (keyParam) and ?is_active=true.
func listFilter(r *http.Request, keyParam string) payroll.ListFilter {
	q := r.URL.Query()
	f := payroll.ListFilter{}
	if keyParam != "" {
		f.Key = q.Get(keyParam)
	}
	f.ActiveOnly, _ = strconv.ParseBool(q.Get("is_active"))
	return f
}

// changeFromQuery reads change metadata for DELETE requests.
func changeFromQuery(r *http.Request) payroll.Change {
	q := r.URL.Query()
	return payroll.Change{ChangedBy: q.Get("changed_by"), Reason: q.Get("change_reason")}
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
