/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the configuration store with ready-made configuration so the
	calculators and the payroll endpoint have something to work against.

AVAILABLE SCENARIOS:

	standard-2024:    Standard schedule, six rates, rules, parameters, templates
	rate-change-2025: standard-2024 plus 2025 pension/housing/overtime changes

HOW SCENARIOS WORK:
 1. Reset database (clear all configuration and history)
 2. Apply each bundle of the scenario through ConfigManager
 3. Every record written is validated and audited

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "rate-change-2025"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - presets/scenarios.go: Scenario definitions
  - factory/bundle.go: Bundle application
*/
package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/warp/payroll-engine/presets"
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all := presets.Scenarios()
	dtos := make([]ScenarioDTO, len(all))
	for i, s := range all {
		dtos[i] = ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, ok := presets.GetScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := presets.GetScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()

	// Reset first
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	results, err := s.Load(ctx, h.Manager)
	if err != nil {
		log.Printf("[api] scenario %s: %v", s.ID, err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]any{"status": "loaded", "scenario": s.ID, "bundles": results})
}

// ResetDatabase clears all configuration and history.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
