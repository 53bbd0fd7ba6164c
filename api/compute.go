package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// CALCULATORS
// =============================================================================

// CalculateTax applies the schedule effective as_of (default today).
func (h *Handler) CalculateTax(w http.ResponseWriter, r *http.Request) {
	var req TaxCalculateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asOf := dateOrToday(req.AsOf)
	tax, bracket, err := h.Tax.ComputeTaxDetail(r.Context(), req.TaxableIncome, asOf)
	if err != nil {
		writeDomainError(w, "Failed to calculate tax", err)
		return
	}
	writeJSON(w, http.StatusOK, TaxCalculateResponse{
		TaxableIncome:  req.TaxableIncome,
		Tax:            tax,
		AsOf:           asOf,
		EffectiveDate:  bracket.EffectiveDate,
		Bracket:        bracket,
		AfterTaxIncome: req.TaxableIncome.Sub(tax),
	})
}

// CalculateInsurance returns one contribution, or all six when no type is
// given.
func (h *Handler) CalculateInsurance(w http.ResponseWriter, r *http.Request) {
	var req InsuranceCalculateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asOf := dateOrToday(req.AsOf)

	var contributions []payroll.Contribution
	if req.InsuranceType != "" {
		c, err := h.Insurance.ComputeContribution(r.Context(), req.InsuranceType, req.GrossBase, asOf)
		if err != nil {
			writeDomainError(w, "Failed to calculate insurance", err)
			return
		}
		contributions = []payroll.Contribution{c}
	} else {
		all, err := h.Insurance.ComputeAll(r.Context(), req.GrossBase, asOf)
		if err != nil {
			writeDomainError(w, "Failed to calculate insurance", err)
			return
		}
		contributions = all
	}

	employee, employer := payroll.SumContributions(contributions)
	writeJSON(w, http.StatusOK, InsuranceCalculateResponse{
		GrossBase:     req.GrossBase,
		AsOf:          asOf,
		Contributions: contributions,
		EmployeeTotal: employee,
		EmployerTotal: employer,
	})
}

// GetRuleValue is a display read: a missing rule is reported, not failed.
func (h *Handler) GetRuleValue(w http.ResponseWriter, r *http.Request) {
	t := payroll.RuleType(chi.URLParam(r, "type"))
	if !t.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown rule type", nil)
		return
	}
	asOf, ok := queryDate(w, r)
	if !ok {
		return
	}

	resp := RuleValueResponse{RuleType: t, AsOf: asOf}
	rule, err := h.Rules.GetRule(r.Context(), t, asOf)
	switch {
	case errors.Is(err, payroll.ErrConfigurationMissing):
	case err != nil:
		writeDomainError(w, "Failed to resolve rule", err)
		return
	default:
		resp.Configured = true
		resp.Value = &rule.RuleValue
		resp.Rule = &rule
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEffectiveSchedule is a display read of the brackets in force as_of.
func (h *Handler) GetEffectiveSchedule(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryDate(w, r)
	if !ok {
		return
	}
	resp := ScheduleResponse{AsOf: asOf, Brackets: []payroll.TaxBracket{}}
	set, err := h.Tax.Brackets(r.Context(), asOf)
	switch {
	case errors.Is(err, payroll.ErrConfigurationMissing):
	case err != nil:
		writeDomainError(w, "Failed to resolve tax schedule", err)
		return
	default:
		resp.Configured = true
		resp.EffectiveDate = &set.EffectiveDate
		resp.Brackets = set.Brackets
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetParameterValue returns the typed value of an active parameter.
func (h *Handler) GetParameterValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	resp := ParameterValueResponse{Key: key}

	p, err := h.Rules.Parameter(r.Context(), key)
	if errors.Is(err, payroll.ErrConfigurationMissing) {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to resolve parameter", err)
		return
	}
	value, err := p.Typed()
	if err != nil {
		writeDomainError(w, "Stored parameter value is malformed", err)
		return
	}
	resp.Configured = true
	resp.Value = value
	resp.Parameter = &p
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var req ApplyTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, buckets, err := h.Templates.ApplyByID(r.Context(), req.TemplateID, req.BaseSalary)
	if err != nil {
		writeDomainError(w, "Failed to apply template", err)
		return
	}
	writeJSON(w, http.StatusOK, ApplyTemplateResponse{
		Template:   t,
		BaseSalary: req.BaseSalary,
		Buckets:    buckets,
		Total:      buckets.Total(),
	})
}

func (h *Handler) ApplicableTemplates(w http.ResponseWriter, r *http.Request) {
	var req ApplicableTemplatesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ts, err := h.Templates.Applicable(r.Context(), req.RankID, req.DepartmentID)
	if err != nil {
		writeDomainError(w, "Failed to list applicable templates", err)
		return
	}
	if ts == nil {
		ts = []payroll.SalaryTemplate{}
	}
	writeJSON(w, http.StatusOK, ts)
}

// =============================================================================
// PAYROLL
// =============================================================================

// ComputePayroll produces a pay breakdown for one employee and period.
func (h *Handler) ComputePayroll(w http.ResponseWriter, r *http.Request) {
	var req ComputePayrollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asOf := dateOrToday(req.PeriodDate)
	if req.Period != nil {
		if req.PeriodDate == nil {
			asOf = req.Period.End
		} else if !req.Period.Contains(asOf) {
			writeError(w, http.StatusBadRequest, "period_date is outside period", nil)
			return
		}
	}
	breakdown, err := h.Engine.ComputePayroll(r.Context(), payroll.PayrollInput{
		Employee:        req.Employee,
		PeriodDate:      asOf,
		DefaultTemplate: req.DefaultTemplate,
	})
	if err != nil {
		writeDomainError(w, "Failed to compute payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// ExportConfig returns the active configuration as a bundle
// (?format=yaml for YAML).
func (h *Handler) ExportConfig(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "export-" + payroll.Today().String()
	}
	b, err := factory.Export(r.Context(), h.Store, name)
	if err != nil {
		writeDomainError(w, "Failed to export configuration", err)
		return
	}
	if r.URL.Query().Get("format") != "yaml" {
		writeJSON(w, http.StatusOK, b)
		return
	}
	data, err := b.YAML()
	if err != nil {
		writeDomainError(w, "Failed to encode configuration", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// HELPERS
// =============================================================================

func dateOrToday(d *payroll.Date) payroll.Date {
	if d == nil || d.IsZero() {
		return payroll.Today()
	}
	return *d
}

// queryDate reads ?as_of=, defaulting to today.
func queryDate(w http.ResponseWriter, r *http.Request) (payroll.Date, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return payroll.Today(), true
	}
	d, err := payroll.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return payroll.Date{}, false
	}
	return d, true
}
