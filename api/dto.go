/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Configuration records
  travel in their payroll form; mutation requests embed payroll.Change so
  changed_by and change_reason sit beside the record fields.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done by payroll.ConfigManager, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go, compute.go: Use these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// CONFIGURATION WRITES
// =============================================================================

// TaxBracketRequest creates or updates one bracket.
type TaxBracketRequest struct {
	payroll.TaxBracket
	payroll.Change
}

// TaxBracketSetRequest replaces the schedule at one effective date.
type TaxBracketSetRequest struct {
	EffectiveDate payroll.Date         `json:"effective_date"`
	Brackets      []payroll.TaxBracket `json:"brackets"`
	payroll.Change
}

type InsuranceRateRequest struct {
	payroll.InsuranceRate
	payroll.Change
}

type CalculationRuleRequest struct {
	payroll.CalculationRule
	payroll.Change
}

type SystemParameterRequest struct {
	payroll.SystemParameter
	payroll.Change
}

// ToggleTemplateRequest activates or deactivates a template.
type ToggleTemplateRequest struct {
	IsActive bool `json:"is_active"`
}

// =============================================================================
// CALCULATORS
// =============================================================================

// TaxCalculateRequest asks for the tax on an already-taxable amount.
type TaxCalculateRequest struct {
	TaxableIncome decimal.Decimal `json:"taxable_income"`
	AsOf          *payroll.Date   `json:"as_of,omitempty"`
}

type TaxCalculateResponse struct {
	TaxableIncome  decimal.Decimal    `json:"taxable_income"`
	Tax            decimal.Decimal    `json:"tax"`
	AsOf           payroll.Date       `json:"as_of"`
	EffectiveDate  payroll.Date       `json:"effective_date"`
	Bracket        payroll.TaxBracket `json:"bracket"`
	AfterTaxIncome decimal.Decimal    `json:"after_tax_income"`
}

// InsuranceCalculateRequest asks for contributions on a gross base. An
// empty insurance_type returns all six types.
type InsuranceCalculateRequest struct {
	GrossBase     decimal.Decimal       `json:"gross_base"`
	InsuranceType payroll.InsuranceType `json:"insurance_type,omitempty"`
	AsOf          *payroll.Date         `json:"as_of,omitempty"`
}

type InsuranceCalculateResponse struct {
	GrossBase     decimal.Decimal        `json:"gross_base"`
	AsOf          payroll.Date           `json:"as_of"`
	Contributions []payroll.Contribution `json:"contributions"`
	EmployeeTotal decimal.Decimal        `json:"employee_total"`
	EmployerTotal decimal.Decimal        `json:"employer_total"`
}

// RuleValueResponse is a display read; Configured is false when no rule
// is effective.
type RuleValueResponse struct {
	Configured bool                     `json:"configured"`
	RuleType   payroll.RuleType         `json:"rule_type"`
	AsOf       payroll.Date             `json:"as_of"`
	Value      *decimal.Decimal         `json:"value,omitempty"`
	Rule       *payroll.CalculationRule `json:"rule,omitempty"`
}

// ScheduleResponse is a display read of the bracket schedule effective
// as_of.
type ScheduleResponse struct {
	Configured    bool                 `json:"configured"`
	AsOf          payroll.Date         `json:"as_of"`
	EffectiveDate *payroll.Date        `json:"effective_date,omitempty"`
	Brackets      []payroll.TaxBracket `json:"brackets"`
}

type ParameterValueResponse struct {
	Configured bool                     `json:"configured"`
	Key        string                   `json:"parameter_key"`
	Value      any                      `json:"value,omitempty"`
	Parameter  *payroll.SystemParameter `json:"parameter,omitempty"`
}

// ApplyTemplateRequest applies an active template to a base salary.
type ApplyTemplateRequest struct {
	TemplateID int64           `json:"template_id"`
	BaseSalary decimal.Decimal `json:"base_salary"`
}

type ApplyTemplateResponse struct {
	Template   payroll.SalaryTemplate `json:"template"`
	BaseSalary decimal.Decimal        `json:"base_salary"`
	Buckets    payroll.Buckets        `json:"buckets"`
	Total      decimal.Decimal        `json:"total"`
}

type ApplicableTemplatesRequest struct {
	RankID       string `json:"rank_id"`
	DepartmentID string `json:"department_id"`
}

// ComputePayrollRequest is one employee and one period. The period is
// given as period_date, as period ("YYYY-MM", computed as of its last day)
// or both, in which case the date must fall inside the period.
type ComputePayrollRequest struct {
	Employee        payroll.Employee        `json:"employee"`
	PeriodDate      *payroll.Date           `json:"period_date,omitempty"`
	Period          *payroll.PayPeriod      `json:"period,omitempty"`
	DefaultTemplate *payroll.SalaryTemplate `json:"default_template,omitempty"`
}

// =============================================================================
// LISTINGS / SCENARIOS / ERRORS
// =============================================================================

// HistoryResponse is one page of history, newest first.
type HistoryResponse struct {
	Records []payroll.ParameterHistory `json:"records"`
	Total   int                        `json:"total"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
