/*
engine.go - PayrollEngine: one employee, one pay period

PURPOSE:
  Orchestrates template composition, attendance rules, insurance and tax
  into a PayBreakdown. All configuration is read from a single Snapshot
  taken at the start, resolved against one asOf date (the period date).

FLOW:
  1. Take a snapshot
  2. Prorate base by attendance (monthly_workdays)
  3. Resolve template: first applicable active template, else the default
  4. Compose buckets from the contract base salary
  5. Reduce the bonus by leave days (leave_deduction_rate)
  6. Overtime = daily rate * overtime multiplier * overtime days
  7. Gross = base + buckets + overtime
  8. Insurance on gross (or base, per the insurance_base parameter)
  9. Tax on (gross - employee insurance - tax_threshold), if positive
  10. Total = gross - employee insurance - tax

FAILURE:
  Any missing rate, rule or bracket aborts the whole computation with the
  originating error. Rules are resolved only when their input is used, so
  an employee without attendance never needs monthly_workdays.

SEE ALSO:
  - template.go, insurance.go, tax.go, rules.go
*/
package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Attendance for the period. Days may be fractional (half days).
type Attendance struct {
	WorkDays     decimal.Decimal `json:"work_days"`
	LeaveDays    decimal.Decimal `json:"leave_days"`
	OvertimeDays decimal.Decimal `json:"overtime_days"`
}

// Employee is the slice of the staff record payroll needs.
type Employee struct {
	StaffID      string          `json:"staff_id"`
	RankID       string          `json:"rank_id"`
	DepartmentID string          `json:"department_id"`
	BaseSalary   decimal.Decimal `json:"base_salary"`

	// ExemptFromInsurance skips all contributions (no social fund).
	ExemptFromInsurance bool `json:"exempt_from_insurance"`

	// Attendance prorates base, reduces bonus and adds overtime.
	// Nil means a full month with no leave or overtime.
	Attendance *Attendance `json:"attendance,omitempty"`
}

// PayrollInput is one computation request.
type PayrollInput struct {
	Employee   Employee
	PeriodDate Date

	// DefaultTemplate is used when no active template matches the employee.
	DefaultTemplate *SalaryTemplate
}

// PayBreakdown is the computed pay-slip.
type PayBreakdown struct {
	StaffID       string    `json:"staff_id"`
	Period        PayPeriod `json:"period"`
	AsOf          Date      `json:"as_of"`
	ConfigVersion int64     `json:"config_version"`
	TemplateID    *int64    `json:"template_id"`

	ContractBase decimal.Decimal `json:"contract_base"`
	Base         decimal.Decimal `json:"base"`
	Subsidy      decimal.Decimal `json:"subsidy"`
	Bonus        decimal.Decimal `json:"bonus"`
	Commission   decimal.Decimal `json:"commission"`
	Other        decimal.Decimal `json:"other"`
	Overtime     decimal.Decimal `json:"overtime"`
	Gross        decimal.Decimal `json:"gross"`

	InsuranceBase          decimal.Decimal `json:"insurance_base"`
	Insurance              []Contribution  `json:"insurance"`
	InsuranceEmployeeTotal decimal.Decimal `json:"insurance_employee_total"`
	InsuranceEmployerTotal decimal.Decimal `json:"insurance_employer_total"`

	TaxableIncome decimal.Decimal `json:"taxable_income"`
	TaxThreshold  decimal.Decimal `json:"tax_threshold"`
	Tax           decimal.Decimal `json:"tax"`

	Total decimal.Decimal `json:"total"`
}

// Contribution returns the breakdown's contribution for t.
func (p PayBreakdown) Contribution(t InsuranceType) (Contribution, bool) {
	for _, c := range p.Insurance {
		if c.InsuranceType == t {
			return c, true
		}
	}
	return Contribution{}, false
}

// PayrollEngine computes pay breakdowns. It never writes configuration.
type PayrollEngine struct {
	snapshots SnapshotProvider
}

func NewPayrollEngine(snapshots SnapshotProvider) *PayrollEngine {
	return &PayrollEngine{snapshots: snapshots}
}

// ComputePayroll produces the breakdown for one employee and period.
func (e *PayrollEngine) ComputePayroll(ctx context.Context, in PayrollInput) (PayBreakdown, error) {
	if err := validateInput(in); err != nil {
		return PayBreakdown{}, err
	}
	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		return PayBreakdown{}, err
	}
	return computePayroll(snap, in)
}

func validateInput(in PayrollInput) error {
	emp := in.Employee
	if in.PeriodDate.IsZero() {
		return fmt.Errorf("%w: period date is required", ErrInvalidInput)
	}
	if emp.BaseSalary.IsNegative() {
		return fmt.Errorf("%w: negative base salary %s for %s", ErrInvalidInput, emp.BaseSalary, emp.StaffID)
	}
	if a := emp.Attendance; a != nil {
		if a.WorkDays.IsNegative() || a.LeaveDays.IsNegative() || a.OvertimeDays.IsNegative() {
			return fmt.Errorf("%w: negative attendance days for %s", ErrInvalidInput, emp.StaffID)
		}
	}
	if in.DefaultTemplate != nil {
		return ValidateSalaryTemplate(*in.DefaultTemplate)
	}
	return nil
}

func computePayroll(snap *Snapshot, in PayrollInput) (PayBreakdown, error) {
	emp := in.Employee
	asOf := in.PeriodDate
	out := PayBreakdown{
		StaffID:       emp.StaffID,
		Period:        PayPeriodFor(asOf),
		AsOf:          asOf,
		ConfigVersion: snap.Version(),
		ContractBase:  emp.BaseSalary,
		Base:          emp.BaseSalary,
		Overtime:      decimal.Zero,
	}

	// Base proration
	if a := emp.Attendance; a != nil {
		workdays, err := snap.RuleValue(RuleMonthlyWorkdays, asOf)
		if err != nil {
			return PayBreakdown{}, err
		}
		daily, err := DailyRate(emp.BaseSalary, workdays)
		if err != nil {
			return PayBreakdown{}, err
		}
		out.Base = RoundMoney(daily.Mul(a.WorkDays))
	}

	// Template buckets
	buckets := Buckets{Subsidy: decimal.Zero, Bonus: decimal.Zero, Commission: decimal.Zero, Other: decimal.Zero}
	if t, ok := resolveTemplate(snap, emp.RankID, emp.DepartmentID, in.DefaultTemplate); ok {
		buckets = ApplyTemplate(*t, emp.BaseSalary)
		if t.ID != 0 {
			id := t.ID
			out.TemplateID = &id
		}
	}

	// Leave reduces the bonus
	if a := emp.Attendance; a != nil && a.LeaveDays.IsPositive() {
		rate, err := snap.RuleValue(RuleLeaveDeductionRate, asOf)
		if err != nil {
			return PayBreakdown{}, err
		}
		factor := maxZero(decimal.NewFromInt(1).Sub(rate.Mul(a.LeaveDays)))
		buckets.Bonus = RoundMoney(buckets.Bonus.Mul(factor))
	}
	out.Subsidy = buckets.Subsidy
	out.Bonus = buckets.Bonus
	out.Commission = buckets.Commission
	out.Other = buckets.Other

	// Overtime
	if a := emp.Attendance; a != nil {
		ot, err := overtimePay(snap, emp.BaseSalary, a.OvertimeDays, asOf)
		if err != nil {
			return PayBreakdown{}, err
		}
		out.Overtime = ot
	}

	out.Gross = out.Base.Add(buckets.Total()).Add(out.Overtime)

	// Insurance
	out.InsuranceBase = decimal.Zero
	out.InsuranceEmployeeTotal = decimal.Zero
	out.InsuranceEmployerTotal = decimal.Zero
	out.Insurance = []Contribution{}
	if !emp.ExemptFromInsurance {
		base, err := insuranceBase(snap, out)
		if err != nil {
			return PayBreakdown{}, err
		}
		contributions, err := snap.ComputeContributions(base, asOf)
		if err != nil {
			return PayBreakdown{}, err
		}
		out.InsuranceBase = base
		out.Insurance = contributions
		out.InsuranceEmployeeTotal, out.InsuranceEmployerTotal = SumContributions(contributions)
	}

	// Tax
	threshold, err := snap.RuleValue(RuleTaxThreshold, asOf)
	if err != nil {
		return PayBreakdown{}, err
	}
	out.TaxThreshold = threshold
	out.TaxableIncome = maxZero(out.Gross.Sub(out.InsuranceEmployeeTotal))
	out.Tax = decimal.Zero
	if out.TaxableIncome.GreaterThan(threshold) {
		tax, err := snap.ComputeTax(out.TaxableIncome.Sub(threshold), asOf)
		if err != nil {
			return PayBreakdown{}, err
		}
		out.Tax = tax
	}

	out.Total = out.Gross.Sub(out.InsuranceEmployeeTotal).Sub(out.Tax)
	return out, nil
}

// insuranceBase reads the insurance_base parameter; without it the base is
// the gross salary.
func insuranceBase(snap *Snapshot, b PayBreakdown) (decimal.Decimal, error) {
	p, err := snap.Parameter(ParamInsuranceBase)
	if err != nil {
		return b.Gross, nil
	}
	switch p.Value {
	case InsuranceBaseBase:
		return b.Base, nil
	case InsuranceBaseGross:
		return b.Gross, nil
	}
	return decimal.Zero, invalid(KindSystemParameter, ParamInsuranceBase, fmt.Sprintf("unsupported value %q", p.Value))
}
