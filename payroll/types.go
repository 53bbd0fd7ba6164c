/*
Package payroll provides the payroll parameter and computation engine.

PURPOSE:
  This package owns the effective-dated configuration that drives pay-slip
  computation (progressive tax brackets, social-insurance rates, named
  calculation rules, salary templates, system parameters) and the pure
  arithmetic that turns that configuration plus an employee's base salary
  into concrete pay-slip line items.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal amounts rounded half-up to the minor unit
  - ConfigKind: which configuration table a record belongs to
  - InsuranceType / RuleType / CalculationType / Bucket: closed enums

DESIGN PRINCIPLES:
  1. Immutability: computations read a Snapshot that never changes
  2. Precision: decimal.Decimal everywhere, never float64
  3. No silent defaults: a missing record is an error, not a zero
  4. Auditability: every configuration write appends a ParameterHistory

USAGE:
  cache := payroll.NewSnapshotCache(store)
  engine := payroll.NewPayrollEngine(cache)
  breakdown, err := engine.ComputePayroll(ctx, payroll.PayrollInput{
      Employee:   payroll.Employee{StaffID: "S001", BaseSalary: payroll.Money("8000")},
      PeriodDate: payroll.NewDate(2025, time.March, 31),
  })

SEE ALSO:
  - snapshot.go: Date-scoped resolution of effective configuration
  - engine.go: PayrollEngine orchestration
  - manager.go: Audited configuration writes
*/
package payroll

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts with a fixed minor unit
// =============================================================================

// MinorUnitPlaces is the number of decimal places of the currency's minor unit.
const MinorUnitPlaces = 2

var hundred = decimal.NewFromInt(100)

// Money parses a decimal literal. Invalid input yields zero, so it is meant
// for constants and tests rather than user input.
func Money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds to the minor unit, halves away from zero. Every amount
// rounded here is non-negative, where that is round-half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// RoundWhole rounds to a whole currency unit, halves away from zero.
func RoundWhole(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// maxZero clamps negative amounts to zero.
func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// CONFIGURATION KINDS
// =============================================================================

// ConfigKind identifies a configuration table. The first four are audited
// and appear as parameter_type in ParameterHistory.
type ConfigKind string

const (
	KindTaxBracket      ConfigKind = "tax_bracket"
	KindInsuranceRate   ConfigKind = "insurance_rate"
	KindCalculationRule ConfigKind = "calculation_rule"
	KindSystemParameter ConfigKind = "system_parameter"
	KindSalaryTemplate  ConfigKind = "salary_template"
)

// Audited reports whether writes of this kind produce history records.
func (k ConfigKind) Audited() bool {
	switch k {
	case KindTaxBracket, KindInsuranceRate, KindCalculationRule, KindSystemParameter:
		return true
	}
	return false
}

// =============================================================================
// INSURANCE TYPES
// =============================================================================

type InsuranceType string

const (
	InsurancePension      InsuranceType = "pension"
	InsuranceMedical      InsuranceType = "medical"
	InsuranceUnemployment InsuranceType = "unemployment"
	InsuranceHousing      InsuranceType = "housing"
	InsuranceInjury       InsuranceType = "injury"
	InsuranceMaternity    InsuranceType = "maternity"
)

// InsuranceTypes lists every insurance type in pay-slip order.
var InsuranceTypes = []InsuranceType{
	InsurancePension,
	InsuranceMedical,
	InsuranceUnemployment,
	InsuranceHousing,
	InsuranceInjury,
	InsuranceMaternity,
}

func (t InsuranceType) Valid() bool {
	for _, it := range InsuranceTypes {
		if it == t {
			return true
		}
	}
	return false
}

// =============================================================================
// CALCULATION RULE TYPES
// =============================================================================

type RuleType string

const (
	RuleOvertime           RuleType = "overtime"             // multiplier on the daily rate
	RuleBonusDeduction     RuleType = "bonus_deduction"      // fraction of the bonus withheld
	RuleAttendanceBase     RuleType = "attendance_base"      // currency
	RuleTaxThreshold       RuleType = "tax_threshold"        // currency cutoff before brackets apply
	RuleMonthlyWorkdays    RuleType = "monthly_workdays"     // day count, divisor of the monthly base
	RuleLeaveDeductionRate RuleType = "leave_deduction_rate" // fraction of the bonus per leave day
)

var RuleTypes = []RuleType{
	RuleOvertime,
	RuleBonusDeduction,
	RuleAttendanceBase,
	RuleTaxThreshold,
	RuleMonthlyWorkdays,
	RuleLeaveDeductionRate,
}

func (t RuleType) Valid() bool {
	for _, rt := range RuleTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// RuleSemantics describes how a rule's numeric value is meant to be applied.
type RuleSemantics string

const (
	SemanticsMultiplier RuleSemantics = "multiplier"
	SemanticsFraction   RuleSemantics = "fraction"
	SemanticsCurrency   RuleSemantics = "currency"
	SemanticsDayCount   RuleSemantics = "day_count"
)

// Semantics returns the documented meaning of the rule's value.
func (t RuleType) Semantics() RuleSemantics {
	switch t {
	case RuleOvertime:
		return SemanticsMultiplier
	case RuleBonusDeduction, RuleLeaveDeductionRate:
		return SemanticsFraction
	case RuleMonthlyWorkdays:
		return SemanticsDayCount
	default:
		return SemanticsCurrency
	}
}

// =============================================================================
// TEMPLATE ITEM TYPES
// =============================================================================

type CalculationType string

const (
	CalculationFixed      CalculationType = "fixed"
	CalculationPercentage CalculationType = "percentage"
)

func (c CalculationType) Valid() bool {
	return c == CalculationFixed || c == CalculationPercentage
}

// Bucket is one of the aggregate salary components a pay-slip displays.
type Bucket string

const (
	BucketSubsidy    Bucket = "subsidy"
	BucketBonus      Bucket = "bonus"
	BucketCommission Bucket = "commission"
	BucketOther      Bucket = "other"
)

// bucketKeywords is checked in order; the first group with a keyword
// contained in the item name wins.
var bucketKeywords = []struct {
	bucket   Bucket
	keywords []string
}{
	{BucketSubsidy, []string{"补贴", "津贴"}},
	{BucketBonus, []string{"绩效", "奖金"}},
	{BucketCommission, []string{"提成", "佣金"}},
}

// ClassifyItem maps a template item name onto a bucket by case-insensitive
// substring match. Names matching no keyword group land in BucketOther.
func ClassifyItem(name string) Bucket {
	lower := strings.ToLower(name)
	for _, group := range bucketKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return group.bucket
			}
		}
	}
	return BucketOther
}

// =============================================================================
// SYSTEM PARAMETER TYPES
// =============================================================================

type ParameterValueType string

const (
	ParamString  ParameterValueType = "string"
	ParamNumber  ParameterValueType = "number"
	ParamBoolean ParameterValueType = "boolean"
	ParamJSON    ParameterValueType = "json"
)

type ParameterCategory string

const (
	CategoryGeneral    ParameterCategory = "general"
	CategorySalary     ParameterCategory = "salary"
	CategoryTax        ParameterCategory = "tax"
	CategoryInsurance  ParameterCategory = "insurance"
	CategoryAttendance ParameterCategory = "attendance"
)

func (c ParameterCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategorySalary, CategoryTax, CategoryInsurance, CategoryAttendance:
		return true
	}
	return false
}

// ParamInsuranceBase selects the contribution base: "gross" or "base".
const ParamInsuranceBase = "insurance_base"

const (
	InsuranceBaseGross = "gross"
	InsuranceBaseBase  = "base"
)
