package payroll

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX BRACKET - One tier of a progressive schedule
// =============================================================================

// TaxBracket covers taxable income in [MinIncome, MaxIncome). A nil MaxIncome
// is unbounded above. All active brackets sharing an EffectiveDate form one
// schedule.
type TaxBracket struct {
	ID             int64            `json:"id"`
	MinIncome      decimal.Decimal  `json:"min_income"`
	MaxIncome      *decimal.Decimal `json:"max_income"`
	TaxRate        decimal.Decimal  `json:"tax_rate"`
	QuickDeduction decimal.Decimal  `json:"quick_deduction"`
	EffectiveDate  Date             `json:"effective_date"`
	IsActive       bool             `json:"is_active"`
	Description    string           `json:"description"`
}

func (b TaxBracket) RecordID() int64 { return b.ID }
func (b TaxBracket) EffectiveOn() Date { return b.EffectiveDate }
func (b TaxBracket) Active() bool { return b.IsActive }
func (b TaxBracket) Kind() ConfigKind { return KindTaxBracket }
func (b TaxBracket) Unbounded() bool { return b.MaxIncome == nil }

// Contains reports whether income falls in [MinIncome, MaxIncome).
func (b TaxBracket) Contains(income decimal.Decimal) bool {
	if income.LessThan(b.MinIncome) {
		return false
	}
	return b.MaxIncome == nil || income.LessThan(*b.MaxIncome)
}

// overlaps reports whether two half-open ranges intersect.
func (b TaxBracket) overlaps(o TaxBracket) bool {
	// b starts before o ends, and o starts before b ends
	bStartsBeforeOEnds := o.MaxIncome == nil || b.MinIncome.LessThan(*o.MaxIncome)
	oStartsBeforeBEnds := b.MaxIncome == nil || o.MinIncome.LessThan(*b.MaxIncome)
	return bStartsBeforeOEnds && oStartsBeforeBEnds
}

// =============================================================================
// INSURANCE RATE - Employee/employer contribution rates for one type
// =============================================================================

// InsuranceRate holds the contribution rates for one insurance type. A nil
// MinBase or MaxBase leaves that side of the contribution base unclamped.
type InsuranceRate struct {
	ID            int64            `json:"id"`
	InsuranceType InsuranceType    `json:"insurance_type"`
	EmployeeRate  decimal.Decimal  `json:"employee_rate"`
	EmployerRate  decimal.Decimal  `json:"employer_rate"`
	MinBase       *decimal.Decimal `json:"min_base"`
	MaxBase       *decimal.Decimal `json:"max_base"`
	EffectiveDate Date             `json:"effective_date"`
	IsActive      bool             `json:"is_active"`
	Description   string           `json:"description"`
}

func (r InsuranceRate) RecordID() int64 { return r.ID }
func (r InsuranceRate) EffectiveOn() Date { return r.EffectiveDate }
func (r InsuranceRate) Active() bool { return r.IsActive }
func (r InsuranceRate) Kind() ConfigKind { return KindInsuranceRate }

// ClampBase limits gross to [MinBase, MaxBase].
func (r InsuranceRate) ClampBase(gross decimal.Decimal) decimal.Decimal {
	base := gross
	if r.MinBase != nil && base.LessThan(*r.MinBase) {
		base = *r.MinBase
	}
	if r.MaxBase != nil && base.GreaterThan(*r.MaxBase) {
		base = *r.MaxBase
	}
	return base
}

// =============================================================================
// CALCULATION RULE - Named numeric rule
// =============================================================================

type CalculationRule struct {
	ID              int64           `json:"id"`
	RuleType        RuleType        `json:"rule_type"`
	RuleName        string          `json:"rule_name"`
	RuleValue       decimal.Decimal `json:"rule_value"`
	RuleDescription string          `json:"rule_description"`
	EffectiveDate   Date            `json:"effective_date"`
	IsActive        bool            `json:"is_active"`
}

func (r CalculationRule) RecordID() int64 { return r.ID }
func (r CalculationRule) EffectiveOn() Date { return r.EffectiveDate }
func (r CalculationRule) Active() bool { return r.IsActive }
func (r CalculationRule) Kind() ConfigKind { return KindCalculationRule }

// =============================================================================
// SALARY TEMPLATE - Composable salary components
// =============================================================================

// SalaryTemplateItem is one named, signed component. Value is a currency
// amount for fixed items and 0-100 for percentage items; the sign of its
// effect comes from IsAddition only.
type SalaryTemplateItem struct {
	Name            string          `json:"name"`
	CalculationType CalculationType `json:"calculation_type"`
	Value           decimal.Decimal `json:"value"`
	IsAddition      bool            `json:"is_addition"`
}

// SalaryTemplate groups items applicable to a set of ranks and departments.
// Empty RankIDs or DepartmentIDs means unrestricted on that axis.
type SalaryTemplate struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	RankIDs       []string             `json:"rank_ids"`
	DepartmentIDs []string             `json:"department_ids"`
	Items         []SalaryTemplateItem `json:"items"`
	IsActive      bool                 `json:"is_active"`
}

func (t SalaryTemplate) RecordID() int64 { return t.ID }
func (t SalaryTemplate) Kind() ConfigKind { return KindSalaryTemplate }

// Matches reports whether the template applies to an employee of the given
// rank and department.
func (t SalaryTemplate) Matches(rankID, departmentID string) bool {
	return allows(t.RankIDs, rankID) && allows(t.DepartmentIDs, departmentID)
}

func allows(set []string, id string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share slices with callers.
func (t SalaryTemplate) Clone() SalaryTemplate {
	c := t
	c.RankIDs = append([]string(nil), t.RankIDs...)
	c.DepartmentIDs = append([]string(nil), t.DepartmentIDs...)
	c.Items = append([]SalaryTemplateItem(nil), t.Items...)
	return c
}

// =============================================================================
// SYSTEM PARAMETER - Keyed, typed setting
// =============================================================================

type SystemParameter struct {
	ID          int64              `json:"id"`
	Key         string             `json:"parameter_key"`
	Value       string             `json:"parameter_value"`
	ValueType   ParameterValueType `json:"parameter_type"`
	Category    ParameterCategory  `json:"parameter_category"`
	Description string             `json:"parameter_description"`
	IsEditable  bool               `json:"is_editable"`
	IsActive    bool               `json:"is_active"`
}

func (p SystemParameter) RecordID() int64 { return p.ID }
func (p SystemParameter) Active() bool { return p.IsActive }
func (p SystemParameter) Kind() ConfigKind { return KindSystemParameter }

// =============================================================================
// LIST ORDERING - shared by every store so listings look the same everywhere
// =============================================================================

// SortTaxBrackets orders by effective date (newest first), then MinIncome.
func SortTaxBrackets(bs []TaxBracket) {
	sort.SliceStable(bs, func(i, j int) bool {
		a, b := bs[i], bs[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		if !a.MinIncome.Equal(b.MinIncome) {
			return a.MinIncome.LessThan(b.MinIncome)
		}
		return a.ID < b.ID
	})
}

// SortInsuranceRates orders by type, then effective date (newest first).
func SortInsuranceRates(rs []InsuranceRate) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.InsuranceType != b.InsuranceType {
			return a.InsuranceType < b.InsuranceType
		}
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		return a.ID > b.ID
	})
}

// SortCalculationRules orders by type, then effective date (newest first).
func SortCalculationRules(rs []CalculationRule) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.RuleType != b.RuleType {
			return a.RuleType < b.RuleType
		}
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		return a.ID > b.ID
	})
}

// SortSystemParameters orders by category, then key.
func SortSystemParameters(ps []SystemParameter) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.ID < b.ID
	})
}

// SortSalaryTemplates orders by ID, which is also resolution order.
func SortSalaryTemplates(ts []SalaryTemplate) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}
