package payroll

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE METADATA
// =============================================================================

// Change identifies who made an audited write and why. Both are required.
type Change struct {
	ChangedBy string `json:"changed_by"`
	Reason    string `json:"change_reason"`
}

func (c Change) Validate(kind ConfigKind) error {
	if strings.TrimSpace(c.ChangedBy) == "" {
		return invalid(kind, "changed_by", "is required")
	}
	if strings.TrimSpace(c.Reason) == "" {
		return invalid(kind, "change_reason", "is required")
	}
	return nil
}

// =============================================================================
// FIELD CHECKS
// =============================================================================

func isFraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}

// ValidateTaxBracket checks one bracket's own fields.
func ValidateTaxBracket(b TaxBracket) error {
	switch {
	case b.MinIncome.IsNegative():
		return invalid(KindTaxBracket, "min_income", "must be >= 0")
	case b.MaxIncome != nil && !b.MaxIncome.GreaterThan(b.MinIncome):
		return invalid(KindTaxBracket, "max_income", "must be greater than min_income")
	case !isFraction(b.TaxRate):
		return invalid(KindTaxBracket, "tax_rate", "must be between 0 and 1")
	case b.QuickDeduction.IsNegative():
		return invalid(KindTaxBracket, "quick_deduction", "must be >= 0")
	case b.EffectiveDate.IsZero():
		return invalid(KindTaxBracket, "effective_date", "is required")
	}
	return nil
}

// CheckBracketOverlap rejects b if its range intersects any active bracket
// of the same effective date. Brackets with b's id are skipped.
func CheckBracketOverlap(b TaxBracket, existing []TaxBracket) error {
	if !b.IsActive {
		return nil
	}
	for _, o := range existing {
		if o.ID == b.ID || !o.IsActive || !o.EffectiveDate.Equal(b.EffectiveDate) {
			continue
		}
		if b.overlaps(o) {
			return invalid(KindTaxBracket, "", fmt.Sprintf("range %s overlaps bracket %d (%s) effective %s",
				rangeString(b), o.ID, rangeString(o), b.EffectiveDate))
		}
	}
	return nil
}

func rangeString(b TaxBracket) string {
	if b.MaxIncome == nil {
		return fmt.Sprintf("[%s, inf)", b.MinIncome)
	}
	return fmt.Sprintf("[%s, %s)", b.MinIncome, b.MaxIncome)
}

// ValidateBracketPartition checks that brackets form one schedule covering
// [0, inf) without gaps or overlaps.
func ValidateBracketPartition(brackets []TaxBracket) error {
	if len(brackets) == 0 {
		return invalid(KindTaxBracket, "", "schedule has no brackets")
	}
	date := brackets[0].EffectiveDate
	sorted := make([]TaxBracket, len(brackets))
	copy(sorted, brackets)
	for i := range sorted {
		if err := ValidateTaxBracket(sorted[i]); err != nil {
			return err
		}
		if !sorted[i].EffectiveDate.Equal(date) {
			return invalid(KindTaxBracket, "effective_date", "must be the same for every bracket of a schedule")
		}
	}
	sortBracketsByMin(sorted)

	next := decimal.Zero
	for i, b := range sorted {
		if !b.MinIncome.Equal(next) {
			if b.MinIncome.GreaterThan(next) {
				return invalid(KindTaxBracket, "", fmt.Sprintf("gap between %s and %s", next, b.MinIncome))
			}
			return invalid(KindTaxBracket, "", fmt.Sprintf("bracket %s overlaps the previous bracket", rangeString(b)))
		}
		if b.MaxIncome == nil {
			if i != len(sorted)-1 {
				return invalid(KindTaxBracket, "", fmt.Sprintf("unbounded bracket %s must be the last", rangeString(b)))
			}
			return nil
		}
		next = *b.MaxIncome
	}
	return invalid(KindTaxBracket, "", fmt.Sprintf("schedule ends at %s; the last bracket must be unbounded", next))
}

// CheckScheduleKept rejects a single-bracket write that turns the complete
// schedule effective on date into an incomplete one. before and after are
// the active brackets around the write. Schedules that were incomplete
// before may stay so while they are being built.
func CheckScheduleKept(date Date, before, after []TaxBracket) error {
	was := bracketsOn(before, date)
	if len(was) == 0 || ValidateBracketPartition(was) != nil {
		return nil
	}
	err := ValidateBracketPartition(bracketsOn(after, date))
	if err == nil {
		return nil
	}
	reason := err.Error()
	var ic *InvalidConfigurationError
	if errors.As(err, &ic) {
		reason = ic.Reason
	}
	return invalid(KindTaxBracket, "", fmt.Sprintf(
		"change would break the schedule effective %s (%s); replace the whole schedule instead", date, reason))
}

func bracketsOn(bs []TaxBracket, date Date) []TaxBracket {
	var out []TaxBracket
	for _, b := range bs {
		if b.IsActive && b.EffectiveDate.Equal(date) {
			out = append(out, b)
		}
	}
	return out
}

func sortBracketsByMin(bs []TaxBracket) {
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].MinIncome.LessThan(bs[j].MinIncome) })
}

// ValidateInsuranceRate checks one rate's own fields.
func ValidateInsuranceRate(r InsuranceRate) error {
	switch {
	case !r.InsuranceType.Valid():
		return invalid(KindInsuranceRate, "insurance_type", fmt.Sprintf("%q is not a known insurance type", r.InsuranceType))
	case !isFraction(r.EmployeeRate):
		return invalid(KindInsuranceRate, "employee_rate", "must be between 0 and 1")
	case !isFraction(r.EmployerRate):
		return invalid(KindInsuranceRate, "employer_rate", "must be between 0 and 1")
	case r.MinBase != nil && r.MinBase.IsNegative():
		return invalid(KindInsuranceRate, "min_base", "must be >= 0")
	case r.MaxBase != nil && r.MaxBase.IsNegative():
		return invalid(KindInsuranceRate, "max_base", "must be >= 0")
	case r.MinBase != nil && r.MaxBase != nil && r.MinBase.GreaterThan(*r.MaxBase):
		return invalid(KindInsuranceRate, "min_base", "must not exceed max_base")
	case r.EffectiveDate.IsZero():
		return invalid(KindInsuranceRate, "effective_date", "is required")
	}
	return nil
}

// CheckRateUnique rejects r if another active rate has the same type and
// effective date.
func CheckRateUnique(r InsuranceRate, existing []InsuranceRate) error {
	if !r.IsActive {
		return nil
	}
	for _, o := range existing {
		if o.ID != r.ID && o.IsActive && o.InsuranceType == r.InsuranceType && o.EffectiveDate.Equal(r.EffectiveDate) {
			return invalid(KindInsuranceRate, "", fmt.Sprintf("an active %s rate effective %s already exists (id %d)",
				r.InsuranceType, r.EffectiveDate, o.ID))
		}
	}
	return nil
}

// ValidateCalculationRule checks a rule's value against its semantics.
func ValidateCalculationRule(r CalculationRule) error {
	if !r.RuleType.Valid() {
		return invalid(KindCalculationRule, "rule_type", fmt.Sprintf("%q is not a known rule type", r.RuleType))
	}
	if strings.TrimSpace(r.RuleName) == "" {
		return invalid(KindCalculationRule, "rule_name", "is required")
	}
	if r.EffectiveDate.IsZero() {
		return invalid(KindCalculationRule, "effective_date", "is required")
	}
	if r.RuleValue.IsNegative() {
		return invalid(KindCalculationRule, "rule_value", "must be >= 0")
	}
	switch r.RuleType.Semantics() {
	case SemanticsFraction:
		if !isFraction(r.RuleValue) {
			return invalid(KindCalculationRule, "rule_value", "must be between 0 and 1")
		}
	case SemanticsDayCount:
		if !r.RuleValue.IsPositive() {
			return invalid(KindCalculationRule, "rule_value", "must be greater than 0")
		}
	}
	return nil
}

// CheckRuleUnique rejects r if another active rule has the same type and
// effective date.
func CheckRuleUnique(r CalculationRule, existing []CalculationRule) error {
	if !r.IsActive {
		return nil
	}
	for _, o := range existing {
		if o.ID != r.ID && o.IsActive && o.RuleType == r.RuleType && o.EffectiveDate.Equal(r.EffectiveDate) {
			return invalid(KindCalculationRule, "", fmt.Sprintf("an active %s rule effective %s already exists (id %d)",
				r.RuleType, r.EffectiveDate, o.ID))
		}
	}
	return nil
}

// ValidateSystemParameter checks key, type, category and that the value
// parses per its type.
func ValidateSystemParameter(p SystemParameter) error {
	if strings.TrimSpace(p.Key) == "" {
		return invalid(KindSystemParameter, "parameter_key", "is required")
	}
	if !p.Category.Valid() {
		return invalid(KindSystemParameter, "parameter_category", fmt.Sprintf("%q is not a known category", p.Category))
	}
	if err := parseParameterValue(p.ValueType, p.Value); err != nil {
		return invalid(KindSystemParameter, "parameter_value", err.Error())
	}
	if p.Key == ParamInsuranceBase && p.Value != InsuranceBaseGross && p.Value != InsuranceBaseBase {
		return invalid(KindSystemParameter, "parameter_value",
			fmt.Sprintf("must be %q or %q", InsuranceBaseGross, InsuranceBaseBase))
	}
	return nil
}

// CheckParameterKeyUnique rejects p if another active parameter has its key.
func CheckParameterKeyUnique(p SystemParameter, existing []SystemParameter) error {
	if !p.IsActive {
		return nil
	}
	for _, o := range existing {
		if o.ID != p.ID && o.IsActive && o.Key == p.Key {
			return invalid(KindSystemParameter, "parameter_key", fmt.Sprintf("%q already exists (id %d)", p.Key, o.ID))
		}
	}
	return nil
}

// ValidateSalaryTemplate checks a template is usable.
func ValidateSalaryTemplate(t SalaryTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid(KindSalaryTemplate, "name", "is required")
	}
	if len(t.Items) == 0 {
		return invalid(KindSalaryTemplate, "items", "must not be empty")
	}
	for i, item := range t.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case strings.TrimSpace(item.Name) == "":
			return invalid(KindSalaryTemplate, field+".name", "is required")
		case !item.CalculationType.Valid():
			return invalid(KindSalaryTemplate, field+".calculation_type", fmt.Sprintf("%q is not fixed or percentage", item.CalculationType))
		case item.Value.IsNegative():
			return invalid(KindSalaryTemplate, field+".value", "must be >= 0")
		case item.CalculationType == CalculationPercentage && item.Value.GreaterThan(hundred):
			return invalid(KindSalaryTemplate, field+".value", "must be between 0 and 100")
		}
	}
	return nil
}
