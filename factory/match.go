package factory

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// Natural-key lookups and field comparisons used by Apply. Ids and
// activity are not compared, nor parameter editability, which updates keep.

func bracketsOn(bs []payroll.TaxBracket, date payroll.Date) []payroll.TaxBracket {
	var out []payroll.TaxBracket
	for _, b := range bs {
		if b.EffectiveDate.Equal(date) {
			out = append(out, b)
		}
	}
	return out
}

func findRate(rs []payroll.InsuranceRate, t payroll.InsuranceType, date payroll.Date) (payroll.InsuranceRate, bool) {
	for _, r := range rs {
		if r.InsuranceType == t && r.EffectiveDate.Equal(date) {
			return r, true
		}
	}
	return payroll.InsuranceRate{}, false
}

func findRule(rs []payroll.CalculationRule, t payroll.RuleType, date payroll.Date) (payroll.CalculationRule, bool) {
	for _, r := range rs {
		if r.RuleType == t && r.EffectiveDate.Equal(date) {
			return r, true
		}
	}
	return payroll.CalculationRule{}, false
}

func findParameter(ps []payroll.SystemParameter, key string) (payroll.SystemParameter, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p, true
		}
	}
	return payroll.SystemParameter{}, false
}

func findTemplate(ts []payroll.SalaryTemplate, name string) (payroll.SalaryTemplate, bool) {
	for _, t := range ts {
		if t.Name == name {
			return t, true
		}
	}
	return payroll.SalaryTemplate{}, false
}

func sameOptional(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameSchedule(cur, want []payroll.TaxBracket) bool {
	if len(cur) != len(want) {
		return false
	}
	a := append([]payroll.TaxBracket(nil), cur...)
	b := append([]payroll.TaxBracket(nil), want...)
	byMin := func(bs []payroll.TaxBracket) func(i, j int) bool {
		return func(i, j int) bool { return bs[i].MinIncome.LessThan(bs[j].MinIncome) }
	}
	sort.Slice(a, byMin(a))
	sort.Slice(b, byMin(b))
	for i := range a {
		if !a[i].MinIncome.Equal(b[i].MinIncome) ||
			!sameOptional(a[i].MaxIncome, b[i].MaxIncome) ||
			!a[i].TaxRate.Equal(b[i].TaxRate) ||
			!a[i].QuickDeduction.Equal(b[i].QuickDeduction) ||
			a[i].Description != b[i].Description {
			return false
		}
	}
	return true
}

func sameRate(a, b payroll.InsuranceRate) bool {
	return a.EmployeeRate.Equal(b.EmployeeRate) &&
		a.EmployerRate.Equal(b.EmployerRate) &&
		sameOptional(a.MinBase, b.MinBase) &&
		sameOptional(a.MaxBase, b.MaxBase) &&
		a.Description == b.Description
}

func sameRule(a, b payroll.CalculationRule) bool {
	return a.RuleName == b.RuleName &&
		a.RuleValue.Equal(b.RuleValue) &&
		a.RuleDescription == b.RuleDescription
}

func sameParameter(a, b payroll.SystemParameter) bool {
	return a.Value == b.Value &&
		a.ValueType == b.ValueType &&
		a.Category == b.Category &&
		a.Description == b.Description
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameTemplate(a, b payroll.SalaryTemplate) bool {
	if a.Description != b.Description ||
		!sameStrings(a.RankIDs, b.RankIDs) ||
		!sameStrings(a.DepartmentIDs, b.DepartmentIDs) ||
		len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		x, y := a.Items[i], b.Items[i]
		if x.Name != y.Name || x.CalculationType != y.CalculationType ||
			!x.Value.Equal(y.Value) || x.IsAddition != y.IsAddition {
			return false
		}
	}
	return true
}
