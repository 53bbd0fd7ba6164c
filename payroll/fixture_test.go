package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	ctx     = context.Background()
	jan2024 = payroll.NewDate(2024, time.January, 1)
	jan2025 = payroll.NewDate(2025, time.January, 1)
	mar2024 = payroll.NewDate(2024, time.March, 31)
	admin   = payroll.Change{ChangedBy: "admin", Reason: "test setup"}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

type fixture struct {
	store   *store.Memory
	manager *payroll.ConfigManager
	cache   *payroll.SnapshotCache
}

func newFixture() *fixture {
	mem := store.NewMemory()
	return &fixture{
		store:   mem,
		manager: payroll.NewConfigManager(mem, nil),
		cache:   payroll.NewSnapshotCache(mem),
	}
}

func bracket(min, max, rate, qd string) payroll.TaxBracket {
	b := payroll.TaxBracket{MinIncome: d(min), TaxRate: d(rate), QuickDeduction: d(qd)}
	if max != "" {
		b.MaxIncome = dp(max)
	}
	return b
}

func standardBrackets() []payroll.TaxBracket {
	return []payroll.TaxBracket{
		bracket("0", "3000", "0.03", "0"),
		bracket("3000", "12000", "0.10", "210"),
		bracket("12000", "25000", "0.20", "1410"),
		bracket("25000", "35000", "0.25", "2660"),
		bracket("35000", "55000", "0.30", "4410"),
		bracket("55000", "80000", "0.35", "7160"),
		bracket("80000", "", "0.45", "15160"),
	}
}

func (f *fixture) seedBrackets(t *testing.T, effective payroll.Date) []payroll.TaxBracket {
	t.Helper()
	created, err := f.manager.CreateTaxBracketSet(ctx, effective, standardBrackets(), admin)
	require.NoError(t, err)
	return created
}

func (f *fixture) seedRate(t *testing.T, it payroll.InsuranceType, employee, employer string, effective payroll.Date) payroll.InsuranceRate {
	t.Helper()
	r, err := f.manager.CreateInsuranceRate(ctx, payroll.InsuranceRate{
		InsuranceType: it,
		EmployeeRate:  d(employee),
		EmployerRate:  d(employer),
		MinBase:       dp("3000"),
		MaxBase:       dp("25000"),
		EffectiveDate: effective,
	}, admin)
	require.NoError(t, err)
	return r
}

func (f *fixture) seedRule(t *testing.T, rt payroll.RuleType, value string, effective payroll.Date) payroll.CalculationRule {
	t.Helper()
	r, err := f.manager.CreateCalculationRule(ctx, payroll.CalculationRule{
		RuleType:      rt,
		RuleName:      string(rt),
		RuleValue:     d(value),
		EffectiveDate: effective,
	}, admin)
	require.NoError(t, err)
	return r
}

func (f *fixture) seedParameter(t *testing.T, key, value string, vt payroll.ParameterValueType) payroll.SystemParameter {
	t.Helper()
	p, err := f.manager.CreateSystemParameter(ctx, payroll.SystemParameter{
		Key:        key,
		Value:      value,
		ValueType:  vt,
		Category:   payroll.CategoryGeneral,
		IsEditable: true,
	}, admin)
	require.NoError(t, err)
	return p
}

func standardTemplate() payroll.SalaryTemplate {
	return payroll.SalaryTemplate{
		Name: "标准薪资模板",
		Items: []payroll.SalaryTemplateItem{
			{Name: "住房补贴", CalculationType: payroll.CalculationPercentage, Value: d("10"), IsAddition: true},
			{Name: "交通补贴", CalculationType: payroll.CalculationFixed, Value: d("300"), IsAddition: true},
			{Name: "绩效奖金", CalculationType: payroll.CalculationFixed, Value: d("500"), IsAddition: true},
			{Name: "餐费", CalculationType: payroll.CalculationFixed, Value: d("200"), IsAddition: true},
		},
	}
}

// seedStandard writes the 2024 schedule, six rates, six rules and the
// standard template.
func (f *fixture) seedStandard(t *testing.T) {
	t.Helper()
	f.seedBrackets(t, jan2024)
	f.seedRate(t, payroll.InsurancePension, "0.08", "0.16", jan2024)
	f.seedRate(t, payroll.InsuranceMedical, "0.02", "0.09", jan2024)
	f.seedRate(t, payroll.InsuranceUnemployment, "0.005", "0.005", jan2024)
	f.seedRate(t, payroll.InsuranceHousing, "0.12", "0.12", jan2024)
	f.seedRate(t, payroll.InsuranceInjury, "0", "0.004", jan2024)
	f.seedRate(t, payroll.InsuranceMaternity, "0", "0.008", jan2024)
	f.seedRule(t, payroll.RuleOvertime, "1.5", jan2024)
	f.seedRule(t, payroll.RuleBonusDeduction, "0.2", jan2024)
	f.seedRule(t, payroll.RuleAttendanceBase, "200", jan2024)
	f.seedRule(t, payroll.RuleTaxThreshold, "5000", jan2024)
	f.seedRule(t, payroll.RuleMonthlyWorkdays, "21.75", jan2024)
	f.seedRule(t, payroll.RuleLeaveDeductionRate, "0.2", jan2024)
	_, err := f.manager.CreateSalaryTemplate(ctx, standardTemplate())
	require.NoError(t, err)
}

func (f *fixture) history(t *testing.T, filter payroll.HistoryFilter) ([]payroll.ParameterHistory, int) {
	t.Helper()
	records, total, err := f.store.QueryHistory(ctx, filter)
	require.NoError(t, err)
	return records, total
}
