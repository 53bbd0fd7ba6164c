package payroll_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
)

func employee(base string) payroll.Employee {
	return payroll.Employee{StaffID: "S001", BaseSalary: d(base)}
}

func compute(t *testing.T, f *fixture, in payroll.PayrollInput) payroll.PayBreakdown {
	t.Helper()
	p, err := payroll.NewPayrollEngine(f.cache).ComputePayroll(ctx, in)
	require.NoError(t, err)
	return p
}

func TestComputePayroll_Standard(t *testing.T) {
	// GIVEN: The standard configuration
	f := newFixture()
	f.seedStandard(t)

	// WHEN: Computing an 8000 base for March 2024
	p := compute(t, f, payroll.PayrollInput{Employee: employee("8000"), PeriodDate: mar2024})

	// THEN: Buckets, insurance and tax combine into the net pay
	assertMoney(t, "8000", p.Base)
	assertMoney(t, "1100", p.Subsidy)
	assertMoney(t, "500", p.Bonus)
	assertMoney(t, "200", p.Other)
	assertMoney(t, "0", p.Overtime)
	assertMoney(t, "9800", p.Gross)
	assertMoney(t, "9800", p.InsuranceBase)
	assertMoney(t, "2205", p.InsuranceEmployeeTotal)
	assertMoney(t, "3792.6", p.InsuranceEmployerTotal)
	assertMoney(t, "7595", p.TaxableIncome)
	assertMoney(t, "5000", p.TaxThreshold)
	assertMoney(t, "77.85", p.Tax)
	assertMoney(t, "7517.15", p.Total)
	assert.Equal(t, "2024-03", p.Period.String())
	assert.Equal(t, "S001", p.StaffID)
	require.NotNil(t, p.TemplateID)
	require.Len(t, p.Insurance, 6)

	pension, ok := p.Contribution(payroll.InsurancePension)
	require.True(t, ok)
	assertMoney(t, "784", pension.EmployeeAmount)
	assertMoney(t, "1568", pension.EmployerAmount)
}

func TestComputePayroll_InsuranceOnBase(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	f.seedParameter(t, payroll.ParamInsuranceBase, payroll.InsuranceBaseBase, payroll.ParamString)

	p := compute(t, f, payroll.PayrollInput{Employee: employee("8000"), PeriodDate: mar2024})

	assertMoney(t, "8000", p.InsuranceBase)
	assertMoney(t, "1800", p.InsuranceEmployeeTotal)
	// (9800 - 1800 - 5000) * 10% - 210
	assertMoney(t, "90", p.Tax)
	assertMoney(t, "7910", p.Total)
}

func TestComputePayroll_ExemptFromInsurance(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	emp := employee("8000")
	emp.ExemptFromInsurance = true

	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})

	assert.Empty(t, p.Insurance)
	assertMoney(t, "0", p.InsuranceEmployeeTotal)
	assertMoney(t, "270", p.Tax)
	assertMoney(t, "9530", p.Total)
}

func TestComputePayroll_BelowThreshold(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	emp := employee("3000")
	emp.ExemptFromInsurance = true

	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})

	// 3000 + 600 subsidy + 500 bonus + 200 other
	assertMoney(t, "4300", p.Gross)
	assertMoney(t, "0", p.Tax)
	assertMoney(t, "4300", p.Total)
}

func TestComputePayroll_Attendance(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	emp := employee("8700")
	emp.ExemptFromInsurance = true
	emp.Attendance = &payroll.Attendance{WorkDays: d("20"), LeaveDays: d("1"), OvertimeDays: d("2")}

	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})

	assertMoney(t, "8700", p.ContractBase)
	// 8700 / 21.75 = 400 per day
	assertMoney(t, "8000", p.Base)
	// percentage items use the contract base: 870 + 300
	assertMoney(t, "1170", p.Subsidy)
	// 500 * (1 - 0.2)
	assertMoney(t, "400", p.Bonus)
	// 400 * 1.5 * 2
	assertMoney(t, "1200", p.Overtime)
	assertMoney(t, "10970", p.Gross)
}

func TestComputePayroll_LeaveNeverMakesBonusNegative(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	emp := employee("8700")
	emp.ExemptFromInsurance = true
	emp.Attendance = &payroll.Attendance{WorkDays: d("10"), LeaveDays: d("8")}

	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})

	assertMoney(t, "0", p.Bonus)
}

func TestComputePayroll_ResolvesRulesLazily(t *testing.T) {
	// GIVEN: Only brackets and the threshold, no attendance rules
	f := newFixture()
	f.seedBrackets(t, jan2024)
	f.seedRule(t, payroll.RuleTaxThreshold, "5000", jan2024)
	emp := employee("8000")
	emp.ExemptFromInsurance = true

	// WHEN: No attendance is given
	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})

	// THEN: monthly_workdays is never needed, and no template means zero buckets
	assertMoney(t, "8000", p.Gross)
	assert.Nil(t, p.TemplateID)
	// (8000 - 5000) * 10% - 210
	assertMoney(t, "90", p.Tax)

	// WHEN: Attendance is given
	emp.Attendance = &payroll.Attendance{WorkDays: d("20")}
	_, err := payroll.NewPayrollEngine(f.cache).ComputePayroll(ctx, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})

	// THEN: The missing rule aborts the computation
	require.ErrorIs(t, err, payroll.ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "monthly_workdays")
}

func TestComputePayroll_DefaultTemplate(t *testing.T) {
	f := newFixture()
	f.seedBrackets(t, jan2024)
	f.seedRule(t, payroll.RuleTaxThreshold, "5000", jan2024)
	emp := employee("8000")
	emp.ExemptFromInsurance = true
	def := payroll.SalaryTemplate{Name: "默认", Items: []payroll.SalaryTemplateItem{
		item("交通补贴", payroll.CalculationFixed, "300", true),
	}}

	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024, DefaultTemplate: &def})

	assertMoney(t, "300", p.Subsidy)
	assert.Nil(t, p.TemplateID)

	// An applicable stored template wins over the default
	stored, err := f.manager.CreateSalaryTemplate(ctx, standardTemplate())
	require.NoError(t, err)
	p = compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024, DefaultTemplate: &def})
	require.NotNil(t, p.TemplateID)
	assert.Equal(t, stored.ID, *p.TemplateID)
	assertMoney(t, "1100", p.Subsidy)
}

func TestComputePayroll_TemplateByDepartment(t *testing.T) {
	f := newFixture()
	f.seedBrackets(t, jan2024)
	f.seedRule(t, payroll.RuleTaxThreshold, "5000", jan2024)
	_, err := f.manager.CreateSalaryTemplate(ctx, payroll.SalaryTemplate{
		Name:          "销售模板",
		DepartmentIDs: []string{"sales"},
		Items:         []payroll.SalaryTemplateItem{item("销售提成", payroll.CalculationPercentage, "5", true)},
	})
	require.NoError(t, err)
	emp := employee("10000")
	emp.ExemptFromInsurance = true

	emp.DepartmentID = "sales"
	p := compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})
	assertMoney(t, "500", p.Commission)

	emp.DepartmentID = "hr"
	p = compute(t, f, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})
	assertMoney(t, "0", p.Commission)
	assert.Nil(t, p.TemplateID)
}

func TestComputePayroll_MissingConfigurationAborts(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, f *fixture)
		mention string
	}{
		{"no threshold", func(t *testing.T, f *fixture) {
			rules, err := f.store.ListCalculationRules(ctx, payroll.ListFilter{Key: string(payroll.RuleTaxThreshold)})
			require.NoError(t, err)
			require.NoError(t, f.manager.DeleteCalculationRule(ctx, rules[0].ID, admin))
		}, "tax_threshold"},
		{"no medical rate", func(t *testing.T, f *fixture) {
			rates, err := f.store.ListInsuranceRates(ctx, payroll.ListFilter{Key: string(payroll.InsuranceMedical)})
			require.NoError(t, err)
			require.NoError(t, f.manager.DeleteInsuranceRate(ctx, rates[0].ID, admin))
		}, "medical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seedStandard(t)
			tt.mutate(t, f)

			p, err := payroll.NewPayrollEngine(f.cache).ComputePayroll(ctx, payroll.PayrollInput{Employee: employee("8000"), PeriodDate: mar2024})

			require.ErrorIs(t, err, payroll.ErrConfigurationMissing)
			assert.Contains(t, err.Error(), tt.mention)
			assert.True(t, p.Total.IsZero(), "no partial breakdown")
		})
	}
}

func TestComputePayroll_BeforeAnyConfiguration(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)

	_, err := payroll.NewPayrollEngine(f.cache).ComputePayroll(ctx, payroll.PayrollInput{
		Employee:   employee("8000"),
		PeriodDate: payroll.NewDate(2023, 12, 31),
	})

	assert.True(t, payroll.IsComputationError(err))
}

func TestComputePayroll_InvalidInput(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	engine := payroll.NewPayrollEngine(f.cache)

	_, err := engine.ComputePayroll(ctx, payroll.PayrollInput{Employee: employee("-1"), PeriodDate: mar2024})
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	_, err = engine.ComputePayroll(ctx, payroll.PayrollInput{Employee: employee("8000")})
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	emp := employee("8000")
	emp.Attendance = &payroll.Attendance{WorkDays: d("-2")}
	_, err = engine.ComputePayroll(ctx, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024})
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)
}

func TestComputePayroll_RejectsInvalidDefaultTemplate(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	engine := payroll.NewPayrollEngine(f.cache)
	emp := employee("8000")
	emp.DepartmentID = "nowhere"

	tests := []struct {
		name string
		tmpl payroll.SalaryTemplate
	}{
		{"no items", payroll.SalaryTemplate{Name: "默认"}},
		{"negative value", payroll.SalaryTemplate{Name: "默认", Items: []payroll.SalaryTemplateItem{
			item("交通补贴", payroll.CalculationFixed, "-300", true),
		}}},
		{"percentage over 100", payroll.SalaryTemplate{Name: "默认", Items: []payroll.SalaryTemplateItem{
			item("住房补贴", payroll.CalculationPercentage, "150", true),
		}}},
		{"unnamed item", payroll.SalaryTemplate{Name: "默认", Items: []payroll.SalaryTemplateItem{
			item(" ", payroll.CalculationFixed, "300", true),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := tt.tmpl
			_, err := engine.ComputePayroll(ctx, payroll.PayrollInput{Employee: emp, PeriodDate: mar2024, DefaultTemplate: &tmpl})
			assert.ErrorIs(t, err, payroll.ErrInvalidConfiguration)
			assert.True(t, payroll.IsClientError(err))
		})
	}
}

func TestComputePayroll_RecordsConfigVersion(t *testing.T) {
	f := newFixture()
	f.seedStandard(t)
	snap, err := f.cache.Current(ctx)
	require.NoError(t, err)

	p := compute(t, f, payroll.PayrollInput{Employee: employee("8000"), PeriodDate: mar2024})
	assert.Equal(t, snap.Version(), p.ConfigVersion)

	f.seedParameter(t, "payday", "10", payroll.ParamNumber)
	p = compute(t, f, payroll.PayrollInput{Employee: employee("8000"), PeriodDate: mar2024})
	assert.Greater(t, p.ConfigVersion, snap.Version())
}

func TestComputePayroll_FixedSnapshot(t *testing.T) {
	// A Snapshot is itself a provider, so a computation can be pinned to
	// one configuration version.
	f := newFixture()
	f.seedStandard(t)
	pinned, err := f.cache.Current(ctx)
	require.NoError(t, err)
	f.seedParameter(t, payroll.ParamInsuranceBase, payroll.InsuranceBaseBase, payroll.ParamString)

	p, err := payroll.NewPayrollEngine(pinned).ComputePayroll(ctx, payroll.PayrollInput{Employee: employee("8000"), PeriodDate: mar2024})

	require.NoError(t, err)
	assertMoney(t, "7517.15", p.Total)
}
