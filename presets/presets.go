/*
Package presets provides ready-made payroll configuration.

PURPOSE:
  Standard configuration for a monthly payroll: a seven-tier progressive
  bracket schedule, the six social-insurance rates, the calculation rules
  the engine reads, a handful of system parameters and salary templates.
  These are starting points; real deployments edit them through the API.

AVAILABLE PRESETS:
  StandardTaxSchedule:   seven brackets, 3% to 45%, with quick deductions
  StandardInsuranceRates: pension, medical, unemployment, housing, injury, maternity
  StandardRules:         overtime 1.5x, threshold 5000, 21.75 workdays, ...
  DefaultParameters:     insurance_base, currency, payday, ...
  StandardTemplates:     sales, management, and an unrestricted default
  StandardBundle:        all of the above as one factory.Bundle

SEE ALSO:
  - scenarios.go: Named demo scenarios
  - factory/bundle.go: Bundle schema and Apply
*/
package presets

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// =============================================================================
// TAX
// =============================================================================

// StandardTaxSchedule returns the monthly progressive schedule, applied to
// income above the tax threshold.
func StandardTaxSchedule(effective payroll.Date) factory.TaxScheduleDoc {
	return factory.TaxScheduleDoc{
		EffectiveDate: effective,
		Brackets: []factory.BracketDoc{
			{MinIncome: d("0"), MaxIncome: dp("3000"), TaxRate: d("0.03"), QuickDeduction: d("0"), Description: "3%"},
			{MinIncome: d("3000"), MaxIncome: dp("12000"), TaxRate: d("0.10"), QuickDeduction: d("210"), Description: "10%"},
			{MinIncome: d("12000"), MaxIncome: dp("25000"), TaxRate: d("0.20"), QuickDeduction: d("1410"), Description: "20%"},
			{MinIncome: d("25000"), MaxIncome: dp("35000"), TaxRate: d("0.25"), QuickDeduction: d("2660"), Description: "25%"},
			{MinIncome: d("35000"), MaxIncome: dp("55000"), TaxRate: d("0.30"), QuickDeduction: d("4410"), Description: "30%"},
			{MinIncome: d("55000"), MaxIncome: dp("80000"), TaxRate: d("0.35"), QuickDeduction: d("7160"), Description: "35%"},
			{MinIncome: d("80000"), TaxRate: d("0.45"), QuickDeduction: d("15160"), Description: "45%"},
		},
	}
}

// =============================================================================
// INSURANCE
// =============================================================================

// StandardInsuranceRates returns the six contribution rates with a common
// 3000-25000 base range.
func StandardInsuranceRates(effective payroll.Date) []factory.RateDoc {
	rate := func(t payroll.InsuranceType, employee, employer, desc string) factory.RateDoc {
		return factory.RateDoc{
			InsuranceType: t,
			EmployeeRate:  d(employee),
			EmployerRate:  d(employer),
			MinBase:       dp("3000"),
			MaxBase:       dp("25000"),
			EffectiveDate: effective,
			Description:   desc,
		}
	}
	return []factory.RateDoc{
		rate(payroll.InsurancePension, "0.08", "0.16", "养老保险"),
		rate(payroll.InsuranceMedical, "0.02", "0.09", "医疗保险"),
		rate(payroll.InsuranceUnemployment, "0.005", "0.005", "失业保险"),
		rate(payroll.InsuranceHousing, "0.12", "0.12", "住房公积金"),
		rate(payroll.InsuranceInjury, "0", "0.004", "工伤保险"),
		rate(payroll.InsuranceMaternity, "0", "0.008", "生育保险"),
	}
}

// =============================================================================
// RULES AND PARAMETERS
// =============================================================================

func StandardRules(effective payroll.Date) []factory.RuleDoc {
	rule := func(t payroll.RuleType, name, value, desc string) factory.RuleDoc {
		return factory.RuleDoc{RuleType: t, RuleName: name, RuleValue: d(value), Description: desc, EffectiveDate: effective}
	}
	return []factory.RuleDoc{
		rule(payroll.RuleOvertime, "加班倍数", "1.5", "overtime pay = daily rate x multiplier x days"),
		rule(payroll.RuleBonusDeduction, "奖金扣除比例", "0.2", "fraction of bonus withheld on disciplinary deduction"),
		rule(payroll.RuleAttendanceBase, "全勤奖", "200", "full attendance award"),
		rule(payroll.RuleTaxThreshold, "个税起征点", "5000", "monthly income below which no tax is due"),
		rule(payroll.RuleMonthlyWorkdays, "月计薪天数", "21.75", "divisor for the daily rate"),
		rule(payroll.RuleLeaveDeductionRate, "请假扣奖比例", "0.2", "bonus fraction lost per leave day"),
	}
}

func DefaultParameters() []factory.ParameterDoc {
	return []factory.ParameterDoc{
		{Key: payroll.ParamInsuranceBase, Value: payroll.InsuranceBaseGross, ValueType: payroll.ParamString,
			Category: payroll.CategoryInsurance, Description: "contribution base: gross or base"},
		{Key: "currency", Value: "CNY", ValueType: payroll.ParamString,
			Category: payroll.CategoryGeneral, Description: "pay-slip currency", ReadOnly: true},
		{Key: "payday", Value: "10", ValueType: payroll.ParamNumber,
			Category: payroll.CategorySalary, Description: "day of month salaries are paid"},
		{Key: "overtime_requires_approval", Value: "true", ValueType: payroll.ParamBoolean,
			Category: payroll.CategoryAttendance, Description: "overtime days need manager approval"},
		{Key: "payslip_layout", Value: `{"show_employer_contributions":true,"decimals":2}`, ValueType: payroll.ParamJSON,
			Category: payroll.CategorySalary, Description: "pay-slip rendering options"},
	}
}

// =============================================================================
// TEMPLATES
// =============================================================================

// StandardTemplates lists restricted templates first so they win resolution
// over the unrestricted default.
func StandardTemplates() []factory.TemplateDoc {
	fixed := func(name, value string, add bool) factory.ItemDoc {
		return factory.ItemDoc{Name: name, CalculationType: payroll.CalculationFixed, Value: d(value), IsAddition: add}
	}
	pct := func(name, value string, add bool) factory.ItemDoc {
		return factory.ItemDoc{Name: name, CalculationType: payroll.CalculationPercentage, Value: d(value), IsAddition: add}
	}
	return []factory.TemplateDoc{
		{
			Name:          "销售岗位模板",
			Description:   "sales staff: commission on base",
			DepartmentIDs: []string{"sales"},
			Items: []factory.ItemDoc{
				pct("销售提成", "5", true),
				fixed("通讯津贴", "200", true),
				fixed("交通补贴", "300", true),
			},
		},
		{
			Name:        "管理岗位模板",
			Description: "managers: performance bonus",
			RankIDs:     []string{"M1", "M2"},
			Items: []factory.ItemDoc{
				pct("住房补贴", "10", true),
				pct("绩效奖金", "20", true),
				fixed("管理津贴", "1000", true),
			},
		},
		{
			Name:        "标准薪资模板",
			Description: "default for everyone else",
			Items: []factory.ItemDoc{
				pct("住房补贴", "10", true),
				fixed("交通补贴", "300", true),
				fixed("绩效奖金", "500", true),
				fixed("餐费", "200", true),
			},
		},
	}
}

// StandardBundle is the complete standard configuration effective from
// effective.
func StandardBundle(name string, effective payroll.Date) *factory.Bundle {
	return &factory.Bundle{
		Name:             name,
		Description:      "standard monthly payroll configuration",
		ChangedBy:        "system",
		Reason:           "initial configuration",
		TaxSchedules:     []factory.TaxScheduleDoc{StandardTaxSchedule(effective)},
		InsuranceRates:   StandardInsuranceRates(effective),
		CalculationRules: StandardRules(effective),
		SystemParameters: DefaultParameters(),
		SalaryTemplates:  StandardTemplates(),
	}
}
