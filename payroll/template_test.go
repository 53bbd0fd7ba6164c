package payroll_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
)

func item(name string, ct payroll.CalculationType, value string, addition bool) payroll.SalaryTemplateItem {
	return payroll.SalaryTemplateItem{Name: name, CalculationType: ct, Value: d(value), IsAddition: addition}
}

func TestClassifyItem(t *testing.T) {
	tests := []struct {
		name string
		want payroll.Bucket
	}{
		{"住房补贴", payroll.BucketSubsidy},
		{"通讯津贴", payroll.BucketSubsidy},
		{"绩效奖金", payroll.BucketBonus},
		{"年终奖金", payroll.BucketBonus},
		{"销售提成", payroll.BucketCommission},
		{"渠道佣金", payroll.BucketCommission},
		{"餐费", payroll.BucketOther},
		{"考核扣款", payroll.BucketOther},
		{"", payroll.BucketOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payroll.ClassifyItem(tt.name))
		})
	}
}

func TestItemAmount(t *testing.T) {
	pct := item("住房补贴", payroll.CalculationPercentage, "10", true)
	assertMoney(t, "800", payroll.ItemAmount(pct, d("8000")))
	// 800.5 rounds half-up to a whole unit
	assertMoney(t, "801", payroll.ItemAmount(pct, d("8005")))

	fixed := item("交通补贴", payroll.CalculationFixed, "300", true)
	assertMoney(t, "300", payroll.ItemAmount(fixed, d("8000")))

	deduction := item("考核扣款", payroll.CalculationFixed, "150", false)
	assertMoney(t, "-150", payroll.ItemAmount(deduction, d("8000")))
}

func TestApplyTemplate_Buckets(t *testing.T) {
	tmpl := standardTemplate()

	b := payroll.ApplyTemplate(tmpl, d("8000"))

	assertMoney(t, "1100", b.Subsidy)
	assertMoney(t, "500", b.Bonus)
	assertMoney(t, "0", b.Commission)
	assertMoney(t, "200", b.Other)
	assertMoney(t, "1800", b.Total())
}

func TestApplyTemplate_BucketsClampAtZero(t *testing.T) {
	tmpl := payroll.SalaryTemplate{Name: "扣款", Items: []payroll.SalaryTemplateItem{
		item("餐费", payroll.CalculationFixed, "200", true),
		item("考核扣款", payroll.CalculationFixed, "500", false),
		item("绩效奖金", payroll.CalculationFixed, "300", true),
	}}

	b := payroll.ApplyTemplate(tmpl, d("8000"))

	assertMoney(t, "0", b.Other, "deduction larger than the bucket")
	assertMoney(t, "300", b.Bonus, "other buckets unaffected")
}

func TestApplyTemplate_OrderIndependent(t *testing.T) {
	tmpl := standardTemplate()
	tmpl.Items = append(tmpl.Items, item("考核扣款", payroll.CalculationFixed, "250", false))
	reversed := tmpl.Clone()
	for i, j := 0, len(reversed.Items)-1; i < j; i, j = i+1, j-1 {
		reversed.Items[i], reversed.Items[j] = reversed.Items[j], reversed.Items[i]
	}

	a := payroll.ApplyTemplate(tmpl, d("8000"))
	b := payroll.ApplyTemplate(reversed, d("8000"))

	assertMoney(t, a.Subsidy.String(), b.Subsidy)
	assertMoney(t, a.Bonus.String(), b.Bonus)
	assertMoney(t, a.Commission.String(), b.Commission)
	assertMoney(t, a.Other.String(), b.Other)
}

func TestTemplateComposer_Apply(t *testing.T) {
	composer := payroll.NewTemplateComposer(newFixture().cache)

	_, err := composer.Apply(payroll.SalaryTemplate{Name: "empty"}, d("8000"))
	assert.ErrorIs(t, err, payroll.ErrInvalidConfiguration)

	_, err = composer.Apply(payroll.SalaryTemplate{Name: "negative", Items: []payroll.SalaryTemplateItem{
		item("考核扣款", payroll.CalculationFixed, "-50", false),
	}}, d("8000"))
	assert.ErrorIs(t, err, payroll.ErrInvalidConfiguration)

	_, err = composer.Apply(standardTemplate(), d("-1"))
	assert.ErrorIs(t, err, payroll.ErrInvalidInput)

	b, err := composer.Apply(standardTemplate(), d("0"))
	require.NoError(t, err)
	assertMoney(t, "300", b.Subsidy, "only the fixed subsidy")
}

func TestTemplateComposer_ApplicableAndApplyByID(t *testing.T) {
	// GIVEN: A sales-only template and an unrestricted one
	f := newFixture()
	sales, err := f.manager.CreateSalaryTemplate(ctx, payroll.SalaryTemplate{
		Name:          "销售模板",
		DepartmentIDs: []string{"sales"},
		Items:         []payroll.SalaryTemplateItem{item("销售提成", payroll.CalculationPercentage, "5", true)},
	})
	require.NoError(t, err)
	general, err := f.manager.CreateSalaryTemplate(ctx, standardTemplate())
	require.NoError(t, err)
	composer := payroll.NewTemplateComposer(f.cache)

	// THEN: Sales staff see both, in id order; others see only the general one
	ts, err := composer.Applicable(ctx, "", "sales")
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, sales.ID, ts[0].ID)

	ts, err = composer.Applicable(ctx, "", "engineering")
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, general.ID, ts[0].ID)

	got, b, err := composer.ApplyByID(ctx, sales.ID, d("10000"))
	require.NoError(t, err)
	assert.Equal(t, "销售模板", got.Name)
	assertMoney(t, "500", b.Commission)

	// AND: An inactive template is not resolvable
	_, err = f.manager.SetTemplateActive(ctx, sales.ID, false)
	require.NoError(t, err)
	_, _, err = composer.ApplyByID(ctx, sales.ID, d("10000"))
	assert.ErrorIs(t, err, payroll.ErrConfigurationMissing)
}

func TestSalaryTemplate_Matches(t *testing.T) {
	tmpl := payroll.SalaryTemplate{RankIDs: []string{"P5", "P6"}, DepartmentIDs: []string{"sales"}}

	assert.True(t, tmpl.Matches("P5", "sales"))
	assert.False(t, tmpl.Matches("P7", "sales"))
	assert.False(t, tmpl.Matches("P5", "hr"))
	assert.True(t, payroll.SalaryTemplate{}.Matches("", ""))
}
