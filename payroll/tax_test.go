package payroll_test

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
)

func TestComputeTax_StandardSchedule(t *testing.T) {
	f := newFixture()
	f.seedBrackets(t, jan2024)
	calc := payroll.NewTaxCalculator(f.cache)

	tests := []struct {
		income string
		want   string
	}{
		{"0", "0"},
		{"2000", "60"},
		{"2999.99", "90"}, // 89.9997 rounds half-up
		{"3000", "90"},    // lower bound belongs to the higher bracket
		{"5000", "290"},
		{"12000", "990"},
		{"100000", "29840"},
	}
	for _, tt := range tests {
		t.Run(tt.income, func(t *testing.T) {
			tax, err := calc.ComputeTax(ctx, d(tt.income), mar2024)
			require.NoError(t, err)
			assertMoney(t, tt.want, tax)
		})
	}
}

func TestComputeTax_NeverNegative(t *testing.T) {
	f := newFixture()
	_, err := f.manager.CreateTaxBracketSet(ctx, jan2024, []payroll.TaxBracket{
		bracket("0", "1000", "0.01", "50"),
		bracket("1000", "", "0.10", "140"),
	}, admin)
	require.NoError(t, err)

	tax, err := payroll.NewTaxCalculator(f.cache).ComputeTax(ctx, d("500"), mar2024)

	require.NoError(t, err)
	assertMoney(t, "0", tax)
}

func TestComputeTax_GapIsAnError(t *testing.T) {
	// GIVEN: Brackets written one at a time, leaving [3000, 5000) uncovered
	f := newFixture()
	low := bracket("0", "3000", "0.03", "0")
	low.EffectiveDate = jan2024
	high := bracket("5000", "", "0.10", "210")
	high.EffectiveDate = jan2024
	_, err := f.manager.CreateTaxBracket(ctx, low, admin)
	require.NoError(t, err)
	_, err = f.manager.CreateTaxBracket(ctx, high, admin)
	require.NoError(t, err)

	// WHEN: Income falls in the gap
	_, err = payroll.NewTaxCalculator(f.cache).ComputeTax(ctx, d("4000"), mar2024)

	// THEN: A gap error, never a zero tax
	require.ErrorIs(t, err, payroll.ErrConfigurationGap)
	var gap *payroll.ConfigurationGapError
	require.True(t, errors.As(err, &gap))
	assert.True(t, gap.Income.Equal(d("4000")))
	assert.True(t, gap.AsOf.Equal(mar2024))
	assert.True(t, gap.EffectiveDate.Equal(jan2024))
}

func TestComputeTax_NegativeIncome(t *testing.T) {
	f := newFixture()
	f.seedBrackets(t, jan2024)

	_, err := payroll.NewTaxCalculator(f.cache).ComputeTax(ctx, d("-1"), mar2024)

	assert.ErrorIs(t, err, payroll.ErrInvalidInput)
}

func TestComputeTax_EffectiveDating(t *testing.T) {
	// GIVEN: A 2024 schedule and a flatter 2025 schedule
	f := newFixture()
	f.seedBrackets(t, jan2024)
	_, err := f.manager.CreateTaxBracketSet(ctx, jan2025, []payroll.TaxBracket{
		bracket("0", "5000", "0.02", "0"),
		bracket("5000", "", "0.10", "400"),
	}, admin)
	require.NoError(t, err)
	calc := payroll.NewTaxCalculator(f.cache)

	// THEN: Each date sees exactly one schedule
	tax, err := calc.ComputeTax(ctx, d("2000"), payroll.NewDate(2024, 12, 31))
	require.NoError(t, err)
	assertMoney(t, "60", tax)

	tax, err = calc.ComputeTax(ctx, d("2000"), jan2025)
	require.NoError(t, err)
	assertMoney(t, "40", tax)

	_, err = calc.ComputeTax(ctx, d("2000"), payroll.NewDate(2023, 12, 31))
	assert.ErrorIs(t, err, payroll.ErrConfigurationMissing)
}

func TestComputeTaxDetail_ReportsBracket(t *testing.T) {
	f := newFixture()
	f.seedBrackets(t, jan2024)

	tax, b, err := payroll.NewTaxCalculator(f.cache).ComputeTaxDetail(ctx, d("5000"), mar2024)

	require.NoError(t, err)
	assertMoney(t, "290", tax)
	assertMoney(t, "3000", b.MinIncome)
	assertMoney(t, "0.10", b.TaxRate)
}

func TestCreateTaxBracketSet_ReplacesSchedule(t *testing.T) {
	f := newFixture()
	first := f.seedBrackets(t, jan2024)

	second, err := f.manager.CreateTaxBracketSet(ctx, jan2024, []payroll.TaxBracket{
		bracket("0", "", "0.05", "0"),
	}, admin)
	require.NoError(t, err)

	active, err := f.store.ListTaxBrackets(ctx, payroll.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second[0].ID, active[0].ID)

	// 7 creates + 7 retirements + 1 create
	_, total := f.history(t, payroll.HistoryFilter{ParameterType: payroll.KindTaxBracket})
	assert.Equal(t, 15, total)
	retired, _ := f.history(t, payroll.HistoryFilter{ParameterID: &first[0].ID})
	require.Len(t, retired, 2)
	assert.Nil(t, retired[0].NewValue)

	tax, err := payroll.NewTaxCalculator(f.cache).ComputeTax(ctx, d("2000"), mar2024)
	require.NoError(t, err)
	assertMoney(t, "100", tax)
}

func TestCreateTaxBracketSet_RejectsBadPartition(t *testing.T) {
	tests := []struct {
		name     string
		brackets []payroll.TaxBracket
	}{
		{"empty", nil},
		{"not from zero", []payroll.TaxBracket{bracket("100", "", "0.1", "0")}},
		{"gap", []payroll.TaxBracket{bracket("0", "1000", "0.1", "0"), bracket("2000", "", "0.2", "0")}},
		{"overlap", []payroll.TaxBracket{bracket("0", "3000", "0.1", "0"), bracket("2000", "", "0.2", "0")}},
		{"bounded top", []payroll.TaxBracket{bracket("0", "1000", "0.1", "0")}},
		{"rate above one", []payroll.TaxBracket{bracket("0", "", "1.5", "0")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.manager.CreateTaxBracketSet(ctx, jan2024, tt.brackets, admin)

			assert.ErrorIs(t, err, payroll.ErrInvalidConfiguration)
			_, total := f.history(t, payroll.HistoryFilter{})
			assert.Zero(t, total)
		})
	}
}

func TestCreateTaxBracket_OverlapOnlyWithinDate(t *testing.T) {
	f := newFixture()
	f.seedBrackets(t, jan2024)

	overlapping := bracket("1000", "2000", "0.05", "0")
	overlapping.EffectiveDate = jan2024
	_, err := f.manager.CreateTaxBracket(ctx, overlapping, admin)
	assert.ErrorIs(t, err, payroll.ErrInvalidConfiguration)

	overlapping.EffectiveDate = jan2025
	_, err = f.manager.CreateTaxBracket(ctx, overlapping, admin)
	assert.NoError(t, err)
}

func TestComputeTax_StaysWithinIncomeAndGrowsWithinBracket(t *testing.T) {
	// GIVEN: The standard schedule
	f := newFixture()
	f.seedBrackets(t, jan2024)
	calc := payroll.NewTaxCalculator(f.cache)
	set, err := calc.Brackets(ctx, mar2024)
	require.NoError(t, err)

	// Incomes every 250 up to 100000, plus both sides of each boundary
	var incomes []decimal.Decimal
	for i := int64(0); i <= 400; i++ {
		incomes = append(incomes, decimal.NewFromInt(i*250))
	}
	cent := d("0.01")
	for _, b := range set.Brackets {
		incomes = append(incomes, b.MinIncome, b.MinIncome.Add(cent))
		if b.MinIncome.IsPositive() {
			incomes = append(incomes, b.MinIncome.Sub(cent))
		}
	}
	sort.Slice(incomes, func(i, j int) bool { return incomes[i].LessThan(incomes[j]) })

	// WHEN/THEN: Every tax lies in [0, income] and never drops while the
	// income stays in one bracket
	var prevTax decimal.Decimal
	prevBracket := int64(-1)
	for _, income := range incomes {
		tax, b, err := calc.ComputeTaxDetail(ctx, income, mar2024)
		require.NoError(t, err, income.String())
		assert.False(t, tax.IsNegative(), "tax on %s is negative: %s", income, tax)
		assert.True(t, tax.LessThanOrEqual(income), "tax on %s exceeds it: %s", income, tax)
		if b.ID == prevBracket {
			assert.True(t, tax.GreaterThanOrEqual(prevTax), "tax fell from %s to %s at %s", prevTax, tax, income)
		}
		prevTax, prevBracket = tax, b.ID
	}
}

func TestTaxBracketWrites_CannotBreakCompleteSchedule(t *testing.T) {
	// GIVEN: The complete 2024 schedule
	f := newFixture()
	set := f.seedBrackets(t, jan2024)
	_, before := f.history(t, payroll.HistoryFilter{})

	// WHEN: Retiring the lowest bracket
	err := f.manager.DeleteTaxBracket(ctx, set[0].ID, admin)

	// THEN: The gap it would open is rejected
	require.ErrorIs(t, err, payroll.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "gap")

	// WHEN: Shrinking [0, 3000) to [0, 2000)
	shrunk := set[0]
	shrunk.MaxIncome = dp("2000")
	_, err = f.manager.UpdateTaxBracket(ctx, shrunk, admin)

	// THEN: Rejected as well
	require.ErrorIs(t, err, payroll.ErrInvalidConfiguration)

	// WHEN: Moving a middle bracket to another effective date
	moved := set[3]
	moved.EffectiveDate = jan2025
	_, err = f.manager.UpdateTaxBracket(ctx, moved, admin)

	// THEN: The schedule it leaves would break, so it is rejected
	require.ErrorIs(t, err, payroll.ErrInvalidConfiguration)

	// AND: Nothing was written and the schedule still covers every income
	_, after := f.history(t, payroll.HistoryFilter{})
	assert.Equal(t, before, after)
	tax, err := payroll.NewTaxCalculator(f.cache).ComputeTax(ctx, d("2500"), mar2024)
	require.NoError(t, err)
	assertMoney(t, "75", tax)
}

func TestTaxBracketWrites_EditsThatKeepTheSchedule(t *testing.T) {
	f := newFixture()
	set := f.seedBrackets(t, jan2024)

	// A rate change keeps the partition
	adjusted := set[1]
	adjusted.TaxRate = d("0.12")
	_, err := f.manager.UpdateTaxBracket(ctx, adjusted, admin)
	require.NoError(t, err)

	tax, err := payroll.NewTaxCalculator(f.cache).ComputeTax(ctx, d("5000"), mar2024)
	require.NoError(t, err)
	// 5000 * 12% - 210
	assertMoney(t, "390", tax)
}

func TestDeleteTaxBracketSet(t *testing.T) {
	// GIVEN: Schedules effective 2024 and 2025
	f := newFixture()
	f.seedBrackets(t, jan2024)
	f.seedBrackets(t, jan2025)

	// WHEN: Retiring the 2025 schedule
	retired, err := f.manager.DeleteTaxBracketSet(ctx, jan2025, admin)

	// THEN: Every 2025 bracket is inactive and audited
	require.NoError(t, err)
	require.Len(t, retired, 7)
	for _, b := range retired {
		assert.False(t, b.IsActive)
		assert.True(t, b.EffectiveDate.Equal(jan2025))
	}
	_, total := f.history(t, payroll.HistoryFilter{ParameterType: payroll.KindTaxBracket})
	assert.Equal(t, 21, total)

	// AND: 2025 payroll falls back to the 2024 schedule
	schedule, err := payroll.NewTaxCalculator(f.cache).Brackets(ctx, payroll.NewDate(2025, time.June, 30))
	require.NoError(t, err)
	assert.True(t, schedule.EffectiveDate.Equal(jan2024))

	// AND: There is nothing left to retire at that date
	_, err = f.manager.DeleteTaxBracketSet(ctx, jan2025, admin)
	assert.True(t, payroll.IsNotFound(err))
	_, err = f.manager.DeleteTaxBracketSet(ctx, jan2025, payroll.Change{})
	assert.ErrorIs(t, err, payroll.ErrInvalidConfiguration)
}
