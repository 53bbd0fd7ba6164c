package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
)

var (
	ctx     = context.Background()
	jan2024 = payroll.NewDate(2024, time.January, 1)
	admin   = payroll.Change{ChangedBy: "admin", Reason: "test"}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func TestStore_InsuranceRateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	manager := payroll.NewConfigManager(s, nil)

	created, err := manager.CreateInsuranceRate(ctx, payroll.InsuranceRate{
		InsuranceType: payroll.InsuranceUnemployment,
		EmployeeRate:  dec("0.005"),
		EmployerRate:  dec("0.005"),
		MinBase:       decp("3000.50"),
		EffectiveDate: jan2024,
		Description:   "失业保险",
	}, admin)
	require.NoError(t, err)

	got, err := s.GetInsuranceRate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.InsuranceUnemployment, got.InsuranceType)
	assert.True(t, dec("0.005").Equal(got.EmployeeRate))
	require.NotNil(t, got.MinBase)
	assert.Equal(t, "3000.5", got.MinBase.String())
	assert.Nil(t, got.MaxBase)
	assert.True(t, got.EffectiveDate.Equal(jan2024))
	assert.True(t, got.IsActive)
	assert.Equal(t, "失业保险", got.Description)

	_, err = s.GetInsuranceRate(ctx, 999)
	assert.True(t, payroll.IsNotFound(err))
}

func TestStore_ListFilters(t *testing.T) {
	s := newTestStore(t)
	manager := payroll.NewConfigManager(s, nil)
	for _, rt := range []payroll.RuleType{payroll.RuleOvertime, payroll.RuleTaxThreshold} {
		_, err := manager.CreateCalculationRule(ctx, payroll.CalculationRule{
			RuleType: rt, RuleName: string(rt), RuleValue: dec("2"), EffectiveDate: jan2024,
		}, admin)
		require.NoError(t, err)
	}
	rules, err := s.ListCalculationRules(ctx, payroll.ListFilter{Key: string(payroll.RuleOvertime)})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.NoError(t, manager.DeleteCalculationRule(ctx, rules[0].ID, admin))

	all, err := s.ListCalculationRules(ctx, payroll.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListCalculationRules(ctx, payroll.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, payroll.RuleTaxThreshold, active[0].RuleType)
}

func TestStore_SalaryTemplates(t *testing.T) {
	s := newTestStore(t)
	manager := payroll.NewConfigManager(s, nil)
	tmpl := payroll.SalaryTemplate{
		Name:          "销售模板",
		DepartmentIDs: []string{"sales"},
		Items: []payroll.SalaryTemplateItem{
			{Name: "销售提成", CalculationType: payroll.CalculationPercentage, Value: dec("5"), IsAddition: true},
			{Name: "交通补贴", CalculationType: payroll.CalculationFixed, Value: dec("300"), IsAddition: true},
			{Name: "考核扣款", CalculationType: payroll.CalculationFixed, Value: dec("100"), IsAddition: false},
		},
	}

	created, err := manager.CreateSalaryTemplate(ctx, tmpl)
	require.NoError(t, err)

	got, err := s.GetSalaryTemplate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, got.DepartmentIDs)
	assert.Empty(t, got.RankIDs)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "销售提成", got.Items[0].Name)
	assert.Equal(t, "考核扣款", got.Items[2].Name)
	assert.False(t, got.Items[2].IsAddition)

	// Name filter is a case-insensitive substring
	found, err := s.ListSalaryTemplates(ctx, payroll.ListFilter{Key: "销售"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	found, err = s.ListSalaryTemplates(ctx, payroll.ListFilter{Key: "other"})
	require.NoError(t, err)
	assert.Empty(t, found)

	// Update replaces the items
	got.Items = got.Items[1:2]
	_, err = manager.UpdateSalaryTemplate(ctx, got)
	require.NoError(t, err)
	got, err = s.GetSalaryTemplate(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "交通补贴", got.Items[0].Name)

	// Hard delete removes the items too
	require.NoError(t, manager.DeleteSalaryTemplate(ctx, created.ID))
	var items int
	require.NoError(t, s.db.GetContext(ctx, &items, `SELECT COUNT(*) FROM salary_template_items`))
	assert.Zero(t, items)
}

func TestStore_HistoryIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	manager := payroll.NewConfigManager(s, nil)
	p, err := manager.CreateSystemParameter(ctx, payroll.SystemParameter{
		Key: "payday", Value: "10", ValueType: payroll.ParamNumber,
		Category: payroll.CategoryGeneral, IsEditable: true,
	}, admin)
	require.NoError(t, err)
	_, err = manager.SetParameterValue(ctx, "payday", "15", payroll.Change{ChangedBy: "hr", Reason: "new policy"})
	require.NoError(t, err)

	records, total, err := s.QueryHistory(ctx, payroll.HistoryFilter{ParameterID: &p.ID})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, "hr", records[0].ChangedBy)
	require.NotNil(t, records[0].OldValue)
	assert.Equal(t, "10", records[0].OldValue.SystemParameter.Value)
	assert.Equal(t, "15", records[0].NewValue.SystemParameter.Value)
	assert.Nil(t, records[1].OldValue)

	page, total, err := s.QueryHistory(ctx, payroll.HistoryFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, records[1].HistoryID, page[0].HistoryID)

	_, err = s.db.ExecContext(ctx, `UPDATE parameter_history SET changed_by = 'mallory'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.ExecContext(ctx, `DELETE FROM parameter_history`)
	assert.ErrorContains(t, err, "append-only")
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	before, err := s.ConfigVersion(ctx)
	require.NoError(t, err)
	boom := errors.New("boom")

	err = s.WithTx(ctx, func(tx payroll.ConfigStore) error {
		if _, err := tx.InsertCalculationRule(ctx, payroll.CalculationRule{
			RuleType: payroll.RuleOvertime, RuleName: "x", RuleValue: dec("1.5"), EffectiveDate: jan2024, IsActive: true,
		}); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	rules, err := s.ListCalculationRules(ctx, payroll.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
	after, err := s.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_VersionAndConfigSet(t *testing.T) {
	s := newTestStore(t)
	manager := payroll.NewConfigManager(s, nil)
	v0, err := s.ConfigVersion(ctx)
	require.NoError(t, err)

	_, err = manager.CreateTaxBracketSet(ctx, jan2024, []payroll.TaxBracket{
		{MinIncome: dec("0"), MaxIncome: decp("3000"), TaxRate: dec("0.03")},
		{MinIncome: dec("3000"), TaxRate: dec("0.1"), QuickDeduction: dec("210")},
	}, admin)
	require.NoError(t, err)
	_, err = manager.CreateSalaryTemplate(ctx, payroll.SalaryTemplate{
		Name:  "t",
		Items: []payroll.SalaryTemplateItem{{Name: "餐费", CalculationType: payroll.CalculationFixed, Value: dec("200"), IsAddition: true}},
	})
	require.NoError(t, err)

	set, err := s.LoadConfigSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, v0+2, set.Version)
	assert.Len(t, set.TaxBrackets, 2)
	require.Len(t, set.SalaryTemplates, 1)
	assert.Len(t, set.SalaryTemplates[0].Items, 1)

	// A snapshot built from the store computes tax like any other
	snap := payroll.NewSnapshot(set)
	tax, err := snap.ComputeTax(dec("5000"), jan2024)
	require.NoError(t, err)
	assert.True(t, dec("290").Equal(tax), tax.String())
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	manager := payroll.NewConfigManager(s, nil)
	_, err := manager.CreateCalculationRule(ctx, payroll.CalculationRule{
		RuleType: payroll.RuleTaxThreshold, RuleName: "起征点", RuleValue: dec("5000"), EffectiveDate: jan2024,
	}, admin)
	require.NoError(t, err)
	before, err := s.ConfigVersion(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	rules, err := s.ListCalculationRules(ctx, payroll.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
	_, total, err := s.QueryHistory(ctx, payroll.HistoryFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	after, err := s.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)

	// The schema is usable again
	_, err = manager.CreateCalculationRule(ctx, payroll.CalculationRule{
		RuleType: payroll.RuleTaxThreshold, RuleName: "起征点", RuleValue: dec("5000"), EffectiveDate: jan2024,
	}, admin)
	require.NoError(t, err)
}

func TestStore_ConfigVersionDuringOpenTx(t *testing.T) {
	// GIVEN: A transaction holding the only connection
	s := newTestStore(t)
	v0, err := s.ConfigVersion(ctx)
	require.NoError(t, err)
	inTx := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx payroll.ConfigStore) error {
			if _, err := tx.InsertCalculationRule(ctx, payroll.CalculationRule{
				RuleType: payroll.RuleOvertime, RuleName: "x", RuleValue: dec("1.5"), EffectiveDate: jan2024, IsActive: true,
			}); err != nil {
				return err
			}
			close(inTx)
			<-release
			return nil
		})
	}()
	<-inTx

	// WHEN: Reading the version while it is open
	got := make(chan int64, 1)
	go func() {
		v, _ := s.ConfigVersion(ctx)
		got <- v
	}()

	// THEN: The read returns at once with the last committed version
	select {
	case v := <-got:
		assert.Equal(t, v0, v)
	case <-time.After(2 * time.Second):
		t.Fatal("ConfigVersion blocked on an open transaction")
	}

	// AND: Commit publishes the next version
	close(release)
	require.NoError(t, <-done)
	v1, err := s.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v0+1, v1)
}

func TestStore_VersionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payroll.db")
	s, err := New(path)
	require.NoError(t, err)
	manager := payroll.NewConfigManager(s, nil)
	_, err = manager.CreateCalculationRule(ctx, payroll.CalculationRule{
		RuleType: payroll.RuleTaxThreshold, RuleName: "起征点", RuleValue: dec("5000"), EffectiveDate: jan2024,
	}, admin)
	require.NoError(t, err)
	want, err := s.ConfigVersion(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	got, err := reopened.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Positive(t, got)
}
