package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

var ctx = context.Background()

func overtimeRule() payroll.CalculationRule {
	return payroll.CalculationRule{
		RuleType:      payroll.RuleOvertime,
		RuleName:      "加班倍数",
		RuleValue:     decimal.RequireFromString("1.5"),
		EffectiveDate: payroll.NewDate(2024, time.January, 1),
		IsActive:      true,
	}
}

func TestMemory_ConfigVersionDuringOpenTx(t *testing.T) {
	// GIVEN: A transaction that holds the write lock
	mem := store.NewMemory()
	inTx := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- mem.WithTx(ctx, func(tx payroll.ConfigStore) error {
			if _, err := tx.InsertCalculationRule(ctx, overtimeRule()); err != nil {
				return err
			}
			close(inTx)
			<-release
			return nil
		})
	}()
	<-inTx

	// WHEN/THEN: The version is readable without waiting for it
	got := make(chan int64, 1)
	go func() {
		v, _ := mem.ConfigVersion(ctx)
		got <- v
	}()
	select {
	case v := <-got:
		assert.Zero(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("ConfigVersion blocked on an open transaction")
	}

	close(release)
	require.NoError(t, <-done)
	v, err := mem.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	mem := store.NewMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(tx payroll.ConfigStore) error {
		if _, err := tx.InsertCalculationRule(ctx, overtimeRule()); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	rules, err := mem.ListCalculationRules(ctx, payroll.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
	v, err := mem.ConfigVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
}
