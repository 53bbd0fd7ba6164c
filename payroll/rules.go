package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE EVALUATOR - Typed access to calculation rules
// =============================================================================

// RuleValue returns the value of the rule of type t effective as of asOf.
func (s *Snapshot) RuleValue(t RuleType, asOf Date) (decimal.Decimal, error) {
	if !t.Valid() {
		return decimal.Zero, fmt.Errorf("%w: unknown rule type %q", ErrInvalidInput, t)
	}
	r, err := s.ResolveRule(t, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return r.RuleValue, nil
}

// DailyRate divides a monthly amount by a workday count.
func DailyRate(monthly, workdays decimal.Decimal) (decimal.Decimal, error) {
	if !workdays.IsPositive() {
		return decimal.Zero, &ArithmeticError{Op: "daily rate", Reason: "monthly_workdays is " + workdays.String()}
	}
	return monthly.DivRound(workdays, 8), nil
}

// RuleEvaluator exposes calculation rules to callers outside the engine
// (attendance screens, overtime approval).
type RuleEvaluator struct {
	snapshots SnapshotProvider
}

func NewRuleEvaluator(snapshots SnapshotProvider) *RuleEvaluator {
	return &RuleEvaluator{snapshots: snapshots}
}

// GetRuleValue returns the numeric value of a rule; its meaning is given by
// RuleType.Semantics.
func (e *RuleEvaluator) GetRuleValue(ctx context.Context, t RuleType, asOf Date) (decimal.Decimal, error) {
	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.RuleValue(t, asOf)
}

// GetRule returns the full rule record, for display.
func (e *RuleEvaluator) GetRule(ctx context.Context, t RuleType, asOf Date) (CalculationRule, error) {
	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		return CalculationRule{}, err
	}
	return snap.ResolveRule(t, asOf)
}

// DailyRate derives a per-day rate from a monthly amount using the
// monthly_workdays rule.
func (e *RuleEvaluator) DailyRate(ctx context.Context, monthly decimal.Decimal, asOf Date) (decimal.Decimal, error) {
	days, err := e.GetRuleValue(ctx, RuleMonthlyWorkdays, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return DailyRate(monthly, days)
}

// OvertimePay is daily rate * overtime multiplier * days, rounded.
func (e *RuleEvaluator) OvertimePay(ctx context.Context, monthly, days decimal.Decimal, asOf Date) (decimal.Decimal, error) {
	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return overtimePay(snap, monthly, days, asOf)
}

func overtimePay(snap *Snapshot, monthly, days decimal.Decimal, asOf Date) (decimal.Decimal, error) {
	if !days.IsPositive() {
		return decimal.Zero, nil
	}
	workdays, err := snap.RuleValue(RuleMonthlyWorkdays, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	daily, err := DailyRate(monthly, workdays)
	if err != nil {
		return decimal.Zero, err
	}
	multiplier, err := snap.RuleValue(RuleOvertime, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(daily.Mul(multiplier).Mul(days)), nil
}

// Parameter returns an active system parameter by key.
func (e *RuleEvaluator) Parameter(ctx context.Context, key string) (SystemParameter, error) {
	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		return SystemParameter{}, err
	}
	return snap.Parameter(key)
}
