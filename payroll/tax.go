package payroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX CALCULATOR - Progressive bracket tax
// =============================================================================

// Tax computes tax for income against this schedule:
// max(0, income * tax_rate - quick_deduction), rounded to the minor unit.
func (s TaxBracketSet) Tax(income decimal.Decimal) (decimal.Decimal, TaxBracket, error) {
	if income.IsNegative() {
		return decimal.Zero, TaxBracket{}, fmt.Errorf("%w: negative taxable income %s", ErrInvalidInput, income)
	}
	b, ok := s.Find(income)
	if !ok {
		return decimal.Zero, TaxBracket{}, &ConfigurationGapError{Income: income, EffectiveDate: s.EffectiveDate}
	}
	tax := income.Mul(b.TaxRate).Sub(b.QuickDeduction)
	return RoundMoney(maxZero(tax)), b, nil
}

// ComputeTax resolves the schedule effective as of asOf and applies it.
func (s *Snapshot) ComputeTax(income decimal.Decimal, asOf Date) (decimal.Decimal, error) {
	tax, _, err := s.taxDetail(income, asOf)
	return tax, err
}

func (s *Snapshot) taxDetail(income decimal.Decimal, asOf Date) (decimal.Decimal, TaxBracket, error) {
	set, err := s.ResolveTaxBrackets(asOf)
	if err != nil {
		return decimal.Zero, TaxBracket{}, err
	}
	tax, b, err := set.Tax(income)
	var gap *ConfigurationGapError
	if errors.As(err, &gap) {
		gap.AsOf = asOf
	}
	return tax, b, err
}

// TaxCalculator computes tax against the current configuration.
type TaxCalculator struct {
	snapshots SnapshotProvider
}

func NewTaxCalculator(snapshots SnapshotProvider) *TaxCalculator {
	return &TaxCalculator{snapshots: snapshots}
}

// ComputeTax returns the tax on taxableIncome under the schedule effective
// as of asOf.
func (c *TaxCalculator) ComputeTax(ctx context.Context, taxableIncome decimal.Decimal, asOf Date) (decimal.Decimal, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.ComputeTax(taxableIncome, asOf)
}

// ComputeTaxDetail is ComputeTax plus the bracket that was applied.
func (c *TaxCalculator) ComputeTaxDetail(ctx context.Context, taxableIncome decimal.Decimal, asOf Date) (decimal.Decimal, TaxBracket, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return decimal.Zero, TaxBracket{}, err
	}
	return snap.taxDetail(taxableIncome, asOf)
}

// Brackets returns the schedule effective as of asOf, for display.
func (c *TaxCalculator) Brackets(ctx context.Context, asOf Date) (TaxBracketSet, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return TaxBracketSet{}, err
	}
	return snap.ResolveTaxBrackets(asOf)
}
