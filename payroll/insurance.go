package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INSURANCE CALCULATOR - Capped-base contributions
// =============================================================================

// Contribution is one insurance type's share of a pay-slip.
type Contribution struct {
	InsuranceType  InsuranceType   `json:"insurance_type"`
	RateID         int64           `json:"rate_id"`
	Base           decimal.Decimal `json:"base"`
	EmployeeAmount decimal.Decimal `json:"employee_amount"`
	EmployerAmount decimal.Decimal `json:"employer_amount"`
}

// Contribute applies the rate to grossBase after clamping it to
// [MinBase, MaxBase].
func (r InsuranceRate) Contribute(grossBase decimal.Decimal) Contribution {
	base := r.ClampBase(grossBase)
	return Contribution{
		InsuranceType:  r.InsuranceType,
		RateID:         r.ID,
		Base:           base,
		EmployeeAmount: RoundMoney(base.Mul(r.EmployeeRate)),
		EmployerAmount: RoundMoney(base.Mul(r.EmployerRate)),
	}
}

// ComputeContribution resolves the rate for t as of asOf and applies it.
func (s *Snapshot) ComputeContribution(t InsuranceType, grossBase decimal.Decimal, asOf Date) (Contribution, error) {
	if !t.Valid() {
		return Contribution{}, fmt.Errorf("%w: unknown insurance type %q", ErrInvalidInput, t)
	}
	if grossBase.IsNegative() {
		return Contribution{}, fmt.Errorf("%w: negative contribution base %s", ErrInvalidInput, grossBase)
	}
	rate, err := s.ResolveInsuranceRate(t, asOf)
	if err != nil {
		return Contribution{}, err
	}
	return rate.Contribute(grossBase), nil
}

// ComputeContributions runs every insurance type in InsuranceTypes order.
// Any missing rate fails the whole call.
func (s *Snapshot) ComputeContributions(grossBase decimal.Decimal, asOf Date) ([]Contribution, error) {
	out := make([]Contribution, 0, len(InsuranceTypes))
	for _, t := range InsuranceTypes {
		c, err := s.ComputeContribution(t, grossBase, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SumContributions returns the employee and employer totals.
func SumContributions(cs []Contribution) (employee, employer decimal.Decimal) {
	employee, employer = decimal.Zero, decimal.Zero
	for _, c := range cs {
		employee = employee.Add(c.EmployeeAmount)
		employer = employer.Add(c.EmployerAmount)
	}
	return employee, employer
}

type InsuranceCalculator struct {
	snapshots SnapshotProvider
}

func NewInsuranceCalculator(snapshots SnapshotProvider) *InsuranceCalculator {
	return &InsuranceCalculator{snapshots: snapshots}
}

// ComputeContribution returns the employee and employer amounts for one
// insurance type.
func (c *InsuranceCalculator) ComputeContribution(ctx context.Context, t InsuranceType, grossBase decimal.Decimal, asOf Date) (Contribution, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return Contribution{}, err
	}
	return snap.ComputeContribution(t, grossBase, asOf)
}

// ComputeAll returns contributions for all six insurance types.
func (c *InsuranceCalculator) ComputeAll(ctx context.Context, grossBase decimal.Decimal, asOf Date) ([]Contribution, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ComputeContributions(grossBase, asOf)
}
