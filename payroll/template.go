package payroll

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TEMPLATE COMPOSER - Salary template items into pay-slip buckets
// =============================================================================

// Buckets are the four aggregate salary components of a pay-slip.
type Buckets struct {
	Subsidy    decimal.Decimal `json:"subsidy"`
	Bonus      decimal.Decimal `json:"bonus"`
	Commission decimal.Decimal `json:"commission"`
	Other      decimal.Decimal `json:"other"`
}

func (b *Buckets) add(bucket Bucket, amount decimal.Decimal) {
	switch bucket {
	case BucketSubsidy:
		b.Subsidy = b.Subsidy.Add(amount)
	case BucketBonus:
		b.Bonus = b.Bonus.Add(amount)
	case BucketCommission:
		b.Commission = b.Commission.Add(amount)
	default:
		b.Other = b.Other.Add(amount)
	}
}

func (b *Buckets) clamp() {
	b.Subsidy = maxZero(b.Subsidy)
	b.Bonus = maxZero(b.Bonus)
	b.Commission = maxZero(b.Commission)
	b.Other = maxZero(b.Other)
}

// Total is the sum of all buckets.
func (b Buckets) Total() decimal.Decimal {
	return b.Subsidy.Add(b.Bonus).Add(b.Commission).Add(b.Other)
}

// ItemAmount is the signed effect of one item on its bucket. Percentage
// items are rounded to a whole currency unit.
func ItemAmount(item SalaryTemplateItem, baseSalary decimal.Decimal) decimal.Decimal {
	raw := item.Value
	if item.CalculationType == CalculationPercentage {
		raw = RoundWhole(baseSalary.Mul(item.Value).Div(hundred))
	}
	if !item.IsAddition {
		return raw.Neg()
	}
	return raw
}

// ApplyTemplate classifies every item into a bucket, sums signed amounts
// per bucket and clamps each bucket at zero. Item order does not matter.
func ApplyTemplate(t SalaryTemplate, baseSalary decimal.Decimal) Buckets {
	b := Buckets{
		Subsidy:    decimal.Zero,
		Bonus:      decimal.Zero,
		Commission: decimal.Zero,
		Other:      decimal.Zero,
	}
	for _, item := range t.Items {
		b.add(ClassifyItem(item.Name), ItemAmount(item, baseSalary))
	}
	b.clamp()
	return b
}

// TemplateComposer applies salary templates to base salaries.
type TemplateComposer struct {
	snapshots SnapshotProvider
}

func NewTemplateComposer(snapshots SnapshotProvider) *TemplateComposer {
	return &TemplateComposer{snapshots: snapshots}
}

// Apply composes buckets from a template the caller already holds. The
// template gets the same checks as a stored one.
func (c *TemplateComposer) Apply(t SalaryTemplate, baseSalary decimal.Decimal) (Buckets, error) {
	if err := ValidateSalaryTemplate(t); err != nil {
		return Buckets{}, err
	}
	if baseSalary.IsNegative() {
		return Buckets{}, fmt.Errorf("%w: negative base salary %s", ErrInvalidInput, baseSalary)
	}
	return ApplyTemplate(t, baseSalary), nil
}

// ApplyByID looks the template up among active templates and applies it.
func (c *TemplateComposer) ApplyByID(ctx context.Context, id int64, baseSalary decimal.Decimal) (SalaryTemplate, Buckets, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return SalaryTemplate{}, Buckets{}, err
	}
	t, err := snap.Template(id)
	if err != nil {
		return SalaryTemplate{}, Buckets{}, err
	}
	b, err := c.Apply(t, baseSalary)
	return t, b, err
}

// Applicable lists active templates whose rank and department constraints
// admit the employee.
func (c *TemplateComposer) Applicable(ctx context.Context, rankID, departmentID string) ([]SalaryTemplate, error) {
	snap, err := c.snapshots.Current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ApplicableTemplates(rankID, departmentID), nil
}

// resolveTemplate picks the first applicable template, else def.
func resolveTemplate(snap *Snapshot, rankID, departmentID string, def *SalaryTemplate) (*SalaryTemplate, bool) {
	if ts := snap.ApplicableTemplates(rankID, departmentID); len(ts) > 0 {
		return &ts[0], true
	}
	if def != nil {
		t := def.Clone()
		return &t, true
	}
	return nil, false
}
