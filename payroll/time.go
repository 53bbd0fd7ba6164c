package payroll

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date (effective dates, pay periods)
// =============================================================================

const dateLayout = "2006-01-02"

// Date is a calendar day in UTC. Configuration is effective from the start of
// its effective date; there is no intra-day resolution.
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool { return d.normalize().After(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool { return !d.Before(other) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic

// Properties
func (d Date) Year() int { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int { return d.Time.Day() }
func (d Date) IsZero() bool { return d.Time.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dateLayout)
}

// MarshalText encodes the date as YYYY-MM-DD for JSON and YAML.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// PAY PERIOD - One calendar month
// =============================================================================

// PayPeriod is the calendar month a payroll computation belongs to.
type PayPeriod struct {
	Start Date
	End   Date
}

// PayPeriodFor returns the month containing d.
func PayPeriodFor(d Date) PayPeriod {
	return PayPeriod{
		Start: StartOfMonth(d.Year(), d.Month()),
		End:   EndOfMonth(d.Year(), d.Month()),
	}
}

// Contains returns true if d is within [Start, End].
func (p PayPeriod) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// String returns the period as YYYY-MM.
func (p PayPeriod) String() string {
	return p.Start.Time.Format("2006-01")
}

func (p PayPeriod) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PayPeriod) UnmarshalText(b []byte) error {
	t, err := time.Parse("2006-01", string(b))
	if err != nil {
		return fmt.Errorf("invalid pay period %q (use YYYY-MM): %w", b, err)
	}
	*p = PayPeriodFor(DateOf(t))
	return nil
}

func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }
func EndOfMonth(year int, month time.Month) Date {
	return DateOf(time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1))
}
