/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can branch with
  errors.Is and still reach the details with errors.As.

ERROR CATEGORIES:
  1. Resolution errors - no effective record, bracket gap
  2. Validation errors - write-time configuration checks
  3. Arithmetic errors - impossible computations (zero divisor)
  4. Store errors      - missing ids

NONE OF THESE ARE DEFAULTED:
  The engine never substitutes zero or a previous value when one of these
  occurs; the whole computation fails and the caller decides what to show.

SEE ALSO:
  - snapshot.go: Produces ConfigurationMissingError
  - tax.go: Produces ConfigurationGapError
  - validate.go: Produces InvalidConfigurationError
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfigurationMissing is returned when no active record resolves for
	// a kind/key/date.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrConfigurationGap is returned when the effective bracket schedule
	// does not cover an income. This is a data integrity defect.
	ErrConfigurationGap = errors.New("configuration gap")

	// ErrInvalidConfiguration is returned when a configuration write fails
	// validation. The store is left untouched.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrArithmetic is returned for computations that cannot be carried out,
	// e.g. dividing by a zero monthly_workdays rule.
	ErrArithmetic = errors.New("arithmetic error")

	// ErrRecordNotFound is returned when a record id does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when computation input is malformed
	// (negative salary, negative income).
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationMissingError names what could not be resolved.
type ConfigurationMissingError struct {
	Kind ConfigKind
	Key  string
	AsOf Date
}

func (e *ConfigurationMissingError) Error() string {
	if e.AsOf.IsZero() {
		return fmt.Sprintf("configuration missing: no active %s for %q", e.Kind, e.Key)
	}
	return fmt.Sprintf("configuration missing: no active %s for %q as of %s", e.Kind, e.Key, e.AsOf)
}

func (e *ConfigurationMissingError) Unwrap() error { return ErrConfigurationMissing }

// ConfigurationGapError reports an income no bracket covers.
type ConfigurationGapError struct {
	Income        decimal.Decimal
	AsOf          Date
	EffectiveDate Date // effective date of the schedule that was searched
}

func (e *ConfigurationGapError) Error() string {
	return fmt.Sprintf("configuration gap: no tax bracket covers income %s (schedule effective %s, as of %s)",
		e.Income, e.EffectiveDate, e.AsOf)
}

func (e *ConfigurationGapError) Unwrap() error { return ErrConfigurationGap }

// InvalidConfigurationError describes a failed write-time check.
type InvalidConfigurationError struct {
	Kind   ConfigKind
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *InvalidConfigurationError) Unwrap() error { return ErrInvalidConfiguration }

func invalid(kind ConfigKind, field, reason string) error {
	return &InvalidConfigurationError{Kind: kind, Field: field, Reason: reason}
}

// ArithmeticError describes a computation that cannot be performed.
type ArithmeticError struct {
	Op     string
	Reason string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s: %s", e.Op, e.Reason)
}

func (e *ArithmeticError) Unwrap() error { return ErrArithmetic }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind ConfigKind
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrRecordNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsComputationError returns true for errors that abort a computation
// because the configuration cannot support it.
func IsComputationError(err error) bool {
	return errors.Is(err, ErrConfigurationMissing) ||
		errors.Is(err, ErrConfigurationGap) ||
		errors.Is(err, ErrArithmetic)
}
