/*
audit.go - ParameterHistory and the configuration auditor

PURPOSE:
  Every write of an audited kind (tax_bracket, insurance_rate,
  calculation_rule, system_parameter) appends exactly one ParameterHistory
  record in the same transaction: before and after snapshots, the actor,
  and a required reason.

SNAPSHOTS:
  OldValue is nil on create, NewValue is nil on delete. Snapshots are a
  tagged union keyed by the record kind, serialized as
    {"type": "insurance_rate", "value": {...}}
  so stored history decodes back into typed records.

SEE ALSO:
  - manager.go: Calls Auditor.Record inside WithTx
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ParameterHistory is one append-only audit record.
type ParameterHistory struct {
	HistoryID     string          `json:"history_id"`
	ParameterType ConfigKind      `json:"parameter_type"`
	ParameterID   int64           `json:"parameter_id"`
	OldValue      *RecordSnapshot `json:"old_value"`
	NewValue      *RecordSnapshot `json:"new_value"`
	ChangedBy     string          `json:"changed_by"`
	ChangeReason  string          `json:"change_reason"`
	ChangeDate    time.Time       `json:"change_date"`
}

// =============================================================================
// RECORD SNAPSHOT - Tagged union of audited records
// =============================================================================

// RecordSnapshot holds exactly one audited record; Type says which field is
// set.
type RecordSnapshot struct {
	Type            ConfigKind
	TaxBracket      *TaxBracket
	InsuranceRate   *InsuranceRate
	CalculationRule *CalculationRule
	SystemParameter *SystemParameter
}

// SnapshotOf wraps a record value. nil yields a nil snapshot.
func SnapshotOf(record any) (*RecordSnapshot, error) {
	switch r := record.(type) {
	case nil:
		return nil, nil
	case TaxBracket:
		return &RecordSnapshot{Type: KindTaxBracket, TaxBracket: &r}, nil
	case InsuranceRate:
		return &RecordSnapshot{Type: KindInsuranceRate, InsuranceRate: &r}, nil
	case CalculationRule:
		return &RecordSnapshot{Type: KindCalculationRule, CalculationRule: &r}, nil
	case SystemParameter:
		return &RecordSnapshot{Type: KindSystemParameter, SystemParameter: &r}, nil
	}
	return nil, fmt.Errorf("record of type %T is not audited", record)
}

// Record returns the wrapped record as a value.
func (s RecordSnapshot) Record() any {
	switch s.Type {
	case KindTaxBracket:
		return *s.TaxBracket
	case KindInsuranceRate:
		return *s.InsuranceRate
	case KindCalculationRule:
		return *s.CalculationRule
	case KindSystemParameter:
		return *s.SystemParameter
	}
	return nil
}

type snapshotEnvelope struct {
	Type  ConfigKind      `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (s RecordSnapshot) MarshalJSON() ([]byte, error) {
	record := s.Record()
	if record == nil {
		return nil, fmt.Errorf("snapshot has unknown type %q", s.Type)
	}
	value, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotEnvelope{Type: s.Type, Value: value})
}

func (s *RecordSnapshot) UnmarshalJSON(data []byte) error {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	out := RecordSnapshot{Type: env.Type}
	var target any
	switch env.Type {
	case KindTaxBracket:
		out.TaxBracket = &TaxBracket{}
		target = out.TaxBracket
	case KindInsuranceRate:
		out.InsuranceRate = &InsuranceRate{}
		target = out.InsuranceRate
	case KindCalculationRule:
		out.CalculationRule = &CalculationRule{}
		target = out.CalculationRule
	case KindSystemParameter:
		out.SystemParameter = &SystemParameter{}
		target = out.SystemParameter
	default:
		return fmt.Errorf("snapshot has unknown type %q", env.Type)
	}
	if err := json.Unmarshal(env.Value, target); err != nil {
		return fmt.Errorf("decode %s snapshot: %w", env.Type, err)
	}
	*s = out
	return nil
}

// EncodeSnapshot serializes a snapshot for storage. nil encodes to nil.
func EncodeSnapshot(s *RecordSnapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (*RecordSnapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s RecordSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// =============================================================================
// AUDITOR
// =============================================================================

// Auditor builds and appends history records.
type Auditor struct {
	Now   func() time.Time
	NewID func() string
}

func NewAuditor() *Auditor {
	return &Auditor{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Record appends one history entry through w, which must be the
// transaction the configuration write runs in.
func (a *Auditor) Record(ctx context.Context, w ConfigWriter, kind ConfigKind, id int64, oldValue, newValue any, change Change) (ParameterHistory, error) {
	if !kind.Audited() {
		return ParameterHistory{}, fmt.Errorf("%s writes are not audited", kind)
	}
	if err := change.Validate(kind); err != nil {
		return ParameterHistory{}, err
	}
	oldSnap, err := SnapshotOf(oldValue)
	if err != nil {
		return ParameterHistory{}, err
	}
	newSnap, err := SnapshotOf(newValue)
	if err != nil {
		return ParameterHistory{}, err
	}
	h := ParameterHistory{
		HistoryID:     a.NewID(),
		ParameterType: kind,
		ParameterID:   id,
		OldValue:      oldSnap,
		NewValue:      newSnap,
		ChangedBy:     change.ChangedBy,
		ChangeReason:  change.Reason,
		ChangeDate:    a.Now(),
	}
	if err := w.AppendHistory(ctx, h); err != nil {
		return ParameterHistory{}, fmt.Errorf("append history: %w", err)
	}
	return h, nil
}
