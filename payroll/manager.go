/*
manager.go - Validated, audited configuration writes

PURPOSE:
  ConfigManager is the only writer of configuration. Each operation runs
  in one store transaction that:
    1. Re-reads the records it validates against (consistent view)
    2. Validates the write
    3. Writes the record
    4. Appends ParameterHistory (audited kinds)
  Any failure rolls back the whole transaction: no record, no history.

DELETES:
  Audited kinds are soft-deleted (IsActive = false) so historical payroll
  stays explainable; the history record carries NewValue = nil.
  Salary templates are not audited and are hard-deleted.

SERIALIZATION:
  Writes are serialized by the store's WithTx. Bracket overlap and
  uniqueness checks therefore see every committed write.

SEE ALSO:
  - validate.go: Field, overlap, partition and uniqueness checks
  - audit.go: History records
*/
package payroll

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// managedStore is what ConfigManager needs from its store.
type managedStore interface {
	ConfigReader
	WithTx(ctx context.Context, fn func(ConfigStore) error) error
}

type ConfigManager struct {
	store   managedStore
	auditor *Auditor
}

func NewConfigManager(store TxConfigStore, auditor *Auditor) *ConfigManager {
	if auditor == nil {
		auditor = NewAuditor()
	}
	return &ConfigManager{store: store, auditor: auditor}
}

// withTx runs fn in a transaction and logs the outcome.
func (m *ConfigManager) withTx(ctx context.Context, op string, kind ConfigKind, change Change, fn func(ConfigStore) error) error {
	if kind.Audited() {
		if err := change.Validate(kind); err != nil {
			log.Printf("[config] rejected %s %s: %v", op, kind, err)
			return err
		}
	}
	if err := m.store.WithTx(ctx, fn); err != nil {
		log.Printf("[config] rejected %s %s: %v", op, kind, err)
		return err
	}
	return nil
}

// inTx runs nested writes inside an enclosing transaction.
type inTx struct{ ConfigStore }

func (t inTx) WithTx(_ context.Context, fn func(ConfigStore) error) error { return fn(t.ConfigStore) }

// Atomically runs fn in a single transaction. The manager passed to fn
// writes inside that transaction and tx reads its uncommitted state; if fn
// fails nothing it wrote is kept.
func (m *ConfigManager) Atomically(ctx context.Context, fn func(m *ConfigManager, tx ConfigReader) error) error {
	return m.store.WithTx(ctx, func(tx ConfigStore) error {
		return fn(&ConfigManager{store: inTx{tx}, auditor: m.auditor}, tx)
	})
}

func logCommitted(op string, kind ConfigKind, id int64, change Change) {
	if change.ChangedBy == "" {
		log.Printf("[config] %s %s %d", op, kind, id)
		return
	}
	log.Printf("[config] %s %s %d by %s: %s", op, kind, id, change.ChangedBy, change.Reason)
}

// =============================================================================
// TAX BRACKETS
// =============================================================================

// CreateTaxBracket adds one active bracket. It must not overlap any active
// bracket of the same effective date.
func (m *ConfigManager) CreateTaxBracket(ctx context.Context, b TaxBracket, change Change) (TaxBracket, error) {
	b.IsActive = true
	err := m.withTx(ctx, "create", KindTaxBracket, change, func(tx ConfigStore) error {
		if err := ValidateTaxBracket(b); err != nil {
			return err
		}
		existing, err := tx.ListTaxBrackets(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckBracketOverlap(b, existing); err != nil {
			return err
		}
		id, err := tx.InsertTaxBracket(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id
		_, err = m.auditor.Record(ctx, tx, KindTaxBracket, id, nil, b, change)
		return err
	})
	if err != nil {
		return TaxBracket{}, err
	}
	logCommitted("created", KindTaxBracket, b.ID, change)
	return b, nil
}

// CreateTaxBracketSet writes a complete schedule for one effective date.
// Active brackets already at that date are deactivated in the same
// transaction, each with its own history record.
func (m *ConfigManager) CreateTaxBracketSet(ctx context.Context, effective Date, brackets []TaxBracket, change Change) ([]TaxBracket, error) {
	set := make([]TaxBracket, len(brackets))
	for i, b := range brackets {
		b.ID = 0
		b.EffectiveDate = effective
		b.IsActive = true
		set[i] = b
	}
	err := m.withTx(ctx, "create set", KindTaxBracket, change, func(tx ConfigStore) error {
		if err := ValidateBracketPartition(set); err != nil {
			return err
		}
		existing, err := tx.ListTaxBrackets(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		for _, old := range existing {
			if !old.EffectiveDate.Equal(effective) {
				continue
			}
			retired := old
			retired.IsActive = false
			if err := tx.UpdateTaxBracket(ctx, retired); err != nil {
				return err
			}
			if _, err := m.auditor.Record(ctx, tx, KindTaxBracket, old.ID, old, nil, change); err != nil {
				return err
			}
		}
		for i := range set {
			id, err := tx.InsertTaxBracket(ctx, set[i])
			if err != nil {
				return err
			}
			set[i].ID = id
			if _, err := m.auditor.Record(ctx, tx, KindTaxBracket, id, nil, set[i], change); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[config] created tax bracket schedule %s (%d brackets) by %s: %s",
		effective, len(set), change.ChangedBy, change.Reason)
	SortTaxBrackets(set)
	return set, nil
}

// UpdateTaxBracket replaces the bracket with b.ID. Activity is kept;
// retiring goes through DeleteTaxBracket.
func (m *ConfigManager) UpdateTaxBracket(ctx context.Context, b TaxBracket, change Change) (TaxBracket, error) {
	err := m.withTx(ctx, "update", KindTaxBracket, change, func(tx ConfigStore) error {
		old, err := tx.GetTaxBracket(ctx, b.ID)
		if err != nil {
			return err
		}
		b.IsActive = old.IsActive
		if err := ValidateTaxBracket(b); err != nil {
			return err
		}
		existing, err := tx.ListTaxBrackets(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckBracketOverlap(b, existing); err != nil {
			return err
		}
		after := replaceBracket(existing, old.ID, b)
		for _, date := range []Date{old.EffectiveDate, b.EffectiveDate} {
			if err := CheckScheduleKept(date, existing, after); err != nil {
				return err
			}
		}
		if err := tx.UpdateTaxBracket(ctx, b); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindTaxBracket, b.ID, old, b, change)
		return err
	})
	if err != nil {
		return TaxBracket{}, err
	}
	logCommitted("updated", KindTaxBracket, b.ID, change)
	return b, nil
}

// DeleteTaxBracket deactivates an active bracket.
func (m *ConfigManager) DeleteTaxBracket(ctx context.Context, id int64, change Change) error {
	err := m.withTx(ctx, "delete", KindTaxBracket, change, func(tx ConfigStore) error {
		old, err := tx.GetTaxBracket(ctx, id)
		if err != nil {
			return err
		}
		if !old.IsActive {
			return &NotFoundError{Kind: KindTaxBracket, ID: id}
		}
		existing, err := tx.ListTaxBrackets(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		retired := old
		retired.IsActive = false
		if err := CheckScheduleKept(old.EffectiveDate, existing, replaceBracket(existing, id, retired)); err != nil {
			return err
		}
		if err := tx.UpdateTaxBracket(ctx, retired); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindTaxBracket, id, old, nil, change)
		return err
	})
	if err != nil {
		return err
	}
	logCommitted("deleted", KindTaxBracket, id, change)
	return nil
}

// DeleteTaxBracketSet deactivates every active bracket effective on
// effective, each with its own history record.
func (m *ConfigManager) DeleteTaxBracketSet(ctx context.Context, effective Date, change Change) ([]TaxBracket, error) {
	var retired []TaxBracket
	err := m.withTx(ctx, "delete set", KindTaxBracket, change, func(tx ConfigStore) error {
		existing, err := tx.ListTaxBrackets(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		for _, old := range bracketsOn(existing, effective) {
			r := old
			r.IsActive = false
			if err := tx.UpdateTaxBracket(ctx, r); err != nil {
				return err
			}
			if _, err := m.auditor.Record(ctx, tx, KindTaxBracket, old.ID, old, nil, change); err != nil {
				return err
			}
			retired = append(retired, r)
		}
		if len(retired) == 0 {
			return fmt.Errorf("%w: no active tax brackets effective %s", ErrRecordNotFound, effective)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[config] deleted tax bracket schedule %s (%d brackets) by %s: %s",
		effective, len(retired), change.ChangedBy, change.Reason)
	return retired, nil
}

// replaceBracket returns the active set after the bracket with id is
// replaced by b. An inactive b drops the bracket.
func replaceBracket(active []TaxBracket, id int64, b TaxBracket) []TaxBracket {
	out := make([]TaxBracket, 0, len(active)+1)
	for _, o := range active {
		if o.ID != id {
			out = append(out, o)
		}
	}
	if b.IsActive {
		out = append(out, b)
	}
	return out
}

// =============================================================================
// INSURANCE RATES
// =============================================================================

func (m *ConfigManager) CreateInsuranceRate(ctx context.Context, r InsuranceRate, change Change) (InsuranceRate, error) {
	r.IsActive = true
	err := m.withTx(ctx, "create", KindInsuranceRate, change, func(tx ConfigStore) error {
		if err := ValidateInsuranceRate(r); err != nil {
			return err
		}
		existing, err := tx.ListInsuranceRates(ctx, ListFilter{Key: string(r.InsuranceType), ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckRateUnique(r, existing); err != nil {
			return err
		}
		id, err := tx.InsertInsuranceRate(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id
		_, err = m.auditor.Record(ctx, tx, KindInsuranceRate, id, nil, r, change)
		return err
	})
	if err != nil {
		return InsuranceRate{}, err
	}
	logCommitted("created", KindInsuranceRate, r.ID, change)
	return r, nil
}

func (m *ConfigManager) UpdateInsuranceRate(ctx context.Context, r InsuranceRate, change Change) (InsuranceRate, error) {
	err := m.withTx(ctx, "update", KindInsuranceRate, change, func(tx ConfigStore) error {
		old, err := tx.GetInsuranceRate(ctx, r.ID)
		if err != nil {
			return err
		}
		r.IsActive = old.IsActive
		if err := ValidateInsuranceRate(r); err != nil {
			return err
		}
		existing, err := tx.ListInsuranceRates(ctx, ListFilter{Key: string(r.InsuranceType), ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckRateUnique(r, existing); err != nil {
			return err
		}
		if err := tx.UpdateInsuranceRate(ctx, r); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindInsuranceRate, r.ID, old, r, change)
		return err
	})
	if err != nil {
		return InsuranceRate{}, err
	}
	logCommitted("updated", KindInsuranceRate, r.ID, change)
	return r, nil
}

func (m *ConfigManager) DeleteInsuranceRate(ctx context.Context, id int64, change Change) error {
	err := m.withTx(ctx, "delete", KindInsuranceRate, change, func(tx ConfigStore) error {
		old, err := tx.GetInsuranceRate(ctx, id)
		if err != nil {
			return err
		}
		if !old.IsActive {
			return &NotFoundError{Kind: KindInsuranceRate, ID: id}
		}
		retired := old
		retired.IsActive = false
		if err := tx.UpdateInsuranceRate(ctx, retired); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindInsuranceRate, id, old, nil, change)
		return err
	})
	if err != nil {
		return err
	}
	logCommitted("deleted", KindInsuranceRate, id, change)
	return nil
}

// =============================================================================
// CALCULATION RULES
// =============================================================================

func (m *ConfigManager) CreateCalculationRule(ctx context.Context, r CalculationRule, change Change) (CalculationRule, error) {
	r.IsActive = true
	err := m.withTx(ctx, "create", KindCalculationRule, change, func(tx ConfigStore) error {
		if err := ValidateCalculationRule(r); err != nil {
			return err
		}
		existing, err := tx.ListCalculationRules(ctx, ListFilter{Key: string(r.RuleType), ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckRuleUnique(r, existing); err != nil {
			return err
		}
		id, err := tx.InsertCalculationRule(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id
		_, err = m.auditor.Record(ctx, tx, KindCalculationRule, id, nil, r, change)
		return err
	})
	if err != nil {
		return CalculationRule{}, err
	}
	logCommitted("created", KindCalculationRule, r.ID, change)
	return r, nil
}

func (m *ConfigManager) UpdateCalculationRule(ctx context.Context, r CalculationRule, change Change) (CalculationRule, error) {
	err := m.withTx(ctx, "update", KindCalculationRule, change, func(tx ConfigStore) error {
		old, err := tx.GetCalculationRule(ctx, r.ID)
		if err != nil {
			return err
		}
		r.IsActive = old.IsActive
		if err := ValidateCalculationRule(r); err != nil {
			return err
		}
		existing, err := tx.ListCalculationRules(ctx, ListFilter{Key: string(r.RuleType), ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckRuleUnique(r, existing); err != nil {
			return err
		}
		if err := tx.UpdateCalculationRule(ctx, r); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindCalculationRule, r.ID, old, r, change)
		return err
	})
	if err != nil {
		return CalculationRule{}, err
	}
	logCommitted("updated", KindCalculationRule, r.ID, change)
	return r, nil
}

func (m *ConfigManager) DeleteCalculationRule(ctx context.Context, id int64, change Change) error {
	err := m.withTx(ctx, "delete", KindCalculationRule, change, func(tx ConfigStore) error {
		old, err := tx.GetCalculationRule(ctx, id)
		if err != nil {
			return err
		}
		if !old.IsActive {
			return &NotFoundError{Kind: KindCalculationRule, ID: id}
		}
		retired := old
		retired.IsActive = false
		if err := tx.UpdateCalculationRule(ctx, retired); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindCalculationRule, id, old, nil, change)
		return err
	})
	if err != nil {
		return err
	}
	logCommitted("deleted", KindCalculationRule, id, change)
	return nil
}

// =============================================================================
// SYSTEM PARAMETERS
// =============================================================================

func (m *ConfigManager) CreateSystemParameter(ctx context.Context, p SystemParameter, change Change) (SystemParameter, error) {
	p.IsActive = true
	p.Key = strings.TrimSpace(p.Key)
	err := m.withTx(ctx, "create", KindSystemParameter, change, func(tx ConfigStore) error {
		if err := ValidateSystemParameter(p); err != nil {
			return err
		}
		existing, err := tx.ListSystemParameters(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckParameterKeyUnique(p, existing); err != nil {
			return err
		}
		id, err := tx.InsertSystemParameter(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		_, err = m.auditor.Record(ctx, tx, KindSystemParameter, id, nil, p, change)
		return err
	})
	if err != nil {
		return SystemParameter{}, err
	}
	logCommitted("created", KindSystemParameter, p.ID, change)
	return p, nil
}

// UpdateSystemParameter replaces a parameter. Non-editable parameters are
// rejected.
func (m *ConfigManager) UpdateSystemParameter(ctx context.Context, p SystemParameter, change Change) (SystemParameter, error) {
	p.Key = strings.TrimSpace(p.Key)
	err := m.withTx(ctx, "update", KindSystemParameter, change, func(tx ConfigStore) error {
		old, err := tx.GetSystemParameter(ctx, p.ID)
		if err != nil {
			return err
		}
		if !old.IsEditable {
			return invalid(KindSystemParameter, old.Key, "is not editable")
		}
		p.IsActive, p.IsEditable = old.IsActive, old.IsEditable
		if err := ValidateSystemParameter(p); err != nil {
			return err
		}
		existing, err := tx.ListSystemParameters(ctx, ListFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := CheckParameterKeyUnique(p, existing); err != nil {
			return err
		}
		if err := tx.UpdateSystemParameter(ctx, p); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindSystemParameter, p.ID, old, p, change)
		return err
	})
	if err != nil {
		return SystemParameter{}, err
	}
	logCommitted("updated", KindSystemParameter, p.ID, change)
	return p, nil
}

// SetParameterValue updates only the value of the active parameter key.
func (m *ConfigManager) SetParameterValue(ctx context.Context, key, value string, change Change) (SystemParameter, error) {
	params, err := m.store.ListSystemParameters(ctx, ListFilter{ActiveOnly: true})
	if err != nil {
		return SystemParameter{}, err
	}
	for _, p := range params {
		if p.Key == key {
			p.Value = value
			return m.UpdateSystemParameter(ctx, p, change)
		}
	}
	return SystemParameter{}, &ConfigurationMissingError{Kind: KindSystemParameter, Key: key}
}

func (m *ConfigManager) DeleteSystemParameter(ctx context.Context, id int64, change Change) error {
	err := m.withTx(ctx, "delete", KindSystemParameter, change, func(tx ConfigStore) error {
		old, err := tx.GetSystemParameter(ctx, id)
		if err != nil {
			return err
		}
		if !old.IsActive {
			return &NotFoundError{Kind: KindSystemParameter, ID: id}
		}
		if !old.IsEditable {
			return invalid(KindSystemParameter, old.Key, "is not editable")
		}
		retired := old
		retired.IsActive = false
		if err := tx.UpdateSystemParameter(ctx, retired); err != nil {
			return err
		}
		_, err = m.auditor.Record(ctx, tx, KindSystemParameter, id, old, nil, change)
		return err
	})
	if err != nil {
		return err
	}
	logCommitted("deleted", KindSystemParameter, id, change)
	return nil
}

// =============================================================================
// SALARY TEMPLATES - not audited
// =============================================================================

func (m *ConfigManager) CreateSalaryTemplate(ctx context.Context, t SalaryTemplate) (SalaryTemplate, error) {
	t = t.Clone()
	t.IsActive = true
	err := m.withTx(ctx, "create", KindSalaryTemplate, Change{}, func(tx ConfigStore) error {
		if err := ValidateSalaryTemplate(t); err != nil {
			return err
		}
		id, err := tx.InsertSalaryTemplate(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id
		return nil
	})
	if err != nil {
		return SalaryTemplate{}, err
	}
	logCommitted("created", KindSalaryTemplate, t.ID, Change{})
	return t, nil
}

// UpdateSalaryTemplate replaces the template, items included. Use
// SetTemplateActive to change activity.
func (m *ConfigManager) UpdateSalaryTemplate(ctx context.Context, t SalaryTemplate) (SalaryTemplate, error) {
	t = t.Clone()
	err := m.withTx(ctx, "update", KindSalaryTemplate, Change{}, func(tx ConfigStore) error {
		cur, err := tx.GetSalaryTemplate(ctx, t.ID)
		if err != nil {
			return err
		}
		t.IsActive = cur.IsActive
		if err := ValidateSalaryTemplate(t); err != nil {
			return err
		}
		return tx.UpdateSalaryTemplate(ctx, t)
	})
	if err != nil {
		return SalaryTemplate{}, err
	}
	logCommitted("updated", KindSalaryTemplate, t.ID, Change{})
	return t, nil
}

// SetTemplateActive toggles whether a template takes part in resolution.
func (m *ConfigManager) SetTemplateActive(ctx context.Context, id int64, active bool) (SalaryTemplate, error) {
	var t SalaryTemplate
	err := m.withTx(ctx, "toggle", KindSalaryTemplate, Change{}, func(tx ConfigStore) error {
		cur, err := tx.GetSalaryTemplate(ctx, id)
		if err != nil {
			return err
		}
		cur.IsActive = active
		t = cur
		return tx.UpdateSalaryTemplate(ctx, cur)
	})
	if err != nil {
		return SalaryTemplate{}, err
	}
	logCommitted(fmt.Sprintf("set active=%t", active), KindSalaryTemplate, id, Change{})
	return t, nil
}

func (m *ConfigManager) DeleteSalaryTemplate(ctx context.Context, id int64) error {
	err := m.withTx(ctx, "delete", KindSalaryTemplate, Change{}, func(tx ConfigStore) error {
		if _, err := tx.GetSalaryTemplate(ctx, id); err != nil {
			return err
		}
		return tx.DeleteSalaryTemplate(ctx, id)
	})
	if err != nil {
		return err
	}
	logCommitted("deleted", KindSalaryTemplate, id, Change{})
	return nil
}
