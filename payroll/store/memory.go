// Package store provides in-memory configuration store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TABLE - id-keyed rows with an auto-increment counter
// =============================================================================

type table[T any] struct {
	rows   map[int64]T
	nextID int64
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[int64]T)}
}

func (t *table[T]) clone(copyRow func(T) T) *table[T] {
	c := &table[T]{rows: make(map[int64]T, len(t.rows)), nextID: t.nextID}
	for id, row := range t.rows {
		c.rows[id] = copyRow(row)
	}
	return c
}

func (t *table[T]) insert(row T, setID func(*T, int64)) int64 {
	t.nextID++
	setID(&row, t.nextID)
	t.rows[t.nextID] = row
	return t.nextID
}

func (t *table[T]) update(id int64, row T) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	t.rows[id] = row
	return true
}

// list returns matching rows ordered by id.
func (t *table[T]) list(keep func(T) bool) []T {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if row := t.rows[id]; keep(row) {
			out = append(out, row)
		}
	}
	return out
}

func same[T any](v T) T { return v }

// =============================================================================
// STATE - everything a transaction snapshots and restores
// =============================================================================

type memState struct {
	brackets  *table[payroll.TaxBracket]
	rates     *table[payroll.InsuranceRate]
	rules     *table[payroll.CalculationRule]
	params    *table[payroll.SystemParameter]
	templates *table[payroll.SalaryTemplate]
	history   []payroll.ParameterHistory // append order
}

func newMemState() *memState {
	return &memState{
		brackets:  newTable[payroll.TaxBracket](),
		rates:     newTable[payroll.InsuranceRate](),
		rules:     newTable[payroll.CalculationRule](),
		params:    newTable[payroll.SystemParameter](),
		templates: newTable[payroll.SalaryTemplate](),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		brackets:  s.brackets.clone(same[payroll.TaxBracket]),
		rates:     s.rates.clone(same[payroll.InsuranceRate]),
		rules:     s.rules.clone(same[payroll.CalculationRule]),
		params:    s.params.clone(same[payroll.SystemParameter]),
		templates: s.templates.clone(payroll.SalaryTemplate.Clone),
		history:   append([]payroll.ParameterHistory(nil), s.history...),
	}
}

func notFound(kind payroll.ConfigKind, id int64) error {
	return &payroll.NotFoundError{Kind: kind, ID: id}
}

// stateView implements payroll.ConfigStore over a memState without locking.
// Callers hold the Memory lock.
type stateView struct {
	s *memState
}

func (v stateView) ListTaxBrackets(_ context.Context, f payroll.ListFilter) ([]payroll.TaxBracket, error) {
	out := v.s.brackets.list(func(b payroll.TaxBracket) bool { return !f.ActiveOnly || b.IsActive })
	payroll.SortTaxBrackets(out)
	return out, nil
}

func (v stateView) GetTaxBracket(_ context.Context, id int64) (payroll.TaxBracket, error) {
	b, ok := v.s.brackets.rows[id]
	if !ok {
		return payroll.TaxBracket{}, notFound(payroll.KindTaxBracket, id)
	}
	return b, nil
}

func (v stateView) InsertTaxBracket(_ context.Context, b payroll.TaxBracket) (int64, error) {
	return v.s.brackets.insert(b, func(r *payroll.TaxBracket, id int64) { r.ID = id }), nil
}

func (v stateView) UpdateTaxBracket(_ context.Context, b payroll.TaxBracket) error {
	if !v.s.brackets.update(b.ID, b) {
		return notFound(payroll.KindTaxBracket, b.ID)
	}
	return nil
}

func (v stateView) ListInsuranceRates(_ context.Context, f payroll.ListFilter) ([]payroll.InsuranceRate, error) {
	out := v.s.rates.list(func(r payroll.InsuranceRate) bool {
		return (!f.ActiveOnly || r.IsActive) && (f.Key == "" || string(r.InsuranceType) == f.Key)
	})
	payroll.SortInsuranceRates(out)
	return out, nil
}

func (v stateView) GetInsuranceRate(_ context.Context, id int64) (payroll.InsuranceRate, error) {
	r, ok := v.s.rates.rows[id]
	if !ok {
		return payroll.InsuranceRate{}, notFound(payroll.KindInsuranceRate, id)
	}
	return r, nil
}

func (v stateView) InsertInsuranceRate(_ context.Context, r payroll.InsuranceRate) (int64, error) {
	return v.s.rates.insert(r, func(x *payroll.InsuranceRate, id int64) { x.ID = id }), nil
}

func (v stateView) UpdateInsuranceRate(_ context.Context, r payroll.InsuranceRate) error {
	if !v.s.rates.update(r.ID, r) {
		return notFound(payroll.KindInsuranceRate, r.ID)
	}
	return nil
}

func (v stateView) ListCalculationRules(_ context.Context, f payroll.ListFilter) ([]payroll.CalculationRule, error) {
	out := v.s.rules.list(func(r payroll.CalculationRule) bool {
		return (!f.ActiveOnly || r.IsActive) && (f.Key == "" || string(r.RuleType) == f.Key)
	})
	payroll.SortCalculationRules(out)
	return out, nil
}

func (v stateView) GetCalculationRule(_ context.Context, id int64) (payroll.CalculationRule, error) {
	r, ok := v.s.rules.rows[id]
	if !ok {
		return payroll.CalculationRule{}, notFound(payroll.KindCalculationRule, id)
	}
	return r, nil
}

func (v stateView) InsertCalculationRule(_ context.Context, r payroll.CalculationRule) (int64, error) {
	return v.s.rules.insert(r, func(x *payroll.CalculationRule, id int64) { x.ID = id }), nil
}

func (v stateView) UpdateCalculationRule(_ context.Context, r payroll.CalculationRule) error {
	if !v.s.rules.update(r.ID, r) {
		return notFound(payroll.KindCalculationRule, r.ID)
	}
	return nil
}

func (v stateView) ListSystemParameters(_ context.Context, f payroll.ListFilter) ([]payroll.SystemParameter, error) {
	out := v.s.params.list(func(p payroll.SystemParameter) bool {
		return (!f.ActiveOnly || p.IsActive) && (f.Key == "" || string(p.Category) == f.Key)
	})
	payroll.SortSystemParameters(out)
	return out, nil
}

func (v stateView) GetSystemParameter(_ context.Context, id int64) (payroll.SystemParameter, error) {
	p, ok := v.s.params.rows[id]
	if !ok {
		return payroll.SystemParameter{}, notFound(payroll.KindSystemParameter, id)
	}
	return p, nil
}

func (v stateView) InsertSystemParameter(_ context.Context, p payroll.SystemParameter) (int64, error) {
	return v.s.params.insert(p, func(x *payroll.SystemParameter, id int64) { x.ID = id }), nil
}

func (v stateView) UpdateSystemParameter(_ context.Context, p payroll.SystemParameter) error {
	if !v.s.params.update(p.ID, p) {
		return notFound(payroll.KindSystemParameter, p.ID)
	}
	return nil
}

func (v stateView) ListSalaryTemplates(_ context.Context, f payroll.ListFilter) ([]payroll.SalaryTemplate, error) {
	name := strings.ToLower(f.Key)
	out := v.s.templates.list(func(t payroll.SalaryTemplate) bool {
		return (!f.ActiveOnly || t.IsActive) && strings.Contains(strings.ToLower(t.Name), name)
	})
	for i := range out {
		out[i] = out[i].Clone()
	}
	payroll.SortSalaryTemplates(out)
	return out, nil
}

func (v stateView) GetSalaryTemplate(_ context.Context, id int64) (payroll.SalaryTemplate, error) {
	t, ok := v.s.templates.rows[id]
	if !ok {
		return payroll.SalaryTemplate{}, notFound(payroll.KindSalaryTemplate, id)
	}
	return t.Clone(), nil
}

func (v stateView) InsertSalaryTemplate(_ context.Context, t payroll.SalaryTemplate) (int64, error) {
	return v.s.templates.insert(t.Clone(), func(x *payroll.SalaryTemplate, id int64) { x.ID = id }), nil
}

func (v stateView) UpdateSalaryTemplate(_ context.Context, t payroll.SalaryTemplate) error {
	if !v.s.templates.update(t.ID, t.Clone()) {
		return notFound(payroll.KindSalaryTemplate, t.ID)
	}
	return nil
}

func (v stateView) DeleteSalaryTemplate(_ context.Context, id int64) error {
	if _, ok := v.s.templates.rows[id]; !ok {
		return notFound(payroll.KindSalaryTemplate, id)
	}
	delete(v.s.templates.rows, id)
	return nil
}

func (v stateView) AppendHistory(_ context.Context, h payroll.ParameterHistory) error {
	v.s.history = append(v.s.history, h)
	return nil
}

// QueryHistory returns newest first; entries with the same ChangeDate keep
// reverse append order.
func (v stateView) QueryHistory(_ context.Context, f payroll.HistoryFilter) ([]payroll.ParameterHistory, int, error) {
	var matched []payroll.ParameterHistory
	for i := len(v.s.history) - 1; i >= 0; i-- {
		h := v.s.history[i]
		if f.ParameterType != "" && h.ParameterType != f.ParameterType {
			continue
		}
		if f.ParameterID != nil && h.ParameterID != *f.ParameterID {
			continue
		}
		matched = append(matched, h)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ChangeDate.After(matched[j].ChangeDate) })
	page := payroll.Paginate(matched, f.Offset, f.Limit)
	return page.Records, page.Total, nil
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a payroll.TxConfigStore held in process memory.
type Memory struct {
	mu    sync.RWMutex
	state *memState

	// version is the committed version; readers load it without the lock.
	version atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func (m *Memory) read() stateView {
	return stateView{s: m.state}
}

// write runs fn under the write lock and bumps the version on success.
func (m *Memory) write(fn func(stateView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fn(stateView{s: m.state}); err != nil {
		return err
	}
	m.version.Add(1)
	return nil
}

func (m *Memory) ListTaxBrackets(ctx context.Context, f payroll.ListFilter) ([]payroll.TaxBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListTaxBrackets(ctx, f)
}

func (m *Memory) GetTaxBracket(ctx context.Context, id int64) (payroll.TaxBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTaxBracket(ctx, id)
}

func (m *Memory) InsertTaxBracket(ctx context.Context, b payroll.TaxBracket) (id int64, err error) {
	err = m.write(func(v stateView) error {
		id, err = v.InsertTaxBracket(ctx, b)
		return err
	})
	return id, err
}

func (m *Memory) UpdateTaxBracket(ctx context.Context, b payroll.TaxBracket) error {
	return m.write(func(v stateView) error { return v.UpdateTaxBracket(ctx, b) })
}

func (m *Memory) ListInsuranceRates(ctx context.Context, f payroll.ListFilter) ([]payroll.InsuranceRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListInsuranceRates(ctx, f)
}

func (m *Memory) GetInsuranceRate(ctx context.Context, id int64) (payroll.InsuranceRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetInsuranceRate(ctx, id)
}

func (m *Memory) InsertInsuranceRate(ctx context.Context, r payroll.InsuranceRate) (id int64, err error) {
	err = m.write(func(v stateView) error {
		id, err = v.InsertInsuranceRate(ctx, r)
		return err
	})
	return id, err
}

func (m *Memory) UpdateInsuranceRate(ctx context.Context, r payroll.InsuranceRate) error {
	return m.write(func(v stateView) error { return v.UpdateInsuranceRate(ctx, r) })
}

func (m *Memory) ListCalculationRules(ctx context.Context, f payroll.ListFilter) ([]payroll.CalculationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListCalculationRules(ctx, f)
}

func (m *Memory) GetCalculationRule(ctx context.Context, id int64) (payroll.CalculationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetCalculationRule(ctx, id)
}

func (m *Memory) InsertCalculationRule(ctx context.Context, r payroll.CalculationRule) (id int64, err error) {
	err = m.write(func(v stateView) error {
		id, err = v.InsertCalculationRule(ctx, r)
		return err
	})
	return id, err
}

func (m *Memory) UpdateCalculationRule(ctx context.Context, r payroll.CalculationRule) error {
	return m.write(func(v stateView) error { return v.UpdateCalculationRule(ctx, r) })
}

func (m *Memory) ListSystemParameters(ctx context.Context, f payroll.ListFilter) ([]payroll.SystemParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListSystemParameters(ctx, f)
}

func (m *Memory) GetSystemParameter(ctx context.Context, id int64) (payroll.SystemParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSystemParameter(ctx, id)
}

func (m *Memory) InsertSystemParameter(ctx context.Context, p payroll.SystemParameter) (id int64, err error) {
	err = m.write(func(v stateView) error {
		id, err = v.InsertSystemParameter(ctx, p)
		return err
	})
	return id, err
}

func (m *Memory) UpdateSystemParameter(ctx context.Context, p payroll.SystemParameter) error {
	return m.write(func(v stateView) error { return v.UpdateSystemParameter(ctx, p) })
}

func (m *Memory) ListSalaryTemplates(ctx context.Context, f payroll.ListFilter) ([]payroll.SalaryTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListSalaryTemplates(ctx, f)
}

func (m *Memory) GetSalaryTemplate(ctx context.Context, id int64) (payroll.SalaryTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSalaryTemplate(ctx, id)
}

func (m *Memory) InsertSalaryTemplate(ctx context.Context, t payroll.SalaryTemplate) (id int64, err error) {
	err = m.write(func(v stateView) error {
		id, err = v.InsertSalaryTemplate(ctx, t)
		return err
	})
	return id, err
}

func (m *Memory) UpdateSalaryTemplate(ctx context.Context, t payroll.SalaryTemplate) error {
	return m.write(func(v stateView) error { return v.UpdateSalaryTemplate(ctx, t) })
}

func (m *Memory) DeleteSalaryTemplate(ctx context.Context, id int64) error {
	return m.write(func(v stateView) error { return v.DeleteSalaryTemplate(ctx, id) })
}

func (m *Memory) AppendHistory(ctx context.Context, h payroll.ParameterHistory) error {
	return m.write(func(v stateView) error { return v.AppendHistory(ctx, h) })
}

func (m *Memory) QueryHistory(ctx context.Context, f payroll.HistoryFilter) ([]payroll.ParameterHistory, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().QueryHistory(ctx, f)
}

// =============================================================================
// TRANSACTIONS AND VERSIONING
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(payroll.ConfigStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(stateView{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	m.version.Add(1)
	return nil
}

func (m *Memory) ConfigVersion(context.Context) (int64, error) {
	return m.version.Load(), nil
}

func (m *Memory) LoadConfigSet(ctx context.Context) (payroll.ConfigSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.read()
	active := payroll.ListFilter{ActiveOnly: true}
	set := payroll.ConfigSet{Version: m.version.Load()}
	set.TaxBrackets, _ = v.ListTaxBrackets(ctx, active)
	set.InsuranceRates, _ = v.ListInsuranceRates(ctx, active)
	set.CalculationRules, _ = v.ListCalculationRules(ctx, active)
	set.SystemParameters, _ = v.ListSystemParameters(ctx, active)
	set.SalaryTemplates, _ = v.ListSalaryTemplates(ctx, active)
	return set, nil
}

// Reset drops all configuration and history. The version keeps counting.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemState()
	m.version.Add(1)
	return nil
}

var _ payroll.TxConfigStore = (*Memory)(nil)
