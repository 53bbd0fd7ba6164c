/*
snapshot.go - Immutable configuration snapshot and effective-date resolution

PURPOSE:
  A Snapshot is the complete active configuration at one store version,
  indexed for effective-date lookups. Every computation takes one Snapshot
  at its start and reads only from it, so a configuration write landing
  mid-computation cannot produce an inconsistent breakdown.

RESOLUTION RULE:
  Among active records of a kind matching a key, pick the one with the
  latest EffectiveDate not after asOf. Ties go to the highest id (most
  recently created). No qualifying record is a ConfigurationMissingError,
  never a zero default.

  For tax brackets the key is "all": the result is every active bracket
  sharing the latest applicable EffectiveDate (one schedule).

CACHING:
  SnapshotCache holds one *Snapshot behind an atomic pointer. Current()
  compares the cached version to the store version and reloads on mismatch.
  Writes never touch the cache; the version bump in their transaction is
  the invalidation.

SEE ALSO:
  - store.go: LoadConfigSet / ConfigVersion
  - tax.go, insurance.go, rules.go, template.go: consumers
*/
package payroll

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// effectiveDated is implemented by every effective-dated record.
type effectiveDated interface {
	RecordID() int64
	EffectiveOn() Date
}

// sortByEffective orders records by (EffectiveDate, ID) ascending, so the
// last record not after a date is the one resolution must pick.
func sortByEffective[T effectiveDated](rs []T) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].EffectiveOn(), rs[j].EffectiveOn()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return rs[i].RecordID() < rs[j].RecordID()
	})
}

// latestEffective returns the last record whose EffectiveDate is not after
// asOf. rs must be sorted with sortByEffective.
func latestEffective[T effectiveDated](rs []T, asOf Date) (T, bool) {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].EffectiveOn().After(asOf) })
	if i == 0 {
		var zero T
		return zero, false
	}
	return rs[i-1], true
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is immutable after NewSnapshot returns and safe for concurrent use.
type Snapshot struct {
	version int64

	bracketDates []Date                  // ascending
	bracketSets  map[string][]TaxBracket // by EffectiveDate.String(), sorted by MinIncome
	rates        map[InsuranceType][]InsuranceRate
	rules        map[RuleType][]CalculationRule
	params       map[string]SystemParameter
	templates    []SalaryTemplate // active, by id
}

// NewSnapshot indexes a ConfigSet. Inactive records are ignored.
func NewSnapshot(set ConfigSet) *Snapshot {
	s := &Snapshot{
		version:     set.Version,
		bracketSets: make(map[string][]TaxBracket),
		rates:       make(map[InsuranceType][]InsuranceRate),
		rules:       make(map[RuleType][]CalculationRule),
		params:      make(map[string]SystemParameter),
	}

	for _, b := range set.TaxBrackets {
		if !b.IsActive {
			continue
		}
		key := b.EffectiveDate.String()
		if _, ok := s.bracketSets[key]; !ok {
			s.bracketDates = append(s.bracketDates, b.EffectiveDate)
		}
		s.bracketSets[key] = append(s.bracketSets[key], b)
	}
	sort.Slice(s.bracketDates, func(i, j int) bool { return s.bracketDates[i].Before(s.bracketDates[j]) })
	for key := range s.bracketSets {
		set := s.bracketSets[key]
		sort.SliceStable(set, func(i, j int) bool {
			if !set[i].MinIncome.Equal(set[j].MinIncome) {
				return set[i].MinIncome.LessThan(set[j].MinIncome)
			}
			return set[i].ID < set[j].ID
		})
	}

	for _, r := range set.InsuranceRates {
		if r.IsActive {
			s.rates[r.InsuranceType] = append(s.rates[r.InsuranceType], r)
		}
	}
	for t := range s.rates {
		sortByEffective(s.rates[t])
	}

	for _, r := range set.CalculationRules {
		if r.IsActive {
			s.rules[r.RuleType] = append(s.rules[r.RuleType], r)
		}
	}
	for t := range s.rules {
		sortByEffective(s.rules[t])
	}

	// Keys are unique among active parameters; if the data says otherwise
	// the newest record wins.
	for _, p := range set.SystemParameters {
		if !p.IsActive {
			continue
		}
		if cur, ok := s.params[p.Key]; !ok || p.ID > cur.ID {
			s.params[p.Key] = p
		}
	}

	for _, t := range set.SalaryTemplates {
		if t.IsActive {
			s.templates = append(s.templates, t.Clone())
		}
	}
	SortSalaryTemplates(s.templates)

	return s
}

// Version is the store version this snapshot was built from.
func (s *Snapshot) Version() int64 { return s.version }

// Current lets a fixed snapshot stand in for a SnapshotProvider.
func (s *Snapshot) Current(context.Context) (*Snapshot, error) { return s, nil }

// =============================================================================
// RESOLUTION
// =============================================================================

// TaxBracketSet is one schedule: every active bracket sharing EffectiveDate,
// ordered by MinIncome.
type TaxBracketSet struct {
	EffectiveDate Date         `json:"effective_date"`
	Brackets      []TaxBracket `json:"brackets"`
}

// Find returns the bracket whose [MinIncome, MaxIncome) contains income.
func (s TaxBracketSet) Find(income decimal.Decimal) (TaxBracket, bool) {
	for _, b := range s.Brackets {
		if b.Contains(income) {
			return b, true
		}
	}
	return TaxBracket{}, false
}

// ResolveTaxBrackets returns the schedule effective as of asOf.
func (s *Snapshot) ResolveTaxBrackets(asOf Date) (TaxBracketSet, error) {
	i := sort.Search(len(s.bracketDates), func(i int) bool { return s.bracketDates[i].After(asOf) })
	if i == 0 {
		return TaxBracketSet{}, &ConfigurationMissingError{Kind: KindTaxBracket, Key: "all", AsOf: asOf}
	}
	date := s.bracketDates[i-1]
	brackets := s.bracketSets[date.String()]
	return TaxBracketSet{
		EffectiveDate: date,
		Brackets:      append([]TaxBracket(nil), brackets...),
	}, nil
}

// ResolveInsuranceRate returns the rate for t effective as of asOf.
func (s *Snapshot) ResolveInsuranceRate(t InsuranceType, asOf Date) (InsuranceRate, error) {
	r, ok := latestEffective(s.rates[t], asOf)
	if !ok {
		return InsuranceRate{}, &ConfigurationMissingError{Kind: KindInsuranceRate, Key: string(t), AsOf: asOf}
	}
	return r, nil
}

// ResolveRule returns the rule of type t effective as of asOf.
func (s *Snapshot) ResolveRule(t RuleType, asOf Date) (CalculationRule, error) {
	r, ok := latestEffective(s.rules[t], asOf)
	if !ok {
		return CalculationRule{}, &ConfigurationMissingError{Kind: KindCalculationRule, Key: string(t), AsOf: asOf}
	}
	return r, nil
}

// Parameter returns the active system parameter with the given key.
// Parameters are not effective-dated.
func (s *Snapshot) Parameter(key string) (SystemParameter, error) {
	p, ok := s.params[key]
	if !ok {
		return SystemParameter{}, &ConfigurationMissingError{Kind: KindSystemParameter, Key: key}
	}
	return p, nil
}

// Template returns an active template by id.
func (s *Snapshot) Template(id int64) (SalaryTemplate, error) {
	for _, t := range s.templates {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return SalaryTemplate{}, &ConfigurationMissingError{Kind: KindSalaryTemplate, Key: strconv.FormatInt(id, 10)}
}

// ApplicableTemplates returns the active templates matching rank and
// department, in resolution order.
func (s *Snapshot) ApplicableTemplates(rankID, departmentID string) []SalaryTemplate {
	var out []SalaryTemplate
	for _, t := range s.templates {
		if t.Matches(rankID, departmentID) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// =============================================================================
// SNAPSHOT PROVIDERS
// =============================================================================

// SnapshotProvider hands out the snapshot a computation should read.
type SnapshotProvider interface {
	Current(ctx context.Context) (*Snapshot, error)
}

// versionedLoader is the part of TxConfigStore the cache needs.
type versionedLoader interface {
	ConfigVersion(ctx context.Context) (int64, error)
	LoadConfigSet(ctx context.Context) (ConfigSet, error)
}

// SnapshotCache serves the latest snapshot, rebuilding it only when the
// store version moves.
type SnapshotCache struct {
	store   versionedLoader
	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex // one rebuild at a time; readers never take it
}

func NewSnapshotCache(store TxConfigStore) *SnapshotCache {
	return &SnapshotCache{store: store}
}

func (c *SnapshotCache) Current(ctx context.Context) (*Snapshot, error) {
	version, err := c.store.ConfigVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read config version: %w", err)
	}
	if s := c.current.Load(); s != nil && s.version >= version {
		return s, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if s := c.current.Load(); s != nil && s.version >= version {
		return s, nil
	}

	set, err := c.store.LoadConfigSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config set: %w", err)
	}
	s := NewSnapshot(set)
	c.current.Store(s)
	return s, nil
}
