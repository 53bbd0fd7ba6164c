/*
store.go - Persistence interface for payroll configuration

PURPOSE:
  Defines the interface between the engine and the database. The store is
  pure storage and retrieval: validation, history and version bumping are
  driven by ConfigManager, never by the store itself.

KEY INTERFACES:
  ConfigReader:  Listing and id lookup for every configuration kind
  ConfigWriter:  Inserts and updates, plus the append-only history table
  ConfigStore:   Reader + Writer
  TxConfigStore: Atomic writes (WithTx), version counter, snapshot load

HISTORY CONTRACT:
  ParameterHistory rows are append-only. There is no Update or Delete for
  history, and AppendHistory must run in the same transaction as the
  configuration write it describes.

VERSION:
  Every committed write transaction bumps ConfigVersion. SnapshotCache uses
  it to decide whether its snapshot is stale.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - payroll/store/memory.go: In-memory for testing

SEE ALSO:
  - manager.go: The only writer
  - snapshot.go: Built from LoadConfigSet
*/
package payroll

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// ListFilter narrows a listing. Key matches the kind's natural key exactly
// (insurance_type, rule_type, parameter_category); for templates it is a
// case-insensitive substring of the name.
type ListFilter struct {
	Key        string
	ActiveOnly bool
}

// HistoryFilter narrows a history query. Limit <= 0 means no limit.
type HistoryFilter struct {
	ParameterType ConfigKind
	ParameterID   *int64
	Offset        int
	Limit         int
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// ConfigReader reads configuration records. Get methods return a
// *NotFoundError when the id does not exist; inactive records are returned.
type ConfigReader interface {
	ListTaxBrackets(ctx context.Context, f ListFilter) ([]TaxBracket, error)
	GetTaxBracket(ctx context.Context, id int64) (TaxBracket, error)

	ListInsuranceRates(ctx context.Context, f ListFilter) ([]InsuranceRate, error)
	GetInsuranceRate(ctx context.Context, id int64) (InsuranceRate, error)

	ListCalculationRules(ctx context.Context, f ListFilter) ([]CalculationRule, error)
	GetCalculationRule(ctx context.Context, id int64) (CalculationRule, error)

	ListSystemParameters(ctx context.Context, f ListFilter) ([]SystemParameter, error)
	GetSystemParameter(ctx context.Context, id int64) (SystemParameter, error)

	ListSalaryTemplates(ctx context.Context, f ListFilter) ([]SalaryTemplate, error)
	GetSalaryTemplate(ctx context.Context, id int64) (SalaryTemplate, error)

	// QueryHistory returns matching records newest first and the total
	// number of matches before paging.
	QueryHistory(ctx context.Context, f HistoryFilter) ([]ParameterHistory, int, error)
}

// ConfigWriter persists configuration records. Insert methods assign and
// return the new id; Update methods replace the stored record by id.
type ConfigWriter interface {
	InsertTaxBracket(ctx context.Context, b TaxBracket) (int64, error)
	UpdateTaxBracket(ctx context.Context, b TaxBracket) error

	InsertInsuranceRate(ctx context.Context, r InsuranceRate) (int64, error)
	UpdateInsuranceRate(ctx context.Context, r InsuranceRate) error

	InsertCalculationRule(ctx context.Context, r CalculationRule) (int64, error)
	UpdateCalculationRule(ctx context.Context, r CalculationRule) error

	InsertSystemParameter(ctx context.Context, p SystemParameter) (int64, error)
	UpdateSystemParameter(ctx context.Context, p SystemParameter) error

	// Templates are not audited and are hard-deleted.
	InsertSalaryTemplate(ctx context.Context, t SalaryTemplate) (int64, error)
	UpdateSalaryTemplate(ctx context.Context, t SalaryTemplate) error
	DeleteSalaryTemplate(ctx context.Context, id int64) error

	// AppendHistory is the only write to the history table.
	AppendHistory(ctx context.Context, h ParameterHistory) error
}

// ConfigStore is a reader and a writer.
type ConfigStore interface {
	ConfigReader
	ConfigWriter
}

// TxConfigStore adds transactions and versioning.
type TxConfigStore interface {
	ConfigStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed and the
	// configuration version is incremented.
	WithTx(ctx context.Context, fn func(ConfigStore) error) error

	// ConfigVersion returns the current configuration version.
	ConfigVersion(ctx context.Context) (int64, error)

	// LoadConfigSet reads every active record and the version they belong
	// to in one consistent read.
	LoadConfigSet(ctx context.Context) (ConfigSet, error)
}

// ConfigSet is the complete active configuration at one version.
type ConfigSet struct {
	Version          int64
	TaxBrackets      []TaxBracket
	InsuranceRates   []InsuranceRate
	CalculationRules []CalculationRule
	SystemParameters []SystemParameter
	SalaryTemplates  []SalaryTemplate
}

// =============================================================================
// PAGING
// =============================================================================

// Page is one window of a listing together with the unpaged total.
type Page[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

// Paginate slices records to [offset, offset+limit). limit <= 0 returns
// everything from offset.
func Paginate[T any](records []T, offset, limit int) Page[T] {
	total := len(records)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, records[offset:end])
	return Page[T]{Records: out, Total: total}
}
