/*
Package sqlite provides a SQLite-backed implementation of payroll.TxConfigStore.

PURPOSE:
  Persists the configuration tables and the append-only parameter history.
  The same SQL runs on PostgreSQL with minor dialect changes.

KEY TABLES:
  tax_brackets, insurance_rates,
  calculation_rules, system_parameters: effective-dated / keyed records
  salary_templates, salary_template_items: templates and their ordered items
  parameter_history:                      append-only audit trail
  config_version:                         single-row version counter

APPEND-ONLY ENFORCEMENT:
  Triggers abort any UPDATE or DELETE on parameter_history.

NUMBERS AND DATES:
  Decimals are stored as TEXT (exact, no float rounding). Effective dates are
  "YYYY-MM-DD" TEXT, change dates a fixed-width UTC timestamp so text order
  is time order.

CONCURRENCY:
  Uses sync.RWMutex: reads share, WithTx is exclusive. Every committed
  WithTx bumps config_version inside the same SQL transaction.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  cache := payroll.NewSnapshotCache(store)

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// timestampLayout is fixed width so text order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements payroll.TxConfigStore using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex

	// version mirrors config_version after each commit so ConfigVersion
	// never waits on an open transaction.
	version atomic.Int64
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	v, err := store.reader().version(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	store.version.Store(v)

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS tax_brackets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		min_income TEXT NOT NULL,
		max_income TEXT,
		tax_rate TEXT NOT NULL,
		quick_deduction TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tax_brackets_effective
		ON tax_brackets(effective_date, is_active);

	CREATE TABLE IF NOT EXISTS insurance_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		insurance_type TEXT NOT NULL,
		employee_rate TEXT NOT NULL,
		employer_rate TEXT NOT NULL,
		min_base TEXT,
		max_base TEXT,
		effective_date TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_insurance_rates_type
		ON insurance_rates(insurance_type, effective_date);

	CREATE TABLE IF NOT EXISTS calculation_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_type TEXT NOT NULL,
		rule_name TEXT NOT NULL,
		rule_value TEXT NOT NULL,
		rule_description TEXT NOT NULL DEFAULT '',
		effective_date TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_calculation_rules_type
		ON calculation_rules(rule_type, effective_date);

	CREATE TABLE IF NOT EXISTS system_parameters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parameter_key TEXT NOT NULL,
		parameter_value TEXT NOT NULL,
		parameter_type TEXT NOT NULL,
		parameter_category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_editable INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_system_parameters_active_key
		ON system_parameters(parameter_key) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS salary_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		rank_ids TEXT NOT NULL DEFAULT '[]',
		department_ids TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS salary_template_items (
		template_id INTEGER NOT NULL REFERENCES salary_templates(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		calculation_type TEXT NOT NULL,
		value TEXT NOT NULL,
		is_addition INTEGER NOT NULL,
		PRIMARY KEY (template_id, position)
	);

	CREATE TABLE IF NOT EXISTS parameter_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		history_id TEXT NOT NULL UNIQUE,
		parameter_type TEXT NOT NULL,
		parameter_id INTEGER NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_by TEXT NOT NULL,
		change_reason TEXT NOT NULL,
		change_date TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parameter_history_param
		ON parameter_history(parameter_type, parameter_id);

	CREATE TRIGGER IF NOT EXISTS parameter_history_no_update
		BEFORE UPDATE ON parameter_history
		BEGIN SELECT RAISE(ABORT, 'parameter_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS parameter_history_no_delete
		BEFORE DELETE ON parameter_history
		BEGIN SELECT RAISE(ABORT, 'parameter_history is append-only'); END;

	CREATE TABLE IF NOT EXISTS config_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO config_version (id, version) VALUES (1, 0);
`

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// ROWS - column mappings and conversions
// =============================================================================

type bracketRow struct {
	ID             int64          `db:"id"`
	MinIncome      string         `db:"min_income"`
	MaxIncome      sql.NullString `db:"max_income"`
	TaxRate        string         `db:"tax_rate"`
	QuickDeduction string         `db:"quick_deduction"`
	EffectiveDate  string         `db:"effective_date"`
	IsActive       bool           `db:"is_active"`
	Description    string         `db:"description"`
}

func bracketRowOf(b payroll.TaxBracket) bracketRow {
	return bracketRow{
		ID:             b.ID,
		MinIncome:      b.MinIncome.String(),
		MaxIncome:      nullDecimal(b.MaxIncome),
		TaxRate:        b.TaxRate.String(),
		QuickDeduction: b.QuickDeduction.String(),
		EffectiveDate:  b.EffectiveDate.String(),
		IsActive:       b.IsActive,
		Description:    b.Description,
	}
}

func (r bracketRow) record() (payroll.TaxBracket, error) {
	var p parser
	b := payroll.TaxBracket{
		ID:             r.ID,
		MinIncome:      p.decimal(r.MinIncome),
		MaxIncome:      p.nullDecimal(r.MaxIncome),
		TaxRate:        p.decimal(r.TaxRate),
		QuickDeduction: p.decimal(r.QuickDeduction),
		EffectiveDate:  p.date(r.EffectiveDate),
		IsActive:       r.IsActive,
		Description:    r.Description,
	}
	return b, p.wrap("tax bracket", r.ID)
}

type rateRow struct {
	ID            int64          `db:"id"`
	InsuranceType string         `db:"insurance_type"`
	EmployeeRate  string         `db:"employee_rate"`
	EmployerRate  string         `db:"employer_rate"`
	MinBase       sql.NullString `db:"min_base"`
	MaxBase       sql.NullString `db:"max_base"`
	EffectiveDate string         `db:"effective_date"`
	IsActive      bool           `db:"is_active"`
	Description   string         `db:"description"`
}

func rateRowOf(r payroll.InsuranceRate) rateRow {
	return rateRow{
		ID:            r.ID,
		InsuranceType: string(r.InsuranceType),
		EmployeeRate:  r.EmployeeRate.String(),
		EmployerRate:  r.EmployerRate.String(),
		MinBase:       nullDecimal(r.MinBase),
		MaxBase:       nullDecimal(r.MaxBase),
		EffectiveDate: r.EffectiveDate.String(),
		IsActive:      r.IsActive,
		Description:   r.Description,
	}
}

func (r rateRow) record() (payroll.InsuranceRate, error) {
	var p parser
	rate := payroll.InsuranceRate{
		ID:            r.ID,
		InsuranceType: payroll.InsuranceType(r.InsuranceType),
		EmployeeRate:  p.decimal(r.EmployeeRate),
		EmployerRate:  p.decimal(r.EmployerRate),
		MinBase:       p.nullDecimal(r.MinBase),
		MaxBase:       p.nullDecimal(r.MaxBase),
		EffectiveDate: p.date(r.EffectiveDate),
		IsActive:      r.IsActive,
		Description:   r.Description,
	}
	return rate, p.wrap("insurance rate", r.ID)
}

type ruleRow struct {
	ID              int64  `db:"id"`
	RuleType        string `db:"rule_type"`
	RuleName        string `db:"rule_name"`
	RuleValue       string `db:"rule_value"`
	RuleDescription string `db:"rule_description"`
	EffectiveDate   string `db:"effective_date"`
	IsActive        bool   `db:"is_active"`
}

func ruleRowOf(r payroll.CalculationRule) ruleRow {
	return ruleRow{
		ID:              r.ID,
		RuleType:        string(r.RuleType),
		RuleName:        r.RuleName,
		RuleValue:       r.RuleValue.String(),
		RuleDescription: r.RuleDescription,
		EffectiveDate:   r.EffectiveDate.String(),
		IsActive:        r.IsActive,
	}
}

func (r ruleRow) record() (payroll.CalculationRule, error) {
	var p parser
	rule := payroll.CalculationRule{
		ID:              r.ID,
		RuleType:        payroll.RuleType(r.RuleType),
		RuleName:        r.RuleName,
		RuleValue:       p.decimal(r.RuleValue),
		RuleDescription: r.RuleDescription,
		EffectiveDate:   p.date(r.EffectiveDate),
		IsActive:        r.IsActive,
	}
	return rule, p.wrap("calculation rule", r.ID)
}

type paramRow struct {
	ID          int64  `db:"id"`
	Key         string `db:"parameter_key"`
	Value       string `db:"parameter_value"`
	ValueType   string `db:"parameter_type"`
	Category    string `db:"parameter_category"`
	Description string `db:"description"`
	IsEditable  bool   `db:"is_editable"`
	IsActive    bool   `db:"is_active"`
}

func paramRowOf(p payroll.SystemParameter) paramRow {
	return paramRow{
		ID:          p.ID,
		Key:         p.Key,
		Value:       p.Value,
		ValueType:   string(p.ValueType),
		Category:    string(p.Category),
		Description: p.Description,
		IsEditable:  p.IsEditable,
		IsActive:    p.IsActive,
	}
}

func (r paramRow) record() payroll.SystemParameter {
	return payroll.SystemParameter{
		ID:          r.ID,
		Key:         r.Key,
		Value:       r.Value,
		ValueType:   payroll.ParameterValueType(r.ValueType),
		Category:    payroll.ParameterCategory(r.Category),
		Description: r.Description,
		IsEditable:  r.IsEditable,
		IsActive:    r.IsActive,
	}
}

type templateRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	Description   string `db:"description"`
	RankIDs       string `db:"rank_ids"`
	DepartmentIDs string `db:"department_ids"`
	IsActive      bool   `db:"is_active"`
}

type itemRow struct {
	TemplateID      int64  `db:"template_id"`
	Position        int    `db:"position"`
	Name            string `db:"name"`
	CalculationType string `db:"calculation_type"`
	Value           string `db:"value"`
	IsAddition      bool   `db:"is_addition"`
}

type historyRow struct {
	Seq           int64          `db:"seq"`
	HistoryID     string         `db:"history_id"`
	ParameterType string         `db:"parameter_type"`
	ParameterID   int64          `db:"parameter_id"`
	OldValue      sql.NullString `db:"old_value"`
	NewValue      sql.NullString `db:"new_value"`
	ChangedBy     string         `db:"changed_by"`
	ChangeReason  string         `db:"change_reason"`
	ChangeDate    string         `db:"change_date"`
}

func (r historyRow) record() (payroll.ParameterHistory, error) {
	oldSnap, err := payroll.DecodeSnapshot([]byte(r.OldValue.String))
	if err != nil {
		return payroll.ParameterHistory{}, fmt.Errorf("history %s old_value: %w", r.HistoryID, err)
	}
	newSnap, err := payroll.DecodeSnapshot([]byte(r.NewValue.String))
	if err != nil {
		return payroll.ParameterHistory{}, fmt.Errorf("history %s new_value: %w", r.HistoryID, err)
	}
	changed, err := time.Parse(timestampLayout, r.ChangeDate)
	if err != nil {
		return payroll.ParameterHistory{}, fmt.Errorf("history %s change_date: %w", r.HistoryID, err)
	}
	return payroll.ParameterHistory{
		HistoryID:     r.HistoryID,
		ParameterType: payroll.ConfigKind(r.ParameterType),
		ParameterID:   r.ParameterID,
		OldValue:      oldSnap,
		NewValue:      newSnap,
		ChangedBy:     r.ChangedBy,
		ChangeReason:  r.ChangeReason,
		ChangeDate:    changed,
	}, nil
}

// parser collects the first conversion error so row mapping stays flat.
type parser struct{ err error }

func (p *parser) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func (p *parser) nullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d := p.decimal(ns.String)
	return &d
}

func (p *parser) date(s string) payroll.Date {
	d, err := payroll.ParseDate(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func (p *parser) wrap(what string, id int64) error {
	if p.err == nil {
		return nil
	}
	return fmt.Errorf("corrupt %s %d: %w", what, id, p.err)
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// =============================================================================
// QUERIES - shared by the store and its transactions
// =============================================================================

// queries runs every statement against either the database or a
// transaction.
type queries struct {
	q sqlx.ExtContext
}

func activeClause(f payroll.ListFilter) string {
	if f.ActiveOnly {
		return " AND is_active = 1"
	}
	return ""
}

func (qs queries) ListTaxBrackets(ctx context.Context, f payroll.ListFilter) ([]payroll.TaxBracket, error) {
	var rows []bracketRow
	query := `SELECT * FROM tax_brackets WHERE 1=1` + activeClause(f)
	if err := sqlx.SelectContext(ctx, qs.q, &rows, query); err != nil {
		return nil, fmt.Errorf("list tax brackets: %w", err)
	}
	out := make([]payroll.TaxBracket, 0, len(rows))
	for _, r := range rows {
		b, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	payroll.SortTaxBrackets(out)
	return out, nil
}

func (qs queries) GetTaxBracket(ctx context.Context, id int64) (payroll.TaxBracket, error) {
	var row bracketRow
	err := sqlx.GetContext(ctx, qs.q, &row, `SELECT * FROM tax_brackets WHERE id = ?`, id)
	if err != nil {
		return payroll.TaxBracket{}, notFoundOr(err, payroll.KindTaxBracket, id)
	}
	return row.record()
}

func (qs queries) InsertTaxBracket(ctx context.Context, b payroll.TaxBracket) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		INSERT INTO tax_brackets (min_income, max_income, tax_rate, quick_deduction, effective_date, is_active, description)
		VALUES (:min_income, :max_income, :tax_rate, :quick_deduction, :effective_date, :is_active, :description)
	`, bracketRowOf(b))
	if err != nil {
		return 0, fmt.Errorf("insert tax bracket: %w", err)
	}
	return res.LastInsertId()
}

func (qs queries) UpdateTaxBracket(ctx context.Context, b payroll.TaxBracket) error {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		UPDATE tax_brackets SET min_income = :min_income, max_income = :max_income, tax_rate = :tax_rate,
			quick_deduction = :quick_deduction, effective_date = :effective_date,
			is_active = :is_active, description = :description
		WHERE id = :id
	`, bracketRowOf(b))
	return affectedOne(res, err, payroll.KindTaxBracket, b.ID)
}

func (qs queries) ListInsuranceRates(ctx context.Context, f payroll.ListFilter) ([]payroll.InsuranceRate, error) {
	var rows []rateRow
	query := `SELECT * FROM insurance_rates WHERE (? = '' OR insurance_type = ?)` + activeClause(f)
	if err := sqlx.SelectContext(ctx, qs.q, &rows, query, f.Key, f.Key); err != nil {
		return nil, fmt.Errorf("list insurance rates: %w", err)
	}
	out := make([]payroll.InsuranceRate, 0, len(rows))
	for _, r := range rows {
		rate, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	payroll.SortInsuranceRates(out)
	return out, nil
}

func (qs queries) GetInsuranceRate(ctx context.Context, id int64) (payroll.InsuranceRate, error) {
	var row rateRow
	err := sqlx.GetContext(ctx, qs.q, &row, `SELECT * FROM insurance_rates WHERE id = ?`, id)
	if err != nil {
		return payroll.InsuranceRate{}, notFoundOr(err, payroll.KindInsuranceRate, id)
	}
	return row.record()
}

func (qs queries) InsertInsuranceRate(ctx context.Context, r payroll.InsuranceRate) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		INSERT INTO insurance_rates (insurance_type, employee_rate, employer_rate, min_base, max_base, effective_date, is_active, description)
		VALUES (:insurance_type, :employee_rate, :employer_rate, :min_base, :max_base, :effective_date, :is_active, :description)
	`, rateRowOf(r))
	if err != nil {
		return 0, fmt.Errorf("insert insurance rate: %w", err)
	}
	return res.LastInsertId()
}

func (qs queries) UpdateInsuranceRate(ctx context.Context, r payroll.InsuranceRate) error {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		UPDATE insurance_rates SET insurance_type = :insurance_type, employee_rate = :employee_rate,
			employer_rate = :employer_rate, min_base = :min_base, max_base = :max_base,
			effective_date = :effective_date, is_active = :is_active, description = :description
		WHERE id = :id
	`, rateRowOf(r))
	return affectedOne(res, err, payroll.KindInsuranceRate, r.ID)
}

func (qs queries) ListCalculationRules(ctx context.Context, f payroll.ListFilter) ([]payroll.CalculationRule, error) {
	var rows []ruleRow
	query := `SELECT * FROM calculation_rules WHERE (? = '' OR rule_type = ?)` + activeClause(f)
	if err := sqlx.SelectContext(ctx, qs.q, &rows, query, f.Key, f.Key); err != nil {
		return nil, fmt.Errorf("list calculation rules: %w", err)
	}
	out := make([]payroll.CalculationRule, 0, len(rows))
	for _, r := range rows {
		rule, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	payroll.SortCalculationRules(out)
	return out, nil
}

func (qs queries) GetCalculationRule(ctx context.Context, id int64) (payroll.CalculationRule, error) {
	var row ruleRow
	err := sqlx.GetContext(ctx, qs.q, &row, `SELECT * FROM calculation_rules WHERE id = ?`, id)
	if err != nil {
		return payroll.CalculationRule{}, notFoundOr(err, payroll.KindCalculationRule, id)
	}
	return row.record()
}

func (qs queries) InsertCalculationRule(ctx context.Context, r payroll.CalculationRule) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		INSERT INTO calculation_rules (rule_type, rule_name, rule_value, rule_description, effective_date, is_active)
		VALUES (:rule_type, :rule_name, :rule_value, :rule_description, :effective_date, :is_active)
	`, ruleRowOf(r))
	if err != nil {
		return 0, fmt.Errorf("insert calculation rule: %w", err)
	}
	return res.LastInsertId()
}

func (qs queries) UpdateCalculationRule(ctx context.Context, r payroll.CalculationRule) error {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		UPDATE calculation_rules SET rule_type = :rule_type, rule_name = :rule_name, rule_value = :rule_value,
			rule_description = :rule_description, effective_date = :effective_date, is_active = :is_active
		WHERE id = :id
	`, ruleRowOf(r))
	return affectedOne(res, err, payroll.KindCalculationRule, r.ID)
}

func (qs queries) ListSystemParameters(ctx context.Context, f payroll.ListFilter) ([]payroll.SystemParameter, error) {
	var rows []paramRow
	query := `SELECT * FROM system_parameters WHERE (? = '' OR parameter_category = ?)` + activeClause(f)
	if err := sqlx.SelectContext(ctx, qs.q, &rows, query, f.Key, f.Key); err != nil {
		return nil, fmt.Errorf("list system parameters: %w", err)
	}
	out := make([]payroll.SystemParameter, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	payroll.SortSystemParameters(out)
	return out, nil
}

func (qs queries) GetSystemParameter(ctx context.Context, id int64) (payroll.SystemParameter, error) {
	var row paramRow
	err := sqlx.GetContext(ctx, qs.q, &row, `SELECT * FROM system_parameters WHERE id = ?`, id)
	if err != nil {
		return payroll.SystemParameter{}, notFoundOr(err, payroll.KindSystemParameter, id)
	}
	return row.record(), nil
}

func (qs queries) InsertSystemParameter(ctx context.Context, p payroll.SystemParameter) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		INSERT INTO system_parameters (parameter_key, parameter_value, parameter_type, parameter_category, description, is_editable, is_active)
		VALUES (:parameter_key, :parameter_value, :parameter_type, :parameter_category, :description, :is_editable, :is_active)
	`, paramRowOf(p))
	if err != nil {
		return 0, fmt.Errorf("insert system parameter: %w", err)
	}
	return res.LastInsertId()
}

func (qs queries) UpdateSystemParameter(ctx context.Context, p payroll.SystemParameter) error {
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		UPDATE system_parameters SET parameter_key = :parameter_key, parameter_value = :parameter_value,
			parameter_type = :parameter_type, parameter_category = :parameter_category,
			description = :description, is_editable = :is_editable, is_active = :is_active
		WHERE id = :id
	`, paramRowOf(p))
	return affectedOne(res, err, payroll.KindSystemParameter, p.ID)
}

func (qs queries) ListSalaryTemplates(ctx context.Context, f payroll.ListFilter) ([]payroll.SalaryTemplate, error) {
	var rows []templateRow
	query := `SELECT * FROM salary_templates WHERE instr(lower(name), lower(?)) > 0` + activeClause(f) + ` ORDER BY id`
	if err := sqlx.SelectContext(ctx, qs.q, &rows, query, f.Key); err != nil {
		return nil, fmt.Errorf("list salary templates: %w", err)
	}
	return qs.withItems(ctx, rows)
}

func (qs queries) GetSalaryTemplate(ctx context.Context, id int64) (payroll.SalaryTemplate, error) {
	var row templateRow
	err := sqlx.GetContext(ctx, qs.q, &row, `SELECT * FROM salary_templates WHERE id = ?`, id)
	if err != nil {
		return payroll.SalaryTemplate{}, notFoundOr(err, payroll.KindSalaryTemplate, id)
	}
	ts, err := qs.withItems(ctx, []templateRow{row})
	if err != nil {
		return payroll.SalaryTemplate{}, err
	}
	return ts[0], nil
}

// withItems loads the items of the given templates and assembles records.
func (qs queries) withItems(ctx context.Context, rows []templateRow) ([]payroll.SalaryTemplate, error) {
	out := make([]payroll.SalaryTemplate, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	query, args, err := sqlx.In(`SELECT * FROM salary_template_items WHERE template_id IN (?) ORDER BY template_id, position`, ids)
	if err != nil {
		return nil, err
	}
	var items []itemRow
	if err := sqlx.SelectContext(ctx, qs.q, &items, qs.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load template items: %w", err)
	}
	byTemplate := make(map[int64][]payroll.SalaryTemplateItem)
	for _, it := range items {
		var p parser
		item := payroll.SalaryTemplateItem{
			Name:            it.Name,
			CalculationType: payroll.CalculationType(it.CalculationType),
			Value:           p.decimal(it.Value),
			IsAddition:      it.IsAddition,
		}
		if err := p.wrap("salary template item of", it.TemplateID); err != nil {
			return nil, err
		}
		byTemplate[it.TemplateID] = append(byTemplate[it.TemplateID], item)
	}

	for _, r := range rows {
		t := payroll.SalaryTemplate{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Items:       byTemplate[r.ID],
			IsActive:    r.IsActive,
		}
		if err := json.Unmarshal([]byte(r.RankIDs), &t.RankIDs); err != nil {
			return nil, fmt.Errorf("corrupt salary template %d rank_ids: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.DepartmentIDs), &t.DepartmentIDs); err != nil {
			return nil, fmt.Errorf("corrupt salary template %d department_ids: %w", r.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func templateRowOf(t payroll.SalaryTemplate) (templateRow, error) {
	ranks, err := json.Marshal(nonNil(t.RankIDs))
	if err != nil {
		return templateRow{}, err
	}
	deps, err := json.Marshal(nonNil(t.DepartmentIDs))
	if err != nil {
		return templateRow{}, err
	}
	return templateRow{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		RankIDs:       string(ranks),
		DepartmentIDs: string(deps),
		IsActive:      t.IsActive,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (qs queries) InsertSalaryTemplate(ctx context.Context, t payroll.SalaryTemplate) (int64, error) {
	row, err := templateRowOf(t)
	if err != nil {
		return 0, err
	}
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		INSERT INTO salary_templates (name, description, rank_ids, department_ids, is_active)
		VALUES (:name, :description, :rank_ids, :department_ids, :is_active)
	`, row)
	if err != nil {
		return 0, fmt.Errorf("insert salary template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, qs.writeItems(ctx, id, t.Items)
}

func (qs queries) UpdateSalaryTemplate(ctx context.Context, t payroll.SalaryTemplate) error {
	row, err := templateRowOf(t)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, qs.q, `
		UPDATE salary_templates SET name = :name, description = :description, rank_ids = :rank_ids,
			department_ids = :department_ids, is_active = :is_active
		WHERE id = :id
	`, row)
	if err := affectedOne(res, err, payroll.KindSalaryTemplate, t.ID); err != nil {
		return err
	}
	if _, err := qs.q.ExecContext(ctx, `DELETE FROM salary_template_items WHERE template_id = ?`, t.ID); err != nil {
		return fmt.Errorf("replace template items: %w", err)
	}
	return qs.writeItems(ctx, t.ID, t.Items)
}

func (qs queries) writeItems(ctx context.Context, templateID int64, items []payroll.SalaryTemplateItem) error {
	for i, item := range items {
		_, err := sqlx.NamedExecContext(ctx, qs.q, `
			INSERT INTO salary_template_items (template_id, position, name, calculation_type, value, is_addition)
			VALUES (:template_id, :position, :name, :calculation_type, :value, :is_addition)
		`, itemRow{
			TemplateID:      templateID,
			Position:        i,
			Name:            item.Name,
			CalculationType: string(item.CalculationType),
			Value:           item.Value.String(),
			IsAddition:      item.IsAddition,
		})
		if err != nil {
			return fmt.Errorf("insert template item: %w", err)
		}
	}
	return nil
}

func (qs queries) DeleteSalaryTemplate(ctx context.Context, id int64) error {
	res, err := qs.q.ExecContext(ctx, `DELETE FROM salary_templates WHERE id = ?`, id)
	return affectedOne(res, err, payroll.KindSalaryTemplate, id)
}

func (qs queries) AppendHistory(ctx context.Context, h payroll.ParameterHistory) error {
	oldValue, err := payroll.EncodeSnapshot(h.OldValue)
	if err != nil {
		return err
	}
	newValue, err := payroll.EncodeSnapshot(h.NewValue)
	if err != nil {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, qs.q, `
		INSERT INTO parameter_history (history_id, parameter_type, parameter_id, old_value, new_value, changed_by, change_reason, change_date)
		VALUES (:history_id, :parameter_type, :parameter_id, :old_value, :new_value, :changed_by, :change_reason, :change_date)
	`, historyRow{
		HistoryID:     h.HistoryID,
		ParameterType: string(h.ParameterType),
		ParameterID:   h.ParameterID,
		OldValue:      nullBytes(oldValue),
		NewValue:      nullBytes(newValue),
		ChangedBy:     h.ChangedBy,
		ChangeReason:  h.ChangeReason,
		ChangeDate:    h.ChangeDate.UTC().Format(timestampLayout),
	})
	if err != nil {
		return fmt.Errorf("insert parameter history: %w", err)
	}
	return nil
}

func (qs queries) QueryHistory(ctx context.Context, f payroll.HistoryFilter) ([]payroll.ParameterHistory, int, error) {
	where := []string{"1=1"}
	var args []any
	if f.ParameterType != "" {
		where = append(where, "parameter_type = ?")
		args = append(args, string(f.ParameterType))
	}
	if f.ParameterID != nil {
		where = append(where, "parameter_id = ?")
		args = append(args, *f.ParameterID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, qs.q, &total, `SELECT COUNT(*) FROM parameter_history WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count parameter history: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []historyRow
	query := `SELECT * FROM parameter_history WHERE ` + cond + ` ORDER BY change_date DESC, seq DESC LIMIT ? OFFSET ?`
	if err := sqlx.SelectContext(ctx, qs.q, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("query parameter history: %w", err)
	}
	out := make([]payroll.ParameterHistory, 0, len(rows))
	for _, r := range rows {
		h, err := r.record()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, h)
	}
	return out, total, nil
}

func (qs queries) version(ctx context.Context) (int64, error) {
	var v int64
	if err := sqlx.GetContext(ctx, qs.q, &v, `SELECT version FROM config_version WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("read config version: %w", err)
	}
	return v, nil
}

func (qs queries) bumpVersion(ctx context.Context) error {
	_, err := qs.q.ExecContext(ctx, `UPDATE config_version SET version = version + 1 WHERE id = 1`)
	return err
}

func (qs queries) loadConfigSet(ctx context.Context) (payroll.ConfigSet, error) {
	var (
		set    payroll.ConfigSet
		err    error
		active = payroll.ListFilter{ActiveOnly: true}
	)
	if set.Version, err = qs.version(ctx); err != nil {
		return set, err
	}
	if set.TaxBrackets, err = qs.ListTaxBrackets(ctx, active); err != nil {
		return set, err
	}
	if set.InsuranceRates, err = qs.ListInsuranceRates(ctx, active); err != nil {
		return set, err
	}
	if set.CalculationRules, err = qs.ListCalculationRules(ctx, active); err != nil {
		return set, err
	}
	if set.SystemParameters, err = qs.ListSystemParameters(ctx, active); err != nil {
		return set, err
	}
	if set.SalaryTemplates, err = qs.ListSalaryTemplates(ctx, active); err != nil {
		return set, err
	}
	return set, nil
}

func notFoundOr(err error, kind payroll.ConfigKind, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &payroll.NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("get %s %d: %w", kind, id, err)
}

func affectedOne(res sql.Result, err error, kind payroll.ConfigKind, id int64) error {
	if err != nil {
		return fmt.Errorf("write %s %d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &payroll.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// =============================================================================
// STORE - locking wrappers
// =============================================================================

func (s *Store) reader() queries { return queries{q: s.db} }

// write runs a single statement in its own transaction so it still bumps
// the version.
func (s *Store) write(ctx context.Context, fn func(queries) error) error {
	return s.WithTx(ctx, func(tx payroll.ConfigStore) error {
		return fn(tx.(*txStore).queries)
	})
}

func (s *Store) ListTaxBrackets(ctx context.Context, f payroll.ListFilter) ([]payroll.TaxBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListTaxBrackets(ctx, f)
}

func (s *Store) GetTaxBracket(ctx context.Context, id int64) (payroll.TaxBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetTaxBracket(ctx, id)
}

func (s *Store) InsertTaxBracket(ctx context.Context, b payroll.TaxBracket) (id int64, err error) {
	err = s.write(ctx, func(q queries) error {
		id, err = q.InsertTaxBracket(ctx, b)
		return err
	})
	return id, err
}

func (s *Store) UpdateTaxBracket(ctx context.Context, b payroll.TaxBracket) error {
	return s.write(ctx, func(q queries) error { return q.UpdateTaxBracket(ctx, b) })
}

func (s *Store) ListInsuranceRates(ctx context.Context, f payroll.ListFilter) ([]payroll.InsuranceRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListInsuranceRates(ctx, f)
}

func (s *Store) GetInsuranceRate(ctx context.Context, id int64) (payroll.InsuranceRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetInsuranceRate(ctx, id)
}

func (s *Store) InsertInsuranceRate(ctx context.Context, r payroll.InsuranceRate) (id int64, err error) {
	err = s.write(ctx, func(q queries) error {
		id, err = q.InsertInsuranceRate(ctx, r)
		return err
	})
	return id, err
}

func (s *Store) UpdateInsuranceRate(ctx context.Context, r payroll.InsuranceRate) error {
	return s.write(ctx, func(q queries) error { return q.UpdateInsuranceRate(ctx, r) })
}

func (s *Store) ListCalculationRules(ctx context.Context, f payroll.ListFilter) ([]payroll.CalculationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListCalculationRules(ctx, f)
}

func (s *Store) GetCalculationRule(ctx context.Context, id int64) (payroll.CalculationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetCalculationRule(ctx, id)
}

func (s *Store) InsertCalculationRule(ctx context.Context, r payroll.CalculationRule) (id int64, err error) {
	err = s.write(ctx, func(q queries) error {
		id, err = q.InsertCalculationRule(ctx, r)
		return err
	})
	return id, err
}

func (s *Store) UpdateCalculationRule(ctx context.Context, r payroll.CalculationRule) error {
	return s.write(ctx, func(q queries) error { return q.UpdateCalculationRule(ctx, r) })
}

func (s *Store) ListSystemParameters(ctx context.Context, f payroll.ListFilter) ([]payroll.SystemParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListSystemParameters(ctx, f)
}

func (s *Store) GetSystemParameter(ctx context.Context, id int64) (payroll.SystemParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetSystemParameter(ctx, id)
}

func (s *Store) InsertSystemParameter(ctx context.Context, p payroll.SystemParameter) (id int64, err error) {
	err = s.write(ctx, func(q queries) error {
		id, err = q.InsertSystemParameter(ctx, p)
		return err
	})
	return id, err
}

func (s *Store) UpdateSystemParameter(ctx context.Context, p payroll.SystemParameter) error {
	return s.write(ctx, func(q queries) error { return q.UpdateSystemParameter(ctx, p) })
}

func (s *Store) ListSalaryTemplates(ctx context.Context, f payroll.ListFilter) ([]payroll.SalaryTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListSalaryTemplates(ctx, f)
}

func (s *Store) GetSalaryTemplate(ctx context.Context, id int64) (payroll.SalaryTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetSalaryTemplate(ctx, id)
}

func (s *Store) InsertSalaryTemplate(ctx context.Context, t payroll.SalaryTemplate) (id int64, err error) {
	err = s.write(ctx, func(q queries) error {
		id, err = q.InsertSalaryTemplate(ctx, t)
		return err
	})
	return id, err
}

func (s *Store) UpdateSalaryTemplate(ctx context.Context, t payroll.SalaryTemplate) error {
	return s.write(ctx, func(q queries) error { return q.UpdateSalaryTemplate(ctx, t) })
}

func (s *Store) DeleteSalaryTemplate(ctx context.Context, id int64) error {
	return s.write(ctx, func(q queries) error { return q.DeleteSalaryTemplate(ctx, id) })
}

func (s *Store) AppendHistory(ctx context.Context, h payroll.ParameterHistory) error {
	return s.write(ctx, func(q queries) error { return q.AppendHistory(ctx, h) })
}

func (s *Store) QueryHistory(ctx context.Context, f payroll.HistoryFilter) ([]payroll.ParameterHistory, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().QueryHistory(ctx, f)
}

// =============================================================================
// TRANSACTIONS AND VERSIONING
// =============================================================================

// WithTx executes a function within a database transaction and bumps the
// configuration version before committing.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.ConfigStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	ts := &txStore{queries: queries{q: sqlTx}}
	if err := fn(ts); err != nil {
		return err
	}
	if err := ts.bumpVersion(ctx); err != nil {
		return fmt.Errorf("bump config version: %w", err)
	}
	v, err := ts.version(ctx)
	if err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return err
	}
	s.version.Store(v)
	return nil
}

// txStore is the view handed to WithTx callbacks. Its methods come from
// queries and run on the open transaction.
type txStore struct {
	queries
}

// ConfigVersion returns the last committed version without touching the
// database.
func (s *Store) ConfigVersion(context.Context) (int64, error) {
	return s.version.Load(), nil
}

// LoadConfigSet reads all active configuration in one read transaction.
func (s *Store) LoadConfigSet(ctx context.Context) (payroll.ConfigSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return payroll.ConfigSet{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()
	return queries{q: sqlTx}.loadConfigSet(ctx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset drops all configuration and history (for testing/demo). The
// version keeps counting so cached snapshots are invalidated.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"salary_template_items", "salary_templates", "parameter_history",
		"system_parameters", "calculation_rules", "insurance_rates", "tax_brackets"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	if err := s.reader().bumpVersion(ctx); err != nil {
		return err
	}
	v, err := s.reader().version(ctx)
	if err != nil {
		return err
	}
	s.version.Store(v)
	return nil
}

var _ payroll.TxConfigStore = (*Store)(nil)
