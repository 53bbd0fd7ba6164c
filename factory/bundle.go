/*
Package factory provides YAML/JSON to Go configuration conversion.

PURPOSE:
  Converts configuration bundle documents into typed payroll records and
  applies them through ConfigManager, so every record a bundle creates is
  validated and audited like a manual write. This enables seeding and
  scenario loading without code changes.

YAML SCHEMA:
  name: standard-2024
  changed_by: system
  change_reason: initial configuration
  tax_schedules:
    - effective_date: 2024-01-01
      brackets:
        - {min_income: 0, max_income: 3000, tax_rate: 0.03, quick_deduction: 0}
        - {min_income: 3000, tax_rate: 0.10, quick_deduction: 210}
  insurance_rates:
    - {insurance_type: pension, employee_rate: 0.08, employer_rate: 0.16,
       min_base: 3000, max_base: 25000, effective_date: 2024-01-01}
  calculation_rules:
    - {rule_type: tax_threshold, rule_name: Tax threshold, rule_value: 5000, effective_date: 2024-01-01}
  system_parameters:
    - {parameter_key: insurance_base, parameter_value: gross, parameter_type: string, parameter_category: insurance}
  salary_templates:
    - name: Standard
      items:
        - {name: 住房补贴, calculation_type: percentage, value: 10, is_addition: true}

  The same document is accepted as JSON.

KEY FEATURES:
  - Validates every record before the first write
  - Tax schedules are written whole (CreateTaxBracketSet)
  - Applies atomically; records already in place are skipped, changed
    ones are updated, so re-applying a bundle is safe
  - Export turns the active configuration back into a bundle

SEE ALSO:
  - presets/: Ready-made bundles
  - payroll/manager.go: The write path bundles go through
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// Bundle is one configuration document.
type Bundle struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ChangedBy   string `yaml:"changed_by,omitempty" json:"changed_by,omitempty"`
	Reason      string `yaml:"change_reason,omitempty" json:"change_reason,omitempty"`

	TaxSchedules     []TaxScheduleDoc `yaml:"tax_schedules,omitempty" json:"tax_schedules,omitempty"`
	InsuranceRates   []RateDoc        `yaml:"insurance_rates,omitempty" json:"insurance_rates,omitempty"`
	CalculationRules []RuleDoc        `yaml:"calculation_rules,omitempty" json:"calculation_rules,omitempty"`
	SystemParameters []ParameterDoc   `yaml:"system_parameters,omitempty" json:"system_parameters,omitempty"`
	SalaryTemplates  []TemplateDoc    `yaml:"salary_templates,omitempty" json:"salary_templates,omitempty"`
}

// TaxScheduleDoc is a complete bracket schedule for one effective date.
type TaxScheduleDoc struct {
	EffectiveDate payroll.Date `yaml:"effective_date" json:"effective_date"`
	Brackets      []BracketDoc `yaml:"brackets" json:"brackets"`
}

type BracketDoc struct {
	MinIncome      decimal.Decimal  `yaml:"min_income" json:"min_income"`
	MaxIncome      *decimal.Decimal `yaml:"max_income,omitempty" json:"max_income,omitempty"`
	TaxRate        decimal.Decimal  `yaml:"tax_rate" json:"tax_rate"`
	QuickDeduction decimal.Decimal  `yaml:"quick_deduction" json:"quick_deduction"`
	Description    string           `yaml:"description,omitempty" json:"description,omitempty"`
}

type RateDoc struct {
	InsuranceType payroll.InsuranceType `yaml:"insurance_type" json:"insurance_type"`
	EmployeeRate  decimal.Decimal       `yaml:"employee_rate" json:"employee_rate"`
	EmployerRate  decimal.Decimal       `yaml:"employer_rate" json:"employer_rate"`
	MinBase       *decimal.Decimal      `yaml:"min_base,omitempty" json:"min_base,omitempty"`
	MaxBase       *decimal.Decimal      `yaml:"max_base,omitempty" json:"max_base,omitempty"`
	EffectiveDate payroll.Date          `yaml:"effective_date" json:"effective_date"`
	Description   string                `yaml:"description,omitempty" json:"description,omitempty"`
}

type RuleDoc struct {
	RuleType      payroll.RuleType `yaml:"rule_type" json:"rule_type"`
	RuleName      string           `yaml:"rule_name" json:"rule_name"`
	RuleValue     decimal.Decimal  `yaml:"rule_value" json:"rule_value"`
	Description   string           `yaml:"rule_description,omitempty" json:"rule_description,omitempty"`
	EffectiveDate payroll.Date     `yaml:"effective_date" json:"effective_date"`
}

type ParameterDoc struct {
	Key         string                     `yaml:"parameter_key" json:"parameter_key"`
	Value       string                     `yaml:"parameter_value" json:"parameter_value"`
	ValueType   payroll.ParameterValueType `yaml:"parameter_type" json:"parameter_type"`
	Category    payroll.ParameterCategory  `yaml:"parameter_category" json:"parameter_category"`
	Description string                     `yaml:"description,omitempty" json:"description,omitempty"`
	ReadOnly    bool                       `yaml:"read_only,omitempty" json:"read_only,omitempty"`
}

type TemplateDoc struct {
	Name          string    `yaml:"name" json:"name"`
	Description   string    `yaml:"description,omitempty" json:"description,omitempty"`
	RankIDs       []string  `yaml:"rank_ids,omitempty" json:"rank_ids,omitempty"`
	DepartmentIDs []string  `yaml:"department_ids,omitempty" json:"department_ids,omitempty"`
	Items         []ItemDoc `yaml:"items" json:"items"`
}

type ItemDoc struct {
	Name            string                  `yaml:"name" json:"name"`
	CalculationType payroll.CalculationType `yaml:"calculation_type" json:"calculation_type"`
	Value           decimal.Decimal         `yaml:"value" json:"value"`
	IsAddition      bool                    `yaml:"is_addition" json:"is_addition"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseYAML parses and validates a YAML bundle.
func ParseYAML(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle YAML: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// ParseJSON parses and validates a JSON bundle.
func ParseJSON(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle JSON: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadFile reads a bundle, choosing the format by extension.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return nil, fmt.Errorf("unsupported bundle format %q", filepath.Ext(path))
}

// YAML renders the bundle as a YAML document.
func (b *Bundle) YAML() ([]byte, error) {
	return yaml.Marshal(b)
}

// =============================================================================
// CONVERSION
// =============================================================================

func (d TaxScheduleDoc) Records() []payroll.TaxBracket {
	out := make([]payroll.TaxBracket, len(d.Brackets))
	for i, bd := range d.Brackets {
		out[i] = payroll.TaxBracket{
			MinIncome:      bd.MinIncome,
			MaxIncome:      bd.MaxIncome,
			TaxRate:        bd.TaxRate,
			QuickDeduction: bd.QuickDeduction,
			EffectiveDate:  d.EffectiveDate,
			IsActive:       true,
			Description:    bd.Description,
		}
	}
	return out
}

func (d RateDoc) Record() payroll.InsuranceRate {
	return payroll.InsuranceRate{
		InsuranceType: d.InsuranceType,
		EmployeeRate:  d.EmployeeRate,
		EmployerRate:  d.EmployerRate,
		MinBase:       d.MinBase,
		MaxBase:       d.MaxBase,
		EffectiveDate: d.EffectiveDate,
		IsActive:      true,
		Description:   d.Description,
	}
}

func (d RuleDoc) Record() payroll.CalculationRule {
	return payroll.CalculationRule{
		RuleType:        d.RuleType,
		RuleName:        d.RuleName,
		RuleValue:       d.RuleValue,
		RuleDescription: d.Description,
		EffectiveDate:   d.EffectiveDate,
		IsActive:        true,
	}
}

func (d ParameterDoc) Record() payroll.SystemParameter {
	return payroll.SystemParameter{
		Key:         d.Key,
		Value:       d.Value,
		ValueType:   d.ValueType,
		Category:    d.Category,
		Description: d.Description,
		IsEditable:  !d.ReadOnly,
		IsActive:    true,
	}
}

func (d TemplateDoc) Record() payroll.SalaryTemplate {
	t := payroll.SalaryTemplate{
		Name:          d.Name,
		Description:   d.Description,
		RankIDs:       append([]string(nil), d.RankIDs...),
		DepartmentIDs: append([]string(nil), d.DepartmentIDs...),
		IsActive:      true,
	}
	for _, it := range d.Items {
		t.Items = append(t.Items, payroll.SalaryTemplateItem{
			Name:            it.Name,
			CalculationType: it.CalculationType,
			Value:           it.Value,
			IsAddition:      it.IsAddition,
		})
	}
	return t
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate runs every write-time check that does not need the store.
func (b *Bundle) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("bundle name is required")
	}
	for i, s := range b.TaxSchedules {
		if err := payroll.ValidateBracketPartition(s.Records()); err != nil {
			return fmt.Errorf("tax_schedules[%d]: %w", i, err)
		}
	}
	var rates []payroll.InsuranceRate
	for i, d := range b.InsuranceRates {
		r := d.Record()
		r.ID = int64(i + 1)
		if err := payroll.ValidateInsuranceRate(r); err != nil {
			return fmt.Errorf("insurance_rates[%d]: %w", i, err)
		}
		if err := payroll.CheckRateUnique(r, rates); err != nil {
			return fmt.Errorf("insurance_rates[%d]: %w", i, err)
		}
		rates = append(rates, r)
	}
	var rules []payroll.CalculationRule
	for i, d := range b.CalculationRules {
		r := d.Record()
		r.ID = int64(i + 1)
		if err := payroll.ValidateCalculationRule(r); err != nil {
			return fmt.Errorf("calculation_rules[%d]: %w", i, err)
		}
		if err := payroll.CheckRuleUnique(r, rules); err != nil {
			return fmt.Errorf("calculation_rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	var params []payroll.SystemParameter
	for i, d := range b.SystemParameters {
		p := d.Record()
		p.ID = int64(i + 1)
		if err := payroll.ValidateSystemParameter(p); err != nil {
			return fmt.Errorf("system_parameters[%d]: %w", i, err)
		}
		if err := payroll.CheckParameterKeyUnique(p, params); err != nil {
			return fmt.Errorf("system_parameters[%d]: %w", i, err)
		}
		params = append(params, p)
	}
	for i, d := range b.SalaryTemplates {
		if err := payroll.ValidateSalaryTemplate(d.Record()); err != nil {
			return fmt.Errorf("salary_templates[%d]: %w", i, err)
		}
	}
	return nil
}

// =============================================================================
// APPLY / EXPORT
// =============================================================================

// ApplyResult counts what a bundle wrote. Unchanged counts records that
// already matched the active configuration and were left alone.
type ApplyResult struct {
	Bundle           string `json:"bundle"`
	TaxBrackets      int    `json:"tax_brackets"`
	InsuranceRates   int    `json:"insurance_rates"`
	CalculationRules int    `json:"calculation_rules"`
	SystemParameters int    `json:"system_parameters"`
	SalaryTemplates  int    `json:"salary_templates"`
	Unchanged        int    `json:"unchanged"`
}

// Apply writes the bundle through m in one transaction: either every
// record lands or none does. Records are matched against the active
// configuration by natural key (schedule date, insurance type and date,
// rule type and date, parameter key, template name). Matches that are
// identical are skipped and the rest are updated, so applying the same
// bundle twice writes nothing the second time.
func (b *Bundle) Apply(ctx context.Context, m *payroll.ConfigManager) (ApplyResult, error) {
	if err := b.Validate(); err != nil {
		return ApplyResult{Bundle: b.Name}, err
	}
	change := payroll.Change{ChangedBy: b.ChangedBy, Reason: b.Reason}
	if change.ChangedBy == "" {
		change.ChangedBy = "system"
	}
	if change.Reason == "" {
		change.Reason = "load bundle " + b.Name
	}

	var res ApplyResult
	err := m.Atomically(ctx, func(m *payroll.ConfigManager, tx payroll.ConfigReader) error {
		res = ApplyResult{Bundle: b.Name}
		return b.apply(ctx, m, tx, change, &res)
	})
	if err != nil {
		return ApplyResult{Bundle: b.Name}, err
	}
	return res, nil
}

func (b *Bundle) apply(ctx context.Context, m *payroll.ConfigManager, tx payroll.ConfigReader, change payroll.Change, res *ApplyResult) error {
	active := payroll.ListFilter{ActiveOnly: true}

	brackets, err := tx.ListTaxBrackets(ctx, active)
	if err != nil {
		return err
	}
	for _, s := range b.TaxSchedules {
		records := s.Records()
		if sameSchedule(bracketsOn(brackets, s.EffectiveDate), records) {
			res.Unchanged += len(records)
			continue
		}
		created, err := m.CreateTaxBracketSet(ctx, s.EffectiveDate, records, change)
		if err != nil {
			return fmt.Errorf("tax schedule %s: %w", s.EffectiveDate, err)
		}
		res.TaxBrackets += len(created)
	}

	rates, err := tx.ListInsuranceRates(ctx, active)
	if err != nil {
		return err
	}
	for _, d := range b.InsuranceRates {
		r := d.Record()
		cur, found := findRate(rates, r.InsuranceType, r.EffectiveDate)
		switch {
		case found && sameRate(cur, r):
			res.Unchanged++
			continue
		case found:
			r.ID = cur.ID
			_, err = m.UpdateInsuranceRate(ctx, r, change)
		default:
			_, err = m.CreateInsuranceRate(ctx, r, change)
		}
		if err != nil {
			return fmt.Errorf("insurance rate %s %s: %w", d.InsuranceType, d.EffectiveDate, err)
		}
		res.InsuranceRates++
	}

	rules, err := tx.ListCalculationRules(ctx, active)
	if err != nil {
		return err
	}
	for _, d := range b.CalculationRules {
		r := d.Record()
		cur, found := findRule(rules, r.RuleType, r.EffectiveDate)
		switch {
		case found && sameRule(cur, r):
			res.Unchanged++
			continue
		case found:
			r.ID = cur.ID
			_, err = m.UpdateCalculationRule(ctx, r, change)
		default:
			_, err = m.CreateCalculationRule(ctx, r, change)
		}
		if err != nil {
			return fmt.Errorf("calculation rule %s %s: %w", d.RuleType, d.EffectiveDate, err)
		}
		res.CalculationRules++
	}

	params, err := tx.ListSystemParameters(ctx, active)
	if err != nil {
		return err
	}
	for _, d := range b.SystemParameters {
		p := d.Record()
		cur, found := findParameter(params, p.Key)
		switch {
		case found && sameParameter(cur, p):
			res.Unchanged++
			continue
		case found:
			p.ID = cur.ID
			_, err = m.UpdateSystemParameter(ctx, p, change)
		default:
			_, err = m.CreateSystemParameter(ctx, p, change)
		}
		if err != nil {
			return fmt.Errorf("system parameter %s: %w", d.Key, err)
		}
		res.SystemParameters++
	}

	templates, err := tx.ListSalaryTemplates(ctx, active)
	if err != nil {
		return err
	}
	for _, d := range b.SalaryTemplates {
		t := d.Record()
		cur, found := findTemplate(templates, t.Name)
		switch {
		case found && sameTemplate(cur, t):
			res.Unchanged++
			continue
		case found:
			t.ID = cur.ID
			_, err = m.UpdateSalaryTemplate(ctx, t)
		default:
			_, err = m.CreateSalaryTemplate(ctx, t)
		}
		if err != nil {
			return fmt.Errorf("salary template %q: %w", d.Name, err)
		}
		res.SalaryTemplates++
	}
	return nil
}

// Export builds a bundle from the active configuration in r.
func Export(ctx context.Context, r payroll.ConfigReader, name string) (*Bundle, error) {
	active := payroll.ListFilter{ActiveOnly: true}
	b := &Bundle{Name: name}

	brackets, err := r.ListTaxBrackets(ctx, active)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]int)
	for _, br := range brackets {
		key := br.EffectiveDate.String()
		i, ok := byDate[key]
		if !ok {
			i = len(b.TaxSchedules)
			byDate[key] = i
			b.TaxSchedules = append(b.TaxSchedules, TaxScheduleDoc{EffectiveDate: br.EffectiveDate})
		}
		b.TaxSchedules[i].Brackets = append(b.TaxSchedules[i].Brackets, BracketDoc{
			MinIncome:      br.MinIncome,
			MaxIncome:      br.MaxIncome,
			TaxRate:        br.TaxRate,
			QuickDeduction: br.QuickDeduction,
			Description:    br.Description,
		})
	}

	rates, err := r.ListInsuranceRates(ctx, active)
	if err != nil {
		return nil, err
	}
	for _, rt := range rates {
		b.InsuranceRates = append(b.InsuranceRates, RateDoc{
			InsuranceType: rt.InsuranceType,
			EmployeeRate:  rt.EmployeeRate,
			EmployerRate:  rt.EmployerRate,
			MinBase:       rt.MinBase,
			MaxBase:       rt.MaxBase,
			EffectiveDate: rt.EffectiveDate,
			Description:   rt.Description,
		})
	}

	rules, err := r.ListCalculationRules(ctx, active)
	if err != nil {
		return nil, err
	}
	for _, ru := range rules {
		b.CalculationRules = append(b.CalculationRules, RuleDoc{
			RuleType:      ru.RuleType,
			RuleName:      ru.RuleName,
			RuleValue:     ru.RuleValue,
			Description:   ru.RuleDescription,
			EffectiveDate: ru.EffectiveDate,
		})
	}

	params, err := r.ListSystemParameters(ctx, active)
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		b.SystemParameters = append(b.SystemParameters, ParameterDoc{
			Key:         p.Key,
			Value:       p.Value,
			ValueType:   p.ValueType,
			Category:    p.Category,
			Description: p.Description,
			ReadOnly:    !p.IsEditable,
		})
	}

	templates, err := r.ListSalaryTemplates(ctx, active)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		doc := TemplateDoc{
			Name:          t.Name,
			Description:   t.Description,
			RankIDs:       t.RankIDs,
			DepartmentIDs: t.DepartmentIDs,
		}
		for _, it := range t.Items {
			doc.Items = append(doc.Items, ItemDoc{
				Name:            it.Name,
				CalculationType: it.CalculationType,
				Value:           it.Value,
				IsAddition:      it.IsAddition,
			})
		}
		b.SalaryTemplates = append(b.SalaryTemplates, doc)
	}
	return b, nil
}
