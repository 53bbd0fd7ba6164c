package presets

import (
	"context"
	"embed"
	"fmt"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
)

//go:embed bundles/*.yaml
var bundleFS embed.FS

// Scenario is a named demo configuration made of bundles applied in order.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	bundles     func() ([]*factory.Bundle, error)
}

// Bundles returns the scenario's bundles in application order.
func (s Scenario) Bundles() ([]*factory.Bundle, error) { return s.bundles() }

// Load applies every bundle of the scenario.
func (s Scenario) Load(ctx context.Context, m *payroll.ConfigManager) ([]factory.ApplyResult, error) {
	bundles, err := s.bundles()
	if err != nil {
		return nil, err
	}
	var results []factory.ApplyResult
	for _, b := range bundles {
		res, err := b.Apply(ctx, m)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("scenario %s: bundle %s: %w", s.ID, b.Name, err)
		}
	}
	return results, nil
}

// EmbeddedBundle parses one of the YAML bundles shipped with the package.
func EmbeddedBundle(name string) (*factory.Bundle, error) {
	data, err := bundleFS.ReadFile("bundles/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown bundle %q", name)
	}
	return factory.ParseYAML(data)
}

var standardEffective = payroll.NewDate(2024, 1, 1)

// Scenarios lists every demo scenario.
func Scenarios() []Scenario {
	return []Scenario{
		{
			ID:          "standard-2024",
			Name:        "Standard 2024",
			Description: "Standard brackets, six insurance rates, rules, parameters and templates effective 2024-01-01",
			bundles: func() ([]*factory.Bundle, error) {
				return []*factory.Bundle{StandardBundle("standard-2024", standardEffective)}, nil
			},
		},
		{
			ID:          "rate-change-2025",
			Name:        "Rate change 2025",
			Description: "Standard 2024 plus pension/housing and overtime changes effective 2025-01-01",
			bundles: func() ([]*factory.Bundle, error) {
				change, err := EmbeddedBundle("rate-change-2025")
				if err != nil {
					return nil, err
				}
				return []*factory.Bundle{StandardBundle("standard-2024", standardEffective), change}, nil
			},
		},
	}
}

// GetScenario finds a scenario by id.
func GetScenario(id string) (Scenario, bool) {
	for _, s := range Scenarios() {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}
