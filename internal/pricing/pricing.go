package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultModel is the table entry used for models without their own price.
const DefaultModel = "default"

type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps model ids to per-1K-token prices.
type Table struct {
	Models map[string]ModelPricing
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var models map[string]ModelPricing
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	for id, p := range models {
		if p.Input < 0 || p.Output < 0 {
			return nil, fmt.Errorf("pricing for %q: negative price", id)
		}
	}
	return &Table{Models: models}, nil
}

// Cost estimates the USD cost of a trial's token usage. Models missing from
// the table fall back to the default entry, or cost nothing without one.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	if t == nil {
		return 0
	}
	p, ok := t.Models[model]
	if !ok {
		if p, ok = t.Models[DefaultModel]; !ok {
			return 0
		}
	}
	return float64(inputTokens)/1000*p.Input + float64(outputTokens)/1000*p.Output
}
