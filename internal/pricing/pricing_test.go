package pricing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/trialmatrix/internal/pricing"
)

func TestLoadPricing(t *testing.T) {
	table, err := pricing.Load("../../testdata/pricing.yaml")
	require.NoError(t, err)

	// 2000 input at 0.003/1K + 1000 output at 0.015/1K
	assert.InDelta(t, 0.021, table.Cost("claude-sonnet", 2000, 1000), 1e-9)
	assert.InDelta(t, 0.0008, table.Cost("claude-haiku", 1000, 0), 1e-9)
}

func TestCostUnknownModel(t *testing.T) {
	table := &pricing.Table{}
	assert.Zero(t, table.Cost("unknown", 1000, 500))

	var nilTable *pricing.Table
	assert.Zero(t, nilTable.Cost("claude-sonnet", 1000, 500))
}

func TestCostDefaultEntry(t *testing.T) {
	table := &pricing.Table{Models: map[string]pricing.ModelPricing{
		"claude-sonnet":      {Input: 0.003, Output: 0.015},
		pricing.DefaultModel: {Input: 0.001, Output: 0.002},
	}}
	assert.InDelta(t, 0.021, table.Cost("claude-sonnet", 2000, 1000), 1e-9)
	assert.InDelta(t, 0.004, table.Cost("local-llama", 2000, 1000), 1e-9)
}

func TestLoadRejectsNegativePrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("m:\n  input: -1\n  output: 0.1\n"), 0o644))
	_, err := pricing.Load(path)
	assert.ErrorContains(t, err, "negative price")
}

func TestLoadMissing(t *testing.T) {
	_, err := pricing.Load("does-not-exist.yaml")
	assert.Error(t, err)
}
