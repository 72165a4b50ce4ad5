package report_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/signalnine/trialmatrix/internal/report"
	"github.com/signalnine/trialmatrix/internal/result"
)

func testSummary() *result.EvalSummary {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &result.EvalSummary{
		TestID:    "e1",
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
		Status:    "completed",
		Tiers: map[string]map[string]*result.TierGroupSummary{
			"T1": {
				"model-b": {TierID: "T1", ModelID: "model-b", Total: 2, Failed: 2, CIHigh: 0.65},
			},
			"T0": {
				"model-a": {
					TierID: "T0", ModelID: "model-a", Total: 3, Passed: 2, Errors: 1,
					PassRate: 1, CILow: 0.34, CIHigh: 1, MeetsMinimum: true,
					Trials: []*result.TrialRecord{
						{RunNumber: 1, Status: result.StatusPassed, Execution: &result.ExecutionInfo{Tokens: 1000, CostUSD: 0.5}},
						{RunNumber: 2, Status: result.StatusPassed, Execution: &result.ExecutionInfo{Tokens: 3000, CostUSD: 1.5}},
						{RunNumber: 3, Status: result.StatusError, ErrorMessage: "adapter failed"},
					},
				},
			},
		},
	}
}

func TestRows(t *testing.T) {
	rows := report.Rows(testSummary())
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if rows[0].Tier != "T0" || rows[1].Tier != "T1" {
		t.Errorf("rows not ordered by tier: %s, %s", rows[0].Tier, rows[1].Tier)
	}
	if rows[0].MeanTokens != 2000 {
		t.Errorf("mean tokens: got %v, want 2000", rows[0].MeanTokens)
	}
	if rows[0].TotalCostUSD != 2.0 {
		t.Errorf("total cost: got %v, want 2.0", rows[0].TotalCostUSD)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Write(testSummary(), "table", &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"Test e1: completed (1m30s)", "model-a", "model-b", "[0.34, 1.00]", "LOW"} {
		if !bytes.Contains([]byte(output), []byte(want)) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Write(testSummary(), "json", &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var out struct {
		TestID string            `json:"test_id"`
		Groups []report.GroupRow `json:"groups"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.TestID != "e1" || len(out.Groups) != 2 {
		t.Errorf("got %+v", out)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := report.Write(testSummary(), "markdown", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unsupported format")
	}
}
