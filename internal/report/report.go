package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalnine/trialmatrix/internal/result"
)

// GroupRow is one (tier, model) line of a rendered summary.
type GroupRow struct {
	Tier         string  `json:"tier"`
	Model        string  `json:"model"`
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	Errors       int     `json:"error"`
	TimedOut     int     `json:"timed_out"`
	Resumed      int     `json:"resumed"`
	PassRate     float64 `json:"pass_rate"`
	CILow        float64 `json:"ci_low"`
	CIHigh       float64 `json:"ci_high"`
	MeetsMinimum bool    `json:"meets_minimum"`
	MeanTokens   float64 `json:"mean_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Write renders summary to w as "table" (default) or "json".
func Write(summary *result.EvalSummary, format string, w io.Writer) error {
	rows := Rows(summary)
	switch format {
	case "json":
		return writeJSON(summary, rows, w)
	case "", "table":
		return writeTable(summary, rows, w)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// Rows flattens summary into rows ordered by tier then model.
func Rows(summary *result.EvalSummary) []GroupRow {
	var rows []GroupRow
	for tier, models := range summary.Tiers {
		for model, g := range models {
			if g == nil {
				continue
			}
			row := GroupRow{
				Tier:         tier,
				Model:        model,
				Total:        g.Total,
				Passed:       g.Passed,
				Failed:       g.Failed,
				Errors:       g.Errors,
				TimedOut:     g.TimedOut,
				Resumed:      g.ResumedRuns,
				PassRate:     g.PassRate,
				CILow:        g.CILow,
				CIHigh:       g.CIHigh,
				MeetsMinimum: g.MeetsMinimum,
			}
			var tokens, executed int
			for _, tr := range g.Trials {
				if tr.Execution == nil {
					continue
				}
				executed++
				tokens += tr.Execution.Tokens
				row.TotalCostUSD += tr.Execution.CostUSD
			}
			if executed > 0 {
				row.MeanTokens = float64(tokens) / float64(executed)
			}
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Tier != rows[j].Tier {
			return rows[i].Tier < rows[j].Tier
		}
		return rows[i].Model < rows[j].Model
	})
	return rows
}

func writeTable(summary *result.EvalSummary, rows []GroupRow, w io.Writer) error {
	fmt.Fprintf(w, "Test %s: %s (%s)\n\n", summary.TestID, summary.Status, summary.EndedAt.Sub(summary.StartedAt).Round(time.Second))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tMODEL\tTOTAL\tPASS\tFAIL\tERROR\tTIMEOUT\tPASS RATE\tCI\tMIN\tMEAN TOKENS\tCOST")
	fmt.Fprintln(tw, strings.Repeat("-", 100))
	for _, r := range rows {
		minimum := "ok"
		if !r.MeetsMinimum {
			minimum = "LOW"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.0f%%\t[%.2f, %.2f]\t%s\t%.0f\t$%.2f\n",
			r.Tier, r.Model, r.Total, r.Passed, r.Failed, r.Errors, r.TimedOut,
			r.PassRate*100, r.CILow, r.CIHigh, minimum, r.MeanTokens, r.TotalCostUSD)
	}
	return tw.Flush()
}

func writeJSON(summary *result.EvalSummary, rows []GroupRow, w io.Writer) error {
	out := struct {
		TestID string     `json:"test_id"`
		Status string     `json:"status"`
		Groups []GroupRow `json:"groups"`
	}{summary.TestID, summary.Status, rows}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
