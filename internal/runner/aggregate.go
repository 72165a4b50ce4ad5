package runner

import (
	"sort"

	"github.com/signalnine/trialmatrix/internal/result"
	"github.com/signalnine/trialmatrix/internal/stats"
)

// Aggregate summarizes the trials of one (tier, model) group. Errors and
// timeouts count toward Total but not toward the pass rate or the interval.
// resumed is the number of runs skipped because an earlier invocation
// already completed them; they are not part of trials.
func Aggregate(tier, model string, trials []*result.TrialRecord, resumed, minSuccessful int, confidence float64) *result.TierGroupSummary {
	g := &result.TierGroupSummary{
		TierID:      tier,
		ModelID:     model,
		ResumedRuns: resumed,
		Trials:      make([]*result.TrialRecord, 0, len(trials)),
	}
	for _, t := range trials {
		if t == nil {
			continue
		}
		g.Trials = append(g.Trials, t)
		switch t.Status {
		case result.StatusPassed:
			g.Passed++
		case result.StatusFailed:
			g.Failed++
		case result.StatusTimedOut:
			g.TimedOut++
		default:
			g.Errors++
		}
	}
	g.Total = len(g.Trials)
	sort.Slice(g.Trials, func(i, j int) bool {
		return g.Trials[i].RunNumber < g.Trials[j].RunNumber
	})

	decided := g.Passed + g.Failed
	g.PassRate = stats.PassRate(g.Passed, g.Failed)
	g.CILow, g.CIHigh = stats.WilsonInterval(g.Passed, decided, confidence)
	g.MeetsMinimum = decided >= minSuccessful
	return g
}
