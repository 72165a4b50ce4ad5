package result

import "time"

// Status is the lifecycle state of a single trial.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusError    Status = "error"
	StatusTimedOut Status = "timed_out"
	StatusSkipped  Status = "skipped"
)

// Final reports whether s is a terminal status.
func (s Status) Final() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusTimedOut, StatusSkipped:
		return true
	}
	return false
}

// ExecutionInfo describes one container invocation.
type ExecutionInfo struct {
	ContainerID string        `json:"container_id,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration_ns"`
	TimedOut    bool          `json:"timed_out"`
	Tokens      int           `json:"tokens,omitempty"`
	CostUSD     float64       `json:"cost_usd,omitempty"`
}

// Judgment is a Judge's verdict on a completed trial.
type Judgment struct {
	Passed    bool    `json:"passed"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// TrialRecord is the outcome of one (tier, model, run) trial.
type TrialRecord struct {
	TierID       string         `json:"tier_id"`
	ModelID      string         `json:"model_id"`
	RunNumber    int            `json:"run_number"`
	Status       Status         `json:"status"`
	Execution    *ExecutionInfo `json:"execution,omitempty"`
	Judgment     *Judgment      `json:"judgment,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
}

// TierGroupSummary aggregates the trials of one (tier, model) pair executed
// in a single invocation.
type TierGroupSummary struct {
	TierID       string         `json:"tier_id"`
	ModelID      string         `json:"model_id"`
	Total        int            `json:"total"`
	Passed       int            `json:"passed"`
	Failed       int            `json:"failed"`
	Errors       int            `json:"error"`
	TimedOut     int            `json:"timed_out"`
	PassRate     float64        `json:"pass_rate"`
	CILow        float64        `json:"ci_low"`
	CIHigh       float64        `json:"ci_high"`
	MeetsMinimum bool           `json:"meets_minimum"`
	ResumedRuns  int            `json:"resumed_runs"`
	Trials       []*TrialRecord `json:"trials"`
}

// EvalSummary is the result of one scheduler invocation.
type EvalSummary struct {
	TestID    string                                  `json:"test_id"`
	StartedAt time.Time                               `json:"started_at"`
	EndedAt   time.Time                               `json:"ended_at"`
	Status    string                                  `json:"status"`
	Tiers     map[string]map[string]*TierGroupSummary `json:"tiers"`
}

// Group returns the summary for tier and model, or nil.
func (s *EvalSummary) Group(tier, model string) *TierGroupSummary {
	return s.Tiers[tier][model]
}
