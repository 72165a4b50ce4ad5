package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalnine/trialmatrix/internal/result"
	"github.com/signalnine/trialmatrix/internal/sandbox"
)

// Judge decides whether a completed trial passed.
type Judge interface {
	Evaluate(ctx context.Context, ec *ExecutionContext, res *sandbox.Result) (*result.Judgment, error)
}

// ExitCodeJudge passes trials whose container exited 0.
type ExitCodeJudge struct{}

func (ExitCodeJudge) Evaluate(_ context.Context, _ *ExecutionContext, res *sandbox.Result) (*result.Judgment, error) {
	if res.ExitCode == 0 {
		return &result.Judgment{Passed: true, Score: 1, Reasoning: "exit code 0"}, nil
	}
	return &result.Judgment{Passed: false, Score: 0, Reasoning: fmt.Sprintf("exit code %d", res.ExitCode)}, nil
}

// MarkerJudge passes trials whose stdout contains Marker on a line of its
// own.
type MarkerJudge struct {
	Marker string
}

func (j MarkerJudge) Evaluate(_ context.Context, _ *ExecutionContext, res *sandbox.Result) (*result.Judgment, error) {
	for line := range strings.SplitSeq(res.Stdout, "\n") {
		if strings.TrimSpace(line) == j.Marker {
			return &result.Judgment{Passed: true, Score: 1, Reasoning: "found marker " + j.Marker}, nil
		}
	}
	return &result.Judgment{Passed: false, Score: 0, Reasoning: "marker " + j.Marker + " not found in output"}, nil
}

// JudgeFor builds the judge named by kind.
func JudgeFor(kind, marker string) (Judge, error) {
	switch kind {
	case "", "exit_code":
		return ExitCodeJudge{}, nil
	case "marker":
		if marker == "" {
			return nil, fmt.Errorf("marker judge requires a marker")
		}
		return MarkerJudge{Marker: marker}, nil
	default:
		return nil, fmt.Errorf("unsupported judge kind %q", kind)
	}
}
