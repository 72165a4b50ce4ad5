package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/signalnine/trialmatrix/internal/result"
	"github.com/signalnine/trialmatrix/internal/runner"
	"github.com/signalnine/trialmatrix/internal/sandbox"
)

func TestExitCodeJudge(t *testing.T) {
	tests := []struct {
		code   int
		passed bool
		score  float64
	}{
		{0, true, 1},
		{1, false, 0},
		{42, false, 0},
	}
	for _, tt := range tests {
		j, err := runner.ExitCodeJudge{}.Evaluate(context.Background(), nil, &sandbox.Result{ExitCode: tt.code})
		require.NoError(t, err)
		assert.Equal(t, tt.passed, j.Passed, "exit %d", tt.code)
		assert.Equal(t, tt.score, j.Score, "exit %d", tt.code)
	}
}

func TestMarkerJudge(t *testing.T) {
	j := runner.MarkerJudge{Marker: "TRIAL_PASSED"}
	ctx := context.Background()

	got, err := j.Evaluate(ctx, nil, &sandbox.Result{Stdout: "step 1\n  TRIAL_PASSED  \ndone\n"})
	require.NoError(t, err)
	assert.True(t, got.Passed)

	got, err = j.Evaluate(ctx, nil, &sandbox.Result{Stdout: "NOT_TRIAL_PASSED\n"})
	require.NoError(t, err)
	assert.False(t, got.Passed)
}

func TestJudgeFor(t *testing.T) {
	j, err := runner.JudgeFor("", "")
	require.NoError(t, err)
	assert.IsType(t, runner.ExitCodeJudge{}, j)

	j, err = runner.JudgeFor("marker", "OK")
	require.NoError(t, err)
	assert.Equal(t, runner.MarkerJudge{Marker: "OK"}, j)

	_, err = runner.JudgeFor("marker", "")
	assert.Error(t, err)
	_, err = runner.JudgeFor("llm", "")
	assert.Error(t, err)
}

func TestOutputRateLimitAdapter(t *testing.T) {
	tests := []struct {
		name    string
		res     *sandbox.Result
		limited bool
	}{
		{"matching stderr on failure", &sandbox.Result{ExitCode: 1, Stderr: "error: 429 Too Many Requests"}, true},
		{"matching stderr on success", &sandbox.Result{ExitCode: 0, Stderr: "retrying after 429"}, false},
		{"unrelated failure", &sandbox.Result{ExitCode: 1, Stderr: "segfault"}, false},
		{"timeout", &sandbox.Result{ExitCode: -1, TimedOut: true, Stderr: "429"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &stubSandbox{run: func(*sandbox.RunConfig) (*sandbox.Result, error) { return tt.res, nil }}
			a, err := runner.NewOutputRateLimitAdapter(runner.PassThroughAdapter{}, `429|rate limit`)
			require.NoError(t, err)

			inv, err := a.Invoke(context.Background(), &runner.ExecutionContext{Sandbox: sb, Container: &sandbox.RunConfig{Image: "x"}})
			if tt.limited {
				assert.ErrorIs(t, err, runner.ErrRateLimited)
				var rl *runner.RateLimitError
				require.True(t, errors.As(err, &rl))
				assert.Equal(t, "429", rl.Reason)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.res, inv.Result)
		})
	}

	_, err := runner.NewOutputRateLimitAdapter(runner.PassThroughAdapter{}, "(")
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	trials := []*result.TrialRecord{
		{RunNumber: 3, Status: result.StatusPassed},
		{RunNumber: 1, Status: result.StatusFailed},
		nil,
		{RunNumber: 2, Status: result.StatusTimedOut},
		{RunNumber: 4, Status: result.StatusError},
		{RunNumber: 5, Status: result.StatusPassed},
	}
	g := runner.Aggregate("T0", "m", trials, 2, 3, 0.95)
	assert.Equal(t, 5, g.Total)
	assert.Equal(t, 2, g.Passed)
	assert.Equal(t, 1, g.Failed)
	assert.Equal(t, 1, g.TimedOut)
	assert.Equal(t, 1, g.Errors)
	assert.Equal(t, 2, g.ResumedRuns)
	assert.InDelta(t, 2.0/3.0, g.PassRate, 1e-9)
	assert.True(t, g.MeetsMinimum)
	for i, tr := range g.Trials {
		assert.Equal(t, i+1, tr.RunNumber)
	}

	empty := runner.Aggregate("T0", "m", nil, 0, 1, 0.95)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.PassRate)
	assert.Zero(t, empty.CILow)
	assert.Zero(t, empty.CIHigh)
	assert.False(t, empty.MeetsMinimum)
}

func TestAggregateConsistency(t *testing.T) {
	statuses := []result.Status{result.StatusPassed, result.StatusFailed, result.StatusError, result.StatusTimedOut}
	rapid.Check(t, func(t *rapid.T) {
		picks := rapid.SliceOf(rapid.SampledFrom(statuses)).Draw(t, "statuses")
		trials := make([]*result.TrialRecord, len(picks))
		for i, s := range picks {
			trials[i] = &result.TrialRecord{RunNumber: i + 1, Status: s}
		}
		g := runner.Aggregate("T", "m", trials, 0, 1, 0.95)

		if g.Passed+g.Failed+g.Errors+g.TimedOut != g.Total {
			t.Fatalf("counts %d+%d+%d+%d != total %d", g.Passed, g.Failed, g.Errors, g.TimedOut, g.Total)
		}
		if d := g.Passed + g.Failed; d > 0 {
			if want := float64(g.Passed) / float64(d); g.PassRate != want {
				t.Fatalf("pass rate %v, want %v", g.PassRate, want)
			}
		} else if g.PassRate != 0 {
			t.Fatalf("pass rate %v with no decided trials", g.PassRate)
		}
		if g.CILow < 0 || g.CILow > g.CIHigh || g.CIHigh > 1 {
			t.Fatalf("interval [%v, %v] out of order", g.CILow, g.CIHigh)
		}
	})
}

func TestUsageAdapter(t *testing.T) {
	stdout := "working\n" +
		`{"model":"claude-sonnet","input_tokens":1500,"output_tokens":500}` + "\n" +
		`{"model":"claude-sonnet","input_tokens":500,"output_tokens":500}` + "\n"
	sb := &stubSandbox{run: func(*sandbox.RunConfig) (*sandbox.Result, error) {
		return &sandbox.Result{Stdout: stdout}, nil
	}}
	ec := &runner.ExecutionContext{Sandbox: sb, Container: &sandbox.RunConfig{Image: "x"}}

	inv, err := runner.UsageAdapter{Next: runner.PassThroughAdapter{}}.Invoke(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, 2000, inv.InputTokens)
	assert.Equal(t, 1000, inv.OutputTokens)

	reported := adapterFunc(func(ctx context.Context, ec *runner.ExecutionContext) (*runner.Invocation, error) {
		inv, err := runner.PassThroughAdapter{}.Invoke(ctx, ec)
		if err != nil {
			return nil, err
		}
		inv.InputTokens = 7
		return inv, nil
	})
	inv, err = runner.UsageAdapter{Next: reported}.Invoke(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, 7, inv.InputTokens, "adapter-reported usage wins")
	assert.Zero(t, inv.OutputTokens)
}
