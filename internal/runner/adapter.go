package runner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/signalnine/trialmatrix/internal/config"
	"github.com/signalnine/trialmatrix/internal/sandbox"
	"github.com/signalnine/trialmatrix/internal/usage"
)

// ErrRateLimited marks an invocation that should be retried after a backoff.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError is a rate-limit signal carrying an optional hint for how
// long to wait before the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *RateLimitError) Error() string {
	if e.Reason == "" {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: %s", ErrRateLimited, e.Reason)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Sandbox runs a single container to completion.
type Sandbox interface {
	Check(ctx context.Context) error
	Run(ctx context.Context, cfg *sandbox.RunConfig) (*sandbox.Result, error)
}

// ImagePreparer is implemented by sandboxes that can pull images ahead of a
// matrix.
type ImagePreparer interface {
	EnsureImage(ctx context.Context, image string) error
}

// ExecutionContext is everything an Adapter knows about the trial it runs.
type ExecutionContext struct {
	TestID    string
	TierID    string
	ModelID   string
	RunNumber int
	Tier      config.Tier
	Container *sandbox.RunConfig
	Sandbox   Sandbox
}

// Invocation is the outcome of one Adapter call.
type Invocation struct {
	Result       *sandbox.Result
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Adapter turns an execution context into a container invocation. Returning
// an error matching ErrRateLimited requests a retry; any other error fails
// the trial.
type Adapter interface {
	Invoke(ctx context.Context, ec *ExecutionContext) (*Invocation, error)
}

// PassThroughAdapter runs the prepared container as is.
type PassThroughAdapter struct{}

func (PassThroughAdapter) Invoke(ctx context.Context, ec *ExecutionContext) (*Invocation, error) {
	res, err := ec.Sandbox.Run(ctx, ec.Container)
	if err != nil {
		return nil, fmt.Errorf("running container: %w", err)
	}
	return &Invocation{Result: res}, nil
}

// OutputRateLimitAdapter reports a rate limit when a container exits
// non-zero and its stderr matches Pattern.
type OutputRateLimitAdapter struct {
	Next    Adapter
	Pattern *regexp.Regexp
}

// NewOutputRateLimitAdapter wraps next. An empty pattern disables detection.
func NewOutputRateLimitAdapter(next Adapter, pattern string) (*OutputRateLimitAdapter, error) {
	a := &OutputRateLimitAdapter{Next: next}
	if pattern == "" {
		return a, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling rate limit pattern: %w", err)
	}
	a.Pattern = re
	return a, nil
}

func (a *OutputRateLimitAdapter) Invoke(ctx context.Context, ec *ExecutionContext) (*Invocation, error) {
	inv, err := a.Next.Invoke(ctx, ec)
	if err != nil || a.Pattern == nil || inv == nil || inv.Result == nil {
		return inv, err
	}
	res := inv.Result
	if res.ExitCode != 0 && !res.TimedOut {
		if m := a.Pattern.FindString(res.Stderr); m != "" {
			return nil, &RateLimitError{Reason: m}
		}
	}
	return inv, nil
}

// UsageAdapter fills token counts from usage lines the container prints on
// stdout, unless the wrapped adapter already reported them.
type UsageAdapter struct {
	Next Adapter
}

func (a UsageAdapter) Invoke(ctx context.Context, ec *ExecutionContext) (*Invocation, error) {
	inv, err := a.Next.Invoke(ctx, ec)
	if err != nil || inv == nil || inv.Result == nil {
		return inv, err
	}
	if inv.InputTokens == 0 && inv.OutputTokens == 0 {
		inv.InputTokens, inv.OutputTokens = usage.Total(usage.ParseString(inv.Result.Stdout))
	}
	return inv, nil
}
