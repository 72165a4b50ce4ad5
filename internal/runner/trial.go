package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalnine/trialmatrix/internal/config"
	"github.com/signalnine/trialmatrix/internal/result"
	"github.com/signalnine/trialmatrix/internal/sandbox"
)

type attemptKind int

const (
	attemptOK attemptKind = iota
	attemptRateLimited
	attemptFatal
)

// attempt is the outcome of a single Adapter call.
type attempt struct {
	kind       attemptKind
	inv        *Invocation
	retryAfter time.Duration
	err        error
}

type trialSlot struct {
	testID string
	tier   config.Tier
	model  string
	run    int
}

// runTrial executes one trial, retrying rate-limited attempts, and always
// returns a finalized record.
func (s *Scheduler) runTrial(ctx context.Context, slot trialSlot) *result.TrialRecord {
	rec := &result.TrialRecord{
		TierID:    slot.tier.ID,
		ModelID:   slot.model,
		RunNumber: slot.run,
		Status:    result.StatusRunning,
	}
	log := s.logger.With(
		zap.String("tier", slot.tier.ID),
		zap.String("model", slot.model),
		zap.Int("run", slot.run))

	ec := &ExecutionContext{
		TestID:    slot.testID,
		TierID:    slot.tier.ID,
		ModelID:   slot.model,
		RunNumber: slot.run,
		Tier:      slot.tier,
		Sandbox:   s.sandbox,
	}

	maxAttempts := max(s.policy.MaxRetries, 1)
	var a attempt
	for k := range maxAttempts {
		rec.Attempts = k + 1
		ec.Container = s.containerConfig(slot)
		a = s.invoke(ctx, ec)
		if a.kind != attemptRateLimited || k == maxAttempts-1 {
			break
		}
		delay := s.backoff(k, a.retryAfter)
		log.Warn("rate limited, backing off",
			zap.Int("attempt", rec.Attempts),
			zap.Duration("delay", delay),
			zap.Error(a.err))
		if err := s.sleep(ctx, delay); err != nil {
			return failed(rec, fmt.Sprintf("interrupted during backoff: %v", err))
		}
	}

	switch a.kind {
	case attemptRateLimited:
		log.Error("retries exhausted", zap.Int("attempts", rec.Attempts))
		return failed(rec, fmt.Sprintf("retries exhausted after %d attempts: %v", rec.Attempts, a.err))
	case attemptFatal:
		log.Error("trial failed", zap.Error(a.err))
		return failed(rec, a.err.Error())
	}

	s.classify(ctx, ec, rec, a.inv)
	log.Info("trial finished", zap.String("status", string(rec.Status)), zap.Int("attempts", rec.Attempts))
	return rec
}

// invoke calls the Adapter and tags its outcome. A panic is a fatal attempt.
func (s *Scheduler) invoke(ctx context.Context, ec *ExecutionContext) (a attempt) {
	defer func() {
		if r := recover(); r != nil {
			a = attempt{kind: attemptFatal, err: fmt.Errorf("adapter panicked: %v", r)}
		}
	}()

	inv, err := s.adapter.Invoke(ctx, ec)
	switch {
	case errors.Is(err, ErrRateLimited):
		a = attempt{kind: attemptRateLimited, err: err}
		var rl *RateLimitError
		if errors.As(err, &rl) {
			a.retryAfter = rl.RetryAfter
		}
		return a
	case err != nil:
		return attempt{kind: attemptFatal, err: err}
	case inv == nil || inv.Result == nil:
		return attempt{kind: attemptFatal, err: errors.New("adapter returned no result")}
	}
	return attempt{kind: attemptOK, inv: inv}
}

// classify fills rec from a successful invocation. The Judge only sees
// containers that exited 0 within their timeout.
func (s *Scheduler) classify(ctx context.Context, ec *ExecutionContext, rec *result.TrialRecord, inv *Invocation) {
	res := inv.Result
	rec.Execution = &result.ExecutionInfo{
		ContainerID: res.ContainerID,
		ExitCode:    res.ExitCode,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		StartedAt:   res.StartedAt,
		EndedAt:     res.EndedAt,
		Duration:    res.Duration,
		TimedOut:    res.TimedOut,
		Tokens:      inv.InputTokens + inv.OutputTokens,
		CostUSD:     s.cost(ec.ModelID, inv),
	}

	switch {
	case res.TimedOut:
		rec.Status = result.StatusTimedOut
		rec.ErrorMessage = fmt.Sprintf("timed out after %s", ec.Container.Timeout)
	case res.ExitCode != 0:
		rec.Status = result.StatusError
		rec.ErrorMessage = fmt.Sprintf("container exited with code %d", res.ExitCode)
	default:
		j, err := s.evaluate(ctx, ec, res)
		if err != nil {
			rec.Status = result.StatusError
			rec.ErrorMessage = fmt.Sprintf("judge: %v", err)
			return
		}
		j.Score = min(max(j.Score, 0), 1)
		rec.Judgment = j
		rec.Status = result.StatusFailed
		if j.Passed {
			rec.Status = result.StatusPassed
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, ec *ExecutionContext, res *sandbox.Result) (j *result.Judgment, err error) {
	defer func() {
		if r := recover(); r != nil {
			j, err = nil, fmt.Errorf("panicked: %v", r)
		}
	}()
	j, err = s.judge.Evaluate(ctx, ec, res)
	if err == nil && j == nil {
		err = errors.New("no judgment returned")
	}
	return j, err
}

// cost prefers the adapter's own figure and falls back to the pricing table.
func (s *Scheduler) cost(model string, inv *Invocation) float64 {
	if inv.CostUSD > 0 {
		return inv.CostUSD
	}
	return s.pricing.Cost(model, inv.InputTokens, inv.OutputTokens)
}

// backoff returns min(initial * 2^k, max), raised to hint but never above
// max.
func (s *Scheduler) backoff(k int, hint time.Duration) time.Duration {
	ceiling := s.policy.MaxBackoff
	d := s.policy.InitialBackoff
	for i := 0; i < k && d < ceiling; i++ {
		d *= 2
	}
	d = min(d, ceiling)
	if hint > d {
		d = min(hint, ceiling)
	}
	return d
}

func (s *Scheduler) containerConfig(slot trialSlot) *sandbox.RunConfig {
	env := make(map[string]string, len(s.policy.Env)+8)
	for k, v := range s.policy.Env {
		env[k] = v
	}
	env["TEST_ID"] = slot.testID
	env["TIER_ID"] = slot.tier.ID
	env["TIER_NAME"] = slot.tier.Name
	env["MODEL_ID"] = slot.model
	env["RUN_NUMBER"] = strconv.Itoa(slot.run)
	if slot.tier.ToolsEnabled != nil {
		env["TOOLS_ENABLED"] = strconv.FormatBool(*slot.tier.ToolsEnabled)
	}
	if slot.tier.DelegationEnabled != nil {
		env["DELEGATION_ENABLED"] = strconv.FormatBool(*slot.tier.DelegationEnabled)
	}
	if slot.tier.PromptContent != "" {
		env["TIER_PROMPT"] = slot.tier.PromptContent
	}

	return &sandbox.RunConfig{
		Image:   s.policy.Image,
		Name:    containerName(slot.tier.ID, slot.model, slot.run),
		Command: s.policy.Command,
		Env:     env,
		Labels: map[string]string{
			sandbox.Label + ".test":  slot.testID,
			sandbox.Label + ".tier":  slot.tier.ID,
			sandbox.Label + ".model": slot.model,
			sandbox.Label + ".run":   strconv.Itoa(slot.run),
		},
		Timeout:     s.policy.TrialTimeout,
		CPULimit:    s.policy.CPULimit,
		MemoryLimit: s.policy.MemoryLimit,
	}
}

// containerName returns a unique Docker-valid name for one attempt.
func containerName(tier, model string, run int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("tm-%s-%s-r%d-%s", nameSafe(tier), nameSafe(model), run, suffix)
}

func nameSafe(s string) string {
	out := []byte(s)
	for i, b := range out {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_', b == '.', b == '-':
		default:
			out[i] = '-'
		}
	}
	if len(out) == 0 {
		return "x"
	}
	return string(out)
}

func failed(rec *result.TrialRecord, msg string) *result.TrialRecord {
	rec.Status = result.StatusError
	rec.ErrorMessage = msg
	return rec
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
