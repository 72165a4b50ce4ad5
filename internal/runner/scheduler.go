// Package runner schedules the evaluation matrix: every (tier, model, run)
// trial is executed in a sandbox, judged, recorded for resumption and
// aggregated into per-group summaries.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/trialmatrix/internal/config"
	"github.com/signalnine/trialmatrix/internal/pricing"
	"github.com/signalnine/trialmatrix/internal/progress"
	"github.com/signalnine/trialmatrix/internal/result"
	"github.com/signalnine/trialmatrix/internal/stats"
)

var (
	ErrNoModels               = errors.New("no models given")
	ErrUnknownTier            = config.ErrUnknownTier
	ErrProgressNotInitialized = errors.New("progress state not initialized")
)

const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// TierConfigProvider resolves tier ids to their configuration.
type TierConfigProvider interface {
	TierIDs() []string
	Tier(id string) (config.Tier, error)
}

// RunRequest selects the part of the matrix to execute. Nil pointers fall
// back to the scheduler's policy.
type RunRequest struct {
	TestID      string
	Tiers       []string
	Models      []string
	RunsPerTier *int
	Parallel    *bool
	ResumeFrom  string
}

// Scheduler runs evaluation matrices. A Scheduler runs one test at a time.
type Scheduler struct {
	sandbox    Sandbox
	tiers      TierConfigProvider
	policy     config.Policy
	adapter    Adapter
	judge      Judge
	logger     *zap.Logger
	pricing    *pricing.Table
	confidence float64

	progressPath string
	resultsDir   string
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error

	tracker *progress.Tracker
}

type Option func(*Scheduler)

func WithAdapter(a Adapter) Option {
	return func(s *Scheduler) {
		s.adapter = a
	}
}

func WithJudge(j Judge) Option {
	return func(s *Scheduler) {
		s.judge = j
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithProgressPath persists progress to path after every trial.
func WithProgressPath(path string) Option {
	return func(s *Scheduler) {
		s.progressPath = path
	}
}

// WithResultsDir writes trial records and summary.json under dir.
func WithResultsDir(dir string) Option {
	return func(s *Scheduler) {
		s.resultsDir = dir
	}
}

// WithPricing estimates trial cost from token counts when the adapter does
// not report one.
func WithPricing(t *pricing.Table) Option {
	return func(s *Scheduler) {
		s.pricing = t
	}
}

// WithConfidence sets the confidence level of the reported intervals.
func WithConfidence(c float64) Option {
	return func(s *Scheduler) {
		s.confidence = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleep = sleep
	}
}

// New returns a Scheduler after verifying the sandbox runtime is healthy.
func New(ctx context.Context, sb Sandbox, tiers TierConfigProvider, policy config.Policy, opts ...Option) (*Scheduler, error) {
	if sb == nil {
		return nil, errors.New("sandbox is required")
	}
	if tiers == nil {
		return nil, errors.New("tier config provider is required")
	}
	if err := sb.Check(ctx); err != nil {
		return nil, fmt.Errorf("checking sandbox: %w", err)
	}

	s := &Scheduler{
		sandbox:    sb,
		tiers:      tiers,
		policy:     policy,
		adapter:    PassThroughAdapter{},
		judge:      ExitCodeJudge{},
		logger:     zap.NewNop(),
		confidence: stats.DefaultConfidence,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunTest executes the requested matrix and returns its summary. Only
// configuration problems, a failed image preparation and a failed final
// save are returned as errors; per-trial failures are reported in the
// summary. A cancelled ctx stops dispatching new trials and returns the
// partial summary together with the context error.
func (s *Scheduler) RunTest(ctx context.Context, req RunRequest) (*result.EvalSummary, error) {
	if req.TestID == "" {
		return nil, errors.New("test id is required")
	}
	if len(req.Models) == 0 {
		return nil, ErrNoModels
	}
	tiers, err := s.resolveTiers(req.Tiers)
	if err != nil {
		return nil, err
	}
	runs := s.policy.RunsPerTier
	if req.RunsPerTier != nil {
		runs = *req.RunsPerTier
	}
	if runs < 1 {
		return nil, fmt.Errorf("runs per tier must be at least 1, got %d", runs)
	}
	parallel := s.policy.Parallel
	if req.Parallel != nil {
		parallel = *req.Parallel
	}

	if err := s.initProgress(req.TestID, req.ResumeFrom); err != nil {
		return nil, err
	}
	if err := s.prepareImage(ctx); err != nil {
		return nil, err
	}

	summary := &result.EvalSummary{
		TestID:    req.TestID,
		StartedAt: s.now().UTC(),
		Status:    string(result.StatusRunning),
		Tiers:     map[string]map[string]*result.TierGroupSummary{},
	}
	s.logger.Info("starting test",
		zap.String("test_id", req.TestID),
		zap.Int("tiers", len(tiers)),
		zap.Int("models", len(req.Models)),
		zap.Int("runs_per_tier", runs),
		zap.Bool("parallel", parallel))

	for _, tier := range tiers {
		for _, model := range req.Models {
			if ctx.Err() != nil {
				break
			}
			g := s.runGroup(ctx, req.TestID, tier, model, runs, parallel)
			if summary.Tiers[tier.ID] == nil {
				summary.Tiers[tier.ID] = map[string]*result.TierGroupSummary{}
			}
			summary.Tiers[tier.ID][model] = g
		}
	}

	if ctx.Err() != nil {
		summary.Status = StatusCancelled
	}
	if err := s.Finalize(summary); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("test %s interrupted: %w", req.TestID, err)
	}
	return summary, nil
}

// Finalize stamps the summary's end time, marks it completed unless it was
// cancelled, and performs the final progress and summary writes.
func (s *Scheduler) Finalize(summary *result.EvalSummary) error {
	if s.tracker == nil {
		return ErrProgressNotInitialized
	}
	summary.EndedAt = s.now().UTC()
	if summary.Status != StatusCancelled {
		summary.Status = StatusCompleted
	}
	if err := s.tracker.Flush(); err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	if s.resultsDir != "" {
		if err := result.WriteSummary(result.RunDir(s.resultsDir, summary.TestID), summary); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
	}
	s.logger.Info("test finished", zap.String("test_id", summary.TestID), zap.Time("ended_at", summary.EndedAt))
	return nil
}

// Progress returns a snapshot of the progress state, or nil before the
// first RunTest.
func (s *Scheduler) Progress() *progress.State {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Snapshot()
}

func (s *Scheduler) resolveTiers(ids []string) ([]config.Tier, error) {
	if len(ids) == 0 {
		ids = s.tiers.TierIDs()
	}
	if len(ids) == 0 {
		return nil, errors.New("no tiers to run")
	}
	tiers := make([]config.Tier, 0, len(ids))
	for _, id := range ids {
		t, err := s.tiers.Tier(id)
		if err != nil {
			if errors.Is(err, ErrUnknownTier) {
				return nil, err
			}
			return nil, fmt.Errorf("resolving tier %q: %w", id, err)
		}
		if t.ID == "" {
			t.ID = id
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// initProgress loads the state to resume from when it belongs to testID and
// starts a fresh one otherwise. Progress is written to the configured
// progress path, falling back to the resume file only when that file is
// absent or belongs to testID.
func (s *Scheduler) initProgress(testID, resumeFrom string) error {
	path := s.progressPath
	if path == "" {
		path = resumeFrom
	}

	var state *progress.State
	if resumeFrom != "" {
		loaded, err := progress.Load(resumeFrom)
		if err != nil {
			return fmt.Errorf("loading progress: %w", err)
		}
		switch {
		case loaded == nil:
			s.logger.Info("no usable progress file, starting fresh", zap.String("path", resumeFrom))
		case loaded.TestID != testID:
			s.logger.Warn("progress file belongs to another test, starting fresh",
				zap.String("path", resumeFrom),
				zap.String("file_test_id", loaded.TestID))
			if path == resumeFrom {
				// Never overwrite another test's recorded runs.
				s.logger.Warn("no progress path configured, progress will not be persisted")
				path = ""
			}
		default:
			state = loaded
			s.logger.Info("resuming test", zap.String("test_id", testID), zap.String("path", resumeFrom))
		}
	}
	if state == nil {
		state = progress.NewState(testID, s.now())
	}
	s.tracker = progress.NewTracker(state, path)
	return nil
}

func (s *Scheduler) prepareImage(ctx context.Context) error {
	if !s.policy.PullImage {
		return nil
	}
	p, ok := s.sandbox.(ImagePreparer)
	if !ok {
		return nil
	}
	if err := p.EnsureImage(ctx, s.policy.Image); err != nil {
		return fmt.Errorf("preparing image: %w", err)
	}
	return nil
}

// runGroup runs every pending run of one (tier, model) pair and aggregates
// the trials executed by this call.
func (s *Scheduler) runGroup(ctx context.Context, testID string, tier config.Tier, model string, runs int, parallel bool) *result.TierGroupSummary {
	var pending []int
	for run := 1; run <= runs; run++ {
		if !s.tracker.Completed(tier.ID, model, run) {
			pending = append(pending, run)
		}
	}
	resumed := runs - len(pending)
	if resumed > 0 {
		s.logger.Info("skipping completed runs",
			zap.String("tier", tier.ID),
			zap.String("model", model),
			zap.Int("skipped", resumed))
	}

	records := make([]*result.TrialRecord, len(pending))
	jobs := make([]Job, len(pending))
	for i, run := range pending {
		jobs[i] = func(ctx context.Context) error {
			rec := s.runTrial(ctx, trialSlot{testID: testID, tier: tier, model: model, run: run})
			if ctx.Err() != nil && rec.Status == result.StatusError {
				// Left unrecorded so a resumed test runs it again.
				s.logger.Warn("trial interrupted",
					zap.String("tier", tier.ID),
					zap.String("model", model),
					zap.Int("run", run))
				return ctx.Err()
			}
			records[i] = rec
			s.record(testID, rec)
			return nil
		}
	}

	if parallel {
		RunPool(ctx, s.policy.Workers, jobs)
	} else {
		for _, job := range jobs {
			if ctx.Err() != nil {
				break
			}
			job(ctx)
		}
	}

	return Aggregate(tier.ID, model, records, resumed, s.policy.MinSuccessfulRuns, s.confidence)
}

// record persists a finished trial. Persistence failures are logged; the
// trial result itself is still reported.
func (s *Scheduler) record(testID string, rec *result.TrialRecord) {
	if err := s.tracker.Record(rec.TierID, rec.ModelID, rec.RunNumber); err != nil {
		s.logger.Error("saving progress", zap.Error(err))
	}
	if s.resultsDir == "" {
		return
	}
	if err := result.WriteTrialRecord(result.RunDir(s.resultsDir, testID), rec); err != nil {
		s.logger.Error("writing trial record", zap.Error(err))
	}
}
