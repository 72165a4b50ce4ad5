package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/signalnine/trialmatrix/internal/config"
	"github.com/signalnine/trialmatrix/internal/pricing"
	"github.com/signalnine/trialmatrix/internal/report"
	"github.com/signalnine/trialmatrix/internal/runner"
	"github.com/signalnine/trialmatrix/internal/sandbox"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the evaluation matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMatrix(ctx, v, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.String("test-id", "", "test identifier (default: timestamp)")
	f.StringSlice("tier", nil, "tier ids to run (default: all configured tiers)")
	f.StringSlice("model", nil, "models to run (default: configured models)")
	f.Int("runs", 0, "override policy.runs_per_tier")
	f.Bool("parallel", false, "run trials through the worker pool")
	f.Int("workers", 0, "override policy.workers")
	f.String("resume", "", "progress file to resume from")
	f.String("progress", "", "override progress.path")
	f.String("results-dir", "", "override results.dir")
	f.String("format", "table", "summary format (table, json)")
	f.Bool("cleanup", false, "remove all trialmatrix containers after the run")
	mustBind(v.BindPFlags(f))
	return cmd
}

func runMatrix(ctx context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(v, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	policy := buildPolicy(v, cfg)
	req := buildRequest(v, cfg, time.Now())
	if len(req.Models) == 0 {
		return runner.ErrNoModels
	}

	executor, err := sandbox.New(ctx, sandbox.WithLogger(logger.Named("sandbox")))
	if err != nil {
		return err
	}
	defer executor.Close()
	if v.GetBool("cleanup") {
		defer cleanupContainers(executor, out)
	}

	opts, err := schedulerOptions(v, cfg, logger)
	if err != nil {
		return err
	}
	sched, err := runner.New(ctx, executor, cfg, policy, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Test %s: %d tier(s) x %d model(s)\n", req.TestID, len(req.Tiers), len(req.Models))
	summary, runErr := sched.RunTest(ctx, req)
	if summary == nil {
		return runErr
	}

	fmt.Fprintln(out, "\n--- Results ---")
	if err := report.Write(summary, v.GetString("format"), out); err != nil {
		return err
	}
	return runErr
}

// buildPolicy applies CLI overrides to the configured policy.
func buildPolicy(v *viper.Viper, cfg *config.Config) config.Policy {
	policy := cfg.Policy
	if n := v.GetInt("workers"); n > 0 {
		policy.Workers = n
	}
	return policy
}

func buildRequest(v *viper.Viper, cfg *config.Config, now time.Time) runner.RunRequest {
	req := runner.RunRequest{
		TestID:     v.GetString("test-id"),
		Tiers:      v.GetStringSlice("tier"),
		Models:     v.GetStringSlice("model"),
		ResumeFrom: v.GetString("resume"),
	}
	if req.TestID == "" {
		req.TestID = now.Format("20060102-150405")
	}
	if len(req.Tiers) == 0 {
		req.Tiers = cfg.TierIDs()
	}
	if len(req.Models) == 0 {
		req.Models = cfg.Models
	}
	if n := v.GetInt("runs"); n > 0 {
		req.RunsPerTier = &n
	}
	if v.GetBool("parallel") {
		parallel := true
		req.Parallel = &parallel
	}
	return req
}

func schedulerOptions(v *viper.Viper, cfg *config.Config, logger *zap.Logger) ([]runner.Option, error) {
	var adapter runner.Adapter = runner.UsageAdapter{Next: runner.PassThroughAdapter{}}
	if cfg.RateLimit.Pattern != "" {
		a, err := runner.NewOutputRateLimitAdapter(adapter, cfg.RateLimit.Pattern)
		if err != nil {
			return nil, err
		}
		adapter = a
	}
	judge, err := runner.JudgeFor(cfg.Judge.Kind, cfg.Judge.Marker)
	if err != nil {
		return nil, err
	}

	opts := []runner.Option{
		runner.WithLogger(logger.Named("runner")),
		runner.WithAdapter(adapter),
		runner.WithJudge(judge),
		runner.WithProgressPath(firstNonEmpty(v.GetString("progress"), cfg.Progress.Path)),
		runner.WithResultsDir(firstNonEmpty(v.GetString("results-dir"), cfg.Results.Dir)),
	}
	if cfg.Pricing.File != "" {
		table, err := pricing.Load(cfg.Pricing.File)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runner.WithPricing(table))
	}
	return opts, nil
}

func cleanupContainers(executor *sandbox.Executor, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	fmt.Fprintln(out, "Cleaning up containers...")
	n, err := executor.RemoveLabeled(ctx)
	if err != nil {
		fmt.Fprintf(out, "  cleanup: %v\n", err)
		return
	}
	fmt.Fprintf(out, "  removed %d container(s)\n", n)
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
