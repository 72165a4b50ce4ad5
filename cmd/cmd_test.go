package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/signalnine/trialmatrix/internal/config"
	"github.com/signalnine/trialmatrix/internal/progress"
)

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("config", "../testdata/full.yaml")
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	return cfg
}

func TestBuildRequestDefaults(t *testing.T) {
	cfg := loadTestConfig(t)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	req := buildRequest(viper.New(), cfg, now)
	if req.TestID != "20260301-093000" {
		t.Errorf("test id: got %q", req.TestID)
	}
	if strings.Join(req.Tiers, ",") != "T0,T1,T2" {
		t.Errorf("tiers: got %v", req.Tiers)
	}
	if strings.Join(req.Models, ",") != "claude-sonnet,claude-haiku" {
		t.Errorf("models: got %v", req.Models)
	}
	if req.RunsPerTier != nil || req.Parallel != nil {
		t.Error("expected runs and parallel to defer to the policy")
	}
}

func TestBuildRequestOverrides(t *testing.T) {
	cfg := loadTestConfig(t)
	v := viper.New()
	v.Set("test-id", "e1")
	v.Set("tier", []string{"T1"})
	v.Set("model", []string{"m"})
	v.Set("runs", 3)
	v.Set("parallel", true)
	v.Set("resume", "progress.json")

	req := buildRequest(v, cfg, time.Now())
	if req.TestID != "e1" || len(req.Tiers) != 1 || req.Tiers[0] != "T1" || len(req.Models) != 1 {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.RunsPerTier == nil || *req.RunsPerTier != 3 {
		t.Errorf("runs: got %v", req.RunsPerTier)
	}
	if req.Parallel == nil || !*req.Parallel {
		t.Error("expected parallel override")
	}
	if req.ResumeFrom != "progress.json" {
		t.Errorf("resume: got %q", req.ResumeFrom)
	}
}

func TestBuildPolicy(t *testing.T) {
	cfg := loadTestConfig(t)
	v := viper.New()
	if got := buildPolicy(v, cfg).Workers; got != 8 {
		t.Errorf("workers: got %d, want 8", got)
	}
	v.Set("workers", 2)
	if got := buildPolicy(v, cfg).Workers; got != 2 {
		t.Errorf("workers: got %d, want 2", got)
	}
	if cfg.Policy.Workers != 8 {
		t.Error("config policy must not be mutated")
	}
}

func TestSchedulerOptions(t *testing.T) {
	cfg := loadTestConfig(t)
	if cfg.Pricing.File != filepath.Join("..", "testdata", "pricing.yaml") {
		t.Errorf("pricing file not resolved against config dir: %q", cfg.Pricing.File)
	}
	logger, err := newLogger(viper.New(), cfg)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if _, err := schedulerOptions(viper.New(), cfg, logger); err != nil {
		t.Errorf("schedulerOptions: %v", err)
	}

	cfg.RateLimit.Pattern = "("
	if _, err := schedulerOptions(viper.New(), cfg, logger); err == nil {
		t.Error("expected error for invalid rate limit pattern")
	}
}

func TestListCommand(t *testing.T) {
	out, err := executeCmd(t, "list", "--config", "../testdata/full.yaml")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{
		"Image: ghcr.io/example/agent-runner:1.4",
		"T0 (Vanilla) tools=false delegation=false",
		"T2 (Delegation) tools=true delegation=true prompt",
		"claude-haiku",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestListCommandConfigFromEnv(t *testing.T) {
	t.Setenv("TRIALMATRIX_CONFIG", "../testdata/minimal.yaml")
	out, err := executeCmd(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Image: alpine:latest") {
		t.Errorf("expected config from env, got:\n%s", out)
	}
}

func TestStatusCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	state := progress.NewState("e1", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	state.MarkRunCompleted("T0", "m", 2)
	state.MarkRunCompleted("T0", "m", 1)
	if err := progress.Save(state, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := executeCmd(t, "status", "--progress-file", path)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Test e1") || !strings.Contains(out, "T0 / m: 2 completed [1 2]") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = executeCmd(t, "status", "--progress-file", filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No progress recorded") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestMustBind(t *testing.T) {
	mustBind(nil)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on bind error")
		}
		if !strings.Contains(fmt.Sprint(r), "binding flags: boom") {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()
	mustBind(errors.New("boom"))
}
