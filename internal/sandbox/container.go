package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
	"go.uber.org/zap"
)

// TimedOutExitCode is reported for containers killed at their timeout.
const TimedOutExitCode = -1

// RunConfig describes one container invocation.
type RunConfig struct {
	Image       string
	Name        string
	Command     []string
	Env         map[string]string
	Labels      map[string]string
	WorkDir     string
	Mounts      []Mount
	Timeout     time.Duration
	CPULimit    float64
	MemoryLimit int64
	User        string
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Result is the outcome of a synchronous Run.
type Result struct {
	ContainerID string
	ExitCode    int
	Stdout      string
	Stderr      string
	TimedOut    bool
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}

// Run creates and starts a container and blocks until it exits or
// cfg.Timeout elapses. A container still running at the timeout is killed
// and reported with TimedOut set and exit code -1; output written before the
// kill is kept. The container is always force-removed.
func (x *Executor) Run(ctx context.Context, cfg *RunConfig) (*Result, error) {
	id, err := x.create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer x.forceRemove(context.WithoutCancel(ctx), id)

	res := &Result{ContainerID: id, StartedAt: time.Now()}
	if _, err := x.cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	code, err := x.Wait(ctx, id, cfg.Timeout)
	switch {
	case errors.Is(err, ErrWaitTimeout):
		x.logger.Warn("container timed out, killing",
			zap.String("container", shortID(id)),
			zap.Duration("timeout", cfg.Timeout))
		if _, kerr := x.cli.ContainerKill(context.WithoutCancel(ctx), id, client.ContainerKillOptions{Signal: "SIGKILL"}); kerr != nil && !cerrdefs.IsNotFound(kerr) {
			x.logger.Warn("killing container", zap.String("container", shortID(id)), zap.Error(kerr))
		}
		res.TimedOut = true
		res.ExitCode = TimedOutExitCode
	case err != nil:
		return nil, err
	default:
		res.ExitCode = code
	}
	res.EndedAt = time.Now()
	res.Duration = res.EndedAt.Sub(res.StartedAt)

	stdout, stderr, err := x.Logs(context.WithoutCancel(ctx), id, "")
	if err != nil {
		x.logger.Warn("collecting container logs", zap.String("container", shortID(id)), zap.Error(err))
	}
	res.Stdout, res.Stderr = stdout, stderr
	return res, nil
}

// RunDetached creates and starts a container and returns its id without
// waiting. The caller owns removal.
func (x *Executor) RunDetached(ctx context.Context, cfg *RunConfig) (string, error) {
	id, err := x.create(ctx, cfg)
	if err != nil {
		return "", err
	}
	if _, err := x.cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		x.forceRemove(context.WithoutCancel(ctx), id)
		return "", fmt.Errorf("starting container: %w", err)
	}
	return id, nil
}

// Wait blocks until the container stops and returns its exit code. A
// non-positive timeout waits for as long as ctx allows. ErrWaitTimeout is
// returned when the timeout elapses first.
func (x *Executor) Wait(ctx context.Context, id string, timeout time.Duration) (int, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	wait := x.cli.ContainerWait(waitCtx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	select {
	case status := <-wait.Result:
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), fmt.Errorf("waiting for container: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-wait.Error:
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return TimedOutExitCode, ErrWaitTimeout
		}
		return 0, fmt.Errorf("waiting for container: %w", err)
	case <-waitCtx.Done():
		if ctx.Err() == nil {
			return TimedOutExitCode, ErrWaitTimeout
		}
		return 0, fmt.Errorf("waiting for container: %w", ctx.Err())
	}
}

// Stop stops a container, giving it the stop timeout before SIGKILL.
// Stopping a missing or already stopped container is not an error.
func (x *Executor) Stop(ctx context.Context, id string) error {
	timeout := x.stopTimeout
	_, err := x.cli.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeout})
	if err != nil && !cerrdefs.IsNotFound(err) && !cerrdefs.IsNotModified(err) {
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// Remove force-removes a container and its anonymous volumes. Removing a
// missing container is not an error.
func (x *Executor) Remove(ctx context.Context, id string) error {
	_, err := x.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Logs returns the container's demultiplexed stdout and stderr. An empty
// tail returns everything.
func (x *Executor) Logs(ctx context.Context, id, tail string) (string, string, error) {
	if tail == "" {
		tail = "all"
	}
	rc, err := x.cli.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", "", fmt.Errorf("fetching container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil && !errors.Is(err, io.EOF) {
		return stdout.String(), stderr.String(), fmt.Errorf("reading container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// IsRunning reports whether the container exists and is running.
func (x *Executor) IsRunning(ctx context.Context, id string) (bool, error) {
	res, err := x.cli.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting container: %w", err)
	}
	return res.Container.State != nil && res.Container.State.Running, nil
}

// RemoveLabeled force-removes every container carrying the executor label,
// running or not, and returns how many were removed.
func (x *Executor) RemoveLabeled(ctx context.Context) (int, error) {
	list, err := x.cli.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: make(client.Filters).Add("label", Label+"=true"),
	})
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}
	removed := 0
	for _, c := range list.Items {
		if err := x.Remove(ctx, c.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (x *Executor) create(ctx context.Context, cfg *RunConfig) (string, error) {
	if cfg == nil || cfg.Image == "" {
		return "", errors.New("creating container: image is required")
	}

	containerCfg := &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Command,
		Env:        envList(cfg.Env),
		Labels:     map[string]string{Label: "true"},
		WorkingDir: cfg.WorkDir,
		User:       cfg.User,
	}
	for k, v := range cfg.Labels {
		containerCfg.Labels[k] = v
	}

	initTrue := true
	hostCfg := &container.HostConfig{Init: &initTrue}
	for _, m := range cfg.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	if cfg.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(cfg.CPULimit * 1e9)
	}
	if cfg.MemoryLimit > 0 {
		hostCfg.Memory = cfg.MemoryLimit
	}

	resp, err := x.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
		Name:       cfg.Name,
	})
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	for _, w := range resp.Warnings {
		x.logger.Warn("container create warning", zap.String("container", shortID(resp.ID)), zap.String("warning", w))
	}
	return resp.ID, nil
}

func (x *Executor) forceRemove(ctx context.Context, id string) {
	if err := x.Remove(ctx, id); err != nil {
		x.logger.Warn("removing container", zap.String("container", shortID(id)), zap.Error(err))
	}
}

// envList renders env as sorted KEY=VALUE pairs so container configs are
// deterministic.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
