// Package sandbox runs trials in isolated Docker containers.
//
// The Executor wraps the Docker Engine API with the lifecycle the scheduler
// needs: synchronous run with a hard timeout, detached run, wait, stop,
// remove, logs and liveness checks. Construction fails fast when no usable
// runtime is reachable.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/moby/moby/client"
	"go.uber.org/zap"
)

// DefaultHealthTimeout bounds the ping performed at construction.
const DefaultHealthTimeout = 10 * time.Second

// Label marks every container the executor creates.
const Label = "trialmatrix"

const defaultSocket = "/var/run/docker.sock"

// Engine is the subset of the Docker Engine client used by the executor.
// *client.Client satisfies it.
type Engine interface {
	Ping(ctx context.Context, options client.PingOptions) (client.PingResult, error)
	ContainerCreate(ctx context.Context, options client.ContainerCreateOptions) (client.ContainerCreateResult, error)
	ContainerStart(ctx context.Context, containerID string, options client.ContainerStartOptions) (client.ContainerStartResult, error)
	ContainerWait(ctx context.Context, containerID string, options client.ContainerWaitOptions) client.ContainerWaitResult
	ContainerKill(ctx context.Context, containerID string, options client.ContainerKillOptions) (client.ContainerKillResult, error)
	ContainerStop(ctx context.Context, containerID string, options client.ContainerStopOptions) (client.ContainerStopResult, error)
	ContainerRemove(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error)
	ContainerLogs(ctx context.Context, containerID string, options client.ContainerLogsOptions) (client.ContainerLogsResult, error)
	ContainerInspect(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error)
	ContainerList(ctx context.Context, options client.ContainerListOptions) (client.ContainerListResult, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (client.ImageInspectResult, error)
	ImagePull(ctx context.Context, refStr string, options client.ImagePullOptions) (client.ImagePullResponse, error)
	Close() error
}

// Executor manages container lifecycles for trials.
type Executor struct {
	cli           Engine
	logger        *zap.Logger
	healthTimeout time.Duration
	stopTimeout   int
	probe         func() error
}

// Option configures an Executor.
type Option func(*Executor)

// WithEngine uses e instead of a client built from the environment.
func WithEngine(e Engine) Option {
	return func(x *Executor) {
		x.cli = e
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(x *Executor) {
		x.logger = logger
	}
}

// WithHealthTimeout bounds the construction-time ping.
func WithHealthTimeout(d time.Duration) Option {
	return func(x *Executor) {
		x.healthTimeout = d
	}
}

// WithStopTimeout sets the grace period in seconds Stop gives a container
// before it is killed.
func WithStopTimeout(seconds int) Option {
	return func(x *Executor) {
		x.stopTimeout = seconds
	}
}

// WithRuntimeProbe replaces the check that a runtime is installed at all.
// The probe only runs when no Engine was supplied.
func WithRuntimeProbe(probe func() error) Option {
	return func(x *Executor) {
		x.probe = probe
	}
}

// New connects to the container runtime and verifies it answers a ping.
// The returned error is a *RuntimeError when the runtime is missing,
// the daemon is down, or the health check times out.
func New(ctx context.Context, opts ...Option) (*Executor, error) {
	x := &Executor{
		logger:        zap.NewNop(),
		healthTimeout: DefaultHealthTimeout,
		stopTimeout:   10,
		probe:         probeRuntime,
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.cli == nil {
		if err := x.probe(); err != nil {
			return nil, &RuntimeError{Kind: RuntimeNotInstalled, Err: err}
		}
		cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, &RuntimeError{Kind: DaemonNotRunning, Err: fmt.Errorf("creating docker client: %w", err)}
		}
		x.cli = cli
	}

	if err := x.Check(ctx); err != nil {
		x.cli.Close()
		return nil, err
	}
	x.logger.Debug("container runtime ready")
	return x, nil
}

// Check pings the runtime, bounded by the health timeout.
func (x *Executor) Check(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, x.healthTimeout)
	defer cancel()

	_, err := x.cli.Ping(pingCtx, client.PingOptions{NegotiateAPIVersion: true})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(pingCtx.Err(), context.DeadlineExceeded) {
		return &RuntimeError{Kind: HealthCheckTimeout, Err: err}
	}
	return &RuntimeError{Kind: DaemonNotRunning, Err: err}
}

// Close releases the engine client.
func (x *Executor) Close() error {
	return x.cli.Close()
}

// probeRuntime reports whether a Docker runtime could plausibly be reached:
// an explicit DOCKER_HOST, a docker CLI on PATH, or the default socket.
func probeRuntime() error {
	if os.Getenv(client.EnvOverrideHost) != "" {
		return nil
	}
	if _, err := exec.LookPath("docker"); err == nil {
		return nil
	}
	if _, err := os.Stat(defaultSocket); err == nil {
		return nil
	}
	return fmt.Errorf("no docker binary on PATH, %s unset, and %s missing", client.EnvOverrideHost, defaultSocket)
}
