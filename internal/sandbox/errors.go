package sandbox

import (
	"errors"
	"fmt"
)

var (
	ErrRuntimeNotInstalled = errors.New("container runtime not installed")
	ErrDaemonNotRunning    = errors.New("container daemon not running")
	ErrHealthCheckTimeout  = errors.New("container runtime health check timed out")

	// ErrWaitTimeout is returned by Wait when the container is still running
	// after the timeout.
	ErrWaitTimeout = errors.New("timed out waiting for container")
)

// RuntimeErrorKind classifies why the container runtime is unusable.
type RuntimeErrorKind int

const (
	RuntimeNotInstalled RuntimeErrorKind = iota + 1
	DaemonNotRunning
	HealthCheckTimeout
)

func (k RuntimeErrorKind) sentinel() error {
	switch k {
	case RuntimeNotInstalled:
		return ErrRuntimeNotInstalled
	case DaemonNotRunning:
		return ErrDaemonNotRunning
	default:
		return ErrHealthCheckTimeout
	}
}

func (k RuntimeErrorKind) String() string {
	return k.sentinel().Error()
}

// RuntimeError is returned when the executor cannot reach a usable runtime.
// It matches the sentinel for its Kind under errors.Is.
type RuntimeError struct {
	Kind RuntimeErrorKind
	Err  error
}

func (e *RuntimeError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RuntimeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
