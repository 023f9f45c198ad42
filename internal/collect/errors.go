package collect

import (
	"errors"
	"fmt"
)

// ErrInterrupted signals that the run was cancelled while a worker was in flight.
var ErrInterrupted = errors.New("collection interrupted")

// ConfigError reports a fatal configuration problem: template unreadable,
// dataset malformed, or a config file that could not be written.
type ConfigError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WorkerFailure reports that the external worker could not be started or
// exited with a non-zero status.
type WorkerFailure struct {
	Slug       string
	ConfigPath string
	ExitCode   int
	Err        error
}

func (e *WorkerFailure) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("worker for %q exited with status %d (config %s)", e.Slug, e.ExitCode, e.ConfigPath)
	}
	return fmt.Sprintf("worker for %q failed (config %s): %v", e.Slug, e.ConfigPath, e.Err)
}

func (e *WorkerFailure) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsWorkerFailure reports whether err is or wraps a *WorkerFailure.
func IsWorkerFailure(err error) bool {
	var wf *WorkerFailure
	return errors.As(err, &wf)
}
