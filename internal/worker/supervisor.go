// Package worker supervises the external review scraper, one synchronous
// process per restaurant.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/collect"
)

const defaultInterruptGrace = 500 * time.Millisecond

// Config controls how the worker process is launched.
type Config struct {
	// Command is the executable followed by its fixed arguments.
	Command []string
	// ConfigFlag precedes the config path on the command line.
	ConfigFlag string
	// Env is appended to the inherited environment.
	Env []string
	// SignalOnInterrupt forwards an interrupt to the worker when the run is
	// cancelled. Otherwise the worker is left to the terminal's own signal.
	SignalOnInterrupt bool
	// InterruptGrace is how long a worker that died from a signal waits for
	// the orchestrator's own cancellation before being reported as a failure.
	InterruptGrace time.Duration
	Stdout         io.Writer
	Stderr         io.Writer
}

// Supervisor runs the worker for one RunConfig at a time.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Supervisor.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, &collect.ConfigError{Op: "worker", Err: errors.New("worker command is required")}
	}
	if cfg.ConfigFlag == "" {
		cfg.ConfigFlag = "--config"
	}
	if cfg.InterruptGrace <= 0 {
		cfg.InterruptGrace = defaultInterruptGrace
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, logger: logger}, nil
}

// Args returns the full argv used for rc.
func (s *Supervisor) Args(rc collect.RunConfig) []string {
	args := make([]string, 0, len(s.cfg.Command)+2)
	args = append(args, s.cfg.Command...)
	return append(args, s.cfg.ConfigFlag, rc.Path)
}

// Run starts the worker and blocks until it exits. A non-zero exit yields a
// *collect.WorkerFailure. Cancellation of ctx abandons the worker and returns
// an error wrapping collect.ErrInterrupted.
func (s *Supervisor) Run(ctx context.Context, rc collect.RunConfig) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before starting %s", collect.ErrInterrupted, rc.Slug)
	}
	argv := s.Args(rc)
	// #nosec G204 -- the worker command is operator configuration.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	logger := s.logger.With(zap.String("slug", rc.Slug), zap.String("config_path", rc.Path))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &collect.WorkerFailure{Slug: rc.Slug, ConfigPath: rc.Path, ExitCode: -1, Err: fmt.Errorf("start worker: %w", err)}
	}
	logger.Debug("worker started", zap.Int("pid", cmd.Process.Pid), zap.Strings("argv", argv))

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return s.handleExit(ctx, rc, err, time.Since(start), logger)
	case <-ctx.Done():
		s.interrupt(cmd, logger)
		return fmt.Errorf("%w while scraping %s", collect.ErrInterrupted, rc.Slug)
	}
}

func (s *Supervisor) handleExit(
	ctx context.Context,
	rc collect.RunConfig,
	err error,
	elapsed time.Duration,
	logger *zap.Logger,
) error {
	if err == nil {
		logger.Debug("worker exited", zap.Duration("elapsed", elapsed))
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &collect.WorkerFailure{Slug: rc.Slug, ConfigPath: rc.Path, ExitCode: -1, Err: err}
	}
	code := exitErr.ExitCode()
	if ctx.Err() != nil {
		return fmt.Errorf("%w while scraping %s (worker exit %d)", collect.ErrInterrupted, rc.Slug, code)
	}
	if diedFromSignal(code) {
		// On Ctrl-C the worker shares our process group and often exits
		// (killed, or 128+signo from a shell or a trapped handler) before
		// our own cancellation is observed.
		timer := time.NewTimer(s.cfg.InterruptGrace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w while scraping %s (worker exit %d)", collect.ErrInterrupted, rc.Slug, code)
		case <-timer.C:
		}
	}
	logger.Warn("worker exited with error", zap.Int("exit_code", code), zap.Duration("elapsed", elapsed))
	return &collect.WorkerFailure{Slug: rc.Slug, ConfigPath: rc.Path, ExitCode: code, Err: err}
}

// diedFromSignal reports exit codes produced by a signal: -1 from a direct
// kill, or 128+signo as shells and interpreters report it.
func diedFromSignal(code int) bool {
	return code == -1 || code > 128
}

func (s *Supervisor) interrupt(cmd *exec.Cmd, logger *zap.Logger) {
	if !s.cfg.SignalOnInterrupt || cmd.Process == nil {
		logger.Info("run interrupted; abandoning in-flight worker")
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("forward interrupt to worker failed", zap.Error(err))
		return
	}
	logger.Info("run interrupted; interrupt forwarded to worker")
}
