package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/collect"
)

// TestHelperProcess is re-executed as the fake worker; it is a no-op in the
// normal test run.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 4 {
		os.Exit(64)
	}
	mode, flag, path := args[1], args[2], args[3]
	if flag != "--config" {
		os.Exit(65)
	}
	switch mode {
	case "ok":
		_, _ = os.Stdout.WriteString("scraped " + path + "\n")
		if err := os.WriteFile(path+".ran", []byte(os.Getenv("HARVEST_MARKER")), 0o600); err != nil {
			os.Exit(66)
		}
		os.Exit(0)
	case "fail":
		os.Exit(3)
	case "sleep":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	case "exit130":
		os.Exit(130)
	case "sigint":
		self, err := os.FindProcess(os.Getpid())
		if err != nil {
			os.Exit(68)
		}
		_ = self.Signal(os.Interrupt)
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}
	os.Exit(67)
}

func helperConfig(mode string, out *bytes.Buffer) Config {
	return Config{
		Command:           []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode},
		Env:               []string{"GO_WANT_HELPER_PROCESS=1", "HARVEST_MARKER=from-env"},
		SignalOnInterrupt: true,
		Stdout:            out,
	}
}

func newHelperSupervisor(t *testing.T, mode string, out *bytes.Buffer) *Supervisor {
	t.Helper()
	sup, err := New(helperConfig(mode, out), zap.NewNop())
	require.NoError(t, err)
	return sup
}

func newGraceSupervisor(t *testing.T, mode string, grace time.Duration) *Supervisor {
	t.Helper()
	cfg := helperConfig(mode, &bytes.Buffer{})
	cfg.InterruptGrace = grace
	sup, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return sup
}

func TestSupervisorRunSuccess(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sup := newHelperSupervisor(t, "ok", &out)
	rc := collect.RunConfig{Slug: "le_chat_noir", Path: filepath.Join(t.TempDir(), "le_chat_noir.yaml")}

	require.NoError(t, sup.Run(context.Background(), rc))

	marker, err := os.ReadFile(rc.Path + ".ran")
	require.NoError(t, err)
	require.Equal(t, "from-env", string(marker))
	require.Contains(t, out.String(), "scraped "+rc.Path)
}

func TestSupervisorRunNonZeroExit(t *testing.T) {
	t.Parallel()

	sup := newHelperSupervisor(t, "fail", &bytes.Buffer{})
	rc := collect.RunConfig{Slug: "bistro_x", Path: filepath.Join(t.TempDir(), "bistro_x.yaml")}

	err := sup.Run(context.Background(), rc)
	var wf *collect.WorkerFailure
	require.True(t, errors.As(err, &wf))
	require.Equal(t, 3, wf.ExitCode)
	require.Equal(t, "bistro_x", wf.Slug)
	require.Equal(t, rc.Path, wf.ConfigPath)
}

func TestSupervisorRunInterrupted(t *testing.T) {
	t.Parallel()

	sup := newHelperSupervisor(t, "sleep", &bytes.Buffer{})
	rc := collect.RunConfig{Slug: "bistro_x", Path: filepath.Join(t.TempDir(), "bistro_x.yaml")}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	err := sup.Run(ctx, rc)
	require.ErrorIs(t, err, collect.ErrInterrupted)
	require.False(t, collect.IsWorkerFailure(err))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestSupervisorRunAlreadyCancelled(t *testing.T) {
	t.Parallel()

	sup := newHelperSupervisor(t, "ok", &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := collect.RunConfig{Slug: "bistro_x", Path: filepath.Join(t.TempDir(), "bistro_x.yaml")}
	require.ErrorIs(t, sup.Run(ctx, rc), collect.ErrInterrupted)
	require.NoFileExists(t, rc.Path+".ran")
}

func TestSupervisorStartFailure(t *testing.T) {
	t.Parallel()

	sup, err := New(Config{Command: []string{filepath.Join(t.TempDir(), "missing-binary")}}, nil)
	require.NoError(t, err)

	err = sup.Run(context.Background(), collect.RunConfig{Slug: "x", Path: "x.yaml"})
	var wf *collect.WorkerFailure
	require.True(t, errors.As(err, &wf))
	require.Equal(t, -1, wf.ExitCode)
}

func TestNewRequiresCommand(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.True(t, collect.IsConfigError(err))

	sup, err := New(Config{Command: []string{"python", "start.py"}}, nil)
	require.NoError(t, err)
	require.Equal(t,
		[]string{"python", "start.py", "--config", "configs/x.yaml"},
		sup.Args(collect.RunConfig{Path: "configs/x.yaml"}),
	)
}

func TestSupervisorSignalExitWithoutCancelIsFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode string
		code int
	}{
		{mode: "exit130", code: 130},
		{mode: "sigint", code: -1},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			t.Parallel()

			grace := 50 * time.Millisecond
			sup := newGraceSupervisor(t, tc.mode, grace)
			rc := collect.RunConfig{Slug: "bistro_x", Path: filepath.Join(t.TempDir(), "bistro_x.yaml")}

			start := time.Now()
			err := sup.Run(context.Background(), rc)
			var wf *collect.WorkerFailure
			require.True(t, errors.As(err, &wf), "got %v", err)
			require.Equal(t, tc.code, wf.ExitCode)
			require.False(t, errors.Is(err, collect.ErrInterrupted))
			require.GreaterOrEqual(t, time.Since(start), grace)
		})
	}
}

func TestSupervisorSignalExitDuringCancelIsInterrupted(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"exit130", "sigint"} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()

			sup := newGraceSupervisor(t, mode, 10*time.Second)
			rc := collect.RunConfig{Slug: "bistro_x", Path: filepath.Join(t.TempDir(), "bistro_x.yaml")}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			time.AfterFunc(100*time.Millisecond, cancel)

			start := time.Now()
			err := sup.Run(ctx, rc)
			require.ErrorIs(t, err, collect.ErrInterrupted)
			require.False(t, collect.IsWorkerFailure(err))
			require.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestHandleExitPrefersCancellation(t *testing.T) {
	t.Parallel()

	sup := newGraceSupervisor(t, "exit130", time.Hour)
	rc := collect.RunConfig{Slug: "bistro_x", Path: "bistro_x.yaml"}

	for _, mode := range []string{"exit130", "fail"} {
		// #nosec G204 -- re-executes the test binary.
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", mode, "--config", rc.Path)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		exitErr := cmd.Run()
		require.Error(t, exitErr)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := sup.handleExit(ctx, rc, exitErr, time.Second, zap.NewNop())
		require.ErrorIs(t, err, collect.ErrInterrupted, mode)
		require.False(t, collect.IsWorkerFailure(err), mode)
	}
}

func TestDiedFromSignal(t *testing.T) {
	t.Parallel()

	require.True(t, diedFromSignal(-1))
	require.True(t, diedFromSignal(130))
	require.True(t, diedFromSignal(143))
	require.False(t, diedFromSignal(1))
	require.False(t, diedFromSignal(128))
}
