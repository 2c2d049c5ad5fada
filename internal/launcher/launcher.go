// Package launcher runs the external evaluation pipeline inside a scheduler
// allocation: it prepares the environment, probes the GPUs, starts the
// pipeline under the task-launch wrapper and relays signals to it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/mqmjob/internal/profile"
	"github.com/leapstack-labs/mqmjob/internal/settings"
)

// DefaultGracePeriod is how long the pipeline gets to exit after a
// cancellation before it is killed.
const DefaultGracePeriod = 30 * time.Second

// ExitError carries the pipeline's exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("pipeline exited with status %d", e.Code)
}

// Config configures a Launcher. Zero fields take process defaults.
type Config struct {
	Profile profile.Profile

	// ProbeTool is the GPU diagnostic command; SkipProbe disables it.
	ProbeTool string
	SkipProbe bool

	// CheckSettings verifies the settings file exists before starting and
	// logs mismatches with the profile.
	CheckSettings bool

	// Dir is the pipeline's working directory.
	Dir string

	LookupEnv func(string) (string, bool)
	Environ   func() []string

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Signals are relayed to the pipeline. Defaults to the profile's
	// pre-expiry signal plus SIGINT and SIGTERM.
	Signals     []os.Signal
	GracePeriod time.Duration
}

// Result describes a launch.
type Result struct {
	Env         Env
	CPUFallback bool
	GPU         GPUProbe
	Argv        []string
	Warnings    []string
	ExitCode    int
	Relayed     []os.Signal
	StartedAt   time.Time
	Duration    time.Duration
}

// Launcher starts one pipeline run.
type Launcher struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Launcher with defaults applied to cfg.
func New(cfg Config) *Launcher {
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}
	if cfg.Environ == nil {
		cfg.Environ = os.Environ
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Launcher{cfg: cfg, logger: logger.With(slog.String("profile", cfg.Profile.Name))}
	if l.cfg.Signals == nil {
		l.cfg.Signals = l.defaultSignals()
	}
	return l
}

func (l *Launcher) defaultSignals() []os.Signal {
	sigs := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	name := l.cfg.Profile.Directives.Signal.Name
	if name == "" {
		return sigs
	}
	sig, ok := lookupSignal(name)
	if !ok {
		l.logger.Warn("pre-expiry signal cannot be relayed on this platform", slog.String("signal", name))
		return sigs
	}
	for _, s := range sigs {
		if s == sig {
			return sigs
		}
	}
	return append(sigs, sig)
}

// Command returns the pipeline command line.
func (l *Launcher) Command() []string {
	return l.cfg.Profile.Pipeline.Argv()
}

// Prepare builds the environment, checks the settings file and probes the
// GPU. Only a missing settings file is an error.
func (l *Launcher) Prepare(ctx context.Context) (*Result, error) {
	res := &Result{Argv: l.Command()}

	if l.cfg.CheckSettings {
		warnings, err := l.checkSettings()
		if err != nil {
			return res, err
		}
		res.Warnings = warnings
		for _, w := range warnings {
			l.logger.Warn(w)
		}
	}

	res.Env, res.CPUFallback = BuildEnv(l.cfg.LookupEnv)
	if res.CPUFallback {
		l.logger.Warn("scheduler CPU count unavailable, using local CPU count",
			slog.String("variable", EnvCPUsOnNode),
			slog.String(EnvOMPThreads, res.Env[EnvOMPThreads]))
	}

	if !l.cfg.SkipProbe {
		res.GPU = ProbeGPU(ctx, l.cfg.ProbeTool)
		if res.GPU.Available {
			l.logger.Debug("gpu probe succeeded", slog.String("tool", res.GPU.Tool))
			if res.GPU.Output != "" {
				_, _ = fmt.Fprintln(l.cfg.Stdout, res.GPU.Output)
			}
		} else {
			l.logger.Warn("gpu probe failed, continuing", slog.String("reason", res.GPU.Reason))
		}
	}

	l.logger.Info(fmt.Sprintf("Running %s evaluation", l.cfg.Profile.Mode),
		slog.String("mode", l.cfg.Profile.Mode),
		slog.String(EnvOMPThreads, res.Env[EnvOMPThreads]))

	return res, nil
}

func (l *Launcher) checkSettings() ([]string, error) {
	path := l.cfg.Profile.Pipeline.Settings
	if l.cfg.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.cfg.Dir, path)
	}
	if _, err := settings.Check(path); err != nil {
		return nil, err
	}
	s, err := settings.Inspect(path)
	if err != nil {
		// The pipeline owns the format; an unreadable file is its problem.
		return []string{err.Error()}, nil
	}
	return s.Warnings(l.cfg.Profile.Name, l.cfg.Profile.Directives.GPUs), nil
}

// Run prepares the launch, starts the pipeline and waits for it. A non-zero
// exit is returned as *ExitError with the pipeline's status.
func (l *Launcher) Run(ctx context.Context) (*Result, error) {
	// Signals arriving while the GPU is probed stay queued here and are
	// relayed once the pipeline has started.
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, l.cfg.Signals...)
	defer signal.Stop(sigCh)

	res, err := l.Prepare(ctx)
	if err != nil {
		return res, err
	}

	argv := res.Argv
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = res.Env.Apply(l.cfg.Environ())
	cmd.Dir = l.cfg.Dir
	cmd.Stdout = l.cfg.Stdout
	cmd.Stderr = l.cfg.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = l.cfg.GracePeriod

	l.logger.Debug("starting pipeline", slog.Any("argv", argv))
	res.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("failed to start pipeline: %w", err)
	}

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		return cmd.Wait()
	})
	g.Go(func() error {
		for {
			select {
			case sig := <-sigCh:
				l.logger.Info("relaying signal to pipeline", slog.String("signal", sig.String()))
				if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
					l.logger.Warn("failed to relay signal", slog.String("signal", sig.String()), slog.Any("error", err))
					continue
				}
				res.Relayed = append(res.Relayed, sig)
			case <-done:
				return nil
			}
		}
	})
	waitErr := g.Wait()
	res.Duration = time.Since(res.StartedAt)

	if cmd.ProcessState == nil {
		return res, fmt.Errorf("pipeline did not run: %w", waitErr)
	}
	res.ExitCode = exitCode(cmd.ProcessState)
	l.logger.Info("pipeline finished",
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration.Round(time.Millisecond)))

	if res.ExitCode != 0 {
		return res, &ExitError{Code: res.ExitCode}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, nil
}
