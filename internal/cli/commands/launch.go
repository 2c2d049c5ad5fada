package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/launcher"
	"github.com/leapstack-labs/mqmjob/internal/profile"
	"github.com/leapstack-labs/mqmjob/internal/state"
)

// LaunchOptions holds options for the launch command.
type LaunchOptions struct {
	Profile           string
	Settings          string
	Dir               string
	SkipProbe         bool
	SkipSettingsCheck bool
}

// NewLaunchCommand creates the launch command.
func NewLaunchCommand() *cobra.Command {
	opts := &LaunchOptions{}

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Run the evaluation pipeline inside a job allocation",
		Long: `Run the evaluation pipeline for a profile. This is what the batch script
executes on the compute node.

Before starting the pipeline it:
  - sets OMP_NUM_THREADS from SLURM_CPUS_ON_NODE and HF_HUB_OFFLINE=1
  - checks the settings file exists
  - runs nvidia-smi (a failure is only a warning)

The pipeline runs as "srun python scripts/run_pipeline.py --settings <file>".
Signals sent to the launcher (including the pre-expiry signal) are relayed to
it, and its exit status becomes the launcher's exit status.`,
		Example: `  # Inside an allocation
  mqmjob launch --profile comet

  # Point the pipeline at another settings file
  mqmjob launch --profile gemba --settings configs/gemba.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLaunch(cmd, opts)
		},
	}

	addProfileFlag(cmd, &opts.Profile)
	cmd.Flags().StringVar(&opts.Settings, "settings", "", "Settings file passed to the pipeline (default: from profile)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "Working directory for the pipeline (default: current directory)")
	cmd.Flags().BoolVar(&opts.SkipProbe, "skip-probe", false, "Do not run the GPU diagnostic")
	cmd.Flags().BoolVar(&opts.SkipSettingsCheck, "skip-settings-check", false, "Do not check the settings file before starting")

	return cmd
}

func runLaunch(cmd *cobra.Command, opts *LaunchOptions) error {
	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := cmdCtx.Profile(opts.Profile)
	if err != nil {
		return err
	}
	if opts.Settings != "" {
		p.Pipeline.Settings = opts.Settings
	}
	if err := p.Validate(); err != nil {
		return err
	}

	l := launcher.New(launcher.Config{
		Profile:       p,
		ProbeTool:     cmdCtx.Cfg.ProbeTool,
		SkipProbe:     opts.SkipProbe,
		CheckSettings: !opts.SkipSettingsCheck,
		Dir:           opts.Dir,
		Stdout:        cmd.OutOrStdout(),
		Stderr:        cmd.ErrOrStderr(),
		Logger:        cmdCtx.Logger,
	})

	rec := startHistory(ctx, cmdCtx, p)
	res, runErr := l.Run(ctx)
	rec.finish(ctx, res, runErr)

	return runErr
}

// historyRecord tracks one launch in the history database. A nil record
// means history is disabled or unavailable; its methods are no-ops.
type historyRecord struct {
	store   *state.SQLiteStore
	cleanup func()
	id      string
	logger  *slog.Logger
}

// startHistory records the launch as running. History is best-effort: any
// failure is logged and the launch proceeds without it.
func startHistory(ctx context.Context, cmdCtx *CommandContext, p profile.Profile) *historyRecord {
	if cmdCtx.Cfg.NoHistory {
		return nil
	}
	store, cleanup, err := cmdCtx.OpenStore()
	if err != nil {
		cmdCtx.Logger.Warn("launch history unavailable", slog.Any("error", err))
		return nil
	}

	host, _ := os.Hostname()
	jobID := os.Getenv(launcher.EnvJobID)
	l, err := store.CreateLaunch(ctx, p.Name, p.Mode, jobID, host)
	if err != nil {
		cmdCtx.Logger.Warn("failed to record launch", slog.Any("error", err))
		cleanup()
		return nil
	}
	return &historyRecord{store: store, cleanup: cleanup, id: l.ID, logger: cmdCtx.Logger}
}

func (h *historyRecord) finish(ctx context.Context, res *launcher.Result, runErr error) {
	if h == nil {
		return
	}
	defer h.cleanup()

	code := 0
	gpu := false
	if res != nil {
		code = res.ExitCode
		gpu = res.GPU.Available
	}
	var exitErr *launcher.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) && code == 0 {
		// The pipeline never ran or was cancelled before reporting a status.
		code = 1
	}

	// Record the outcome even when ctx was cancelled by a signal.
	if err := h.store.CompleteLaunch(context.WithoutCancel(ctx), h.id, code, gpu); err != nil {
		h.logger.Warn("failed to record launch result", slog.Any("error", err))
	}
}
