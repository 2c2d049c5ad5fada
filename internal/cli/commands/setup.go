package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/cli/config"
	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/launcher"
	"github.com/leapstack-labs/mqmjob/internal/profile"
	"github.com/leapstack-labs/mqmjob/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with logger and renderer.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// Profile resolves the named profile against the loaded config.
func (c *CommandContext) Profile(name string) (profile.Profile, error) {
	return c.Cfg.Profile(name)
}

// OpenStore opens the launch history database.
// Returns the store and a cleanup function that must be called (typically via defer).
func (c *CommandContext) OpenStore() (*state.SQLiteStore, func(), error) {
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// IsPipelineExit reports whether err carries the evaluation pipeline's exit
// status rather than a failure of mqmjob itself.
func IsPipelineExit(err error) bool {
	var exitErr *launcher.ExitError
	return errors.As(err, &exitErr)
}

// getConfig returns the configuration loaded by the root command.
// Falls back to the last loaded config, then to the defaults.
func getConfig(ctx context.Context) *config.Config {
	if cfg := config.FromContext(ctx); cfg != nil {
		return cfg
	}
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

// executable returns the mqmjob binary the batch script should run.
func executable(cfg *config.Config) string {
	if cfg.Executable != "" {
		return cfg.Executable
	}
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return "mqmjob"
}

// addProfileFlag registers the required --profile flag with completion.
func addProfileFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "profile", "p", "", "Job profile ("+strings.Join(profile.Names(), "|")+")")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.RegisterFlagCompletionFunc("profile", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return profile.Names(), cobra.ShellCompDirectiveNoFileComp
	})
}
