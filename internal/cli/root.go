// Package cli provides the command-line interface for mqmjob.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/cli/commands"
	"github.com/leapstack-labs/mqmjob/internal/cli/config"
	"github.com/leapstack-labs/mqmjob/internal/cli/output"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "0.1.0"

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mqmjob",
		Short: "mqmjob - Slurm job launcher for the MQM evaluations",
		Long: `mqmjob submits and launches the MQM benchmark evaluation jobs on a
Slurm cluster.

It renders the batch script for the COMET and GEMBA-MQM profiles, submits it
with sbatch, and inside the allocation prepares the environment, probes the
GPUs and runs the evaluation pipeline under srun.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = config.WithConfig(ctx, cfg)
			ctx = context.WithValue(ctx, config.LoggerKey(), logger)
			cmd.SetContext(ctx)

			if configFile := config.GetConfigFileUsed(); configFile != "" {
				logger.Debug("using config file", "path", configFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mqmjob.yaml, searched upward)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json)")
	rootCmd.PersistentFlags().String("state", "", "Path to the launch history database")
	rootCmd.PersistentFlags().String("sbatch", "", "Path to the sbatch executable")
	rootCmd.PersistentFlags().String("executable", "", "mqmjob binary the batch script runs (default: this binary)")
	rootCmd.PersistentFlags().String("probe-tool", "", "GPU diagnostic command (default: nvidia-smi)")
	rootCmd.PersistentFlags().Bool("no-history", false, "Do not record launches in the history database")

	// Register completion for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewLaunchCommand())
	rootCmd.AddCommand(commands.NewRenderCommand())
	rootCmd.AddCommand(commands.NewSubmitCommand())
	rootCmd.AddCommand(commands.NewProfilesCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command with args.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !commands.IsPipelineExit(err) {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for mqmjob.

To load completions:

Bash:
  $ source <(mqmjob completion bash)

  # To load completions for each session, execute once:
  $ mqmjob completion bash > ~/.local/share/bash-completion/completions/mqmjob

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ mqmjob completion zsh > "${fpath[1]}/_mqmjob"

Fish:
  $ mqmjob completion fish | source

  # To load completions for each session, execute once:
  $ mqmjob completion fish > ~/.config/fish/completions/mqmjob.fish

PowerShell:
  PS> mqmjob completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
