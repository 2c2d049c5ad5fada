package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/cli/config"
	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/profile"
	"github.com/leapstack-labs/mqmjob/internal/sbatch"
)

// RenderOptions holds options for the render command.
type RenderOptions struct {
	Profile    string
	Standalone bool
	File       string
}

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	opts := &RenderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the batch script for a profile",
		Long: `Render the batch script for a profile with its #SBATCH directives.

By default the script body execs "mqmjob launch" so the launcher receives the
pre-expiry signal on the compute node. With --standalone the body is a plain
shell script that does not need mqmjob installed on the cluster.

The script is printed as-is so it can be redirected to a file. Use
--output markdown for a fenced code block or --output json for a JSON object.`,
		Example: `  # Print the COMET batch script
  mqmjob render --profile comet

  # Write a standalone GEMBA-MQM script
  mqmjob render --profile gemba --standalone --file run_gemba.sh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, opts)
		},
	}

	addProfileFlag(cmd, &opts.Profile)
	cmd.Flags().BoolVar(&opts.Standalone, "standalone", false, "Render a plain shell body instead of exec'ing mqmjob")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Write the script to this file instead of stdout")

	return cmd
}

func runRender(cmd *cobra.Command, opts *RenderOptions) error {
	cmdCtx := NewCommandContext(cmd)

	p, err := cmdCtx.Profile(opts.Profile)
	if err != nil {
		return err
	}
	script, err := sbatch.RenderString(p, renderOptions(cmdCtx.Cfg, opts.Standalone))
	if err != nil {
		return err
	}

	if opts.File != "" {
		if err := os.WriteFile(opts.File, []byte(script), 0o755); err != nil { //nolint:gosec // batch scripts are executable
			return fmt.Errorf("failed to write %s: %w", opts.File, err)
		}
		cmdCtx.Logger.Debug("wrote batch script", "path", opts.File, "profile", p.Name)
		return nil
	}
	return printScript(cmdCtx, p, script)
}

// renderOptions builds the sbatch options from config.
func renderOptions(cfg *config.Config, standalone bool) sbatch.RenderOptions {
	opts := sbatch.RenderOptions{
		Standalone: standalone,
		Probe:      cfg.ProbeTool,
	}
	if !standalone {
		opts.Executable = executable(cfg)
		opts.ConfigFile = config.GetConfigFileUsed()
	}
	return opts
}

// scriptOutput is the JSON form of a rendered script.
type scriptOutput struct {
	Profile    string   `json:"profile"`
	Mode       string   `json:"mode"`
	Directives []string `json:"directives"`
	Script     string   `json:"script"`
}

// printScript writes the script raw unless markdown or JSON was asked for
// explicitly; auto mode never wraps a script that is likely being redirected.
func printScript(cmdCtx *CommandContext, p profile.Profile, script string) error {
	r := cmdCtx.Renderer
	switch output.Mode(cmdCtx.Cfg.OutputFormat) {
	case output.ModeJSON:
		return r.JSON(scriptOutput{
			Profile:    p.Name,
			Mode:       p.Mode,
			Directives: sbatch.Directives(script),
			Script:     script,
		})
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, fmt.Sprintf("%s batch script (%s)", p.Name, p.Mode)))
		r.Println("")
		r.Println("```bash")
		r.Printf("%s", script)
		r.Println("```")
		return nil
	default:
		r.Printf("%s", script)
		return nil
	}
}
