package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/profile"
	"github.com/leapstack-labs/mqmjob/internal/sbatch"
)

// SubmitOptions holds options for the submit command.
type SubmitOptions struct {
	Profile    string
	Standalone bool
	DryRun     bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand() *cobra.Command {
	opts := &SubmitOptions{}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a profile's batch script to the scheduler",
		Long: `Render the batch script for a profile and submit it with sbatch.

The script is piped to "sbatch --parsable" on stdin and the assigned job id
is printed. The log directory of the --output directive is created first,
since the scheduler does not create it. Nothing is retried: a rejected
submission is reported with sbatch's error message.`,
		Example: `  # Submit the COMET evaluation
  mqmjob submit --profile comet

  # Show what would be submitted
  mqmjob submit --profile gemba --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmit(cmd, opts)
		},
	}

	addProfileFlag(cmd, &opts.Profile)
	cmd.Flags().BoolVar(&opts.Standalone, "standalone", false, "Submit the plain shell body instead of exec'ing mqmjob")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the script instead of submitting it")

	return cmd
}

// submitOutput is the JSON form of a submission.
type submitOutput struct {
	Profile string `json:"profile"`
	Mode    string `json:"mode"`
	JobID   string `json:"job_id"`
	Cluster string `json:"cluster,omitempty"`
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions) error {
	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	p, err := cmdCtx.Profile(opts.Profile)
	if err != nil {
		return err
	}
	script, err := sbatch.RenderString(p, renderOptions(cmdCtx.Cfg, opts.Standalone))
	if err != nil {
		return err
	}

	if opts.DryRun {
		return printScript(cmdCtx, p, script)
	}

	if err := ensureLogDir(p.Directives.Output); err != nil {
		return err
	}

	sub := sbatch.NewSubmitter(cmdCtx.Cfg.SbatchPath, cmdCtx.Logger)
	id, err := sub.Submit(ctx, script)
	if err != nil {
		return err
	}

	recordSubmission(cmdCtx, cmd, p, id)

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(submitOutput{Profile: p.Name, Mode: p.Mode, JobID: id.ID, Cluster: id.Cluster})
	case output.ModeMarkdown:
		r.Println(output.FormatKeyValue("Profile", p.Name))
		r.Println(output.FormatKeyValue("Job", id.String()))
	default:
		r.Success(fmt.Sprintf("Submitted batch job %s (%s)", id, p.Mode))
	}
	return nil
}

// ensureLogDir creates the directory part of an --output pattern such as
// "logs/%x-%j.out". Directories that themselves contain patterns are left
// to the scheduler.
func ensureLogDir(pattern string) error {
	if pattern == "" {
		return nil
	}
	dir := filepath.Dir(pattern)
	if dir == "." || strings.Contains(dir, "%") {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return nil
}

func recordSubmission(cmdCtx *CommandContext, cmd *cobra.Command, p profile.Profile, id sbatch.JobID) {
	if cmdCtx.Cfg.NoHistory {
		return
	}
	store, cleanup, err := cmdCtx.OpenStore()
	if err != nil {
		cmdCtx.Logger.Warn("launch history unavailable", slog.Any("error", err))
		return
	}
	defer cleanup()
	if _, err := store.RecordSubmission(cmd.Context(), p.Name, p.Mode, id.String()); err != nil {
		cmdCtx.Logger.Warn("failed to record submission", slog.Any("error", err))
	}
}
