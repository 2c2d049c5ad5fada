package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent submissions and launches",
		Long: `Show the most recent submissions and launches recorded in the history
database, newest first.`,
		Example: `  # Last 20 records
  mqmjob history

  # Last 5 as JSON
  mqmjob history --limit 5 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of records to show")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	if opts.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", opts.Limit)
	}

	var launches []*state.Launch
	// Reading history must not create a database as a side effect.
	if _, err := os.Stat(cmdCtx.Cfg.StatePath); err == nil || cmdCtx.Cfg.StatePath == ":memory:" {
		store, cleanup, err := cmdCtx.OpenStore()
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer cleanup()

		launches, err = store.ListLaunches(cmd.Context(), opts.Limit)
		if err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to open history: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		if launches == nil {
			launches = []*state.Launch{}
		}
		return r.JSON(launches)
	}

	if len(launches) == 0 {
		r.Println("No launches recorded.")
		return nil
	}

	header := []string{"ID", "Kind", "Profile", "Job", "Host", "Status", "Exit", "Started", "Duration"}
	rows := make([][]string, 0, len(launches))
	for _, l := range launches {
		rows = append(rows, historyRow(l))
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(1, fmt.Sprintf("History (%d)", len(launches))))
		r.Println("")
	}
	r.Table(header, rows)
	return nil
}

func historyRow(l *state.Launch) []string {
	id := l.ID
	if len(id) > 8 {
		id = id[:8]
	}
	exit := ""
	if l.ExitCode != nil {
		exit = strconv.Itoa(*l.ExitCode)
	}
	dur := ""
	if d := l.Duration(); d > 0 {
		dur = d.Round(time.Second).String()
	}
	return []string{
		id,
		string(l.Kind),
		l.Profile,
		l.JobID,
		l.Host,
		string(l.Status),
		exit,
		l.StartedAt.Local().Format("2006-01-02 15:04:05"),
		dur,
	}
}
