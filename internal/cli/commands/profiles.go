package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/profile"
)

// NewProfilesCommand creates the profiles command.
func NewProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the job profiles and their resources",
		Long: `List the built-in job profiles with any overrides from mqmjob.yaml applied.

Output adapts to environment:
  - Terminal: table
  - Piped/Scripted: Markdown table

Use --output to override: auto, text, markdown, json`,
		Example: `  # Show resources requested by each profile
  mqmjob profiles

  # As JSON
  mqmjob profiles --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProfiles(cmd)
		},
	}
	return cmd
}

// profileOutput is the JSON form of a profile.
type profileOutput struct {
	Name      string   `json:"name"`
	Mode      string   `json:"mode"`
	JobName   string   `json:"job_name"`
	TimeLimit string   `json:"time_limit"`
	NTasks    int      `json:"ntasks"`
	Nodes     int      `json:"nodes"`
	MemPerCPU string   `json:"mem_per_cpu,omitempty"`
	GPUs      int      `json:"gpus"`
	Requeue   bool     `json:"requeue"`
	Signal    string   `json:"signal,omitempty"`
	Output    string   `json:"output,omitempty"`
	Command   []string `json:"command"`
}

func toProfileOutput(p profile.Profile) profileOutput {
	d := p.Directives
	return profileOutput{
		Name:      p.Name,
		Mode:      p.Mode,
		JobName:   d.JobName,
		TimeLimit: profile.FormatTimeLimit(d.TimeLimit),
		NTasks:    d.NTasks,
		Nodes:     d.Nodes,
		MemPerCPU: d.MemPerCPU,
		GPUs:      d.GPUs,
		Requeue:   d.Requeue,
		Signal:    d.Signal.String(),
		Output:    d.Output,
		Command:   p.Pipeline.Argv(),
	}
}

func runProfiles(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	profiles := make([]profileOutput, 0, len(profile.Names()))
	for _, name := range profile.Names() {
		p, err := cmdCtx.Profile(name)
		if err != nil {
			return err
		}
		profiles = append(profiles, toProfileOutput(p))
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(profiles)
	}

	header := []string{"Profile", "Mode", "Time", "GPUs", "Tasks", "Nodes", "Mem/CPU", "Requeue", "Signal"}
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{
			p.Name,
			p.Mode,
			p.TimeLimit,
			strconv.Itoa(p.GPUs),
			strconv.Itoa(p.NTasks),
			strconv.Itoa(p.Nodes),
			p.MemPerCPU,
			strconv.FormatBool(p.Requeue),
			p.Signal,
		})
	}

	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(1, fmt.Sprintf("Profiles (%d)", len(profiles))))
		r.Println("")
	}
	r.Table(header, rows)

	if cmdCtx.Cfg.Verbose {
		r.Println("")
		for _, p := range profiles {
			r.KeyValue(p.Name, strings.Join(p.Command, " "))
		}
	}
	return nil
}
