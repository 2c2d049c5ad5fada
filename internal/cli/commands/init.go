package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/mqmjob/internal/cli/config"
	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/profile"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a default mqmjob.yaml",
		Long: `Create an mqmjob.yaml with the default settings and an override block
for each profile, plus the logs/ directory the batch scripts write to.

Edit the profile blocks to change resources or the pipeline command without
rebuilding mqmjob.`,
		Example: `  # Initialize in current directory
  mqmjob init

  # Initialize in another directory
  mqmjob init ../mqm-benchmark

  # Force overwrite existing config
  mqmjob init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg := getConfig(cmd.Context())
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

// initFile is the layout of the generated mqmjob.yaml.
type initFile struct {
	StatePath  string                 `yaml:"state_path"`
	Output     string                 `yaml:"output"`
	SbatchPath string                 `yaml:"sbatch_path"`
	ProbeTool  string                 `yaml:"probe_tool"`
	Profiles   map[string]initProfile `yaml:"profiles"`
}

type initProfile struct {
	TimeLimit string   `yaml:"time_limit"`
	GPUs      int      `yaml:"gpus"`
	MemPerCPU string   `yaml:"mem_per_cpu"`
	Signal    string   `yaml:"signal"`
	Settings  string   `yaml:"settings"`
	Wrapper   []string `yaml:"wrapper,flow"`
}

const initHeader = `# mqmjob configuration.
# Every key can also be set with an MQMJOB_ environment variable, e.g.
# MQMJOB_OUTPUT=json or MQMJOB_PROFILES__GEMBA__GPUS=4.
`

// defaultConfigYAML renders the default configuration file.
func defaultConfigYAML() ([]byte, error) {
	def := config.Default()
	f := initFile{
		StatePath:  def.StatePath,
		Output:     def.OutputFormat,
		SbatchPath: def.SbatchPath,
		ProbeTool:  def.ProbeTool,
		Profiles:   map[string]initProfile{},
	}
	for name, p := range profile.Builtin() {
		f.Profiles[name] = initProfile{
			TimeLimit: p.Directives.TimeLimit.String(),
			GPUs:      p.Directives.GPUs,
			MemPerCPU: p.Directives.MemPerCPU,
			Signal:    p.Directives.Signal.String(),
			Settings:  p.Pipeline.Settings,
			Wrapper:   p.Pipeline.Wrapper,
		}
	}

	var buf bytes.Buffer
	buf.WriteString(initHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func runInit(r *output.Renderer, dir string, force bool) error {
	// Create directory if specified and doesn't exist
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Check if config already exists
	configPath := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", config.ConfigFileName)
	}

	content, err := defaultConfigYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	r.StatusLine(config.ConfigFileName, "success", "")

	logsDir := filepath.Join(dir, filepath.Dir(profile.DefaultOutput))
	if err := os.MkdirAll(logsDir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", logsDir, err)
	}
	r.StatusLine(filepath.Dir(profile.DefaultOutput)+"/", "success", "")

	r.Println("")
	r.Success("mqmjob initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Check the profile resources with 'mqmjob profiles'")
	r.Println("  2. Review a batch script with 'mqmjob render --profile comet'")
	r.Println("  3. Submit with 'mqmjob submit --profile comet'")

	return nil
}
