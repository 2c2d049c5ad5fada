// Package config provides configuration management for the mqmjob CLI.
//
// Configuration is read from mqmjob.yaml, MQMJOB_* environment variables and
// command-line flags. Per-profile overrides live under the profiles key and
// are merged into the built-in job profiles by profile.Lookup.
package config

import (
	"github.com/leapstack-labs/mqmjob/internal/profile"
)

// Config holds all CLI configuration options.
type Config struct {
	StatePath    string                      `koanf:"state_path"`
	Verbose      bool                        `koanf:"verbose"`
	OutputFormat string                      `koanf:"output"`
	SbatchPath   string                      `koanf:"sbatch_path"`
	Executable   string                      `koanf:"executable"`
	ProbeTool    string                      `koanf:"probe_tool"`
	NoHistory    bool                        `koanf:"no_history"`
	Profiles     map[string]profile.Override `koanf:"profiles"`
}

// Default configuration values.
const (
	// DefaultStateFile is relative to the project directory, which is
	// usually on a shared filesystem. The store uses SQLite's rollback
	// journal so that works wherever file locking does.
	DefaultStateFile = ".mqmjob/state.db"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultSbatch    = "sbatch"
	DefaultProbeTool = "nvidia-smi"

	// ConfigFileName is the file written by init and searched for on startup.
	ConfigFileName = "mqmjob.yaml"
)

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	return &Config{
		StatePath:    DefaultStateFile,
		OutputFormat: DefaultOutput,
		SbatchPath:   DefaultSbatch,
		ProbeTool:    DefaultProbeTool,
	}
}

// Profile resolves a built-in profile with this config's overrides applied.
func (c *Config) Profile(name string) (profile.Profile, error) {
	return profile.Lookup(name, c.Profiles)
}
