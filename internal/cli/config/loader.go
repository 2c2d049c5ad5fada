package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
// This key is shared with root.go via both using the same type.
type loggerKey struct{}

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "MQMJOB_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// configNames are the config file names, in order of preference.
var configNames = []string{ConfigFileName, "mqmjob.yml"}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config // Stores the loaded config for access by commands
)

// configIn returns the config file in dir, if any.
func configIn(dir string) string {
	for _, name := range configNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// findConfigFile finds the config file to use.
// Priority: explicit path > mqmjob.yaml > mqmjob.yml, searching upward from
// startDir so that jobs submitted from a subdirectory still find the
// project's config.
func findConfigFile(explicit, startDir string) string {
	if explicit != "" {
		return explicit
	}
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if found := configIn(dir); found != "" {
			return found
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty, in-memory or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// envKey maps MQMJOB_STATE_PATH to state_path and
// MQMJOB_PROFILES__GEMBA__TIME_LIMIT to profiles.gemba.time_limit.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// flagKey maps a flag name to its config key.
func flagKey(name string) string {
	// The CLI uses short flag names; the config file uses descriptive keys.
	switch name {
	case "state":
		return "state_path"
	case "sbatch":
		return "sbatch_path"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// globalFlags are the root persistent flags that map onto config keys.
var globalFlags = map[string]bool{
	"verbose":    true,
	"output":     true,
	"state":      true,
	"sbatch":     true,
	"executable": true,
	"probe-tool": true,
	"no-history": true,
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		cwd = "."
	}

	// 1. Load defaults
	def := Default()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"state_path":  def.StatePath,
		"verbose":     false,
		"output":      def.OutputFormat,
		"sbatch_path": def.SbatchPath,
		"probe_tool":  def.ProbeTool,
		"no_history":  false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFileUsed = findConfigFile(cfgFile, cwd)
	baseDir := cwd
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
		if abs, err := filepath.Abs(configFileUsed); err == nil {
			configFileUsed = abs
			baseDir = filepath.Dir(abs)
		}
	}

	// 3. Load environment variables (MQMJOB_ prefix)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	var flagStatePath string
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed || !globalFlags[f.Name] {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}

		// A --state given on the command line is relative to the CWD, not to
		// the config file.
		if flags.Changed("state") {
			if v, _ := flags.GetString("state"); v != "" && v != ":memory:" {
				flagStatePath, _ = filepath.Abs(v)
			}
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Resolve relative paths against the config file's directory
	if flagStatePath != "" {
		cfg.StatePath = flagStatePath
	} else {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, baseDir)
	}
	cfg.Profiles = normalizeProfileKeys(cfg.Profiles)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store config for access by commands
	currentConfig = &cfg

	return &cfg, nil
}

// unmarshal decodes the koanf tree. Durations accept "4h" style strings and
// list values accept comma-separated strings from the environment.
func unmarshal(cfg *Config) error {
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	})
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.New(slog.DiscardHandler)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// NewLogger returns the CLI logger: text to w, debug level when verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// configKey is used to store the loaded config in context.
type configKey struct{}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(configKey{}).(*Config)
	return c
}
