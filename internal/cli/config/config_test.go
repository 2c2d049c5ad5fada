package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFlags mirrors the root command's persistent flags.
func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.StringP("output", "o", "", "")
	fs.String("state", "", "")
	fs.String("sbatch", "", "")
	fs.String("executable", "", "")
	fs.String("probe-tool", "", "")
	fs.Bool("no-history", false, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// chdirTemp moves the test into a fresh directory with no config file above
// it that the test did not write.
func chdirTemp(t *testing.T) string {
	t.Helper()
	ResetConfig()
	t.Cleanup(ResetConfig)
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Chdir(dir)
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := chdirTemp(t)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultSbatch, cfg.SbatchPath)
	assert.Equal(t, DefaultProbeTool, cfg.ProbeTool)
	assert.False(t, cfg.Verbose)
	assert.False(t, cfg.NoHistory)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		file  bool
		env   bool
		flags []string
		want  string
	}{
		{name: "default only", want: "auto"},
		{name: "file beats default", file: true, want: "markdown"},
		{name: "env beats file", file: true, env: true, want: "json"},
		{name: "flag beats env", file: true, env: true, flags: []string{"--output", "text"}, want: "text"},
		{name: "flag beats default", flags: []string{"-o", "json"}, want: "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			if tt.file {
				writeConfig(t, dir, "output: markdown\n")
			}
			if tt.env {
				t.Setenv("MQMJOB_OUTPUT", "json")
			}

			cfg, err := LoadConfig("", newFlags(t, tt.flags...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.OutputFormat)
		})
	}
}

func TestLoadConfig_UnsetFlagsDoNotOverride(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, "sbatch_path: /opt/slurm/bin/sbatch\nverbose: true\n")

	cfg, err := LoadConfig("", newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "/opt/slurm/bin/sbatch", cfg.SbatchPath)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_FlagKeyMapping(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig("", newFlags(t,
		"--sbatch", "/usr/local/bin/sbatch",
		"--probe-tool", "rocm-smi",
		"--executable", "/opt/mqmjob/bin/mqmjob",
		"--no-history",
		"-v",
	))
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/sbatch", cfg.SbatchPath)
	assert.Equal(t, "rocm-smi", cfg.ProbeTool)
	assert.Equal(t, "/opt/mqmjob/bin/mqmjob", cfg.Executable)
	assert.True(t, cfg.NoHistory)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_StatePathResolution(t *testing.T) {
	t.Run("relative to config file", func(t *testing.T) {
		dir := chdirTemp(t)
		project := filepath.Join(dir, "project")
		require.NoError(t, os.MkdirAll(project, 0o750))
		cfgPath := writeConfig(t, project, "state_path: var/history.db\n")

		cfg, err := LoadConfig(cfgPath, nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(project, "var", "history.db"), cfg.StatePath)
		assert.Equal(t, cfgPath, GetConfigFileUsed())
	})

	t.Run("flag relative to working directory", func(t *testing.T) {
		dir := chdirTemp(t)
		project := filepath.Join(dir, "project")
		require.NoError(t, os.MkdirAll(project, 0o750))
		cfgPath := writeConfig(t, project, "state_path: var/history.db\n")

		cfg, err := LoadConfig(cfgPath, newFlags(t, "--state", "mine.db"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "mine.db"), cfg.StatePath)
	})

	t.Run("in-memory is kept", func(t *testing.T) {
		chdirTemp(t)
		cfg, err := LoadConfig("", newFlags(t, "--state", ":memory:"))
		require.NoError(t, err)
		assert.Equal(t, ":memory:", cfg.StatePath)
	})
}

func TestLoadConfig_SearchesUpward(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	ResetConfig()
	t.Cleanup(ResetConfig)

	writeConfig(t, dir, "output: json\n")
	sub := filepath.Join(dir, "logs", "nested")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, filepath.Join(dir, ConfigFileName), GetConfigFileUsed())
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
}

func TestLoadConfig_ProfileOverrides(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, `profiles:
  GEMBA:
    gpus: 4
    time_limit: 10h
    mem_per_cpu: 16G
    wrapper: [srun, --mpi=pmix]
  comet:
    requeue: false
    settings: configs/comet.toml
    signal: USR2@120
`)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	gemba, err := cfg.Profile("gemba")
	require.NoError(t, err)
	assert.Equal(t, 4, gemba.Directives.GPUs)
	assert.Equal(t, 10*time.Hour, gemba.Directives.TimeLimit)
	assert.Equal(t, "16G", gemba.Directives.MemPerCPU)
	assert.Equal(t, []string{"srun", "--mpi=pmix"}, gemba.Pipeline.Wrapper)
	assert.Equal(t, "GEMBA-MQM", gemba.Mode)

	comet, err := cfg.Profile("comet")
	require.NoError(t, err)
	assert.False(t, comet.Directives.Requeue)
	assert.Equal(t, 1, comet.Directives.GPUs)
	assert.Equal(t, "configs/comet.toml", comet.Pipeline.Settings)
	assert.Equal(t, "USR2", comet.Directives.Signal.Name)
	assert.Equal(t, 2*time.Minute, comet.Directives.Signal.Before)
}

func TestLoadConfig_ProfileOverridesFromEnv(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, "profiles:\n  comet:\n    gpus: 2\n")
	t.Setenv("MQMJOB_PROFILES__COMET__GPUS", "3")
	t.Setenv("MQMJOB_PROFILES__COMET__WRAPPER", "srun,--exclusive")
	t.Setenv("MQMJOB_PROFILES__GEMBA__TIME_LIMIT", "12h")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	comet, err := cfg.Profile("comet")
	require.NoError(t, err)
	assert.Equal(t, 3, comet.Directives.GPUs)
	assert.Equal(t, []string{"srun", "--exclusive"}, comet.Pipeline.Wrapper)

	gemba, err := cfg.Profile("gemba")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, gemba.Directives.TimeLimit)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "invalid yaml",
			content:   "output: [unterminated\n",
			errSubstr: "error reading config file",
		},
		{
			name:      "unknown output format",
			content:   "output: yaml\n",
			errSubstr: "invalid output format",
		},
		{
			name:      "unknown output format from env",
			env:       map[string]string{"MQMJOB_OUTPUT": "csv"},
			errSubstr: "invalid output format",
		},
		{
			name:      "unknown profile",
			content:   "profiles:\n  bleu:\n    gpus: 1\n",
			errSubstr: "unknown profile",
		},
		{
			name:      "bad signal",
			content:   "profiles:\n  comet:\n    signal: \"USR1@soon\"\n",
			errSubstr: "profiles.comet",
		},
		{
			name:      "unknown signal name",
			content:   "profiles:\n  gemba:\n    signal: FOO@300\n",
			errSubstr: `profiles.gemba: invalid profile gemba: unknown signal "FOO"`,
		},
		{
			name:      "signal lead longer than limit",
			content:   "profiles:\n  comet:\n    time_limit: 2m\n    signal: USR1@300\n",
			errSubstr: "signal lead time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			if tt.content != "" {
				writeConfig(t, dir, tt.content)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
			assert.Nil(t, GetCurrentConfig())
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	_, err := LoadConfig("does-not-exist.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist.yaml")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "state_path", envKey("MQMJOB_STATE_PATH"))
	assert.Equal(t, "output", envKey("MQMJOB_OUTPUT"))
	assert.Equal(t, "profiles.gemba.time_limit", envKey("MQMJOB_PROFILES__GEMBA__TIME_LIMIT"))
}

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "state_path", flagKey("state"))
	assert.Equal(t, "sbatch_path", flagKey("sbatch"))
	assert.Equal(t, "probe_tool", flagKey("probe-tool"))
	assert.Equal(t, "verbose", flagKey("verbose"))
}

func TestGetLogger_Fallback(t *testing.T) {
	logger := GetLogger(context.Background())
	require.NotNil(t, logger)
	logger.Info("discarded")

	custom := NewLogger(os.Stderr, true)
	ctx := context.WithValue(context.Background(), LoggerKey(), custom)
	assert.Same(t, custom, GetLogger(ctx))
}
