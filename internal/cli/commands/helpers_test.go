package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/mqmjob/internal/cli/config"
	"github.com/leapstack-labs/mqmjob/internal/testutil"
)

// testConfig returns a config with an isolated history database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cfg := config.Default()
	cfg.StatePath = filepath.Join(t.TempDir(), "state", "state.db")
	cfg.Executable = "/opt/mqmjob/bin/mqmjob"
	cfg.OutputFormat = "markdown"
	return cfg
}

// execute runs cmd with cfg and a test logger in its context. Usage and
// error printing are silenced as they are under the root command.
func execute(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	ctx := config.WithConfig(context.Background(), cfg)
	ctx = context.WithValue(ctx, config.LoggerKey(), testutil.NewTestLogger(t))

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// writeScript writes an executable shell script into a temp dir.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}
