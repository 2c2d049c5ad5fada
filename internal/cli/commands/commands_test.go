package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		name        string
		cmd         *cobra.Command
		use         string
		flags       []string
		needProfile bool
	}{
		{
			name:        "launch",
			cmd:         NewLaunchCommand(),
			use:         "launch",
			flags:       []string{"profile", "settings", "dir", "skip-probe", "skip-settings-check"},
			needProfile: true,
		},
		{
			name:        "render",
			cmd:         NewRenderCommand(),
			use:         "render",
			flags:       []string{"profile", "standalone", "file"},
			needProfile: true,
		},
		{
			name:        "submit",
			cmd:         NewSubmitCommand(),
			use:         "submit",
			flags:       []string{"profile", "standalone", "dry-run"},
			needProfile: true,
		},
		{
			name:  "history",
			cmd:   NewHistoryCommand(),
			use:   "history",
			flags: []string{"limit"},
		},
		{
			name: "profiles",
			cmd:  NewProfilesCommand(),
			use:  "profiles",
		},
		{
			name:  "init",
			cmd:   NewInitCommand(),
			use:   "init [directory]",
			flags: []string{"force"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			assert.NotEmpty(t, tt.cmd.Example, "Example should not be empty")

			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}

			if tt.needProfile {
				f := tt.cmd.Flags().Lookup("profile")
				require.NotNil(t, f)
				assert.Equal(t, "p", f.Shorthand)
				assert.Contains(t, f.Usage, "comet|gemba")
				assert.Equal(t, []string{"true"}, f.Annotations[cobra.BashCompOneRequiredFlag])
			}
		})
	}
}

func TestProfileFlagCompletion(t *testing.T) {
	cmd := NewLaunchCommand()

	fn, ok := cmd.GetFlagCompletionFunc("profile")
	require.True(t, ok)

	names, directive := fn(cmd, nil, "")
	assert.Equal(t, []string{"comet", "gemba"}, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestIsPipelineExit(t *testing.T) {
	cfg := testConfig(t)
	_, _, err := execute(t, NewLaunchCommand(), cfg, "--profile", "comet", "--dir", t.TempDir(), "--skip-probe")
	require.Error(t, err)
	assert.False(t, IsPipelineExit(err), "a missing settings file is not a pipeline exit")
	assert.False(t, IsPipelineExit(nil))
}
