package sbatch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/mqmjob/internal/profile"
	"github.com/leapstack-labs/mqmjob/internal/testutil"
)

func TestRender_Directives(t *testing.T) {
	tests := []struct {
		profile string
		want    []string
	}{
		{
			profile: "comet",
			want: []string{
				"--job-name=mqm-comet",
				"--time=04:00:00",
				"--ntasks=1",
				"--nodes=1",
				"--mem-per-cpu=8G",
				"--gpus=1",
				"--requeue",
				"--signal=B:USR1@300",
				"--output=logs/%x-%j.out",
			},
		},
		{
			profile: "gemba",
			want: []string{
				"--job-name=mqm-gemba",
				"--time=08:00:00",
				"--ntasks=1",
				"--nodes=1",
				"--mem-per-cpu=8G",
				"--gpus=2",
				"--requeue",
				"--signal=B:USR1@300",
				"--output=logs/%x-%j.out",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			p, err := profile.Lookup(tt.profile, nil)
			require.NoError(t, err)

			script, err := RenderString(p, RenderOptions{Executable: "/opt/bin/mqmjob"})
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"), "script should start with a shebang:\n%s", script)
			assert.Equal(t, tt.want, Directives(script))
			assert.Contains(t, script, "exec /opt/bin/mqmjob launch --profile "+tt.profile+"\n")
		})
	}
}

func TestRender_OmitsUnsetDirectives(t *testing.T) {
	p, err := profile.Lookup("comet", nil)
	require.NoError(t, err)
	p.Directives.GPUs = 0
	p.Directives.Requeue = false
	p.Directives.Signal = profile.PreExpirySignal{}
	p.Directives.MemPerCPU = ""

	script, err := RenderString(p, RenderOptions{})
	require.NoError(t, err)

	for _, flag := range []string{"--gpus", "--requeue", "--signal", "--mem-per-cpu"} {
		assert.NotContains(t, script, flag)
	}
	assert.Contains(t, script, "exec mqmjob launch --profile comet")
}

func TestRender_LauncherPassesConfig(t *testing.T) {
	p, err := profile.Lookup("gemba", nil)
	require.NoError(t, err)

	script, err := RenderString(p, RenderOptions{Executable: "mqmjob", ConfigFile: "/home/me/my config.yaml"})
	require.NoError(t, err)
	assert.Contains(t, script, "exec mqmjob launch --profile gemba --config '/home/me/my config.yaml'")
}

func TestRender_Standalone(t *testing.T) {
	p, err := profile.Lookup("comet", nil)
	require.NoError(t, err)

	script, err := RenderString(p, RenderOptions{Standalone: true})
	require.NoError(t, err)

	envIdx := strings.Index(script, "export OMP_NUM_THREADS=$SLURM_CPUS_ON_NODE")
	hfIdx := strings.Index(script, "export HF_HUB_OFFLINE=1")
	probeIdx := strings.Index(script, "nvidia-smi || echo")
	runIdx := strings.Index(script, "srun python scripts/run_pipeline.py --settings settings.toml")

	require.NotEqual(t, -1, envIdx)
	require.NotEqual(t, -1, hfIdx)
	require.NotEqual(t, -1, probeIdx)
	require.NotEqual(t, -1, runIdx)
	assert.Less(t, envIdx, runIdx)
	assert.Less(t, hfIdx, runIdx)
	assert.Less(t, probeIdx, runIdx)
	assert.Contains(t, script, `echo 'Running COMET evaluation'`)
	assert.NotContains(t, script, "exec ")
}

func TestRender_StandaloneQuotesConfigValues(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		probe     string
		wantEcho  string
		wantProbe string
	}{
		{
			name:      "double quote",
			mode:      `GEMBA "MQM`,
			wantEcho:  `echo 'Running GEMBA "MQM evaluation'`,
			wantProbe: `nvidia-smi || echo 'WARNING: nvidia-smi not available, continuing without GPU diagnostics'`,
		},
		{
			name:     "command substitution",
			mode:     "$(touch /tmp/pwned)",
			wantEcho: `echo 'Running $(touch /tmp/pwned) evaluation'`,
		},
		{
			name:     "single quote",
			mode:     "it's",
			wantEcho: `echo 'Running it'\''s evaluation'`,
		},
		{
			name:      "diagnostic path with spaces",
			mode:      "COMET",
			probe:     "/opt/gpu tools/smi",
			wantEcho:  `echo 'Running COMET evaluation'`,
			wantProbe: `'/opt/gpu tools/smi' || echo 'WARNING: /opt/gpu tools/smi not available, continuing without GPU diagnostics'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := profile.Lookup("gemba", nil)
			require.NoError(t, err)
			p.Mode = tt.mode

			script, err := RenderString(p, RenderOptions{Standalone: true, Probe: tt.probe})
			require.NoError(t, err)

			assert.Contains(t, script, tt.wantEcho+"\n")
			if tt.wantProbe != "" {
				assert.Contains(t, script, tt.wantProbe+"\n")
			}
			assert.NotContains(t, script, `"Running`)

			if bash, err := exec.LookPath("bash"); err == nil {
				check := exec.Command(bash, "-n")
				check.Stdin = strings.NewReader(script)
				out, err := check.CombinedOutput()
				assert.NoError(t, err, "bash -n: %s", out)
			}
		})
	}
}

func TestRender_InvalidProfile(t *testing.T) {
	p, err := profile.Lookup("comet", nil)
	require.NoError(t, err)
	p.Directives.TimeLimit = 0

	_, err = RenderString(p, RenderOptions{})
	assert.Error(t, err)
}

func TestQuoteArgs(t *testing.T) {
	assert.Equal(t, "srun python a.py --settings settings.toml",
		QuoteArgs([]string{"srun", "python", "a.py", "--settings", "settings.toml"}))
	assert.Equal(t, `'with space' '' 'it'\''s'`, QuoteArgs([]string{"with space", "", "it's"}))
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		in      string
		want    JobID
		wantErr bool
	}{
		{in: "12345\n", want: JobID{ID: "12345"}},
		{in: "12345;gpu-cluster\n", want: JobID{ID: "12345", Cluster: "gpu-cluster"}},
		{in: "  777  ", want: JobID{ID: "777"}},
		{in: "", wantErr: true},
		{in: "Submitted batch job 12", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJobID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// writeFakeSbatch installs a stand-in for sbatch that records its stdin.
func writeFakeSbatch(t *testing.T, body string) (path, stdinFile string) {
	t.Helper()
	dir := t.TempDir()
	stdinFile = filepath.Join(dir, "stdin")
	path = filepath.Join(dir, "sbatch")
	script := "#!/bin/sh\ncat > " + stdinFile + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, stdinFile
}

func TestSubmitter_Submit(t *testing.T) {
	path, stdinFile := writeFakeSbatch(t, `echo "4242;cluster"`)
	s := NewSubmitter(path, testutil.NewTestLogger(t))

	id, err := s.Submit(context.Background(), "#!/bin/bash\necho hi\n")
	require.NoError(t, err)
	assert.Equal(t, JobID{ID: "4242", Cluster: "cluster"}, id)
	assert.Equal(t, "4242;cluster", id.String())

	got, err := os.ReadFile(stdinFile)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\necho hi\n", string(got))
}

func TestSubmitter_Failure(t *testing.T) {
	path, _ := writeFakeSbatch(t, `echo "sbatch: error: invalid partition" >&2; exit 1`)
	s := NewSubmitter(path, nil)

	_, err := s.Submit(context.Background(), "#!/bin/bash\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmit))
	assert.Contains(t, err.Error(), "invalid partition")
}

func TestSubmitter_MissingBinary(t *testing.T) {
	s := NewSubmitter(filepath.Join(t.TempDir(), "no-such-sbatch"), nil)
	_, err := s.Submit(context.Background(), "#!/bin/bash\n")
	assert.ErrorIs(t, err, ErrSubmit)
}
