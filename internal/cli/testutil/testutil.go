// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/leapstack-labs/mqmjob/internal/cli/output"
)

// SetupTestProject creates a project directory holding a settings file and
// a fake pipeline script that echoes its environment and arguments.
// Returns the directory and the script path.
func SetupTestProject(t *testing.T) (dir, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test needs a POSIX shell")
	}

	dir = t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o750); err != nil {
		t.Fatalf("failed to create scripts directory: %v", err)
	}

	settings := `[data]
annotations_dir = "data/annotations"
output_dir = "results"

[metrics]
run = ["comet"]
run_gemba = true
gemba_model = "gpt-4o"

[metrics.comet]
model = "Unbabel/wmt22-comet-da"
batch_size = 16
gpus = 1
`
	if err := os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(settings), 0o600); err != nil {
		t.Fatalf("failed to create settings.toml: %v", err)
	}

	script = filepath.Join(dir, "scripts", "run_pipeline.sh")
	pipeline := `#!/bin/sh
echo "OMP=$OMP_NUM_THREADS HF=$HF_HUB_OFFLINE ARGS=$*"
`
	if err := os.WriteFile(script, []byte(pipeline), 0o755); err != nil { //nolint:gosec // test script must be executable
		t.Fatalf("failed to create run_pipeline.sh: %v", err)
	}

	return dir, script
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// Output returns the combined stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and basic structure.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	// Check for balanced code fences
	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	// Check that headers have content
	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
