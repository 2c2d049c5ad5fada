// Package sbatch renders batch scripts for the cluster scheduler and submits
// them.
package sbatch

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/leapstack-labs/mqmjob/internal/profile"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// quote is available to templates for any value pasted into shell source.
var templates = template.Must(template.New("sbatch").
	Funcs(template.FuncMap{"quote": quote}).
	ParseFS(templateFS, "templates/*.tmpl"))

// DirectivePrefix marks a scheduler directive line in a batch script.
const DirectivePrefix = "#SBATCH"

// DefaultProbe is the GPU diagnostic tool.
const DefaultProbe = "nvidia-smi"

// RenderOptions selects the body of the rendered script.
type RenderOptions struct {
	// Standalone renders a plain shell body that does not need mqmjob on
	// the compute node.
	Standalone bool
	// Executable is the mqmjob binary the launcher body execs.
	Executable string
	// ConfigFile is passed through to the launcher when set.
	ConfigFile string
	// Probe overrides the GPU diagnostic command in standalone scripts.
	Probe string
}

type scriptData struct {
	Directives profile.Directives
	TimeLimit  string
	Signal     string
	Mode       string
	Launch     string
	Command    string
	Probe      string
}

// Render writes the batch script for p to w.
func Render(w io.Writer, p profile.Profile, opts RenderOptions) error {
	if err := p.Validate(); err != nil {
		return err
	}

	data := scriptData{
		Directives: p.Directives,
		TimeLimit:  profile.FormatTimeLimit(p.Directives.TimeLimit),
		Signal:     p.Directives.Signal.String(),
		Mode:       p.Mode,
		Command:    QuoteArgs(p.Pipeline.Argv()),
		Probe:      opts.Probe,
	}
	if data.Probe == "" {
		data.Probe = DefaultProbe
	}

	name := "launcher.sh.tmpl"
	if opts.Standalone {
		name = "standalone.sh.tmpl"
	} else {
		exe := opts.Executable
		if exe == "" {
			exe = "mqmjob"
		}
		launch := []string{exe, "launch", "--profile", p.Name}
		if opts.ConfigFile != "" {
			launch = append(launch, "--config", opts.ConfigFile)
		}
		data.Launch = QuoteArgs(launch)
	}

	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("failed to render batch script: %w", err)
	}
	return nil
}

// RenderString is Render into a string.
func RenderString(p profile.Profile, opts RenderOptions) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, p, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Directives returns the directive lines of a rendered script, without the
// prefix.
func Directives(script string) []string {
	var out []string
	for _, line := range strings.Split(script, "\n") {
		if rest, ok := strings.CutPrefix(line, DirectivePrefix+" "); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}

// QuoteArgs joins args into a single shell command line.
func QuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:@%+,", r)
}
