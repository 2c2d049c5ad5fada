// Package output renders command results as styled text, markdown or JSON.
//
// In auto mode a terminal gets styled text and anything else (pipes, batch
// logs, scripts) gets markdown.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// OutputMode selects the output format.
type OutputMode string

// Output modes.
const (
	ModeAuto     OutputMode = "auto"
	ModeText     OutputMode = "text"
	ModeMarkdown OutputMode = "markdown"
	ModeJSON     OutputMode = "json"
)

// Modes lists the accepted --output values.
var Modes = []string{string(ModeAuto), string(ModeText), string(ModeMarkdown), string(ModeJSON)}

// Mode converts a config string to an OutputMode. Unknown values are auto.
func Mode(s string) OutputMode {
	switch OutputMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeText:
		return ModeText
	case ModeMarkdown, "md":
		return ModeMarkdown
	case ModeJSON:
		return ModeJSON
	default:
		return ModeAuto
	}
}

// ValidMode reports whether s is an accepted --output value.
func ValidMode(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "md" {
		return true
	}
	for _, m := range Modes {
		if s == m {
			return true
		}
	}
	return false
}

// Styles holds the text-mode styles.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Key     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Success: r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Info:    r.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:   r.NewStyle().Faint(true),
		Key:     r.NewStyle().Bold(true),
	}
}

// Renderer writes command output in the selected mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   OutputMode
	styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	return NewRendererWithTTY(out, errOut, isTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	lr := lipgloss.NewRenderer(out)
	if !isTTY {
		lr.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		isTTY:  isTTY,
		mode:   mode,
		styles: newStyles(lr),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// EffectiveMode resolves auto to text or markdown.
func (r *Renderer) EffectiveMode() OutputMode {
	if r.mode != ModeAuto && r.mode != "" {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Styles returns the text-mode styles.
func (r *Renderer) Styles() *Styles { return r.styles }

// Writer returns the stdout writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// Println writes a line to stdout.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted output to stdout.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a section header.
func (r *Renderer) Header(level int, text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatHeader(level, text))
		return
	}
	r.Println(r.styles.Header.Render(text))
}

// Success writes a success message.
func (r *Renderer) Success(msg string) {
	r.Println(r.styles.Success.Render("✓ " + msg))
}

// Warning writes a warning to stderr.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("Warning: "+msg))
}

// Error writes an error message to stderr.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("Error: "+msg))
}

// Muted renders de-emphasised text.
func (r *Renderer) Muted(s string) string {
	return r.styles.Muted.Render(s)
}

// StatusLine writes "name  [status] detail".
func (r *Renderer) StatusLine(name, status, detail string) {
	var badge string
	switch status {
	case "success":
		badge = r.styles.Success.Render("✓")
	case "warning", "skipped":
		badge = r.styles.Warning.Render("!")
	case "error", "failed":
		badge = r.styles.Error.Render("✗")
	default:
		badge = r.styles.Info.Render("•")
	}
	line := badge + " " + name
	if detail != "" {
		line += " " + r.Muted(detail)
	}
	r.Println(line)
}

// KeyValue writes one key/value line in the current mode.
func (r *Renderer) KeyValue(key, value string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatKeyValue(key, value))
		return
	}
	r.Println(r.styles.Key.Render(key+":") + " " + value)
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes rows under header: a box table for text, a pipe table for
// markdown.
func (r *Renderer) Table(header []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)

	headerRow := make(table.Row, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)
	for _, row := range rows {
		tr := make(table.Row, len(row))
		for i, v := range row {
			tr[i] = v
		}
		t.AppendRow(tr)
	}

	if r.EffectiveMode() == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// FormatHeader returns a markdown header.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns a markdown list item with a bold key.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("- **%s**: %s", key, value)
}
