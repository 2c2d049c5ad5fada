// Package profile defines the evaluation job profiles and the scheduler
// directives each one requests.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownProfile is returned by Lookup for names that are not built in.
var ErrUnknownProfile = errors.New("unknown profile")

// Default pipeline invocation values.
const (
	DefaultPython   = "python"
	DefaultScript   = "scripts/run_pipeline.py"
	DefaultSettings = "settings.toml"
	DefaultOutput   = "logs/%x-%j.out"
)

// DefaultWrapper is the scheduler's task-launch wrapper.
var DefaultWrapper = []string{"srun"}

// PreExpirySignal is the signal the scheduler sends a fixed time before the
// job's time limit.
type PreExpirySignal struct {
	Name      string        `json:"name" koanf:"name"`
	Before    time.Duration `json:"before" koanf:"before"`
	BatchOnly bool          `json:"batch_only" koanf:"batch_only"`
}

// String renders the signal in scheduler form, e.g. "B:USR1@300".
func (s PreExpirySignal) String() string {
	if s.Name == "" {
		return ""
	}
	prefix := ""
	if s.BatchOnly {
		prefix = "B:"
	}
	return fmt.Sprintf("%s%s@%d", prefix, s.Name, int(s.Before/time.Second))
}

// signalNames are the signal names the scheduler accepts, without the SIG
// prefix.
var signalNames = map[string]bool{
	"HUP": true, "INT": true, "QUIT": true, "ILL": true, "TRAP": true,
	"ABRT": true, "BUS": true, "FPE": true, "KILL": true, "USR1": true,
	"SEGV": true, "USR2": true, "PIPE": true, "ALRM": true, "TERM": true,
	"STKFLT": true, "CHLD": true, "CONT": true, "STOP": true, "TSTP": true,
	"TTIN": true, "TTOU": true, "URG": true, "XCPU": true, "XFSZ": true,
	"VTALRM": true, "PROF": true, "WINCH": true, "IO": true, "PWR": true,
	"SYS": true,
}

// maxSignalNumber is the highest signal number, real-time signals included.
const maxSignalNumber = 64

// ValidSignalName reports whether name is a known signal name or a signal
// number between 1 and 64.
func ValidSignalName(name string) bool {
	if n, err := strconv.Atoi(name); err == nil {
		return n >= 1 && n <= maxSignalNumber
	}
	return signalNames[name]
}

// ParsePreExpirySignal parses "[B:]NAME[@SECONDS]". A missing lead time
// defaults to 60 seconds, as the scheduler does.
func ParsePreExpirySignal(s string) (PreExpirySignal, error) {
	var sig PreExpirySignal
	s = strings.TrimSpace(s)
	if s == "" {
		return sig, errors.New("empty signal specification")
	}
	if rest, ok := strings.CutPrefix(s, "B:"); ok {
		sig.BatchOnly = true
		s = rest
	}
	name, secs, hasSecs := strings.Cut(s, "@")
	name = strings.TrimPrefix(strings.ToUpper(name), "SIG")
	if name == "" {
		return sig, fmt.Errorf("signal specification %q has no signal name", s)
	}
	sig.Name = name
	sig.Before = 60 * time.Second
	if hasSecs {
		n, err := strconv.Atoi(secs)
		if err != nil || n < 0 {
			return sig, fmt.Errorf("invalid signal lead time %q", secs)
		}
		sig.Before = time.Duration(n) * time.Second
	}
	return sig, nil
}

// Directives are the resources requested from the scheduler.
type Directives struct {
	JobName   string          `json:"job_name" koanf:"job_name"`
	TimeLimit time.Duration   `json:"time_limit" koanf:"time_limit"`
	NTasks    int             `json:"ntasks" koanf:"ntasks"`
	Nodes     int             `json:"nodes" koanf:"nodes"`
	MemPerCPU string          `json:"mem_per_cpu" koanf:"mem_per_cpu"`
	GPUs      int             `json:"gpus" koanf:"gpus"`
	Requeue   bool            `json:"requeue" koanf:"requeue"`
	Signal    PreExpirySignal `json:"signal" koanf:"signal"`
	Output    string          `json:"output" koanf:"output"`
}

// Pipeline describes how the external evaluation pipeline is invoked.
type Pipeline struct {
	Python   string   `json:"python" koanf:"python"`
	Script   string   `json:"script" koanf:"script"`
	Settings string   `json:"settings" koanf:"settings"`
	Wrapper  []string `json:"wrapper" koanf:"wrapper"`
}

// Args returns the pipeline's own arguments.
func (p Pipeline) Args() []string {
	return []string{"--settings", p.Settings}
}

// Argv returns the full command line, wrapper first.
func (p Pipeline) Argv() []string {
	argv := make([]string, 0, len(p.Wrapper)+4)
	argv = append(argv, p.Wrapper...)
	argv = append(argv, p.Python, p.Script)
	return append(argv, p.Args()...)
}

// Profile is one evaluation job: what to request and what to run.
type Profile struct {
	Name       string     `json:"name"`
	Mode       string     `json:"mode"`
	Directives Directives `json:"directives"`
	Pipeline   Pipeline   `json:"pipeline"`
}

func defaultPipeline() Pipeline {
	return Pipeline{
		Python:   DefaultPython,
		Script:   DefaultScript,
		Settings: DefaultSettings,
		Wrapper:  append([]string(nil), DefaultWrapper...),
	}
}

func defaultSignal() PreExpirySignal {
	return PreExpirySignal{Name: "USR1", Before: 300 * time.Second, BatchOnly: true}
}

// Builtin returns the built-in profiles keyed by name.
func Builtin() map[string]Profile {
	return map[string]Profile{
		"comet": {
			Name: "comet",
			Mode: "COMET",
			Directives: Directives{
				JobName:   "mqm-comet",
				TimeLimit: 4 * time.Hour,
				NTasks:    1,
				Nodes:     1,
				MemPerCPU: "8G",
				GPUs:      1,
				Requeue:   true,
				Signal:    defaultSignal(),
				Output:    DefaultOutput,
			},
			Pipeline: defaultPipeline(),
		},
		"gemba": {
			Name: "gemba",
			Mode: "GEMBA-MQM",
			Directives: Directives{
				JobName:   "mqm-gemba",
				TimeLimit: 8 * time.Hour,
				NTasks:    1,
				Nodes:     1,
				MemPerCPU: "8G",
				GPUs:      2,
				Requeue:   true,
				Signal:    defaultSignal(),
				Output:    DefaultOutput,
			},
			Pipeline: defaultPipeline(),
		},
	}
}

// Names returns the sorted built-in profile names.
func Names() []string {
	names := make([]string, 0, 2)
	for name := range Builtin() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named built-in profile with any override applied.
func Lookup(name string, overrides map[string]Override) (Profile, error) {
	p, ok := Builtin()[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownProfile, name, strings.Join(Names(), ", "))
	}
	if o, ok := overrides[p.Name]; ok {
		if err := o.ApplyTo(&p); err != nil {
			return Profile{}, fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}
	return p, nil
}

// Validate checks the profile is something the scheduler can accept.
func (p Profile) Validate() error {
	d := p.Directives
	var errs []error
	if d.JobName == "" {
		errs = append(errs, errors.New("job name is required"))
	}
	if d.TimeLimit <= 0 {
		errs = append(errs, errors.New("time limit must be positive"))
	}
	if d.NTasks < 1 {
		errs = append(errs, fmt.Errorf("ntasks must be at least 1, got %d", d.NTasks))
	}
	if d.Nodes < 1 {
		errs = append(errs, fmt.Errorf("nodes must be at least 1, got %d", d.Nodes))
	}
	if d.GPUs < 0 {
		errs = append(errs, fmt.Errorf("gpus must not be negative, got %d", d.GPUs))
	}
	if d.Signal.Name != "" && !ValidSignalName(d.Signal.Name) {
		errs = append(errs, fmt.Errorf("unknown signal %q", d.Signal.Name))
	}
	if d.Signal.Name != "" && d.Signal.Before >= d.TimeLimit {
		errs = append(errs, fmt.Errorf("signal lead time %s is not shorter than time limit %s", d.Signal.Before, d.TimeLimit))
	}
	if p.Pipeline.Script == "" {
		errs = append(errs, errors.New("pipeline script is required"))
	}
	if p.Pipeline.Settings == "" {
		errs = append(errs, errors.New("settings path is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid profile %s: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

// FormatTimeLimit renders d as the scheduler's [D-]HH:MM:SS form. Partial
// seconds round up.
func FormatTimeLimit(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	days := secs / 86400
	secs %= 86400
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
