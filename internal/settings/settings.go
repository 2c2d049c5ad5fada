// Package settings checks the pipeline's settings file before a job spends
// its allocation on it. The pipeline owns the file format; only the fields the
// launcher reasons about are decoded.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// ErrNotFound is returned when the settings file does not exist.
var ErrNotFound = errors.New("settings file not found")

// Settings is the subset of settings.toml the launcher inspects.
type Settings struct {
	Path    string  `toml:"-"`
	Data    Data    `toml:"data"`
	Metrics Metrics `toml:"metrics"`
}

// Data holds the pipeline's input and output locations.
type Data struct {
	AnnotationsDir string `toml:"annotations_dir"`
	OutputDir      string `toml:"output_dir"`
}

// Metrics selects which metrics the pipeline computes.
type Metrics struct {
	Run        []string     `toml:"run"`
	RunGemba   bool         `toml:"run_gemba"`
	GembaModel string       `toml:"gemba_model"`
	Comet      MetricConfig `toml:"comet"`
	XComet     MetricConfig `toml:"xcomet"`
}

// MetricConfig is the per-model block of a neural metric.
type MetricConfig struct {
	Model     string `toml:"model"`
	BatchSize int    `toml:"batch_size"`
	GPUs      int    `toml:"gpus"`
}

// Check verifies the settings file exists and returns its absolute path.
func Check(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve settings path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("settings path %s is a directory", abs)
	}
	return abs, nil
}

// Inspect reads and decodes the settings file at path.
func Inspect(path string) (*Settings, error) {
	abs, err := Check(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	var s Settings
	if err := toml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", abs, err)
	}
	s.Path = abs
	return &s, nil
}

// Runs reports whether the metric is listed in metrics.run.
func (s *Settings) Runs(metric string) bool {
	return slices.Contains(s.Metrics.Run, metric)
}

// Enables reports whether the settings turn on the evaluation that profile
// name is meant to run. known is false for profiles with no matching metric.
func (s *Settings) Enables(profileName string) (enabled, known bool) {
	switch profileName {
	case "comet":
		return s.Runs("comet") || s.Runs("xcomet"), true
	case "gemba":
		return s.Metrics.RunGemba, true
	}
	return false, false
}

// GPUsRequested returns the largest GPU count any enabled neural metric asks
// for.
func (s *Settings) GPUsRequested() int {
	n := 0
	if s.Runs("comet") {
		n = max(n, s.Metrics.Comet.GPUs)
	}
	if s.Runs("xcomet") {
		n = max(n, s.Metrics.XComet.GPUs)
	}
	return n
}

// Warnings lists mismatches between the settings file and a job that will
// run profileName with gpus allocated GPUs.
func (s *Settings) Warnings(profileName string, gpus int) []string {
	var warnings []string
	if enabled, known := s.Enables(profileName); known && !enabled {
		warnings = append(warnings, fmt.Sprintf("settings file %s does not enable the %s evaluation", s.Path, profileName))
	}
	if want := s.GPUsRequested(); want > gpus {
		warnings = append(warnings, fmt.Sprintf("settings request %d GPUs but the job allocates %d", want, gpus))
	}
	if profileName == "gemba" && s.Metrics.RunGemba && s.Metrics.GembaModel == "" {
		warnings = append(warnings, "metrics.run_gemba is set but metrics.gemba_model is empty")
	}
	return warnings
}
