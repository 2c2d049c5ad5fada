package sbatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultPath is the submission command looked up on PATH.
const DefaultPath = "sbatch"

// ErrSubmit is wrapped by every submission failure.
var ErrSubmit = errors.New("sbatch submission failed")

// JobID identifies a submitted job.
type JobID struct {
	ID      string
	Cluster string
}

func (j JobID) String() string {
	if j.Cluster == "" {
		return j.ID
	}
	return j.ID + ";" + j.Cluster
}

// Submitter pipes batch scripts to sbatch.
type Submitter struct {
	Path   string
	Args   []string
	Logger *slog.Logger
}

// NewSubmitter returns a Submitter for the given sbatch path.
func NewSubmitter(path string, logger *slog.Logger) *Submitter {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Submitter{Path: path, Logger: logger}
}

// Submit sends script to the scheduler and returns the assigned job id.
// The script is fed on stdin so no temporary file is needed.
func (s *Submitter) Submit(ctx context.Context, script string) (JobID, error) {
	args := append([]string{"--parsable"}, s.Args...)
	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Stdin = strings.NewReader(script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.Logger.Debug("submitting batch script", slog.String("sbatch", s.Path), slog.Any("args", args))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return JobID{}, fmt.Errorf("%w: %s", ErrSubmit, msg)
	}

	id, err := ParseJobID(stdout.String())
	if err != nil {
		return JobID{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	s.Logger.Info("job submitted", slog.String("job_id", id.String()))
	return id, nil
}

// ParseJobID parses the output of "sbatch --parsable": "<id>[;<cluster>]".
func ParseJobID(out string) (JobID, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return JobID{}, errors.New("empty sbatch output")
	}
	id, cluster, _ := strings.Cut(line, ";")
	for _, r := range id {
		if (r < '0' || r > '9') && r != '_' {
			return JobID{}, fmt.Errorf("unexpected sbatch output %q", line)
		}
	}
	return JobID{ID: id, Cluster: cluster}, nil
}
