// Package state keeps a local history of job submissions and launches in
// SQLite.
package state

import "time"

// Kind says whether a record came from submitting or launching a job.
type Kind string

// Record kinds.
const (
	KindSubmit Kind = "submit"
	KindLaunch Kind = "launch"
)

// Status is the lifecycle state of a record.
type Status string

// Record statuses.
const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Launch is one history record.
type Launch struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Profile      string     `json:"profile"`
	Mode         string     `json:"mode"`
	JobID        string     `json:"job_id,omitempty"`
	Host         string     `json:"host,omitempty"`
	Status       Status     `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	GPUAvailable *bool      `json:"gpu_available,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Duration is the wall time of a finished launch, or zero.
func (l *Launch) Duration() time.Duration {
	if l.CompletedAt == nil {
		return 0
	}
	return l.CompletedAt.Sub(l.StartedAt)
}
