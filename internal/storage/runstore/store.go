// Package runstore keeps the record of submitted and finished analysis runs.
package runstore

import (
	"context"
	"errors"
	"time"

	"emprofiler/internal/operations"
)

// Status is the lifecycle state of a stored run
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusRejected marks a submitted run whose request failed validation
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// StatusFromReport maps a sealed report's outcome to a run status
func StatusFromReport(report *operations.RunReport) Status {
	switch report.Status {
	case operations.RunSucceeded:
		return StatusSucceeded
	case operations.RunCancelled:
		return StatusCancelled
	}
	return StatusFailed
}

var (
	// ErrNotFound is returned when no run has the requested ID
	ErrNotFound = errors.New("run not found")
	// ErrExists is returned when creating a run whose ID is taken
	ErrExists = errors.New("run already exists")
)

// Run is one analysis request and, once finished, its sealed report
type Run struct {
	ID          string                `json:"id"`
	Target      string                `json:"target"`
	Params      operations.Params     `json:"params,omitempty"`
	Status      Status                `json:"status"`
	Error       string                `json:"error,omitempty"`
	ErrorKind   operations.ErrorKind  `json:"error_kind,omitempty"`
	Report      *operations.RunReport `json:"report,omitempty"`
	ArchiveKeys []string              `json:"archive_keys,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
}

// retainedSince is when the retention period of a run starts: its finish
// time, or its creation time for runs that never recorded one
func (r *Run) retainedSince() time.Time {
	if r.FinishedAt != nil {
		return *r.FinishedAt
	}
	return r.CreatedAt
}

// Clone returns a deep copy of the run
func (r *Run) Clone() *Run {
	clone := *r
	clone.Params = r.Params.Clone()
	if r.Report != nil {
		clone.Report = r.Report.Clone()
	}
	clone.ArchiveKeys = append([]string(nil), r.ArchiveKeys...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		clone.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		clone.FinishedAt = &t
	}
	return &clone
}

// Filter selects runs in List. Zero fields match everything.
type Filter struct {
	Status Status
	Target string
	Since  time.Time
	Limit  int
}

func (f Filter) matches(r *Run) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Target != "" && r.Target != f.Target {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists runs. List returns the newest runs first.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Update(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, filter Filter) ([]*Run, error)
	Delete(ctx context.Context, id string) error
	// Cleanup removes terminal runs created before now minus olderThan
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}
