// Package changelog records ingest runs per study.
package changelog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when finishing a run the store does not hold.
var ErrRunNotFound = errors.New("run not found")

// Status is the state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Defect is a recoverable problem seen during a run.
type Defect struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Run is one transform of one study.
type Run struct {
	ID         uuid.UUID      `json:"id"`
	Study      string         `json:"study"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Defects    []Defect       `json:"defects,omitempty"`
}

// NewRun starts a run of study now.
func NewRun(study string) Run {
	return Run{
		ID:        uuid.New(),
		Study:     study,
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
		Counts:    make(map[string]int),
	}
}

// Complete marks r finished with the outcome of err.
func (r *Run) Complete(err error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusSucceeded
}

// Store persists runs.
type Store interface {
	// Purge deletes the previous runs of study.
	Purge(ctx context.Context, study string) (int, error)
	Start(ctx context.Context, run Run) error
	Finish(ctx context.Context, run Run) error
	// Runs returns the runs of study, newest first.
	Runs(ctx context.Context, study string) ([]Run, error)
	Close() error
}

// NopStore discards every run.
type NopStore struct{}

func (NopStore) Purge(context.Context, string) (int, error) { return 0, nil }
func (NopStore) Start(context.Context, Run) error { return nil }
func (NopStore) Finish(context.Context, Run) error { return nil }
func (NopStore) Runs(context.Context, string) ([]Run, error) { return nil, nil }
func (NopStore) Close() error { return nil }
