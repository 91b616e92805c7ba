package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the reconcile_runs status column.
type RunStatus string

// Run statuses persisted in reconcile_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one phase run in the reconcile_runs table.
type Run struct {
	ID         uuid.UUID
	Phase      string
	Category   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	Counts       RunCounts
}

// RunCounts aggregates per-unit outcomes of a run.
type RunCounts struct {
	PagesDone   int64
	PagesFailed int64
	Items       int64
	DocsDone    int64
	DocsFailed  int64
}

// IsZero reports whether no unit outcome was recorded.
func (c RunCounts) IsZero() bool {
	return c == RunCounts{}
}

// RunRepository persists phase run history.
type RunRepository interface {
	// StartRun inserts the run as running; repeated calls are no-ops.
	StartRun(ctx context.Context, id uuid.UUID, phase, category string, startedAt time.Time) error
	// AddCounts applies outcome deltas to a run.
	AddCounts(ctx context.Context, id uuid.UUID, delta RunCounts) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
