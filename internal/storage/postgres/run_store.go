package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/corpus-reconciler/internal/store"
)

// RunStore implements store.RunRepository on the reconcile_runs table.
type RunStore struct {
	pool querier
}

// NewRunStore creates a RunStore over an existing pool.
func NewRunStore(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts the run as running; a repeated start is ignored.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, phase, category string, startedAt time.Time) error {
	query := `
		INSERT INTO reconcile_runs (id, phase, category, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, id, phase, category, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// AddCounts increments the run counters.
func (s *RunStore) AddCounts(ctx context.Context, id uuid.UUID, delta store.RunCounts) error {
	query := `
		UPDATE reconcile_runs
		SET pages_done = pages_done + $1,
			pages_failed = pages_failed + $2,
			items = items + $3,
			docs_done = docs_done + $4,
			docs_failed = docs_failed + $5
		WHERE id = $6;
	`
	tag, err := s.pool.Exec(ctx, query,
		delta.PagesDone,
		delta.PagesFailed,
		delta.Items,
		delta.DocsDone,
		delta.DocsFailed,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to add run counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE reconcile_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, id); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, phase, category, started_at, finished_at, status, error_message,
		pages_done, pages_failed, items, docs_done, docs_failed`

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.Phase,
		&run.Category,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.Counts.PagesDone,
		&run.Counts.PagesFailed,
		&run.Counts.Items,
		&run.Counts.DocsDone,
		&run.Counts.DocsFailed,
	)
	return run, err
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM reconcile_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM reconcile_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
