package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/corpus-reconciler/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// StartRun records a running run. Repeated calls are no-ops.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, phase, category string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[id]; exists {
		return nil
	}
	s.runs[id] = store.Run{
		ID:        id,
		Phase:     phase,
		Category:  category,
		StartedAt: startedAt.UTC(),
		Status:    store.RunRunning,
	}
	return nil
}

// AddCounts applies delta to the run counters.
func (s *RunStore) AddCounts(_ context.Context, id uuid.UUID, delta store.RunCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.Counts.PagesDone += delta.PagesDone
	run.Counts.PagesFailed += delta.PagesFailed
	run.Counts.Items += delta.Items
	run.Counts.DocsDone += delta.DocsDone
	run.Counts.DocsFailed += delta.DocsFailed
	s.runs[id] = run
	return nil
}

// CompleteRun marks the run terminal.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	finished := finishedAt.UTC()
	run.FinishedAt = &finished
	run.Status = status
	run.ErrorMessage = errMsg
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID.String() > runs[j].ID.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []store.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
