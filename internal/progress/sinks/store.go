package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/progress"
	"github.com/JakeFAU/corpus-reconciler/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Page and document
// outcomes are collapsed per run before writing.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order: starts first, then collapsed counts,
// then completions, so a run started and finished within one batch is
// written consistently.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	counts := make(map[uuid.UUID]*store.RunCounts)
	var order []uuid.UUID
	var completions []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, string(evt.Phase), evt.Category, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			completions = append(completions, evt)
		default:
			delta, ok := counts[runID]
			if !ok {
				delta = &store.RunCounts{}
				counts[runID] = delta
				order = append(order, runID)
			}
			accumulate(delta, evt)
		}
	}

	for _, runID := range order {
		delta := counts[runID]
		if delta.IsZero() {
			continue
		}
		if err := s.repo.AddCounts(ctx, runID, *delta); err != nil {
			return fmt.Errorf("add run counts: %w", err)
		}
	}

	for _, evt := range completions {
		status := store.RunSuccess
		var note *string
		if evt.Stage == progress.StageRunError {
			status = store.RunError
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func accumulate(delta *store.RunCounts, evt progress.Event) {
	switch evt.Stage {
	case progress.StagePageDone:
		delta.PagesDone++
		delta.Items += evt.Items
	case progress.StagePageFailed:
		delta.PagesFailed++
	case progress.StageDocDone:
		delta.DocsDone++
	case progress.StageDocFailed:
		delta.DocsFailed++
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
