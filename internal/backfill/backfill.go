// Package backfill fetches and persists documents that were discovered but are
// missing from the corpus store.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/pool"
	"github.com/JakeFAU/corpus-reconciler/internal/progress"
)

// Ledger receives entries for documents that could not be persisted.
type Ledger interface {
	Append(ctx context.Context, entry corpus.LedgerEntry) error
}

// Config tunes a Worker.
type Config struct {
	Concurrency int
	// FetchContent enables full-text extraction. When false records carry
	// metadata only.
	FetchContent bool
}

// Deps groups the collaborators of a Worker. Content, Ledger, Clock, IDs and
// Emitter are optional.
type Deps struct {
	Metadata corpus.MetadataFetcher
	Content  corpus.ContentExtractor
	Store    corpus.CorpusStore
	Ledger   Ledger
	Retry    corpus.RetryPolicy
	Clock    corpus.Clock
	IDs      corpus.IDGenerator
	Emitter  progress.Emitter
	Logger   *zap.Logger
}

// Summary is the outcome of one backfill run.
type Summary struct {
	RunID           uuid.UUID          `json:"run_id"`
	Category        string             `json:"category,omitempty"`
	Successful      []string           `json:"successful_docs"`
	Duplicates      []string           `json:"duplicate_docs,omitempty"`
	Failed          []corpus.FailedDoc `json:"failed_docs"`
	TotalSuccessful int                `json:"total_successful"`
	TotalFailed     int                `json:"total_failed"`
	Elapsed         time.Duration      `json:"-"`
}

// Worker runs the per-document fetch, build and insert pipeline.
type Worker struct {
	deps Deps
	cfg  Config
}

// New wires a Worker.
func New(deps Deps, cfg Config) (*Worker, error) {
	if deps.Metadata == nil {
		return nil, errors.New("backfill: metadata fetcher is required")
	}
	if deps.Store == nil {
		return nil, errors.New("backfill: corpus store is required")
	}
	if cfg.FetchContent && deps.Content == nil {
		return nil, errors.New("backfill: content extractor is required when fetching content")
	}
	if deps.Retry == nil {
		deps.Retry = corpus.NewExponentialRetryPolicy(corpus.RetryConfig{})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Worker{deps: deps, cfg: cfg}, nil
}

type docResult struct {
	docID    string
	err      error
	conflict bool
}

// Run backfills ids for category with at most Concurrency documents in
// flight. Per-document failures land in the ledger and the summary. A store
// outage stops scheduling and Run returns the partial summary with the error.
func (w *Worker) Run(ctx context.Context, category string, ids []string) (Summary, error) {
	start := time.Now()
	runID, err := uuid.NewV7()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary := Summary{RunID: runID, Category: category, Successful: []string{}, Failed: []corpus.FailedDoc{}}
	run := progress.NewRun(w.deps.Emitter, runID, progress.PhaseBackfill, category)
	run.Start()
	w.deps.Logger.Info("backfill started",
		zap.String("run_id", runID.String()),
		zap.String("category", category),
		zap.Int("documents", len(ids)),
		zap.Int("concurrency", w.cfg.Concurrency),
	)

	var done atomic.Int64
	slots := make([]*docResult, len(ids))
	runErr := pool.Run(ctx, w.cfg.Concurrency, len(ids), func(ctx context.Context, i int) error {
		res := w.process(ctx, run, category, ids[i])
		slots[i] = &res
		if n := done.Add(1); n%100 == 0 {
			w.deps.Logger.Info("backfill progress", zap.Int64("done", n), zap.Int("total", len(ids)))
		}
		if res.err != nil && corpus.IsStoreUnavailable(res.err) {
			return res.err
		}
		return nil
	})

	for _, res := range slots {
		if res == nil {
			continue
		}
		switch {
		case res.err == nil:
			summary.Successful = append(summary.Successful, res.docID)
			if res.conflict {
				summary.Duplicates = append(summary.Duplicates, res.docID)
			}
		case errors.Is(res.err, context.Canceled):
			// not attempted to completion; leave it for the next reconcile
		default:
			summary.Failed = append(summary.Failed, corpus.FailedDoc{
				DocID:  res.docID,
				Reason: res.err.Error(),
				Kind:   corpus.KindOf(res.err),
			})
		}
	}
	summary.TotalSuccessful = len(summary.Successful)
	summary.TotalFailed = len(summary.Failed)
	summary.Elapsed = time.Since(start)

	run.Finish(runErr)
	fields := []zap.Field{
		zap.String("run_id", runID.String()),
		zap.String("category", category),
		zap.Int("successful", summary.TotalSuccessful),
		zap.Int("duplicates", len(summary.Duplicates)),
		zap.Int("failed", summary.TotalFailed),
		zap.Duration("elapsed", summary.Elapsed),
	}
	if runErr != nil {
		w.deps.Logger.Error("backfill aborted", append(fields, zap.Error(runErr))...)
		return summary, fmt.Errorf("backfill %s: %w", category, runErr)
	}
	w.deps.Logger.Info("backfill finished", fields...)
	return summary, nil
}

func (w *Worker) process(ctx context.Context, run *progress.Run, category, docID string) docResult {
	start := time.Now()
	record, attempts, err := w.build(ctx, docID, category)
	if err == nil {
		err = w.deps.Store.Insert(ctx, record)
	}
	res := docResult{docID: docID}
	switch {
	case err == nil:
	case corpus.IsConflict(err):
		res.conflict = true
		w.deps.Logger.Debug("document already persisted", zap.String("doc_id", docID))
	default:
		res.err = err
		if !errors.Is(err, context.Canceled) {
			w.record(ctx, category, docID, record, err)
		}
	}
	run.Doc(docID, attempts, time.Since(start), res.err)
	return res
}

// record appends a ledger entry carrying whatever payload was built.
func (w *Worker) record(ctx context.Context, category, docID string, record corpus.DocumentRecord, cause error) {
	w.deps.Logger.Warn("document failed",
		zap.String("doc_id", docID),
		zap.Stringer("kind", corpus.KindOf(cause)),
		zap.Error(cause),
	)
	if w.deps.Ledger == nil {
		return
	}
	entry := corpus.LedgerEntry{
		DocID:     docID,
		Category:  category,
		Error:     cause.Error(),
		Kind:      corpus.KindOf(cause),
		Timestamp: w.now(),
	}
	if record.DocID != "" {
		payload := record
		entry.ItemData = &payload
	}
	// The ledger write must survive a canceled pool context.
	if err := w.deps.Ledger.Append(context.WithoutCancel(ctx), entry); err != nil {
		w.deps.Logger.Error("ledger append failed", zap.String("doc_id", docID), zap.Error(err))
	}
}

// Build fetches metadata and content for docID and assembles the record to
// persist. It satisfies ledger.Refetcher.
func (w *Worker) Build(ctx context.Context, docID, category string) (corpus.DocumentRecord, error) {
	record, _, err := w.build(ctx, docID, category)
	return record, err
}

func (w *Worker) build(ctx context.Context, docID, category string) (corpus.DocumentRecord, int, error) {
	meta, attempts, err := corpus.Retry(ctx, w.deps.Retry, func(ctx context.Context) (corpus.StructuredRecord, error) {
		return w.deps.Metadata.FetchMetadata(ctx, docID)
	})
	if err != nil {
		return corpus.DocumentRecord{}, attempts, fmt.Errorf("fetch metadata %s: %w", docID, err)
	}

	var text string
	if w.cfg.FetchContent {
		var contentAttempts int
		text, contentAttempts, err = corpus.Retry(ctx, w.deps.Retry, func(ctx context.Context) (string, error) {
			return w.deps.Content.ExtractContent(ctx, docID, meta.URL)
		})
		attempts += contentAttempts
		if err != nil {
			if ctx.Err() != nil {
				return corpus.DocumentRecord{}, attempts, ctx.Err()
			}
			w.deps.Logger.Warn("content extraction failed; storing empty text",
				zap.String("doc_id", docID),
				zap.Stringer("kind", corpus.KindOf(err)),
				zap.Error(err),
			)
			text = ""
		}
	}

	id, err := w.newID()
	if err != nil {
		return corpus.DocumentRecord{}, attempts, err
	}
	now := w.now()
	if meta.DocID == "" {
		meta.DocID = docID
	}
	return corpus.DocumentRecord{
		ID:          id,
		DocID:       meta.DocID,
		Category:    category,
		Title:       meta.Title,
		Requisites:  meta.Requisites,
		Text:        text,
		URL:         meta.URL,
		ParsedAt:    now,
		PublishedAt: meta.PublishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, attempts, nil
}

func (w *Worker) newID() (string, error) {
	if w.deps.IDs == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate record id: %w", err)
		}
		return id.String(), nil
	}
	id, err := w.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return id, nil
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}
