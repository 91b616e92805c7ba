// Package corpusreader loads the identifiers already persisted for a category
// using concurrent ranged reads.
package corpusreader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/pool"
)

// Config tunes the ranged reads.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Reader reads persisted identifiers from a corpus.CorpusStore.
type Reader struct {
	store  corpus.CorpusStore
	cfg    Config
	logger *zap.Logger
}

// New wires a Reader.
func New(store corpus.CorpusStore, cfg Config, logger *zap.Logger) *Reader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{store: store, cfg: cfg, logger: logger}
}

// ReadAll returns every identifier persisted for category. The batches are
// issued concurrently and joined only once all of them have resolved. Any
// batch failure aborts the read; no partial set is returned.
func (r *Reader) ReadAll(ctx context.Context, category string) (corpus.IDSet, error) {
	total, err := r.store.Count(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("count persisted ids: %w", err)
	}
	batches := (total + r.cfg.BatchSize - 1) / r.cfg.BatchSize
	r.logger.Info("reading persisted ids",
		zap.String("category", category),
		zap.Int("total", total),
		zap.Int("batches", batches),
		zap.Int("concurrency", r.cfg.Concurrency),
	)

	slots, err := pool.Collect(ctx, r.cfg.Concurrency, batches, func(ctx context.Context, i int) ([]string, error) {
		offset := i * r.cfg.BatchSize
		ids, err := r.store.ReadIDs(ctx, category, offset, r.cfg.BatchSize)
		if err != nil {
			r.logger.Error("read batch failed",
				zap.String("category", category),
				zap.Int("offset", offset),
				zap.Stringer("kind", corpus.KindOf(err)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("read ids at offset %d: %w", offset, err)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}

	persisted := corpus.NewIDSet()
	raw := 0
	for _, ids := range slots {
		raw += len(ids)
		persisted.AddAll(ids)
	}
	r.logger.Info("persisted ids loaded",
		zap.String("category", category),
		zap.Int("rows", raw),
		zap.Int("unique", persisted.Len()),
	)
	return persisted, nil
}
