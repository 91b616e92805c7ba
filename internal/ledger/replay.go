package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/pool"
	"github.com/JakeFAU/corpus-reconciler/internal/progress"
)

// Refetcher rebuilds a document record for an entry that never obtained one.
type Refetcher interface {
	Build(ctx context.Context, docID, category string) (corpus.DocumentRecord, error)
}

// ReplayConfig tunes Replay.
type ReplayConfig struct {
	Concurrency int
	// PruneSucceeded rewrites the ledger with only the still-failing entries
	// instead of leaving it untouched when any entry fails.
	PruneSucceeded bool
}

// Outcome classifies one replayed entry.
type Outcome string

// Replay outcomes.
const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// EntryResult is the replay outcome of one ledger entry.
type EntryResult struct {
	Entry   corpus.LedgerEntry
	Outcome Outcome
	Err     error
}

// ReplayResult summarizes one replay.
type ReplayResult struct {
	RunID      uuid.UUID
	Attempted  int
	Inserted   int
	Duplicates int
	Failed     int
	Results    []EntryResult
	// Archived is set when every entry succeeded and the ledger was moved aside.
	Archived    bool
	ArchiveName string
	// Pruned is set when succeeded entries were dropped from a partial replay.
	Pruned bool
}

// Succeeded reports whether every entry was replayed.
func (r ReplayResult) Succeeded() bool {
	return r.Failed == 0
}

// Replayer re-drives ledger entries into the corpus store.
type Replayer struct {
	ledger    Ledger
	store     corpus.CorpusStore
	refetcher Refetcher
	clock     corpus.Clock
	emitter   progress.Emitter
	cfg       ReplayConfig
	logger    *zap.Logger
}

// NewReplayer wires a Replayer. refetcher and emitter may be nil; without a
// refetcher entries lacking a payload stay failed.
func NewReplayer(
	ledger Ledger,
	store corpus.CorpusStore,
	refetcher Refetcher,
	clock corpus.Clock,
	emitter progress.Emitter,
	cfg ReplayConfig,
	logger *zap.Logger,
) *Replayer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		ledger:    ledger,
		store:     store,
		refetcher: refetcher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Replay attempts every entry. Only when all of them succeed (an insert or a
// uniqueness conflict) is the ledger archived; otherwise it is kept whole,
// or pruned to the failures when PruneSucceeded is set. A store outage aborts
// the replay and leaves the ledger untouched.
func (r *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("generate run id: %w", err)
	}
	result := ReplayResult{RunID: runID}
	run := progress.NewRun(r.emitter, runID, progress.PhaseReplay, "")
	run.Start()

	entries, err := r.ledger.Entries(ctx)
	if err != nil {
		run.Finish(err)
		return result, fmt.Errorf("load ledger: %w", err)
	}
	result.Attempted = len(entries)
	if len(entries) == 0 {
		r.logger.Info("ledger empty; nothing to replay", zap.String("ledger", r.ledger.Name()))
		run.Finish(nil)
		return result, nil
	}
	r.logger.Info("replaying ledger", zap.String("ledger", r.ledger.Name()), zap.Int("entries", len(entries)))

	results, err := pool.Collect(ctx, r.cfg.Concurrency, len(entries), func(ctx context.Context, i int) (EntryResult, error) {
		res := r.replayEntry(ctx, run, entries[i])
		if res.Outcome == OutcomeFailed && corpus.IsStoreUnavailable(res.Err) {
			return res, res.Err
		}
		return res, nil
	})
	if err != nil {
		run.Finish(err)
		return result, fmt.Errorf("replay aborted: %w", err)
	}
	result.Results = results

	var failed []corpus.LedgerEntry
	for _, res := range results {
		switch res.Outcome {
		case OutcomeInserted:
			result.Inserted++
		case OutcomeDuplicate:
			result.Duplicates++
		default:
			result.Failed++
			entry := res.Entry
			entry.Error = res.Err.Error()
			entry.Kind = corpus.KindOf(res.Err)
			entry.Timestamp = r.now()
			failed = append(failed, entry)
		}
	}

	switch {
	case result.Failed == 0:
		name, err := r.ledger.Archive(ctx, r.now())
		if err != nil {
			run.Finish(err)
			return result, fmt.Errorf("archive ledger: %w", err)
		}
		result.Archived = name != ""
		result.ArchiveName = name
	case r.cfg.PruneSucceeded && len(failed) < len(entries):
		if err := r.ledger.Rewrite(ctx, failed); err != nil {
			run.Finish(err)
			return result, fmt.Errorf("prune ledger: %w", err)
		}
		result.Pruned = true
	}

	r.logger.Info("ledger replay finished",
		zap.String("run_id", runID.String()),
		zap.Int("attempted", result.Attempted),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
		zap.Bool("archived", result.Archived),
		zap.String("archive", result.ArchiveName),
	)
	if result.Failed > 0 {
		run.Finish(fmt.Errorf("%d ledger entries still failing", result.Failed))
	} else {
		run.Finish(nil)
	}
	return result, nil
}

func (r *Replayer) replayEntry(ctx context.Context, run *progress.Run, entry corpus.LedgerEntry) EntryResult {
	start := time.Now()
	res := EntryResult{Entry: entry}
	record, err := r.recordFor(ctx, entry)
	if err == nil {
		err = r.store.Insert(ctx, record)
	}
	switch {
	case err == nil:
		res.Outcome = OutcomeInserted
	case corpus.IsConflict(err):
		res.Outcome = OutcomeDuplicate
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		r.logger.Warn("ledger entry still failing",
			zap.String("doc_id", entry.DocID),
			zap.Stringer("kind", corpus.KindOf(err)),
			zap.Error(err),
		)
	}
	run.Doc(entry.DocID, 1, time.Since(start), res.Err)
	return res
}

func (r *Replayer) recordFor(ctx context.Context, entry corpus.LedgerEntry) (corpus.DocumentRecord, error) {
	if entry.HasPayload() {
		record := *entry.ItemData
		if record.Category == "" {
			record.Category = entry.Category
		}
		return record, nil
	}
	if r.refetcher == nil {
		return corpus.DocumentRecord{}, corpus.Errorf(corpus.KindMalformedResponse, "replay",
			"entry %s has no payload and no refetcher is configured", entry.DocID)
	}
	record, err := r.refetcher.Build(ctx, entry.DocID, entry.Category)
	if err != nil {
		return corpus.DocumentRecord{}, fmt.Errorf("refetch %s: %w", entry.DocID, err)
	}
	return record, nil
}

func (r *Replayer) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}
