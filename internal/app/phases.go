package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/artifact"
	"github.com/JakeFAU/corpus-reconciler/internal/backfill"
	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/corpusreader"
	"github.com/JakeFAU/corpus-reconciler/internal/enumerator"
	"github.com/JakeFAU/corpus-reconciler/internal/ledger"
	"github.com/JakeFAU/corpus-reconciler/internal/progress"
	"github.com/JakeFAU/corpus-reconciler/internal/publisher"
	"github.com/JakeFAU/corpus-reconciler/internal/reconciler"
)

// EnumerateOptions overrides the configured enumeration settings. Zero values
// keep the configuration.
type EnumerateOptions struct {
	Category    string
	MaxPages    int
	Concurrency int
}

// EnumerateOutcome is the result of the enumerate phase.
type EnumerateOutcome struct {
	Result   enumerator.Result
	Artifact artifact.Written
}

// Enumerate lists every page of a category and writes the enumeration artifact.
func (a *App) Enumerate(ctx context.Context, opts EnumerateOptions) (EnumerateOutcome, error) {
	if opts.Category == "" {
		return EnumerateOutcome{}, errors.New("enumerate: category is required")
	}
	enumCfg := a.cfg.Enumerate
	cfg := enumerator.Config{
		StartPage:   enumCfg.StartPage,
		MaxPages:    override(enumCfg.MaxPages, opts.MaxPages),
		Concurrency: override(enumCfg.Concurrency, opts.Concurrency),
		PageSize:    enumCfg.PageSize,
		BandMin:     enumCfg.BandMin,
		BandMax:     enumCfg.BandMax,
	}
	enum := enumerator.New(a.source, a.retry, a.clock, a.hub, cfg, a.logger.Named("enumerator"))
	res, err := enum.Run(ctx, opts.Category)
	if err != nil {
		return EnumerateOutcome{Result: res}, fmt.Errorf("enumerate category %s: %w", opts.Category, err)
	}

	written, err := a.artifacts.Write(ctx, artifact.EnumerationName(opts.Category, res.Report.Timestamp), artifact.Enumeration{
		Report:      res.Report,
		AllDocIDs:   res.Discovered.Sorted(),
		PageResults: res.PageResults(),
	})
	if err != nil {
		return EnumerateOutcome{Result: res}, err
	}
	a.notifier.Notify(ctx, publisher.RunNotification{
		RunID:          res.RunID.String(),
		Phase:          string(progress.PhaseEnumerate),
		Category:       opts.Category,
		ArtifactURI:    written.URI,
		ArtifactSHA256: written.SHA256,
		Counts: map[string]int{
			"unique_doc_ids": res.Report.TotalUniqueDocIDs,
			"pages_failed":   res.Report.TotalPagesFailed,
		},
		FinishedAt: a.clock.Now().UTC(),
	})
	return EnumerateOutcome{Result: res, Artifact: written}, nil
}

// ReconcileOptions selects the enumeration input and overrides reader settings.
type ReconcileOptions struct {
	// APIFile is a local path or artifact name. Empty selects the newest
	// enumeration artifact of Category.
	APIFile     string
	Category    string
	BatchSize   int
	Concurrency int
}

// ReconcileOutcome is the result of the reconcile phase.
type ReconcileOutcome struct {
	RunID    string
	Missing  artifact.Missing
	Artifact artifact.Written
}

// Reconcile reads the persisted identifiers of a category, diffs them against
// an enumeration and writes the missing-ids artifact.
func (a *App) Reconcile(ctx context.Context, opts ReconcileOptions) (_ ReconcileOutcome, err error) {
	in, err := a.loadInput(ctx, opts.APIFile, opts.Category)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	category := opts.Category
	if category == "" {
		category = in.category
	}
	if category == "" {
		return ReconcileOutcome{}, errors.New("reconcile: category is required")
	}

	runID, err := a.ids.NewRunID()
	if err != nil {
		return ReconcileOutcome{}, err
	}
	run := progress.NewRun(a.hub, runID, progress.PhaseReconcile, category)
	run.Start()
	defer func() { run.Finish(err) }()

	reader := corpusreader.New(a.corpus, corpusreader.Config{
		BatchSize:   override(a.cfg.Reader.BatchSize, opts.BatchSize),
		Concurrency: override(a.cfg.Reader.Concurrency, opts.Concurrency),
	}, a.logger.Named("reader"))
	// doc_id is unique across the whole store, so a document persisted under
	// another category still counts as present.
	persisted, err := reader.ReadAll(ctx, "")
	if err != nil {
		return ReconcileOutcome{}, fmt.Errorf("read persisted ids: %w", err)
	}

	discovered := corpus.NewIDSet(in.ids...)
	now := a.clock.Now().UTC()
	res := reconciler.Reconcile(category, discovered, persisted, reconciler.Options{
		SampleSize: a.cfg.Reconcile.SampleSize,
		Now:        now,
	})
	missing := artifact.Missing{
		Category:                 category,
		APITotalDocIDs:           res.Report.DiscoveredCount,
		DBTotalDocIDs:            res.Report.PersistedCount,
		MissingDocIDs:            res.Report.MissingSample,
		CoveragePercentage:       res.Report.CoveragePercentage,
		LegacyCoveragePercentage: res.Report.LegacyCoveragePercentage,
		AllMissingDocIDs:         res.Missing,
		AllAPIDocIDs:             discovered.Sorted(),
		AllDBDocIDs:              persisted.Sorted(),
		Report:                   res.Report,
	}
	written, err := a.artifacts.Write(ctx, artifact.MissingName(now), missing)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	a.logger.Info("reconciliation complete",
		zap.String("category", category),
		zap.String("input", in.name),
		zap.Int("discovered", res.Report.DiscoveredCount),
		zap.Int("persisted", res.Report.PersistedCount),
		zap.Int("missing", res.Report.MissingCount),
		zap.Float64("coverage", res.Report.CoveragePercentage),
	)
	a.notifier.Notify(ctx, publisher.RunNotification{
		RunID:          runID.String(),
		Phase:          string(progress.PhaseReconcile),
		Category:       category,
		ArtifactURI:    written.URI,
		ArtifactSHA256: written.SHA256,
		Counts: map[string]int{
			"discovered": res.Report.DiscoveredCount,
			"persisted":  res.Report.PersistedCount,
			"missing":    res.Report.MissingCount,
		},
		FinishedAt: now,
	})
	return ReconcileOutcome{RunID: runID.String(), Missing: missing, Artifact: written}, nil
}

// BackfillOptions selects the missing-ids input.
type BackfillOptions struct {
	// MissingFile is a local path or artifact name. Empty selects the newest
	// reconciliation artifact.
	MissingFile string
	// Category is used when the input does not name one.
	Category    string
	Concurrency int
}

// BackfillOutcome is the result of the backfill phase.
type BackfillOutcome struct {
	Summary  backfill.Summary
	Artifact artifact.Written
}

// Backfill fetches and persists every missing document and writes the results
// artifact. Failures go to the retry ledger and do not fail the phase.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (BackfillOutcome, error) {
	in, err := a.loadInput(ctx, opts.MissingFile, "")
	if err != nil {
		return BackfillOutcome{}, err
	}
	category := in.category
	if category == "" {
		category = opts.Category
	}
	worker, err := a.backfillWorker(override(a.cfg.Backfill.Concurrency, opts.Concurrency))
	if err != nil {
		return BackfillOutcome{}, err
	}
	summary, runErr := worker.Run(ctx, category, in.ids)
	if runErr != nil && summary.RunID == uuid.Nil {
		return BackfillOutcome{}, fmt.Errorf("backfill: %w", runErr)
	}

	finished := a.clock.Now().UTC()
	report := artifact.Backfill{
		RunID:           summary.RunID.String(),
		Category:        summary.Category,
		SuccessfulDocs:  summary.Successful,
		FailedDocs:      summary.Failed,
		TotalSuccessful: summary.TotalSuccessful,
		TotalFailed:     summary.TotalFailed,
		ElapsedSeconds:  summary.Elapsed.Seconds(),
	}
	writeCtx := ctx
	if runErr != nil {
		report.Aborted = true
		report.Error = runErr.Error()
		writeCtx = context.WithoutCancel(ctx)
	}
	written, err := a.artifacts.Write(writeCtx, artifact.BackfillName(finished), report)
	if runErr != nil {
		if err != nil {
			a.logger.Error("partial backfill results not written", zap.Error(err))
		}
		return BackfillOutcome{Summary: summary, Artifact: written}, fmt.Errorf("backfill: %w", runErr)
	}
	if err != nil {
		return BackfillOutcome{Summary: summary}, err
	}
	a.notifier.Notify(ctx, publisher.RunNotification{
		RunID:          summary.RunID.String(),
		Phase:          string(progress.PhaseBackfill),
		Category:       category,
		ArtifactURI:    written.URI,
		ArtifactSHA256: written.SHA256,
		Counts: map[string]int{
			"successful": summary.TotalSuccessful,
			"failed":     summary.TotalFailed,
		},
		FinishedAt: finished,
	})
	return BackfillOutcome{Summary: summary, Artifact: written}, nil
}

// Replay re-drives the retry ledger into the corpus store.
func (a *App) Replay(ctx context.Context) (ledger.ReplayResult, error) {
	worker, err := a.backfillWorker(a.cfg.Backfill.Concurrency)
	if err != nil {
		return ledger.ReplayResult{}, err
	}
	replayer := ledger.NewReplayer(a.ledger, a.corpus, worker, a.clock, a.hub, ledger.ReplayConfig{
		Concurrency:    a.cfg.Backfill.Concurrency,
		PruneSucceeded: a.cfg.Ledger.ReplayPruneSucceeded,
	}, a.logger.Named("replay"))
	res, err := replayer.Replay(ctx)
	if err != nil {
		return res, fmt.Errorf("replay ledger %s: %w", a.ledger.Name(), err)
	}
	a.notifier.Notify(ctx, publisher.RunNotification{
		RunID: res.RunID.String(),
		Phase: string(progress.PhaseReplay),
		Counts: map[string]int{
			"attempted":  res.Attempted,
			"inserted":   res.Inserted,
			"duplicates": res.Duplicates,
			"failed":     res.Failed,
		},
		FinishedAt: a.clock.Now().UTC(),
	})
	return res, nil
}

// SyncOutcome collects the three phase outcomes of a sync.
type SyncOutcome struct {
	Enumerate EnumerateOutcome
	Reconcile ReconcileOutcome
	Backfill  BackfillOutcome
}

// Sync runs enumerate, reconcile and backfill for one category, each phase
// reading the artifact the previous one wrote.
func (a *App) Sync(ctx context.Context, category string) (SyncOutcome, error) {
	var out SyncOutcome
	var err error
	if out.Enumerate, err = a.Enumerate(ctx, EnumerateOptions{Category: category}); err != nil {
		return out, err
	}
	if out.Reconcile, err = a.Reconcile(ctx, ReconcileOptions{
		APIFile:  out.Enumerate.Artifact.Name,
		Category: category,
	}); err != nil {
		return out, err
	}
	if len(out.Reconcile.Missing.AllMissingDocIDs) == 0 {
		a.logger.Info("corpus complete, skipping backfill", zap.String("category", category))
		return out, nil
	}
	out.Backfill, err = a.Backfill(ctx, BackfillOptions{
		MissingFile: out.Reconcile.Artifact.Name,
		Category:    category,
	})
	return out, err
}

func (a *App) backfillWorker(concurrency int) (*backfill.Worker, error) {
	worker, err := backfill.New(backfill.Deps{
		Metadata: a.source,
		Content:  a.content,
		Store:    a.corpus,
		Ledger:   a.ledger,
		Retry:    a.retry,
		Clock:    a.clock,
		IDs:      a.ids,
		Emitter:  a.hub,
		Logger:   a.logger.Named("backfill"),
	}, backfill.Config{
		Concurrency:  concurrency,
		FetchContent: a.cfg.Backfill.FetchContent,
	})
	if err != nil {
		return nil, fmt.Errorf("backfill worker init failed: %w", err)
	}
	return worker, nil
}

type input struct {
	name     string
	category string
	ids      []string
}

// loadInput reads an identifier list from a local file, falling back to an
// artifact of that name. An empty ref selects the newest artifact: the
// category's enumeration when category is set, else the newest reconciliation.
func (a *App) loadInput(ctx context.Context, ref, category string) (input, error) {
	var data []byte
	switch {
	case ref == "":
		prefix := artifact.MissingPrefix()
		if category != "" {
			prefix = artifact.EnumerationPrefix(category)
		}
		name, err := a.artifacts.Latest(ctx, prefix)
		if err != nil {
			return input{}, err
		}
		if data, err = a.readArtifact(ctx, name); err != nil {
			return input{}, err
		}
		ref = name
	default:
		var err error
		data, err = os.ReadFile(ref)
		if errors.Is(err, fs.ErrNotExist) {
			data, err = a.readArtifact(ctx, ref)
		}
		if err != nil {
			return input{}, fmt.Errorf("read input %s: %w", ref, err)
		}
	}

	ids, err := artifact.IDs(data)
	if err != nil {
		return input{}, fmt.Errorf("input %s: %w", ref, err)
	}
	var probe struct {
		Category json.RawMessage `json:"category"`
		Report   struct {
			Category json.RawMessage `json:"category"`
		} `json:"report"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return input{}, fmt.Errorf("input %s: %w", ref, err)
	}
	cat := categoryString(probe.Category)
	if cat == "" {
		cat = categoryString(probe.Report.Category)
	}
	a.logger.Debug("loaded input", zap.String("ref", ref), zap.Int("ids", len(ids)), zap.String("category", cat))
	return input{name: ref, category: cat, ids: ids}, nil
}

func (a *App) readArtifact(ctx context.Context, name string) ([]byte, error) {
	var raw json.RawMessage
	if err := a.artifacts.Read(ctx, name, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// categoryString accepts a category written as a JSON string or number.
func categoryString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, perr := strconv.ParseInt(n.String(), 10, 64); perr == nil {
			return n.String()
		}
	}
	return ""
}

func override(configured, flag int) int {
	if flag > 0 {
		return flag
	}
	return configured
}
