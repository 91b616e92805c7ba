// Package enumerator walks a paginated remote listing under bounded
// concurrency and produces the discovered identifier set of a category plus a
// data-quality report.
package enumerator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/pool"
	"github.com/JakeFAU/corpus-reconciler/internal/progress"
)

// Config bounds one enumeration run.
type Config struct {
	// StartPage and MaxPages are inclusive page bounds.
	StartPage   int
	MaxPages    int
	Concurrency int
	// PageSize is the number of items a full page carries.
	PageSize int
	// BandMin and BandMax delimit the expected item count of a page; pages
	// outside it are reported as unusual.
	BandMin int
	BandMax int
}

func (c Config) withDefaults() Config {
	if c.StartPage < 0 {
		c.StartPage = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.BandMin == 0 && c.BandMax == 0 {
		c.BandMin, c.BandMax = 15, 25
	}
	return c
}

// PageResult is the outcome of one page, attributed to its page number.
type PageResult struct {
	Page     int
	IDs      []string
	Attempts int
	Err      error
}

// Failed reports whether the page exhausted its retries.
func (p PageResult) Failed() bool {
	return p.Err != nil
}

// Result is the output of one enumeration run.
type Result struct {
	RunID      uuid.UUID
	Discovered corpus.IDSet
	Report     corpus.EnumerationReport
	Pages      []PageResult
}

// PageResults maps each successful page to the identifiers it listed, in
// listing order. Empty pages map to an empty slice.
func (r Result) PageResults() map[int][]string {
	out := make(map[int][]string, len(r.Pages))
	for _, p := range r.Pages {
		if p.Failed() {
			continue
		}
		out[p.Page] = append([]string{}, p.IDs...)
	}
	return out
}

// Enumerator fetches listing pages for a category.
type Enumerator struct {
	fetcher corpus.ListingFetcher
	retry   corpus.RetryPolicy
	clock   corpus.Clock
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New wires an Enumerator. emitter may be nil.
func New(
	fetcher corpus.ListingFetcher,
	retry corpus.RetryPolicy,
	clock corpus.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = corpus.NewExponentialRetryPolicy(corpus.RetryConfig{})
	}
	return &Enumerator{
		fetcher: fetcher,
		retry:   retry,
		clock:   clock,
		emitter: emitter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Run enumerates pages StartPage..MaxPages of category. A page that exhausts
// its retries is recorded as failed and the run continues. When no page
// succeeds the partial Result is returned with corpus.ErrEnumerationAborted.
func (e *Enumerator) Run(ctx context.Context, category string) (Result, error) {
	if e.cfg.MaxPages < e.cfg.StartPage {
		return Result{}, fmt.Errorf("enumerate %s: max pages %d below start page %d",
			category, e.cfg.MaxPages, e.cfg.StartPage)
	}
	runID, err := uuid.NewV7()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	run := progress.NewRun(e.emitter, runID, progress.PhaseEnumerate, category)
	run.Start()

	n := e.cfg.MaxPages - e.cfg.StartPage + 1
	e.logger.Info("enumeration started",
		zap.String("run_id", runID.String()),
		zap.String("category", category),
		zap.Int("pages", n),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	pages, err := pool.Collect(ctx, e.cfg.Concurrency, n, func(ctx context.Context, i int) (PageResult, error) {
		return e.fetchPage(ctx, run, category, e.cfg.StartPage+i), nil
	})
	if err != nil {
		run.Finish(err)
		return Result{RunID: runID}, fmt.Errorf("enumerate %s: %w", category, err)
	}

	discovered, report := e.summarize(category, pages)
	result := Result{RunID: runID, Discovered: discovered, Report: report, Pages: pages}

	if report.TotalPagesProcessed == 0 {
		run.Finish(corpus.ErrEnumerationAborted)
		e.logger.Error("enumeration aborted",
			zap.String("category", category),
			zap.Int("failed_pages", report.TotalPagesFailed),
		)
		return result, fmt.Errorf("enumerate %s: %w", category, corpus.ErrEnumerationAborted)
	}
	run.Finish(nil)
	e.logger.Info("enumeration finished",
		zap.String("run_id", runID.String()),
		zap.String("category", category),
		zap.Int("pages_ok", report.TotalPagesProcessed),
		zap.Int("pages_failed", report.TotalPagesFailed),
		zap.Int("raw_ids", report.TotalRawDocIDs),
		zap.Int("unique_ids", report.TotalUniqueDocIDs),
		zap.Int("unusual_pages", len(report.UnusualPages)),
	)
	return result, nil
}

func (e *Enumerator) fetchPage(ctx context.Context, run *progress.Run, category string, page int) PageResult {
	start := time.Now()
	ids, attempts, err := corpus.Retry(ctx, e.retry, func(ctx context.Context) ([]string, error) {
		return e.fetcher.FetchPage(ctx, category, page)
	})
	res := PageResult{Page: page, IDs: ids, Attempts: attempts, Err: err}
	run.Page(page, len(ids), attempts, time.Since(start), err)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("page failed",
			zap.String("category", category),
			zap.Int("page", page),
			zap.Int("attempts", attempts),
			zap.Stringer("kind", corpus.KindOf(err)),
			zap.Error(err),
		)
	}
	return res
}

// summarize merges page slots in page order into the discovered set and report.
func (e *Enumerator) summarize(category string, pages []PageResult) (corpus.IDSet, corpus.EnumerationReport) {
	report := corpus.EnumerationReport{
		Timestamp:         e.now(),
		Category:          category,
		PagesAttempted:    len(pages),
		DuplicateDocIDs:   []string{},
		FailedPages:       []int{},
		UnusualPages:      []corpus.PageCount{},
		PagesWithZeroDocs: []int{},
		PagesWithMaxDocs:  []int{},
	}
	discovered := corpus.NewIDSet()
	duplicates := corpus.NewIDSet()
	for _, p := range pages {
		if p.Failed() {
			report.FailedPages = append(report.FailedPages, p.Page)
			continue
		}
		report.TotalPagesProcessed++
		count := len(p.IDs)
		report.TotalRawDocIDs += count
		for _, id := range p.IDs {
			if !discovered.Add(id) {
				duplicates.Add(id)
			}
		}
		if count < e.cfg.BandMin || count > e.cfg.BandMax {
			report.UnusualPages = append(report.UnusualPages, corpus.PageCount{Page: p.Page, Count: count})
		}
		if count == 0 {
			report.PagesWithZeroDocs = append(report.PagesWithZeroDocs, p.Page)
		}
		if count >= e.cfg.PageSize {
			report.PagesWithMaxDocs = append(report.PagesWithMaxDocs, p.Page)
		}
	}
	report.TotalPagesFailed = len(report.FailedPages)
	report.TotalUniqueDocIDs = discovered.Len()
	report.DuplicateDocIDs = duplicates.Sorted()
	report.DuplicateCount = duplicates.Len()
	report.ExpectedDocuments = report.TotalPagesProcessed * e.cfg.PageSize
	report.DifferenceFromExpected = report.TotalUniqueDocIDs - report.ExpectedDocuments
	return discovered, report
}

func (e *Enumerator) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}
