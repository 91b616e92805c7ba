// Package reconciler diffs discovered identifiers against persisted ones.
package reconciler

import (
	"math"
	"time"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// DefaultSampleSize bounds the missing-id sample carried by the report.
const DefaultSampleSize = 10

// Options tunes Reconcile.
type Options struct {
	SampleSize int
	Now        time.Time
}

// Result holds the report plus the full sorted views used by artifacts.
type Result struct {
	Report corpus.ReconciliationReport
	// Missing is discovered minus persisted, sorted.
	Missing []string
}

// Reconcile computes missing = discovered - persisted and the coverage of
// discovered by persisted. It has no side effects and its output is fully
// determined by its inputs.
func Reconcile(category string, discovered, persisted corpus.IDSet, opts Options) Result {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	missing := make([]string, 0)
	present := 0
	for id := range discovered {
		if persisted.Has(id) {
			present++
			continue
		}
		missing = append(missing, id)
	}
	corpus.SortIDs(missing)

	sample := missing
	if len(sample) > opts.SampleSize {
		sample = sample[:opts.SampleSize]
	}
	return Result{
		Report: corpus.ReconciliationReport{
			Timestamp:                opts.Now,
			Category:                 category,
			DiscoveredCount:          discovered.Len(),
			PersistedCount:           persisted.Len(),
			MissingCount:             len(missing),
			CoveragePercentage:       ratio(present, discovered.Len()),
			LegacyCoveragePercentage: ratio(persisted.Len(), discovered.Len()),
			MissingSample:            append([]string(nil), sample...),
		},
		Missing: missing,
	}
}

// Coverage returns |persisted ∩ discovered| / |discovered| * 100, or 0 when
// nothing was discovered.
func Coverage(discovered, persisted corpus.IDSet) float64 {
	present := 0
	for id := range discovered {
		if persisted.Has(id) {
			present++
		}
	}
	return ratio(present, discovered.Len())
}

// ratio returns num/den*100 rounded to two decimals, or 0 when den is 0.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*100*100) / 100
}
