package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/corpus-reconciler/internal/progress"
)

// PrometheusSink exports run, page and document metrics.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	pageItems    *prometheus.CounterVec
	docs         *prometheus.CounterVec
	docDuration  *prometheus.HistogramVec
	unitAttempts *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_runs_started_total",
			Help: "Phase runs started.",
		}, []string{"phase"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_runs_completed_total",
			Help: "Phase runs completed partitioned by result.",
		}, []string{"phase", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciler_runs_running",
			Help: "Current number of running phase runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconciler_run_runtime_seconds",
			Help:    "Wall time per completed phase run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"phase", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_listing_pages_total",
			Help: "Listing pages fetched partitioned by category and result.",
		}, []string{"category", "result"}),
		pageItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_listing_items_total",
			Help: "Identifiers returned by listing pages, before dedup.",
		}, []string{"category"}),
		docs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_documents_total",
			Help: "Documents processed partitioned by phase and result.",
		}, []string{"phase", "result"}),
		docDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconciler_document_duration_seconds",
			Help:    "Per-document pipeline latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"phase", "result"}),
		unitAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconciler_unit_attempts",
			Help:    "Attempts needed per page or document.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"unit"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pages,
		s.pageItems,
		s.docs,
		s.docDuration,
		s.unitAttempts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			s.handleRunEvent(evt)
		case progress.StagePageDone, progress.StagePageFailed:
			s.handlePageEvent(evt)
		case progress.StageDocDone, progress.StageDocFailed:
			s.handleDocEvent(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	phase := label(string(evt.Phase))
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(phase).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.completeRun(evt, phase, "success")
	case progress.StageRunError:
		s.completeRun(evt, phase, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, phase, result string) {
	s.runsCompleted.WithLabelValues(phase, result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(phase, result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	category := label(evt.Category)
	result := "success"
	if evt.Stage == progress.StagePageFailed {
		result = "failed"
	}
	s.pages.WithLabelValues(category, result).Inc()
	if evt.Items > 0 {
		s.pageItems.WithLabelValues(category).Add(float64(evt.Items))
	}
	if evt.Attempts > 0 {
		s.unitAttempts.WithLabelValues("page").Observe(float64(evt.Attempts))
	}
}

func (s *PrometheusSink) handleDocEvent(evt progress.Event) {
	phase := label(string(evt.Phase))
	result := "success"
	if evt.Stage == progress.StageDocFailed {
		result = "failed"
	}
	s.docs.WithLabelValues(phase, result).Inc()
	if evt.Dur > 0 {
		s.docDuration.WithLabelValues(phase, result).Observe(evt.Dur.Seconds())
	}
	if evt.Attempts > 0 {
		s.unitAttempts.WithLabelValues("document").Observe(float64(evt.Attempts))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
