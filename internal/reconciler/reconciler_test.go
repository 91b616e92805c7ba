package reconciler

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

func TestReconcileScenario(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	d := corpus.NewIDSet("101", "102", "103")
	p := corpus.NewIDSet("101")

	res := Reconcile("10001", d, p, Options{Now: now})
	assert.Equal(t, []string{"102", "103"}, res.Missing)
	assert.Equal(t, 2, res.Report.MissingCount)
	assert.Equal(t, 3, res.Report.DiscoveredCount)
	assert.Equal(t, 1, res.Report.PersistedCount)
	assert.InDelta(t, 33.33, res.Report.CoveragePercentage, 0.001)
	assert.Equal(t, []string{"102", "103"}, res.Report.MissingSample)
	assert.Equal(t, now, res.Report.Timestamp)
	assert.Equal(t, "10001", res.Report.Category)
}

func TestReconcileAfterBackfill(t *testing.T) {
	t.Parallel()

	d := corpus.NewIDSet("101", "102", "103")
	res := Reconcile("c", d, corpus.NewIDSet("101", "102"), Options{})
	assert.Equal(t, []string{"103"}, res.Missing)
}

func TestReconcileEmptyDiscovered(t *testing.T) {
	t.Parallel()

	res := Reconcile("c", corpus.NewIDSet(), corpus.NewIDSet("1", "2"), Options{})
	assert.Empty(t, res.Missing)
	assert.NotNil(t, res.Missing)
	assert.Zero(t, res.Report.CoveragePercentage)
	assert.Zero(t, res.Report.LegacyCoveragePercentage)
}

func TestCoverageUsesIntersection(t *testing.T) {
	t.Parallel()

	d := corpus.NewIDSet("1", "2", "3", "4")
	p := corpus.NewIDSet("1", "2", "90", "91", "92")
	res := Reconcile("c", d, p, Options{})
	assert.InDelta(t, 50.0, res.Report.CoveragePercentage, 1e-9)
	assert.InDelta(t, 125.0, res.Report.LegacyCoveragePercentage, 1e-9)
	assert.InDelta(t, 50.0, Coverage(d, p), 1e-9)
}

func TestReconcileSampleIsSortedAndBounded(t *testing.T) {
	t.Parallel()

	d := corpus.NewIDSet()
	for i := 30; i > 0; i-- {
		d.Add(fmt.Sprint(i))
	}
	res := Reconcile("c", d, corpus.NewIDSet(), Options{SampleSize: 5})
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, res.Report.MissingSample)
	assert.Len(t, res.Missing, 30)

	again := Reconcile("c", d, corpus.NewIDSet(), Options{SampleSize: 5})
	assert.Equal(t, res.Report.MissingSample, again.Report.MissingSample)
	assert.Equal(t, res.Missing, again.Missing)
}

// TestReconcileIsExactSetDifference checks random pairs against a naive difference.
func TestReconcileIsExactSetDifference(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		d, p := corpus.NewIDSet(), corpus.NewIDSet()
		nd, np := rng.IntN(200), rng.IntN(200)
		for i := 0; i < nd; i++ {
			d.Add(fmt.Sprint(rng.IntN(300)))
		}
		for i := 0; i < np; i++ {
			p.Add(fmt.Sprint(rng.IntN(300)))
		}

		res := Reconcile("c", d, p, Options{})
		want := corpus.NewIDSet()
		inter := 0
		for id := range d {
			if p.Has(id) {
				inter++
				continue
			}
			want.Add(id)
		}
		require.Equal(t, want, corpus.NewIDSet(res.Missing...), "round %d", round)
		require.Len(t, res.Missing, want.Len())
		if d.Len() == 0 {
			require.Zero(t, res.Report.CoveragePercentage)
			continue
		}
		require.InDelta(t, float64(inter)/float64(d.Len())*100, res.Report.CoveragePercentage, 0.005)
	}
}
