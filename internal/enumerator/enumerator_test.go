package enumerator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/progress"
)

func TestEnumeratorDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{
		1: {"1", "2", "3"},
		2: {"3", "4", "5"},
	})
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 2, Concurrency: 2}, nil)

	res, err := e.Run(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, corpus.NewIDSet("1", "2", "3", "4", "5"), res.Discovered)
	assert.Equal(t, 6, res.Report.TotalRawDocIDs)
	assert.Equal(t, 5, res.Report.TotalUniqueDocIDs)
	assert.Equal(t, 1, res.Report.DuplicateCount)
	assert.Equal(t, []string{"3"}, res.Report.DuplicateDocIDs)
	assert.Equal(t, []int{}, res.Report.FailedPages)
	assert.Equal(t, "10001", res.Report.Category)
	assert.Equal(t, fixedClock{}.Now(), res.Report.Timestamp)
}

func TestEnumeratorCountsDistinctDuplicates(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{
		1: {"1", "2"},
		2: {"1", "2"},
		3: {"1", "3"},
	})
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 3, Concurrency: 3}, nil)

	res, err := e.Run(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, 6, res.Report.TotalRawDocIDs)
	assert.Equal(t, 3, res.Report.TotalUniqueDocIDs)
	assert.Equal(t, []string{"1", "2"}, res.Report.DuplicateDocIDs)
	assert.Equal(t, 2, res.Report.DuplicateCount)
}

func TestEnumeratorIsolatesFailedPage(t *testing.T) {
	t.Parallel()

	pages := map[int][]string{}
	for p := 1; p <= 10; p++ {
		pages[p] = []string{fmt.Sprintf("%d01", p), fmt.Sprintf("%d02", p)}
	}
	fetcher := newFakeListing(pages)
	fetcher.failAlways[7] = corpus.E(corpus.KindTransientNetwork, "fetch page", errors.New("connection reset"))

	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 10, Concurrency: 4}, nil)
	res, err := e.Run(context.Background(), "10001")
	require.NoError(t, err)

	assert.Equal(t, []int{7}, res.Report.FailedPages)
	assert.Equal(t, 1, res.Report.TotalPagesFailed)
	assert.Equal(t, 9, res.Report.TotalPagesProcessed)
	assert.Equal(t, 10, res.Report.PagesAttempted)
	assert.Equal(t, 3, fetcher.Calls(7))
	for p := 1; p <= 10; p++ {
		if p == 7 {
			assert.False(t, res.Discovered.Has("701"))
			continue
		}
		assert.True(t, res.Discovered.Has(fmt.Sprintf("%d01", p)), "page %d", p)
	}
}

func TestEnumeratorRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{1: {"1"}})
	fetcher.failTimes[1] = 2
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 1}, nil)

	res, err := e.Run(context.Background(), "c")
	require.NoError(t, err)
	assert.True(t, res.Discovered.Has("1"))
	assert.Equal(t, 3, res.Pages[0].Attempts)
}

func TestEnumeratorDoesNotRetryMalformedPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{1: {"1"}, 2: {"2"}})
	fetcher.failAlways[2] = corpus.E(corpus.KindMalformedResponse, "decode page", errors.New("unexpected EOF"))
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 2}, nil)

	res, err := e.Run(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Report.FailedPages)
	assert.Equal(t, 1, fetcher.Calls(2))
}

func TestEnumeratorAbortsWhenNoPageSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{})
	for p := 1; p <= 3; p++ {
		fetcher.failAlways[p] = corpus.E(corpus.KindTimeout, "fetch page", nil)
	}
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 3}, nil)

	res, err := e.Run(context.Background(), "c")
	require.ErrorIs(t, err, corpus.ErrEnumerationAborted)
	assert.Equal(t, []int{1, 2, 3}, res.Report.FailedPages)
	assert.Zero(t, res.Discovered.Len())
}

func TestEnumeratorFlagsUnusualPages(t *testing.T) {
	t.Parallel()

	full := make([]string, 20)
	for i := range full {
		full[i] = fmt.Sprintf("f%d", i)
	}
	fetcher := newFakeListing(map[int][]string{
		1: full,
		2: {"a", "b"},
		3: {},
	})
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{
		StartPage: 1, MaxPages: 3, PageSize: 20, BandMin: 15, BandMax: 25,
	}, nil)

	res, err := e.Run(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []corpus.PageCount{{Page: 2, Count: 2}, {Page: 3, Count: 0}}, res.Report.UnusualPages)
	assert.Equal(t, []int{3}, res.Report.PagesWithZeroDocs)
	assert.Equal(t, []int{1}, res.Report.PagesWithMaxDocs)
	assert.Equal(t, 60, res.Report.ExpectedDocuments)
	assert.Equal(t, 22-60, res.Report.DifferenceFromExpected)
}

func TestEnumeratorAttributesPagesRegardlessOfCompletionOrder(t *testing.T) {
	t.Parallel()

	pages := map[int][]string{}
	for p := 1; p <= 8; p++ {
		pages[p] = []string{fmt.Sprintf("p%d", p)}
	}
	fetcher := newFakeListing(pages)
	fetcher.delay = func(page int) time.Duration { return time.Duration(9-page) * 2 * time.Millisecond }

	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 8, Concurrency: 8}, nil)
	res, err := e.Run(context.Background(), "c")
	require.NoError(t, err)
	for i, p := range res.Pages {
		assert.Equal(t, i+1, p.Page)
		assert.Equal(t, []string{fmt.Sprintf("p%d", p.Page)}, p.IDs)
	}
}

func TestEnumeratorRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	pages := map[int][]string{}
	for p := 1; p <= 30; p++ {
		pages[p] = []string{fmt.Sprint(p)}
	}
	fetcher := newFakeListing(pages)
	fetcher.delay = func(int) time.Duration { return time.Millisecond }

	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 30, Concurrency: 3}, nil)
	_, err := e.Run(context.Background(), "c")
	require.NoError(t, err)
	assert.LessOrEqual(t, fetcher.peak.Load(), int64(3))
}

func TestEnumeratorEmitsProgress(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{1: {"1"}, 2: {"2"}})
	fetcher.failAlways[2] = corpus.E(corpus.KindMalformedResponse, "decode", nil)
	rec := &recordingEmitter{}
	e := New(fetcher, fastRetry(), fixedClock{}, rec, Config{StartPage: 1, MaxPages: 2, Concurrency: 1}, nil)

	res, err := e.Run(context.Background(), "c")
	require.NoError(t, err)

	stages := rec.Stages()
	require.Len(t, stages, 4)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.ElementsMatch(t, []progress.Stage{progress.StagePageDone, progress.StagePageFailed}, stages[1:3])
	assert.Equal(t, progress.StageRunDone, stages[3])
	assert.Equal(t, res.RunID, rec.events[0].RunUUID())
}

func TestEnumeratorCanceledContext(t *testing.T) {
	t.Parallel()

	fetcher := newFakeListing(map[int][]string{1: {"1"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(fetcher, fastRetry(), fixedClock{}, nil, Config{StartPage: 1, MaxPages: 1}, nil)
	_, err := e.Run(ctx, "c")
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnumeratorRejectsInvertedBounds(t *testing.T) {
	t.Parallel()

	e := New(newFakeListing(nil), fastRetry(), fixedClock{}, nil, Config{StartPage: 5, MaxPages: 2}, nil)
	_, err := e.Run(context.Background(), "c")
	require.Error(t, err)
}

func fastRetry() corpus.RetryPolicy {
	return corpus.NewExponentialRetryPolicy(corpus.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	})
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type fakeListing struct {
	mu         sync.Mutex
	pages      map[int][]string
	failAlways map[int]error
	failTimes  map[int]int
	calls      map[int]int
	delay      func(page int) time.Duration

	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeListing(pages map[int][]string) *fakeListing {
	return &fakeListing{
		pages:      pages,
		failAlways: map[int]error{},
		failTimes:  map[int]int{},
		calls:      map[int]int{},
	}
}

func (f *fakeListing) FetchPage(_ context.Context, _ string, page int) ([]string, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if cur <= old || f.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if f.delay != nil {
		time.Sleep(f.delay(page))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[page]++
	if err, ok := f.failAlways[page]; ok {
		return nil, err
	}
	if f.calls[page] <= f.failTimes[page] {
		return nil, corpus.E(corpus.KindTransientNetwork, "fetch page", errors.New("reset"))
	}
	return append([]string(nil), f.pages[page]...), nil
}

func (f *fakeListing) Calls(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Stage
	}
	return out
}
