package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/store"
)

func TestArtifactStorePutCopiesData(t *testing.T) {
	t.Parallel()

	s := NewArtifactStore()
	payload := []byte("content")
	uri, err := s.Put(context.Background(), "10001_doc_ids_20250101_000000.json", "application/json", payload)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "memory://10001_doc_ids_20250101_000000.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	got, err := s.Get(context.Background(), "10001_doc_ids_20250101_000000.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestArtifactStoreListByPrefix(t *testing.T) {
	t.Parallel()

	s := NewArtifactStore()
	ctx := context.Background()
	for _, name := range []string{
		"missing_doc_ids_20250102_000000.json",
		"missing_doc_ids_20250101_000000.json",
		"10001_doc_ids_20250101_000000.json",
	} {
		if _, err := s.Put(ctx, name, "application/json", []byte("{}")); err != nil {
			t.Fatalf("Put(%s) error = %v", name, err)
		}
	}
	names, err := s.List(ctx, "missing_doc_ids_")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 || names[0] != "missing_doc_ids_20250101_000000.json" {
		t.Fatalf("unexpected listing %v", names)
	}
}

func TestCorpusStoreEnforcesUniqueness(t *testing.T) {
	t.Parallel()

	s := NewCorpusStore()
	ctx := context.Background()
	rec := corpus.DocumentRecord{DocID: "101", Category: "10001", URL: "https://docs.cntd.ru/document/101"}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, rec); !corpus.IsConflict(err) {
		t.Fatalf("expected doc_id conflict, got %v", err)
	}
	sameURL := corpus.DocumentRecord{DocID: "102", URL: rec.URL}
	if err := s.Insert(ctx, sameURL); !corpus.IsConflict(err) {
		t.Fatalf("expected url conflict, got %v", err)
	}
	if err := s.Insert(ctx, corpus.DocumentRecord{}); corpus.KindOf(err) != corpus.KindMalformedResponse {
		t.Fatalf("expected malformed error for empty doc id, got %v", err)
	}
	if _, ok := s.Get("102"); ok {
		t.Fatal("conflicting record must not be stored")
	}
}

func TestCorpusStoreCountAndReadIDs(t *testing.T) {
	t.Parallel()

	s := NewCorpusStore()
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		cat := "a"
		if id == "3" {
			cat = "b"
		}
		if err := s.Insert(ctx, corpus.DocumentRecord{DocID: id, Category: cat}); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}
	n, err := s.Count(ctx, "a")
	if err != nil || n != 4 {
		t.Fatalf("Count(a) = %d, %v", n, err)
	}
	all, _ := s.Count(ctx, "")
	if all != 5 {
		t.Fatalf("Count(all) = %d", all)
	}
	ids, err := s.ReadIDs(ctx, "a", 1, 2)
	if err != nil {
		t.Fatalf("ReadIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "2" || ids[1] != "4" {
		t.Fatalf("unexpected range %v", ids)
	}
	ids, _ = s.ReadIDs(ctx, "a", 10, 2)
	if len(ids) != 0 {
		t.Fatalf("expected empty range past end, got %v", ids)
	}
}

func TestCorpusStoreFailInserts(t *testing.T) {
	t.Parallel()

	s := NewCorpusStore()
	outage := corpus.E(corpus.KindStoreUnavailable, "insert", errors.New("down"))
	s.FailInserts(func(corpus.DocumentRecord) error { return outage })
	if err := s.Insert(context.Background(), corpus.DocumentRecord{DocID: "1"}); !corpus.IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	s.FailInserts(nil)
	if err := s.Insert(context.Background(), corpus.DocumentRecord{DocID: "1"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	id := uuid.Must(uuid.NewV7())
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.StartRun(ctx, id, "backfill", "10001", started); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if err := s.StartRun(ctx, id, "other", "x", started.Add(time.Hour)); err != nil {
		t.Fatalf("repeated StartRun() error = %v", err)
	}
	if err := s.AddCounts(ctx, id, store.RunCounts{DocsDone: 2, DocsFailed: 1}); err != nil {
		t.Fatalf("AddCounts() error = %v", err)
	}
	if err := s.AddCounts(ctx, id, store.RunCounts{DocsDone: 1}); err != nil {
		t.Fatalf("AddCounts() error = %v", err)
	}
	if err := s.CompleteRun(ctx, id, started.Add(time.Minute), store.RunSuccess, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Phase != "backfill" || run.Status != store.RunSuccess || run.FinishedAt == nil {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Counts.DocsDone != 3 || run.Counts.DocsFailed != 1 {
		t.Fatalf("unexpected counts %+v", run.Counts)
	}
	if _, err := s.GetRun(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.AddCounts(ctx, uuid.New(), store.RunCounts{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.Must(uuid.NewV7())
		ids = append(ids, id)
		if err := s.StartRun(ctx, id, "enumerate", "10001", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
	}
	if err := s.CompleteRun(ctx, ids[0], base, store.RunError, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	runs, err := s.ListRuns(ctx, nil, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("unexpected order %+v", runs)
	}
	status := store.RunError
	runs, _ = s.ListRuns(ctx, &status, 10, 0)
	if len(runs) != 1 || runs[0].ID != ids[0] {
		t.Fatalf("unexpected filtered runs %+v", runs)
	}
	runs, _ = s.ListRuns(ctx, nil, 10, 5)
	if len(runs) != 0 {
		t.Fatalf("expected empty page, got %d", len(runs))
	}
}
