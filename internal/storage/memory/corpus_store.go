package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// CorpusStore is an in-memory corpus.CorpusStore enforcing unique doc_id and
// url like the database backends.
type CorpusStore struct {
	mu     sync.RWMutex
	docs   map[string]corpus.DocumentRecord
	urls   map[string]string
	order  []string
	failFn func(corpus.DocumentRecord) error
}

// NewCorpusStore constructs an empty CorpusStore.
func NewCorpusStore() *CorpusStore {
	return &CorpusStore{
		docs: make(map[string]corpus.DocumentRecord),
		urls: make(map[string]string),
	}
}

// FailInserts makes Insert return fn's error when it is non-nil. Passing nil
// restores normal behaviour.
func (s *CorpusStore) FailInserts(fn func(corpus.DocumentRecord) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// Count returns the number of documents in category; empty matches all.
func (s *CorpusStore) Count(_ context.Context, category string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if category == "" {
		return len(s.order), nil
	}
	n := 0
	for _, id := range s.order {
		if s.docs[id].Category == category {
			n++
		}
	}
	return n, nil
}

// ReadIDs returns one insertion-ordered range of doc ids in category.
func (s *CorpusStore) ReadIDs(_ context.Context, category string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, limit)
	skipped := 0
	for _, id := range s.order {
		if category != "" && s.docs[id].Category != category {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, id)
	}
	return out, nil
}

// Insert stores record unless its doc id or url already exists.
func (s *CorpusStore) Insert(_ context.Context, record corpus.DocumentRecord) error {
	if record.DocID == "" {
		return corpus.Errorf(corpus.KindMalformedResponse, "insert document", "doc_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFn != nil {
		if err := s.failFn(record); err != nil {
			return err
		}
	}
	if _, ok := s.docs[record.DocID]; ok {
		return corpus.Errorf(corpus.KindUniquenessConflict, "insert document", "doc_id %s already exists", record.DocID).WithID(record.DocID)
	}
	if record.URL != "" {
		if owner, ok := s.urls[record.URL]; ok {
			return corpus.Errorf(corpus.KindUniquenessConflict, "insert document", "url %s already stored for %s", record.URL, owner).WithID(record.DocID)
		}
		s.urls[record.URL] = record.DocID
	}
	s.docs[record.DocID] = record
	s.order = append(s.order, record.DocID)
	return nil
}

// Get returns a stored document.
func (s *CorpusStore) Get(docID string) (corpus.DocumentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[docID]
	return rec, ok
}
