package corpus

import (
	"sort"
	"time"
)

// IDSet is a run-scoped set of source identifiers.
type IDSet map[string]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was not already present.
func (s IDSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// AddAll inserts every id.
func (s IDSet) AddAll(ids []string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identifiers.
func (s IDSet) Len() int {
	return len(s)
}

// Sorted returns the identifiers in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	SortIDs(out)
	return out
}

// SortIDs orders identifiers totally: decimal strings first, by length then
// lexically so "9" sorts before "10", then every other string lexically.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return lessID(ids[i], ids[j])
	})
}

func lessID(a, b string) bool {
	da, db := isDigits(a), isDigits(b)
	switch {
	case da && !db:
		return true
	case !da && db:
		return false
	case da && len(a) != len(b):
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// PageCount pairs a page number with the number of identifiers it returned.
type PageCount struct {
	Page  int `json:"page"`
	Count int `json:"count"`
}

// EnumerationReport summarizes one enumeration run of a category.
type EnumerationReport struct {
	Timestamp              time.Time   `json:"timestamp"`
	Category               string      `json:"category"`
	PagesAttempted         int         `json:"pages_attempted"`
	TotalPagesProcessed    int         `json:"total_pages_processed"`
	TotalPagesFailed       int         `json:"total_pages_failed"`
	TotalRawDocIDs         int         `json:"total_raw_doc_ids"`
	TotalUniqueDocIDs      int         `json:"total_unique_doc_ids"`
	DuplicateDocIDs        []string    `json:"duplicate_doc_ids"`
	DuplicateCount         int         `json:"duplicate_count"`
	ExpectedDocuments      int         `json:"expected_documents"`
	DifferenceFromExpected int         `json:"difference_from_expected"`
	FailedPages            []int       `json:"failed_pages"`
	UnusualPages           []PageCount `json:"unusual_pages"`
	PagesWithZeroDocs      []int       `json:"pages_with_zero_docs"`
	PagesWithMaxDocs       []int       `json:"pages_with_max_docs"`
}

// ReconciliationReport is the derived diff between discovered and persisted
// identifiers for a category.
type ReconciliationReport struct {
	Timestamp                time.Time `json:"timestamp"`
	Category                 string    `json:"category"`
	DiscoveredCount          int       `json:"discovered_count"`
	PersistedCount           int       `json:"persisted_count"`
	MissingCount             int       `json:"missing_count"`
	CoveragePercentage       float64   `json:"coverage_percentage"`
	LegacyCoveragePercentage float64   `json:"legacy_coverage_percentage"`
	MissingSample            []string  `json:"missing_sample"`
}

// StructuredRecord is the source metadata for one document, already mapped to
// the fields the corpus stores.
type StructuredRecord struct {
	DocID       string     `json:"doc_id"`
	Title       string     `json:"title"`
	Requisites  string     `json:"requisites"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// DocumentRecord is one persisted corpus document. DocID and URL are unique.
type DocumentRecord struct {
	ID          string     `json:"id"`
	DocID       string     `json:"doc_id"`
	Category    string     `json:"category,omitempty"`
	Title       string     `json:"title"`
	Requisites  string     `json:"requisites"`
	Text        string     `json:"text"`
	URL         string     `json:"url"`
	ParsedAt    time.Time  `json:"parsed_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LedgerEntry records one failed backfill attempt. ItemData holds the record
// built before the failure, when metadata was obtained.
type LedgerEntry struct {
	DocID     string          `json:"doc_id"`
	Category  string          `json:"category,omitempty"`
	Error     string          `json:"error"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Batch     string          `json:"batch,omitempty"`
	ItemData  *DocumentRecord `json:"item_data,omitempty"`
}

// HasPayload reports whether the entry can be retried without re-fetching.
func (e LedgerEntry) HasPayload() bool {
	return e.ItemData != nil && e.ItemData.DocID != ""
}

// FailedDoc describes an identifier that could not be persisted.
type FailedDoc struct {
	DocID  string `json:"doc_id"`
	Reason string `json:"reason"`
	Kind   Kind   `json:"kind"`
}
