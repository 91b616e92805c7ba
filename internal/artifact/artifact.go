// Package artifact names, writes and reads the timestamped JSON snapshots each
// phase leaves behind.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// TimeLayout is the timestamp embedded in artifact names.
const TimeLayout = "20060102_150405"

const (
	contentTypeJSON = "application/json"
	missingPrefix   = "missing_doc_ids_"
	backfillPrefix  = "fetch_missing_docs_results_"
)

// ErrNoArtifact is returned by Latest when nothing matches the prefix.
var ErrNoArtifact = errors.New("no matching artifact")

// EnumerationPrefix is the name prefix of enumeration artifacts for category.
func EnumerationPrefix(category string) string {
	return category + "_doc_ids_"
}

// EnumerationName names an enumeration artifact.
func EnumerationName(category string, at time.Time) string {
	return EnumerationPrefix(category) + at.Format(TimeLayout) + ".json"
}

// MissingPrefix is the name prefix of reconciliation artifacts.
func MissingPrefix() string { return missingPrefix }

// MissingName names a reconciliation artifact.
func MissingName(at time.Time) string {
	return missingPrefix + at.Format(TimeLayout) + ".json"
}

// BackfillName names a backfill results artifact.
func BackfillName(at time.Time) string {
	return backfillPrefix + at.Format(TimeLayout) + ".json"
}

// Enumeration is the payload of an enumeration artifact.
type Enumeration struct {
	Report    corpus.EnumerationReport `json:"report"`
	AllDocIDs []string                 `json:"all_doc_ids"`

	// PageResults attributes identifiers to the successful page that listed them.
	PageResults map[int][]string `json:"page_results"`
}

// Missing is the payload of a reconciliation artifact.
type Missing struct {
	Category                 string                      `json:"category,omitempty"`
	APITotalDocIDs           int                         `json:"api_total_doc_ids"`
	DBTotalDocIDs            int                         `json:"db_total_doc_ids"`
	MissingDocIDs            []string                    `json:"missing_doc_ids"`
	CoveragePercentage       float64                     `json:"coverage_percentage"`
	LegacyCoveragePercentage float64                     `json:"legacy_coverage_percentage"`
	AllMissingDocIDs         []string                    `json:"all_missing_doc_ids"`
	AllAPIDocIDs             []string                    `json:"all_api_doc_ids"`
	AllDBDocIDs              []string                    `json:"all_db_doc_ids"`
	Report                   corpus.ReconciliationReport `json:"report"`
}

// Backfill is the payload of a backfill results artifact.
type Backfill struct {
	RunID           string             `json:"run_id,omitempty"`
	Category        string             `json:"category,omitempty"`
	SuccessfulDocs  []string           `json:"successful_docs"`
	FailedDocs      []corpus.FailedDoc `json:"failed_docs"`
	TotalSuccessful int                `json:"total_successful"`
	TotalFailed     int                `json:"total_failed"`
	ElapsedSeconds  float64            `json:"elapsed_seconds"`
	// Aborted marks a run stopped by a store outage; the lists are partial.
	Aborted bool   `json:"aborted,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Written describes a stored artifact.
type Written struct {
	Name   string
	URI    string
	SHA256 string
	Size   int
}

// Repository writes and reads artifacts through a corpus.ArtifactStore.
type Repository struct {
	store  corpus.ArtifactStore
	hasher corpus.Hasher
	logger *zap.Logger
}

// NewRepository wires a Repository. hasher may be nil, leaving digests empty.
func NewRepository(store corpus.ArtifactStore, hasher corpus.Hasher, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, hasher: hasher, logger: logger}
}

// Write marshals v as indented JSON and stores it under name.
func (r *Repository) Write(ctx context.Context, name string, v any) (Written, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Written{}, fmt.Errorf("marshal artifact %s: %w", name, err)
	}
	uri, err := r.store.Put(ctx, name, contentTypeJSON, data)
	if err != nil {
		return Written{}, fmt.Errorf("store artifact %s: %w", name, err)
	}
	out := Written{Name: name, URI: uri, Size: len(data)}
	if r.hasher != nil {
		if out.SHA256, err = r.hasher.Hash(data); err != nil {
			return Written{}, fmt.Errorf("hash artifact %s: %w", name, err)
		}
	}
	r.logger.Info("artifact written",
		zap.String("name", name),
		zap.String("uri", uri),
		zap.Int("bytes", out.Size),
	)
	return out, nil
}

// Read loads name and unmarshals it into v.
func (r *Repository) Read(ctx context.Context, name string, v any) error {
	data, err := r.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode artifact %s: %w", name, err)
	}
	return nil
}

// Latest returns the newest artifact name with prefix. Names embed a sortable
// timestamp, so the lexically greatest one is the newest.
func (r *Repository) Latest(ctx context.Context, prefix string) (string, error) {
	names, err := r.store.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list artifacts %s*: %w", prefix, err)
	}
	latest := ""
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w: %s*", ErrNoArtifact, prefix)
	}
	return latest, nil
}

// IDs returns the identifier list carried by an enumeration or reconciliation
// artifact. Enumeration artifacts yield all_doc_ids; reconciliation artifacts
// yield all_missing_doc_ids.
func IDs(data []byte) ([]string, error) {
	var probe struct {
		AllDocIDs        []string `json:"all_doc_ids"`
		AllMissingDocIDs []string `json:"all_missing_doc_ids"`
		MissingDocIDs    []string `json:"missing_doc_ids"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	switch {
	case probe.AllDocIDs != nil:
		return probe.AllDocIDs, nil
	case probe.AllMissingDocIDs != nil:
		return probe.AllMissingDocIDs, nil
	case probe.MissingDocIDs != nil:
		return probe.MissingDocIDs, nil
	}
	return nil, errors.New("artifact carries no identifier list")
}
