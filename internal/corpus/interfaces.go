package corpus

import (
	"context"
	"time"
)

// ListingFetcher returns the identifiers listed on one page of a category.
// Implementations must be safe to call again for the same page.
type ListingFetcher interface {
	FetchPage(ctx context.Context, category string, page int) ([]string, error)
}

// MetadataFetcher loads the structured metadata of one document.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, docID string) (StructuredRecord, error)
}

// ContentExtractor extracts the full text of one document. Empty text is a
// valid result.
type ContentExtractor interface {
	ExtractContent(ctx context.Context, docID, url string) (string, error)
}

// CorpusStore is the durable document store.
type CorpusStore interface {
	Count(ctx context.Context, category string) (int, error)
	ReadIDs(ctx context.Context, category string, offset, limit int) ([]string, error)
	// Insert persists record once. A duplicate DocID or URL returns an error of
	// KindUniquenessConflict.
	Insert(ctx context.Context, record DocumentRecord) error
}

// ArtifactStore keeps named snapshot blobs.
type ArtifactStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces surrogate ids.
type IDGenerator interface {
	NewID() (string, error)
}
