// Package ledger keeps the durable, append-only record of failed backfill
// attempts and replays it against the corpus store.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// ArchiveTimeLayout is the timestamp suffix format of archived ledgers.
const ArchiveTimeLayout = "20060102_150405"

// Ledger is an append-only sequence of failure records.
type Ledger interface {
	// Append durably adds one entry.
	Append(ctx context.Context, entry corpus.LedgerEntry) error
	// Entries returns every readable entry in append order.
	Entries(ctx context.Context) ([]corpus.LedgerEntry, error)
	// Archive moves the current ledger aside under a timestamped name and
	// starts an empty one. It returns the archive name, or "" when there was
	// nothing to archive.
	Archive(ctx context.Context, at time.Time) (string, error)
	// Rewrite atomically replaces the ledger contents with entries.
	Rewrite(ctx context.Context, entries []corpus.LedgerEntry) error
	// Name identifies the ledger (a path or key).
	Name() string
}

// ArchiveName returns the archive name for a ledger archived at at.
func ArchiveName(name string, at time.Time) string {
	return fmt.Sprintf("%s.backup.%s", name, at.Format(ArchiveTimeLayout))
}

func encodeEntry(entry corpus.LedgerEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger entry %s: %w", entry.DocID, err)
	}
	return data, nil
}
