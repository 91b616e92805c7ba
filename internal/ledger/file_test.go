package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

var ledgerTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestFileLedger(t *testing.T) *FileLedger {
	t.Helper()
	l, err := NewFileLedger(filepath.Join(t.TempDir(), "failed_cntd_items.jsonl"), nil)
	require.NoError(t, err)
	return l
}

func TestFileLedgerAppendAndEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestFileLedger(t)

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec := &corpus.DocumentRecord{DocID: "42", URL: "https://docs.cntd.ru/document/42", Title: "t"}
	require.NoError(t, l.Append(ctx, corpus.LedgerEntry{DocID: "42", Error: "boom", Kind: corpus.KindTransientNetwork, Timestamp: ledgerTime, ItemData: rec}))
	require.NoError(t, l.Append(ctx, corpus.LedgerEntry{DocID: "43", Error: "bad json", Kind: corpus.KindMalformedResponse, Timestamp: ledgerTime}))

	entries, err = l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "42", entries[0].DocID)
	assert.True(t, entries[0].HasPayload())
	assert.Equal(t, corpus.KindTransientNetwork, entries[0].Kind)
	assert.Equal(t, "43", entries[1].DocID)
	assert.False(t, entries[1].HasPayload())
	assert.Equal(t, corpus.KindMalformedResponse, entries[1].Kind)
}

func TestFileLedgerSkipsUnreadableLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestFileLedger(t)

	content := `{"doc_id":"1","error":"x","kind":"timeout","timestamp":"2025-03-14T09:26:53Z"}
not json at all

{"error":"missing doc id"}
{"doc_id":"2","error":"y","kind":"rate_limited","timestamp":"2025-03-14T09:26:53Z"}`
	require.NoError(t, os.WriteFile(l.Name(), []byte(content), 0o644))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1", entries[0].DocID)
	assert.Equal(t, corpus.KindTimeout, entries[0].Kind)
	assert.Equal(t, "2", entries[1].DocID)
}

func TestFileLedgerArchive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestFileLedger(t)

	name, err := l.Archive(ctx, ledgerTime)
	require.NoError(t, err)
	assert.Empty(t, name, "missing ledger has nothing to archive")

	require.NoError(t, l.Append(ctx, corpus.LedgerEntry{DocID: "1", Error: "x"}))
	name, err = l.Archive(ctx, ledgerTime)
	require.NoError(t, err)
	assert.Equal(t, l.Name()+".backup.20250314_092653", name)
	assert.FileExists(t, name)

	info, err := os.Stat(l.Name())
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	name, err = l.Archive(ctx, ledgerTime.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, name, "empty ledger is not archived")
}

func TestFileLedgerRewrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestFileLedger(t)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, l.Append(ctx, corpus.LedgerEntry{DocID: id, Error: "x"}))
	}
	require.NoError(t, l.Rewrite(ctx, []corpus.LedgerEntry{{DocID: "2", Error: "still"}}))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].DocID)
	assert.Equal(t, "still", entries[0].Error)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(l.Name()), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNewFileLedgerCreatesDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.jsonl")
	l, err := NewFileLedger(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), corpus.LedgerEntry{DocID: "1"}))
	assert.FileExists(t, path)

	_, err = NewFileLedger("", nil)
	require.Error(t, err)
}

func TestArchiveName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "failed.jsonl.backup.20250314_092653", ArchiveName("failed.jsonl", ledgerTime))
}
