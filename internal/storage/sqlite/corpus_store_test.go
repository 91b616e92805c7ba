package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

func openTestStore(t *testing.T) *CorpusStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "corpus.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(id, docID, category string) corpus.DocumentRecord {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return corpus.DocumentRecord{
		ID:        id,
		DocID:     docID,
		Category:  category,
		Title:     "Document " + docID,
		URL:       "https://docs.cntd.ru/document/" + docID,
		ParsedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	for i, id := range []string{"103", "101", "102"} {
		require.NoError(t, store.Insert(ctx, record(string(rune('a'+i)), id, "10001")))
	}
	require.NoError(t, store.Insert(ctx, record("z", "900", "other")))

	n, err := store.Count(ctx, "10001")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	all, err := store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, all)

	ids, err := store.ReadIDs(ctx, "10001", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102"}, ids)
	ids, err = store.ReadIDs(ctx, "10001", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"103"}, ids)
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Insert(ctx, record("a", "101", "c")))
	err := store.Insert(ctx, record("b", "101", "c"))
	require.Error(t, err)
	assert.True(t, corpus.IsConflict(err))

	sameURL := record("c", "102", "c")
	sameURL.URL = "https://docs.cntd.ru/document/101"
	assert.True(t, corpus.IsConflict(store.Insert(ctx, sameURL)))

	n, err := store.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertRequiresIdentifiers(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	err := store.Insert(context.Background(), corpus.DocumentRecord{DocID: "1"})
	assert.Equal(t, corpus.KindMalformedResponse, corpus.KindOf(err))
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	t.Parallel()
	store, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())

	_, err = store.Count(context.Background(), "")
	assert.True(t, corpus.IsStoreUnavailable(err))
	assert.True(t, corpus.IsStoreUnavailable(store.Ping(context.Background())))
}

func TestClassifyWithSQLMock(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	store, err := NewCorpusStore(db, "docs_cntd")
	require.NoError(t, err)

	rec := record("a", "101", "c")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO docs_cntd")).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: docs_cntd.doc_id (2067)"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM docs_cntd")).
		WithArgs("c").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	err = store.Insert(context.Background(), rec)
	assert.True(t, corpus.IsConflict(err))
	n, err := store.Count(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCorpusStoreValidates(t *testing.T) {
	t.Parallel()
	_, err := NewCorpusStore(nil, "")
	require.Error(t, err)
	_, err = Open(context.Background(), Config{})
	require.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	_, err = NewCorpusStore(db, "bad-name")
	require.Error(t, err)
}
