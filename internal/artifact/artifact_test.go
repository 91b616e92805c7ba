package artifact

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-reconciler/internal/storage/memory"
)

var at = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "10001_doc_ids_20250314_092653.json", EnumerationName("10001", at))
	assert.Equal(t, "missing_doc_ids_20250314_092653.json", MissingName(at))
	assert.Equal(t, "fetch_missing_docs_results_20250314_092653.json", BackfillName(at))
}

func TestWriteAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewRepository(memory.NewArtifactStore(), sha256.New(), nil)

	in := Enumeration{
		Report:    corpus.EnumerationReport{Category: "10001", TotalUniqueDocIDs: 2},
		AllDocIDs: []string{"1", "2"},
	}
	written, err := repo.Write(ctx, EnumerationName("10001", at), in)
	require.NoError(t, err)
	assert.Equal(t, "memory://10001_doc_ids_20250314_092653.json", written.URI)
	assert.Len(t, written.SHA256, 64)
	assert.Positive(t, written.Size)

	var out Enumeration
	require.NoError(t, repo.Read(ctx, written.Name, &out))
	assert.Equal(t, in.AllDocIDs, out.AllDocIDs)
	assert.Equal(t, "10001", out.Report.Category)
}

func TestLatestPicksNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewRepository(memory.NewArtifactStore(), nil, nil)

	_, err := repo.Latest(ctx, MissingPrefix())
	assert.True(t, errors.Is(err, ErrNoArtifact))

	for _, ts := range []time.Time{at, at.Add(time.Hour), at.Add(-time.Hour)} {
		_, err := repo.Write(ctx, MissingName(ts), Missing{})
		require.NoError(t, err)
	}
	latest, err := repo.Latest(ctx, MissingPrefix())
	require.NoError(t, err)
	assert.Equal(t, MissingName(at.Add(time.Hour)), latest)
}

func TestIDs(t *testing.T) {
	t.Parallel()

	ids, err := IDs([]byte(`{"report":{},"all_doc_ids":["1","2"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = IDs([]byte(`{"missing_doc_ids":["3"],"all_missing_doc_ids":["3","4"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, ids)

	_, err = IDs([]byte(`{"other":1}`))
	require.Error(t, err)
	_, err = IDs([]byte(`not json`))
	require.Error(t, err)
}
