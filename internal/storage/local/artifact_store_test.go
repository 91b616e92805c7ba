// Package local_test tests the local filesystem artifact store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "artifacts")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.Put(ctx, "missing_doc_ids_20250101_000000.json", "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "missing_doc_ids_20250101_000000.json"), uri)

	data, err := store.Get(ctx, "missing_doc_ids_20250101_000000.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	abs := filepath.Join(t.TempDir(), "elsewhere.json")
	require.NoError(t, os.WriteFile(abs, []byte(`[]`), 0o600))
	data, err = store.Get(ctx, abs)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	_, err = store.Get(ctx, "nope.json")
	assert.Error(t, err)
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.json", "application/json", []byte("x"))
	assert.ErrorContains(t, err, "path traversal")
	_, err = store.Put(context.Background(), " ", "application/json", []byte("x"))
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{
		"10001_doc_ids_20250102_000000.json",
		"10001_doc_ids_20250101_000000.json",
		"missing_doc_ids_20250101_000000.json",
	} {
		_, err := store.Put(ctx, name, "application/json", []byte("{}"))
		require.NoError(t, err)
	}
	names, err := store.List(ctx, "10001_doc_ids_")
	require.NoError(t, err)
	assert.Equal(t, []string{"10001_doc_ids_20250101_000000.json", "10001_doc_ids_20250102_000000.json"}, names)
}
