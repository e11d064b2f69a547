package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/miru/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(path, "image_vectors")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreTests(t, func(t *testing.T) IndexStore {
		return newTestSQLiteStore(t, filepath.Join(t.TempDir(), "db", "miru.db"))
	})
}

func TestSQLiteStore_ReopenRestoresIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "miru.db")

	s, err := NewSQLiteStore(path, "image_vectors")
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
	require.NoError(t, s.Upsert(ctx, []models.Entry{
		entry("cat.jpg", 1, 0, 0, 0),
		entry("dog.jpg", 0, 1, 0, 0),
	}))
	require.NoError(t, s.Close())

	s = newTestSQLiteStore(t, path)
	exists, err := s.CollectionExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	hits, err := s.Query(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dog.jpg", hits[0].Filename)
	assert.Equal(t, "/images/dog.jpg", hits[0].Path)
}

func TestSQLiteStore_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "miru.db")

	a, err := NewSQLiteStore(path, "a")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewSQLiteStore(path, "b")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, a.EnsureCollection(ctx, testDim, DistanceCosine))
	require.NoError(t, a.Upsert(ctx, []models.Entry{entry("cat.jpg", 1, 0, 0, 0)}))

	exists, err := b.CollectionExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteStore_UnknownVectorIndex(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "miru.db"), "c", WithVectorIndex("annoy"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Error(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
}
