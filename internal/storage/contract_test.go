package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/miru/internal/fileid"
	"github.com/hyperjump/miru/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

func entry(name string, vec ...float32) models.Entry {
	return models.Entry{
		ID:      fileid.PointID(name),
		Vector:  vec,
		Payload: models.Payload{Filename: name, Path: "/images/" + name},
	}
}

// runStoreTests exercises the IndexStore contract against a fresh, empty store.
func runStoreTests(t *testing.T, open func(t *testing.T) IndexStore) {
	ctx := context.Background()

	t.Run("MissingCollection", func(t *testing.T) {
		s := open(t)
		exists, err := s.CollectionExists(ctx)
		require.NoError(t, err)
		assert.False(t, exists)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		hits, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
		err = s.Upsert(ctx, []models.Entry{entry("a.jpg", 1, 0, 0, 0)})
		assert.ErrorIs(t, err, ErrCollectionMissing)
	})

	t.Run("EnsureIsNonDestructive", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		require.NoError(t, s.Upsert(ctx, []models.Entry{entry("a.jpg", 1, 0, 0, 0)}))
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		err = s.EnsureCollection(ctx, testDim+1, DistanceCosine)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("UpsertReplacesByID", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		require.NoError(t, s.Upsert(ctx, []models.Entry{entry("a.jpg", 1, 0, 0, 0)}))
		require.NoError(t, s.Upsert(ctx, []models.Entry{entry("a.jpg", 0, 1, 0, 0)}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		hits, err := s.Query(ctx, []float32{0, 1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "a.jpg", hits[0].Filename)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	})

	t.Run("UpsertDimensionMismatch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		err := s.Upsert(ctx, []models.Entry{entry("a.jpg", 1, 0)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		_, err = s.Query(ctx, []float32{1, 0}, 1)
		// An empty collection may short-circuit before checking the query length.
		if err != nil {
			assert.ErrorIs(t, err, ErrDimensionMismatch)
		}
	})

	t.Run("QueryRanking", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		require.NoError(t, s.Upsert(ctx, []models.Entry{
			entry("cat.jpg", 1, 0, 0, 0),
			entry("dog.jpg", 0, 1, 0, 0),
			entry("kitten.jpg", 0.9, 0.1, 0, 0),
		}))

		hits, err := s.Query(ctx, []float32{1, 0, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "cat.jpg", hits[0].Filename)
		assert.Equal(t, "/images/cat.jpg", hits[0].Path)
		assert.Equal(t, "kitten.jpg", hits[1].Filename)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

		hits, err = s.Query(ctx, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 3)

		hits, err = s.Query(ctx, []float32{1, 0, 0, 0}, 0)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		a, b := entry("a.jpg", 1, 0, 0, 0), entry("b.jpg", 0, 1, 0, 0)
		require.NoError(t, s.Upsert(ctx, []models.Entry{a, b}))
		require.NoError(t, s.Delete(ctx, []uint64{a.ID, 12345}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		hits, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b.jpg", hits[0].Filename)
	})

	t.Run("Recreate", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		require.NoError(t, s.Upsert(ctx, []models.Entry{entry("a.jpg", 1, 0, 0, 0)}))
		require.NoError(t, s.RecreateCollection(ctx, testDim, DistanceCosine))
		exists, err := s.CollectionExists(ctx)
		require.NoError(t, err)
		assert.True(t, exists)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, s.RecreateCollection(ctx, testDim*2, DistanceCosine))
		require.NoError(t, s.Upsert(ctx, []models.Entry{entry("b.jpg", 1, 0, 0, 0, 0, 0, 0, 0)}))
		n, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ScanPagination", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, testDim, DistanceCosine))
		const total = 23
		entries := make([]models.Entry, total)
		want := make(map[string]struct{}, total)
		for i := range entries {
			name := fmt.Sprintf("img_%02d.png", i)
			entries[i] = entry(name, float32(i+1), 1, 0, 0)
			want[name] = struct{}{}
		}
		require.NoError(t, s.Upsert(ctx, entries))

		for _, pageSize := range []int{1, 5, 10, total, 100} {
			got, err := ScanFilenames(ctx, s, pageSize)
			require.NoError(t, err, "page size %d", pageSize)
			assert.Equal(t, want, got, "page size %d", pageSize)
		}

		page, next, err := s.Scan(ctx, nil, 10)
		require.NoError(t, err)
		assert.Len(t, page, 10)
		require.NotNil(t, next)
		for i := 1; i < len(page); i++ {
			assert.Less(t, page[i-1].ID, page[i].ID)
		}
		assert.Nil(t, page[0].Vector)
	})

	t.Run("ScanEmpty", func(t *testing.T) {
		s := open(t)
		names, err := ScanFilenames(ctx, s, 10)
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}
