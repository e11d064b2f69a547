// Package storage wraps the vector databases that hold image embeddings.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/miru/internal/models"
)

// Distance is the similarity metric a collection is created with.
type Distance string

// DistanceCosine ranks points by cosine similarity.
const DistanceCosine Distance = "cosine"

// DefaultPageSize is the scan page size used when a caller passes limit <= 0.
const DefaultPageSize = 1000

var (
	// ErrCollectionMissing is returned by writes against a collection that was never created.
	ErrCollectionMissing = errors.New("collection does not exist")
	// ErrCollectionExists reports a create that lost a race with another creator.
	// EnsureCollection treats it as success.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrDimensionMismatch is returned when a vector or collection has the wrong dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// IndexStore is a single named collection of points in a vector database.
type IndexStore interface {
	// Count returns the number of stored points; a missing collection counts as 0.
	Count(ctx context.Context) (int, error)
	// Scan returns up to limit entries with id >= *offset (or from the start when offset
	// is nil) in ascending id order, without vectors. next is nil on the last page.
	Scan(ctx context.Context, offset *uint64, limit int) (entries []models.Entry, next *uint64, err error)
	CollectionExists(ctx context.Context) (bool, error)
	// EnsureCollection creates the collection if absent and never deletes data.
	EnsureCollection(ctx context.Context, dim int, distance Distance) error
	// RecreateCollection drops every point and recreates the collection empty.
	RecreateCollection(ctx context.Context, dim int, distance Distance) error
	// Upsert inserts or replaces entries by id.
	Upsert(ctx context.Context, entries []models.Entry) error
	// Delete removes points by id; unknown ids are ignored.
	Delete(ctx context.Context, ids []uint64) error
	// Query returns up to limit points nearest to vector, best first.
	Query(ctx context.Context, vector []float32, limit int) ([]models.Hit, error)
	Close() error
}

// ScanFilenames pages through the whole collection and returns the set of
// payload filenames. Paging follows next offsets until exhausted.
func ScanFilenames(ctx context.Context, s IndexStore, pageSize int) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	var offset *uint64
	for {
		entries, next, err := s.Scan(ctx, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		for _, e := range entries {
			names[e.Payload.Filename] = struct{}{}
		}
		if next == nil || len(entries) == 0 {
			return names, nil
		}
		offset = next
	}
}

func validateEntries(entries []models.Entry, dim int) error {
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: %s has %d, collection has %d", ErrDimensionMismatch, e.Payload.Filename, len(e.Vector), dim)
		}
	}
	return nil
}
