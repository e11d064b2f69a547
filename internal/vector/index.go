// Package vector provides the in-process nearest-neighbour index used by the
// embedded store.
package vector

import "context"

// VectorIndex defines vector storage and similarity search keyed by point ID.
// Add replaces the vector of an ID that is already present.
type VectorIndex interface {
	Add(ctx context.Context, ids []uint64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []uint64) error
	Reset() error
	Dimensions() int
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    uint64
	Score float64 // cosine similarity
}
