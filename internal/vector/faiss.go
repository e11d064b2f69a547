//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex is a vector index backed by a FAISS IndexFlatIP. Inner product equals
// cosine similarity because stored and query vectors are unit length.
// Replaced or removed vectors stay in the flat index but are unmapped and skipped.
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	idToSlot   map[uint64]int64 // point ID -> FAISS row
	slotToID   map[int64]uint64 // FAISS row -> point ID
	nextSlot   int64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	index, err := newFlatIP(dimensions)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		idToSlot:   make(map[uint64]int64),
		slotToID:   make(map[int64]uint64),
	}, nil
}

func newFlatIP(dimensions int) (*C.FaissIndexFlatIP, error) {
	var index *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return index, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add inserts or replaces vectors with the given IDs.
func (f *FAISSIndex) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}

	for _, id := range ids {
		if old, ok := f.idToSlot[id]; ok {
			delete(f.slotToID, old)
		}
		f.idToSlot[id] = f.nextSlot
		f.slotToID[f.nextSlot] = id
		f.nextSlot++
	}
	return nil
}

// Search returns the top-k live vectors by inner product.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.idToSlot) == 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	// Dead rows can outrank live ones; ask for enough rows to cover them.
	want := k + (ntotal - len(f.idToSlot))
	if want > ntotal {
		want = ntotal
	}

	distances := make([]float32, want)
	labels := make([]int64, want)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(want),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < want && len(results) < k; i++ {
		if labels[i] < 0 {
			continue
		}
		id, ok := f.slotToID[labels[i]]
		if !ok {
			continue
		}
		results = append(results, &VectorResult{ID: id, Score: float64(distances[i])})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Remove unmaps vectors by ID. FAISS IndexFlat has no cheap removal, so rows
// stay allocated until Reset.
func (f *FAISSIndex) Remove(ctx context.Context, ids []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if slot, ok := f.idToSlot[id]; ok {
			delete(f.slotToID, slot)
			delete(f.idToSlot, id)
		}
	}
	return nil
}

// Reset frees the FAISS index and starts an empty one.
func (f *FAISSIndex) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	index, err := newFlatIP(f.dimensions)
	if err != nil {
		return err
	}
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = index
	f.idToSlot = make(map[uint64]int64)
	f.slotToID = make(map[int64]uint64)
	f.nextSlot = 0
	return nil
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of live vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToSlot)
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
