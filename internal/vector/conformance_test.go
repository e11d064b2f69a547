package vector

import (
	"context"
	"testing"
)

// runIndexTests exercises the VectorIndex contract against any implementation.
func runIndexTests(t *testing.T, newIndex func(dim int) (VectorIndex, error)) {
	ctx := context.Background()

	t.Run("AddSearch", func(t *testing.T) {
		idx, err := newIndex(3)
		if err != nil {
			t.Fatal(err)
		}
		defer idx.Close()
		vecs := [][]float32{{1, 0, 0}, {0.8, 0.6, 0}, {0, 1, 0}}
		if err := idx.Add(ctx, []uint64{1, 2, 3}, vecs); err != nil {
			t.Fatal(err)
		}
		if idx.Size() != 3 {
			t.Errorf("Size=%d, want 3", idx.Size())
		}
		results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if results[0].ID != 1 || results[1].ID != 2 {
			t.Errorf("unexpected order: %d, %d", results[0].ID, results[1].ID)
		}
		if results[0].Score < 0.999 || results[1].Score > 0.81 || results[1].Score < 0.79 {
			t.Errorf("unexpected scores: %f, %f", results[0].Score, results[1].Score)
		}
	})

	t.Run("AddReplaces", func(t *testing.T) {
		idx, err := newIndex(2)
		if err != nil {
			t.Fatal(err)
		}
		defer idx.Close()
		_ = idx.Add(ctx, []uint64{7}, [][]float32{{1, 0}})
		if err := idx.Add(ctx, []uint64{7}, [][]float32{{0, 1}}); err != nil {
			t.Fatal(err)
		}
		if idx.Size() != 1 {
			t.Errorf("Size=%d after replace, want 1", idx.Size())
		}
		results, _ := idx.Search(ctx, []float32{0, 1}, 5)
		if len(results) != 1 || results[0].ID != 7 || results[0].Score < 0.999 {
			t.Errorf("replace not applied: %+v", results)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		idx, err := newIndex(2)
		if err != nil {
			t.Fatal(err)
		}
		defer idx.Close()
		_ = idx.Add(ctx, []uint64{10, 20, 30}, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}})
		if err := idx.Remove(ctx, []uint64{10, 99}); err != nil {
			t.Fatal(err)
		}
		if idx.Size() != 2 {
			t.Errorf("expected size 2, got %d", idx.Size())
		}
		results, _ := idx.Search(ctx, []float32{1, 0}, 10)
		for _, r := range results {
			if r.ID == 10 {
				t.Error("removed id should not appear in results")
			}
		}
		if len(results) != 2 {
			t.Errorf("expected 2 results, got %d", len(results))
		}
	})

	t.Run("SearchEmptyAndZeroK", func(t *testing.T) {
		idx, err := newIndex(3)
		if err != nil {
			t.Fatal(err)
		}
		defer idx.Close()
		results, err := idx.Search(ctx, []float32{1, 0, 0}, 10)
		if err != nil || len(results) != 0 {
			t.Errorf("empty index: got %v, %v", results, err)
		}
		_ = idx.Add(ctx, []uint64{1}, [][]float32{{1, 0, 0}})
		results, err = idx.Search(ctx, []float32{1, 0, 0}, 0)
		if err != nil || len(results) != 0 {
			t.Errorf("k=0: got %v, %v", results, err)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		idx, err := newIndex(3)
		if err != nil {
			t.Fatal(err)
		}
		defer idx.Close()
		if err := idx.Add(ctx, []uint64{1}, [][]float32{{1, 0}}); err == nil {
			t.Error("expected error for dimension mismatch on Add")
		}
		if _, err := idx.Search(ctx, []float32{1, 0}, 1); err == nil {
			t.Error("expected error for dimension mismatch on Search")
		}
		if err := idx.Add(ctx, []uint64{1, 2}, [][]float32{{1, 0, 0}}); err == nil {
			t.Error("expected error for ids/vectors length mismatch")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		idx, err := newIndex(2)
		if err != nil {
			t.Fatal(err)
		}
		defer idx.Close()
		_ = idx.Add(ctx, []uint64{1, 2}, [][]float32{{1, 0}, {0, 1}})
		if err := idx.Reset(); err != nil {
			t.Fatal(err)
		}
		if idx.Size() != 0 {
			t.Errorf("Size=%d after Reset", idx.Size())
		}
		if idx.Dimensions() != 2 {
			t.Errorf("Dimensions=%d after Reset", idx.Dimensions())
		}
		_ = idx.Add(ctx, []uint64{3}, [][]float32{{1, 0}})
		results, _ := idx.Search(ctx, []float32{1, 0}, 5)
		if len(results) != 1 || results[0].ID != 3 {
			t.Errorf("after Reset+Add: %+v", results)
		}
	})
}
