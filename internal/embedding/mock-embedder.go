package embedding

import (
	"context"
	"math"

	"github.com/disintegration/imaging"
	"github.com/hyperjump/miru/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and model-less setups. It
// downsamples the image to a small RGB grid and uses the centred, normalized pixel
// values as the embedding, so identical pixels give identical vectors and
// visually different images score below 1.
type MockEmbedder struct {
	dimensions int
	grid       int
	cache      *EmbeddingCache
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	cells := (dimensions + 2) / 3
	grid := int(math.Ceil(math.Sqrt(float64(cells))))
	return &MockEmbedder{dimensions: dimensions, grid: grid, cache: NewEmbeddingCache(256)}
}

// Embed returns the pixel-grid embedding of in.
func (e *MockEmbedder) Embed(ctx context.Context, in Input) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, key, err := in.load()
	if err != nil {
		return nil, err
	}
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}
	small := imaging.Resize(img, e.grid, e.grid, imaging.Box)
	emb := make([]float32, e.dimensions)
	n := 0
	for y := 0; y < e.grid && n < e.dimensions; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < e.grid && n < e.dimensions; x++ {
			for c := 0; c < 3 && n < e.dimensions; c++ {
				emb[n] = float32(row[x*4+c]) / 255
				n++
			}
		}
	}
	var mean float64
	for _, v := range emb {
		mean += float64(v)
	}
	mean /= float64(len(emb))
	for i := range emb {
		emb[i] -= float32(mean)
	}
	utils.NormalizeL2(emb)
	e.cache.Set(key, emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
