package embedding

import (
	"fmt"
	"strings"

	"github.com/hyperjump/miru/internal/config"
)

// New builds the embedder selected by cfg.Provider ("onnx" or "mock").
func New(cfg *config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "onnx":
		e, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:      cfg.ModelPath,
			LibraryPath:    cfg.LibraryPath,
			Dimensions:     cfg.Dimensions,
			ImageSize:      cfg.ImageSize,
			ResizeShortest: cfg.ResizeShortest,
			PatchSize:      cfg.PatchSize,
			CacheSize:      cfg.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
