// Package search answers nearest-image queries against the index store.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/imageio"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/storage"
	"go.uber.org/zap"
)

// ErrFileNotFound is returned when a query names an image that is not in the image directory.
var ErrFileNotFound = errors.New("image not found")

// Query is a single similarity search.
type Query struct {
	Image embedding.Input
	TopK  int
}

// Service embeds query images and looks up their nearest neighbours.
type Service struct {
	store     storage.IndexStore
	embedder  embedding.Embedder
	imagesDir string
	config    *config.SearchConfig
	logger    *zap.Logger // optional; when set, logs debug events
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a search service. Hits are only returned for files that
// still exist on disk. imagesDir resolves query filenames and hits stored
// without a path.
func NewService(
	store storage.IndexStore,
	embedder embedding.Embedder,
	imagesDir string,
	cfg *config.SearchConfig,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:     store,
		embedder:  embedder,
		imagesDir: imagesDir,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImagesDir returns the directory hits are resolved against.
func (s *Service) ImagesDir() string {
	return s.imagesDir
}

// Search returns up to q.TopK hits in descending score order. TopK <= 0 returns
// an empty result without embedding the query.
func (s *Service) Search(ctx context.Context, q Query) ([]models.Hit, error) {
	topK := s.config.ClampTopK(q.TopK)
	if topK == 0 {
		return []models.Hit{}, nil
	}
	vec, err := s.embedder.Embed(ctx, q.Image)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.Query(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	kept := hits[:0]
	for _, h := range hits {
		if !s.fileExists(h) {
			if s.logger != nil {
				s.logger.Debug("search dropping hit for missing file", zap.String("file", h.Filename))
			}
			continue
		}
		kept = append(kept, h)
	}
	if s.logger != nil {
		s.logger.Debug("search completed", zap.Int("top_k", topK), zap.Int("hits", len(kept)))
	}
	return kept, nil
}

// fileExists reports whether the file a hit refers to is still on disk.
func (s *Service) fileExists(h models.Hit) bool {
	if h.Path != "" {
		return imageio.IsRegularFile(h.Path)
	}
	return imageio.Exists(s.imagesDir, h.Filename)
}

// SearchByFilename searches with an image already in the image directory.
func (s *Service) SearchByFilename(ctx context.Context, filename string, topK int) ([]models.Hit, error) {
	path, err := imageio.SafeJoin(s.imagesDir, filename)
	if err != nil || !imageio.Exists(s.imagesDir, filename) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	return s.Search(ctx, Query{Image: embedding.FromPath(path), TopK: topK})
}

// SearchUpload decodes an uploaded image and searches with it.
func (s *Service) SearchUpload(ctx context.Context, r io.Reader, topK int) ([]models.Hit, error) {
	img, err := imageio.DecodeReader(r)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, Query{Image: embedding.FromImage(img), TopK: topK})
}
