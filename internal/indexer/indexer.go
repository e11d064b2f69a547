// Package indexer embeds the images of a directory into the index store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/fileid"
	"github.com/hyperjump/miru/internal/imageio"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Indexer embeds images and upserts them into an index store. Runs, single-file
// updates and removals are serialized.
type Indexer struct {
	store      storage.IndexStore
	embedder   embedding.Embedder
	workers    int
	pageSize   int
	extensions []string
	logger     *zap.Logger // optional; when set, logs debug events

	mu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, file skipped, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithWorkers sets how many images are decoded and embedded concurrently.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithExtensions restricts indexing to files with these extensions. An empty
// list keeps config.DefaultExtensions.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) {
		if len(exts) > 0 {
			idx.extensions = exts
		}
	}
}

// WithPageSize sets the page size used to scan existing entries.
func WithPageSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.pageSize = n
		}
	}
}

// NewIndexer creates an indexer writing to store with embeddings from embedder.
func NewIndexer(store storage.IndexStore, embedder embedding.Embedder, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:      store,
		embedder:   embedder,
		workers:    1,
		pageSize:   storage.DefaultPageSize,
		extensions: config.DefaultExtensions,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Run indexes every image directly inside dir whose filename is not already in
// the store. Files that fail to decode or embed are logged, recorded in the
// report and skipped. The collection is only touched when there is something new.
func (idx *Indexer) Run(ctx context.Context, dir string) (*models.IndexReport, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.run(ctx, dir)
}

// Reindex drops the collection, recreates it with the embedder's dimension and
// indexes dir from scratch.
func (idx *Indexer) Reindex(ctx context.Context, dir string) (*models.IndexReport, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.store.RecreateCollection(ctx, idx.embedder.Dimensions(), storage.DistanceCosine); err != nil {
		return nil, fmt.Errorf("recreate collection: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer recreated collection", zap.Int("dim", idx.embedder.Dimensions()))
	}
	return idx.run(ctx, dir)
}

func (idx *Indexer) run(ctx context.Context, dir string) (*models.IndexReport, error) {
	images, err := imageio.ListImages(dir, idx.extensions)
	if err != nil {
		return nil, err
	}
	existing, err := storage.ScanFilenames(ctx, idx.store, idx.pageSize)
	if err != nil {
		return nil, err
	}
	report := &models.IndexReport{Scanned: len(images)}
	var pending []models.ImageRecord
	for _, img := range images {
		if _, ok := existing[img.Filename]; ok {
			report.Skipped++
			continue
		}
		pending = append(pending, img)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer scanned directory",
			zap.String("dir", dir), zap.Int("images", len(images)), zap.Int("new", len(pending)))
	}
	if len(pending) == 0 {
		return report, nil
	}

	entries, failed, err := idx.embedAll(ctx, pending)
	if err != nil {
		return nil, err
	}
	report.Failed = failed
	if len(entries) == 0 {
		return report, nil
	}
	if err := idx.store.EnsureCollection(ctx, len(entries[0].Vector), storage.DistanceCosine); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	if err := idx.store.Upsert(ctx, entries); err != nil {
		return nil, fmt.Errorf("upsert entries: %w", err)
	}
	report.Indexed = len(entries)
	return report, nil
}

// embedAll embeds pending images with at most idx.workers in flight. Entries keep
// the order of pending. A missing model or a cancelled context aborts the batch.
func (idx *Indexer) embedAll(ctx context.Context, pending []models.ImageRecord) ([]models.Entry, []models.FileError, error) {
	vecs := make([][]float32, len(pending))
	errs := make([]error, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, img := range pending {
		g.Go(func() error {
			vec, err := idx.embedder.Embed(gctx, embedding.FromPath(img.Path))
			if err != nil {
				if errors.Is(err, embedding.ErrModelUnavailable) || gctx.Err() != nil {
					return err
				}
				errs[i] = err
				return nil
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("embed images: %w", err)
	}

	entries := make([]models.Entry, 0, len(pending))
	var failed []models.FileError
	for i, img := range pending {
		if errs[i] != nil {
			if idx.logger != nil {
				idx.logger.Warn("indexer skipping image", zap.String("file", img.Filename), zap.Error(errs[i]))
			}
			failed = append(failed, models.FileError{Filename: img.Filename, Error: errs[i].Error()})
			continue
		}
		entries = append(entries, newEntry(img, vecs[i]))
		if idx.logger != nil {
			idx.logger.Debug("indexer embedded image", zap.String("file", img.Filename))
		}
	}
	return entries, failed, nil
}

func newEntry(img models.ImageRecord, vec []float32) models.Entry {
	return models.Entry{
		ID:      fileid.PointID(img.Filename),
		Vector:  vec,
		Payload: models.Payload{Filename: img.Filename, Path: img.Path},
	}
}

// IndexFile embeds a single image and upserts it, replacing any entry with the
// same filename. Used by the watcher when a file is created or rewritten.
func (idx *Indexer) IndexFile(ctx context.Context, path string) error {
	if idx.logger != nil {
		idx.logger.Debug("indexer indexing file", zap.String("path", path))
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	name := filepath.Base(absPath)
	if !imageio.ExtensionAllowed(name, idx.extensions) {
		return fmt.Errorf("extension %q not in allowed list", filepath.Ext(name))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	vec, err := idx.embedder.Embed(ctx, embedding.FromPath(absPath))
	if err != nil {
		return fmt.Errorf("embed %s: %w", name, err)
	}
	if err := idx.store.EnsureCollection(ctx, len(vec), storage.DistanceCosine); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	entry := newEntry(models.ImageRecord{Filename: name, Path: absPath}, vec)
	if err := idx.store.Upsert(ctx, []models.Entry{entry}); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer file indexed", zap.String("path", absPath), zap.Uint64("id", entry.ID))
	}
	return nil
}

// RemoveFile deletes the entry for the file's base name, if any.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	name := filepath.Base(path)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.store.Delete(ctx, []uint64{fileid.PointID(name)}); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer file removed", zap.String("file", name))
	}
	return nil
}
