// Package integration runs the index-then-search flow against every available
// store backend. Remote backends are skipped unless MIRU_QDRANT_ADDR or
// MIRU_PG_DSN is set.
package integration

import (
	"context"
	"fmt"
	"image/color"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/indexer"
	"github.com/hyperjump/miru/internal/search"
	"github.com/hyperjump/miru/internal/storage"
	"github.com/hyperjump/miru/internal/testutil"
	"github.com/hyperjump/miru/internal/vector"
)

func backends(t *testing.T) map[string]func(cfg *config.Config) {
	t.Helper()
	out := map[string]func(cfg *config.Config){
		"sqlite-memory": func(cfg *config.Config) {
			cfg.Index.Backend = storage.BackendSQLite
			cfg.Index.VectorIndex = "memory"
		},
	}
	if vector.IsFAISSAvailable() {
		out["sqlite-faiss"] = func(cfg *config.Config) {
			cfg.Index.Backend = storage.BackendSQLite
			cfg.Index.VectorIndex = "faiss"
		}
	}
	if addr := os.Getenv("MIRU_QDRANT_ADDR"); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			t.Fatalf("MIRU_QDRANT_ADDR: %v", err)
		}
		port, _ := strconv.Atoi(portStr)
		out["qdrant"] = func(cfg *config.Config) {
			cfg.Index.Backend = storage.BackendQdrant
			cfg.Index.Qdrant = config.QdrantConfig{Host: host, Port: port}
		}
	}
	if dsn := os.Getenv("MIRU_PG_DSN"); dsn != "" {
		out["pgvector"] = func(cfg *config.Config) {
			cfg.Index.Backend = storage.BackendPGVector
			cfg.Index.Postgres.DSN = dsn
		}
	}
	return out
}

func TestIntegration_CatDog(t *testing.T) {
	for name, configure := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.Storage.ImagesDir = filepath.Join(dir, "images")
			cfg.Storage.DatabasePath = filepath.Join(dir, "data", "vectors.db")
			cfg.Index.Collection = fmt.Sprintf("miru_it_%d", time.Now().UnixNano())
			configure(cfg)
			if err := os.MkdirAll(cfg.Storage.ImagesDir, 0755); err != nil {
				t.Fatal(err)
			}
			testutil.WritePattern(t, cfg.Storage.ImagesDir, "cat.jpg", testutil.Solid, color.RGBA{R: 230, G: 120, B: 30, A: 255})
			testutil.WritePattern(t, cfg.Storage.ImagesDir, "dog.jpg", testutil.Gradient, color.RGBA{R: 40, G: 90, B: 200, A: 255})

			ctx := context.Background()
			store, err := storage.Open(ctx, cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer store.Close()
			embedder := embedding.NewMockEmbedder(64)
			idx := indexer.NewIndexer(store, embedder, indexer.WithExtensions(cfg.Index.Extensions))
			svc := search.NewService(store, embedder, cfg.Storage.ImagesDir, &cfg.Search)

			// Start from an empty collection even if a previous run left one behind.
			report, err := idx.Reindex(ctx, cfg.Storage.ImagesDir)
			if err != nil {
				t.Fatal(err)
			}
			if report.Indexed != 2 {
				t.Fatalf("reindex report = %+v", report)
			}
			report, err = idx.Run(ctx, cfg.Storage.ImagesDir)
			if err != nil {
				t.Fatal(err)
			}
			if report.Indexed != 0 || report.Skipped != 2 {
				t.Errorf("second run report = %+v", report)
			}

			hits, err := svc.SearchByFilename(ctx, "cat.jpg", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(hits) != 2 || hits[0].Filename != "cat.jpg" || hits[1].Filename != "dog.jpg" {
				t.Fatalf("hits = %+v", hits)
			}
			if hits[0].Score < 0.999 || hits[1].Score >= hits[0].Score {
				t.Errorf("unexpected scores: %+v", hits)
			}

			if err := idx.RemoveFile(ctx, filepath.Join(cfg.Storage.ImagesDir, "dog.jpg")); err != nil {
				t.Fatal(err)
			}
			if n, _ := store.Count(ctx); n != 1 {
				t.Errorf("count after remove = %d, want 1", n)
			}
		})
	}
}
