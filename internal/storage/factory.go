package storage

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hyperjump/miru/internal/config"
	"go.uber.org/zap"
)

// Backend names accepted in index.backend.
const (
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// Open connects to the backend selected by cfg.Index.Backend. logger may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (IndexStore, error) {
	idx := cfg.Index
	switch idx.Backend {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.Storage.DatabasePath, idx.Collection,
			WithVectorIndex(idx.VectorIndex), WithSQLiteLogger(logger))
	case BackendQdrant:
		addr := net.JoinHostPort(idx.Qdrant.Host, strconv.Itoa(idx.Qdrant.Port))
		return NewQdrantStore(addr, idx.Collection, WithQdrantLogger(logger))
	case BackendPGVector:
		if idx.Postgres.DSN == "" {
			return nil, fmt.Errorf("index.postgres.dsn is required for the pgvector backend")
		}
		return NewPGVectorStore(ctx, idx.Postgres.DSN, idx.Collection, WithPGVectorLogger(logger))
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: sqlite, qdrant, pgvector)", idx.Backend)
	}
}

// DatabaseFiles returns local files the backend keeps on disk, for disk usage reporting.
func DatabaseFiles(cfg *config.Config) []string {
	if cfg.Index.Backend == BackendSQLite || cfg.Index.Backend == "" {
		return SQLiteFiles(cfg.Storage.DatabasePath)
	}
	return nil
}
