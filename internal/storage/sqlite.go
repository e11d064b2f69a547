package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/vector"
	"go.uber.org/zap"
)

// SQLiteStore keeps points in a SQLite file and serves queries from an
// in-process vector index rebuilt from the table on open.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	indexType  string
	logger     *zap.Logger

	mu       sync.RWMutex
	dim      int // 0 when the collection does not exist
	index    vector.VectorIndex
	payloads map[uint64]models.Payload
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithVectorIndex selects the in-process index type ("memory" or "faiss").
func WithVectorIndex(indexType string) SQLiteOption {
	return func(s *SQLiteStore) { s.indexType = indexType }
}

// WithSQLiteLogger sets a logger for debug output.
func WithSQLiteLogger(l *zap.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and loads the named
// collection into memory. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath, collection string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDriver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		collection: collection,
		indexType:  string(vector.IndexTypeMemory),
		payloads:   make(map[uint64]models.Payload),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		distance TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS points (
		collection TEXT NOT NULL,
		id INTEGER NOT NULL,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		vector BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_points_filename ON points(collection, filename);
	`
	_, err := db.Exec(schema)
	return err
}

// load reads the collection row and every point into the in-memory index.
func (s *SQLiteStore) load(ctx context.Context) error {
	dim, err := s.readDimension(ctx)
	if err != nil {
		return err
	}
	if dim == 0 {
		return nil
	}
	if err := s.resetIndex(dim); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, path, vector FROM points WHERE collection = ?`, s.collection)
	if err != nil {
		return fmt.Errorf("failed to load points: %w", err)
	}
	defer rows.Close()

	const batch = 512
	ids := make([]uint64, 0, batch)
	vecs := make([][]float32, 0, batch)
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		if err := s.index.Add(ctx, ids, vecs); err != nil {
			return fmt.Errorf("failed to index points: %w", err)
		}
		ids, vecs = ids[:0], vecs[:0]
		return nil
	}
	for rows.Next() {
		var id int64
		var p models.Payload
		var blob []byte
		if err := rows.Scan(&id, &p.Filename, &p.Path, &blob); err != nil {
			return fmt.Errorf("failed to scan point: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("point %d: %w", id, err)
		}
		if len(vec) != dim {
			if s.logger != nil {
				s.logger.Warn("sqlite store skipping point with wrong dimension", zap.Int64("id", id), zap.Int("dim", len(vec)))
			}
			continue
		}
		ids = append(ids, uint64(id))
		vecs = append(vecs, vec)
		s.payloads[uint64(id)] = p
		if len(ids) == batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("sqlite store loaded collection",
			zap.String("collection", s.collection), zap.Int("points", s.index.Size()), zap.Int("dim", dim))
	}
	return nil
}

func (s *SQLiteStore) readDimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name = ?`, s.collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read collection: %w", err)
	}
	return dim, nil
}

// resetIndex replaces the in-memory index with an empty one of dimension dim.
// Caller holds s.mu for writing (or is the constructor).
func (s *SQLiteStore) resetIndex(dim int) error {
	if s.index != nil && s.index.Dimensions() == dim {
		if err := s.index.Reset(); err != nil {
			return err
		}
	} else {
		if s.index != nil {
			_ = s.index.Close()
		}
		idx, err := vector.NewVectorIndex(s.indexType, dim)
		if err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
		s.index = idx
	}
	s.dim = dim
	s.payloads = make(map[uint64]models.Payload)
	return nil
}

// Count returns the number of points in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim == 0 {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE collection = ?`, s.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return n, nil
}

// Scan returns a page of entries ordered by id.
func (s *SQLiteStore) Scan(ctx context.Context, offset *uint64, limit int) ([]models.Entry, *uint64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim == 0 {
		return nil, nil, nil
	}
	var start int64
	if offset != nil {
		if *offset > math.MaxInt64 {
			return nil, nil, nil
		}
		start = int64(*offset)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, path FROM points
		 WHERE collection = ? AND id >= ?
		 ORDER BY id LIMIT ?`, s.collection, start, limit+1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan points: %w", err)
	}
	defer rows.Close()

	entries := make([]models.Entry, 0, limit)
	var next *uint64
	for rows.Next() {
		var id int64
		var e models.Entry
		if err := rows.Scan(&id, &e.Payload.Filename, &e.Payload.Path); err != nil {
			return nil, nil, fmt.Errorf("failed to scan point: %w", err)
		}
		e.ID = uint64(id)
		if len(entries) == limit {
			n := e.ID
			next = &n
			break
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return entries, next, nil
}

// CollectionExists reports whether the collection row exists.
func (s *SQLiteStore) CollectionExists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim > 0, nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 {
		if s.dim != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, s.collection, s.dim, dim)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, distance, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		s.collection, dim, string(distance), time.Now())
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	// Another process may have created it first with a different dimension.
	stored, err := s.readDimension(ctx)
	if err != nil {
		return err
	}
	if stored != dim {
		return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, s.collection, stored, dim)
	}
	if err := s.resetIndex(dim); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("sqlite store created collection", zap.String("collection", s.collection), zap.Int("dim", dim))
	}
	return nil
}

// RecreateCollection deletes all points and recreates the collection.
func (s *SQLiteStore) RecreateCollection(ctx context.Context, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, distance, created_at) VALUES (?, ?, ?, ?)`,
		s.collection, dim, string(distance), time.Now()); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("sqlite store recreated collection", zap.String("collection", s.collection), zap.Int("dim", dim))
	}
	return s.resetIndex(dim)
}

// Upsert inserts or replaces entries in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		return fmt.Errorf("upsert into %s: %w", s.collection, ErrCollectionMissing)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(entries, s.dim); err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID > math.MaxInt64 {
			return fmt.Errorf("point id %d does not fit a signed 64-bit column", e.ID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (collection, id, filename, path, vector, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
			filename = excluded.filename,
			path = excluded.path,
			vector = excluded.vector,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := time.Now()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, s.collection, int64(e.ID), e.Payload.Filename, e.Payload.Path, encodeVector(e.Vector), now); err != nil {
			return fmt.Errorf("failed to upsert point %d: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	ids := make([]uint64, len(entries))
	vecs := make([][]float32, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		vecs[i] = e.Vector
		s.payloads[e.ID] = e.Payload
	}
	return s.index.Add(ctx, ids, vecs)
}

// Delete removes points by id.
func (s *SQLiteStore) Delete(ctx context.Context, ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 || len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if id > math.MaxInt64 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ? AND id = ?`, s.collection, int64(id)); err != nil {
			return fmt.Errorf("failed to delete point %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.payloads, id)
	}
	return s.index.Remove(ctx, ids)
}

// Query returns the nearest points by cosine similarity.
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		return []models.Hit{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim == 0 || s.index.Size() == 0 {
		return []models.Hit{}, nil
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	results, err := s.index.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		p, ok := s.payloads[r.ID]
		if !ok {
			continue
		}
		hits = append(hits, models.Hit{Filename: p.Filename, Path: p.Path, Score: r.Score})
	}
	return hits, nil
}

// Close releases the index and database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		_ = s.index.Close()
		s.index = nil
	}
	s.dim = 0
	return s.db.Close()
}
