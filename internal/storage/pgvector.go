package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/miru/internal/models"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]`)

// PGVectorStore is an IndexStore backed by a PostgreSQL table with a pgvector column.
// Each collection gets its own table; miru_collections records the dimension.
type PGVectorStore struct {
	db         *sql.DB
	collection string
	table      string
	logger     *zap.Logger
}

// PGVectorOption configures a PGVectorStore.
type PGVectorOption func(*PGVectorStore)

// WithPGVectorLogger sets a logger for debug output.
func WithPGVectorLogger(l *zap.Logger) PGVectorOption {
	return func(s *PGVectorStore) { s.logger = l }
}

// NewPGVectorStore opens a connection pool for dsn and prepares the registry table.
func NewPGVectorStore(ctx context.Context, dsn, collection string, opts ...PGVectorOption) (*PGVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &PGVectorStore{
		db:         db,
		collection: collection,
		table:      pgTableName(collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS miru_collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		distance TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// pgTableName maps a collection name to a safe table identifier.
func pgTableName(collection string) string {
	return "miru_points_" + unsafeIdent.ReplaceAllString(strings.ToLower(collection), "_")
}

func (s *PGVectorStore) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension FROM miru_collections WHERE name = $1`, s.collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read collection: %w", err)
	}
	return dim, nil
}

// CollectionExists reports whether the collection is registered.
func (s *PGVectorStore) CollectionExists(ctx context.Context) (bool, error) {
	dim, err := s.dimension(ctx)
	return dim > 0, err
}

// Count returns the number of rows in the collection table.
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return n, nil
}

// Scan returns a page of entries ordered by id.
func (s *PGVectorStore) Scan(ctx context.Context, offset *uint64, limit int) ([]models.Entry, *uint64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return nil, nil, err
	}
	var start int64
	if offset != nil {
		if *offset > math.MaxInt64 {
			return nil, nil, nil
		}
		start = int64(*offset)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, path FROM `+s.table+` WHERE id >= $1 ORDER BY id LIMIT $2`, start, limit+1)
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

// EnsureCollection registers the collection and creates its table if absent.
func (s *PGVectorStore) EnsureCollection(ctx context.Context, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO miru_collections (name, dimension, distance, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO NOTHING`, s.collection, dim, string(distance), time.Now())
	if err != nil {
		return fmt.Errorf("failed to register collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		have, err := s.dimension(ctx)
		if err != nil {
			return err
		}
		if have != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, s.collection, have, dim)
		}
	}
	return s.createTable(ctx, dim)
}

func (s *PGVectorStore) createTable(ctx context.Context, dim int) error {
	stmt := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table, dim)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create collection table: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("pgvector collection ready", zap.String("table", s.table), zap.Int("dim", dim))
	}
	return nil
}

// RecreateCollection drops the table and registry row, then creates both again.
func (s *PGVectorStore) RecreateCollection(ctx context.Context, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+s.table); err != nil {
		return fmt.Errorf("failed to drop collection table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM miru_collections WHERE name = $1`, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.EnsureCollection(ctx, dim, distance)
}

// Upsert inserts or replaces entries in one transaction.
func (s *PGVectorStore) Upsert(ctx context.Context, entries []models.Entry) error {
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if dim == 0 {
		return fmt.Errorf("upsert into %s: %w", s.collection, ErrCollectionMissing)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(entries, dim); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+s.table+` (id, filename, path, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			path = EXCLUDED.path,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := time.Now()
	for _, e := range entries {
		if e.ID > math.MaxInt64 {
			return fmt.Errorf("point id %d does not fit a signed 64-bit column", e.ID)
		}
		if _, err := stmt.ExecContext(ctx, int64(e.ID), e.Payload.Filename, e.Payload.Path, pgvector.NewVector(e.Vector), now); err != nil {
			return fmt.Errorf("failed to upsert point %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes points by id.
func (s *PGVectorStore) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return err
	}
	signed := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= math.MaxInt64 {
			signed = append(signed, int64(id))
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id = ANY($1)`, pq.Array(signed)); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Query orders rows by cosine distance; score is 1 - distance.
func (s *PGVectorStore) Query(ctx context.Context, vec []float32, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		return []models.Hit{}, nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []models.Hit{}, nil
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(vec), dim)
	}
	query := `
		SELECT filename, path, 1 - (embedding <=> $1) AS score
		FROM ` + s.table + `
		ORDER BY embedding <=> $1, id
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	defer rows.Close()
	hits := []models.Hit{}
	for rows.Next() {
		var h models.Hit
		var score sql.NullFloat64
		if err := rows.Scan(&h.Filename, &h.Path, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		// Zero vectors have an undefined cosine distance (NaN/NULL).
		if score.Valid && !math.IsNaN(score.Float64) {
			h.Score = score.Float64
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// Close closes the connection pool.
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}
