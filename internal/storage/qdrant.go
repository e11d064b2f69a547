package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/miru/internal/models"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	payloadFilename = "filename"
	payloadPath     = "path"
	qdrantBatchSize = 100
)

// QdrantStore is an IndexStore backed by a Qdrant collection over gRPC.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	collection  string
	logger      *zap.Logger
}

// QdrantOption configures a QdrantStore.
type QdrantOption func(*QdrantStore)

// WithQdrantLogger sets a logger for debug output.
func WithQdrantLogger(l *zap.Logger) QdrantOption {
	return func(s *QdrantStore) { s.logger = l }
}

// NewQdrantStore connects to the Qdrant gRPC endpoint at addr (host:port).
// The connection is lazy; the first RPC surfaces connectivity errors.
func NewQdrantStore(addr, collection string, opts ...QdrantOption) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	s := &QdrantStore{
		conn:        conn,
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		collection:  collection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CollectionExists asks Qdrant whether the collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	resp, err := s.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return resp.GetResult().GetExists(), nil
}

func (s *QdrantStore) dimension(ctx context.Context) (int, error) {
	resp, err := s.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}
	size := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return int(size), nil
}

// Count returns the exact number of points.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return 0, err
	}
	resp, err := s.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Scan pages through points with the scroll API, ordered by id.
func (s *QdrantStore) Scan(ctx context.Context, offset *uint64, limit int) ([]models.Entry, *uint64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return nil, nil, err
	}
	req := &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if offset != nil {
		req.Offset = qdrant.NewIDNum(*offset)
	}
	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scroll points: %w", err)
	}
	entries := make([]models.Entry, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		entries = append(entries, models.Entry{
			ID:      p.GetId().GetNum(),
			Payload: payloadFromValues(p.GetPayload()),
		})
	}
	var next *uint64
	if np := resp.GetNextPageOffset(); np != nil {
		n := np.GetNum()
		next = &n
	}
	return entries, next, nil
}

// EnsureCollection creates a cosine collection if absent. A concurrent creator
// winning the race is not an error as long as the dimension matches.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		err := s.create(ctx, dim)
		if err == nil {
			return nil
		}
		if !isAlreadyExists(err) {
			return err
		}
		if s.logger != nil {
			s.logger.Debug("qdrant collection created concurrently", zap.String("collection", s.collection))
		}
	}
	have, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if have != dim {
		return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, s.collection, have, dim)
	}
	return nil
}

// RecreateCollection deletes the collection if present and creates it empty.
func (s *QdrantStore) RecreateCollection(ctx context.Context, dim int, distance Distance) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if s.logger != nil {
			s.logger.Debug("qdrant deleting collection", zap.String("collection", s.collection))
		}
		if _, err := s.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: s.collection}); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}
	return s.create(ctx, dim)
}

func (s *QdrantStore) create(ctx context.Context, dim int) error {
	_, err := s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("%w: %v", ErrCollectionExists, err)
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("qdrant created collection", zap.String("collection", s.collection), zap.Int("dim", dim))
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// Upsert writes entries in batches of 100 and waits for each batch to apply.
func (s *QdrantStore) Upsert(ctx context.Context, entries []models.Entry) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("upsert into %s: %w", s.collection, ErrCollectionMissing)
	}
	if len(entries) == 0 {
		return nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if err := validateEntries(entries, dim); err != nil {
		return err
	}
	batch := make([]*qdrant.PointStruct, 0, qdrantBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if s.logger != nil {
			s.logger.Debug("qdrant upserting batch", zap.Int("points", len(batch)))
		}
		_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         batch,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert points: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for _, e := range entries {
		batch = append(batch, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(e.ID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadFilename: qdrant.NewValueString(e.Payload.Filename),
				payloadPath:     qdrant.NewValueString(e.Payload.Path),
			},
		})
		if len(batch) >= qdrantBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// Delete removes points by id.
func (s *QdrantStore) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil || !exists {
		return err
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDNum(id)
	}
	_, err = s.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Query runs a nearest-neighbour search with payloads.
func (s *QdrantStore) Query(ctx context.Context, vec []float32, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		return []models.Hit{}, nil
	}
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.Hit{}, nil
	}
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == codes.InvalidArgument && strings.Contains(err.Error(), "dimension") {
			return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	hits := make([]models.Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := payloadFromValues(p.GetPayload())
		hits = append(hits, models.Hit{Filename: payload.Filename, Path: payload.Path, Score: float64(p.GetScore())})
	}
	return hits, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func payloadFromValues(v map[string]*qdrant.Value) models.Payload {
	return models.Payload{
		Filename: v[payloadFilename].GetStringValue(),
		Path:     v[payloadPath].GetStringValue(),
	}
}
