// Package server provides the miru web page and JSON API.
package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/miru/internal/catalog"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/indexer"
	"github.com/hyperjump/miru/internal/search"
	"github.com/hyperjump/miru/internal/storage"
	"github.com/hyperjump/miru/pkg/utils"
	"go.uber.org/zap"
)

// Server is the HTTP server for the miru page and API.
type Server struct {
	search  *search.Service
	indexer *indexer.Indexer
	store   storage.IndexStore
	catalog *catalog.Catalog // optional
	config  *config.Config
	logger  *zap.Logger
	limiter *RateLimiter
	uploads *uploadStore
	page    *template.Template
	server  *http.Server

	indexMu      sync.Mutex
	indexRunning atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog enables filename search for the image picker and /api/v1/images.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// NewServer creates a server with the given dependencies. The uploads directory
// is created if missing.
func NewServer(
	svc *search.Service,
	idx *indexer.Indexer,
	store storage.IndexStore,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) (*Server, error) {
	uploads, err := newUploadStore(cfg.Storage.UploadsDir)
	if err != nil {
		return nil, err
	}
	page, err := parsePage()
	if err != nil {
		return nil, err
	}
	s := &Server{
		search:  svc,
		indexer: idx,
		store:   store,
		config:  cfg,
		logger:  utils.NopIfNil(logger),
		limiter: NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		uploads: uploads,
		page:    page,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/img/{filename}", s.handleImage)
	r.Get("/query/{id}", s.handleQueryImage)
	r.Get("/", s.handlePage)
	r.Post("/download_selected", s.handleDownloadSelected)

	r.With(s.limiter.Middleware).Post("/", s.handlePageSearch)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.limiter.Middleware).Post("/search", s.handleSearch)
		r.With(middleware.Timeout(60*time.Second)).Get("/images", s.handleListImages)
		r.With(middleware.Timeout(60*time.Second)).Get("/status", s.handleStatus)
		// Index runs can take far longer than a request timeout.
		r.Post("/index", s.handleIndex)
		r.Post("/reindex", s.handleReindex)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and removes uploaded query images.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if cerr := s.uploads.Cleanup(); cerr != nil {
		s.logger.Warn("failed to remove uploads", zap.Error(cerr))
	}
	return err
}
