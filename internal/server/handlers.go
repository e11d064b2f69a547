package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/imageio"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/search"
	"github.com/hyperjump/miru/internal/storage"
	"go.uber.org/zap"
)

// searchRequest is the JSON body of POST /api/v1/search.
type searchRequest struct {
	Filename string `json:"filename"`
	TopK     *int   `json:"top_k,omitempty"`
}

var errIndexBusy = errors.New("an index run is already in progress")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, embedding.ErrDecode),
		errors.Is(err, embedding.ErrUnsupportedInputKind),
		errors.Is(err, imageio.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, errIndexBusy):
		return http.StatusConflict
	case errors.Is(err, embedding.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

// parseTopK reads a top_k value, falling back to the configured default when empty.
func (s *Server) parseTopK(raw string) (int, error) {
	if raw == "" {
		return s.config.Search.DefaultTopK, nil
	}
	k, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid top_k %q", raw)
	}
	return k, nil
}

func (s *Server) uploadLimit() int64 {
	return int64(s.config.Server.UploadLimitMB) << 20
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit())
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		hits  []models.Hit
		query string
		topK  int
		err   error
	)
	if mediaType == "multipart/form-data" {
		query, topK, hits, err = s.searchMultipart(r)
	} else {
		var req searchRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Filename == "" {
			s.respondError(w, http.StatusBadRequest, "filename is required")
			return
		}
		query, topK = req.Filename, s.config.Search.DefaultTopK
		if req.TopK != nil {
			topK = *req.TopK
		}
		s.logger.Debug("search request", zap.String("filename", query), zap.Int("top_k", topK))
		hits, err = s.search.SearchByFilename(r.Context(), query, topK)
	}
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, search.NewResponse(query, s.config.Search.ClampTopK(topK), hits, started))
}

func (s *Server) searchMultipart(r *http.Request) (string, int, []models.Hit, error) {
	if err := r.ParseMultipartForm(s.uploadLimit()); err != nil {
		return "", 0, nil, badRequest(err)
	}
	topK, err := s.parseTopK(r.FormValue("top_k"))
	if err != nil {
		return "", 0, nil, badRequest(err)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", 0, nil, badRequest(errors.New("image file is required"))
	}
	defer file.Close()
	s.logger.Debug("search upload request", zap.String("filename", header.Filename), zap.Int("top_k", topK))
	hits, err := s.search.SearchUpload(r.Context(), file, topK)
	return header.Filename, topK, hits, err
}

// requestError marks client mistakes that map to 400.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err: err} }

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 1000
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	names, err := s.imageNames(r, q, limit)
	if err != nil {
		s.fail(w, "list images failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"images": names, "total": len(names)})
}

// imageNames lists the image directory, filtered by q through the catalog when
// one is configured, otherwise by case-insensitive substring.
func (s *Server) imageNames(r *http.Request, q string, limit int) ([]string, error) {
	if q != "" && s.catalog != nil {
		return s.catalog.Search(r.Context(), q, limit)
	}
	images, err := imageio.ListImages(s.search.ImagesDir(), s.config.Index.Extensions)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(images))
	lq := strings.ToLower(q)
	for _, img := range images {
		if len(names) == limit {
			break
		}
		if lq == "" || strings.Contains(strings.ToLower(img.Filename), lq) {
			names = append(names, img.Filename)
		}
	}
	return names, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.runIndex(w, r, false)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	s.runIndex(w, r, true)
}

// runIndex runs the indexer unless a run is already in progress, then brings the
// catalog in line with the image directory.
func (s *Server) runIndex(w http.ResponseWriter, r *http.Request, recreate bool) {
	if !s.indexMu.TryLock() {
		s.fail(w, "index request rejected", errIndexBusy)
		return
	}
	defer s.indexMu.Unlock()
	s.indexRunning.Store(true)
	defer s.indexRunning.Store(false)

	dir := s.search.ImagesDir()
	s.logger.Info("index run started", zap.String("dir", dir), zap.Bool("recreate", recreate))
	var (
		report *models.IndexReport
		err    error
	)
	if recreate {
		report, err = s.indexer.Reindex(r.Context(), dir)
	} else {
		report, err = s.indexer.Run(r.Context(), dir)
	}
	if err != nil {
		s.fail(w, "index run failed", err)
		return
	}
	if err := s.syncCatalog(r); err != nil {
		s.logger.Warn("catalog sync failed", zap.Error(err))
	}
	s.logger.Info("index run finished",
		zap.Int("scanned", report.Scanned), zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.Skipped), zap.Int("failed", len(report.Failed)))
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) syncCatalog(r *http.Request) error {
	if s.catalog == nil {
		return nil
	}
	images, err := imageio.ListImages(s.search.ImagesDir(), s.config.Index.Extensions)
	if err != nil {
		return err
	}
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Filename
	}
	return s.catalog.Sync(r.Context(), names)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exists, err := s.store.CollectionExists(ctx)
	if err != nil {
		s.fail(w, "status: collection check failed", err)
		return
	}
	points, err := s.store.Count(ctx)
	if err != nil {
		s.fail(w, "status: count failed", err)
		return
	}
	images, err := imageio.ListImages(s.search.ImagesDir(), s.config.Index.Extensions)
	if err != nil {
		s.fail(w, "status: list images failed", err)
		return
	}
	status := models.Status{
		Backend:          s.config.Index.Backend,
		Collection:       s.config.Index.Collection,
		CollectionExists: exists,
		Points:           points,
		ImagesOnDisk:     len(images),
		Dimensions:       s.config.Embedding.Dimensions,
		IndexRunning:     s.indexRunning.Load(),
	}
	paths := append(storage.DatabaseFiles(s.config), s.config.Storage.CatalogPath)
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		status.DiskUsageBytes = diskBytes
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail logs err and writes it as a JSON error with the mapped status.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	var reqErr *requestError
	if code == http.StatusInternalServerError && errors.As(err, &reqErr) {
		code = http.StatusBadRequest
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// serveFile streams path with content type detection; missing files are 404.
func serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
