package server

import (
	"archive/zip"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/imageio"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/search"
	"go.uber.org/zap"
)

//go:embed templates/index.html
var templates embed.FS

const msgNoQuery = "Please select or upload a query image."

type pageResult struct {
	Filename string
	URL      string
	Score    float64
}

type pageData struct {
	Images        []string
	Filter        string
	Selected      string
	TopK          int
	QueryImageURL string
	Results       []pageResult
	Message       string
}

func parsePage() (*template.Template, error) {
	return template.ParseFS(templates, "templates/index.html")
}

func imageURL(filename string) string {
	return "/img/" + url.PathEscape(filename)
}

func (s *Server) newPageData(r *http.Request) pageData {
	filter := strings.TrimSpace(r.URL.Query().Get("q"))
	names, err := s.imageNames(r, filter, 10000)
	if err != nil {
		s.logger.Warn("page: list images failed", zap.Error(err))
	}
	return pageData{Images: names, Filter: filter, TopK: s.config.Search.DefaultTopK}
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("page render failed", zap.Error(err))
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, s.newPageData(r))
}

// handlePageSearch runs a search from the page form: a collection image
// (db_image) wins over an uploaded file (query_img).
func (s *Server) handlePageSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit())
	data := s.newPageData(r)
	if err := r.ParseMultipartForm(s.uploadLimit()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		data.Message = "Could not read the form: " + err.Error()
		s.renderPage(w, http.StatusBadRequest, data)
		return
	}
	topK, err := s.parseTopK(r.FormValue("top_k"))
	if err != nil {
		data.Message = err.Error()
		s.renderPage(w, http.StatusBadRequest, data)
		return
	}
	data.TopK = topK

	var hits []models.Hit
	if name := r.FormValue("db_image"); name != "" {
		data.Selected = name
		data.QueryImageURL = imageURL(name)
		hits, err = s.search.SearchByFilename(r.Context(), name, topK)
	} else if file, _, ferr := r.FormFile("query_img"); ferr == nil {
		defer file.Close()
		hits, err = s.searchPageUpload(r, file, topK, &data)
	} else {
		data.Message = msgNoQuery
		s.renderPage(w, http.StatusOK, data)
		return
	}
	if err != nil {
		code := statusFor(err)
		s.logger.Debug("page search failed", zap.Error(err), zap.Int("status", code))
		data.Message = err.Error()
		s.renderPage(w, code, data)
		return
	}
	for _, h := range hits {
		data.Results = append(data.Results, pageResult{Filename: h.Filename, URL: imageURL(h.Filename), Score: h.Score})
	}
	s.renderPage(w, http.StatusOK, data)
}

// searchPageUpload decodes the upload, keeps a PNG copy for the result page,
// and searches with the decoded pixels.
func (s *Server) searchPageUpload(r *http.Request, file io.Reader, topK int, data *pageData) ([]models.Hit, error) {
	img, err := imageio.DecodeReader(file)
	if err != nil {
		return nil, err
	}
	id, err := s.uploads.Save(img)
	if err != nil {
		s.logger.Warn("failed to keep uploaded query image", zap.Error(err))
	} else {
		data.QueryImageURL = "/query/" + id
	}
	return s.search.Search(r.Context(), search.Query{Image: embedding.FromImage(img), TopK: topK})
}

// pathParam returns the decoded route parameter. chi matches against RawPath
// when the request has one, leaving its params escaped.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "filename")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	path, err := imageio.SafeJoin(s.search.ImagesDir(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	serveFile(w, r, path)
}

func (s *Server) handleQueryImage(w http.ResponseWriter, r *http.Request) {
	path, ok := s.uploads.Path(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	serveFile(w, r, path)
}

// handleDownloadSelected streams a zip of the selected images. Names that are
// invalid or no longer on disk are skipped.
func (s *Server) handleDownloadSelected(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	names := r.PostForm["selected_images"]
	if len(names) == 0 {
		http.Error(w, "No images selected.", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="selected_images.zip"`)
	zw := zip.NewWriter(w)
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if err := s.addToZip(zw, name); err != nil {
			s.logger.Debug("download: skipping image", zap.String("file", name), zap.Error(err))
		}
	}
	if err := zw.Close(); err != nil {
		s.logger.Error("download: zip close failed", zap.Error(err))
	}
}

func (s *Server) addToZip(zw *zip.Writer, name string) error {
	path, err := imageio.SafeJoin(s.search.ImagesDir(), name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}
