// Package main is the miru CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/miru/internal/catalog"
	"github.com/hyperjump/miru/internal/cli"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/imageio"
	"github.com/hyperjump/miru/internal/indexer"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/search"
	"github.com/hyperjump/miru/internal/server"
	"github.com/hyperjump/miru/internal/storage"
	"github.com/hyperjump/miru/internal/watcher"
	"github.com/hyperjump/miru/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/miru/config.yaml"

// loadConfig loads config from path. When path is the default and ./config.yaml
// exists, that file is used instead so the binary works from a project checkout.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "index":
		runIndex(false)
	case "reindex":
		runIndex(true)
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("miru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func mustLoad(path string, debugFlag bool) (*config.Config, *zap.Logger, bool) {
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	return cfg, logger, debugMode
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := mustLoad(*configPath, *debug)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	cat, err := catalog.Open(cfg.Storage.CatalogPath, catalog.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to open catalog", zap.Error(err))
	}
	defer cat.Close()
	if err := syncCatalog(ctx, cat, cfg); err != nil {
		logger.Warn("catalog sync failed", zap.Error(err))
	}

	if cfg.Watch.Enabled {
		watchSvc := newImageWatcher(cfg, components.Indexer, cat, logger, debugMode)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		go func() {
			report, err := components.Indexer.Run(ctx, cfg.Storage.ImagesDir)
			if err != nil {
				logger.Warn("startup index run failed", zap.Error(err))
				return
			}
			logger.Info("startup index run finished",
				zap.Int("indexed", report.Indexed), zap.Int("failed", len(report.Failed)))
		}()
	}

	srv, err := server.NewServer(components.Search, components.Indexer, components.Store, cfg, logger,
		server.WithCatalog(cat))
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

// newImageWatcher keeps the index and catalog in step with the image directory.
func newImageWatcher(cfg *config.Config, idx *indexer.Indexer, cat *catalog.Catalog, logger *zap.Logger, debug bool) *watcher.Watcher {
	opts := []watcher.WatcherOption{watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS) * time.Millisecond)}
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	return watcher.NewWatcher(
		cfg.Storage.ImagesDir,
		cfg.Index.Extensions,
		func(path string) {
			ctx := context.Background()
			if err := idx.IndexFile(ctx, path); err != nil {
				logger.Warn("watch index file failed", zap.String("path", path), zap.Error(err))
				return
			}
			if err := cat.Add(ctx, filepath.Base(path)); err != nil {
				logger.Warn("catalog add failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			ctx := context.Background()
			if err := idx.RemoveFile(ctx, path); err != nil {
				logger.Warn("watch remove file failed", zap.String("path", path), zap.Error(err))
			}
			if err := cat.Remove(ctx, filepath.Base(path)); err != nil {
				logger.Warn("catalog remove failed", zap.String("path", path), zap.Error(err))
			}
		},
		opts...,
	)
}

func syncCatalog(ctx context.Context, cat *catalog.Catalog, cfg *config.Config) error {
	images, err := imageio.ListImages(cfg.Storage.ImagesDir, cfg.Index.Extensions)
	if err != nil {
		return err
	}
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Filename
	}
	return cat.Sync(ctx, names)
}

func runIndex(recreate bool) {
	name := "index"
	if recreate {
		name = "reindex"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; when set the run happens in the server process")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		exitf("%v", err)
	}

	var report *models.IndexReport
	if *serverURL != "" {
		report, err = indexViaHTTP(*serverURL, recreate)
		if err != nil {
			exitf("Indexing failed: %v", err)
		}
	} else {
		cfg, logger, debugMode := mustLoad(*configPath, *debug)
		defer logger.Sync()
		dir := cfg.Storage.ImagesDir
		if fs.NArg() > 0 {
			dir = fs.Arg(0)
		}
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, debugMode)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer components.Close()
		if recreate {
			report, err = components.Indexer.Reindex(ctx, dir)
		} else {
			report, err = components.Indexer.Run(ctx, dir)
		}
		if err != nil {
			exitf("Indexing failed: %v", err)
		}
	}
	if err := cli.WriteIndexReport(os.Stdout, report, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// searchArgsReorder moves flags that appear after the image argument to the
// front so flag.Parse sees them ("miru search cat.jpg --top-k 3").
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: miru search [flags] <image>\n\n")
	fmt.Fprintf(fs.Output(), "<image> is a local image file, or the name of an image in the image directory.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  miru search ~/Downloads/cat.jpg
  miru search --top-k 10 cat_0042.png
  miru search --output json --server http://localhost:8505 photo.png
`)
}

// isLocalFile reports whether arg names a regular file on this machine.
func isLocalFile(arg string) bool {
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the index directly)")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	query := fs.Arg(0)
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		exitf("%v", err)
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, query, *topK)
	} else {
		response, err = searchDirect(*configPath, query, *topK, *debug)
	}
	if err != nil {
		exitf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func searchDirect(configPath, query string, topK int, debug bool) (*models.SearchResponse, error) {
	cfg, logger, debugMode := mustLoad(configPath, debug)
	defer logger.Sync()
	if topK == 0 {
		topK = cfg.Search.DefaultTopK
	}
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	started := time.Now()
	var hits []models.Hit
	if isLocalFile(query) {
		hits, err = components.Search.Search(ctx, search.Query{Image: embedding.FromPath(query), TopK: topK})
	} else {
		hits, err = components.Search.SearchByFilename(ctx, query, topK)
	}
	if err != nil {
		return nil, err
	}
	return search.NewResponse(query, cfg.Search.ClampTopK(topK), hits, started), nil
}

// searchViaHTTP uploads a local file, or asks the server to search by name.
func searchViaHTTP(serverURL, query string, topK int) (*models.SearchResponse, error) {
	var (
		body        bytes.Buffer
		contentType string
	)
	if isLocalFile(query) {
		mw := multipart.NewWriter(&body)
		if topK > 0 {
			_ = mw.WriteField("top_k", strconv.Itoa(topK))
		}
		fw, err := mw.CreateFormFile("image", filepath.Base(query))
		if err != nil {
			return nil, err
		}
		f, err := os.Open(query)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(fw, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		contentType = mw.FormDataContentType()
	} else {
		req := map[string]interface{}{"filename": query}
		if topK > 0 {
			req["top_k"] = topK
		}
		if err := json.NewEncoder(&body).Encode(req); err != nil {
			return nil, err
		}
		contentType = "application/json"
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/search", contentType, &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var response models.SearchResponse
	if err := decodeResponse(resp, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func indexViaHTTP(serverURL string, recreate bool) (*models.IndexReport, error) {
	path := "/api/v1/index"
	if recreate {
		path = "/api/v1/reindex"
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+path, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var report models.IndexReport
	if err := decodeResponse(resp, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func statusViaHTTP(serverURL string) (*models.Status, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var status models.Status
	if err := decodeResponse(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// decodeResponse decodes a 200 JSON body into v, or turns the server's
// {"error": ...} body into an error.
func decodeResponse(resp *http.Response, v interface{}) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		exitf("%v", err)
	}
	var status *models.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		cfg, logger, _ := mustLoad(*configPath, false)
		defer logger.Sync()
		status, err = localStatus(context.Background(), cfg, logger)
	}
	if err != nil {
		exitf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// localStatus reads the status without loading the model.
func localStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*models.Status, error) {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	exists, err := store.CollectionExists(ctx)
	if err != nil {
		return nil, err
	}
	points, err := store.Count(ctx)
	if err != nil {
		return nil, err
	}
	images, err := imageio.ListImages(cfg.Storage.ImagesDir, cfg.Index.Extensions)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	status := &models.Status{
		Backend:          cfg.Index.Backend,
		Collection:       cfg.Index.Collection,
		CollectionExists: exists,
		Points:           points,
		ImagesOnDisk:     len(images),
		Dimensions:       cfg.Embedding.Dimensions,
	}
	paths := append(storage.DatabaseFiles(cfg), cfg.Storage.CatalogPath)
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		status.DiskUsageBytes = diskBytes
	}
	return status, nil
}

// Components holds initialized services.
type Components struct {
	Store    storage.IndexStore
	Embedder embedding.Embedder
	Search   *search.Service
	Indexer  *indexer.Indexer
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load embedder: %w", err)
	}
	logger.Info("components initialized",
		zap.String("backend", cfg.Index.Backend),
		zap.String("collection", cfg.Index.Collection),
		zap.Int("dimensions", embedder.Dimensions()))

	idxOpts := []indexer.IndexerOption{
		indexer.WithExtensions(cfg.Index.Extensions),
		indexer.WithWorkers(cfg.Index.Workers),
		indexer.WithPageSize(cfg.Index.PageSize),
	}
	svcOpts := []search.ServiceOption{}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
		svcOpts = append(svcOpts, search.WithLogger(logger))
	}
	return &Components{
		Store:    store,
		Embedder: embedder,
		Search:   search.NewService(store, embedder, cfg.Storage.ImagesDir, &cfg.Search, svcOpts...),
		Indexer:  indexer.NewIndexer(store, embedder, idxOpts...),
	}, nil
}

func printUsage() {
	fmt.Println(`miru - reverse image search

Usage:
  miru server [flags]            Start the web page and JSON API
  miru index [flags] [dir]       Embed images not yet in the index
  miru reindex [flags] [dir]     Drop the collection and embed every image
  miru search [flags] <image>    Find the most similar indexed images
  miru status [flags]            Show index status
  miru version                   Show version
  miru help                      Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/miru/config.yaml, or ./config.yaml)
  --debug            Enable debug logging

Index/Reindex Flags:
  --server string    Run in a running server instead of opening the index here
  --output string    Output format: text or json (default: text)

Search Flags:
  --top-k int        Number of results (default from config)
  --server string    Server URL; empty searches the index directly
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL; empty reads the index directly
  --output string    Output format: text or json (default: text)

Examples:
  miru index
  miru search ~/Pictures/cat.jpg
  miru search --top-k 10 --output json cat_0042.png
  miru reindex --server http://localhost:8505
  miru status --output json`)
}
