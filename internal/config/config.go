// Package config provides configuration loading and structs for the miru server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimit is the sustained number of search/upload requests per second per client.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// UploadLimitMB caps the size of an uploaded query image.
	UploadLimitMB int `yaml:"upload_limit_mb"`
}

// StorageConfig holds paths for the image directory and local databases.
type StorageConfig struct {
	ImagesDir    string `yaml:"images_dir"`
	DatabasePath string `yaml:"database_path"`
	CatalogPath  string `yaml:"catalog_path"`
	UploadsDir   string `yaml:"uploads_dir"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider is "onnx" (default) or "mock".
	Provider string `yaml:"provider"`
	// ModelPath is the local ONNX export of the vision transformer.
	ModelPath string `yaml:"model_path"`
	// LibraryPath optionally points at the onnxruntime shared library.
	LibraryPath    string `yaml:"library_path"`
	Dimensions     int    `yaml:"dimensions"`
	ImageSize      int    `yaml:"image_size"`
	ResizeShortest int    `yaml:"resize_shortest"`
	PatchSize      int    `yaml:"patch_size"`
	CacheSize      int    `yaml:"cache_size"`
}

// IndexConfig holds vector store and indexing settings.
type IndexConfig struct {
	// Backend is "sqlite" (default), "qdrant" or "pgvector".
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	// VectorIndex is the in-process index used by the sqlite backend: "memory" or "faiss".
	VectorIndex string         `yaml:"vector_index"`
	Workers     int            `yaml:"workers"`
	PageSize    int            `yaml:"page_size"`
	Extensions  []string       `yaml:"extensions"`
	Qdrant      QdrantConfig   `yaml:"qdrant"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// QdrantConfig holds the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PostgresConfig holds the pgvector connection string.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// WatchConfig holds image directory watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// ClampTopK returns k limited to [0, MaxTopK]. Zero and negative values are kept
// as 0 so callers can return an empty result.
func (s *SearchConfig) ClampTopK(k int) int {
	if k <= 0 {
		return 0
	}
	if s.MaxTopK > 0 && k > s.MaxTopK {
		return s.MaxTopK
	}
	return k
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.ImagesDir = expandPath(cfg.Storage.ImagesDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	cfg.Storage.UploadsDir = expandPath(cfg.Storage.UploadsDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Embedding.LibraryPath != "" {
		cfg.Embedding.LibraryPath = expandPath(cfg.Embedding.LibraryPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
