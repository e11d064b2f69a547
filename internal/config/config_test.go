package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
index:
  backend: qdrant
  qdrant:
    host: qdrant.local
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Index.Backend != "qdrant" || cfg.Index.Qdrant.Host != "qdrant.local" || cfg.Index.Qdrant.Port != 6334 {
		t.Errorf("unexpected index config: %+v", cfg.Index)
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  images_dir: "./images"
  database_path: "./data/vectors.db"
embedding:
  model_path: "./dinov2-base/model.onnx"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "images"); cfg.Storage.ImagesDir != want {
		t.Errorf("images_dir = %s, want %s", cfg.Storage.ImagesDir, want)
	}
	if want := filepath.Join(dir, "data", "vectors.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "dinov2-base", "model.onnx"); cfg.Embedding.ModelPath != want {
		t.Errorf("model_path = %s, want %s", cfg.Embedding.ModelPath, want)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8505 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Index.Collection != "image_vectors" {
		t.Errorf("default collection: got %s", cfg.Index.Collection)
	}
	if cfg.Index.Backend != "sqlite" || cfg.Index.VectorIndex != "memory" {
		t.Errorf("default backend: got %s/%s", cfg.Index.Backend, cfg.Index.VectorIndex)
	}
	if cfg.Embedding.Dimensions != 768 || cfg.Embedding.ImageSize != 224 || cfg.Embedding.ResizeShortest != 256 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if len(cfg.Index.Extensions) != 4 || cfg.Index.Extensions[0] != ".jpg" || cfg.Index.Extensions[3] != ".tif" {
		t.Errorf("extensions: got %v", cfg.Index.Extensions)
	}
	if cfg.Index.Workers != 1 {
		t.Errorf("workers: got %d", cfg.Index.Workers)
	}
}

func TestApplyDefaults_extensionsNotShared(t *testing.T) {
	a, b := &Config{}, &Config{}
	ApplyDefaults(a)
	ApplyDefaults(b)
	a.Index.Extensions[0] = ".gif"
	if b.Index.Extensions[0] != ".jpg" || DefaultExtensions[0] != ".jpg" {
		t.Error("default extensions slice should be copied per config")
	}
}

func TestApplyDefaults_emptyExtensions(t *testing.T) {
	cfg := &Config{Index: IndexConfig{Extensions: []string{}}}
	ApplyDefaults(cfg)
	if len(cfg.Index.Extensions) != len(DefaultExtensions) {
		t.Errorf("extensions: got %v, want defaults", cfg.Index.Extensions)
	}
}

func TestSearchConfig_ClampTopK(t *testing.T) {
	s := &SearchConfig{MaxTopK: 10}
	tests := []struct {
		in, want int
	}{
		{-1, 0},
		{0, 0},
		{3, 3},
		{10, 10},
		{50, 10},
	}
	for _, tt := range tests {
		if got := s.ClampTopK(tt.in); got != tt.want {
			t.Errorf("ClampTopK(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
