package config

// DefaultExtensions are the image extensions scanned when none are configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".tif"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8505
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 5
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.Server.UploadLimitMB == 0 {
		cfg.Server.UploadLimitMB = 32
	}
	if cfg.Storage.ImagesDir == "" {
		cfg.Storage.ImagesDir = "/usr/local/var/miru/images"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/miru/data/vectors.db"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = "/usr/local/var/miru/data/catalog"
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = "/usr/local/var/miru/uploads"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/miru/models/dinov2-base.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.ResizeShortest == 0 {
		cfg.Embedding.ResizeShortest = 256
	}
	if cfg.Embedding.PatchSize == 0 {
		cfg.Embedding.PatchSize = 14
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "sqlite"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "image_vectors"
	}
	if cfg.Index.VectorIndex == "" {
		cfg.Index.VectorIndex = "memory"
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 1
	}
	if cfg.Index.PageSize == 0 {
		cfg.Index.PageSize = 1000
	}
	if len(cfg.Index.Extensions) == 0 {
		cfg.Index.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Index.Qdrant.Host == "" {
		cfg.Index.Qdrant.Host = "localhost"
	}
	if cfg.Index.Qdrant.Port == 0 {
		cfg.Index.Qdrant.Port = 6334
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
}
