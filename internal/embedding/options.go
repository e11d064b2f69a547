package embedding

// ONNXOptions configures NewONNXEmbedder.
type ONNXOptions struct {
	// ModelPath is the ONNX export of the vision transformer. It must exist locally.
	ModelPath string
	// LibraryPath optionally overrides the onnxruntime shared library location.
	LibraryPath string
	// Dimensions is the hidden size of the model (768 for dinov2-base).
	Dimensions     int
	ImageSize      int
	ResizeShortest int
	PatchSize      int
	CacheSize      int
}

// Tokens returns the number of output tokens: one per patch plus the class token.
func (o ONNXOptions) Tokens() int {
	if o.PatchSize <= 0 || o.ImageSize <= 0 {
		return 0
	}
	side := o.ImageSize / o.PatchSize
	return side*side + 1
}
