//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hyperjump/miru/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a DINOv2-style vision transformer through ONNX Runtime and
// mean-pools last_hidden_state into one vector. It requires CGO and the onnxruntime
// shared library.
type ONNXEmbedder struct {
	session      *ort.AdvancedSession
	dimensions   int
	tokens       int
	preprocessor Preprocessor
	cache        *EmbeddingCache
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXEmbedder loads the model at opts.ModelPath. InitializeEnvironment is called
// if not already done. Any failure to load wraps ErrModelUnavailable.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if opts.Dimensions <= 0 || opts.Tokens() <= 0 {
		return nil, fmt.Errorf("%w: invalid model geometry (dimensions=%d image_size=%d patch_size=%d)",
			ErrModelUnavailable, opts.Dimensions, opts.ImageSize, opts.PatchSize)
	}
	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: failed to initialize ONNX runtime: %v", ErrModelUnavailable, err)
		}
	}

	pre := NewPreprocessor(opts.ResizeShortest, opts.ImageSize)
	tokens := opts.Tokens()

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(pre.CropSize), int64(pre.CropSize)), make([]float32, pre.Len()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create pixel_values tensor: %v", ErrModelUnavailable, err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(tokens), int64(opts.Dimensions)), make([]float32, tokens*opts.Dimensions))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create output tensor: %v", ErrModelUnavailable, err)
	}

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{"pixel_values"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create ONNX session: %v", ErrModelUnavailable, err)
	}

	return &ONNXEmbedder{
		session:      session,
		dimensions:   opts.Dimensions,
		tokens:       tokens,
		preprocessor: pre,
		cache:        NewEmbeddingCache(opts.CacheSize),
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed returns the embedding for in, using the cache for path inputs.
func (e *ONNXEmbedder) Embed(ctx context.Context, in Input) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, key, err := in.load()
	if err != nil {
		return nil, err
	}
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: embedder closed", ErrModelUnavailable)
	}

	e.preprocessor.PixelValues(img, e.inputTensor.GetData())
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ErrModelUnavailable, err)
	}

	embedding := utils.MeanPool(e.outputTensor.GetData(), e.tokens, e.dimensions)
	if embedding == nil {
		return nil, fmt.Errorf("%w: unexpected output size %d", ErrModelUnavailable, len(e.outputTensor.GetData()))
	}
	utils.NormalizeL2(embedding)
	e.cache.Set(key, embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
