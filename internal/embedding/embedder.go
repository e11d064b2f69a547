// Package embedding turns images into L2-normalized feature vectors.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/hyperjump/miru/internal/imageio"
)

var (
	// ErrDecode is returned when an input cannot be decoded as an image.
	ErrDecode = imageio.ErrDecode
	// ErrUnsupportedInputKind is returned for an Input that is neither a path nor an image.
	ErrUnsupportedInputKind = errors.New("unsupported embedder input")
	// ErrModelUnavailable is returned when the model cannot be loaded or run.
	ErrModelUnavailable = errors.New("embedding model unavailable")
)

// Embedder produces vector embeddings for images.
type Embedder interface {
	Embed(ctx context.Context, in Input) ([]float32, error)
	Dimensions() int
	Close() error
}

type inputKind int

const (
	kindNone inputKind = iota
	kindPath
	kindImage
)

// Input is an image to embed: either a file path or a decoded image.
// The zero Input is invalid.
type Input struct {
	kind inputKind
	path string
	img  image.Image
}

// FromPath returns an Input that reads and decodes the file at path.
func FromPath(path string) Input {
	return Input{kind: kindPath, path: path}
}

// FromImage returns an Input wrapping an already decoded image.
func FromImage(img image.Image) Input {
	if img == nil {
		return Input{}
	}
	return Input{kind: kindImage, img: img}
}

// Path returns the file path for path inputs and "" otherwise.
func (in Input) Path() string {
	return in.path
}

// load decodes the input. key is a content hash for path inputs and "" for
// in-memory images, which are not cached.
func (in Input) load() (img *image.NRGBA, key string, err error) {
	switch in.kind {
	case kindPath:
		data, err := os.ReadFile(in.path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrDecode, in.path, err)
		}
		sum := sha256.Sum256(data)
		img, err := imageio.DecodeReader(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", in.path, err)
		}
		return img, hex.EncodeToString(sum[:]), nil
	case kindImage:
		return imageio.ToNRGBA(in.img), "", nil
	default:
		return nil, "", ErrUnsupportedInputKind
	}
}
