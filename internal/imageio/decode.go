package imageio

import (
	"errors"
	"fmt"
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	// bmp, tiff and webp register themselves with image.Decode.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when a file or byte stream is not a readable image.
var ErrDecode = errors.New("image could not be decoded")

// DecodeReader decodes an image from r, applying EXIF orientation. The result
// is always an *image.NRGBA (RGB with an opaque alpha channel for sources
// without one).
func DecodeReader(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA converts img to *image.NRGBA, returning it unchanged when it already is one
// with a zero origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}
