// Package testutil writes small synthetic images for package tests.
package testutil

import (
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"
)

// Pattern selects the synthetic content drawn by WriteImage.
type Pattern int

const (
	// Solid fills the image with one colour.
	Solid Pattern = iota
	// Stripes draws vertical stripes alternating between the colour and its inverse.
	Stripes
	// Gradient draws a horizontal gradient from black to the colour.
	Gradient
)

// NewImage returns a w x h RGBA image drawn with pattern p in colour c.
func NewImage(w, h int, p Pattern, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	inv := color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch p {
			case Stripes:
				if (x/4)%2 == 0 {
					img.Set(x, y, c)
				} else {
					img.Set(x, y, inv)
				}
			case Gradient:
				f := float64(x) / float64(max(w-1, 1))
				img.Set(x, y, color.RGBA{
					R: uint8(float64(c.R) * f),
					G: uint8(float64(c.G) * f),
					B: uint8(float64(c.B) * f),
					A: 255,
				})
			default:
				img.Set(x, y, c)
			}
		}
	}
	return img
}

// WriteImage encodes img into dir/name, choosing the encoder from the extension
// (.png, .jpg/.jpeg, .tif/.tiff). Any other extension is written as PNG bytes.
// Returns the full path.
func WriteImage(t testing.TB, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, nil)
	case ".gif":
		err = gif.Encode(f, img, nil)
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatal(err)
	}
	return path
}

// WritePattern is shorthand for WriteImage(t, dir, name, NewImage(64, 48, p, c)).
func WritePattern(t testing.TB, dir, name string, p Pattern, c color.RGBA) string {
	t.Helper()
	return WriteImage(t, dir, name, NewImage(64, 48, p, c))
}

// WriteFile writes raw bytes to dir/name and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}
