package imageio

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/miru/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var red = color.RGBA{R: 220, G: 20, B: 20, A: 255}

func TestExtensionAllowed(t *testing.T) {
	allowed := []string{".jpg", ".jpeg", ".png", ".tif"}
	tests := []struct {
		name string
		want bool
	}{
		{"cat.jpg", true},
		{"CAT.JPG", true},
		{"dog.png", true},
		{"scan.tif", true},
		{"scan.tiff", false},
		{"notes.txt", false},
		{"noext", false},
		{".png", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtensionAllowed(tt.name, allowed), tt.name)
	}
}

func TestExtensionAllowed_emptyListUsesKnownFormats(t *testing.T) {
	assert.True(t, ExtensionAllowed("a.webp", nil))
	assert.True(t, ExtensionAllowed("a.bmp", nil))
	assert.False(t, ExtensionAllowed("a.txt", nil))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatJPEG, FormatOf("x.JPEG"))
	assert.Equal(t, FormatTIFF, FormatOf("/a/b/x.tif"))
	assert.Equal(t, FormatUnknown, FormatOf("x.heic"))
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePattern(t, dir, "b.png", testutil.Solid, red)
	testutil.WritePattern(t, dir, "a.jpg", testutil.Solid, red)
	testutil.WritePattern(t, dir, "c.tif", testutil.Solid, red)
	testutil.WriteFile(t, dir, "readme.txt", []byte("not an image"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))
	testutil.WritePattern(t, filepath.Join(dir, "sub.png"), "nested.png", testutil.Solid, red)

	recs, err := ListImages(dir, []string{".jpg", ".jpeg", ".png", ".tif"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "a.jpg", recs[0].Filename)
	assert.Equal(t, "b.png", recs[1].Filename)
	assert.Equal(t, "c.tif", recs[2].Filename)
	assert.True(t, filepath.IsAbs(recs[0].Path))
	assert.Equal(t, "a.jpg", filepath.Base(recs[0].Path))
}

func TestListImages_missingDir(t *testing.T) {
	_, err := ListImages(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestListImages_empty(t *testing.T) {
	recs, err := ListImages(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func decodePath(t *testing.T, path string) (*image.NRGBA, error) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	return DecodeReader(f)
}

func TestDecodeReader_formats(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"x.png", "x.jpg", "x.tif", "x.gif"} {
		path := testutil.WritePattern(t, dir, name, testutil.Solid, red)
		img, err := decodePath(t, path)
		require.NoError(t, err, name)
		assert.Equal(t, 64, img.Bounds().Dx(), name)
		assert.Equal(t, 48, img.Bounds().Dy(), name)
	}
}

func TestDecodeReader_notAnImage(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "broken.jpg", []byte("definitely not jpeg"))
	_, err := decodePath(t, path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDecodeReader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.NewImage(10, 7, testutil.Gradient, red)))
	img, err := DecodeReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())

	_, err = DecodeReader(bytes.NewReader([]byte{0, 1, 2}))
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestSafeJoin(t *testing.T) {
	dir := "/images"
	p, err := SafeJoin(dir, "cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cat.jpg"), p)

	for _, bad := range []string{"", ".", "..", "../etc/passwd", "a/b.jpg", `a\b.jpg`, "/abs.jpg"} {
		_, err := SafeJoin(dir, bad)
		assert.True(t, errors.Is(err, ErrInvalidName), bad)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePattern(t, dir, "cat.jpg", testutil.Solid, red)
	assert.True(t, Exists(dir, "cat.jpg"))
	assert.False(t, Exists(dir, "dog.png"))
	assert.False(t, Exists(dir, "../cat.jpg"))
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WritePattern(t, dir, "cat.jpg", testutil.Solid, red)
	assert.True(t, IsRegularFile(path))
	assert.False(t, IsRegularFile(dir))
	assert.False(t, IsRegularFile(filepath.Join(dir, "dog.png")))
}
