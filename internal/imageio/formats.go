// Package imageio discovers and decodes image files from the image directory.
package imageio

import (
	"path/filepath"
	"strings"
)

// Format is a decodable image format.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
	FormatWEBP    Format = "webp"
)

var formatExtensions = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
	".webp": FormatWEBP,
}

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) Format {
	if f, ok := formatExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return FormatUnknown
}

// ExtensionAllowed reports whether the extension of name is in allowed, ignoring
// case and a leading dot. An empty allowed list accepts every decodable format.
func ExtensionAllowed(name string, allowed []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	if len(allowed) == 0 {
		return FormatOf(name) != FormatUnknown
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}
