package imageio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/miru/internal/models"
)

// ErrInvalidName is returned by SafeJoin for names that are not plain base names.
var ErrInvalidName = errors.New("invalid image filename")

// ListImages returns the regular files directly inside dir whose extension is in
// allowed, sorted by filename. Subdirectories are not descended into.
func ListImages(dir string, allowed []string) ([]models.ImageRecord, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}
	var out []models.ImageRecord
	for _, e := range entries {
		if e.IsDir() || !ExtensionAllowed(e.Name(), allowed) {
			continue
		}
		path := filepath.Join(absDir, e.Name())
		// Resolve symlinks so only regular files are listed
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, models.ImageRecord{Filename: e.Name(), Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// SafeJoin joins dir and name, rejecting names that would escape dir.
func SafeJoin(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

// Exists reports whether name is a regular file inside dir.
func Exists(dir, name string) bool {
	path, err := SafeJoin(dir, name)
	if err != nil {
		return false
	}
	return IsRegularFile(path)
}

// IsRegularFile reports whether path names a regular file, following symlinks.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
