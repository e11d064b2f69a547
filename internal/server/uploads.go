package server

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// uploadStore keeps uploaded query images so the result page can show them.
// Files are named <uuid>.png and removed by Cleanup on shutdown.
type uploadStore struct {
	dir string
}

func newUploadStore(dir string) (*uploadStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &uploadStore{dir: dir}, nil
}

// Save writes img as PNG and returns its id.
func (u *uploadStore) Save(img image.Image) (string, error) {
	id := uuid.New().String()
	f, err := os.Create(filepath.Join(u.dir, id+".png"))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}
	return id, nil
}

// Path returns the file for id, or false if id is not an upload id.
func (u *uploadStore) Path(id string) (string, bool) {
	id = strings.TrimSuffix(id, ".png")
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return "", false
	}
	return filepath.Join(u.dir, id+".png"), true
}

// Cleanup removes every saved upload.
func (u *uploadStore) Cleanup() error {
	matches, err := filepath.Glob(filepath.Join(u.dir, "*.png"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if _, ok := u.Path(filepath.Base(m)); ok {
			_ = os.Remove(m)
		}
	}
	return nil
}
