package e2e

import (
	"testing"

	"github.com/hyperjump/miru/internal/testutil"
)

// WriteCorpus encodes every corpus image into dir and returns their paths.
func WriteCorpus(t testing.TB, dir string, c *Corpus) []string {
	t.Helper()
	paths := make([]string, 0, len(c.Images))
	for _, img := range c.Images {
		paths = append(paths, testutil.WriteImage(t, dir, img.Filename, img.Image))
	}
	return paths
}
