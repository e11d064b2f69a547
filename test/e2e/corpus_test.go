package e2e

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/miru/internal/imageio"
)

func TestBuildCorpus_shape(t *testing.T) {
	c := BuildCorpus(5, 3, 1)
	if len(c.Families) != 5 || len(c.Images) != 15 || len(c.Queries) != 5 {
		t.Fatalf("families=%d images=%d queries=%d", len(c.Families), len(c.Images), len(c.Queries))
	}
	seen := map[string]bool{}
	for _, img := range c.Images {
		if seen[img.Filename] {
			t.Errorf("duplicate filename %s", img.Filename)
		}
		seen[img.Filename] = true
		if !strings.HasPrefix(img.Filename, img.Family+"_") {
			t.Errorf("%s does not carry its family %s", img.Filename, img.Family)
		}
		if c.FamilyOf(img.Filename) != img.Family {
			t.Errorf("FamilyOf(%s) = %q", img.Filename, c.FamilyOf(img.Filename))
		}
	}
	if c.FamilyOf("unknown.png") != "" {
		t.Error("FamilyOf(unknown) should be empty")
	}
}

func TestBuildCorpus_deterministic(t *testing.T) {
	a, b := BuildCorpus(3, 2, 7), BuildCorpus(3, 2, 7)
	if !reflect.DeepEqual(a.Families, b.Families) {
		t.Error("same seed produced different families")
	}
	if !reflect.DeepEqual(a.Images[0].Image, b.Images[0].Image) {
		t.Error("same seed produced different images")
	}
	if reflect.DeepEqual(a.Families, BuildCorpus(3, 2, 8).Families) {
		t.Error("different seeds produced the same families")
	}
}

func TestWriteCorpus_decodable(t *testing.T) {
	dir := t.TempDir()
	c := BuildCorpus(2, 3, 3)
	paths := WriteCorpus(t, dir, c)
	exts := map[string]bool{}
	for _, p := range paths {
		exts[filepath.Ext(p)] = true
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		img, err := imageio.DecodeReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode %s: %v", p, err)
		}
		if b := img.Bounds(); b.Dx() != imageWidth || b.Dy() != imageHeight {
			t.Errorf("%s bounds = %v", p, b)
		}
	}
	for _, ext := range extensions {
		if !exts[ext] {
			t.Errorf("no corpus file written as %s", ext)
		}
	}
}
