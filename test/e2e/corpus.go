// Package e2e provides end-to-end tests over a synthetic image corpus.
package e2e

import (
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
)

const (
	imageWidth  = 64
	imageHeight = 48
	// jitter bounds the per-channel offset between variants of one family.
	jitter = 12
)

// Family is a group of images sharing one 2x2 colour layout. Variants of a
// family differ only by small per-channel offsets, so a good embedder ranks
// them above images from any other family.
type Family struct {
	Name    string
	Regions [4]color.RGBA
}

// CorpusImage is one indexed image.
type CorpusImage struct {
	Filename string
	Family   string
	Image    image.Image
}

// QueryCase is an unindexed variant whose nearest neighbours must come from Family.
type QueryCase struct {
	Name   string
	Family string
	Image  image.Image
}

// Corpus holds the images to index and the queries to run against them.
type Corpus struct {
	Families []Family
	Images   []CorpusImage
	Queries  []QueryCase
}

var extensions = []string{".jpg", ".png", ".tif"}

// BuildCorpus returns families*variants images plus one query per family. The
// same seed always yields the same corpus.
func BuildCorpus(families, variants int, seed uint64) *Corpus {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	c := &Corpus{}
	for f := 0; f < families; f++ {
		fam := Family{Name: fmt.Sprintf("family%02d", f)}
		for i := range fam.Regions {
			fam.Regions[i] = color.RGBA{
				R: uint8(32 + rng.IntN(192)),
				G: uint8(32 + rng.IntN(192)),
				B: uint8(32 + rng.IntN(192)),
				A: 255,
			}
		}
		c.Families = append(c.Families, fam)
		for v := 0; v < variants; v++ {
			c.Images = append(c.Images, CorpusImage{
				Filename: fmt.Sprintf("%s_%02d%s", fam.Name, v, extensions[(f+v)%len(extensions)]),
				Family:   fam.Name,
				Image:    fam.Variant(rng),
			})
		}
		c.Queries = append(c.Queries, QueryCase{
			Name:   fam.Name + "_query",
			Family: fam.Name,
			Image:  fam.Variant(rng),
		})
	}
	return c
}

// Variant draws the family layout with every region shifted by up to jitter per channel.
func (f Family) Variant(rng *rand.Rand) image.Image {
	var regions [4]color.RGBA
	for i, r := range f.Regions {
		regions[i] = color.RGBA{R: shift(r.R, rng), G: shift(r.G, rng), B: shift(r.B, rng), A: 255}
	}
	img := image.NewRGBA(image.Rect(0, 0, imageWidth, imageHeight))
	for y := 0; y < imageHeight; y++ {
		for x := 0; x < imageWidth; x++ {
			q := 0
			if x >= imageWidth/2 {
				q++
			}
			if y >= imageHeight/2 {
				q += 2
			}
			img.Set(x, y, regions[q])
		}
	}
	return img
}

func shift(v uint8, rng *rand.Rand) uint8 {
	return uint8(int(v) + rng.IntN(2*jitter+1) - jitter)
}

// FamilyOf returns the family of an indexed filename.
func (c *Corpus) FamilyOf(filename string) string {
	for _, img := range c.Images {
		if img.Filename == filename {
			return img.Family
		}
	}
	return ""
}
