// Package catalog keeps a Bleve index of image filenames for the image picker.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// document is what gets indexed per image. The Bleve document id is the filename.
type document struct {
	Filename string `json:"filename"`
	Tokens   string `json:"tokens"`
}

// Catalog is a filename index supporting word, prefix and fuzzy lookups.
type Catalog struct {
	index  bleve.Index
	logger *zap.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	tokens := bleve.NewTextFieldMapping()
	tokens.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("tokens", tokens)
	docMapping.AddFieldMappingsAt("filename", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("image", docMapping)
	im.DefaultType = "image"
	im.DefaultMapping = docMapping
	return im
}

// Open creates or opens the catalog at path. An empty path keeps the index in memory.
func Open(path string, opts ...Option) (*Catalog, error) {
	var (
		index bleve.Index
		err   error
	)
	switch {
	case path == "":
		index, err = bleve.NewMemOnly(newMapping())
	case exists(path):
		index, err = bleve.Open(path)
	default:
		index, err = bleve.New(path, newMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog index: %w", err)
	}
	c := &Catalog{index: index}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Tokenize splits a filename into lower-case words on underscores, dashes, dots
// and spaces, so "Tabby_Cat-01.jpg" is findable as "tabby cat 01 jpg".
func Tokenize(filename string) []string {
	return strings.FieldsFunc(strings.ToLower(filename), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
}

func newDocument(filename string) document {
	return document{Filename: filename, Tokens: strings.Join(Tokenize(filename), " ")}
}

// Add indexes filenames, replacing any existing documents with the same names.
func (c *Catalog) Add(ctx context.Context, filenames ...string) error {
	if len(filenames) == 0 {
		return nil
	}
	batch := c.index.NewBatch()
	for _, name := range filenames {
		if err := batch.Index(name, newDocument(name)); err != nil {
			return fmt.Errorf("catalog index %s: %w", name, err)
		}
	}
	return c.index.Batch(batch)
}

// Remove deletes filenames from the catalog; unknown names are ignored.
func (c *Catalog) Remove(ctx context.Context, filenames ...string) error {
	if len(filenames) == 0 {
		return nil
	}
	batch := c.index.NewBatch()
	for _, name := range filenames {
		batch.Delete(name)
	}
	return c.index.Batch(batch)
}

// Sync makes the catalog contain exactly names.
func (c *Catalog) Sync(ctx context.Context, names []string) error {
	current, err := c.all()
	if err != nil {
		return err
	}
	want := make(map[string]struct{}, len(names))
	var add []string
	for _, n := range names {
		want[n] = struct{}{}
		if _, ok := current[n]; !ok {
			add = append(add, n)
		}
	}
	var remove []string
	for n := range current {
		if _, ok := want[n]; !ok {
			remove = append(remove, n)
		}
	}
	if err := c.Remove(ctx, remove...); err != nil {
		return err
	}
	if err := c.Add(ctx, add...); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Debug("catalog synced", zap.Int("added", len(add)), zap.Int("removed", len(remove)))
	}
	return nil
}

func (c *Catalog) all() (map[string]struct{}, error) {
	n, err := c.index.DocCount()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, n)
	if n == 0 {
		return out, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("catalog list: %w", err)
	}
	for _, hit := range res.Hits {
		out[hit.ID] = struct{}{}
	}
	return out, nil
}

// Search returns up to limit filenames matching q, best match first. Each query
// word matches whole tokens, token prefixes, or tokens within one edit. An empty
// query lists filenames in lexical order.
func (c *Catalog) Search(ctx context.Context, q string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	terms := Tokenize(q)
	var query blevequery.Query
	sortBy := []string{"-_score", "_id"}
	if len(terms) == 0 {
		query = bleve.NewMatchAllQuery()
		sortBy = []string{"_id"}
	} else {
		perTerm := make([]blevequery.Query, 0, len(terms))
		for _, term := range terms {
			perTerm = append(perTerm, termQuery(term))
		}
		query = bleve.NewConjunctionQuery(perTerm...)
	}
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.SortBy(sortBy)
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	out := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = hit.ID
	}
	return out, nil
}

// termQuery matches one query word exactly (boosted), as a prefix, or fuzzily.
func termQuery(term string) blevequery.Query {
	exact := bleve.NewTermQuery(term)
	exact.SetField("tokens")
	exact.SetBoost(3)
	prefix := bleve.NewPrefixQuery(term)
	prefix.SetField("tokens")
	prefix.SetBoost(2)
	fuzzy := bleve.NewFuzzyQuery(term)
	fuzzy.SetField("tokens")
	fuzzy.SetFuzziness(1)
	return bleve.NewDisjunctionQuery(exact, prefix, fuzzy)
}

// Count returns the number of catalogued filenames.
func (c *Catalog) Count() (uint64, error) {
	return c.index.DocCount()
}

// Close closes the underlying index.
func (c *Catalog) Close() error {
	return c.index.Close()
}
