package search

import (
	"time"

	"github.com/hyperjump/miru/internal/models"
)

// NewResponse wraps hits for the JSON API and CLI output. A nil hits slice is
// reported as an empty list.
func NewResponse(query string, topK int, hits []models.Hit, started time.Time) *models.SearchResponse {
	if hits == nil {
		hits = []models.Hit{}
	}
	return &models.SearchResponse{
		Query:     query,
		TopK:      topK,
		Hits:      hits,
		QueryTime: time.Since(started).Milliseconds(),
	}
}
