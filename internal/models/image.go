// Package models defines core data structures for indexed images and search results.
package models

// ImageRecord is an image file discovered by a directory scan.
type ImageRecord struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Payload is the metadata stored next to each vector.
type Payload struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Entry is one stored point: a stable id, its embedding, and its payload.
// There is at most one Entry per filename.
type Entry struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"-"`
	Payload Payload   `json:"payload"`
}

// Hit is a ranked search result. Score is the cosine similarity to the query.
type Hit struct {
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
}
