package models

// SearchResponse is returned by the JSON API and printed by the CLI.
type SearchResponse struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	Hits      []Hit  `json:"hits"`
	QueryTime int64  `json:"query_time_ms"`
}

// IndexReport summarizes an indexing run for the JSON API.
type IndexReport struct {
	Scanned int         `json:"scanned"`
	Skipped int         `json:"skipped"`
	Indexed int         `json:"indexed"`
	Failed  []FileError `json:"failed,omitempty"`
}

// FileError records a file that could not be indexed.
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Status describes the state of the index for GET /api/v1/status.
type Status struct {
	Backend          string `json:"backend"`
	Collection       string `json:"collection"`
	CollectionExists bool   `json:"collection_exists"`
	Points           int    `json:"points"`
	ImagesOnDisk     int    `json:"images_on_disk"`
	Dimensions       int    `json:"dimensions"`
	IndexRunning     bool   `json:"index_running"`
	DiskUsageBytes   int64  `json:"disk_usage_bytes,omitempty"`
}
