package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hyperjump/miru/internal/models"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{" json ", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := &models.SearchResponse{
		Query:     "cat.jpg",
		TopK:      2,
		QueryTime: 42,
		Hits: []models.Hit{
			{Filename: "cat.jpg", Path: "/images/cat.jpg", Score: 1},
			{Filename: "kitten.png", Path: "/images/kitten.png", Score: 0.91},
		},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "cat.jpg" || decoded.TopK != 2 || len(decoded.Hits) != 2 || decoded.Hits[1].Filename != "kitten.png" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	response := &models.SearchResponse{
		Query:     "cat.jpg",
		TopK:      5,
		QueryTime: 10,
		Hits:      []models.Hit{{Filename: "kitten.png", Path: "/images/kitten.png", Score: 0.87654}},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Query: cat.jpg", "top 5", "10ms", " 1. 0.8765  kitten.png", "/images/kitten.png"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteSearchResults_textEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, &models.SearchResponse{Query: "x"}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No similar images found.") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteIndexReport(t *testing.T) {
	report := &models.IndexReport{
		Scanned: 3, Indexed: 1, Skipped: 1,
		Failed: []models.FileError{{Filename: "broken.jpg", Error: "image could not be decoded"}},
	}
	var buf bytes.Buffer
	if err := WriteIndexReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Scanned 3 images: 1 indexed, 1 already indexed, 1 failed") ||
		!strings.Contains(out, "failed broken.jpg: image could not be decoded") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestWriteStatus(t *testing.T) {
	status := &models.Status{
		Backend: "sqlite", Collection: "images", CollectionExists: true,
		Points: 12, ImagesOnDisk: 13, Dimensions: 768, DiskUsageBytes: 3 << 20,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Collection: images (sqlite)", "Exists: yes", "Points: 12", "Images on disk: 13", "Disk usage: 3.0 MiB"} {
		if !strings.Contains(out, sub) {
			t.Errorf("status output missing %q:\n%s", sub, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"empty", "", 5, ""},
		{"short", "hi", 5, "hi"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"maxLen zero", "ab", 0, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}
