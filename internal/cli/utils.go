// Package cli provides output helpers for the miru command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/hyperjump/miru/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	cyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

// ParseOutputFormat validates an --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\n%s %s (top %d) in %dms\n\n",
		bold("Query:"), response.Query, response.TopK, response.QueryTime)
	if len(response.Hits) == 0 {
		fmt.Fprintln(w, "No similar images found.")
		return nil
	}
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "%2d. %s  %s\n", i+1, green(fmt.Sprintf("%.4f", hit.Score)), cyan(hit.Filename))
		if hit.Path != "" {
			fmt.Fprintf(w, "    %s\n", Truncate(hit.Path, 120))
		}
	}
	fmt.Fprintln(w)
	return nil
}

// WriteIndexReport writes the outcome of an index run.
func WriteIndexReport(w io.Writer, report *models.IndexReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Scanned %d images: %d indexed, %d already indexed, %d failed\n",
		report.Scanned, report.Indexed, report.Skipped, len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  %s %s: %s\n", red("failed"), f.Filename, f.Error)
	}
	return nil
}

// WriteStatus writes the index status.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	exists := "no"
	if status.CollectionExists {
		exists = "yes"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", bold("Collection:"), status.Collection, status.Backend)
	fmt.Fprintf(w, "%s %s\n", bold("Exists:"), exists)
	fmt.Fprintf(w, "%s %d\n", bold("Points:"), status.Points)
	fmt.Fprintf(w, "%s %d\n", bold("Images on disk:"), status.ImagesOnDisk)
	fmt.Fprintf(w, "%s %d\n", bold("Dimensions:"), status.Dimensions)
	if status.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "%s %s\n", bold("Disk usage:"), FormatBytes(status.DiskUsageBytes))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
