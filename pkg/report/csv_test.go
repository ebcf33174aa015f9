package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func parseCSV(t *testing.T, data string) [][]string {
	t.Helper()
	records, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV output: %v", err)
	}
	return records
}

func TestWriteHistogramCSV(t *testing.T) {
	cats := []Category{
		{Label: "Repository Members", Hours: []float64{24 * 1, 24 * 6}},
		{Label: "External Users", Hours: []float64{24 * 12}},
		{Label: "Empty"},
	}

	var buf bytes.Buffer
	if err := WriteHistogramCSV(&buf, cats); err != nil {
		t.Fatalf("WriteHistogramCSV() error: %v", err)
	}

	records := parseCSV(t, buf.String())
	wantHeader := []string{"bin_days", "Repository Members", "External Users"}
	if !slices.Equal(records[0], wantHeader) {
		t.Errorf("header = %v, want %v", records[0], wantHeader)
	}

	// Max sample is 12 days, so bins run 0-5 through 15-20.
	want := [][]string{
		{"0-5", "1", "0"},
		{"5-10", "1", "0"},
		{"10-15", "0", "1"},
		{"15-20", "0", "0"},
	}
	if len(records) != len(want)+1 {
		t.Fatalf("got %d rows, want %d: %v", len(records)-1, len(want), records)
	}
	for i, row := range want {
		if !slices.Equal(records[i+1], row) {
			t.Errorf("row %d = %v, want %v", i+1, records[i+1], row)
		}
	}
}

func TestWriteSummaryCSV(t *testing.T) {
	cats := []Category{
		{Label: "All Issues", Hours: []float64{24, 48, 72}},
		{Label: "External Users"},
	}

	var buf bytes.Buffer
	if err := WriteSummaryCSV(&buf, cats); err != nil {
		t.Fatalf("WriteSummaryCSV() error: %v", err)
	}

	records := parseCSV(t, buf.String())
	if !slices.Equal(records[0], summaryHeader) {
		t.Errorf("header = %v, want %v", records[0], summaryHeader)
	}
	if len(records) != 3 {
		t.Fatalf("got %d rows, want 3: %v", len(records)-1, records)
	}

	want := []string{"All Issues", "3", "48", "48", "2", "2", "1", "3", "1", "1", "3", "3", "3"}
	if !slices.Equal(records[1], want) {
		t.Errorf("row 1 = %v, want %v", records[1], want)
	}

	empty := records[2]
	if empty[0] != "External Users" || empty[1] != "0" {
		t.Errorf("empty category row = %v, want name and zero count", empty)
	}
	for i, field := range empty[2:] {
		if field != "" {
			t.Errorf("empty category stat %s = %q, want blank", summaryHeader[i+2], field)
		}
	}
}

func TestWriteRawCSV(t *testing.T) {
	cats := []Category{
		{Label: "All Issues", Hours: []float64{48, 36}},
	}

	var buf bytes.Buffer
	if err := WriteRawCSV(&buf, cats); err != nil {
		t.Fatalf("WriteRawCSV() error: %v", err)
	}

	records := parseCSV(t, buf.String())
	want := [][]string{
		{"category", "hours", "days"},
		{"All Issues", "48", "2"},
		{"All Issues", "36", "1.5"},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d: %v", len(records), len(want), records)
	}
	for i, row := range want {
		if !slices.Equal(records[i], row) {
			t.Errorf("record %d = %v, want %v", i, records[i], row)
		}
	}
}

func TestWriteCSVs(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "myrepo")
	cats := []Category{{Label: "All Issues", Hours: []float64{24, 120}}}

	paths, err := WriteCSVs(prefix, cats)
	if err != nil {
		t.Fatalf("WriteCSVs() error: %v", err)
	}

	want := []string{prefix + "_histogram.csv", prefix + "_summary.csv", prefix + "_raw.csv"}
	if !slices.Equal(paths, want) {
		t.Errorf("WriteCSVs() paths = %v, want %v", paths, want)
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if len(parseCSV(t, string(data))) < 2 {
			t.Errorf("%s has no data rows", path)
		}
	}
}
