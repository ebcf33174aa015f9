package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
)

// summaryHeader matches the Summary JSON field order so the two exports stay
// interchangeable for downstream tooling.
var summaryHeader = []string{
	"category", "count", "mean_hours", "median_hours", "mean_days", "median_days",
	"min_days", "max_days", "std_dev_days", "p25_days", "p75_days", "p90_days", "p95_days",
}

// WriteCSVs writes the three CSV exports behind one path prefix:
// <prefix>_histogram.csv, <prefix>_summary.csv and <prefix>_raw.csv.
// It returns the paths written, including any written before a failure.
func WriteCSVs(prefix string, categories []Category) ([]string, error) {
	writers := []struct {
		write func(io.Writer, []Category) error
		path  string
	}{
		{WriteHistogramCSV, prefix + "_histogram.csv"},
		{WriteSummaryCSV, prefix + "_summary.csv"},
		{WriteRawCSV, prefix + "_raw.csv"},
	}

	paths := make([]string, 0, len(writers))
	for _, wr := range writers {
		if err := writeCSVFile(wr.path, wr.write, categories); err != nil {
			return paths, err
		}
		paths = append(paths, wr.path)
	}
	return paths, nil
}

func writeCSVFile(path string, write func(io.Writer, []Category) error, categories []Category) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, categories); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// WriteHistogramCSV writes shared-bin counts with one column per category.
// Categories without samples are omitted; they have no counts to report.
func WriteHistogramCSV(w io.Writer, categories []Category) error {
	cats := withSamples(categories)
	bins := HistogramBins(cats)

	counts := make([][]int, len(cats))
	for i, cat := range cats {
		counts[i] = BinCounts(cat.Hours, len(bins))
	}

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(cats)+1)
	header = append(header, "bin_days")
	for _, cat := range cats {
		header = append(header, cat.Label)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for b, label := range bins {
		row := make([]string, 0, len(cats)+1)
		row = append(row, label)
		for i := range cats {
			row = append(row, strconv.Itoa(counts[i][b]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSummaryCSV writes one statistics row per category. A category without
// samples still gets a row, with a zero count and blank statistics.
func WriteSummaryCSV(w io.Writer, categories []Category) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}

	for _, cat := range categories {
		s := cat.Summary
		if s == nil {
			s = stats.Summarize(cat.Hours)
		}

		row := make([]string, len(summaryHeader))
		row[0] = cat.Label
		if s == nil {
			row[1] = "0"
		} else {
			row[1] = strconv.Itoa(s.Count)
			for i, v := range []float64{
				s.MeanHours, s.MedianHours, s.MeanDays, s.MedianDays,
				s.MinDays, s.MaxDays, s.StdDevDays,
				s.P25Days, s.P75Days, s.P90Days, s.P95Days,
			} {
				row[i+2] = formatSample(v)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteRawCSV writes every individual duration sample, one row per sample,
// so the analysis can be reproduced outside this tool.
func WriteRawCSV(w io.Writer, categories []Category) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category", "hours", "days"}); err != nil {
		return err
	}

	for _, cat := range categories {
		for _, h := range cat.Hours {
			row := []string{cat.Label, formatSample(h), formatSample(h / 24)}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// formatSample renders a float with the shortest exact representation.
func formatSample(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
