// Package report renders issue duration statistics as an HTML histogram
// report and CSV exports. The console rendering lives with the CLI; this
// package owns everything written to files.
package report

import (
	"fmt"

	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
)

const (
	// BinSize is the histogram bin width in days.
	BinSize = 5
	// MaxBinCap bounds the histogram range in days; samples beyond it are
	// bucketed into the final bin.
	MaxBinCap = 100
)

// Category pairs one set of duration samples with its display label.
type Category struct {
	Summary *stats.Summary // nil when the category has no samples
	Label   string
	Hours   []float64
}

// chartColors is the palette cycled across categories, shared by the HTML
// chart and the stat cards.
var chartColors = []string{"#667eea", "#f093fb", "#4facfe", "#43e97b"}

// colorFor returns the palette color for the i-th category.
func colorFor(i int) string {
	return chartColors[i%len(chartColors)]
}

// HistogramBins computes the shared bin labels covering every category:
// BinSize-wide bins from zero up to min(int(max)+BinSize, MaxBinCap),
// labeled "0-5", "5-10", and so on. At least one bin is always returned.
func HistogramBins(categories []Category) []string {
	var maxDays float64
	for _, cat := range categories {
		for _, h := range cat.Hours {
			if d := h / 24; d > maxDays {
				maxDays = d
			}
		}
	}

	upper := int(maxDays) + BinSize
	if upper > MaxBinCap {
		upper = MaxBinCap
	}

	labels := make([]string, 0, upper/BinSize)
	for lo := 0; lo < upper; lo += BinSize {
		labels = append(labels, fmt.Sprintf("%d-%d", lo, lo+BinSize))
	}
	return labels
}

// BinCounts buckets one category's samples into nbins shared bins. Samples
// past the final bin land in the final bin rather than being dropped.
func BinCounts(hours []float64, nbins int) []int {
	counts := make([]int, nbins)
	for _, h := range hours {
		idx := int(h / 24 / BinSize)
		if idx < 0 {
			idx = 0
		}
		if idx >= nbins {
			idx = nbins - 1
		}
		counts[idx]++
	}
	return counts
}
