package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
)

//go:embed templates
var templatesFS embed.FS

var reportTmpl = template.Must(template.ParseFS(templatesFS, "templates/report.html"))

// chartDataset is one Chart.js bar series.
type chartDataset struct {
	Label  string
	Fill   string // bar color with alpha suffix
	Border string
	Counts []int
}

// statCard is one pre-formatted summary card.
type statCard struct {
	Label  string
	Color  string
	Count  string
	Mean   string
	Median string
	P90    string
	Range  string
}

type reportPage struct {
	Repo      string
	BinLabels []string
	Datasets  []chartDataset
	Cards     []statCard
}

// WriteHTML renders the standalone histogram report for a repository.
// Resolution categories become chart datasets and stat cards; first-response
// categories have no place on a resolution-time axis, so they contribute
// stat cards only. Categories without samples are omitted entirely.
func WriteHTML(w io.Writer, repo string, resolution, firstResponse []Category) error {
	charted := withSamples(resolution)
	bins := HistogramBins(charted)

	page := reportPage{Repo: repo, BinLabels: bins}
	for i, cat := range charted {
		color := colorFor(i)
		page.Datasets = append(page.Datasets, chartDataset{
			Label:  cat.Label,
			Counts: BinCounts(cat.Hours, len(bins)),
			Fill:   color + "80",
			Border: color,
		})
		page.Cards = append(page.Cards, newCard(cat, color))
	}
	for i, cat := range withSamples(firstResponse) {
		page.Cards = append(page.Cards, newCard(cat, colorFor(len(charted)+i)))
	}

	if err := reportTmpl.Execute(w, page); err != nil {
		return fmt.Errorf("render HTML report: %w", err)
	}
	return nil
}

// withSamples drops categories that have nothing to plot.
func withSamples(categories []Category) []Category {
	kept := make([]Category, 0, len(categories))
	for _, cat := range categories {
		if len(cat.Hours) > 0 {
			kept = append(kept, cat)
		}
	}
	return kept
}

func newCard(cat Category, color string) statCard {
	s := cat.Summary
	if s == nil {
		s = stats.Summarize(cat.Hours)
	}
	return statCard{
		Label:  cat.Label,
		Color:  color,
		Count:  commas(s.Count),
		Mean:   fmt.Sprintf("%.1f days", s.MeanDays),
		Median: fmt.Sprintf("%.1f days", s.MedianDays),
		P90:    fmt.Sprintf("%.1f days", s.P90Days),
		Range:  fmt.Sprintf("%.1f - %.1f days", s.MinDays, s.MaxDays),
	}
}

// commas formats a non-negative count with thousands separators.
func commas(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
