package stats

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil); got != nil {
		t.Errorf("Summarize(nil) = %+v, want nil", got)
	}
	if got := Summarize([]float64{}); got != nil {
		t.Errorf("Summarize([]) = %+v, want nil", got)
	}
}

func TestSummarizeSingleSample(t *testing.T) {
	s := Summarize([]float64{10})
	if s == nil {
		t.Fatal("Summarize() = nil, want summary")
	}

	if s.Count != 1 {
		t.Errorf("Count = %d, want 1", s.Count)
	}
	if s.StdDevDays != 0 {
		t.Errorf("StdDevDays = %v, want 0", s.StdDevDays)
	}
	wantDays := 10.0 / 24
	for name, got := range map[string]float64{
		"MeanDays":   s.MeanDays,
		"MedianDays": s.MedianDays,
		"MinDays":    s.MinDays,
		"MaxDays":    s.MaxDays,
		"P25Days":    s.P25Days,
		"P75Days":    s.P75Days,
		"P90Days":    s.P90Days,
		"P95Days":    s.P95Days,
	} {
		if !approxEqual(got, wantDays) {
			t.Errorf("%s = %v, want %v", name, got, wantDays)
		}
	}
	if !approxEqual(s.MeanHours, 10) || !approxEqual(s.MedianHours, 10) {
		t.Errorf("MeanHours, MedianHours = %v, %v, want 10, 10", s.MeanHours, s.MedianHours)
	}
}

func TestSummarizePercentileIndex(t *testing.T) {
	// Ten samples: p90 must land on sorted[floor(10*0.9)] = sorted[9], the
	// max, and p25 on sorted[floor(10*0.25)] = sorted[2].
	hours := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	s := Summarize(hours)
	if s == nil {
		t.Fatal("Summarize() = nil, want summary")
	}

	if !approxEqual(s.P90Days, 10.0/24) {
		t.Errorf("P90Days = %v, want %v", s.P90Days, 10.0/24)
	}
	if !approxEqual(s.P25Days, 3.0/24) {
		t.Errorf("P25Days = %v, want %v", s.P25Days, 3.0/24)
	}
	if !approxEqual(s.P75Days, 8.0/24) {
		t.Errorf("P75Days = %v, want %v", s.P75Days, 8.0/24)
	}
	if !approxEqual(s.P95Days, 10.0/24) {
		t.Errorf("P95Days = %v, want %v", s.P95Days, 10.0/24)
	}
	if !approxEqual(s.MedianHours, 5.5) {
		t.Errorf("MedianHours = %v, want 5.5", s.MedianHours)
	}
}

func TestSummarizeMonotonicPercentiles(t *testing.T) {
	tests := []struct {
		name  string
		hours []float64
	}{
		{name: "ascending", hours: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "unsorted", hours: []float64{480, 2, 99, 31, 7.5, 240, 0.25}},
		{name: "duplicates", hours: []float64{24, 24, 24, 48, 48}},
		{name: "two samples", hours: []float64{12, 36}},
		{name: "negative under malformed data", hours: []float64{-4, 10, 22}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.hours)
			if s == nil {
				t.Fatal("Summarize() = nil, want summary")
			}
			if s.Count != len(tt.hours) {
				t.Errorf("Count = %d, want %d", s.Count, len(tt.hours))
			}
			ordered := []struct {
				name  string
				value float64
			}{
				{"MinDays", s.MinDays},
				{"P25Days", s.P25Days},
				{"MedianDays", s.MedianDays},
				{"P75Days", s.P75Days},
				{"P90Days", s.P90Days},
				{"P95Days", s.P95Days},
				{"MaxDays", s.MaxDays},
			}
			for i := 1; i < len(ordered); i++ {
				if ordered[i-1].value > ordered[i].value+1e-9 {
					t.Errorf("%s = %v > %s = %v, want non-decreasing",
						ordered[i-1].name, ordered[i-1].value, ordered[i].name, ordered[i].value)
				}
			}
		})
	}
}

func TestSummarizeStdDev(t *testing.T) {
	// Sample (n-1) formula over days: hours {24, 48, 72} -> days {1, 2, 3},
	// variance ((1)^2 + 0 + (1)^2) / 2 = 1.
	s := Summarize([]float64{24, 48, 72})
	if s == nil {
		t.Fatal("Summarize() = nil, want summary")
	}
	if !approxEqual(s.StdDevDays, 1) {
		t.Errorf("StdDevDays = %v, want 1", s.StdDevDays)
	}
}

func TestSummarizeResolutionScenario(t *testing.T) {
	issues := []Issue{
		closedIssue(1, 24),
		closedIssue(2, 48),
		closedIssue(3, 72),
	}

	s := Summarize(ResolutionDurations(issues))
	if s == nil {
		t.Fatal("Summarize() = nil, want summary")
	}

	if s.Count != 3 {
		t.Errorf("Count = %d, want 3", s.Count)
	}
	if !approxEqual(s.MeanDays, 2.0) {
		t.Errorf("MeanDays = %v, want 2.0", s.MeanDays)
	}
	if !approxEqual(s.MedianDays, 2.0) {
		t.Errorf("MedianDays = %v, want 2.0", s.MedianDays)
	}
	if !approxEqual(s.MinDays, 1.0) {
		t.Errorf("MinDays = %v, want 1.0", s.MinDays)
	}
	if !approxEqual(s.MaxDays, 3.0) {
		t.Errorf("MaxDays = %v, want 3.0", s.MaxDays)
	}
}
