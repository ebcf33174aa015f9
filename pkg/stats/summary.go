package stats

import (
	"math"
	"slices"
)

// hoursPerDay converts duration samples from hours to days.
const hoursPerDay = 24

// Summary holds descriptive statistics for one set of duration samples.
// Day-based fields are derived from the hour samples divided by 24.
type Summary struct {
	Count       int     `json:"count"`
	MeanHours   float64 `json:"mean_hours"`
	MedianHours float64 `json:"median_hours"`
	MeanDays    float64 `json:"mean_days"`
	MedianDays  float64 `json:"median_days"`
	MinDays     float64 `json:"min_days"`
	MaxDays     float64 `json:"max_days"`
	StdDevDays  float64 `json:"std_dev_days"`
	P25Days     float64 `json:"p25_days"`
	P75Days     float64 `json:"p75_days"`
	P90Days     float64 `json:"p90_days"`
	P95Days     float64 `json:"p95_days"`
}

// Summarize reduces duration samples (hours) to a Summary. It returns nil
// for an empty input so callers can tell "no data" apart from all-zero
// values.
//
// Percentiles use the nearest-rank round-down method: the ascending-sorted
// sample at index floor(n*p). Existing reports depend on this exact
// formula, so it must not be swapped for an interpolated one.
func Summarize(hours []float64) *Summary {
	if len(hours) == 0 {
		return nil
	}

	days := make([]float64, len(hours))
	for i, h := range hours {
		days[i] = h / hoursPerDay
	}

	sorted := slices.Clone(days)
	slices.Sort(sorted)

	return &Summary{
		Count:       len(hours),
		MeanHours:   mean(hours),
		MedianHours: median(hours),
		MeanDays:    mean(days),
		MedianDays:  median(days),
		MinDays:     sorted[0],
		MaxDays:     sorted[len(sorted)-1],
		StdDevDays:  stdDev(days),
		P25Days:     percentile(sorted, 0.25),
		P75Days:     percentile(sorted, 0.75),
		P90Days:     percentile(sorted, 0.90),
		P95Days:     percentile(sorted, 0.95),
	}
}

// mean returns the arithmetic mean of vals. Callers guarantee len > 0.
func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// median returns the middle value of the sorted samples, or the mean of the
// two middle values for an even count.
func median(vals []float64) float64 {
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// stdDev returns the sample (n-1 denominator) standard deviation, defined
// as 0 for fewer than two samples.
func stdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var sum float64
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

// percentile returns the nearest-rank round-down percentile of an
// ascending-sorted sample set: sorted[floor(n*p)].
func percentile(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
