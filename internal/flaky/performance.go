package flaky

import (
	"math"
	"sort"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// Trend classifies a test's duration trend across a window.
type Trend string

const (
	Degrading        Trend = "DEGRADING"
	Improving        Trend = "IMPROVING"
	StableTrend      Trend = "STABLE"
	InsufficientData Trend = "INSUFFICIENT_DATA"
)

// PerfView is one test's duration distribution and trend over a window.
type PerfView struct {
	TestName string
	Count    int
	Median   float64
	Mean     float64
	Min      float64
	Max      float64
	StdDev   float64
	Trend    Trend
}

// PerfViews computes a PerfView per test, in no particular order. Unlike
// StabilityViews, there is no MinObservations floor — a single run still
// gets a (degenerate) perf view, just with Trend=INSUFFICIENT_DATA.
func PerfViews(records []*model.RunHistory) []PerfView {
	var views []PerfView
	for name, group := range GroupByTest(records) {
		sort.Slice(group, func(i, j int) bool { return group[i].ExecutedAt.Before(group[j].ExecutedAt) })

		durations := make([]float64, len(group))
		for i, rec := range group {
			durations[i] = float64(rec.DurationMs)
		}

		views = append(views, PerfView{
			TestName: name,
			Count:    len(group),
			Median:   median(durations),
			Mean:     mean(durations),
			Min:      minOf(durations),
			Max:      maxOf(durations),
			StdDev:   stddev(durations),
			Trend:    trendFor(durations),
		})
	}
	return views
}

// trendFor compares the mean of the first half of durations (in execution
// order) to the mean of the second half: >=10% slower is DEGRADING, >=10%
// faster is IMPROVING, otherwise STABLE. Fewer than 5 samples is
// INSUFFICIENT_DATA.
func trendFor(durations []float64) Trend {
	if len(durations) < 5 {
		return InsufficientData
	}
	mid := len(durations) / 2
	firstHalf := mean(durations[:mid])
	secondHalf := mean(durations[mid:])
	if firstHalf == 0 {
		return StableTrend
	}
	change := (secondHalf - firstHalf) / firstHalf
	switch {
	case change >= 0.10:
		return Degrading
	case change <= -0.10:
		return Improving
	default:
		return StableTrend
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func minOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
