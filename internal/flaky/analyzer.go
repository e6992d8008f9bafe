// Package flaky implements the Flakiness Analyzer (§4.H): pure,
// deterministic aggregation over a RunHistory window, plus a thin
// Redis-backed caching wrapper so repeated queries over the same window
// don't rescan the whole history table. Grounded on the teacher's
// pkg/metrics windowed-aggregation shape, generalized from Prometheus
// label vectors to test-history grouping.
package flaky

import (
	"math"
	"sort"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// MinObservations is the minimum run count a test needs in a window before
// it is scored at all (§4.H).
const MinObservations = 3

// StabilityLabel classifies a test's pass rate over a window.
type StabilityLabel string

const (
	Stable       StabilityLabel = "STABLE"
	MostlyStable StabilityLabel = "MOSTLY_STABLE"
	Flaky        StabilityLabel = "FLAKY"
	VeryFlaky    StabilityLabel = "VERY_FLAKY"
	Unreliable   StabilityLabel = "UNRELIABLE"
)

// flakyLabels is the set of labels that make a test count as "flaky" for
// the flaky(window) view and the suite health score.
var flakyLabels = map[StabilityLabel]bool{Flaky: true, VeryFlaky: true, Unreliable: true}

// LabelFor derives a StabilityLabel from a pass rate expressed 0-100.
func LabelFor(passRate float64) StabilityLabel {
	switch {
	case passRate >= 95:
		return Stable
	case passRate >= 80:
		return MostlyStable
	case passRate >= 50:
		return Flaky
	case passRate >= 20:
		return VeryFlaky
	default:
		return Unreliable
	}
}

// FlakyView is one test's stability summary over a window.
type FlakyView struct {
	TestName       string
	Total          int
	Passed         int
	PassRate       float64
	FlakinessScore float64
	Label          StabilityLabel
}

// GroupByTest buckets history records by TestName.
func GroupByTest(records []*model.RunHistory) map[string][]*model.RunHistory {
	groups := make(map[string][]*model.RunHistory)
	for _, rec := range records {
		groups[rec.TestName] = append(groups[rec.TestName], rec)
	}
	return groups
}

// StabilityViews computes a FlakyView for every test with at least
// MinObservations runs in records, in no particular order.
func StabilityViews(records []*model.RunHistory) []FlakyView {
	var views []FlakyView
	for name, group := range GroupByTest(records) {
		if len(group) < MinObservations {
			continue
		}
		passed := 0
		for _, rec := range group {
			if rec.Status == model.RunPassed {
				passed++
			}
		}
		passRate := 100 * float64(passed) / float64(len(group))
		views = append(views, FlakyView{
			TestName:       name,
			Total:          len(group),
			Passed:         passed,
			PassRate:       passRate,
			FlakinessScore: 100 - 2*math.Abs(passRate-50),
			Label:          LabelFor(passRate),
		})
	}
	return views
}

// FlakyViews returns only the tests labeled FLAKY or worse, sorted by
// flakiness_score descending (the "flaky tests" view, §4.H).
func FlakyViews(records []*model.RunHistory) []FlakyView {
	all := StabilityViews(records)
	var out []FlakyView
	for _, v := range all {
		if flakyLabels[v.Label] {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FlakinessScore != out[j].FlakinessScore {
			return out[i].FlakinessScore > out[j].FlakinessScore
		}
		return out[i].TestName < out[j].TestName // deterministic tiebreak
	})
	return out
}

// Health is the suite-wide rollup (§4.H).
type Health struct {
	TotalTests int
	FlakyTests int
	PassRate   float64
	Score      float64
}

// SuiteHealth computes the overall health score:
// clamp(0, 100, 0.7*pass_rate + (1-flaky/total)*30).
func SuiteHealth(records []*model.RunHistory) Health {
	views := StabilityViews(records)
	if len(views) == 0 {
		return Health{}
	}
	var totalPassRate float64
	flakyCount := 0
	for _, v := range views {
		totalPassRate += v.PassRate
		if flakyLabels[v.Label] {
			flakyCount++
		}
	}
	avgPassRate := totalPassRate / float64(len(views))
	flakyFraction := float64(flakyCount) / float64(len(views))
	score := 0.7*avgPassRate + (1-flakyFraction)*30
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Health{
		TotalTests: len(views),
		FlakyTests: flakyCount,
		PassRate:   avgPassRate,
		Score:      score,
	}
}
