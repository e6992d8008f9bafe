package flaky

import (
	"sort"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// PatternView clusters failed runs in a window by normalized signature.
type PatternView struct {
	Signature        string
	Category         model.FailureCategory
	Count            int
	Percentage       float64
	AffectedTests     []string
	AffectedBrowsers []string
}

// PatternViews clusters every failed (non-PASSED) record in records by its
// normalized first-line error signature, using the same normalization as
// the History Recorder (§4.G) so the two stay consistent.
func PatternViews(records []*model.RunHistory) []PatternView {
	type bucket struct {
		category model.FailureCategory
		count    int
		tests    map[string]bool
		browsers map[string]bool
	}
	buckets := make(map[string]*bucket)
	failedTotal := 0

	for _, rec := range records {
		if rec.Status == model.RunPassed {
			continue
		}
		failedTotal++
		sig := rec.ErrorSignature
		if sig == "" {
			sig = "(no signature recorded)"
		}
		b, ok := buckets[sig]
		if !ok {
			b = &bucket{category: rec.FailureType, tests: map[string]bool{}, browsers: map[string]bool{}}
			buckets[sig] = b
		}
		b.count++
		b.tests[rec.TestName] = true
		b.browsers[string(rec.Browser)] = true
	}

	var views []PatternView
	for sig, b := range buckets {
		pct := 0.0
		if failedTotal > 0 {
			pct = 100 * float64(b.count) / float64(failedTotal)
		}
		views = append(views, PatternView{
			Signature:        sig,
			Category:         b.category,
			Count:            b.count,
			Percentage:       pct,
			AffectedTests:    sortedKeys(b.tests),
			AffectedBrowsers: sortedKeys(b.browsers),
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Count != views[j].Count {
			return views[i].Count > views[j].Count
		}
		return views[i].Signature < views[j].Signature
	})
	return views
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
