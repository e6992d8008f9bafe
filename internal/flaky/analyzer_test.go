package flaky

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

func mkRecord(test string, status model.RunStatus, durationMs int64, at time.Time) *model.RunHistory {
	return &model.RunHistory{TestName: test, Status: status, DurationMs: durationMs, ExecutedAt: at}
}

func TestStabilityViewsExcludesBelowMinObservations(t *testing.T) {
	records := []*model.RunHistory{
		mkRecord("t1", model.RunPassed, 100, time.Now()),
		mkRecord("t1", model.RunFailed, 100, time.Now()),
	}
	views := StabilityViews(records)
	assert.Empty(t, views, "fewer than MinObservations runs must be excluded")
}

func TestStabilityViewsLabelsByPassRate(t *testing.T) {
	now := time.Now()
	// t1: 10/10 pass -> STABLE
	var records []*model.RunHistory
	for i := 0; i < 10; i++ {
		records = append(records, mkRecord("t1", model.RunPassed, 100, now))
	}
	// t2: 5/10 pass -> FLAKY (pass_rate 50)
	for i := 0; i < 5; i++ {
		records = append(records, mkRecord("t2", model.RunPassed, 100, now))
		records = append(records, mkRecord("t2", model.RunFailed, 100, now))
	}
	views := StabilityViews(records)
	byName := map[string]FlakyView{}
	for _, v := range views {
		byName[v.TestName] = v
	}
	assert.Equal(t, Stable, byName["t1"].Label)
	assert.Equal(t, Flaky, byName["t2"].Label)
	assert.InDelta(t, 100.0, byName["t2"].FlakinessScore, 0.001)
}

func TestFlakyViewsExcludesStableAndSortsDescending(t *testing.T) {
	now := time.Now()
	var records []*model.RunHistory
	for i := 0; i < 10; i++ {
		records = append(records, mkRecord("stable", model.RunPassed, 100, now))
	}
	for i := 0; i < 3; i++ {
		records = append(records, mkRecord("veryflaky", model.RunPassed, 100, now))
	}
	for i := 0; i < 1; i++ {
		records = append(records, mkRecord("veryflaky", model.RunFailed, 100, now))
		records = append(records, mkRecord("veryflaky", model.RunFailed, 100, now))
	}
	for i := 0; i < 5; i++ {
		records = append(records, mkRecord("moderate", model.RunPassed, 100, now))
		records = append(records, mkRecord("moderate", model.RunFailed, 100, now))
	}

	flaky := FlakyViews(records)
	for _, v := range flaky {
		assert.NotEqual(t, "stable", v.TestName)
	}
	// "moderate" (pass_rate 50, score 100) should sort before "veryflaky" (pass_rate 60, score 80)
	assert.Equal(t, "moderate", flaky[0].TestName)
}

func TestSuiteHealthClampedAndReflectsFlakyFraction(t *testing.T) {
	now := time.Now()
	var records []*model.RunHistory
	for i := 0; i < 10; i++ {
		records = append(records, mkRecord("t1", model.RunPassed, 100, now))
	}
	health := SuiteHealth(records)
	assert.Equal(t, 1, health.TotalTests)
	assert.Equal(t, 0, health.FlakyTests)
	assert.InDelta(t, 100.0, health.Score, 0.001)
}

func TestPerfViewsComputesDistributionAndTrend(t *testing.T) {
	base := time.Now().Add(-1 * time.Hour)
	var records []*model.RunHistory
	for i, d := range []int64{100, 100, 100, 200, 200} {
		records = append(records, mkRecord("t1", model.RunPassed, d, base.Add(time.Duration(i)*time.Minute)))
	}
	views := PerfViews(records)
	assertPerf := views[0]
	assert.Equal(t, 5, assertPerf.Count)
	assert.Equal(t, Degrading, assertPerf.Trend) // second half (mean ~167ms) is >10% slower than first half (100ms)
}

func TestPerfViewsInsufficientDataBelowFiveSamples(t *testing.T) {
	now := time.Now()
	records := []*model.RunHistory{
		mkRecord("t1", model.RunPassed, 100, now),
		mkRecord("t1", model.RunPassed, 100, now),
	}
	views := PerfViews(records)
	assert.Equal(t, InsufficientData, views[0].Trend)
}

func TestPatternViewsGroupsBySignatureAndComputesPercentage(t *testing.T) {
	now := time.Now()
	records := []*model.RunHistory{
		{TestName: "t1", Status: model.RunFailed, ErrorSignature: "timeout waiting for STR", Browser: model.BrowserChromium, ExecutedAt: now},
		{TestName: "t2", Status: model.RunFailed, ErrorSignature: "timeout waiting for STR", Browser: model.BrowserFirefox, ExecutedAt: now},
		{TestName: "t3", Status: model.RunFailed, ErrorSignature: "element not found", Browser: model.BrowserChromium, ExecutedAt: now},
		{TestName: "t4", Status: model.RunPassed, ExecutedAt: now},
	}
	views := PatternViews(records)
	assert.Equal(t, "timeout waiting for STR", views[0].Signature)
	assert.Equal(t, 2, views[0].Count)
	assert.InDelta(t, 66.67, views[0].Percentage, 0.1)
	assert.ElementsMatch(t, []string{"t1", "t2"}, views[0].AffectedTests)
}
