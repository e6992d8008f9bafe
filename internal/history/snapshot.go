package history

import (
	"context"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/flaky"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// BuildDailySnapshot aggregates the 24-hour UTC window that starts at
// midnight of day's calendar date into a QualitySnapshot and persists it.
// It does not run its own loop, and nothing in this module calls it
// periodically; the caller picks the day.
func (r *Recorder) BuildDailySnapshot(ctx context.Context, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	records, err := r.repo.ListHistory(ctx, dayStart, dayEnd)
	if err != nil {
		return err
	}
	patterns, err := r.repo.ListPatterns(ctx)
	if err != nil {
		return err
	}

	snap := aggregateSnapshot(dayStart, records)
	if err := r.repo.PutSnapshot(ctx, &snap); err != nil {
		return err
	}
	r.metrics.PatternsTotal.Set(float64(len(patterns)))
	return nil
}

// aggregateSnapshot rolls one day's history records up into a
// QualitySnapshot, reusing the Flakiness Analyzer's stability
// classification (§4.G/§4.H share the same per-test labeling) so the daily
// rollup and the live flaky(window) view never disagree on what counts as
// flaky.
func aggregateSnapshot(day time.Time, records []*model.RunHistory) model.QualitySnapshot {
	views := flaky.StabilityViews(records)
	health := flaky.SuiteHealth(records)

	snap := model.QualitySnapshot{
		Date:            day,
		TotalAll:        len(views),
		TotalActive:     len(views),
		TotalExecutions: len(records),
	}

	var totalDurationMs float64
	for _, rec := range records {
		totalDurationMs += float64(rec.DurationMs)
	}
	if len(records) > 0 {
		snap.AvgExecutionMs = totalDurationMs / float64(len(records))
	}

	var sumPassRate, sumFlakinessScore float64
	for _, v := range views {
		sumPassRate += v.PassRate
		sumFlakinessScore += v.FlakinessScore
		switch v.Label {
		case flaky.Stable, flaky.MostlyStable:
			snap.TotalStable++
		case flaky.Flaky, flaky.VeryFlaky:
			snap.TotalFlaky++
		case flaky.Unreliable:
			snap.TotalFailing++
		}
	}
	if len(views) > 0 {
		snap.AvgPassRate = sumPassRate / float64(len(views))
		snap.AvgFlakinessScore = sumFlakinessScore / float64(len(views))
	}
	snap.OverallHealthScore = health.Score
	return snap
}
