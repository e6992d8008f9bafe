package history

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/persistence/memory"
)

func TestNormalizeSignatureStripsDigitsAndQuotedStrings(t *testing.T) {
	in := `element "#login-42" not found after 3000ms`
	got := NormalizeSignature(in)
	assert.Equal(t, "element STR not found after Nms", got)
}

func TestNormalizeSignatureTruncatesTo100(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	got := NormalizeSignature(long)
	assert.Len(t, got, maxSignatureLen)
}

func newTestRecorder(t *testing.T) (*Recorder, *memory.HistoryRepository, *memory.TestRepository) {
	t.Helper()
	log := logging.New("test", "error", "text")
	metrics := metricsx.New(prometheus.NewRegistry())
	store := memory.New()
	historyRepo := memory.NewHistoryRepository(store)
	testRepo := memory.NewTestRepository(store)
	r := New(8, log, metrics, historyRepo, testRepo)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r, historyRepo, testRepo
}

func TestObserveIgnoresNonTerminalRun(t *testing.T) {
	r, historyRepo, _ := newTestRecorder(t)
	r.Observe(&model.Run{ID: "r1", Status: model.RunRunning})
	time.Sleep(20 * time.Millisecond)
	recs, err := historyRepo.ListHistory(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestObservePersistsTerminalRunAndDerivesSignature(t *testing.T) {
	r, historyRepo, testRepo := newTestRecorder(t)
	require.NoError(t, testRepo.Create(context.Background(), &model.Test{ID: "t1", Name: "login-smoke", Active: true}))

	cat := model.CategoryTimeout
	run := &model.Run{
		ID: "r1", TestID: "t1", Status: model.RunFailed, FailureCategory: &cat,
		ErrorSummary: `timeout waiting for "#submit" after 5000ms`,
		StartTS:      time.Now(),
	}
	r.Observe(run)

	deadline := time.Now().Add(2 * time.Second)
	var recs []*model.RunHistory
	for time.Now().Before(deadline) {
		var err error
		recs, err = historyRepo.ListHistory(context.Background(), time.Time{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		if len(recs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, recs, 1)
	assert.Equal(t, "login-smoke", recs[0].TestName)
	assert.Equal(t, `timeout waiting for STR after Nms`, recs[0].ErrorSignature)

	patterns, err := historyRepo.ListPatterns(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].Occurrences)
}

func TestBuildDailySnapshotAggregatesWindow(t *testing.T) {
	r, historyRepo, testRepo := newTestRecorder(t)
	require.NoError(t, testRepo.Create(context.Background(), &model.Test{ID: "t1", Name: "smoke", Active: true}))

	today := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, historyRepo.AppendHistory(context.Background(), &model.RunHistory{
			TestName: "smoke", Status: model.RunPassed, DurationMs: 100, ExecutedAt: today,
		}))
	}

	require.NoError(t, r.BuildDailySnapshot(context.Background(), today))

	snap, ok, err := historyRepo.GetSnapshot(context.Background(), today)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, snap.TotalExecutions)
	assert.Equal(t, 1, snap.TotalStable)
	assert.InDelta(t, 100.0, snap.AvgPassRate, 0.001)
}
