package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// HistorySource reads RunHistory rows for a window; satisfied directly by
// history.Repository's ListHistory method.
type HistorySource interface {
	ListHistory(ctx context.Context, from, to time.Time) ([]*model.RunHistory, error)
}

// Report bundles every §4.H view computed for one window, the shape cached
// under a single Redis key.
type Report struct {
	Window    Window
	Flaky     []FlakyView
	Perf      []PerfView
	Patterns  []PatternView
	Health    Health
	Generated time.Time
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) cacheKey() string {
	return fmt.Sprintf("qa:flaky:report:%d:%d", w.From.Unix(), w.To.Unix())
}

// Analyzer answers §4.H queries over a window, caching the full computed
// Report in Redis for cfg TTL so repeated polls over the same window don't
// rescan the history table.
type Analyzer struct {
	source  HistorySource
	redis   *redis.Client
	ttl     time.Duration
	log     *logging.Logger
	metrics *metricsx.Metrics
}

// NewAnalyzer constructs an Analyzer. client may be nil, in which case
// every query recomputes (the cache is an optimization, never a
// correctness dependency).
func NewAnalyzer(source HistorySource, client *redis.Client, ttl time.Duration, log *logging.Logger, metrics *metricsx.Metrics) *Analyzer {
	return &Analyzer{source: source, redis: client, ttl: ttl, log: log, metrics: metrics}
}

// Report returns the full §4.H view set for window, serving from cache
// when available.
func (a *Analyzer) Report(ctx context.Context, window Window) (*Report, error) {
	if cached, ok := a.readCache(ctx, window); ok {
		a.metrics.AnalyzerCacheHits.Inc()
		return cached, nil
	}
	a.metrics.AnalyzerCacheMisses.Inc()

	records, err := a.source.ListHistory(ctx, window.From, window.To)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Window:    window,
		Flaky:     FlakyViews(records),
		Perf:      PerfViews(records),
		Patterns:  PatternViews(records),
		Health:    SuiteHealth(records),
		Generated: time.Now(),
	}
	a.metrics.FlakyTestsGauge.Set(float64(len(report.Flaky)))
	a.metrics.SuiteHealthScore.Set(report.Health.Score)

	a.writeCache(ctx, window, report)
	return report, nil
}

func (a *Analyzer) readCache(ctx context.Context, window Window) (*Report, bool) {
	if a.redis == nil {
		return nil, false
	}
	raw, err := a.redis.Get(ctx, window.cacheKey()).Bytes()
	if err != nil {
		return nil, false
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false
	}
	return &report, true
}

func (a *Analyzer) writeCache(ctx context.Context, window Window, report *Report) {
	if a.redis == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := a.redis.Set(ctx, window.cacheKey(), raw, a.ttl).Err(); err != nil {
		a.log.WithContext(ctx).WithError(err).Warn("flaky analyzer: redis cache write failed")
	}
}
