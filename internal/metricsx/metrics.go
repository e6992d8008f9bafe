// Package metricsx provides Prometheus metrics for the execution core,
// following the collector-group shape of the teacher's
// infrastructure/metrics package but scoped to orchestrator/scheduler/agent
// concerns instead of HTTP/blockchain/database ones.
package metricsx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the execution core registers. Constructed
// once at startup and passed down through component constructors — never a
// package global, per spec §9.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	WorkersBusy       prometheus.Gauge
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	RetryAttempts     prometheus.Counter
	BackpressureTotal prometheus.Counter

	ScheduleDueTotal       prometheus.Counter
	ScheduleSkippedTotal   prometheus.Counter
	ScheduleMissedTotal    prometheus.Counter
	ScheduleSubmittedTotal prometheus.Counter

	AgentIterations   prometheus.Counter
	AgentCostSpent    prometheus.Gauge
	AgentOutcomeTotal *prometheus.CounterVec

	HistoryRecordedTotal prometheus.Counter
	HistoryDroppedTotal  prometheus.Counter
	PatternsTotal        prometheus.Gauge

	FlakyTestsGauge     prometheus.Gauge
	SuiteHealthScore    prometheus.Gauge
	AnalyzerCacheHits   prometheus.Counter
	AnalyzerCacheMisses prometheus.Counter

	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
}

// New creates a Metrics instance registered against registerer. Pass
// prometheus.NewRegistry() in tests to avoid collisions with other test
// cases registering the same collector names against the default registry.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_orchestrator_queue_depth",
			Help: "Current number of queued runs awaiting a worker.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_orchestrator_workers_busy",
			Help: "Current number of workers executing a run.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qa_orchestrator_runs_total",
			Help: "Total terminal runs by status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qa_orchestrator_run_duration_seconds",
			Help:    "Run duration from dequeue to terminal status.",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_orchestrator_retry_attempts_total",
			Help: "Total retry attempts issued by the retry engine.",
		}),
		BackpressureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_orchestrator_backpressure_total",
			Help: "Total submissions rejected because the queue was full.",
		}),
		ScheduleDueTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_scheduler_due_total",
			Help: "Total schedule entries observed due across all ticks.",
		}),
		ScheduleSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_scheduler_overlap_skipped_total",
			Help: "Total due fires skipped because a prior run was still live.",
		}),
		ScheduleMissedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_scheduler_missed_fires_total",
			Help: "Total missed fires collapsed by the catch-up policy.",
		}),
		ScheduleSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_scheduler_submitted_total",
			Help: "Total jobs submitted to the orchestrator by the scheduler.",
		}),
		AgentIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_agent_iterations_total",
			Help: "Total fix-agent iterations executed across all agent runs.",
		}),
		AgentCostSpent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_agent_cost_spent",
			Help: "Cumulative cost spent by the currently tracked agent execution.",
		}),
		AgentOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qa_agent_outcome_total",
			Help: "Total agent executions by terminal status.",
		}, []string{"status"}),
		HistoryRecordedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_history_recorded_total",
			Help: "Total terminal run records persisted by the history recorder.",
		}),
		HistoryDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_history_dropped_total",
			Help: "Total terminal run records dropped because the history channel was full.",
		}),
		PatternsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_history_patterns_total",
			Help: "Current number of distinct failure patterns tracked.",
		}),
		FlakyTestsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_analyzer_flaky_tests",
			Help: "Number of tests labeled flaky or worse in the most recent analysis window.",
		}),
		SuiteHealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_analyzer_suite_health_score",
			Help: "Most recently computed suite health score (0-100).",
		}),
		AnalyzerCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_analyzer_cache_hits_total",
			Help: "Total analyzer queries served from the Redis result cache.",
		}),
		AnalyzerCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qa_analyzer_cache_misses_total",
			Help: "Total analyzer queries that recomputed instead of hitting the Redis cache.",
		}),
		HostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_host_cpu_percent",
			Help: "Host CPU utilization observed via gopsutil.",
		}),
		HostMemoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qa_host_memory_percent",
			Help: "Host memory utilization observed via gopsutil.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.QueueDepth, m.WorkersBusy, m.RunsTotal, m.RunDuration,
			m.RetryAttempts, m.BackpressureTotal,
			m.ScheduleDueTotal, m.ScheduleSkippedTotal, m.ScheduleMissedTotal, m.ScheduleSubmittedTotal,
			m.AgentIterations, m.AgentCostSpent, m.AgentOutcomeTotal,
			m.HistoryRecordedTotal, m.HistoryDroppedTotal, m.PatternsTotal,
			m.FlakyTestsGauge, m.SuiteHealthScore, m.AnalyzerCacheHits, m.AnalyzerCacheMisses,
			m.HostCPUPercent, m.HostMemoryPercent,
		)
	}

	return m
}

// ObserveRun records one terminal run's status and wall-clock duration.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}
