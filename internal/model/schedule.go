package model

import "time"

// ScheduleEntry drives the Scheduler (§4.F).
type ScheduleEntry struct {
	ID         string
	TestID     string
	Cron       string
	Timezone   string
	Enabled    bool
	Running    bool
	LastRunTS  time.Time
	NextRunTS  time.Time
	Total      int
	Success    int
	Failure    int
	Missed     int
	LastStatus RunStatus
}

// RunHistory is an append-only record written per terminal Run (§3, §4.G).
type RunHistory struct {
	RunID          string
	TestName       string
	Status         RunStatus
	DurationMs     int64
	FailureType    FailureCategory
	ErrorSignature string
	Browser        BrowserKind
	Environment    string
	ExecutedAt     time.Time
}

// QualitySnapshot is one per calendar UTC day (§3, §4.G).
type QualitySnapshot struct {
	Date               time.Time // UTC midnight
	TotalAll           int
	TotalActive        int
	TotalStable        int
	TotalFlaky         int
	TotalFailing       int
	AvgPassRate        float64
	AvgFlakinessScore  float64
	OverallHealthScore float64
	TotalExecutions    int
	AvgExecutionMs     float64
}

// FailurePattern clusters failures by normalized signature (§3, §4.G).
type FailurePattern struct {
	TestName       string
	ErrorSignature string
	Category       FailureCategory
	Occurrences    int
	FirstSeen      time.Time
	LastSeen       time.Time
	ImpactScore    float64
	Resolved       bool
}
