package model

import "time"

// AgentStatus is an AgentExecution's lifecycle state (§3, §4.I).
type AgentStatus string

const (
	AgentRunning        AgentStatus = "RUNNING"
	AgentWaiting        AgentStatus = "WAITING"
	AgentSucceeded      AgentStatus = "SUCCEEDED"
	AgentFailed         AgentStatus = "FAILED"
	AgentStopped        AgentStatus = "STOPPED"
	AgentTimeout        AgentStatus = "TIMEOUT"
	AgentBudgetExceeded AgentStatus = "BUDGET_EXCEEDED"
)

// IsTerminal reports whether status is a write-once terminal AgentExecution
// status.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentSucceeded, AgentFailed, AgentStopped, AgentTimeout, AgentBudgetExceeded:
		return true
	default:
		return false
	}
}

// ActionLogEntry is one append-only entry in an AgentExecution's action log.
type ActionLogEntry struct {
	Iteration int
	Kind      string
	Input     string
	Output    string
	Err       string
	Cost      float64
	Timestamp time.Time
}

// AgentExecution is one run of the autonomous Fix Agent loop (§3, §4.I).
type AgentExecution struct {
	ID           string
	AgentKind    string
	Status       AgentStatus
	Goal         string
	CurrentIter  int
	MaxIter      int
	StartedAt    time.Time
	CompletedAt  *time.Time
	TotalCost    float64
	ActionLog    []ActionLogEntry
}
