// Package memory provides the default in-process persistence adapter:
// every repository port the core defines, backed by plain maps guarded by
// a mutex. It is the execution core's zero-configuration default; the
// Postgres adapter in internal/persistence/postgres implements the same
// ports for production deployments (spec §6's pluggable-store design).
package memory

import (
	"sync"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

type testRecord = model.Test
type runRecord = model.Run
type scheduleRecord = model.ScheduleEntry
type historyRecord = model.RunHistory
type patternRecord = model.FailurePattern
type snapshotRecord = model.QualitySnapshot
type agentRecord = model.AgentExecution

// Store is the shared in-memory backing for every repository adapter in
// this package. One Store is constructed per process and handed to each
// per-concern repository wrapper (Runs, Tests, Schedules, History, Agents).
type Store struct {
	mu sync.RWMutex

	tests     map[string]testRecord
	runs      map[string]runRecord
	schedules map[string]scheduleRecord
	history   []historyRecord
	patterns  map[string]patternRecord
	snapshots map[string]snapshotRecord
	agents    map[string]agentRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tests:     make(map[string]testRecord),
		runs:      make(map[string]runRecord),
		schedules: make(map[string]scheduleRecord),
		patterns:  make(map[string]patternRecord),
		snapshots: make(map[string]snapshotRecord),
		agents:    make(map[string]agentRecord),
	}
}
