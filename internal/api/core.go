// Package api realizes spec §6's Intake API operations table as a plain Go
// API (the Core struct) — the module's external interface is in-process, not HTTP; see
// cmd/qaengine for the wiring that calls it.
package api

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/qa-automation-core/internal/agent"
	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/artifact"
	"github.com/r3e-network/qa-automation-core/internal/cancel"
	"github.com/r3e-network/qa-automation-core/internal/flaky"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
	"github.com/r3e-network/qa-automation-core/internal/scheduler"
)

// TestStore is the Test-entity CRUD port, satisfied by
// persistence/memory.TestRepository and the Postgres equivalent.
type TestStore interface {
	Create(ctx context.Context, test *model.Test) error
	Get(ctx context.Context, id string) (*model.Test, error)
	Update(ctx context.Context, test *model.Test) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, activeOnly bool) ([]*model.Test, error)
}

// AgentStore persists AgentExecution records returned by agent.Agent.Run.
type AgentStore interface {
	Put(ctx context.Context, exec *model.AgentExecution) error
	Get(ctx context.Context, id string) (*model.AgentExecution, error)
	List(ctx context.Context) ([]*model.AgentExecution, error)
}

// AgentFactory builds an agent.Agent wired to whatever proposer the caller
// configures; Core only owns iteration bounds and lifecycle, never the
// proposer's implementation.
type AgentFactory func(cfg agent.Config) *agent.Agent

// Core is the in-process surface spec §6's Intake API operations table maps
// to. Each method's error result is an *apperrors.ServiceError wherever the
// component it delegates to returns one.
type Core struct {
	orch      *orchestrator.Orchestrator
	sched     *scheduler.Scheduler
	artifacts *artifact.Store
	tests     TestStore
	agents    AgentStore
	analyzer  *flaky.Analyzer
	newAgent  AgentFactory

	mu          sync.Mutex
	agentTokens map[string]*cancel.Token
}

// New wires a Core from its already-constructed components.
func New(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, artifacts *artifact.Store,
	tests TestStore, agents AgentStore, analyzer *flaky.Analyzer, newAgent AgentFactory) *Core {
	return &Core{
		orch: orch, sched: sched, artifacts: artifacts, tests: tests, agents: agents,
		analyzer: analyzer, newAgent: newAgent,
		agentTokens: make(map[string]*cancel.Token),
	}
}

// CreateTest registers a new Test with the given script.
func (c *Core) CreateTest(ctx context.Context, name string, framework model.Framework, script []model.Step, priority int) (string, error) {
	if err := ValidateScript(script); err != nil {
		return "", err
	}
	test := &model.Test{
		ID: uuid.NewString(), Name: name, Framework: framework, Script: script,
		Active: true, Priority: priority, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := c.tests.Create(ctx, test); err != nil {
		return "", apperrors.NewInternal("create test failed", test.ID, err)
	}
	return test.ID, nil
}

// SubmitRun queues a Run for testID.
func (c *Core) SubmitRun(ctx context.Context, testID string, opts orchestrator.SubmitOptions) (*model.Run, error) {
	return c.orch.Submit(ctx, testID, opts)
}

// GetRun returns one Run by id.
func (c *Core) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return c.orch.Get(ctx, runID)
}

// CancelRun requests cooperative cancellation of an in-flight Run.
func (c *Core) CancelRun(ctx context.Context, runID string) error {
	return c.orch.Cancel(ctx, runID)
}

// ListRuns lists Runs, optionally filtered by test id.
func (c *Core) ListRuns(ctx context.Context, filter orchestrator.ListFilter) ([]*model.Run, error) {
	return c.orch.List(ctx, filter)
}

// UploadArtifact stores bytes under runID/kind/logicalName and returns its
// opaque key (§6 intake: run id, kind, bytes, logical name → key).
func (c *Core) UploadArtifact(runID string, kind artifact.Kind, logicalName string, content []byte) (string, error) {
	return c.artifacts.Put(runID, kind, logicalName, content)
}

// DownloadArtifact retrieves a stream of previously stored bytes by key. The
// caller is responsible for closing it.
func (c *Core) DownloadArtifact(key string) (io.ReadCloser, error) {
	return c.artifacts.Get(key)
}

// DeleteArtifacts removes every artifact stored for runID, returning the
// count deleted (§6 intake: delete artifacts(run id) → count deleted).
func (c *Core) DeleteArtifacts(runID string) (int, error) {
	return c.artifacts.Delete(runID)
}

// ListArtifacts enumerates every artifact stored for runID.
func (c *Core) ListArtifacts(runID string) ([]artifact.Entry, error) {
	return c.artifacts.List(runID)
}

// ArtifactStats reports aggregate store statistics.
func (c *Core) ArtifactStats() (artifact.Stats, error) {
	return c.artifacts.StatsScan()
}

// SweepArtifacts deletes artifacts older than the given age, returning the
// count removed.
func (c *Core) SweepArtifacts(olderThan time.Duration) (int, error) {
	return c.artifacts.Sweep(olderThan)
}

// CreateSchedule registers a new cron-driven ScheduleEntry for testID.
func (c *Core) CreateSchedule(ctx context.Context, testID, cronExpr, timezone string) (string, error) {
	entry := &model.ScheduleEntry{ID: uuid.NewString(), TestID: testID, Cron: cronExpr, Timezone: timezone, Enabled: true}
	if err := c.sched.Create(ctx, entry); err != nil {
		return "", apperrors.NewValidation(fmt.Sprintf("invalid schedule: %v", err))
	}
	return entry.ID, nil
}

// EnableSchedule flips a schedule entry's Enabled flag on.
func (c *Core) EnableSchedule(ctx context.Context, id string) error { return c.sched.Enable(ctx, id) }

// DisableSchedule flips a schedule entry's Enabled flag off.
func (c *Core) DisableSchedule(ctx context.Context, id string) error { return c.sched.Disable(ctx, id) }

// TriggerSchedule injects an out-of-band run for a schedule entry.
func (c *Core) TriggerSchedule(ctx context.Context, id string) (*model.Run, error) {
	return c.sched.TriggerNow(ctx, id)
}

// Flaky returns the flaky(window) view (§4.H).
func (c *Core) Flaky(ctx context.Context, window flaky.Window) ([]flaky.FlakyView, error) {
	report, err := c.analyzer.Report(ctx, window)
	if err != nil {
		return nil, apperrors.NewInternal("flakiness analysis failed", "", err)
	}
	return report.Flaky, nil
}

// SuiteHealth returns the suite_health(window) view (§4.H).
func (c *Core) SuiteHealth(ctx context.Context, window flaky.Window) (flaky.Health, error) {
	report, err := c.analyzer.Report(ctx, window)
	if err != nil {
		return flaky.Health{}, apperrors.NewInternal("flakiness analysis failed", "", err)
	}
	return report.Health, nil
}

// StartAgent launches a bounded Fix Agent run against testID in the
// background and returns its AgentExecution id immediately; the run
// completes asynchronously and its final record is retrievable by id
// through AgentStore.
func (c *Core) StartAgent(ctx context.Context, testID string, cfg agent.Config) (string, error) {
	a := c.newAgent(cfg)
	token := cancel.New(context.Background())
	id := uuid.NewString()

	c.mu.Lock()
	c.agentTokens[id] = token
	c.mu.Unlock()

	go func() {
		exec := a.Run(context.Background(), testID, token)
		exec.ID = id
		_ = c.agents.Put(context.Background(), exec)
		c.mu.Lock()
		delete(c.agentTokens, id)
		c.mu.Unlock()
	}()

	return id, nil
}

// StopAgent sets the stop flag for a running agent execution. It is a
// no-op if the execution has already finished, and returns NOT_FOUND for
// an unknown id.
func (c *Core) StopAgent(id string) error {
	c.mu.Lock()
	token, ok := c.agentTokens[id]
	c.mu.Unlock()
	if !ok {
		if _, err := c.agents.Get(context.Background(), id); err == nil {
			return nil
		}
		return apperrors.NewNotFound("agent_execution", id)
	}
	token.Cancel()
	return nil
}

// GetAgentExecution returns the persisted record of an agent execution.
// The record is stored only once the execution has finished, so a
// still-running execution is reported as NOT_FOUND.
func (c *Core) GetAgentExecution(ctx context.Context, id string) (*model.AgentExecution, error) {
	return c.agents.Get(ctx, id)
}
