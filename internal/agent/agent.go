package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/qa-automation-core/internal/cancel"
	"github.com/r3e-network/qa-automation-core/internal/flaky"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
)

// Config bounds a Fix Agent execution (§4.I).
type Config struct {
	MaxIter          int
	VerificationRuns int
	Budget           float64
	ProposalCost     float64
	Deadline         time.Duration
	AnalysisWindow   time.Duration
	PollInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIter <= 0 {
		c.MaxIter = 10
	}
	if c.VerificationRuns <= 0 {
		c.VerificationRuns = 5
	}
	if c.Deadline <= 0 {
		c.Deadline = 30 * time.Minute
	}
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = 7 * 24 * time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// Agent drives one instance of the bounded stabilize-a-flaky-test loop.
// Unlike the Orchestrator and Scheduler, an Agent is not a long-running
// service: one is constructed and Run once per fix attempt.
type Agent struct {
	cfg      Config
	log      *logging.Logger
	metrics  *metricsx.Metrics
	tests    TestStore
	runs     RunReader
	submit   Submitter
	analyzer FlakinessSource
	history  HistorySource
	proposer Proposer
}

// New constructs an Agent.
func New(cfg Config, log *logging.Logger, metrics *metricsx.Metrics, tests TestStore, runs RunReader,
	submit Submitter, analyzer FlakinessSource, history HistorySource, proposer Proposer) *Agent {
	return &Agent{
		cfg: cfg.withDefaults(), log: log, metrics: metrics,
		tests: tests, runs: runs, submit: submit, analyzer: analyzer, history: history, proposer: proposer,
	}
}

// loopEnd identifies why the loop ended, distinct from a proposer or
// submit error, so Run can pick the right terminal AgentStatus.
type loopEnd struct {
	status model.AgentStatus
	reason string
}

// Run executes the bounded loop for testID until it stabilizes, the bounds
// are hit, or token is cancelled. It never returns an error — every
// terminating condition is captured in the returned AgentExecution's
// Status and ActionLog.
func (a *Agent) Run(ctx context.Context, testID string, token *cancel.Token) *model.AgentExecution {
	exec := &model.AgentExecution{
		ID:        uuid.NewString(),
		AgentKind: "fix-agent",
		Status:    model.AgentRunning,
		Goal:      fmt.Sprintf("stabilize test %s", testID),
		MaxIter:   a.cfg.MaxIter,
		StartedAt: time.Now(),
	}
	deadline := exec.StartedAt.Add(a.cfg.Deadline)

	for iter := 1; iter <= a.cfg.MaxIter; iter++ {
		exec.CurrentIter = iter
		a.metrics.AgentIterations.Inc()

		if end := a.checkBounds(token, deadline, exec); end != nil {
			a.finish(exec, end.status, end.reason)
			return exec
		}

		test, err := a.tests.Get(ctx, testID)
		if err != nil {
			a.logAction(exec, iter, "load_test", testID, "", err)
			a.finish(exec, model.AgentFailed, "test lookup failed: "+err.Error())
			return exec
		}

		stillFlaky, err := a.isFlaky(ctx, test.Name)
		if err != nil {
			a.logAction(exec, iter, "confirm_flaky", test.Name, "", err)
			a.finish(exec, model.AgentFailed, "flakiness check failed: "+err.Error())
			return exec
		}
		if !stillFlaky {
			a.logAction(exec, iter, "confirm_flaky", test.Name, "no longer flaky", nil)
			a.finish(exec, model.AgentSucceeded, "test is no longer flaky")
			return exec
		}

		if exec.TotalCost+a.cfg.ProposalCost > a.cfg.Budget {
			a.finish(exec, model.AgentBudgetExceeded, "proposer call would exceed budget")
			return exec
		}

		recent, _ := a.recentFailures(ctx, test.Name)
		proposal, err := a.proposer.Propose(ctx, test, recent)
		exec.TotalCost += a.cfg.ProposalCost
		a.metrics.AgentCostSpent.Set(exec.TotalCost)
		if err != nil {
			a.logAction(exec, iter, "propose", test.Name, "", err)
			continue // a failed proposal this iteration doesn't exhaust the loop's bounds
		}
		a.logAction(exec, iter, "propose", test.Name, proposal.Rationale, nil)

		original := test.Script
		test.Script = proposal.Script
		if err := a.tests.Update(ctx, test); err != nil {
			a.logAction(exec, iter, "apply", test.Name, "", err)
			a.finish(exec, model.AgentFailed, "applying proposed change failed: "+err.Error())
			return exec
		}
		a.logAction(exec, iter, "apply", test.Name, "change applied", nil)

		stable, verifyErr := a.verify(ctx, testID, token, deadline)
		if stable {
			a.logAction(exec, iter, "verify", test.Name, fmt.Sprintf("%d/%d runs passed", a.cfg.VerificationRuns, a.cfg.VerificationRuns), nil)
			a.finish(exec, model.AgentSucceeded, "change verified stable")
			return exec
		}

		test.Script = original
		if err := a.tests.Update(ctx, test); err != nil {
			a.logAction(exec, iter, "revert", test.Name, "", err)
			a.finish(exec, model.AgentFailed, "reverting failed change failed: "+err.Error())
			return exec
		}
		reason := "verification did not stabilize the test"
		if verifyErr != nil {
			reason = verifyErr.Error()
		}
		a.logAction(exec, iter, "revert", test.Name, reason, nil)

		if end := a.checkBounds(token, deadline, exec); end != nil {
			a.finish(exec, end.status, end.reason)
			return exec
		}
	}

	a.finish(exec, model.AgentFailed, "exhausted max_iter without a stable fix")
	return exec
}

// checkBounds reports the loop-ending condition, if any, checked between
// iterations and between verification runs (§4.I, §5).
func (a *Agent) checkBounds(token *cancel.Token, deadline time.Time, exec *model.AgentExecution) *loopEnd {
	if token.IsCancelled() {
		return &loopEnd{model.AgentStopped, "stop flag set"}
	}
	if time.Now().After(deadline) {
		return &loopEnd{model.AgentTimeout, "wall-clock deadline exceeded"}
	}
	return nil
}

func (a *Agent) isFlaky(ctx context.Context, testName string) (bool, error) {
	now := time.Now()
	report, err := a.analyzer.Report(ctx, flaky.Window{From: now.Add(-a.cfg.AnalysisWindow), To: now})
	if err != nil {
		return false, err
	}
	for _, v := range report.Flaky {
		if v.TestName == testName {
			return true, nil
		}
	}
	return false, nil
}

func (a *Agent) recentFailures(ctx context.Context, testName string) ([]*model.RunHistory, error) {
	if a.history == nil {
		return nil, nil
	}
	now := time.Now()
	all, err := a.history.ListHistory(ctx, now.Add(-a.cfg.AnalysisWindow), now)
	if err != nil {
		return nil, err
	}
	var out []*model.RunHistory
	for _, rec := range all {
		if rec.TestName == testName && rec.Status != model.RunPassed {
			out = append(out, rec)
		}
	}
	return out, nil
}

// verify runs testID VerificationRuns times sequentially via the
// orchestrator, each with a fresh browser context (a fresh Run, which the
// orchestrator always executes with a fresh driver session per attempt).
// All runs must PASS for the change to be considered stable.
func (a *Agent) verify(ctx context.Context, testID string, token *cancel.Token, deadline time.Time) (bool, error) {
	for i := 0; i < a.cfg.VerificationRuns; i++ {
		if token.IsCancelled() {
			return false, fmt.Errorf("stop flag set during verification")
		}
		if time.Now().After(deadline) {
			return false, fmt.Errorf("deadline exceeded during verification")
		}

		run, err := a.submit.Submit(ctx, testID, orchestrator.SubmitOptions{TriggeredBy: model.TriggerAgent})
		if err != nil {
			return false, fmt.Errorf("submit verification run: %w", err)
		}

		final, err := a.awaitTerminal(ctx, run.ID, token, deadline)
		if err != nil {
			return false, err
		}
		if final.Status != model.RunPassed {
			return false, nil
		}
	}
	return true, nil
}

func (a *Agent) awaitTerminal(ctx context.Context, runID string, token *cancel.Token, deadline time.Time) (*model.Run, error) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		run, err := a.runs.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			_ = a.submit.Cancel(context.Background(), runID)
			return nil, ctx.Err()
		case <-token.Done():
			// The current verification run is cancelled via the orchestrator
			// rather than left to finish unattended (§8 scenario 7).
			_ = a.submit.Cancel(context.Background(), runID)
			return nil, fmt.Errorf("stop flag set while awaiting verification run")
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("deadline exceeded awaiting verification run")
			}
		}
	}
}

func (a *Agent) logAction(exec *model.AgentExecution, iter int, kind, input, output string, err error) {
	entry := model.ActionLogEntry{Iteration: iter, Kind: kind, Input: input, Output: output, Timestamp: time.Now()}
	if err != nil {
		entry.Err = err.Error()
	}
	exec.ActionLog = append(exec.ActionLog, entry)
}

func (a *Agent) finish(exec *model.AgentExecution, status model.AgentStatus, reason string) {
	now := time.Now()
	exec.Status = status
	exec.CompletedAt = &now
	a.logAction(exec, exec.CurrentIter, "finish", "", reason, nil)
	a.metrics.AgentOutcomeTotal.WithLabelValues(string(status)).Inc()
	a.log.WithField("agent_id", exec.ID).WithField("status", string(status)).Info("fix agent finished: " + reason)
}
