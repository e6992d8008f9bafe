// Package agent implements the Autonomous Fix Agent (§4.I): a bounded
// iteration loop that proposes, applies, and verifies candidate fixes for a
// flaky test, reverting anything that doesn't hold up under repeated
// verification runs. Grounded on the Execution Orchestrator's own
// submit/observe-and-poll shape (this package deliberately does not
// duplicate the orchestrator's retry or cancellation plumbing, only reuses
// it) and on the teacher's bounded-iteration worker patterns.
package agent

import (
	"context"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/flaky"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
)

// TestStore is the narrow Test-entity port the agent reads the current
// script from and writes proposed/reverted scripts through.
type TestStore interface {
	Get(ctx context.Context, id string) (*model.Test, error)
	Update(ctx context.Context, test *model.Test) error
}

// RunReader lets the agent poll a submitted verification run for its
// terminal status, satisfied directly by the orchestrator's RunRepository.
type RunReader interface {
	Get(ctx context.Context, runID string) (*model.Run, error)
}

// Submitter is the orchestrator slice the agent drives verification runs
// through — satisfied directly by *orchestrator.Orchestrator. Cancel lets
// a stop request reach a verification run that's still in flight (§8
// scenario 7), rather than only halting the agent's own poll loop and
// leaving the run to finish unattended.
type Submitter interface {
	Submit(ctx context.Context, testID string, opts orchestrator.SubmitOptions) (*model.Run, error)
	Cancel(ctx context.Context, runID string) error
}

// FlakinessSource answers "is this test still flaky" for step 1 of the
// loop, satisfied directly by *flaky.Analyzer.
type FlakinessSource interface {
	Report(ctx context.Context, window flaky.Window) (*flaky.Report, error)
}

// HistorySource supplies recent failure records for a test, passed to the
// proposer as context.
type HistorySource interface {
	ListHistory(ctx context.Context, from, to time.Time) ([]*model.RunHistory, error)
}

// Proposal is a candidate fix: a full replacement script plus the
// proposer's rationale for it. The agent applies and verifies Script
// without interpreting why it might work — that judgment is the
// proposer's.
type Proposal struct {
	Script    []model.Step
	Rationale string
}

// Proposer is the pluggable black box that suggests a candidate change for
// a flaky test. Implementations might call an LLM, a heuristic rule set,
// or a human-in-the-loop queue; the agent only needs a change set back.
type Proposer interface {
	Propose(ctx context.Context, test *model.Test, recentFailures []*model.RunHistory) (Proposal, error)
}
