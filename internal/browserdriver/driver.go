// Package browserdriver defines the narrow Browser Driver Port (spec §4.B)
// the Execution Orchestrator steps through, and a concrete implementation
// backed by github.com/go-rod/rod, grounded on the launcher/page/screenshot
// pattern in the example pack's browser session manager — trimmed to the
// handful of step primitives the orchestrator actually drives, instead of
// that manager's full DOM-ingestion surface.
package browserdriver

import (
	"context"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/classifier"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// StepOutcome is what executing one Step against a live session reports
// back to the caller.
type StepOutcome struct {
	Success       bool
	ExceptionKind string
	Message       string
	Phase         classifier.Phase
}

// Session is one opened browser context. A Test's whole Run executes
// against a single Session.
type Session interface {
	// Execute runs one script step and reports its outcome.
	Execute(ctx context.Context, step model.Step) StepOutcome
	// Screenshot captures the current page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the underlying browser context. Idempotent.
	Close() error
}

// LaunchOptions configures Open.
type LaunchOptions struct {
	Browser         model.BrowserKind
	Headless        bool
	DefaultTimeout  time.Duration
	ViewportWidth   int
	ViewportHeight  int
}

// Driver opens Sessions. The Orchestrator holds one Driver and opens one
// Session per Run.
type Driver interface {
	Open(ctx context.Context, opts LaunchOptions) (Session, error)
}
