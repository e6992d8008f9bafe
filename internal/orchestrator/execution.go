package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/browserdriver"
	"github.com/r3e-network/qa-automation-core/internal/cancel"
	"github.com/r3e-network/qa-automation-core/internal/classifier"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/retry"
)

// runOutcome is the script-execution algorithm's result, folded back into
// the Run record by executeJob.
type runOutcome struct {
	status       model.RunStatus
	category     *model.FailureCategory
	summary      string
	attempts     int
	artifactRefs []string
	logRef       string
}

// runScript drives test.Script through the Retry Engine: each attempt opens
// a fresh browser session and replays the script from step 1 (run is the
// unit of retry, per §4.E), capturing a screenshot on every step failure
// and a run log at termination.
func (o *Orchestrator) runScript(ctx context.Context, run *model.Run, token *cancel.Token, test *model.Test, policy retry.Policy) runOutcome {
	var log bytes.Buffer
	var artifactRefs []string
	shotSeq := 0
	captureShot := func(opCtx context.Context, session browserdriver.Session) {
		shot, err := session.Screenshot(opCtx)
		if err != nil {
			return
		}
		shotSeq++
		if ref, putErr := o.artifact.PutScreenshot(run.ID, shotSeq, shot); putErr == nil {
			artifactRefs = append(artifactRefs, ref)
		}
	}

	fmt.Fprintf(&log, "run %s starting test %s with %d steps\n", run.ID, test.ID, len(test.Script))

	op := func(opCtx context.Context, attempt int) retry.Outcome {
		fmt.Fprintf(&log, "attempt %d: opening browser session (%s)\n", attempt, run.Browser)

		session, err := o.driver.Open(opCtx, browserdriver.LaunchOptions{
			Browser:  run.Browser,
			Headless: true,
		})
		if err != nil {
			fmt.Fprintf(&log, "attempt %d: driver setup failed: %v\n", attempt, err)
			return retry.Outcome{
				Err: err, ExceptionKind: "driver_launch_error", Message: err.Error(),
				Phase: classifier.PhaseSetup,
			}
		}
		defer session.Close()

		for i, step := range test.Script {
			if token.IsCancelled() {
				fmt.Fprintf(&log, "attempt %d: cancelled before step %d\n", attempt, i+1)
				return retry.Outcome{Err: errCancelledMidRun, ExceptionKind: "__cancelled__"}
			}
			if !model.KnownActions[step.Action] {
				fmt.Fprintf(&log, "attempt %d: unrecognized action %q at step %d\n", attempt, step.Action, i+1)
				return retry.Outcome{
					Err: fmt.Errorf("unrecognized action %q", step.Action),
					ExceptionKind: "configuration_error", Message: fmt.Sprintf("unrecognized action %q", step.Action),
					Phase: classifier.PhaseSetup,
				}
			}

			outcome := session.Execute(opCtx, step)
			if !outcome.Success {
				fmt.Fprintf(&log, "attempt %d: step %d (%s) failed: %s\n", attempt, i+1, step.Action, outcome.Message)
				captureShot(opCtx, session)
				return retry.Outcome{
					Err: fmt.Errorf("%s", outcome.Message), ExceptionKind: outcome.ExceptionKind,
					Message: outcome.Message, Phase: outcome.Phase,
				}
			}
		}

		fmt.Fprintf(&log, "attempt %d: all steps passed\n", attempt)
		captureShot(opCtx, session)
		return retry.Outcome{Value: "passed"}
	}

	result := o.engine.Run(ctx, token, op, policy, test.ID)

	logRef, _ := o.artifact.PutLog(run.ID, log.Bytes())

	out := runOutcome{
		attempts:     result.Attempts,
		artifactRefs: artifactRefs,
		logRef:       logRef,
	}

	switch {
	case token.IsCancelled():
		out.status = model.RunCancelled
		out.summary = "cancelled"
	case result.Success:
		out.status = model.RunPassed
		out.summary = "all steps passed"
	default:
		out.status, out.category, out.summary = classifyTerminal(result)
	}
	return out
}

var errCancelledMidRun = fmt.Errorf("run cancelled mid-script")

// classifyTerminal maps a failed/exhausted Retry Engine result to a
// terminal Run status and failure category, per §4.E's Failure semantics:
// CONFIGURATION-category failures (driver setup, unrecognized action,
// mid-run disconnect) are infrastructure-level and land on ERROR; every
// other classified category — including ASSERTION_FAILED and a
// non-retryable UNKNOWN — lands on FAILED.
func classifyTerminal(result retry.Result) (model.RunStatus, *model.FailureCategory, string) {
	if len(result.FailureHistory) == 0 {
		cat := model.CategoryUnknown
		return model.RunError, &cat, "run failed with no recorded failure detail"
	}
	last := result.FailureHistory[len(result.FailureHistory)-1]
	cat := last.Verdict.Category
	summary := last.Err.Error()

	if cat == model.CategoryConfiguration {
		return model.RunError, &cat, summary
	}
	return model.RunFailed, &cat, summary
}

// finish applies the terminal transition, persists it, records run metrics
// and notifies observers. The run's cancellation-token registry entry is
// released by executeJob, not here.
func (o *Orchestrator) finish(ctx context.Context, run *model.Run, token *cancel.Token, status model.RunStatus, category *model.FailureCategory, summary string) {
	from := run.Status
	if from.IsTerminal() {
		o.log.WithContext(ctx).Errorf("refusing to overwrite write-once terminal run status %s with %s", from, status)
		return
	}
	if !model.CanTransition(from, status) {
		attempted := status
		o.log.WithContext(ctx).Errorf("illegal run transition %s -> %s; forcing ERROR", from, attempted)
		status = model.RunError
		unknown := model.CategoryUnknown
		category = &unknown
		summary = fmt.Sprintf("illegal state transition attempted: %s -> %s", from, attempted)
	}

	now := time.Now()
	run.Status = status
	run.EndTS = &now
	run.DurationMs = run.Duration().Milliseconds()
	run.FailureCategory = category
	run.ErrorSummary = summary

	o.log.RunTransition(ctx, string(from), string(status), run.RetryCount)

	if err := o.runs.Update(ctx, run); err != nil {
		o.log.WithContext(ctx).WithError(err).Error("failed to persist terminal run transition")
	}

	o.metrics.ObserveRun(string(status), run.Duration())
	if run.RetryCount > 0 {
		o.metrics.RetryAttempts.Add(float64(run.RetryCount))
	}

	o.notify(run)
}
