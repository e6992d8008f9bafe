package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/qa-automation-core/internal/browserdriver"
	"github.com/r3e-network/qa-automation-core/internal/classifier"
	"github.com/r3e-network/qa-automation-core/internal/config"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/persistence/memory"
)

func testOrchestrator(t *testing.T, driver *browserdriver.FakeDriver) (*Orchestrator, *memory.TestRepository) {
	t.Helper()
	cfg := config.New()
	cfg.Workers.Count = 2
	cfg.Queue.Capacity = 8
	cfg.Retry.BaseDelayMs = 1
	cfg.Retry.MaxDelayMs = 5
	cfg.Run.TimeoutMs = 5000

	log := logging.New("test", "error", "text")
	metrics := metricsx.New(prometheus.NewRegistry())
	store := memory.New()
	runs := memory.NewRunRepository(store)
	tests := memory.NewTestRepository(store)
	sink := &fakeSink{}

	o := New(cfg, log, metrics, runs, tests, driver, sink)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	return o, tests
}

type fakeSink struct{ mu sync.Mutex }

func (s *fakeSink) PutLog(runID string, content []byte) (string, error) { return "log/" + runID, nil }
func (s *fakeSink) PutScreenshot(runID string, seq int, content []byte) (string, error) {
	return fmt.Sprintf("shot/%s/%d", runID, seq), nil
}

func waitTerminal(t *testing.T, o *Orchestrator, runID string) *model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := o.Get(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status in time")
	return nil
}

func TestSubmitStraightLineSuccess(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	o, tests := testOrchestrator(t, driver)

	test := &model.Test{ID: "t1", Name: "smoke", Active: true, Script: []model.Step{
		{Action: model.ActionNavigate, Value: "https://example.test"},
		{Action: model.ActionAssertVisible, Locator: "css=#hero"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	run, err := o.Submit(context.Background(), "t1", SubmitOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, o, run.ID)
	assert.Equal(t, model.RunPassed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	assert.NotEmpty(t, final.ArtifactRefs, "a passing run still captures a termination screenshot (§4.E)")
}

func TestSubmitRejectsInactiveTest(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	o, tests := testOrchestrator(t, driver)

	test := &model.Test{ID: "t-inactive", Name: "disabled", Active: false, Script: []model.Step{
		{Action: model.ActionNavigate, Value: "https://example.test"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	_, err := o.Submit(context.Background(), "t-inactive", SubmitOptions{})
	require.Error(t, err)
}

func TestSubmitRecoversFromTransientTimeout(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	var callCount int
	var mu sync.Mutex
	driver.Outcome = func(step model.Step, idx int) browserdriver.StepOutcome {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		if callCount == 1 {
			return browserdriver.StepOutcome{Success: false, ExceptionKind: "timeout_error", Message: "waiting for selector timed out"}
		}
		return browserdriver.StepOutcome{Success: true}
	}
	o, tests := testOrchestrator(t, driver)

	test := &model.Test{ID: "t2", Name: "flaky-ish", Active: true, Script: []model.Step{
		{Action: model.ActionWaitForSelector, Locator: "css=#thing"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	run, err := o.Submit(context.Background(), "t2", SubmitOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, o, run.ID)
	assert.Equal(t, model.RunPassed, final.Status)
	assert.Equal(t, 1, final.RetryCount)
}

func TestAssertionFailureIsTerminalNotRetried(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	driver.Outcome = func(step model.Step, idx int) browserdriver.StepOutcome {
		if step.Action == model.ActionAssertText {
			return browserdriver.StepOutcome{Success: false, ExceptionKind: "assertion_error",
				Message: "expected text not found", Phase: classifier.PhaseAssertion}
		}
		return browserdriver.StepOutcome{Success: true}
	}
	o, tests := testOrchestrator(t, driver)

	test := &model.Test{ID: "t3", Name: "assert-fails", Active: true, Script: []model.Step{
		{Action: model.ActionNavigate, Value: "https://example.test"},
		{Action: model.ActionAssertText, Locator: "css=#title", Value: "Welcome"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	run, err := o.Submit(context.Background(), "t3", SubmitOptions{})
	require.NoError(t, err)

	final := waitTerminal(t, o, run.ID)
	assert.Equal(t, model.RunFailed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	require.NotNil(t, final.FailureCategory)
	assert.Equal(t, model.CategoryAssertionFailed, *final.FailureCategory)
}

func TestCancelDuringBackoffTerminatesQuickly(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	driver.Outcome = func(step model.Step, idx int) browserdriver.StepOutcome {
		return browserdriver.StepOutcome{Success: false, ExceptionKind: "timeout_error", Message: "still timing out"}
	}
	cfg := config.New()
	cfg.Workers.Count = 1
	cfg.Queue.Capacity = 4
	cfg.Retry.BaseDelayMs = 500
	cfg.Retry.MaxDelayMs = 2000
	cfg.Retry.MaxAttempts = 10
	cfg.Run.TimeoutMs = 60_000

	log := logging.New("test", "error", "text")
	metrics := metricsx.New(prometheus.NewRegistry())
	store := memory.New()
	runs := memory.NewRunRepository(store)
	tests := memory.NewTestRepository(store)
	o := New(cfg, log, metrics, runs, tests, driver, &fakeSink{})
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })

	test := &model.Test{ID: "t4", Name: "cancel-me", Active: true, Script: []model.Step{
		{Action: model.ActionWaitForSelector, Locator: "css=#never"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	run, err := o.Submit(context.Background(), "t4", SubmitOptions{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the first attempt fail and enter backoff
	require.NoError(t, o.Cancel(context.Background(), run.ID))

	start := time.Now()
	final := waitTerminal(t, o, run.ID)
	elapsed := time.Since(start)

	assert.Equal(t, model.RunCancelled, final.Status)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestCancelAlreadyTerminalReturnsConflict(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	o, tests := testOrchestrator(t, driver)

	test := &model.Test{ID: "t5", Name: "quick-pass", Active: true, Script: []model.Step{
		{Action: model.ActionNavigate, Value: "https://example.test"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	run, err := o.Submit(context.Background(), "t5", SubmitOptions{})
	require.NoError(t, err)
	waitTerminal(t, o, run.ID)

	err = o.Cancel(context.Background(), run.ID)
	require.Error(t, err)
}

func TestSubmitBackpressureWhenQueueFull(t *testing.T) {
	driver := browserdriver.NewFakeDriver()
	driver.Outcome = func(step model.Step, idx int) browserdriver.StepOutcome {
		time.Sleep(200 * time.Millisecond)
		return browserdriver.StepOutcome{Success: true}
	}
	cfg := config.New()
	cfg.Workers.Count = 1
	cfg.Queue.Capacity = 1

	log := logging.New("test", "error", "text")
	metrics := metricsx.New(prometheus.NewRegistry())
	store := memory.New()
	runs := memory.NewRunRepository(store)
	tests := memory.NewTestRepository(store)
	o := New(cfg, log, metrics, runs, tests, driver, &fakeSink{})
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })

	test := &model.Test{ID: "t6", Name: "slow", Active: true, Script: []model.Step{
		{Action: model.ActionNavigate, Value: "https://example.test"},
	}}
	require.NoError(t, tests.Create(context.Background(), test))

	for i := 0; i < 3; i++ {
		_, _ = o.Submit(context.Background(), "t6", SubmitOptions{})
	}
	_, err := o.Submit(context.Background(), "t6", SubmitOptions{})
	require.Error(t, err)
}
