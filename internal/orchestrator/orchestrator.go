// Package orchestrator implements the Execution Orchestrator (spec §4.E),
// the heart of the system: a bounded job queue feeding a fixed-size worker
// pool, each worker driving one Run through its step script to a terminal
// state. Grounded on the teacher's worker-pool/semaphore shape in
// services/automation/marble/concurrency.go and its ServiceBase-embedding
// scheduler in packages/com.r3e.services.automation/scheduler.go, adapted
// from a semaphore-gated dispatch loop to an explicit bounded-channel
// worker pool since the Orchestrator (unlike the teacher's scheduler) owns
// its own queue rather than polling a store.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/browserdriver"
	"github.com/r3e-network/qa-automation-core/internal/cancel"
	"github.com/r3e-network/qa-automation-core/internal/config"
	"github.com/r3e-network/qa-automation-core/internal/framework"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/retry"
)

// SubmitOptions customizes one submit() call (§4.E contract).
type SubmitOptions struct {
	Browser     model.BrowserKind
	Environment string
	TriggeredBy model.TriggerSource
	ScheduleID  string
	Policy      *retry.Policy // nil uses the orchestrator's default policy
}

// ListFilter narrows list() (§4.E contract).
type ListFilter struct {
	TestID string
	Limit  int
}

// job is one unit of work moving through the bounded queue.
type job struct {
	runID   string
	testID  string
	opts    SubmitOptions
	token   *cancel.Token
	enqueue time.Time
}

// Observer is notified when a submitted Run reaches a terminal status —
// the Scheduler uses this to clear its overlap flag and update counters.
type Observer func(run *model.Run)

// Orchestrator is the Execution Orchestrator.
type Orchestrator struct {
	*framework.ServiceBase

	cfg     *config.Config
	log     *logging.Logger
	metrics *metricsx.Metrics

	runs  RunRepository
	tests TestRepository

	driver   browserdriver.Driver
	artifact ArtifactSink
	engine   *retry.Engine

	defaultPolicy retry.Policy

	queue chan job

	mu        sync.Mutex
	tokens    map[string]*cancel.Token
	observers []Observer

	wg     sync.WaitGroup
	stopFn context.CancelFunc
}

// New constructs an Orchestrator. Call Start before Submit.
func New(cfg *config.Config, log *logging.Logger, metrics *metricsx.Metrics, runs RunRepository, tests TestRepository, driver browserdriver.Driver, artifact ArtifactSink) *Orchestrator {
	policy := retry.Policy{
		Enabled:     cfg.Retry.Enabled,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:  cfg.Retry.Multiplier,
		RetryOn:     retryOnSet(cfg.Retry.RetryOn),
	}
	return &Orchestrator{
		ServiceBase:   framework.NewServiceBase("execution-orchestrator"),
		cfg:           cfg,
		log:           log,
		metrics:       metrics,
		runs:          runs,
		tests:         tests,
		driver:        driver,
		artifact:      artifact,
		engine:        retry.NewEngine(),
		defaultPolicy: policy,
		queue:         make(chan job, cfg.Queue.Capacity),
		tokens:        make(map[string]*cancel.Token),
	}
}

func retryOnSet(categories []string) map[model.FailureCategory]bool {
	set := make(map[model.FailureCategory]bool, len(categories))
	for _, c := range categories {
		set[model.FailureCategory(c)] = true
	}
	return set
}

// Observe registers a callback invoked whenever a submitted Run reaches a
// terminal status.
func (o *Orchestrator) Observe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) error {
	runCtx, cancelFn := context.WithCancel(ctx)
	o.stopFn = cancelFn

	for i := 0; i < o.cfg.Workers.Count; i++ {
		o.wg.Add(1)
		go o.workerLoop(runCtx, i)
	}
	o.MarkStarted()
	o.log.WithContext(ctx).Infof("execution orchestrator started with %d workers", o.cfg.Workers.Count)
	return nil
}

// Stop signals all workers to finish their current job and exit.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.stopFn != nil {
		o.stopFn()
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	o.MarkStopped()
	return nil
}

// Submit enqueues a Test for execution. Non-blocking: if the queue is
// full, returns a BACKPRESSURE error instead of the orchestrator ever
// blocking its caller.
func (o *Orchestrator) Submit(ctx context.Context, testID string, opts SubmitOptions) (*model.Run, error) {
	test, err := o.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !test.Active {
		return nil, apperrors.NewConflict("test is inactive; orchestrator refuses new runs").WithDetails("test_id", testID)
	}

	if opts.Browser == "" {
		opts.Browser = model.BrowserChrome
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = model.TriggerAPI
	}

	run := &model.Run{
		ID:          uuid.NewString(),
		TestID:      testID,
		Status:      model.RunQueued,
		Browser:     opts.Browser,
		Environment: opts.Environment,
		StartTS:     time.Now(),
		TriggeredBy: opts.TriggeredBy,
		ScheduleID:  opts.ScheduleID,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, apperrors.NewTransientInfra("failed to persist new run", err)
	}

	token := cancel.New(context.Background())
	o.mu.Lock()
	o.tokens[run.ID] = token
	o.mu.Unlock()

	j := job{runID: run.ID, testID: testID, opts: opts, token: token, enqueue: time.Now()}

	select {
	case o.queue <- j:
		o.metrics.QueueDepth.Set(float64(len(o.queue)))
		return run, nil
	default:
		o.metrics.BackpressureTotal.Inc()
		o.forgetToken(run.ID)
		return nil, apperrors.NewBackpressure("job queue is full")
	}
}

// Get returns a Run by id.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*model.Run, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns Runs matching filter.
func (o *Orchestrator) List(ctx context.Context, filter ListFilter) ([]*model.Run, error) {
	return o.runs.ListByTest(ctx, filter.TestID, filter.Limit)
}

// Cancel requests cooperative cancellation of a Run. Returns a CONFLICT
// ServiceError if the run is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return apperrors.NewConflict("run is already terminal")
	}

	o.mu.Lock()
	token, ok := o.tokens[runID]
	o.mu.Unlock()
	if !ok {
		return apperrors.NewConflict("run is already terminal")
	}
	token.Cancel()
	return nil
}

func (o *Orchestrator) forgetToken(runID string) {
	o.mu.Lock()
	delete(o.tokens, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) notify(run *model.Run) {
	o.mu.Lock()
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()
	for _, obs := range observers {
		obs(run)
	}
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerIdx int) {
	defer o.wg.Done()
	o.metrics.WorkersBusy.Set(0)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.queue:
			o.metrics.QueueDepth.Set(float64(len(o.queue)))
			o.metrics.WorkersBusy.Inc()
			o.executeJob(ctx, j)
			o.metrics.WorkersBusy.Dec()
		}
	}
}

func (o *Orchestrator) executeJob(ctx context.Context, j job) {
	defer o.forgetToken(j.runID)

	runCtx := logging.WithRunID(logging.WithTestID(ctx, j.testID), j.runID)

	run, err := o.runs.Get(runCtx, j.runID)
	if err != nil {
		o.log.WithContext(runCtx).WithError(err).Error("failed to load run before execution")
		return
	}

	if j.token.IsCancelled() {
		o.finish(runCtx, run, j.token, model.RunCancelled, nil, "cancelled before pick")
		return
	}

	run.Status = model.RunRunning
	o.log.RunTransition(runCtx, string(model.RunQueued), string(model.RunRunning), 0)
	if err := o.runs.Update(runCtx, run); err != nil {
		o.log.WithContext(runCtx).WithError(err).Warn("failed to persist RUNNING transition")
	}

	test, err := o.tests.Get(runCtx, j.testID)
	if err != nil {
		cat := model.CategoryConfiguration
		o.finish(runCtx, run, j.token, model.RunError, &cat, fmt.Sprintf("test lookup failed: %v", err))
		return
	}

	policy := o.defaultPolicy
	if j.opts.Policy != nil {
		policy = *j.opts.Policy
	}

	timeout := time.Duration(o.cfg.Run.TimeoutMs) * time.Millisecond
	execCtx, cancelExec := context.WithTimeout(runCtx, timeout)
	defer cancelExec()

	outcome := o.runScript(execCtx, run, j.token, test, policy)

	run.RetryCount = outcome.attempts - 1
	run.ArtifactRefs = outcome.artifactRefs
	run.LogRef = outcome.logRef
	o.finish(runCtx, run, j.token, outcome.status, outcome.category, outcome.summary)
}

// retryOnSet, job, Observer etc. defined above; the script-execution
// algorithm lives in execution.go to keep this file to lifecycle/queueing
// concerns.
