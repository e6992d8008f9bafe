// Package history implements the append-only History Recorder (§4.G): every
// terminal run transition is pushed onto a bounded in-memory channel, a
// background consumer persists it and upserts the failure pattern its
// normalized signature belongs to, and BuildDailySnapshot rolls one UTC
// day's window up into a QualitySnapshot when called; nothing in this
// module calls it on a schedule. Grounded on the teacher's
// infrastructure/chain.EventListener channel-consumer shape (bounded queue
// plus a single draining goroutine) applied to run history instead of
// chain events.
package history

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/framework"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// Repository is the persistence port the Recorder writes through.
type Repository interface {
	AppendHistory(ctx context.Context, rec *model.RunHistory) error
	ListHistory(ctx context.Context, from, to time.Time) ([]*model.RunHistory, error)
	UpsertPattern(ctx context.Context, testName, signature string, category model.FailureCategory, occurredAt time.Time) error
	ListPatterns(ctx context.Context) ([]*model.FailurePattern, error)
	PutSnapshot(ctx context.Context, snap *model.QualitySnapshot) error
}

// TestLookup resolves a TestID to its display name for RunHistory rows.
type TestLookup interface {
	Get(ctx context.Context, id string) (*model.Test, error)
}

const defaultBufferSize = 1024

// Recorder drains terminal Run notifications into Repository. Observe is
// registered directly with the Orchestrator (or Scheduler-wrapped
// equivalent) as an observer callback.
type Recorder struct {
	*framework.ServiceBase

	log     *logging.Logger
	metrics *metricsx.Metrics
	repo    Repository
	tests   TestLookup

	queue chan *model.Run

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Recorder with a channel of the given buffer size
// (defaults to 1024 when bufSize <= 0).
func New(bufSize int, log *logging.Logger, metrics *metricsx.Metrics, repo Repository, tests TestLookup) *Recorder {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Recorder{
		ServiceBase: framework.NewServiceBase("history-recorder"),
		log:         log,
		metrics:     metrics,
		repo:        repo,
		tests:       tests,
		queue:       make(chan *model.Run, bufSize),
	}
}

// Start launches the consumer goroutine. Idempotent.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.consume(runCtx)

	r.MarkStarted()
	r.log.WithContext(ctx).Info("history recorder started")
	return nil
}

// Stop cancels the consumer and waits for it to drain the channel or for
// ctx to expire, whichever comes first.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.MarkStopped()
	r.log.WithContext(ctx).Info("history recorder stopped")
	return nil
}

// Observe is an orchestrator.Observer-shaped callback: non-terminal runs
// are ignored, and a full queue drops the record rather than blocking the
// orchestrator worker that called it.
func (r *Recorder) Observe(run *model.Run) {
	if !run.Status.IsTerminal() {
		return
	}
	select {
	case r.queue <- run:
	default:
		r.metrics.HistoryDroppedTotal.Inc()
		r.log.WithField("run_id", run.ID).Warn("history recorder: queue full, dropping record")
	}
}

func (r *Recorder) consume(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case run := <-r.queue:
			r.persist(ctx, run)
		}
	}
}

// drain flushes whatever is still buffered after Stop is called, best
// effort, using a background context since runCtx is already cancelled.
func (r *Recorder) drain() {
	for {
		select {
		case run := <-r.queue:
			r.persist(context.Background(), run)
		default:
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, run *model.Run) {
	testName := run.TestID
	if r.tests != nil {
		if test, err := r.tests.Get(ctx, run.TestID); err == nil {
			testName = test.Name
		}
	}

	category := model.CategoryUnknown
	if run.FailureCategory != nil {
		category = *run.FailureCategory
	}

	var signature string
	if run.Status != model.RunPassed && run.ErrorSummary != "" {
		signature = NormalizeSignature(firstLine(run.ErrorSummary))
	}

	rec := &model.RunHistory{
		RunID:          run.ID,
		TestName:       testName,
		Status:         run.Status,
		DurationMs:     run.DurationMs,
		FailureType:    category,
		ErrorSignature: signature,
		Browser:        run.Browser,
		Environment:    run.Environment,
		ExecutedAt:     run.StartTS,
	}
	if err := r.repo.AppendHistory(ctx, rec); err != nil {
		r.log.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("history recorder: append failed")
		return
	}
	r.metrics.HistoryRecordedTotal.Inc()

	if signature != "" {
		occurredAt := run.StartTS
		if run.EndTS != nil {
			occurredAt = *run.EndTS
		}
		if err := r.repo.UpsertPattern(ctx, testName, signature, category, occurredAt); err != nil {
			r.log.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("history recorder: pattern upsert failed")
		}
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

var (
	digitsRe = regexp.MustCompile(`[0-9]+`)
	// quotedRe matches single- or double-quoted literals so their contents
	// can be collapsed to a single placeholder (distinct selector/URL
	// values shouldn't fragment an otherwise-identical failure signature).
	quotedRe = regexp.MustCompile(`"[^"]*"|'[^']*'`)
)

const maxSignatureLen = 100

// NormalizeSignature reduces an error's first line to a stable signature
// for pattern clustering (§4.G): digits collapse to N, quoted strings
// collapse to STR, and the result is truncated to 100 characters.
func NormalizeSignature(line string) string {
	sig := quotedRe.ReplaceAllString(line, "STR")
	sig = digitsRe.ReplaceAllString(sig, "N")
	sig = strings.TrimSpace(sig)
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return sig
}
