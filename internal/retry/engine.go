// Package retry implements the Retry Engine (spec §4.D): policy-driven
// re-invocation with bounded attempts and truncated-exponential backoff,
// grounded on the teacher's infrastructure/resilience package — backoff via
// github.com/cenkalti/backoff/v4 and per-label circuit breaking via
// github.com/sony/gobreaker/v2, wired together behind the engine's
// `Run(ctx, token, op, policy, label)` entry point instead of the teacher's
// two separately-called helpers.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/r3e-network/qa-automation-core/internal/cancel"
	"github.com/r3e-network/qa-automation-core/internal/classifier"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

// Policy is the retry policy from spec §4.D / §6 (`retry.*` config).
type Policy struct {
	Enabled     bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	RetryOn     map[model.FailureCategory]bool
}

// Outcome is what an attempted operation reports back to the engine. A nil
// Outcome.Err means the attempt succeeded.
type Outcome struct {
	Value         any
	Err           error
	ExceptionKind string
	Message       string
	Phase         classifier.Phase
}

// AttemptFailure records one failed attempt for RetryResult.FailureHistory.
type AttemptFailure struct {
	Attempt  int
	Verdict  classifier.Verdict
	Err      error
}

// Result is the Retry Engine's output (§4.D).
type Result struct {
	Success        bool
	Cancelled      bool
	Value          any
	Attempts       int
	FailureHistory []AttemptFailure
}

// Op is the operation the engine retries. attempt starts at 1.
type Op func(ctx context.Context, attempt int) Outcome

// Engine runs operations under policy-driven backoff and a per-label
// circuit breaker, so a driver/browser that's entirely down fails fast
// instead of retrying into it.
type Engine struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewEngine constructs a Retry Engine.
func NewEngine() *Engine {
	return &Engine{breakers: make(map[string]*gobreaker.CircuitBreaker[any])}
}

func (e *Engine) breakerFor(label string) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[label]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        label,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	e.breakers[label] = cb
	return cb
}

// Run executes op, retrying on classifier-retryable failures permitted by
// policy.RetryOn, up to policy.MaxAttempts, sleeping
// min(base*multiplier^(attempt-1), max_delay) between attempts. The sleep
// honors token: cancellation observed during backoff returns immediately
// with Result{Cancelled:true}.
func (e *Engine) Run(ctx context.Context, token *cancel.Token, op Op, policy Policy, label string) Result {
	cb := e.breakerFor(label)
	result := Result{}

	backoffPolicy := newBackoff(policy)

	attempt := 1
	for {
		if token != nil && token.IsCancelled() {
			result.Cancelled = true
			return result
		}

		out, breakerErr := cb.Execute(func() (any, error) {
			o := op(ctx, attempt)
			return o, o.Err
		})
		outcome, _ := out.(Outcome)
		result.Attempts = attempt

		if breakerErr == nil && outcome.Err == nil {
			result.Success = true
			result.Value = outcome.Value
			return result
		}

		// A breaker-open rejection never reached op(); classify it as a
		// generic network/infra outcome so the failure history still
		// records something actionable.
		verdict := classifier.Verdict{Category: model.CategoryNetworkError, Retryable: true}
		if outcome.Err != nil {
			verdict = classifier.Classify(outcome.ExceptionKind, outcome.Message, outcome.Phase, attempt)
		}

		failErr := outcome.Err
		if failErr == nil {
			failErr = breakerErr
		}
		result.FailureHistory = append(result.FailureHistory, AttemptFailure{
			Attempt: attempt,
			Verdict: verdict,
			Err:     failErr,
		})

		if !policy.Enabled || !verdict.Retryable || !policy.RetryOn[verdict.Category] || attempt >= policy.MaxAttempts {
			return result
		}

		delay := backoffPolicy.NextBackOff()
		if delay == backoff.Stop {
			return result
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-tokenDone(token):
			timer.Stop()
			result.Cancelled = true
			return result
		case <-ctx.Done():
			timer.Stop()
			result.Cancelled = true
			return result
		}

		attempt++
	}
}

func tokenDone(token *cancel.Token) <-chan struct{} {
	if token == nil {
		return nil
	}
	return token.Done()
}

// newBackoff builds a cenkalti/backoff ExponentialBackOff configured to
// reproduce spec §4.D's truncated-exponential formula exactly: no jitter,
// deterministic min(base*multiplier^(attempt-1), max_delay) sequence.
func newBackoff(policy Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed wall-clock
	b.Reset()
	return b
}
