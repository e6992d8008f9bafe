// Package cancel implements the cooperative cancellation primitive spec §5
// calls for: a monotonic token checked at step boundaries, in retry backoff
// sleeps, and between Fix Agent iterations — never thread interruption
// (spec §9).
package cancel

import (
	"context"
	"sync/atomic"
)

// Token is a monotonic, once-set cancellation signal. It wraps a
// context.CancelFunc (Go's idiomatic cooperative-cancellation plumbing) with
// an explicit IsCancelled query so callers can poll without a select, which
// reads more plainly at orchestrator step boundaries than a channel select
// would.
type Token struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// New derives a Token from parent. Calling Cancel marks it permanently.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel sets the token. Idempotent and safe to call from any goroutine.
func (t *Token) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool { return t.cancelled.Load() }

// Done returns a channel closed once Cancel is called, for use in selects
// alongside blocking driver I/O.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Context returns the underlying context, for passing to driver calls that
// accept one.
func (t *Token) Context() context.Context { return t.ctx }
