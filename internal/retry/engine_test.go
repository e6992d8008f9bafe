package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/qa-automation-core/internal/cancel"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

func fastPolicy() Policy {
	return Policy{
		Enabled:     true,
		MaxAttempts: 4,
		BaseDelay:   1 * time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
		RetryOn: map[model.FailureCategory]bool{
			model.CategoryTimeout:      true,
			model.CategoryNetworkError: true,
		},
	}
}

func TestRunSucceedsWithoutRetry(t *testing.T) {
	engine := NewEngine()
	var calls int32
	op := func(ctx context.Context, attempt int) Outcome {
		atomic.AddInt32(&calls, 1)
		return Outcome{Value: "ok"}
	}
	result := engine.Run(context.Background(), nil, op, fastPolicy(), "succeeds")
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), calls)
}

func TestRunRetriesRetryableFailureThenSucceeds(t *testing.T) {
	engine := NewEngine()
	var calls int32
	op := func(ctx context.Context, attempt int) Outcome {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return Outcome{Err: errors.New("boom"), ExceptionKind: "timeout_error"}
		}
		return Outcome{Value: "recovered"}
	}
	result := engine.Run(context.Background(), nil, op, fastPolicy(), "retries-then-succeeds")
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.FailureHistory, 2)
}

func TestRunStopsOnNonRetryableFailure(t *testing.T) {
	engine := NewEngine()
	op := func(ctx context.Context, attempt int) Outcome {
		return Outcome{Err: errors.New("bad assertion"), ExceptionKind: "assertion_error"}
	}
	result := engine.Run(context.Background(), nil, op, fastPolicy(), "non-retryable")
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	require.Len(t, result.FailureHistory, 1)
	assert.False(t, result.FailureHistory[0].Verdict.Retryable)
}

func TestRunStopsAtMaxAttempts(t *testing.T) {
	engine := NewEngine()
	policy := fastPolicy()
	policy.MaxAttempts = 2
	op := func(ctx context.Context, attempt int) Outcome {
		return Outcome{Err: errors.New("still down"), ExceptionKind: "timeout_error"}
	}
	result := engine.Run(context.Background(), nil, op, policy, "exhausts")
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
}

func TestRunCancelDuringBackoffReturnsImmediately(t *testing.T) {
	engine := NewEngine()
	policy := Policy{
		Enabled: true, MaxAttempts: 10,
		BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2,
		RetryOn: map[model.FailureCategory]bool{model.CategoryTimeout: true},
	}
	token := cancel.New(context.Background())
	op := func(ctx context.Context, attempt int) Outcome {
		return Outcome{Err: errors.New("down"), ExceptionKind: "timeout_error"}
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		token.Cancel()
	}()

	start := time.Now()
	result := engine.Run(context.Background(), token, op, policy, "cancel-during-backoff")
	elapsed := time.Since(start)

	assert.True(t, result.Cancelled)
	assert.False(t, result.Success)
	assert.Less(t, elapsed, 200*time.Millisecond)
}
