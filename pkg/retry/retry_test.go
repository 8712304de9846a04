package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxsdk/pkg"
)

var errTransient = errors.New("connection reset")

func TestDoSucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	exec := Executor{
		MaxRetries: 3,
		Timeout:    time.Second,
		Base:       time.Millisecond,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			assert.ErrorIs(t, err, errTransient)
			delays = append(delays, delay)
		},
	}

	var calls int32
	v, err := Do(context.Background(), exec, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, delays)
}

func TestDoTimeoutsExhaustRetries(t *testing.T) {
	exec := Executor{MaxRetries: 3, Timeout: 10 * time.Millisecond, Base: time.Millisecond}

	var calls, cancelled int32
	_, err := Do(context.Background(), exec, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		atomic.AddInt32(&cancelled, 1)
		return 0, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, pkg.ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, pkg.ErrTimeout)

	var maxErr *pkg.MaxRetriesError
	require.True(t, errors.As(err, &maxErr))
	assert.Equal(t, 3, maxErr.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Every losing attempt observed cancellation.
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&cancelled) == 3 }, time.Second, 5*time.Millisecond)
}

func TestDoLateResultDiscarded(t *testing.T) {
	exec := Executor{MaxRetries: 1, Timeout: 5 * time.Millisecond}
	release := make(chan struct{})
	defer close(release)

	_, err := Do(context.Background(), exec, func(ctx context.Context) (int, error) {
		<-release
		return 42, nil
	})
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	exec := Executor{MaxRetries: 5, Timeout: time.Second, Base: time.Millisecond}
	decodeErr := &pkg.DecodeError{Reason: "unknown discriminator"}

	var calls int32
	_, err := Do(context.Background(), exec, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, decodeErr
	})

	assert.Same(t, decodeErr, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	calls = 0
	_, err = Do(context.Background(), exec, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, pkg.ErrNotFound
	})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.NotErrorIs(t, err, pkg.ErrMaxRetriesExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := Executor{
		MaxRetries: 5,
		Timeout:    time.Second,
		Base:       time.Hour,
		OnRetry: func(int, time.Duration, error) {
			cancel()
		},
	}

	start := time.Now()
	_, err := Do(ctx, exec, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffStrictlyIncreases(t *testing.T) {
	exec := Executor{}
	assert.Equal(t, 2*time.Second, exec.Backoff(0))
	prev := time.Duration(0)
	for attempt := 0; attempt < DefaultMaxRetries; attempt++ {
		d := exec.Backoff(attempt)
		assert.Greater(t, d, prev)
		prev = d
	}
}

func TestBackoffSaturates(t *testing.T) {
	exec := Executor{}
	assert.Equal(t, 32*time.Second, exec.Backoff(4))
	assert.Equal(t, DefaultMaxDelay, exec.Backoff(5))

	prev := time.Duration(0)
	for attempt := 0; attempt < 200; attempt++ {
		d := exec.Backoff(attempt)
		assert.Positive(t, d, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, DefaultMaxDelay, "attempt %d", attempt)
		prev = d
	}

	capped := Executor{Base: time.Hour, MaxDelay: time.Second}
	assert.Equal(t, time.Second, capped.Backoff(0))
}
