// Package retry runs idempotent remote calls with a per-attempt deadline and
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"fluxsdk/pkg"
)

const (
	DefaultMaxRetries = 5
	DefaultTimeout    = 5 * time.Second
	DefaultBase       = 1 * time.Second
	DefaultMaxDelay   = 1 * time.Minute
)

// Executor configures a retry loop. Zero fields fall back to the defaults.
type Executor struct {
	// MaxRetries bounds the total number of attempts.
	MaxRetries int
	// Timeout is the deadline of a single attempt.
	Timeout time.Duration
	// Base is the backoff unit; attempt k waits Base*2^(k+1) before the next.
	Base time.Duration
	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration

	Clock  clock.Clock
	Logger *zap.Logger

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Operation is a single remote call. It must honour ctx: the context is
// cancelled as soon as the attempt loses its timeout race.
type Operation[T any] func(ctx context.Context) (T, error)

func (e Executor) withDefaults() Executor {
	if e.MaxRetries <= 0 {
		e.MaxRetries = DefaultMaxRetries
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultTimeout
	}
	if e.Base <= 0 {
		e.Base = DefaultBase
	}
	if e.MaxDelay <= 0 {
		e.MaxDelay = DefaultMaxDelay
	}
	if e.Clock == nil {
		e.Clock = clock.New()
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e
}

// Backoff returns the delay slept after a failed attempt (0-based).
func (e Executor) Backoff(attempt int) time.Duration {
	return e.withDefaults().delay(attempt)
}

// delay is Base*2^(attempt+1), saturating at MaxDelay.
func (e Executor) delay(attempt int) time.Duration {
	shift := uint(attempt + 1)
	if shift >= 63 || e.Base > e.MaxDelay>>shift {
		return e.MaxDelay
	}
	return e.Base << shift
}

// Do runs op until it succeeds, fails permanently, or MaxRetries attempts
// have failed. Attempts are strictly sequential. Exhaustion returns a
// *pkg.MaxRetriesError wrapping the last failure; errors classified by
// pkg.IsPermanent are returned as is after a single attempt.
func Do[T any](ctx context.Context, e Executor, op Operation[T]) (T, error) {
	e = e.withDefaults()
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := race(ctx, e, op)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if pkg.IsPermanent(err) {
			return zero, err
		}
		if attempt == e.MaxRetries-1 {
			e.Logger.Warn("retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return zero, &pkg.MaxRetriesError{Attempts: attempt + 1, Err: err}
		}

		delay := e.delay(attempt)
		e.Logger.Debug("attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.OnRetry != nil {
			e.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, e.Clock, delay); err != nil {
			return zero, err
		}
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// race runs op against a timer. When the timer fires first the attempt
// context is cancelled and the late result, if any, is discarded.
func race[T any](ctx context.Context, e Executor, op Operation[T]) (T, error) {
	attemptCtx, cancel := e.Clock.WithTimeout(ctx, e.Timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		if out.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, pkg.ErrTimeout
		}
		return out.value, out.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, pkg.ErrTimeout
	}
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	timer := c.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
