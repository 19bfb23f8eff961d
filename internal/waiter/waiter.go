// Package waiter provides the cooperative suspension points of a run. Every
// delay and poll in the engine goes through here so cancellation is honoured
// uniformly.
package waiter

import (
	"context"
	"math/rand"
	"time"
)

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckFunc reports whether the awaited condition holds. A non-nil error ends
// polling immediately.
type CheckFunc func(ctx context.Context) (bool, error)

// Poll runs check immediately and then every interval until it succeeds or
// timeout has elapsed. A timeout of zero or less means exactly one check and
// no delay. The final check runs at or after the deadline so a condition
// that becomes true right at the end is still seen.
func Poll(ctx context.Context, interval, timeout time.Duration, check CheckFunc) (bool, error) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := check(ctx)
		if ok || err != nil {
			return ok, err
		}
		elapsed := time.Since(start)
		if timeout <= 0 || elapsed >= timeout {
			return false, nil
		}
		wait := interval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return false, err
		}
	}
}

// Jitter returns a random duration in [min, max]. It returns min when the
// range is empty.
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
