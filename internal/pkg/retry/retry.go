// Package retry runs an operation under an exponential backoff policy with
// full jitter. It is shared by outbound HTTP calls and channel sends.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy controls how many times an operation is tried and how long to wait
// between tries.
type Policy struct {
	// MaxAttempts is the total number of tries including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// NoJitter disables full jitter. Tests use it for deterministic waits.
	NoJitter bool
}

// Default is three tries starting at one second, capped at thirty.
var Default = Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// Delay returns the wait before try number attempt (1-based, so attempt 1 is
// the first retry): random(0, min(MaxDelay, BaseDelay*2^(attempt-1))) with a
// 100ms floor, or the un-jittered value when NoJitter is set.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	if p.NoJitter {
		return time.Duration(exp)
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := 100 * time.Millisecond; d < floor && p.BaseDelay >= floor {
		d = floor
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached. fn receives the 1-based try number. The number
// of tries made is returned alongside the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}
		if attempt > 1 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, lastErr
			}
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		lastErr = err
	}
	return max, lastErr
}
