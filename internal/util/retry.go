package util

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded exponential schedule. MaxAttempts of zero leaves
// the count unbounded; callers then bound the loop with a deadline.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.RandomizationFactor = 0
	b.Multiplier = max(p.Multiplier, 1)
	b.MaxInterval = p.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	// attempts and ctx bound the loop, not wall time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// BackOff returns the schedule bounded by the attempt ceiling and ctx.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = p.exponential()
	switch {
	case p.MaxAttempts == 1:
		b = &backoff.StopBackOff{}
	case p.MaxAttempts > 1:
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Delay returns the wait after the given attempt, attempts counting from 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := p.exponential()
	d := b.NextBackOff()
	for i := 1; i < attempt && d < b.MaxInterval; i++ {
		d = b.NextBackOff()
	}
	return d
}

// NextAt schedules the next attempt, never past deadline. It returns false
// once from has reached the deadline. Poll attempts are persisted between
// runs, so the schedule is computed from the attempt number.
func (p RetryPolicy) NextAt(from time.Time, attempt int, deadline time.Time) (time.Time, bool) {
	if !from.Before(deadline) {
		return deadline, false
	}
	next := from.Add(p.Delay(attempt))
	if next.After(deadline) {
		next = deadline
	}
	return next, true
}

// Exhausted reports whether attempt has used up the attempt ceiling.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Do runs fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx is done. The last error from fn is returned.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(context.Context) error) error {
	var last error
	err := backoff.Retry(func() error {
		last = fn(ctx)
		if last != nil && retryable != nil && !retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, p.BackOff(ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}
