package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of transient adapter failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64

	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// Jitter randomizes each wait by up to this fraction (0 disables).
	Jitter float64
}

// DefaultRetryPolicy returns two retries with exponential backoff from 200ms
// to at most 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   5 * time.Second,
	}
}

// MaxAttempts is the upper bound of adapter invocations per capability.
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// backOff returns the backoff schedule of one call. The schedule stops when
// the next wait would end past the deadline of ctx.
func (p RetryPolicy) backOff(ctx context.Context, now func() time.Time) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = p.Multiplier
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = p.Jitter
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Reset()

	deadline, ok := ctx.Deadline()
	if !ok {
		return exp
	}
	return &budgetBackOff{next: exp, deadline: deadline, now: now}
}

// budgetBackOff stops a schedule that would sleep past the caller's budget.
type budgetBackOff struct {
	next     backoff.BackOff
	deadline time.Time
	now      func() time.Time
}

func (b *budgetBackOff) NextBackOff() time.Duration {
	d := b.next.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if !b.now().Add(d).Before(b.deadline) {
		return backoff.Stop
	}
	return d
}

func (b *budgetBackOff) Reset() {
	b.next.Reset()
}
