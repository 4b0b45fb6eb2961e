package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds in-process retries of a single step.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per step, including the first.
	MaxAttempts uint

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// AttemptTimeout bounds each individual try, including any
	// long-running operation polling the step performs.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		AttemptTimeout:  15 * time.Minute,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// Do runs fn under the policy. Only transient errors are retried; an
// already-exists conflict counts as success; everything else stops at once.
// notify, if non-nil, is called before each backoff sleep.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, notify func(err error, next time.Duration)) error {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier

	op := func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := fn(callCtx)
		switch {
		case err == nil, IsAlreadyExists(err):
			return struct{}{}, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && ClassOf(err) != ErrorClassTransient:
			// the per-attempt deadline fired, not the caller's
			return struct{}{}, NewTransientError("step attempt timed out", err).WithCode(ErrCodeTimeout)
		case IsTransient(err):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	return err
}
