package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err so Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
	// Jitter is the randomization factor applied to each wait; zero keeps the library default.
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	}
}

// Retry runs fn until it succeeds, returns a Permanent error, returns an error whose
// IsRetryable reports false, the attempts are exhausted or ctx is done. onRetry may be nil.
// The returned error is the last error produced by fn, never a wrapper added here.
func Retry(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error)) error {
	policy = policy.normalized()
	b := policy.schedule(ctx)

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			lastErr = perm.err
			return backoff.Permanent(err)
		}

		var retryableErr RetryableError
		if errors.As(err, &retryableErr) && !retryableErr.IsRetryable() {
			return backoff.Permanent(err)
		}

		if onRetry != nil && attempt < policy.MaxAttempts {
			onRetry(attempt, err)
		}
		return err
	}

	if err := backoff.Retry(operation, b); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
