package retry

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// schedule builds the exponential wait sequence for p, bounded by MaxAttempts and ctx.
// A zero MaxElapsedTime leaves the attempt count as the only bound.
func (p Policy) schedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	if p.Jitter > 0 {
		exp.RandomizationFactor = p.Jitter
	}
	exp.Reset()

	return backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(p.MaxAttempts-1))
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = backoff.DefaultInitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}
