// Package retry provides the shared retry policy for outbound service calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an outbound call is timed out and retried.
// The embedding and completion clients share one policy instance so that
// backoff behaviour is configured in a single place and can be replaced
// with an aggressive variant in tests.
type Policy struct {
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration
	// MaxElapsedTime bounds the total time spent retrying. Zero disables
	// retries entirely (single attempt).
	MaxElapsedTime time.Duration
	// CallTimeout is applied to each individual attempt via context.
	CallTimeout time.Duration
}

// DefaultPolicy returns the policy used in production: 500ms initial backoff,
// 10s ceiling, 30s total budget, 30s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// Do runs op with exponential backoff until it succeeds, returns a permanent
// error, the elapsed budget runs out, or ctx is cancelled. Each attempt gets
// its own timeout-bounded context. Wrap an error with backoff.Permanent to
// stop retrying immediately.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := func() error {
		callCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}
		return op(callCtx)
	}

	if p.MaxElapsedTime == 0 {
		err := attempt()
		if permanent, ok := err.(*backoff.PermanentError); ok {
			return permanent.Unwrap()
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime

	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}
