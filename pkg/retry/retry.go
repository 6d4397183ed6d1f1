// Package retry implements a predicate-based retry helper over
// exponential backoff, the runtime's one allowed substitute for
// exception-driven control flow: callers classify an error as retryable
// and this package handles the backoff and cancellation.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Predicate reports whether err should trigger another attempt.
type Predicate func(err error) bool

// Policy configures the exponential backoff applied between attempts.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPolicy mirrors the teacher's own poll/heartbeat jitter scale.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Do calls fn, retrying with exponential backoff as long as ctx is not
// done, shouldRetry(err) is true, and the policy's MaxElapsedTime has
// not been exceeded. It returns the last error if retries are exhausted.
func Do(ctx context.Context, policy Policy, shouldRetry Predicate, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = policy.MaxElapsedTime

	withCtx := backoff.WithContext(bo, ctx)

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, withCtx)
}
