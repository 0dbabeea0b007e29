// Package retry holds the single retry policy applied to write
// collaborators: one retry after a fixed backoff, and only for throttling.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

// DefaultBackoff is the pause before the single retry.
const DefaultBackoff = 500 * time.Millisecond

// ErrThrottled marks a collaborator failure caused by rate limiting
// (HTTP 429 or equivalent). Only errors wrapping it are retried.
var ErrThrottled = errors.New("throttled")

// Policy retries an operation at most once with a constant backoff.
type Policy struct {
	Backoff time.Duration
}

// New creates a Policy. A non-positive backoff uses DefaultBackoff.
func New(backoff time.Duration) Policy {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return Policy{Backoff: backoff}
}

// Do runs op, retrying once if it fails with ErrThrottled. Any other error is
// returned as is, without a retry.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.interval()), 1),
		ctx,
	)
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !errors.Is(err, ErrThrottled) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
}

func (p Policy) interval() time.Duration {
	if p.Backoff <= 0 {
		return DefaultBackoff
	}
	return p.Backoff
}
