package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is satisfied by *pgxpool.Pool and the redis snapshot store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// BacklogCheck fails when size reports more than limit pending items, for
// example checkout attempts waiting on a gateway callback.
func BacklogCheck(what string, size func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if n := size(); n > limit {
			return errors.Errorf("%d %s pending, limit %d", n, what, limit)
		}
		return nil
	}
}
