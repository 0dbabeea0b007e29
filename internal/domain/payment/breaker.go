package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures the circuit breaker around a gateway.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type breakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps CreateIntent and Verify of g in a circuit breaker. While
// the breaker is open both fail fast with ErrUnavailable. Confirm waits on
// the shopper and is not guarded.
func WithBreaker(g Gateway, s BreakerSettings, lg *zap.Logger) Gateway {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        string(g.Provider()),
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &breakerGateway{next: g, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerGateway) Provider() Provider { return b.next.Provider() }

func (b *breakerGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	return execute(b.cb, func() (*Intent, error) {
		return b.next.CreateIntent(ctx, req)
	})
}

func (b *breakerGateway) Confirm(ctx context.Context, intent *Intent) (Confirmation, error) {
	return b.next.Confirm(ctx, intent)
}

func (b *breakerGateway) Verify(ctx context.Context, intent *Intent, c Confirmation) (Verification, error) {
	return execute(b.cb, func() (Verification, error) {
		return b.next.Verify(ctx, intent, c)
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errors.Wrap(ErrUnavailable, err.Error())
		}
		var zero T
		return zero, err
	}
	return res.(T), nil
}
