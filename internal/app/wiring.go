package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/gateway/razorpay"
	"github.com/xenking/storefront/internal/gateway/stripe"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
)

// resubscribeDelay is the pause before reconnecting a dropped change feed.
const resubscribeDelay = time.Second

type cartBackend struct {
	sessions *cart.Sessions
	ping     health.Pinger
	client   *goredis.Client
}

func (b *cartBackend) Close() {
	if b.client != nil {
		_ = b.client.Close()
	}
}

// newCartBackend keeps snapshots in Redis and follows the change feed of
// other instances when a Redis URL is set.
func newCartBackend(ctx context.Context, lg *zap.Logger, cfg *Config) (*cartBackend, error) {
	if cfg.RedisURL == "" {
		lg.Warn("No Redis configured, cart sessions are local to this instance")
		return &cartBackend{sessions: cart.NewSessions(memory.New().Namespace)}, nil
	}

	client, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect redis")
	}
	store := redis.New(client, redis.WithTTL(cfg.Sessions.SnapshotTTL))
	sessions := cart.NewSessions(store.Namespace, cart.WithBroadcaster(store))
	go follow(zctx.Base(ctx, lg.Named("cart-sync")), store, sessions)

	return &cartBackend{sessions: sessions, ping: store, client: client}, nil
}

func follow(ctx context.Context, store *redis.Store, sessions *cart.Sessions) {
	lg := zctx.From(ctx)
	for {
		if err := store.Subscribe(ctx, sessions.HandleChange); err != nil {
			lg.Warn("Cart change feed dropped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// newGateways returns the variants that have credentials, each behind a
// circuit breaker.
func newGateways(lg *zap.Logger, cfg PaymentsConfig, callbacks *payment.Callbacks) []payment.Gateway {
	breaker := payment.BreakerSettings{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}

	var gateways []payment.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateways = append(gateways, stripe.New(cfg.Stripe.SecretKey, callbacks, cfg.ConfirmTimeout))
	}
	if cfg.Razorpay.KeyID != "" && cfg.Razorpay.KeySecret != "" {
		gateways = append(gateways, razorpay.New(razorpay.Config{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
			BaseURL:   cfg.Razorpay.BaseURL,
		}, nil, callbacks, cfg.ConfirmTimeout))
	}
	if len(gateways) == 0 {
		lg.Warn("No payment gateway configured, checkout cannot take payments")
	}

	for i, g := range gateways {
		gateways[i] = payment.WithBreaker(g, breaker, lg)
	}
	return gateways
}

func sweepCheckouts(ctx context.Context, svc *checkout.Service, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.Sweep(retention); n > 0 {
				zctx.From(ctx).Debug("Swept settled checkout attempts", zap.Int("count", n))
			}
		}
	}
}
