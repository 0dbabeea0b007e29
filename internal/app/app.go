package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/retry"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	settings, err := cfg.Pricing.Settings()
	if err != nil {
		return errors.Wrap(err, "pricing settings")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Cart storage: Redis when configured, process memory otherwise.
	carts, err := newCartBackend(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer carts.Close()
	if carts.ping != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", carts.ping))
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	requestRepo := postgres.NewRequestRepository(pool)

	// Domain services.
	policy := retry.New(cfg.Retry.Backoff)
	pricingSrc := pricing.Static(settings)
	couponValidator := coupon.NewRepoValidator(couponRepo)
	orderService := order.NewService(productRepo, orderRepo, couponValidator, pricingSrc)
	aggregator := order.NewAggregator(orderRepo, requestRepo, requestRepo, orderRepo, policy,
		order.WithTracerProvider(m.TracerProvider()),
	)

	callbacks := payment.NewCallbacks()
	gateways := newGateways(lg, cfg.Payments, callbacks)
	checkoutSvc, err := checkout.NewService(gateways, couponValidator, orderService, pricingSrc, policy,
		checkout.WithCurrency(cfg.Payments.Currency),
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	healthSvc.AddReadinessCheck("payment-confirmations", time.Second,
		health.BacklogCheck("payment confirmations", callbacks.Pending, cfg.Payments.MaxPending),
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	go carts.sessions.SweepLoop(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.IdleTimeout)
	go sweepCheckouts(ctx, checkoutSvc, cfg.Sessions.SweepInterval, cfg.Sessions.CheckoutRetention)

	// HTTP handlers.
	h := handler.NewHandler(handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL}, handler.Deps{
		Products:  productRepo,
		Coupons:   couponValidator,
		Settings:  pricingSrc,
		Sessions:  carts.sessions,
		Checkout:  checkoutSvc,
		Callbacks: callbacks,
		Orders:    aggregator,
	})
	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Pay?wait= may hold a request for up to 30s.
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.SessionHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.ClientIP,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			auth.Middleware(),
			httpmiddleware.Instrument("storefront-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := checkoutSvc.Shutdown(shutdownCtx); err != nil {
			lg.Error("Checkout shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening",
		zap.String("addr", cfg.Addr),
		zap.Any("gateways", checkoutSvc.Providers()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
