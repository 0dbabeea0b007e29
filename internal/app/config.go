package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for cart storage and sync; empty keeps carts in process memory" flag:"redis-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	Auth         AuthConfig
	Pricing      PricingConfig
	Payments     PaymentsConfig
	Retry        RetryConfig
	Sessions     SessionsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret for bearer tokens; empty serves everyone as guest" flag:"jwt-secret"`
}

// PricingConfig is the pricing settings snapshot. Values are decimal strings.
type PricingConfig struct {
	TaxPercent         string `default:"18"   usage:"Tax percent applied after the coupon"`
	PromotionalPercent string `default:"0"    usage:"Promotional discount percent of the subtotal"`
	ShippingThreshold  string `default:"1000" usage:"Subtotal from which shipping is free"`
	ShippingFee        string `default:"50"   usage:"Shipping fee below the threshold"`
}

// Settings parses the configured values.
func (c PricingConfig) Settings() (pricing.Settings, error) {
	var s pricing.Settings
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tax percent", c.TaxPercent, &s.TaxPercent},
		{"promotional percent", c.PromotionalPercent, &s.PromotionalPercent},
		{"shipping threshold", c.ShippingThreshold, &s.ShippingThreshold},
		{"shipping fee", c.ShippingFee, &s.ShippingFee},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return pricing.Settings{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if d.IsNegative() {
			return pricing.Settings{}, errors.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return s, nil
}

// PaymentsConfig configures the gateway variants. A variant without
// credentials is not offered.
type PaymentsConfig struct {
	Currency       string        `default:"INR" usage:"ISO currency of payment intents"`
	ConfirmTimeout time.Duration `default:"10m" usage:"Maximum wait for a payment confirmation callback" flag:"confirm-timeout"`
	MaxPending     int           `default:"10000" usage:"Pending confirmations above which the instance reports not ready"`
	Stripe         StripeConfig
	Razorpay       RazorpayConfig
	Breaker        BreakerConfig
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey string `usage:"Stripe secret API key" flag:"stripe-secret-key"`
}

// RazorpayConfig holds Razorpay credentials.
type RazorpayConfig struct {
	KeyID     string `usage:"Razorpay key id" flag:"razorpay-key-id"`
	KeySecret string `usage:"Razorpay key secret" flag:"razorpay-key-secret"`
	BaseURL   string `default:"https://api.razorpay.com" usage:"Razorpay API base URL"`
}

// BreakerConfig controls the circuit breaker around each gateway.
type BreakerConfig struct {
	MaxFailures uint32        `default:"5"   usage:"Consecutive failures that open the breaker"`
	OpenTimeout time.Duration `default:"30s" usage:"How long the breaker stays open"`
}

// RetryConfig controls the single retry of throttled writes.
type RetryConfig struct {
	Backoff time.Duration `default:"500ms" usage:"Pause before retrying a throttled call"`
}

// SessionsConfig controls in-memory session and checkout retention.
type SessionsConfig struct {
	IdleTimeout       time.Duration `default:"30m"  usage:"Drop cart sessions idle for this long"`
	SweepInterval     time.Duration `default:"1m"   usage:"How often idle sessions and settled checkouts are swept"`
	CheckoutRetention time.Duration `default:"1h"   usage:"How long settled checkout attempts stay queryable"`
	SnapshotTTL       time.Duration `default:"720h" usage:"Expiry of cart snapshots in Redis; zero keeps them"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	if _, err := c.Pricing.Settings(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	if c.Payments.ConfirmTimeout <= 0 {
		return errors.New("payments confirm timeout must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
