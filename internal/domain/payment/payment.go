// Package payment defines the capability set shared by the payment gateway
// variants and the callback hub that turns an external confirmation into an
// awaited result.
package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Provider names a gateway variant.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderRazorpay Provider = "razorpay"
)

// ParseProvider matches s case-insensitively against the known providers.
func ParseProvider(s string) (Provider, bool) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderStripe, ProviderRazorpay:
		return p, true
	default:
		return "", false
	}
}

// ErrUnavailable marks a gateway call that failed for transient reasons:
// network errors, throttling or an open circuit breaker.
var ErrUnavailable = errors.New("payment gateway unavailable")

// IntentRequest asks a gateway for a server-side payment intent or order.
// Reference is the checkout attempt id.
type IntentRequest struct {
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

// Intent is what the client needs to run the gateway's confirmation flow.
type Intent struct {
	Provider       Provider        `json:"provider"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	ClientKey      string          `json:"clientKey"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// Outcome is the explicit result of the client-side confirmation flow.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Confirmation is the payload reported by the gateway's client flow. It is
// never trusted on its own; see Gateway.Verify.
type Confirmation struct {
	Outcome        Outcome `json:"outcome"`
	GatewayOrderID string  `json:"gatewayOrderId"`
	PaymentID      string  `json:"paymentId,omitempty"`
	Signature      string  `json:"signature,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// Verification is the server-side verdict on a Confirmation.
type Verification struct {
	Success   bool
	PaymentID string
	Reason    string
}

// Gateway is one payment integration. The variants differ in protocol but
// expose the same three operations.
type Gateway interface {
	Provider() Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// Confirm suspends until the client flow reports back or the bounded
	// wait expires. Expiry resolves to OutcomeFailure.
	Confirm(ctx context.Context, intent *Intent) (Confirmation, error)
	Verify(ctx context.Context, intent *Intent, c Confirmation) (Verification, error)
}
