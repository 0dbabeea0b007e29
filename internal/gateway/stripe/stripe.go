// Package stripe is the PaymentIntent gateway variant.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"

	"github.com/xenking/storefront/internal/domain/payment"
)

var _ payment.Gateway = (*Gateway)(nil)

var minorUnits = decimal.NewFromInt(100)

// intents is the subset of the PaymentIntents API the gateway uses.
type intents interface {
	New(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	Get(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
}

// Gateway creates PaymentIntents and verifies them by reading their status
// back from Stripe.
type Gateway struct {
	intents   intents
	callbacks *payment.Callbacks
	timeout   time.Duration
}

// New creates a Gateway authenticated with secretKey.
func New(secretKey string, callbacks *payment.Callbacks, confirmTimeout time.Duration) *Gateway {
	sc := client.New(secretKey, nil)
	return newGateway(sc.PaymentIntents, callbacks, confirmTimeout)
}

func newGateway(pi intents, callbacks *payment.Callbacks, confirmTimeout time.Duration) *Gateway {
	return &Gateway{intents: pi, callbacks: callbacks, timeout: confirmTimeout}
}

func (g *Gateway) Provider() payment.Provider { return payment.ProviderStripe }

// CreateIntent creates a PaymentIntent for the amount in minor units. The
// checkout reference doubles as the idempotency key.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(toMinor(req.Amount)),
		Currency: stripeapi.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("reference", req.Reference)
	if req.Reference != "" {
		params.SetIdempotencyKey("intent-" + req.Reference)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, mapError(err, "create payment intent")
	}

	g.callbacks.Expect(payment.ProviderStripe, pi.ID)
	return &payment.Intent{
		Provider:       payment.ProviderStripe,
		GatewayOrderID: pi.ID,
		ClientKey:      pi.ClientSecret,
		Amount:         req.Amount,
		Currency:       req.Currency,
	}, nil
}

// Confirm awaits the client's confirmCardPayment result.
func (g *Gateway) Confirm(ctx context.Context, intent *payment.Intent) (payment.Confirmation, error) {
	return g.callbacks.Await(ctx, payment.ProviderStripe, intent.GatewayOrderID, g.timeout), nil
}

// Verify retrieves the PaymentIntent and requires status succeeded with the
// expected amount and currency.
func (g *Gateway) Verify(ctx context.Context, intent *payment.Intent, c payment.Confirmation) (payment.Verification, error) {
	if c.GatewayOrderID != intent.GatewayOrderID {
		return payment.Verification{Reason: "payment intent mismatch"}, nil
	}

	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(intent.GatewayOrderID, params)
	if err != nil {
		return payment.Verification{}, mapError(err, "get payment intent")
	}

	switch {
	case pi.Status != stripeapi.PaymentIntentStatusSucceeded:
		return payment.Verification{Reason: "payment intent status " + string(pi.Status)}, nil
	case pi.Amount != toMinor(intent.Amount):
		return payment.Verification{Reason: "amount mismatch"}, nil
	case !strings.EqualFold(string(pi.Currency), intent.Currency):
		return payment.Verification{Reason: "currency mismatch"}, nil
	}
	return payment.Verification{Success: true, PaymentID: pi.ID}, nil
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

// mapError marks throttling, server-side and network failures as transient.
func mapError(err error, op string) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError {
			return errors.Wrapf(payment.ErrUnavailable, "%s: %s", op, se.Msg)
		}
		return errors.Wrap(err, op)
	}
	return errors.Wrapf(payment.ErrUnavailable, "%s: %v", op, err)
}
