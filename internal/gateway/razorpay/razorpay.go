// Package razorpay is the Orders API gateway variant. The client flow
// returns order id, payment id and a signature; verification recomputes the
// signature with the key secret.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/payment"
)

var _ payment.Gateway = (*Gateway)(nil)

// DefaultBaseURL is the public Razorpay API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

var minorUnits = decimal.NewFromInt(100)

// Config holds Razorpay credentials.
type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
}

// Gateway talks to the Razorpay Orders API.
type Gateway struct {
	httpClient *http.Client
	cfg        Config
	callbacks  *payment.Callbacks
	timeout    time.Duration
}

// New creates a Gateway. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, callbacks *payment.Callbacks, confirmTimeout time.Duration) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Gateway{
		httpClient: httpClient,
		cfg:        cfg,
		callbacks:  callbacks,
		timeout:    confirmTimeout,
	}
}

func (g *Gateway) Provider() payment.Provider { return payment.ProviderRazorpay }

// CreateIntent creates a Razorpay order. The client key is the public key id
// the checkout widget is opened with.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(toMinor(req.Amount))
	e.FieldStart("currency")
	e.Str(strings.ToUpper(req.Currency))
	e.FieldStart("receipt")
	e.Str(req.Reference)
	e.ObjEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(payment.ErrUnavailable, "create order: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(payment.ErrUnavailable, "read order response: %v", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Wrapf(payment.ErrUnavailable, "create order: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("create order: status %d: %s", resp.StatusCode, errorDescription(body))
	}

	orderID, err := decodeOrderID(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}

	g.callbacks.Expect(payment.ProviderRazorpay, orderID)
	return &payment.Intent{
		Provider:       payment.ProviderRazorpay,
		GatewayOrderID: orderID,
		ClientKey:      g.cfg.KeyID,
		Amount:         req.Amount,
		Currency:       req.Currency,
	}, nil
}

// Confirm awaits the checkout widget's handler payload.
func (g *Gateway) Confirm(ctx context.Context, intent *payment.Intent) (payment.Confirmation, error) {
	return g.callbacks.Await(ctx, payment.ProviderRazorpay, intent.GatewayOrderID, g.timeout), nil
}

// Verify checks HMAC-SHA256(order_id|payment_id) against the reported
// signature in constant time.
func (g *Gateway) Verify(_ context.Context, intent *payment.Intent, c payment.Confirmation) (payment.Verification, error) {
	if c.GatewayOrderID != intent.GatewayOrderID {
		return payment.Verification{Reason: "order mismatch"}, nil
	}
	if c.PaymentID == "" || c.Signature == "" {
		return payment.Verification{Reason: "missing payment id or signature"}, nil
	}

	got, err := hex.DecodeString(c.Signature)
	if err != nil {
		return payment.Verification{Reason: "malformed signature"}, nil
	}
	want := Sign(g.cfg.KeySecret, intent.GatewayOrderID, c.PaymentID)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return payment.Verification{Reason: "signature mismatch"}, nil
	}
	return payment.Verification{Success: true, PaymentID: c.PaymentID}, nil
}

// Sign returns the raw HMAC-SHA256 of orderID|paymentID keyed by secret.
func Sign(secret, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}

func decodeOrderID(body []byte) (string, error) {
	var id string
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	}); err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("order id missing")
	}
	return id, nil
}

// errorDescription extracts error.description from a Razorpay error body.
func errorDescription(body []byte) string {
	var desc string
	d := jx.DecodeBytes(body)
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "description" {
				return d.Skip()
			}
			v, err := d.Str()
			desc = v
			return err
		})
	})
	if desc == "" {
		return "unknown error"
	}
	return desc
}
