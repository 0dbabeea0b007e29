package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// maxPayWait bounds the ?wait= parameter of Pay.
const maxPayWait = 30 * time.Second

type attemptResponse struct {
	ID         string            `json:"id"`
	State      checkout.State    `json:"state"`
	Items      []lineResponse    `json:"items"`
	Address    checkout.Address  `json:"address"`
	CouponCode string            `json:"couponCode,omitempty"`
	Breakdown  pricing.Breakdown `json:"breakdown"`
	Provider   payment.Provider  `json:"provider,omitempty"`
	Intent     *payment.Intent   `json:"intent,omitempty"`
	Receipt    *order.Receipt    `json:"receipt,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Error      *errorResponse    `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func newAttemptResponse(a *checkout.Attempt) attemptResponse {
	resp := attemptResponse{
		ID:         a.ID,
		State:      a.State,
		Items:      make([]lineResponse, len(a.Lines)),
		Address:    a.Address,
		CouponCode: a.CouponCode,
		Breakdown:  a.Breakdown,
		Provider:   a.Provider,
		Intent:     a.Intent,
		Receipt:    a.Receipt,
		Reason:     a.Reason,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	for i, l := range a.Lines {
		resp.Items[i] = newLineResponse(l)
	}
	if a.Err != nil {
		e := checkoutErrorResponse(a.Err)
		resp.Error = &e
	}
	return resp
}

type beginRequest struct {
	Address checkout.Address `json:"address"`
}

// BeginCheckout snapshots the cart and opens a checkout attempt.
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request, s session) {
	var req beginRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	a, err := h.Checkout.Begin(r.Context(), s.Owner(), s.Store, req.Address)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttemptResponse(a))
}

// ActiveCheckout returns the open attempt of the session.
func (h *Handler) ActiveCheckout(w http.ResponseWriter, r *http.Request, s session) {
	a, ok := h.Checkout.Active(r.Context(), s.Owner())
	if !ok {
		writeError(w, http.StatusNotFound, checkout.ErrAttemptNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, newAttemptResponse(a))
}

// ListGateways returns the configured payment providers.
func (h *Handler) ListGateways(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]payment.Provider{"providers": h.Checkout.Providers()})
}

// GetCheckout returns one attempt.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request, s session) {
	h.respondAttempt(w, r)(h.Checkout.Get(r.Context(), s.Owner(), r.PathValue("id")))
}

type couponRequest struct {
	Code string `json:"code"`
}

// ApplyCoupon validates a coupon against the attempt. A rejected code is
// reported as 422 together with the repriced attempt.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request, s session) {
	var req couponRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	a, err := h.Checkout.ApplyCoupon(r.Context(), s.Owner(), r.PathValue("id"), req.Code)
	var verr *checkout.ValidationError
	if errors.As(err, &verr) && a != nil {
		resp := newAttemptResponse(a)
		e := checkoutErrorResponse(err)
		resp.Error = &e
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	h.respondAttempt(w, r)(a, err)
}

// RemoveCoupon drops the coupon of the attempt.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request, s session) {
	h.respondAttempt(w, r)(h.Checkout.RemoveCoupon(r.Context(), s.Owner(), r.PathValue("id")))
}

type gatewayRequest struct {
	Provider string `json:"provider"`
}

// SelectGateway picks the payment provider of the attempt.
func (h *Handler) SelectGateway(w http.ResponseWriter, r *http.Request, s session) {
	var req gatewayRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	p, ok := payment.ParseProvider(req.Provider)
	if !ok {
		writeCheckoutError(w, r, checkout.ErrUnknownGateway)
		return
	}
	h.respondAttempt(w, r)(h.Checkout.SelectGateway(r.Context(), s.Owner(), r.PathValue("id"), p))
}

// Pay creates the gateway intent and answers 202 with it. With ?wait=<dur>
// it holds the request until the attempt settles or the wait passes.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request, s session) {
	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a non-negative duration")
			return
		}
		wait = min(d, maxPayWait)
	}

	pending, err := h.Checkout.Pay(r.Context(), s.Owner(), r.PathValue("id"))
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	if wait == 0 {
		writeJSON(w, http.StatusAccepted, newAttemptResponse(pending.Attempt))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	final, err := pending.Wait(ctx)
	if final == nil {
		if ctx.Err() == nil {
			writeCheckoutError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newAttemptResponse(pending.Attempt))
		return
	}
	writeJSON(w, http.StatusOK, newAttemptResponse(final))
}

// CancelCheckout dismisses an attempt that has not reached the gateway.
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request, s session) {
	h.respondAttempt(w, r)(h.Checkout.Cancel(r.Context(), s.Owner(), r.PathValue("id")))
}

// PaymentCallback delivers the client flow result of a gateway to the
// attempt awaiting it. A success payload is verified server-side before any
// order is recorded; failure and cancellation end the attempt without any
// gateway check, so they are accepted only from the session and identity
// that own it.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := payment.ParseProvider(r.PathValue("provider"))
	if !ok {
		writeError(w, http.StatusNotFound, checkout.ErrUnknownGateway.Error())
		return
	}
	var conf payment.Confirmation
	if !decodeOrFail(w, r, &conf) {
		return
	}
	switch conf.Outcome {
	case payment.OutcomeSuccess, payment.OutcomeFailure, payment.OutcomeCancelled:
	default:
		writeError(w, http.StatusBadRequest, "outcome must be success, failure or cancelled")
		return
	}
	if conf.GatewayOrderID == "" {
		writeError(w, http.StatusBadRequest, "gatewayOrderId is required")
		return
	}

	if conf.Outcome != payment.OutcomeSuccess && !h.ownsPayment(r, p, conf.GatewayOrderID) {
		writeError(w, http.StatusNotFound, "no payment awaiting this confirmation")
		return
	}

	if !h.Callbacks.Deliver(p, conf) {
		zctx.From(r.Context()).Info("Callback for unknown payment",
			zap.String("provider", string(p)),
			zap.String("gateway_order_id", conf.GatewayOrderID),
		)
		writeError(w, http.StatusNotFound, "no payment awaiting this confirmation")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ownsPayment reports whether the requesting session has a pending attempt
// on gatewayOrderID.
func (h *Handler) ownsPayment(r *http.Request, p payment.Provider, gatewayOrderID string) bool {
	sid, ok := sessionID(r)
	if !ok {
		return false
	}
	a, ok := h.Checkout.Active(r.Context(), ownerKey(sid, IdentityFromContext(r.Context())))
	return ok && a.State == checkout.StateGatewayPending && a.Intent != nil &&
		a.Intent.Provider == p && a.Intent.GatewayOrderID == gatewayOrderID
}

func (h *Handler) respondAttempt(w http.ResponseWriter, r *http.Request) func(*checkout.Attempt, error) {
	return func(a *checkout.Attempt, err error) {
		if err != nil {
			writeCheckoutError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAttemptResponse(a))
	}
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	resp := checkoutErrorResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Warn("Checkout request failed", zap.Error(err))
	}
	writeJSON(w, resp.Code, resp)
}

// checkoutErrorResponse maps checkout errors to API errors.
func checkoutErrorResponse(err error) errorResponse {
	var (
		verr  *checkout.ValidationError
		terr  *checkout.TransientError
		pverr *checkout.PaymentVerificationError
		rerr  *checkout.ReconciliationError
	)
	switch {
	case errors.As(err, &verr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: verr.Message, Fields: verr.Fields}
	case errors.As(err, &terr):
		return errorResponse{Code: http.StatusServiceUnavailable, Message: terr.Error()}
	case errors.As(err, &pverr):
		return errorResponse{Code: http.StatusPaymentRequired, Message: pverr.Error()}
	case errors.As(err, &rerr):
		return errorResponse{
			Code:    http.StatusInternalServerError,
			Message: "payment received but the order was not recorded; do not pay again, contact support",
		}
	case errors.Is(err, checkout.ErrAttemptNotFound):
		return errorResponse{Code: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrUnknownGateway):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.Is(err, checkout.ErrCheckoutInProgress),
		errors.Is(err, checkout.ErrDuplicateSubmission),
		errors.Is(err, checkout.ErrInvalidTransition):
		return errorResponse{Code: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, payment.ErrUnavailable):
		return errorResponse{Code: http.StatusServiceUnavailable, Message: "payment gateway unavailable"}
	default:
		return errorResponse{Code: http.StatusBadGateway, Message: "payment could not be started"}
	}
}
