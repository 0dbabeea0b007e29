package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/retry"
)

type orderResponse struct {
	ID            string               `json:"id"`
	Type          order.Type           `json:"type"`
	Number        string               `json:"number,omitempty"`
	Status        order.Status         `json:"status"`
	CreatedAt     time.Time            `json:"createdAt"`
	TotalAmount   *decimal.Decimal     `json:"totalAmount"`
	StatusHistory []order.StatusChange `json:"statusHistory,omitempty"`
}

func newOrderResponse(o order.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Type:          o.Type,
		Number:        o.Number,
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
		TotalAmount:   o.TotalAmount,
		StatusHistory: o.StatusHistory,
	}
}

// ListOrders returns the retail, bulk and sample orders of the caller,
// newest first, optionally filtered by ?type= and ?status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		typ     order.Type
		hasType bool
	)
	if v := q.Get("type"); v != "" {
		if typ, hasType = order.ParseType(v); !hasType {
			writeError(w, http.StatusBadRequest, "type must be one of Retail, Bulk, Sample")
			return
		}
	}
	status := order.Status(q.Get("status"))

	view := h.Orders.FetchAll(r.Context(), IdentityFromContext(r.Context()))
	orders := view.All()
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		if hasType && o.Type != typ {
			continue
		}
		if status != "" && !o.Status.Is(status) {
			continue
		}
		out = append(out, newOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// OrderSummary returns counts by status and type plus the retail spend.
func (h *Handler) OrderSummary(w http.ResponseWriter, r *http.Request) {
	view := h.Orders.FetchAll(r.Context(), IdentityFromContext(r.Context()))
	writeJSON(w, http.StatusOK, view.Summary())
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels a retail order of the caller.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id.IsGuest() {
		writeError(w, http.StatusUnauthorized, "sign in to manage orders")
		return
	}
	var req cancelOrderRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	view := h.Orders.FetchAll(r.Context(), id)
	o, err := h.Orders.Cancel(r.Context(), id, view, r.PathValue("id"), req.Reason)
	if err != nil {
		code, msg := mapOrderError(err)
		if code == http.StatusInternalServerError {
			writeInternal(w, r, err)
			return
		}
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// mapOrderError converts order errors to a status code and message.
func mapOrderError(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, order.ErrNotCancellable):
		return http.StatusConflict, order.ErrNotCancellable.Error()
	case errors.Is(err, retry.ErrThrottled):
		return http.StatusServiceUnavailable, "order service busy, try again later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
