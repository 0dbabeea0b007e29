package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Deps are the domain collaborators behind the HTTP surface.
type Deps struct {
	Products  product.Repository
	Coupons   coupon.Validator
	Settings  pricing.SettingsSource
	Sessions  *cart.Sessions
	Checkout  *checkout.Service
	Callbacks *payment.Callbacks
	Orders    *order.Aggregator
}

// Handler serves the storefront JSON API under /api/.
type Handler struct {
	Deps
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	return &Handler{
		Deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.withSession(h.GetCart))
	mux.HandleFunc("DELETE /api/cart", h.withSession(h.ClearCart))
	mux.HandleFunc("POST /api/cart/items", h.withSession(h.AddCartItem))
	mux.HandleFunc("PATCH /api/cart/items/{productId}", h.withSession(h.UpdateCartItem))
	mux.HandleFunc("DELETE /api/cart/items/{productId}", h.withSession(h.RemoveCartItem))
	mux.HandleFunc("POST /api/cart/quote", h.withSession(h.Quote))

	mux.HandleFunc("GET /api/wishlist", h.withSession(h.GetWishlist))
	mux.HandleFunc("POST /api/wishlist/items", h.withSession(h.AddWishlistItem))
	mux.HandleFunc("DELETE /api/wishlist/items/{productId}", h.withSession(h.RemoveWishlistItem))
	mux.HandleFunc("POST /api/wishlist/items/{productId}/toggle", h.withSession(h.ToggleWishlistItem))
	mux.HandleFunc("POST /api/wishlist/items/{productId}/move", h.withSession(h.MoveWishlistItem))

	mux.HandleFunc("GET /api/checkout", h.withSession(h.ActiveCheckout))
	mux.HandleFunc("POST /api/checkout", h.withSession(h.BeginCheckout))
	mux.HandleFunc("GET /api/checkout/gateways", h.ListGateways)
	mux.HandleFunc("GET /api/checkout/{id}", h.withSession(h.GetCheckout))
	mux.HandleFunc("POST /api/checkout/{id}/coupon", h.withSession(h.ApplyCoupon))
	mux.HandleFunc("DELETE /api/checkout/{id}/coupon", h.withSession(h.RemoveCoupon))
	mux.HandleFunc("POST /api/checkout/{id}/gateway", h.withSession(h.SelectGateway))
	mux.HandleFunc("POST /api/checkout/{id}/pay", h.withSession(h.Pay))
	mux.HandleFunc("POST /api/checkout/{id}/cancel", h.withSession(h.CancelCheckout))
	mux.HandleFunc("POST /api/payments/{provider}/callback", h.PaymentCallback)

	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/summary", h.OrderSummary)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
}

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Code: code, Message: message})
}

// writeInternal logs err and answers 500 without leaking it.
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decode reads a JSON body of at most 1 MiB into v. An empty body leaves v
// untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	d := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decode(w, r, v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
