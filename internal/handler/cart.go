package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
)

type lineResponse struct {
	ProductID  string          `json:"productId"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	PackSizeKg decimal.Decimal `json:"packSizeKg"`
	LineTotal  decimal.Decimal `json:"lineTotal"`
	Product    json.RawMessage `json:"product,omitempty"`
}

func newLineResponse(l cart.Line) lineResponse {
	return lineResponse{
		ProductID:  l.ProductID,
		Qty:        l.Qty,
		UnitPrice:  l.UnitPrice,
		PackSizeKg: l.EffectivePackSize(),
		LineTotal:  pricing.LineTotal(l.Pricing()),
		Product:    json.RawMessage(l.Product),
	}
}

type cartResponse struct {
	Items []lineResponse  `json:"items"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

func newCartResponse(lines []cart.Line) cartResponse {
	resp := cartResponse{Items: make([]lineResponse, len(lines))}
	for i, l := range lines {
		resp.Items[i] = newLineResponse(l)
		resp.Count += l.Qty
	}
	resp.Total = pricing.Subtotal(cart.PricingLines(lines))
	return resp
}

// GetCart returns the cart of the session.
func (h *Handler) GetCart(w http.ResponseWriter, _ *http.Request, s session) {
	writeJSON(w, http.StatusOK, newCartResponse(s.Store.Lines()))
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request, s session) {
	s.Store.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	ProductID  string          `json:"productId"`
	Qty        int             `json:"qty"`
	PackSizeKg decimal.Decimal `json:"packSizeKg"`
}

// AddCartItem adds a catalog product to the cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request, s session) {
	var req addItemRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	p, ok := h.lookupProduct(w, r, req.ProductID)
	if !ok {
		return
	}
	s.Store.AddItem(r.Context(), *p, req.Qty, req.PackSizeKg)
	writeJSON(w, http.StatusCreated, newCartResponse(s.Store.Lines()))
}

type updateItemRequest struct {
	Qty        *int             `json:"qty"`
	PackSizeKg *decimal.Decimal `json:"packSizeKg"`
}

// UpdateCartItem changes the quantity or pack size of a line. A quantity of
// zero or less removes it.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request, s session) {
	var req updateItemRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	if req.Qty == nil && req.PackSizeKg == nil {
		writeError(w, http.StatusBadRequest, "qty or packSizeKg is required")
		return
	}

	id := r.PathValue("productId")
	if !s.Store.IsInCart(id) {
		writeError(w, http.StatusNotFound, "item not in cart")
		return
	}
	if req.PackSizeKg != nil {
		s.Store.UpdatePackSize(r.Context(), id, *req.PackSizeKg)
	}
	if req.Qty != nil {
		s.Store.UpdateQuantity(r.Context(), id, *req.Qty)
	}
	writeJSON(w, http.StatusOK, newCartResponse(s.Store.Lines()))
}

// RemoveCartItem deletes a line.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request, s session) {
	if !s.Store.RemoveItem(r.Context(), r.PathValue("productId")) {
		writeError(w, http.StatusNotFound, "item not in cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quoteRequest struct {
	CouponCode string `json:"couponCode"`
}

type quoteResponse struct {
	pricing.Breakdown
	CouponCode        string `json:"couponCode,omitempty"`
	CouponDescription string `json:"couponDescription,omitempty"`
	CouponError       string `json:"couponError,omitempty"`
}

// Quote previews the price of the current cart with an optional coupon. A
// coupon problem never fails the quote; it is reported next to a breakdown
// without the discount.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request, s session) {
	var req quoteRequest
	if !decodeOrFail(w, r, &req) {
		return
	}

	lines := cart.PricingLines(s.Store.Lines())
	settings := h.Settings.Settings()
	resp := quoteResponse{Breakdown: pricing.Compute(lines, settings, decimal.Zero)}

	if code := coupon.Normalize(req.CouponCode); code != "" && len(lines) > 0 {
		d, err := h.Coupons.Validate(r.Context(), code, resp.Subtotal)
		switch {
		case err == nil:
			resp.Breakdown = pricing.Compute(lines, settings, d.Amount)
			resp.CouponCode = d.Code
			resp.CouponDescription = d.Description
		case coupon.IsRejection(err):
			resp.CouponError = err.Error()
		default:
			zctx.From(r.Context()).Warn("Coupon validation unavailable", zap.Error(err))
			resp.CouponError = "coupon validation temporarily unavailable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type wishlistResponse struct {
	Items []wishlistItem `json:"items"`
	Count int            `json:"count"`
}

type wishlistItem struct {
	ProductID string          `json:"productId"`
	Product   json.RawMessage `json:"product,omitempty"`
}

func newWishlistResponse(entries []cart.WishlistEntry) wishlistResponse {
	resp := wishlistResponse{Items: make([]wishlistItem, len(entries)), Count: len(entries)}
	for i, e := range entries {
		resp.Items[i] = wishlistItem{ProductID: e.ProductID, Product: json.RawMessage(e.Product)}
	}
	return resp
}

// GetWishlist returns the saved products of the session.
func (h *Handler) GetWishlist(w http.ResponseWriter, _ *http.Request, s session) {
	writeJSON(w, http.StatusOK, newWishlistResponse(s.Store.Wishlist()))
}

type wishlistRequest struct {
	ProductID string `json:"productId"`
}

// AddWishlistItem saves a product. Saving it twice is not an error.
func (h *Handler) AddWishlistItem(w http.ResponseWriter, r *http.Request, s session) {
	var req wishlistRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	p, ok := h.lookupProduct(w, r, req.ProductID)
	if !ok {
		return
	}
	code := http.StatusOK
	if s.Store.AddToWishlist(r.Context(), *p) {
		code = http.StatusCreated
	}
	writeJSON(w, code, newWishlistResponse(s.Store.Wishlist()))
}

// RemoveWishlistItem drops a saved product.
func (h *Handler) RemoveWishlistItem(w http.ResponseWriter, r *http.Request, s session) {
	if !s.Store.RemoveFromWishlist(r.Context(), r.PathValue("productId")) {
		writeError(w, http.StatusNotFound, "item not in wishlist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleWishlistItem saves or drops a product.
func (h *Handler) ToggleWishlistItem(w http.ResponseWriter, r *http.Request, s session) {
	p, ok := h.lookupProduct(w, r, r.PathValue("productId"))
	if !ok {
		return
	}
	saved := s.Store.ToggleWishlist(r.Context(), *p)
	writeJSON(w, http.StatusOK, map[string]bool{"saved": saved})
}

// MoveWishlistItem moves a saved product into the cart.
func (h *Handler) MoveWishlistItem(w http.ResponseWriter, r *http.Request, s session) {
	var req addItemRequest
	if !decodeOrFail(w, r, &req) {
		return
	}
	id := r.PathValue("productId")
	if !s.Store.IsInWishlist(id) {
		writeError(w, http.StatusNotFound, cart.ErrNotInWishlist.Error())
		return
	}
	p, ok := h.lookupProduct(w, r, id)
	if !ok {
		return
	}
	if _, err := s.Store.MoveToCart(r.Context(), *p, req.Qty, req.PackSizeKg); err != nil {
		if errors.Is(err, cart.ErrNotInWishlist) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(s.Store.Lines()))
}
