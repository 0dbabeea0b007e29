package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

type productImage struct {
	Thumbnail string `json:"thumbnail"`
	Mobile    string `json:"mobile"`
	Tablet    string `json:"tablet"`
	Desktop   string `json:"desktop"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Price       decimal.Decimal   `json:"price"`
	Category    string            `json:"category"`
	PackSizesKg []decimal.Decimal `json:"packSizesKg,omitempty"`
	Image       productImage      `json:"image"`
}

// ListProducts returns every product in the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.List(r.Context())
	if err != nil {
		writeInternal(w, r, errors.Wrap(err, "list products"))
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = h.productResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProduct returns a single product by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookupProduct(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.productResponse(*p))
}

// lookupProduct answers 404 or 500 itself when it reports false.
func (h *Handler) lookupProduct(w http.ResponseWriter, r *http.Request, id string) (*product.Product, bool) {
	p, err := h.Products.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
		return nil, false
	case err != nil:
		writeInternal(w, r, errors.Wrap(err, "get product"))
		return nil, false
	}
	return p, true
}

// productResponse prefixes image paths with the configured base URL.
func (h *Handler) productResponse(p product.Product) productResponse {
	base := h.imageBaseURL
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		Category:    p.Category,
		PackSizesKg: p.PackSizesKg,
		Image: productImage{
			Thumbnail: base + p.Image.Thumbnail,
			Mobile:    base + p.Image.Mobile,
			Tablet:    base + p.Image.Tablet,
			Desktop:   base + p.Image.Desktop,
		},
	}
}
