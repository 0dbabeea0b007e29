package cart

import (
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Quantity bounds enforced on every mutation.
const (
	MinQty = 1
	MaxQty = 10
)

// DefaultPackSizeKg is used when a line has no pack size or an invalid one.
var DefaultPackSizeKg = decimal.NewFromInt(1)

// Line is one product in a cart. A zero PackSizeKg means the shopper never
// chose one; it prices as DefaultPackSizeKg. Product is an opaque display
// snapshot carried through storage untouched.
type Line struct {
	ProductID  string
	Qty        int
	UnitPrice  decimal.Decimal
	PackSizeKg decimal.Decimal
	Product    jx.Raw
}

// HasPackSize reports whether a pack size was chosen for the line.
func (l Line) HasPackSize() bool {
	return l.PackSizeKg.IsPositive()
}

// EffectivePackSize returns the pack size used for pricing.
func (l Line) EffectivePackSize() decimal.Decimal {
	if l.HasPackSize() {
		return l.PackSizeKg
	}
	return DefaultPackSizeKg
}

// Pricing returns the price-relevant part of the line.
func (l Line) Pricing() pricing.Line {
	return pricing.Line{UnitPrice: l.UnitPrice, PackSizeKg: l.EffectivePackSize(), Qty: l.Qty}
}

// WishlistEntry is a saved product without quantity.
type WishlistEntry struct {
	ProductID string
	Product   jx.Raw
}

// PricingLines converts lines for the pricing calculator.
func PricingLines(lines []Line) []pricing.Line {
	out := make([]pricing.Line, len(lines))
	for i, l := range lines {
		out[i] = l.Pricing()
	}
	return out
}

// ClampQty bounds qty to [MinQty, MaxQty].
func ClampQty(qty int) int {
	return min(max(qty, MinQty), MaxQty)
}

// ParsePackSize coerces shopper input to a pack size. Non-numeric and
// non-positive input yields DefaultPackSizeKg.
func ParsePackSize(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return DefaultPackSizeKg
	}
	return NormalizePackSize(d)
}

// NormalizePackSize replaces a non-positive pack size with DefaultPackSizeKg.
func NormalizePackSize(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return DefaultPackSizeKg
	}
	return d
}
