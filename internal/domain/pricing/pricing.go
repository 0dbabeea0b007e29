// Package pricing turns a cart snapshot, a resolved coupon discount and the
// platform settings into a price breakdown. It has no side effects.
//
// Order of operations:
//
//	subtotal            = Σ round(unitPrice × packSizeKg) × qty
//	shipping            = fee when subtotal < threshold, else 0
//	taxAmount           = (subtotal − couponDiscount) × taxPercent / 100
//	promotionalDiscount = subtotal × promotionalPercent / 100
//	total               = subtotal + shipping + taxAmount − couponDiscount − promotionalDiscount
//
// The coupon reduces the tax base; the promotional discount does not.
package pricing

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Settings is the read-only pricing configuration snapshot.
type Settings struct {
	TaxPercent         decimal.Decimal
	PromotionalPercent decimal.Decimal
	ShippingThreshold  decimal.Decimal
	ShippingFee        decimal.Decimal
}

// DefaultSettings returns the platform defaults {18, 0, 1000, 50}.
func DefaultSettings() Settings {
	return Settings{
		TaxPercent:         decimal.NewFromInt(18),
		PromotionalPercent: decimal.Zero,
		ShippingThreshold:  decimal.NewFromInt(1000),
		ShippingFee:        decimal.NewFromInt(50),
	}
}

// SettingsSource exposes the current settings snapshot.
type SettingsSource interface {
	Settings() Settings
}

// Static is a SettingsSource that always returns the same snapshot.
type Static Settings

// Settings implements SettingsSource.
func (s Static) Settings() Settings {
	return Settings(s)
}

// Line is the part of a cart line that affects price.
type Line struct {
	UnitPrice  decimal.Decimal
	PackSizeKg decimal.Decimal
	Qty        int
}

// Breakdown is the derived, never persisted, price of a cart.
type Breakdown struct {
	Subtotal            decimal.Decimal `json:"subtotal"`
	Shipping            decimal.Decimal `json:"shipping"`
	TaxAmount           decimal.Decimal `json:"taxAmount"`
	CouponDiscount      decimal.Decimal `json:"couponDiscount"`
	PromotionalDiscount decimal.Decimal `json:"promotionalDiscount"`
	Total               decimal.Decimal `json:"total"`
}

// PackPrice returns the per-pack price round(unitPrice × packSizeKg).
// A non-positive pack size counts as the default of 1 kg.
func PackPrice(unitPrice, packSizeKg decimal.Decimal) decimal.Decimal {
	if !packSizeKg.IsPositive() {
		packSizeKg = one
	}
	return floorAtZero(unitPrice).Mul(packSizeKg).Round(0)
}

// LineTotal rounds once at the per-pack step, then multiplies by quantity.
func LineTotal(l Line) decimal.Decimal {
	if l.Qty <= 0 {
		return decimal.Zero
	}
	return PackPrice(l.UnitPrice, l.PackSizeKg).Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Subtotal sums LineTotal over lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(LineTotal(l))
	}
	return sum
}

// Compute derives the breakdown for lines. It never fails: negative inputs
// are clamped to zero and the total never goes below zero.
func Compute(lines []Line, s Settings, couponDiscount decimal.Decimal) Breakdown {
	return ComputeFromSubtotal(Subtotal(lines), s, couponDiscount)
}

// ComputeFromSubtotal is Compute for an already summed subtotal.
func ComputeFromSubtotal(subtotal decimal.Decimal, s Settings, couponDiscount decimal.Decimal) Breakdown {
	subtotal = floorAtZero(subtotal)
	couponDiscount = decimal.Min(floorAtZero(couponDiscount), subtotal)

	shipping := decimal.Zero
	if subtotal.LessThan(floorAtZero(s.ShippingThreshold)) {
		shipping = floorAtZero(s.ShippingFee)
	}

	taxBase := subtotal.Sub(couponDiscount)
	taxAmount := percentOf(taxBase, s.TaxPercent)
	promotional := percentOf(subtotal, s.PromotionalPercent)

	total := subtotal.
		Add(shipping).
		Add(taxAmount).
		Sub(couponDiscount).
		Sub(promotional)

	return Breakdown{
		Subtotal:            subtotal.Round(2),
		Shipping:            shipping.Round(2),
		TaxAmount:           taxAmount,
		CouponDiscount:      couponDiscount.Round(2),
		PromotionalDiscount: promotional,
		Total:               floorAtZero(total).Round(2),
	}
}

func percentOf(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(floorAtZero(percent)).Div(hundred).Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
