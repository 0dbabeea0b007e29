package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: expected %s, got %s", field, want, got)
}

func settings(tax, promo, threshold, fee string) Settings {
	return Settings{
		TaxPercent:         d(tax),
		PromotionalPercent: d(promo),
		ShippingThreshold:  d(threshold),
		ShippingFee:        d(fee),
	}
}

func TestComputeFromSubtotal(t *testing.T) {
	tests := []struct {
		name      string
		subtotal  string
		coupon    string
		settings  Settings
		wantShip  string
		wantTax   string
		wantPromo string
		wantTotal string
	}{
		{
			name:      "coupon reduces tax base, promotion applied after tax",
			subtotal:  "1200",
			coupon:    "200",
			settings:  settings("18", "5", "1000", "50"),
			wantShip:  "0",
			wantTax:   "180",
			wantPromo: "60",
			wantTotal: "1120",
		},
		{
			name:      "below threshold pays shipping",
			subtotal:  "999",
			coupon:    "0",
			settings:  DefaultSettings(),
			wantShip:  "50",
			wantTax:   "179.82",
			wantPromo: "0",
			wantTotal: "1228.82",
		},
		{
			name:      "at threshold ships free",
			subtotal:  "1000",
			coupon:    "0",
			settings:  DefaultSettings(),
			wantShip:  "0",
			wantTax:   "180",
			wantPromo: "0",
			wantTotal: "1180",
		},
		{
			name:      "overridden threshold and fee",
			subtotal:  "1000",
			coupon:    "0",
			settings:  settings("0", "0", "2000", "99"),
			wantShip:  "99",
			wantTax:   "0",
			wantPromo: "0",
			wantTotal: "1099",
		},
		{
			name:      "promotion is not tax deductible",
			subtotal:  "1000",
			coupon:    "0",
			settings:  settings("10", "10", "0", "0"),
			wantShip:  "0",
			wantTax:   "100",
			wantPromo: "100",
			wantTotal: "1000",
		},
		{
			name:      "coupon larger than subtotal is capped",
			subtotal:  "100",
			coupon:    "500",
			settings:  settings("18", "0", "0", "0"),
			wantShip:  "0",
			wantTax:   "0",
			wantPromo: "0",
			wantTotal: "0",
		},
		{
			name:      "total clamped at zero",
			subtotal:  "100",
			coupon:    "100",
			settings:  settings("18", "150", "0", "0"),
			wantShip:  "0",
			wantTax:   "0",
			wantPromo: "150",
			wantTotal: "0",
		},
		{
			name:      "negative coupon ignored",
			subtotal:  "1000",
			coupon:    "-50",
			settings:  DefaultSettings(),
			wantShip:  "0",
			wantTax:   "180",
			wantPromo: "0",
			wantTotal: "1180",
		},
		{
			name:      "empty cart still charges shipping fee",
			subtotal:  "0",
			coupon:    "0",
			settings:  DefaultSettings(),
			wantShip:  "50",
			wantTax:   "0",
			wantPromo: "0",
			wantTotal: "50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFromSubtotal(d(tt.subtotal), tt.settings, d(tt.coupon))

			assertDecimal(t, d(tt.wantShip), got.Shipping, "shipping")
			assertDecimal(t, d(tt.wantTax), got.TaxAmount, "tax")
			assertDecimal(t, d(tt.wantPromo), got.PromotionalDiscount, "promotional")
			assertDecimal(t, d(tt.wantTotal), got.Total, "total")
		})
	}
}

func TestCompute_TotalIdentity(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("333.33"), PackSizeKg: d("1.5"), Qty: 3},
		{UnitPrice: d("49.99"), PackSizeKg: d("1"), Qty: 2},
	}
	b := Compute(lines, settings("18", "7.5", "1000", "50"), d("120"))

	want := b.Subtotal.Add(b.Shipping).Add(b.TaxAmount).Sub(b.CouponDiscount).Sub(b.PromotionalDiscount)
	assertDecimal(t, want, b.Total, "total")
}

func TestLineTotal_RoundsPerPackBeforeQuantity(t *testing.T) {
	// 10.3 × 1 = 10.3 → 10 per pack, × 3 = 30. Rounding the final sum
	// instead would give round(30.9) = 31.
	got := LineTotal(Line{UnitPrice: d("10.3"), PackSizeKg: d("1"), Qty: 3})
	assertDecimal(t, d("30"), got, "line total")

	// 120 × 2.5 kg = 300 per pack.
	got = LineTotal(Line{UnitPrice: d("120"), PackSizeKg: d("2.5"), Qty: 2})
	assertDecimal(t, d("600"), got, "line total")

	// Half rounds up: 0.5 × 1 = 0.5 → 1.
	got = LineTotal(Line{UnitPrice: d("0.5"), PackSizeKg: d("1"), Qty: 4})
	assertDecimal(t, d("4"), got, "line total")
}

func TestPackPrice_DefaultsPackSize(t *testing.T) {
	assertDecimal(t, d("250"), PackPrice(d("250"), decimal.Zero), "zero pack size")
	assertDecimal(t, d("250"), PackPrice(d("250"), d("-2")), "negative pack size")
}

func TestSubtotal_OrderInvariant(t *testing.T) {
	a := Line{UnitPrice: d("99.5"), PackSizeKg: d("0.5"), Qty: 3}
	b := Line{UnitPrice: d("10.49"), PackSizeKg: d("2"), Qty: 7}
	c := Line{UnitPrice: d("1250"), PackSizeKg: d("1"), Qty: 1}

	first := Subtotal([]Line{a, b, c})
	second := Subtotal([]Line{c, a, b})
	assertDecimal(t, first, second, "subtotal")
}

func TestStatic(t *testing.T) {
	src := Static(DefaultSettings())
	assertDecimal(t, d("18"), src.Settings().TaxPercent, "tax")
}
