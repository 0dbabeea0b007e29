package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name        string
		rule        *Rule
		subtotal    decimal.Decimal
		wantAmount  decimal.Decimal
		wantErr     error
		wantErrText string
	}{
		{
			name:       "percentage 18% off 1000",
			rule:       &Rule{Code: "PCT18", DiscountType: DiscountPercentage, Value: d("18")},
			subtotal:   d("1000"),
			wantAmount: d("180"),
		},
		{
			name:       "percentage capped by max discount",
			rule:       &Rule{Code: "HALF", DiscountType: DiscountPercentage, Value: d("50"), MaxDiscount: d("150")},
			subtotal:   d("1000"),
			wantAmount: d("150"),
		},
		{
			name:       "percentage 100% equals subtotal",
			rule:       &Rule{Code: "FREE", DiscountType: DiscountPercentage, Value: d("100")},
			subtotal:   d("640"),
			wantAmount: d("640"),
		},
		{
			name:       "fixed 200 off",
			rule:       &Rule{Code: "FLAT200", DiscountType: DiscountFixed, Value: d("200")},
			subtotal:   d("1200"),
			wantAmount: d("200"),
		},
		{
			name:       "fixed larger than subtotal is capped",
			rule:       &Rule{Code: "BIG", DiscountType: DiscountFixed, Value: d("500")},
			subtotal:   d("300"),
			wantAmount: d("300"),
		},
		{
			name:     "below minimum subtotal",
			rule:     &Rule{Code: "MIN999", DiscountType: DiscountFixed, Value: d("100"), MinSubtotal: d("999")},
			subtotal: d("998.99"),
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:       "exactly minimum subtotal",
			rule:       &Rule{Code: "MIN999", DiscountType: DiscountFixed, Value: d("100"), MinSubtotal: d("999")},
			subtotal:   d("999"),
			wantAmount: d("100"),
		},
		{
			name:       "rounds to 2 dp",
			rule:       &Rule{Code: "PCT33", DiscountType: DiscountPercentage, Value: d("33.33")},
			subtotal:   d("10.01"),
			wantAmount: d("3.34"),
		},
		{
			name:       "zero subtotal",
			rule:       &Rule{Code: "ANY", DiscountType: DiscountFixed, Value: d("50")},
			subtotal:   decimal.Zero,
			wantAmount: decimal.Zero,
		},
		{
			name:        "unsupported discount type",
			rule:        &Rule{Code: "BAD", DiscountType: DiscountType("free_lowest"), Value: d("10")},
			subtotal:    d("10"),
			wantErrText: "unsupported discount type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.rule, tt.subtotal)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.wantErrText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrText)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.Equal(t, tt.rule.Code, got.Code)
		})
	}
}
