package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinesRoundTrip(t *testing.T) {
	lines := []Line{
		{ProductID: "a", Qty: 3, UnitPrice: dec("640"), PackSizeKg: dec("0.5"), Product: Snapshot(prod("a", "640"))},
		{ProductID: "b", Qty: 10, UnitPrice: dec("12.49")},
		{ProductID: "c", Qty: 1, UnitPrice: dec("0"), PackSizeKg: dec("2")},
	}

	got, err := DecodeLines(EncodeLines(lines))
	require.NoError(t, err)
	require.Len(t, got, len(lines))

	byID := make(map[string]Line, len(got))
	for _, l := range got {
		byID[l.ProductID] = l
	}
	for _, want := range lines {
		l, ok := byID[want.ProductID]
		require.True(t, ok, want.ProductID)
		assert.Equal(t, want.Qty, l.Qty)
		assert.True(t, want.UnitPrice.Equal(l.UnitPrice))
		assert.True(t, want.PackSizeKg.Equal(l.PackSizeKg))
		if len(want.Product) > 0 {
			assert.JSONEq(t, string(want.Product), string(l.Product))
		} else {
			assert.Empty(t, l.Product)
		}
	}
}

func TestEncodeLines_Shape(t *testing.T) {
	data := EncodeLines([]Line{{ProductID: "a", Qty: 2, UnitPrice: dec("10.5"), PackSizeKg: dec("0.25")}})
	assert.JSONEq(t, `[{"productId":"a","qty":2,"unitPrice":10.5,"packSizeKg":0.25}]`, string(data))
	assert.JSONEq(t, `[]`, string(EncodeLines(nil)))
}

func TestDecodeLines_Tolerant(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Line
	}{
		{
			name:  "empty input is an empty cart",
			input: ``,
		},
		{
			name:  "qty is clamped",
			input: `[{"productId":"a","qty":40,"unitPrice":5},{"productId":"b","qty":-2,"unitPrice":5}]`,
			want: []Line{
				{ProductID: "a", Qty: 10, UnitPrice: dec("5")},
				{ProductID: "b", Qty: 1, UnitPrice: dec("5")},
			},
		},
		{
			name:  "non-object elements and missing ids are dropped",
			input: `[1, null, "x", {"qty":2}, {"productId":"a","qty":2,"unitPrice":"7.5"}]`,
			want:  []Line{{ProductID: "a", Qty: 2, UnitPrice: dec("7.5")}},
		},
		{
			name:  "duplicates fold into one line",
			input: `[{"productId":"a","qty":6,"unitPrice":5},{"productId":"a","qty":7,"unitPrice":5,"packSizeKg":2}]`,
			want:  []Line{{ProductID: "a", Qty: 10, UnitPrice: dec("5"), PackSizeKg: dec("2")}},
		},
		{
			name:  "legacy field names and numeric ids",
			input: `[{"id":17,"quantity":3,"price":99,"extra":{"nested":[1,2]}}]`,
			want:  []Line{{ProductID: "17", Qty: 3, UnitPrice: dec("99")}},
		},
		{
			name:  "invalid pack size is unset",
			input: `[{"productId":"a","qty":1,"unitPrice":5,"packSizeKg":0}]`,
			want:  []Line{{ProductID: "a", Qty: 1, UnitPrice: dec("5")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLines([]byte(tt.input))
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i, want := range tt.want {
				assert.Equal(t, want.ProductID, got[i].ProductID)
				assert.Equal(t, want.Qty, got[i].Qty)
				assert.True(t, want.UnitPrice.Equal(got[i].UnitPrice), "unit price %s", got[i].UnitPrice)
				assert.True(t, want.PackSizeKg.Equal(got[i].PackSizeKg), "pack %s", got[i].PackSizeKg)
			}
		})
	}
}

func TestDecodeLines_Malformed(t *testing.T) {
	for _, input := range []string{`{}`, `"cart"`, `[{"productId":"a"`, `[{"productId":}]`} {
		t.Run(input, func(t *testing.T) {
			_, err := DecodeLines([]byte(input))
			require.Error(t, err)
		})
	}
}

func TestWishlistRoundTrip(t *testing.T) {
	entries := []WishlistEntry{
		{ProductID: "a", Product: Snapshot(prod("a", "10"))},
		{ProductID: "b"},
	}

	got, err := DecodeWishlist(EncodeWishlist(entries))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ProductID)
	assert.JSONEq(t, string(entries[0].Product), string(got[0].Product))
	assert.Equal(t, "b", got[1].ProductID)
}

func TestDecodeWishlist_Dedupes(t *testing.T) {
	got, err := DecodeWishlist([]byte(`[{"productId":"a"},{"productId":"a"},{"id":"b"},{}]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ProductID)
	assert.Equal(t, "b", got[1].ProductID)
}
