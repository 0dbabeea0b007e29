package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name     string
		id       Identity
		cart     string
		wishlist string
	}{
		{name: "guest", id: Guest(), cart: "cart_guest", wishlist: "wishlist_guest"},
		{name: "user", id: Identity{ID: "u42", Role: "customer"}, cart: "cart_u42", wishlist: "wishlist_u42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.cart, CartKey(tt.id))
			assert.Equal(t, tt.wishlist, WishlistKey(tt.id))
		})
	}
}

func TestIsGuest(t *testing.T) {
	assert.True(t, Guest().IsGuest())
	assert.True(t, Identity{Role: "customer"}.IsGuest())
	assert.False(t, Identity{ID: "u1"}.IsGuest())
}
