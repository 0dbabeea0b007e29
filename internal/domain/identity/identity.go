// Package identity describes who the storefront is serving: a guest or an
// authenticated user.
package identity

const guestKey = "guest"

// Identity is the current guest or logged-in user. The zero value is the guest.
type Identity struct {
	ID   string
	Role string
}

// Guest returns the guest identity.
func Guest() Identity {
	return Identity{}
}

// IsGuest reports whether the identity is unauthenticated.
func (i Identity) IsGuest() bool {
	return i.ID == ""
}

// Key returns the storage key segment for the identity.
func (i Identity) Key() string {
	if i.IsGuest() {
		return guestKey
	}
	return i.ID
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return i.Key()
}

// CartKey returns the persisted cart key, e.g. cart_guest or cart_<id>.
func CartKey(i Identity) string {
	return "cart_" + i.Key()
}

// WishlistKey returns the persisted wishlist key, e.g. wishlist_guest.
func WishlistKey(i Identity) string {
	return "wishlist_" + i.Key()
}
