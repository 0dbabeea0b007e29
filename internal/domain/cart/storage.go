// Package cart owns the per-identity shopping cart and wishlist: mutation
// rules, persistence through a keyed store, change notification and the
// guest-to-user merge.
package cart

import "context"

// Storage is a keyed snapshot store scoped to one session namespace. Load
// returns nil data and no error for a missing key.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// StorageFactory returns the Storage for a session namespace.
type StorageFactory func(namespace string) Storage

// Change announces that a key in a namespace was written by some store.
// Origin identifies the writer so it can ignore its own echo.
type Change struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Origin    string `json:"origin"`
}

// Broadcaster fans out Change events to other instances.
type Broadcaster interface {
	Publish(ctx context.Context, c Change) error
}

// Kind tells which collection an Event is about.
type Kind string

const (
	KindCart     Kind = "cart"
	KindWishlist Kind = "wishlist"
)

// Source tells what caused an Event.
type Source string

const (
	SourceLocal    Source = "local"
	SourceExternal Source = "external"
	SourceMerge    Source = "merge"
	SourceIdentity Source = "identity"
)

// Event is delivered to subscribers after a change and its write attempt.
type Event struct {
	Kind   Kind
	Key    string
	Source Source
	Count  int
}
