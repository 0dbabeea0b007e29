package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// ErrNotInWishlist is returned when moving a product that is not saved.
var ErrNotInWishlist = errors.New("product not in wishlist")

// Store is the authoritative cart and wishlist of one session. In-memory
// state wins over storage: every mutation writes a snapshot, a failed write
// is logged and the mutation still stands. Subscribers are notified after
// the write attempt either way.
type Store struct {
	mu       sync.Mutex
	storage  Storage
	merger   *Merger
	identity identity.Identity
	// merged is the transition flag: set on guest to user, reset on return
	// to guest.
	merged bool
	// guestRetained marks a merge whose result was not persisted, leaving
	// the guest snapshot behind.
	guestRetained bool

	lines    []Line
	index    map[string]int
	wishlist []WishlistEntry
	wished   map[string]int

	subs    map[uint64]func(Event)
	nextSub uint64
	onWrite func(ctx context.Context, key string)
}

// NewStore loads the cart and wishlist of id from storage.
func NewStore(ctx context.Context, storage Storage, id identity.Identity) *Store {
	s := &Store{
		storage:  storage,
		merger:   NewMerger(storage),
		identity: id,
		merged:   !id.IsGuest(),
		subs:     make(map[uint64]func(Event)),
	}
	s.reloadLocked(ctx)
	return s
}

// Identity returns the identity the store currently serves.
func (s *Store) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Subscribe registers fn for change events and returns its cancel func.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// AddItem adds qty of p. An existing line grows to at most MaxQty and keeps
// its pack size if it has one; a new line starts at min(qty, MaxQty).
func (s *Store) AddItem(ctx context.Context, p product.Product, qty int, packSizeKg decimal.Decimal) Line {
	s.mu.Lock()
	l := s.addLocked(p, qty, packSizeKg)
	ev := s.commitCart(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return l
}

func (s *Store) addLocked(p product.Product, qty int, packSizeKg decimal.Decimal) Line {
	qty = max(qty, MinQty)
	if i, ok := s.index[p.ID]; ok {
		l := &s.lines[i]
		l.Qty = ClampQty(l.Qty + qty)
		if !l.HasPackSize() && packSizeKg.IsPositive() {
			l.PackSizeKg = packSizeKg
		}
		return *l
	}

	l := Line{
		ProductID: p.ID,
		Qty:       ClampQty(qty),
		UnitPrice: p.Price,
		Product:   Snapshot(p),
	}
	if packSizeKg.IsPositive() {
		l.PackSizeKg = packSizeKg
	}
	s.index[l.ProductID] = len(s.lines)
	s.lines = append(s.lines, l)
	return l
}

// UpdateQuantity sets the quantity of a line. qty <= 0 removes the line;
// larger values are clamped to MaxQty. It reports whether the line existed.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, qty int) bool {
	s.mu.Lock()
	i, ok := s.index[productID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if qty <= 0 {
		s.removeLocked(productID)
	} else {
		s.lines[i].Qty = ClampQty(qty)
	}
	ev := s.commitCart(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// UpdatePackSize sets the pack size of a line; non-positive values become
// DefaultPackSizeKg.
func (s *Store) UpdatePackSize(ctx context.Context, productID string, packSizeKg decimal.Decimal) bool {
	s.mu.Lock()
	i, ok := s.index[productID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.lines[i].PackSizeKg = NormalizePackSize(packSizeKg)
	ev := s.commitCart(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// RemoveItem deletes a line and reports whether it existed.
func (s *Store) RemoveItem(ctx context.Context, productID string) bool {
	s.mu.Lock()
	if !s.removeLocked(productID) {
		s.mu.Unlock()
		return false
	}
	ev := s.commitCart(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.setLinesLocked(nil)
	ev := s.commitCart(ctx)
	s.mu.Unlock()

	s.notify(ev)
}

// ClearFor empties the cart of id. When the store has since switched to
// another identity only the persisted snapshot of id is emptied and the
// current lines are left alone.
func (s *Store) ClearFor(ctx context.Context, id identity.Identity) {
	s.mu.Lock()
	if s.identity != id {
		s.write(ctx, identity.CartKey(id), EncodeLines(nil))
		s.mu.Unlock()
		return
	}
	s.setLinesLocked(nil)
	ev := s.commitCart(ctx)
	s.mu.Unlock()

	s.notify(ev)
}

func (s *Store) removeLocked(productID string) bool {
	i, ok := s.index[productID]
	if !ok {
		return false
	}
	s.setLinesLocked(slices.Delete(s.lines, i, i+1))
	return true
}

func (s *Store) setLinesLocked(lines []Line) {
	s.lines = lines
	s.index = make(map[string]int, len(lines))
	for i, l := range lines {
		s.index[l.ProductID] = i
	}
}

// IsInCart reports whether productID has a line.
func (s *Store) IsInCart(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[productID]
	return ok
}

// Lines returns a copy of the cart lines in display order.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

// Total is Σ round(unitPrice × packSizeKg) × qty.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.Subtotal(PricingLines(s.lines))
}

// Count is Σ qty.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *Store) countLocked() int {
	n := 0
	for _, l := range s.lines {
		n += l.Qty
	}
	return n
}

// AddToWishlist saves p and reports whether it was newly added.
func (s *Store) AddToWishlist(ctx context.Context, p product.Product) bool {
	s.mu.Lock()
	if _, ok := s.wished[p.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.addWishLocked(p)
	ev := s.commitWishlist(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// RemoveFromWishlist drops productID and reports whether it was saved.
func (s *Store) RemoveFromWishlist(ctx context.Context, productID string) bool {
	s.mu.Lock()
	if !s.removeWishLocked(productID) {
		s.mu.Unlock()
		return false
	}
	ev := s.commitWishlist(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// ToggleWishlist adds or removes p and reports whether it is now saved.
func (s *Store) ToggleWishlist(ctx context.Context, p product.Product) bool {
	s.mu.Lock()
	saved := true
	if s.removeWishLocked(p.ID) {
		saved = false
	} else {
		s.addWishLocked(p)
	}
	ev := s.commitWishlist(ctx)
	s.mu.Unlock()

	s.notify(ev)
	return saved
}

// MoveToCart adds a saved product to the cart and drops it from the wishlist.
func (s *Store) MoveToCart(ctx context.Context, p product.Product, qty int, packSizeKg decimal.Decimal) (Line, error) {
	s.mu.Lock()
	if !s.removeWishLocked(p.ID) {
		s.mu.Unlock()
		return Line{}, ErrNotInWishlist
	}
	l := s.addLocked(p, qty, packSizeKg)
	cartEv := s.commitCart(ctx)
	wishEv := s.commitWishlist(ctx)
	s.mu.Unlock()

	s.notify(cartEv, wishEv)
	return l, nil
}

// IsInWishlist reports whether productID is saved.
func (s *Store) IsInWishlist(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wished[productID]
	return ok
}

// Wishlist returns a copy of the saved entries.
func (s *Store) Wishlist() []WishlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.wishlist)
}

func (s *Store) addWishLocked(p product.Product) {
	s.wished[p.ID] = len(s.wishlist)
	s.wishlist = append(s.wishlist, WishlistEntry{ProductID: p.ID, Product: Snapshot(p)})
}

func (s *Store) removeWishLocked(productID string) bool {
	i, ok := s.wished[productID]
	if !ok {
		return false
	}
	s.setWishlistLocked(slices.Delete(s.wishlist, i, i+1))
	return true
}

func (s *Store) setWishlistLocked(entries []WishlistEntry) {
	s.wishlist = entries
	s.wished = make(map[string]int, len(entries))
	for i, w := range entries {
		s.wished[w.ProductID] = i
	}
}

// Reconcile reloads key after an external write and notifies subscribers.
// Keys the store does not own are ignored.
func (s *Store) Reconcile(ctx context.Context, key string) bool {
	s.mu.Lock()
	var ev Event
	switch key {
	case identity.CartKey(s.identity):
		if lines, ok := s.loadLines(ctx, key); ok {
			s.setLinesLocked(lines)
		}
		ev = Event{Kind: KindCart, Key: key, Source: SourceExternal, Count: s.countLocked()}
	case identity.WishlistKey(s.identity):
		if entries, ok := s.loadWishlist(ctx, key); ok {
			s.setWishlistLocked(entries)
		}
		ev = Event{Kind: KindWishlist, Key: key, Source: SourceExternal, Count: len(s.wishlist)}
	default:
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// SwitchIdentity moves the store to next. On the first guest to user
// transition the guest cart is merged into the user's cart; returning to
// guest resets the transition flag. A failed merge leaves the store on its
// current identity.
func (s *Store) SwitchIdentity(ctx context.Context, next identity.Identity) error {
	s.mu.Lock()
	if s.identity == next {
		s.mu.Unlock()
		return nil
	}

	var (
		events  []Event
		retired bool
	)
	if s.guestRetained {
		retired = s.retireGuestLocked(ctx)
	}
	switch {
	case next.IsGuest():
		s.merged = false
	case s.identity.IsGuest() && !s.merged:
		res, err := s.merger.Merge(ctx, s.lines, next)
		if err != nil {
			s.mu.Unlock()
			return errors.Wrap(err, "merge guest cart")
		}
		s.merged = true
		if res.Changed {
			s.guestRetained = res.GuestRetained
			s.identity = next
			s.setLinesLocked(res.Lines)
			events = append(events, Event{
				Kind:   KindCart,
				Key:    identity.CartKey(next),
				Source: SourceMerge,
				Count:  s.countLocked(),
			})
		}
	}

	if len(events) == 0 {
		s.identity = next
		if retired && next.IsGuest() {
			s.setLinesLocked(nil)
		} else if lines, ok := s.loadLines(ctx, identity.CartKey(next)); ok {
			s.setLinesLocked(lines)
		} else {
			s.setLinesLocked(nil)
		}
		events = append(events, Event{
			Kind:   KindCart,
			Key:    identity.CartKey(next),
			Source: SourceIdentity,
			Count:  s.countLocked(),
		})
	}
	if entries, ok := s.loadWishlist(ctx, identity.WishlistKey(next)); ok {
		s.setWishlistLocked(entries)
	} else {
		s.setWishlistLocked(nil)
	}
	events = append(events, Event{
		Kind:   KindWishlist,
		Key:    identity.WishlistKey(next),
		Source: SourceIdentity,
		Count:  len(s.wishlist),
	})
	s.mu.Unlock()

	s.notify(events...)
	return nil
}

// retireGuestLocked runs when leaving an identity whose merge was not
// persisted. It saves the merged cart and drops the guest snapshot it
// absorbed, reporting whether that worked; on a failed write the guest
// snapshot stays and is what a later guest session loads.
func (s *Store) retireGuestLocked(ctx context.Context) bool {
	s.guestRetained = false
	if !s.write(ctx, identity.CartKey(s.identity), EncodeLines(s.lines)) {
		return false
	}
	if err := s.storage.Delete(ctx, identity.CartKey(identity.Guest())); err != nil {
		zctx.From(ctx).Warn("Guest cart delete failed", zap.Error(err))
	}
	return true
}

func (s *Store) reloadLocked(ctx context.Context) {
	lines, _ := s.loadLines(ctx, identity.CartKey(s.identity))
	s.setLinesLocked(lines)
	entries, _ := s.loadWishlist(ctx, identity.WishlistKey(s.identity))
	s.setWishlistLocked(entries)
}

// loadLines reads key. A corrupt snapshot yields an empty cart with ok set;
// a storage failure yields ok unset so the caller keeps what it has.
func (s *Store) loadLines(ctx context.Context, key string) ([]Line, bool) {
	data, err := s.storage.Load(ctx, key)
	if err != nil {
		zctx.From(ctx).Warn("Cart snapshot read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	lines, err := DecodeLines(data)
	if err != nil {
		zctx.From(ctx).Warn("Corrupt cart snapshot, treating as empty", zap.String("key", key), zap.Error(err))
		return nil, true
	}
	return lines, true
}

func (s *Store) loadWishlist(ctx context.Context, key string) ([]WishlistEntry, bool) {
	data, err := s.storage.Load(ctx, key)
	if err != nil {
		zctx.From(ctx).Warn("Wishlist snapshot read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	entries, err := DecodeWishlist(data)
	if err != nil {
		zctx.From(ctx).Warn("Corrupt wishlist snapshot, treating as empty", zap.String("key", key), zap.Error(err))
		return nil, true
	}
	return entries, true
}

func (s *Store) commitCart(ctx context.Context) Event {
	key := identity.CartKey(s.identity)
	s.write(ctx, key, EncodeLines(s.lines))
	return Event{Kind: KindCart, Key: key, Source: SourceLocal, Count: s.countLocked()}
}

func (s *Store) commitWishlist(ctx context.Context) Event {
	key := identity.WishlistKey(s.identity)
	s.write(ctx, key, EncodeWishlist(s.wishlist))
	return Event{Kind: KindWishlist, Key: key, Source: SourceLocal, Count: len(s.wishlist)}
}

// write saves a snapshot and reports whether it was stored.
func (s *Store) write(ctx context.Context, key string, data []byte) bool {
	if err := s.storage.Save(ctx, key, data); err != nil {
		zctx.From(ctx).Warn("Snapshot write failed, keeping in-memory state",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	if s.onWrite != nil {
		s.onWrite(ctx, key)
	}
	return true
}

func (s *Store) notify(events ...Event) {
	s.mu.Lock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}
