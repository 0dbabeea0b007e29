package cart

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type memStorage struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   []string
	deletes []string
	loadErr error
	saveErr error
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data[key], nil
}

func (m *memStorage) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, key)
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	delete(m.data, key)
	return nil
}

// --- Helpers ---

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func prod(id, price string) product.Product {
	return product.Product{ID: id, Name: "Product " + id, Price: dec(price), Category: "nuts"}
}

var noPack = decimal.Zero

func newGuestStore(t *testing.T, st Storage) *Store {
	t.Helper()
	return NewStore(context.Background(), st, identity.Guest())
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// --- Tests ---

func TestAddItem(t *testing.T) {
	tests := []struct {
		name     string
		existing *Line
		qty      int
		pack     decimal.Decimal
		wantQty  int
		wantPack decimal.Decimal
	}{
		{name: "new line", qty: 3, pack: dec("0.5"), wantQty: 3, wantPack: dec("0.5")},
		{name: "new line clamps to max", qty: 25, pack: noPack, wantQty: 10, wantPack: decimal.Zero},
		{name: "zero qty counts as one", qty: 0, pack: noPack, wantQty: 1, wantPack: decimal.Zero},
		{
			name:     "existing grows",
			existing: &Line{ProductID: "a", Qty: 4, PackSizeKg: dec("2")},
			qty:      3,
			pack:     dec("0.25"),
			wantQty:  7,
			wantPack: dec("2"),
		},
		{
			name:     "existing clamps at max",
			existing: &Line{ProductID: "a", Qty: 8},
			qty:      5,
			pack:     noPack,
			wantQty:  10,
			wantPack: decimal.Zero,
		},
		{
			name:     "existing without pack size takes the new one",
			existing: &Line{ProductID: "a", Qty: 1},
			qty:      1,
			pack:     dec("0.5"),
			wantQty:  2,
			wantPack: dec("0.5"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStorage()
			if tt.existing != nil {
				st.data["cart_guest"] = EncodeLines([]Line{*tt.existing})
			}
			s := newGuestStore(t, st)

			got := s.AddItem(context.Background(), prod("a", "100"), tt.qty, tt.pack)

			assert.Equal(t, tt.wantQty, got.Qty)
			assert.True(t, tt.wantPack.Equal(got.PackSizeKg), "pack %s, want %s", got.PackSizeKg, tt.wantPack)
			require.Len(t, s.Lines(), 1)
			assert.Contains(t, st.saves, "cart_guest")
		})
	}
}

func TestAddItem_SnapshotCarriesProduct(t *testing.T) {
	s := newGuestStore(t, newMemStorage())
	l := s.AddItem(context.Background(), prod("a", "640"), 1, noPack)

	assert.Contains(t, string(l.Product), `"name":"Product a"`)
	assert.True(t, dec("640").Equal(l.UnitPrice))
}

func TestUpdateQuantity(t *testing.T) {
	ctx := context.Background()
	s := newGuestStore(t, newMemStorage())
	s.AddItem(ctx, prod("a", "10"), 2, noPack)

	require.True(t, s.UpdateQuantity(ctx, "a", 50))
	assert.Equal(t, 10, s.Lines()[0].Qty)

	require.True(t, s.UpdateQuantity(ctx, "a", 4))
	assert.Equal(t, 4, s.Lines()[0].Qty)

	require.True(t, s.UpdateQuantity(ctx, "a", 0))
	assert.False(t, s.IsInCart("a"))

	assert.False(t, s.UpdateQuantity(ctx, "missing", 3))
}

func TestUpdateQuantity_NegativeRemoves(t *testing.T) {
	ctx := context.Background()
	s := newGuestStore(t, newMemStorage())
	s.AddItem(ctx, prod("a", "10"), 2, noPack)

	require.True(t, s.UpdateQuantity(ctx, "a", -3))
	assert.Empty(t, s.Lines())
}

func TestUpdatePackSize(t *testing.T) {
	ctx := context.Background()
	s := newGuestStore(t, newMemStorage())
	s.AddItem(ctx, prod("a", "10"), 1, noPack)

	require.True(t, s.UpdatePackSize(ctx, "a", dec("2.5")))
	assert.True(t, dec("2.5").Equal(s.Lines()[0].PackSizeKg))

	require.True(t, s.UpdatePackSize(ctx, "a", dec("-1")))
	assert.True(t, DefaultPackSizeKg.Equal(s.Lines()[0].PackSizeKg))

	assert.False(t, s.UpdatePackSize(ctx, "missing", dec("1")))
}

func TestParsePackSize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "0.5", want: "0.5"},
		{in: " 2 ", want: "2"},
		{in: "abc", want: "1"},
		{in: "", want: "1"},
		{in: "0", want: "1"},
		{in: "-3", want: "1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, dec(tt.want).Equal(ParsePackSize(tt.in)))
		})
	}
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	st := newMemStorage()
	s := newGuestStore(t, st)
	s.AddItem(ctx, prod("a", "10"), 1, noPack)
	s.AddItem(ctx, prod("b", "20"), 1, noPack)
	s.AddItem(ctx, prod("c", "30"), 1, noPack)

	require.True(t, s.RemoveItem(ctx, "b"))
	assert.False(t, s.RemoveItem(ctx, "b"))
	assert.True(t, s.IsInCart("a"))
	assert.True(t, s.IsInCart("c"))
	assert.False(t, s.IsInCart("b"))
	require.True(t, s.UpdateQuantity(ctx, "c", 3), "index is rebuilt after removal")
	assert.Equal(t, 4, s.Count())

	s.Clear(ctx)
	assert.Empty(t, s.Lines())
	assert.Zero(t, s.Count())
	assert.JSONEq(t, `[]`, string(st.data["cart_guest"]))
}

func TestClearFor(t *testing.T) {
	ctx := context.Background()
	user := identity.Identity{ID: "u1"}

	t.Run("CurrentIdentity", func(t *testing.T) {
		st := newMemStorage()
		s := NewStore(ctx, st, user)
		s.AddItem(ctx, prod("a", "10"), 2, noPack)
		var rec recorder
		s.Subscribe(rec.record)

		s.ClearFor(ctx, user)
		assert.Empty(t, s.Lines())
		assert.JSONEq(t, `[]`, string(st.data["cart_u1"]))
		require.Len(t, rec.all(), 1)
	})

	t.Run("AfterLogout", func(t *testing.T) {
		st := newMemStorage()
		s := NewStore(ctx, st, user)
		s.AddItem(ctx, prod("a", "10"), 2, noPack)
		require.NoError(t, s.SwitchIdentity(ctx, identity.Guest()))
		s.AddItem(ctx, prod("g", "5"), 1, noPack)
		var rec recorder
		s.Subscribe(rec.record)

		s.ClearFor(ctx, user)
		assert.JSONEq(t, `[]`, string(st.data["cart_u1"]))
		require.Len(t, s.Lines(), 1)
		assert.Equal(t, "g", s.Lines()[0].ProductID)
		assert.Contains(t, string(st.data["cart_guest"]), `"g"`)
		assert.Empty(t, rec.all())
	})
}

func TestTotal_RoundsPerPack(t *testing.T) {
	ctx := context.Background()
	s := newGuestStore(t, newMemStorage())
	// round(10.3) = 10, ×3 = 30
	s.AddItem(ctx, prod("a", "10.3"), 3, noPack)
	// round(83.25) = 83, ×2 = 166
	s.AddItem(ctx, prod("b", "333"), 2, dec("0.25"))

	assert.True(t, dec("196").Equal(s.Total()), "got %s", s.Total())
	assert.Equal(t, 5, s.Count())
}

func TestTotal_OrderInvariant(t *testing.T) {
	ctx := context.Background()
	products := []product.Product{prod("a", "12.49"), prod("b", "99.99"), prod("c", "640"), prod("d", "1.5")}
	packs := []string{"0.5", "0.25", "2", "1"}

	forward := newGuestStore(t, newMemStorage())
	for i, p := range products {
		forward.AddItem(ctx, p, i+1, dec(packs[i]))
	}
	backward := newGuestStore(t, newMemStorage())
	for i := len(products) - 1; i >= 0; i-- {
		backward.AddItem(ctx, products[i], i+1, dec(packs[i]))
	}

	assert.True(t, forward.Total().Equal(backward.Total()))
}

func TestMutations_KeepInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))
	s := newGuestStore(t, newMemStorage())
	ids := []string{"a", "b", "c", "d"}

	for range 500 {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(3) {
		case 0:
			s.AddItem(ctx, prod(id, "10"), rng.IntN(15)-2, noPack)
		case 1:
			s.UpdateQuantity(ctx, id, rng.IntN(20)-5)
		case 2:
			s.UpdatePackSize(ctx, id, decimal.NewFromInt(int64(rng.IntN(4)-1)))
		}

		seen := make(map[string]bool)
		for _, l := range s.Lines() {
			require.GreaterOrEqual(t, l.Qty, MinQty)
			require.LessOrEqual(t, l.Qty, MaxQty)
			require.False(t, seen[l.ProductID], "duplicate line for %s", l.ProductID)
			seen[l.ProductID] = true
		}
	}
}

func TestCorruptSnapshotIsEmpty(t *testing.T) {
	for _, raw := range []string{`{"not":"an array"}`, `[{"productId":"a","qty":`, `garbage`, `42`} {
		t.Run(raw, func(t *testing.T) {
			st := newMemStorage()
			st.data["cart_guest"] = []byte(raw)
			st.data["wishlist_guest"] = []byte(raw)

			s := newGuestStore(t, st)
			assert.Empty(t, s.Lines())
			assert.Empty(t, s.Wishlist())
		})
	}
}

func TestStorageFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	st := newMemStorage()
	st.saveErr = errors.New("quota exceeded")
	s := newGuestStore(t, st)

	rec := &recorder{}
	s.Subscribe(rec.record)

	s.AddItem(ctx, prod("a", "10"), 2, noPack)

	assert.Equal(t, 2, s.Count(), "in-memory state stays authoritative")
	events := rec.all()
	require.Len(t, events, 1, "observers are notified even when the write fails")
	assert.Equal(t, Event{Kind: KindCart, Key: "cart_guest", Source: SourceLocal, Count: 2}, events[0])
}

func TestSubscribe_Cancel(t *testing.T) {
	ctx := context.Background()
	s := newGuestStore(t, newMemStorage())
	rec := &recorder{}
	cancel := s.Subscribe(rec.record)

	s.AddItem(ctx, prod("a", "10"), 1, noPack)
	cancel()
	s.AddItem(ctx, prod("a", "10"), 1, noPack)

	assert.Len(t, rec.all(), 1)
}

func TestWishlist(t *testing.T) {
	ctx := context.Background()
	st := newMemStorage()
	s := newGuestStore(t, st)

	assert.True(t, s.AddToWishlist(ctx, prod("a", "10")))
	assert.False(t, s.AddToWishlist(ctx, prod("a", "10")))
	assert.True(t, s.IsInWishlist("a"))

	assert.False(t, s.ToggleWishlist(ctx, prod("a", "10")))
	assert.False(t, s.IsInWishlist("a"))
	assert.True(t, s.ToggleWishlist(ctx, prod("b", "10")))
	assert.True(t, s.IsInWishlist("b"))

	assert.True(t, s.RemoveFromWishlist(ctx, "b"))
	assert.False(t, s.RemoveFromWishlist(ctx, "b"))
	assert.Contains(t, st.saves, "wishlist_guest")
	assert.False(t, s.IsInCart("b"), "wishlist is independent from the cart")
}

func TestMoveToCart(t *testing.T) {
	ctx := context.Background()
	s := newGuestStore(t, newMemStorage())
	rec := &recorder{}
	s.Subscribe(rec.record)

	_, err := s.MoveToCart(ctx, prod("a", "10"), 1, noPack)
	require.ErrorIs(t, err, ErrNotInWishlist)

	s.AddToWishlist(ctx, prod("a", "10"))
	l, err := s.MoveToCart(ctx, prod("a", "10"), 2, dec("0.5"))
	require.NoError(t, err)
	assert.Equal(t, 2, l.Qty)
	assert.True(t, s.IsInCart("a"))
	assert.False(t, s.IsInWishlist("a"))

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, KindCart, events[1].Kind)
	assert.Equal(t, KindWishlist, events[2].Kind)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	st := newMemStorage()
	s := newGuestStore(t, st)
	s.AddItem(ctx, prod("a", "10"), 1, noPack)
	rec := &recorder{}
	s.Subscribe(rec.record)

	// Another tab rewrote the cart.
	st.data["cart_guest"] = EncodeLines([]Line{
		{ProductID: "b", Qty: 3, UnitPrice: dec("5")},
	})
	require.True(t, s.Reconcile(ctx, "cart_guest"))
	assert.False(t, s.IsInCart("a"))
	assert.True(t, s.IsInCart("b"))
	assert.Equal(t, []Event{{Kind: KindCart, Key: "cart_guest", Source: SourceExternal, Count: 3}}, rec.all())

	assert.False(t, s.Reconcile(ctx, "cart_someone_else"))
}

func TestReconcile_ReadFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	st := newMemStorage()
	s := newGuestStore(t, st)
	s.AddItem(ctx, prod("a", "10"), 1, noPack)

	st.loadErr = errors.New("unavailable")
	require.True(t, s.Reconcile(ctx, "cart_guest"))
	assert.True(t, s.IsInCart("a"))
}
