package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/product"
)

func TestStore_Namespaces(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := s.Namespace("a"), s.Namespace("b")

	data, err := a.Load(ctx, "cart_guest")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, a.Save(ctx, "cart_guest", []byte(`[1]`)))
	require.NoError(t, b.Save(ctx, "cart_guest", []byte(`[2]`)))

	data, err = a.Load(ctx, "cart_guest")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(data))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, a.Delete(ctx, "cart_guest"))
	data, err = a.Load(ctx, "cart_guest")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, 1, s.Len())
}

func TestStore_CopiesData(t *testing.T) {
	ns := New().Namespace("a")
	ctx := context.Background()

	buf := []byte(`[]`)
	require.NoError(t, ns.Save(ctx, "k", buf))
	buf[0] = 'x'

	data, err := ns.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}

func TestStore_BacksCartSessions(t *testing.T) {
	s := New()
	sessions := cart.NewSessions(s.Namespace)
	ctx := context.Background()

	store, err := sessions.Resolve(ctx, "device-1", identity.Guest())
	require.NoError(t, err)
	store.AddItem(ctx, product.Product{ID: "p1", Price: decimal.NewFromInt(10)}, 2, decimal.Zero)

	data, err := s.Namespace("device-1").Load(ctx, identity.CartKey(identity.Guest()))
	require.NoError(t, err)
	lines, err := cart.DecodeLines(data)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Qty)
}
