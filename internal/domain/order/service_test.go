package order

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockRedeemer struct {
	redeemed []string
	err      error
}

func (m *mockRedeemer) Redeem(_ context.Context, code string) error {
	m.redeemed = append(m.redeemed, code)
	return m.err
}

type mockRetailRepo struct {
	lastOrder *Retail
	err       error
}

func (m *mockRetailRepo) Create(_ context.Context, o *Retail) error {
	m.lastOrder = o
	return m.err
}

func (m *mockRetailRepo) ListRetail(_ context.Context, _ string) ([]Retail, error) {
	return nil, nil
}

// --- Helpers ---

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func newTestService(products *mockProductRepo, orders *mockRetailRepo, coupons *mockRedeemer) *Service {
	svc := NewService(products, orders, coupons, pricing.Static(pricing.DefaultSettings()))
	svc.now = func() time.Time { return time.Date(2025, 3, 9, 10, 30, 0, 0, time.UTC) }
	return svc
}

var (
	almonds = product.Product{ID: "p1", Name: "Almonds", Price: dec("640")}
	cashews = product.Product{ID: "p2", Name: "Cashews", Price: dec("900")}
)

// --- Tests ---

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockRetailRepo{}, &mockRedeemer{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	svc := newTestService(newProductRepo(almonds), &mockRetailRepo{}, &mockRedeemer{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items: []LineItem{{ProductID: "p1", Qty: 0, UnitPrice: dec("640")}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockRetailRepo{}, &mockRedeemer{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items: []LineItem{{ProductID: "missing", Qty: 1, UnitPrice: dec("10")}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestCreateOrder_NoCoupon(t *testing.T) {
	orders := &mockRetailRepo{}
	coupons := &mockRedeemer{}
	svc := newTestService(newProductRepo(almonds, cashews), orders, coupons)

	receipt, err := svc.CreateOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Items: []LineItem{
			{ProductID: "p1", Qty: 1, UnitPrice: dec("640"), PackSizeKg: dec("0.5")},
			{ProductID: "p2", Qty: 2, UnitPrice: dec("900"), PackSizeKg: dec("0.25")},
		},
	})

	require.NoError(t, err)
	// subtotal 320 + 2×225 = 770, shipping 50, tax 138.60
	assert.True(t, dec("958.6").Equal(receipt.TotalPrice), "got %s", receipt.TotalPrice)
	assert.Equal(t, StatusPending, receipt.Status)
	assert.Empty(t, coupons.redeemed)

	o := orders.lastOrder
	require.NotNil(t, o)
	assert.Equal(t, "u1", o.UserID)
	assert.True(t, dec("770").Equal(o.Subtotal))
	assert.True(t, dec("50").Equal(o.Shipping))
	assert.True(t, dec("138.6").Equal(o.TaxAmount))
	assert.Equal(t, "Almonds", o.Items[0].Name)
	assert.True(t, dec("450").Equal(o.Items[1].LineTotal))
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, StatusPending, o.StatusHistory[0].Status)
}

func TestCreateOrder_WithCoupon(t *testing.T) {
	orders := &mockRetailRepo{}
	coupons := &mockRedeemer{}
	svc := newTestService(newProductRepo(almonds), orders, coupons)

	receipt, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items:          []LineItem{{ProductID: "p1", Qty: 2, UnitPrice: dec("640"), PackSizeKg: dec("1")}},
		CouponCode:     " save100 ",
		CouponDiscount: dec("100"),
	})

	require.NoError(t, err)
	// subtotal 1280, no shipping, tax (1280-100)×18% = 212.40
	assert.True(t, dec("1392.4").Equal(receipt.TotalPrice), "got %s", receipt.TotalPrice)
	assert.Equal(t, []string{"SAVE100"}, coupons.redeemed)
	assert.Equal(t, "SAVE100", orders.lastOrder.CouponCode)
	assert.True(t, dec("100").Equal(orders.lastOrder.CouponDiscount))
}

func TestCreateOrder_RedeemFailureDoesNotFailOrder(t *testing.T) {
	orders := &mockRetailRepo{}
	coupons := &mockRedeemer{err: coupon.ErrCouponUsageLimitReached}
	svc := newTestService(newProductRepo(almonds), orders, coupons)

	receipt, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items:          []LineItem{{ProductID: "p1", Qty: 1, UnitPrice: dec("640"), PackSizeKg: dec("1")}},
		CouponCode:     "LIMITED",
		CouponDiscount: dec("40"),
	})

	require.NoError(t, err)
	assert.NotEmpty(t, receipt.OrderID)
	assert.NotNil(t, orders.lastOrder)
}

func TestCreateOrder_DiscountWithoutCodeIgnored(t *testing.T) {
	orders := &mockRetailRepo{}
	svc := newTestService(newProductRepo(almonds), orders, &mockRedeemer{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items:          []LineItem{{ProductID: "p1", Qty: 2, UnitPrice: dec("640"), PackSizeKg: dec("1")}},
		CouponDiscount: dec("500"),
	})

	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(orders.lastOrder.CouponDiscount))
}

func TestCreateOrder_OrderNumberFormat(t *testing.T) {
	orders := &mockRetailRepo{}
	svc := newTestService(newProductRepo(almonds), orders, &mockRedeemer{})

	receipt, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items: []LineItem{{ProductID: "p1", Qty: 1, UnitPrice: dec("640"), PackSizeKg: dec("1")}},
	})

	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORD-20250309-[0-9A-F]{6}$`), receipt.OrderNumber)
}

func TestCreateOrder_ProductLookupError(t *testing.T) {
	repo := newProductRepo(almonds)
	repo.getErr = errors.New("connection refused")
	svc := newTestService(repo, &mockRetailRepo{}, &mockRedeemer{})

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items: []LineItem{{ProductID: "p1", Qty: 1, UnitPrice: dec("640")}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestCreateOrder_OrderCreateError(t *testing.T) {
	coupons := &mockRedeemer{}
	svc := newTestService(
		newProductRepo(almonds),
		&mockRetailRepo{err: errors.New("db write failed")},
		coupons,
	)

	_, err := svc.CreateOrder(context.Background(), CreateRequest{
		Items:      []LineItem{{ProductID: "p1", Qty: 1, UnitPrice: dec("640")}},
		CouponCode: "SAVE",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Empty(t, coupons.redeemed, "coupon must not be consumed when the order is not recorded")
}
