package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// LineItem is one line of the cart snapshot an order is created from.
type LineItem struct {
	ProductID  string
	Qty        int
	UnitPrice  decimal.Decimal
	PackSizeKg decimal.Decimal
}

// CreateRequest holds the input for recording a paid order.
type CreateRequest struct {
	UserID         string
	Items          []LineItem
	Address        Address
	Payment        Payment
	CouponCode     string
	CouponDiscount decimal.Decimal
}

// Receipt is returned for a recorded order.
type Receipt struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Status      Status          `json:"status"`
}

// Service records retail orders.
type Service struct {
	products product.Repository
	orders   RetailRepository
	coupons  coupon.Redeemer
	settings pricing.SettingsSource
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	orders RetailRepository,
	coupons coupon.Redeemer,
	settings pricing.SettingsSource,
) *Service {
	return &Service{
		products: products,
		orders:   orders,
		coupons:  coupons,
		settings: settings,
		now:      time.Now,
	}
}

// CreateOrder prices the snapshot with the current settings, persists a
// Pending retail order and redeems the coupon. The snapshot's unit prices are
// authoritative: they are what the shopper paid.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Receipt, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Qty <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	names := make(map[string]string, len(fetched))
	for _, p := range fetched {
		names[p.ID] = p.Name
	}

	items := make([]Item, len(req.Items))
	lines := make([]pricing.Line, len(req.Items))
	for i, li := range req.Items {
		name, ok := names[li.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: li.ProductID}
		}
		lines[i] = pricing.Line{UnitPrice: li.UnitPrice, PackSizeKg: li.PackSizeKg, Qty: li.Qty}
		items[i] = Item{
			ProductID:  li.ProductID,
			Name:       name,
			Qty:        li.Qty,
			UnitPrice:  li.UnitPrice,
			PackSizeKg: li.PackSizeKg,
			LineTotal:  pricing.LineTotal(lines[i]),
		}
	}

	discount := decimal.Zero
	code := coupon.Normalize(req.CouponCode)
	if code != "" {
		discount = req.CouponDiscount
	}
	b := pricing.Compute(lines, s.settings.Settings(), discount)

	now := s.now().UTC()
	id := uuid.New().String()
	o := &Retail{
		ID:                  id,
		Number:              orderNumber(now, id),
		UserID:              req.UserID,
		Items:               items,
		Address:             req.Address,
		Payment:             req.Payment,
		CouponCode:          code,
		Subtotal:            b.Subtotal,
		Shipping:            b.Shipping,
		TaxAmount:           b.TaxAmount,
		CouponDiscount:      b.CouponDiscount,
		PromotionalDiscount: b.PromotionalDiscount,
		TotalPrice:          b.Total,
		Status:              StatusPending,
		CreatedAt:           now,
		StatusHistory: []StatusChange{
			{Status: StatusPending, At: now, Note: "order placed"},
		},
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	if code != "" {
		// The order is recorded and paid for; a failed redemption only skews
		// the usage counter.
		if err := s.coupons.Redeem(ctx, code); err != nil {
			zctx.From(ctx).Warn("Coupon redemption failed",
				zap.String("order_id", o.ID),
				zap.String("coupon", code),
				zap.Error(err),
			)
		}
	}

	return &Receipt{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		TotalPrice:  o.TotalPrice,
		Status:      o.Status,
	}, nil
}

// orderNumber formats ORD-YYYYMMDD-XXXXXX from the creation date and id.
func orderNumber(at time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return "ORD-" + at.Format("20060102") + "-" + suffix
}
