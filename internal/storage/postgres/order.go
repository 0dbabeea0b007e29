package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	retailColumns = `id, order_number, user_id, items, address, payment, coupon_code,
		subtotal, shipping, tax_amount, coupon_discount, promotional_discount, total_price,
		status, cancel_reason, created_at, status_history`

	createOrderSQL = `INSERT INTO orders (id, order_number, user_id, items, address, payment, coupon_code,
			subtotal, shipping, tax_amount, coupon_discount, promotional_discount, total_price,
			status, created_at, status_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	listRetailSQL = `SELECT ` + retailColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	cancelOrderSQL = `UPDATE orders SET
			status = $3,
			cancel_reason = $4,
			status_history = status_history || $5::jsonb
		WHERE id = $1 AND user_id = $2 AND LOWER(status) IN ('pending', 'processing', 'shipped')
		RETURNING ` + retailColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1 AND user_id = $2)`
)

var (
	_ order.RetailRepository = (*OrderRepository)(nil)
	_ order.Canceller        = (*OrderRepository)(nil)
)

// OrderRepository stores retail orders.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists a new order. Items, address, payment and history are
// serialized to JSON for storage in JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Retail) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}
	paymentJSON, err := json.Marshal(o.Payment)
	if err != nil {
		return fmt.Errorf("marshaling order payment: %w", err)
	}
	historyJSON, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshaling order history: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.UserID, itemsJSON, addressJSON, paymentJSON, o.CouponCode,
		o.Subtotal, o.Shipping, o.TaxAmount, o.CouponDiscount, o.PromotionalDiscount, o.TotalPrice,
		string(o.Status), o.CreatedAt, historyJSON,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// ListRetail returns the user's orders, newest first.
func (r *OrderRepository) ListRetail(ctx context.Context, userID string) ([]order.Retail, error) {
	rows, err := r.pool.Query(ctx, listRetailSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanRetail)
}

// CancelOrder marks the order Cancelled when its status still allows it.
func (r *OrderRepository) CancelOrder(ctx context.Context, userID, orderID, reason string) (*order.Retail, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, order.ErrNotFound
	}

	entry, err := json.Marshal([]order.StatusChange{{
		Status: order.StatusCancelled,
		At:     r.now().UTC(),
		Note:   reason,
	}})
	if err != nil {
		return nil, fmt.Errorf("marshaling status change: %w", err)
	}

	rows, err := r.pool.Query(ctx, cancelOrderSQL, orderID, userID, string(order.StatusCancelled), reason, entry)
	if err != nil {
		return nil, classify(fmt.Errorf("cancelling order %q: %w", orderID, err))
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanRetail)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, classify(fmt.Errorf("cancelling order %q: %w", orderID, err))
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, orderID, userID).Scan(&exists); err != nil {
		return nil, classify(fmt.Errorf("checking order %q: %w", orderID, err))
	}
	if !exists {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrNotCancellable
}

func scanRetail(row pgx.CollectableRow) (order.Retail, error) {
	var (
		o                                      order.Retail
		status                                 string
		itemsJSON, addrJSON, payJSON, histJSON []byte
	)
	if err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &itemsJSON, &addrJSON, &payJSON, &o.CouponCode,
		&o.Subtotal, &o.Shipping, &o.TaxAmount, &o.CouponDiscount, &o.PromotionalDiscount, &o.TotalPrice,
		&status, &o.CancelReason, &o.CreatedAt, &histJSON,
	); err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	for _, f := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"items", itemsJSON, &o.Items},
		{"address", addrJSON, &o.Address},
		{"payment", payJSON, &o.Payment},
		{"status_history", histJSON, &o.StatusHistory},
	} {
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return o, fmt.Errorf("decoding %s of order %q: %w", f.name, o.ID, err)
		}
	}
	return o, nil
}
