package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	listBulkSQL = `SELECT id, user_id, company_name, product_id, quantity_kg, status, request_date
		FROM bulk_orders WHERE user_id = $1 ORDER BY request_date DESC`

	createBulkSQL = `INSERT INTO bulk_orders (id, user_id, company_name, product_id, quantity_kg, status, request_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listSamplesSQL = `SELECT id, user_id, product_id, status, request_date
		FROM sample_requests WHERE user_id = $1 ORDER BY request_date DESC`

	createSampleSQL = `INSERT INTO sample_requests (id, user_id, product_id, status, request_date)
		VALUES ($1, $2, $3, $4, $5)`
)

var (
	_ order.BulkRepository   = (*RequestRepository)(nil)
	_ order.SampleRepository = (*RequestRepository)(nil)
)

// RequestRepository stores bulk quote requests and free-sample requests.
type RequestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository returns a RequestRepository that uses the given pool.
func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

// ListBulk returns the user's bulk quote requests.
func (r *RequestRepository) ListBulk(ctx context.Context, userID string) ([]order.BulkRequest, error) {
	rows, err := r.pool.Query(ctx, listBulkSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing bulk requests of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.BulkRequest, error) {
		var (
			b      order.BulkRequest
			status string
		)
		err := row.Scan(&b.ID, &b.UserID, &b.CompanyName, &b.ProductID, &b.QuantityKg, &status, &b.RequestDate)
		b.Status = order.Status(status)
		return b, err
	})
}

// CreateBulk records a bulk quote request.
func (r *RequestRepository) CreateBulk(ctx context.Context, b *order.BulkRequest) error {
	_, err := r.pool.Exec(ctx, createBulkSQL,
		b.ID, b.UserID, b.CompanyName, b.ProductID, b.QuantityKg, string(b.Status), b.RequestDate,
	)
	if err != nil {
		return fmt.Errorf("creating bulk request %q: %w", b.ID, err)
	}
	return nil
}

// ListSamples returns the user's free-sample requests.
func (r *RequestRepository) ListSamples(ctx context.Context, userID string) ([]order.SampleRequest, error) {
	rows, err := r.pool.Query(ctx, listSamplesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sample requests of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.SampleRequest, error) {
		var (
			s      order.SampleRequest
			status string
		)
		err := row.Scan(&s.ID, &s.UserID, &s.ProductID, &status, &s.RequestDate)
		s.Status = order.Status(status)
		return s, err
	})
}

// CreateSample records a free-sample request.
func (r *RequestRepository) CreateSample(ctx context.Context, s *order.SampleRequest) error {
	_, err := r.pool.Exec(ctx, createSampleSQL, s.ID, s.UserID, s.ProductID, string(s.Status), s.RequestDate)
	if err != nil {
		return fmt.Errorf("creating sample request %q: %w", s.ID, err)
	}
	return nil
}
