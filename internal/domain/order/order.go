package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type distinguishes the three independently sourced order kinds.
type Type string

const (
	TypeRetail Type = "Retail"
	TypeBulk   Type = "Bulk"
	TypeSample Type = "Sample"
)

// ParseType matches s case-insensitively against the known order types.
func ParseType(s string) (Type, bool) {
	for _, t := range []Type{TypeRetail, TypeBulk, TypeSample} {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Status is drawn from an open vocabulary. Each source has its own values;
// the common retail ones are listed here.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
	StatusReturned   Status = "Returned"

	// Bulk quote requests.
	StatusQuoted   Status = "Quoted"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"

	// Free sample requests.
	StatusRequested  Status = "Requested"
	StatusDispatched Status = "Dispatched"
)

// Is compares statuses case-insensitively.
func (s Status) Is(other Status) bool {
	return strings.EqualFold(string(s), string(other))
}

// Cancellable reports whether a retail order in this status may be cancelled.
func (s Status) Cancellable() bool {
	return s.Is(StatusPending) || s.Is(StatusProcessing) || s.Is(StatusShipped)
}

var (
	ErrNotFound       = errors.New("order not found")
	ErrNotCancellable = errors.New("order cannot be cancelled in its current status")
)

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

// Order is the unified tracking view over retail, bulk and sample records.
// TotalAmount is nil for kinds that carry no monetary total.
type Order struct {
	ID            string
	Type          Type
	Number        string
	Status        Status
	CreatedAt     time.Time
	TotalAmount   *decimal.Decimal
	StatusHistory []StatusChange
}

// Address is the shipping address recorded on a retail order.
type Address struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Street string `json:"street"`
	City   string `json:"city"`
	Zip    string `json:"zip"`
}

// Item is a priced line of a retail order.
type Item struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	PackSizeKg decimal.Decimal `json:"packSizeKg"`
	LineTotal  decimal.Decimal `json:"lineTotal"`
}

// Payment references the verified gateway transaction behind an order.
type Payment struct {
	Provider       string `json:"provider"`
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
}

// Retail is a placed storefront order as stored.
type Retail struct {
	ID                  string
	Number              string
	UserID              string
	Items               []Item
	Address             Address
	Payment             Payment
	CouponCode          string
	Subtotal            decimal.Decimal
	Shipping            decimal.Decimal
	TaxAmount           decimal.Decimal
	CouponDiscount      decimal.Decimal
	PromotionalDiscount decimal.Decimal
	TotalPrice          decimal.Decimal
	Status              Status
	CancelReason        string
	CreatedAt           time.Time
	StatusHistory       []StatusChange
}

// BulkRequest is a bulk-order quote request. It has no total until quoted
// and no status history.
type BulkRequest struct {
	ID          string
	UserID      string
	CompanyName string
	ProductID   string
	QuantityKg  decimal.Decimal
	Status      Status
	RequestDate time.Time
}

// SampleRequest is a free-sample request.
type SampleRequest struct {
	ID          string
	UserID      string
	ProductID   string
	Status      Status
	RequestDate time.Time
}

// RetailRepository persists and reads retail orders.
type RetailRepository interface {
	Create(ctx context.Context, o *Retail) error
	ListRetail(ctx context.Context, userID string) ([]Retail, error)
}

// BulkRepository reads bulk quote requests.
type BulkRepository interface {
	ListBulk(ctx context.Context, userID string) ([]BulkRequest, error)
}

// SampleRepository reads free-sample requests.
type SampleRepository interface {
	ListSamples(ctx context.Context, userID string) ([]SampleRequest, error)
}

// Canceller cancels a retail order owned by userID. Implementations return
// ErrNotFound or ErrNotCancellable when the write is refused.
type Canceller interface {
	CancelOrder(ctx context.Context, userID, orderID, reason string) (*Retail, error)
}
