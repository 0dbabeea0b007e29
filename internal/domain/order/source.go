package order

import "slices"

// FromRetail normalizes a retail record.
func FromRetail(r Retail) Order {
	total := r.TotalPrice
	return Order{
		ID:            r.ID,
		Type:          TypeRetail,
		Number:        r.Number,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		TotalAmount:   &total,
		StatusHistory: slices.Clone(r.StatusHistory),
	}
}

// FromBulk normalizes a bulk quote request; requestDate becomes CreatedAt.
func FromBulk(b BulkRequest) Order {
	return Order{
		ID:        b.ID,
		Type:      TypeBulk,
		Status:    b.Status,
		CreatedAt: b.RequestDate,
	}
}

// FromSample normalizes a free-sample request.
func FromSample(s SampleRequest) Order {
	return Order{
		ID:        s.ID,
		Type:      TypeSample,
		Status:    s.Status,
		CreatedAt: s.RequestDate,
	}
}

func normalize[T any](records []T, fn func(T) Order) []Order {
	out := make([]Order, len(records))
	for i, r := range records {
		out[i] = fn(r)
	}
	return out
}
