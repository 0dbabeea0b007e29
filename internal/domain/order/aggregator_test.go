package order

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/retry"
)

// --- Mock implementations ---

type mockSources struct {
	retail     []Retail
	bulk       []BulkRequest
	samples    []SampleRequest
	retailErr  error
	bulkErr    error
	samplesErr error

	cancelErrs   []error
	cancelCalls  atomic.Int32
	cancelReason string
}

func (m *mockSources) Create(_ context.Context, _ *Retail) error { return nil }

func (m *mockSources) ListRetail(_ context.Context, _ string) ([]Retail, error) {
	return m.retail, m.retailErr
}

func (m *mockSources) ListBulk(_ context.Context, _ string) ([]BulkRequest, error) {
	return m.bulk, m.bulkErr
}

func (m *mockSources) ListSamples(_ context.Context, _ string) ([]SampleRequest, error) {
	return m.samples, m.samplesErr
}

func (m *mockSources) CancelOrder(_ context.Context, _, orderID, reason string) (*Retail, error) {
	n := int(m.cancelCalls.Add(1)) - 1
	if n < len(m.cancelErrs) && m.cancelErrs[n] != nil {
		return nil, m.cancelErrs[n]
	}
	m.cancelReason = reason
	for _, r := range m.retail {
		if r.ID == orderID {
			r.Status = StatusCancelled
			r.CancelReason = reason
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// --- Helpers ---

var (
	user = identity.Identity{ID: "u1", Role: "customer"}
	day  = func(d int) time.Time { return time.Date(2025, 1, d, 9, 0, 0, 0, time.UTC) }
)

func newFixtures() *mockSources {
	return &mockSources{
		retail: []Retail{
			{ID: "r1", Number: "ORD-1", Status: StatusDelivered, TotalPrice: dec("500"), CreatedAt: day(3)},
			{ID: "r2", Number: "ORD-2", Status: StatusPending, TotalPrice: dec("1200.50"), CreatedAt: day(7)},
		},
		bulk: []BulkRequest{
			{ID: "b1", Status: StatusQuoted, RequestDate: day(5)},
		},
		samples: []SampleRequest{
			{ID: "s1", Status: StatusRequested, RequestDate: day(1)},
			{ID: "s2", Status: "pending", RequestDate: day(9)},
		},
	}
}

func newAggregator(m *mockSources) *Aggregator {
	a := NewAggregator(m, m, m, m, retry.New(time.Millisecond))
	a.now = func() time.Time { return day(10) }
	return a
}

func ids(orders []Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

// --- Tests ---

func TestFetchAll_MergesAndSortsDescending(t *testing.T) {
	v := newAggregator(newFixtures()).FetchAll(context.Background(), user)

	all := v.All()
	assert.Equal(t, []string{"s2", "r2", "b1", "r1", "s1"}, ids(all))

	byID := make(map[string]Order)
	for _, o := range all {
		byID[o.ID] = o
	}
	require.NotNil(t, byID["r2"].TotalAmount)
	assert.True(t, dec("1200.50").Equal(*byID["r2"].TotalAmount))
	assert.Nil(t, byID["b1"].TotalAmount)
	assert.Equal(t, TypeBulk, byID["b1"].Type)
	assert.Equal(t, day(5), byID["b1"].CreatedAt)
	assert.Equal(t, TypeSample, byID["s1"].Type)
}

func TestFetchAll_SourceFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		fail func(m *mockSources)
		want []string
	}{
		{
			name: "bulk fails",
			fail: func(m *mockSources) { m.bulkErr = errors.New("bulk api down") },
			want: []string{"s2", "r2", "r1", "s1"},
		},
		{
			name: "retail fails",
			fail: func(m *mockSources) { m.retailErr = errors.New("timeout") },
			want: []string{"s2", "b1", "s1"},
		},
		{
			name: "all fail",
			fail: func(m *mockSources) {
				m.retailErr = errors.New("a")
				m.bulkErr = errors.New("b")
				m.samplesErr = errors.New("c")
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFixtures()
			tt.fail(m)

			got := newAggregator(m).FetchAll(context.Background(), user).All()
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestFetchAll_GuestHasNoOrders(t *testing.T) {
	v := newAggregator(newFixtures()).FetchAll(context.Background(), identity.Guest())
	assert.Empty(t, v.All())
}

func TestCancel_Success(t *testing.T) {
	m := newFixtures()
	a := newAggregator(m)
	v := a.FetchAll(context.Background(), user)

	got, err := a.Cancel(context.Background(), user, v, "r2", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "changed my mind", m.cancelReason)

	o, ok := v.Find("r2")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, o.Status)
}

func TestCancel_RejectedStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status Status
	}{
		{name: "delivered", status: StatusDelivered},
		{name: "cancelled", status: StatusCancelled},
		{name: "returned", status: StatusReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFixtures()
			m.retail[0].Status = tt.status
			a := newAggregator(m)
			v := a.FetchAll(context.Background(), user)
			before := v.All()

			_, err := a.Cancel(context.Background(), user, v, "r1", "too late")
			require.ErrorIs(t, err, ErrNotCancellable)
			assert.Equal(t, before, v.All(), "rejected cancellation must not change state")
			assert.Zero(t, m.cancelCalls.Load())
		})
	}
}

func TestCancel_AllowedStatuses(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusProcessing, StatusShipped, "shipped"} {
		t.Run(string(status), func(t *testing.T) {
			m := newFixtures()
			m.retail[0].Status = status
			a := newAggregator(m)
			v := a.FetchAll(context.Background(), user)

			_, err := a.Cancel(context.Background(), user, v, "r1", "")
			require.NoError(t, err)
		})
	}
}

func TestCancel_NonRetailRejected(t *testing.T) {
	m := newFixtures()
	m.bulk[0].Status = StatusPending
	a := newAggregator(m)
	v := a.FetchAll(context.Background(), user)

	_, err := a.Cancel(context.Background(), user, v, "b1", "")
	require.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancel_UnknownOrder(t *testing.T) {
	a := newAggregator(newFixtures())
	v := a.FetchAll(context.Background(), user)

	_, err := a.Cancel(context.Background(), user, v, "nope", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_WriteFailureReverts(t *testing.T) {
	m := newFixtures()
	m.cancelErrs = []error{errors.New("server error")}
	a := newAggregator(m)
	v := a.FetchAll(context.Background(), user)
	before, _ := v.Find("r2")

	_, err := a.Cancel(context.Background(), user, v, "r2", "")
	require.Error(t, err)

	after, ok := v.Find("r2")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 1, m.cancelCalls.Load(), "non-throttling errors are not retried")
}

func TestCancel_ThrottledIsRetriedOnce(t *testing.T) {
	m := newFixtures()
	m.cancelErrs = []error{retry.ErrThrottled}
	a := newAggregator(m)
	v := a.FetchAll(context.Background(), user)

	got, err := a.Cancel(context.Background(), user, v, "r2", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.EqualValues(t, 2, m.cancelCalls.Load())
}
