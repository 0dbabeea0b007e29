package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/retry"
)

// Aggregator reads the three order sources for an identity and exposes them
// as one normalized, time-ordered collection.
type Aggregator struct {
	retail    RetailRepository
	bulk      BulkRepository
	samples   SampleRepository
	canceller Canceller
	retry     retry.Policy
	tracer    trace.Tracer
	now       func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTracerProvider enables spans for source reads and cancellation.
func WithTracerProvider(tp trace.TracerProvider) AggregatorOption {
	return func(a *Aggregator) {
		a.tracer = tp.Tracer("storefront/order")
	}
}

// NewAggregator creates an Aggregator over the given sources.
func NewAggregator(
	retail RetailRepository,
	bulk BulkRepository,
	samples SampleRepository,
	canceller Canceller,
	policy retry.Policy,
	opts ...AggregatorOption,
) *Aggregator {
	a := &Aggregator{
		retail:    retail,
		bulk:      bulk,
		samples:   samples,
		canceller: canceller,
		retry:     policy,
		tracer:    noop.NewTracerProvider().Tracer(""),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// FetchAll reads retail, bulk and sample orders concurrently. A failing
// source contributes an empty list and is logged; FetchAll itself never
// fails. Guests have no orders.
func (a *Aggregator) FetchAll(ctx context.Context, id identity.Identity) *View {
	if id.IsGuest() {
		return NewView(nil)
	}

	ctx, span := a.tracer.Start(ctx, "order.FetchAll")
	defer span.End()

	var (
		g       errgroup.Group
		results = make([][]Order, 3)
	)
	g.Go(func() error {
		results[0] = a.read(ctx, TypeRetail, func(ctx context.Context) ([]Order, error) {
			records, err := a.retail.ListRetail(ctx, id.ID)
			return normalize(records, FromRetail), err
		})
		return nil
	})
	g.Go(func() error {
		results[1] = a.read(ctx, TypeBulk, func(ctx context.Context) ([]Order, error) {
			records, err := a.bulk.ListBulk(ctx, id.ID)
			return normalize(records, FromBulk), err
		})
		return nil
	})
	g.Go(func() error {
		results[2] = a.read(ctx, TypeSample, func(ctx context.Context) ([]Order, error) {
			records, err := a.samples.ListSamples(ctx, id.ID)
			return normalize(records, FromSample), err
		})
		return nil
	})
	_ = g.Wait()

	all := make([]Order, 0, len(results[0])+len(results[1])+len(results[2]))
	for _, r := range results {
		all = append(all, r...)
	}
	span.SetAttributes(attribute.Int("orders.count", len(all)))
	return NewView(all)
}

func (a *Aggregator) read(ctx context.Context, t Type, fn func(context.Context) ([]Order, error)) []Order {
	ctx, span := a.tracer.Start(ctx, "order.read", trace.WithAttributes(attribute.String("source", string(t))))
	defer span.End()

	orders, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		zctx.From(ctx).Warn("Order source unavailable, degrading to empty",
			zap.String("source", string(t)),
			zap.Error(err),
		)
		return nil
	}
	return orders
}

// Cancel cancels a retail order listed in v. The view is updated
// optimistically and reverted if the write fails. Orders outside
// {Pending, Processing, Shipped} are rejected without any state change.
func (a *Aggregator) Cancel(ctx context.Context, id identity.Identity, v *View, orderID, reason string) (Order, error) {
	if id.IsGuest() {
		return Order{}, ErrNotFound
	}

	current, ok := v.Find(orderID)
	if !ok {
		return Order{}, ErrNotFound
	}
	if current.Type != TypeRetail || !current.Status.Cancellable() {
		return Order{}, ErrNotCancellable
	}

	ctx, span := a.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	optimistic := current
	optimistic.Status = StatusCancelled
	optimistic.StatusHistory = append(append([]StatusChange(nil), current.StatusHistory...), StatusChange{
		Status: StatusCancelled,
		At:     a.now(),
		Note:   reason,
	})
	v.replace(optimistic)

	updated, err := retry.Value(ctx, a.retry, func(ctx context.Context) (*Retail, error) {
		return a.canceller.CancelOrder(ctx, id.ID, orderID, reason)
	})
	if err != nil {
		v.replace(current)
		span.RecordError(err)
		zctx.From(ctx).Warn("Cancel failed, reverted local state",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return Order{}, errors.Wrap(err, "cancel order")
	}

	result := FromRetail(*updated)
	v.replace(result)
	return result, nil
}
