// Package checkout drives one checkout attempt from a validated address to a
// recorded order through one of the payment gateways.
package checkout

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/retry"
)

// CartSource is the read side of a cart plus the one write checkout may
// trigger: clearing the ordering identity's cart after a recorded order.
// *cart.Store satisfies it.
type CartSource interface {
	Identity() identity.Identity
	Lines() []cart.Line
	ClearFor(ctx context.Context, id identity.Identity)
}

// OrderWriter records a paid order.
type OrderWriter interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Receipt, error)
}

// Attempt is a snapshot of one checkout attempt.
type Attempt struct {
	ID         string
	Owner      string
	Identity   identity.Identity
	State      State
	Lines      []cart.Line
	Address    Address
	CouponCode string
	Breakdown  pricing.Breakdown
	Provider   payment.Provider
	Intent     *payment.Intent
	Receipt    *order.Receipt
	Reason     string
	Err        error
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type attempt struct {
	Attempt
	cart       CartSource
	submitting bool
	done       chan struct{}
}

func (a *attempt) snapshot() *Attempt {
	cp := a.Attempt
	cp.Lines = slices.Clone(a.Lines)
	return &cp
}

// Pending is returned by Pay once the gateway holds a payment intent. The
// client runs the gateway's confirmation flow with Intent; Wait blocks until
// the attempt reaches a terminal state.
type Pending struct {
	Attempt *Attempt
	Intent  *payment.Intent

	svc  *Service
	id   string
	done <-chan struct{}
}

// Wait returns the final attempt and its error, if any.
func (p *Pending) Wait(ctx context.Context) (*Attempt, error) {
	select {
	case <-p.done:
		a, err := p.svc.lookup(p.id)
		if err != nil {
			return nil, err
		}
		return a, a.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider enables the checkout.outcomes counter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.meter = mp.Meter("storefront/checkout")
	}
}

// WithTracerProvider enables checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("storefront/checkout")
	}
}

// WithCurrency sets the ISO currency payment intents are created in.
func WithCurrency(currency string) Option {
	return func(s *Service) {
		s.currency = currency
	}
}

// Service owns checkout attempts. At most one attempt per owner is active;
// an owner is typically a session and identity pair.
type Service struct {
	mu       sync.Mutex
	attempts map[string]*attempt
	active   map[string]string

	gateways map[payment.Provider]payment.Gateway
	coupons  coupon.Validator
	orders   OrderWriter
	settings pricing.SettingsSource
	retry    retry.Policy
	currency string
	validate *validator.Validate

	meter    metric.Meter
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	now      func() time.Time

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewService creates a checkout Service.
func NewService(
	gateways []payment.Gateway,
	coupons coupon.Validator,
	orders OrderWriter,
	settings pricing.SettingsSource,
	policy retry.Policy,
	opts ...Option,
) (*Service, error) {
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		attempts: make(map[string]*attempt),
		active:   make(map[string]string),
		gateways: make(map[payment.Provider]payment.Gateway, len(gateways)),
		coupons:  coupons,
		orders:   orders,
		settings: settings,
		retry:    policy,
		currency: "INR",
		validate: newValidator(),
		meter:    metricnoop.NewMeterProvider().Meter(""),
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
		now:      time.Now,
		base:     base,
		stop:     stop,
	}
	for _, g := range gateways {
		s.gateways[g.Provider()] = g
	}
	for _, o := range opts {
		o(s)
	}

	outcomes, err := s.meter.Int64Counter("checkout.outcomes",
		metric.WithDescription("Checkout attempts by terminal state"),
	)
	if err != nil {
		stop()
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	s.outcomes = outcomes
	return s, nil
}

// Providers lists the configured gateway variants.
func (s *Service) Providers() []payment.Provider {
	out := make([]payment.Provider, 0, len(s.gateways))
	for p := range s.gateways {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Begin validates addr, snapshots the cart and opens an attempt in
// AddressReady. A prior attempt of owner still awaiting payment makes Begin
// fail with ErrCheckoutInProgress; one that has not reached the gateway yet
// is cancelled.
func (s *Service) Begin(ctx context.Context, owner string, src CartSource, addr Address) (*Attempt, error) {
	addr = addr.Normalize()
	if err := validateAddress(s.validate, addr); err != nil {
		return nil, err
	}

	lines := src.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prevID, ok := s.active[owner]; ok {
		prev := s.attempts[prevID]
		if prev.State == StateGatewayPending || prev.submitting {
			return nil, ErrCheckoutInProgress
		}
		s.finishLocked(ctx, prev, StateCancelled, "superseded by a new checkout", nil)
	}

	now := s.now()
	a := &attempt{
		Attempt: Attempt{
			ID:        uuid.NewString(),
			Owner:     owner,
			Identity:  src.Identity(),
			State:     StateAddressReady,
			Lines:     lines,
			Address:   addr,
			Breakdown: pricing.Compute(cart.PricingLines(lines), s.settings.Settings(), decimal.Zero),
			CreatedAt: now,
			UpdatedAt: now,
		},
		cart: src,
		done: make(chan struct{}),
	}
	s.attempts[a.ID] = a
	s.active[owner] = a.ID

	zctx.From(ctx).Info("Checkout started",
		zap.String("attempt_id", a.ID),
		zap.String("identity", a.Identity.Key()),
		zap.Int("lines", len(lines)),
	)
	return a.snapshot(), nil
}

// ApplyCoupon resolves code against the snapshot subtotal and recomputes the
// breakdown. A rejected code resets the discount to zero and returns a
// *ValidationError; a collaborator failure returns a *TransientError and
// changes nothing.
func (s *Service) ApplyCoupon(ctx context.Context, owner, attemptID, code string) (*Attempt, error) {
	s.mu.Lock()
	a, err := s.editableLocked(owner, attemptID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	subtotal := a.Breakdown.Subtotal
	s.mu.Unlock()

	discount, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*coupon.Discount, error) {
		return s.coupons.Validate(ctx, code, subtotal)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !a.State.Editable() || a.submitting {
		return nil, ErrInvalidTransition
	}

	switch {
	case err == nil:
		a.CouponCode = discount.Code
		s.repriceLocked(a, discount.Amount)
		return a.snapshot(), nil
	case coupon.IsRejection(err):
		a.CouponCode = ""
		s.repriceLocked(a, decimal.Zero)
		return a.snapshot(), &ValidationError{
			Message: "coupon not applied",
			Fields:  map[string]string{"couponCode": err.Error()},
			Err:     err,
		}
	default:
		return a.snapshot(), &TransientError{Op: "validate coupon", Err: err}
	}
}

// RemoveCoupon drops the applied coupon.
func (s *Service) RemoveCoupon(_ context.Context, owner, attemptID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.editableLocked(owner, attemptID)
	if err != nil {
		return nil, err
	}
	a.CouponCode = ""
	s.repriceLocked(a, decimal.Zero)
	return a.snapshot(), nil
}

func (s *Service) repriceLocked(a *attempt, couponDiscount decimal.Decimal) {
	a.Breakdown = pricing.Compute(cart.PricingLines(a.Lines), s.settings.Settings(), couponDiscount)
	a.UpdatedAt = s.now()
}

// SelectGateway picks the payment variant. It may be changed until Pay.
func (s *Service) SelectGateway(_ context.Context, owner, attemptID string, provider payment.Provider) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.editableLocked(owner, attemptID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.gateways[provider]; !ok {
		return nil, ErrUnknownGateway
	}
	if err := s.transitionLocked(a, StatePaymentGatewaySelected); err != nil {
		return nil, err
	}
	a.Provider = provider
	return a.snapshot(), nil
}

// Pay creates the gateway intent and moves the attempt to GatewayPending.
// Confirmation, verification and order creation continue in the background;
// use the returned Pending to wait for them. A second Pay for the same
// attempt fails with ErrDuplicateSubmission.
func (s *Service) Pay(ctx context.Context, owner, attemptID string) (*Pending, error) {
	s.mu.Lock()
	a, err := s.ownedLocked(owner, attemptID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if a.submitting || a.State == StateGatewayPending {
		s.mu.Unlock()
		return nil, ErrDuplicateSubmission
	}
	if a.State != StatePaymentGatewaySelected {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	a.submitting = true
	gw := s.gateways[a.Provider]
	req := payment.IntentRequest{Amount: a.Breakdown.Total, Currency: s.currency, Reference: a.ID}
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "checkout.Pay", trace.WithAttributes(
		attribute.String("attempt_id", a.ID),
		attribute.String("provider", string(gw.Provider())),
	))
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("attempt_id", a.ID), zap.String("provider", string(gw.Provider())))
	intent, err := gw.CreateIntent(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	a.submitting = false
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, payment.ErrUnavailable) {
			lg.Warn("Payment intent creation unavailable", zap.Error(err))
			return nil, &TransientError{Op: "create payment intent", Err: err}
		}
		lg.Warn("Payment intent creation failed", zap.Error(err))
		s.finishLocked(ctx, a, StateFailed, "payment could not be started", err)
		return nil, err
	}

	if err := s.transitionLocked(a, StateGatewayPending); err != nil {
		return nil, err
	}
	a.Intent = intent
	lg.Info("Awaiting payment confirmation", zap.String("gateway_order_id", intent.GatewayOrderID))

	s.wg.Add(1)
	go s.complete(context.WithoutCancel(ctx), a, gw, intent)

	return &Pending{
		Attempt: a.snapshot(),
		Intent:  intent,
		svc:     s,
		id:      a.ID,
		done:    a.done,
	}, nil
}

// complete is the suspension point: it waits for the gateway confirmation,
// verifies it server side and records exactly one order on success.
func (s *Service) complete(ctx context.Context, a *attempt, gw payment.Gateway, intent *payment.Intent) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.base, cancel)()

	ctx, span := s.tracer.Start(ctx, "checkout.complete", trace.WithAttributes(attribute.String("attempt_id", a.ID)))
	defer span.End()
	lg := zctx.From(ctx).With(zap.String("attempt_id", a.ID), zap.String("provider", string(gw.Provider())))

	conf, err := gw.Confirm(ctx, intent)
	if err != nil {
		s.finish(ctx, a, StateFailed, "payment confirmation failed", err)
		return
	}

	switch conf.Outcome {
	case payment.OutcomeCancelled:
		s.finish(ctx, a, StateCancelled, "payment cancelled", nil)
		return
	case payment.OutcomeSuccess:
	default:
		reason := conf.Reason
		if reason == "" {
			reason = "payment failed"
		}
		s.finish(ctx, a, StateFailed, reason, nil)
		return
	}

	v, err := gw.Verify(ctx, intent, conf)
	if err != nil || !v.Success {
		reason := v.Reason
		if err != nil {
			reason = "verification unavailable"
		}
		verr := &PaymentVerificationError{Provider: string(gw.Provider()), Reason: reason, Err: err}
		lg.Warn("Payment not verified", zap.String("reason", reason), zap.Error(err))
		s.finish(ctx, a, StateFailed, "payment could not be verified", verr)
		return
	}

	s.mu.Lock()
	req := order.CreateRequest{
		UserID:         a.Identity.ID,
		Items:          orderItems(a.Lines),
		Address:        order.Address(a.Address),
		Payment:        order.Payment{Provider: string(gw.Provider()), GatewayOrderID: intent.GatewayOrderID, PaymentID: v.PaymentID},
		CouponCode:     a.CouponCode,
		CouponDiscount: a.Breakdown.CouponDiscount,
	}
	s.mu.Unlock()

	receipt, err := s.orders.CreateOrder(ctx, req)
	if err != nil {
		rerr := &ReconciliationError{
			AttemptID: a.ID,
			Provider:  string(gw.Provider()),
			PaymentID: v.PaymentID,
			Err:       err,
		}
		lg.Error("Payment captured but order not recorded",
			zap.String("payment_id", v.PaymentID),
			zap.String("gateway_order_id", intent.GatewayOrderID),
			zap.Error(err),
		)
		s.finish(ctx, a, StateUnreconciled, "payment received, order not recorded; contact support", rerr)
		return
	}

	a.cart.ClearFor(ctx, a.Identity)

	s.mu.Lock()
	a.Receipt = receipt
	s.mu.Unlock()
	lg.Info("Order placed", zap.String("order_id", receipt.OrderID), zap.String("order_number", receipt.OrderNumber))
	s.finish(ctx, a, StateSucceeded, "", nil)
}

func orderItems(lines []cart.Line) []order.LineItem {
	items := make([]order.LineItem, len(lines))
	for i, l := range lines {
		items[i] = order.LineItem{
			ProductID:  l.ProductID,
			Qty:        l.Qty,
			UnitPrice:  l.UnitPrice,
			PackSizeKg: l.EffectivePackSize(),
		}
	}
	return items
}

// Cancel abandons an attempt that has not reached the gateway. A pending
// payment is cancelled through the gateway's own flow instead.
func (s *Service) Cancel(ctx context.Context, owner, attemptID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.editableLocked(owner, attemptID)
	if err != nil {
		return nil, err
	}
	s.finishLocked(ctx, a, StateCancelled, "cancelled by shopper", nil)
	return a.snapshot(), nil
}

// Get returns the attempt.
func (s *Service) Get(_ context.Context, owner, attemptID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.ownedLocked(owner, attemptID)
	if err != nil {
		return nil, err
	}
	return a.snapshot(), nil
}

// Active returns the owner's non-terminal attempt.
func (s *Service) Active(_ context.Context, owner string) (*Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[owner]
	if !ok {
		return nil, false
	}
	return s.attempts[id].snapshot(), true
}

// Sweep forgets terminal attempts last updated before maxAge ago.
func (s *Service) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	n := 0
	for id, a := range s.attempts {
		if a.State.Terminal() && a.UpdatedAt.Before(cutoff) {
			delete(s.attempts, id)
			n++
		}
	}
	return n
}

// Shutdown stops awaiting confirmations and waits for background work.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(id string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a.snapshot(), nil
}

func (s *Service) ownedLocked(owner, attemptID string) (*attempt, error) {
	a, ok := s.attempts[attemptID]
	if !ok || a.Owner != owner {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

func (s *Service) editableLocked(owner, attemptID string) (*attempt, error) {
	a, err := s.ownedLocked(owner, attemptID)
	if err != nil {
		return nil, err
	}
	if !a.State.Editable() || a.submitting {
		return nil, ErrInvalidTransition
	}
	return a, nil
}

func (s *Service) transitionLocked(a *attempt, next State) error {
	if !a.State.CanTransition(next) {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", a.State, next)
	}
	a.State = next
	a.UpdatedAt = s.now()
	return nil
}

func (s *Service) finish(ctx context.Context, a *attempt, state State, reason string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(ctx, a, state, reason, err)
}

// finishLocked moves a to a terminal state exactly once.
func (s *Service) finishLocked(ctx context.Context, a *attempt, state State, reason string, err error) {
	if a.State.Terminal() {
		return
	}
	a.State = state
	a.Reason = reason
	a.Err = err
	a.UpdatedAt = s.now()
	if s.active[a.Owner] == a.ID {
		delete(s.active, a.Owner)
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
	close(a.done)
}
