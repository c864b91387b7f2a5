package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultDeliveryWindow = 7 * 24 * time.Hour
	DefaultCurrency       = "INR"

	compensationTimeout = 5 * time.Second
)

var tracer = otel.Tracer("github.com/ariefcatur/go-marketplace-orders/internal/orders")

type Deps struct {
	Ledger    Ledger
	Catalog   Catalog
	Gateway   Gateway
	Purchases Purchases
	Events    Publisher
	Locks     Locker
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Settings struct {
	GatewayKeyID   string
	GatewaySecret  string
	Currency       string
	DeliveryWindow time.Duration
	Producer       string
}

// Engine is the order lifecycle: creation, payment verification, status
// updates, refunds and tracking reads. Every mutation of an existing order
// runs under the per-order lock.
type Engine struct {
	ledger    Ledger
	catalog   Catalog
	gateway   Gateway
	purchases Purchases
	events    Publisher
	locks     Locker
	metrics   *metrics.Metrics
	now       func() time.Time
	settings  Settings
}

func NewEngine(d Deps, s Settings) *Engine {
	if d.Locks == nil {
		d.Locks = NewLocalLocker()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if s.Currency == "" {
		s.Currency = DefaultCurrency
	}
	if s.DeliveryWindow <= 0 {
		s.DeliveryWindow = DefaultDeliveryWindow
	}
	return &Engine{
		ledger:    d.Ledger,
		catalog:   d.Catalog,
		gateway:   d.Gateway,
		purchases: d.Purchases,
		events:    d.Events,
		locks:     d.Locks,
		metrics:   d.Metrics,
		now:       d.Now,
		settings:  s,
	}
}

// ---- creation ----

type CreateInput struct {
	UserID          string
	VendorID        string
	Items           []ItemQty
	ShippingAddress ShippingAddress
}

type CreateResult struct {
	OrderID        string          `json:"orderId"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	ClientHandle   string          `json:"clientHandle,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	GatewayKey     string          `json:"gatewayKey"`
}

func (in CreateInput) validate() error {
	if in.UserID == "" || in.VendorID == "" {
		return fmt.Errorf("%w: user and vendor are required", ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one product is required", ErrInvalidInput)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: product id is required", ErrInvalidInput)
		}
		if it.Qty < 1 {
			return fmt.Errorf("%w: invalid quantity for product %s", ErrInvalidInput, it.ProductID)
		}
	}
	a := in.ShippingAddress
	if a.Street == "" || a.City == "" || a.State == "" || a.PostalCode == "" || a.Country == "" {
		return fmt.Errorf("%w: incomplete shipping address", ErrInvalidInput)
	}
	return nil
}

// Create reserves stock for every item, opens a gateway intent for the
// frozen total and persists the order with its payment. Any failure after the
// reservation releases the stock again, so either everything exists or nothing.
func (e *Engine) Create(ctx context.Context, in CreateInput) (res CreateResult, err error) {
	orderID := uuid.NewString()
	ctx, done := e.begin(ctx, "create", orderID)
	defer func() { done(err) }()

	if err := in.validate(); err != nil {
		return CreateResult{}, err
	}
	log := logging.FromContext(ctx).With(zap.String("order_id", orderID), zap.String("user_id", in.UserID))

	items, err := e.catalog.Reserve(ctx, orderID, in.Items)
	if err != nil {
		return CreateResult{}, err
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	intent, err := e.gateway.CreateIntent(ctx, MinorUnits(total), e.settings.Currency, orderID)
	if err != nil {
		e.release(ctx, orderID)
		return CreateResult{}, fmt.Errorf("create payment intent: %w", err)
	}

	now := e.now()
	o := &Order{
		ID:                orderID,
		UserID:            in.UserID,
		VendorID:          in.VendorID,
		Items:             items,
		TotalAmount:       total,
		Status:            StatusPending,
		PaymentID:         uuid.NewString(),
		ShippingAddress:   in.ShippingAddress,
		EstimatedDelivery: now.Add(e.settings.DeliveryWindow),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	o.appendTracking(TrackingEntry{Status: StatusPending, Timestamp: now, Notes: "Order created"})
	p := &Payment{
		ID:             o.PaymentID,
		OrderID:        orderID,
		Amount:         total,
		Currency:       e.settings.Currency,
		GatewayOrderID: intent.GatewayOrderID,
		Status:         PaymentCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.ledger.CreateOrder(ctx, o, p); err != nil {
		e.release(ctx, orderID)
		return CreateResult{}, fmt.Errorf("persist order: %w", err)
	}

	if e.purchases != nil {
		if err := e.purchases.AppendPurchase(ctx, in.UserID, orderID); err != nil {
			log.Warn("purchase_history_append_failed", zap.Error(err))
		}
	}
	e.metrics.OrderCreated()
	e.publish(ctx, EventOrderCreated, o, total, nil, "")
	log.Info("order_created",
		zap.String("gateway_order_id", intent.GatewayOrderID),
		zap.String("amount", total.StringFixed(2)),
		zap.Int("items", len(items)),
	)

	return CreateResult{
		OrderID:        orderID,
		GatewayOrderID: intent.GatewayOrderID,
		ClientHandle:   intent.ClientHandle,
		Amount:         total,
		GatewayKey:     e.settings.GatewayKeyID,
	}, nil
}

func (e *Engine) release(ctx context.Context, orderID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := e.catalog.Release(ctx, orderID); err != nil {
		logging.FromContext(ctx).Error("stock_release_failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// ---- payment verification ----

type VerifyInput struct {
	OrderID          string
	GatewayPaymentID string
	GatewayOrderID   string
	Signature        string
}

type VerifyResult struct {
	Order    *Order   `json:"order"`
	Payment  *Payment `json:"payment"`
	Replayed bool     `json:"replayed,omitempty"`
}

// VerifyPayment checks the gateway callback signature and settles the order.
// A replay of an attempt that was already processed returns the stored state
// and mutates nothing.
func (e *Engine) VerifyPayment(ctx context.Context, in VerifyInput) (res VerifyResult, err error) {
	ctx, done := e.begin(ctx, "verify_payment", in.OrderID)
	defer func() { done(err) }()

	if in.OrderID == "" || in.GatewayOrderID == "" || in.GatewayPaymentID == "" || in.Signature == "" {
		return VerifyResult{}, fmt.Errorf("%w: orderId, gatewayOrderId, gatewayPaymentId and signature are required", ErrInvalidInput)
	}
	unlock, err := e.locks.Lock(ctx, in.OrderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("lock order %s: %w", in.OrderID, err)
	}
	defer unlock()

	p, err := e.ledger.GetPaymentByGatewayOrderID(ctx, in.GatewayOrderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("payment for gateway order %s: %w", in.GatewayOrderID, err)
	}
	o, err := e.ledger.GetOrder(ctx, in.OrderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("order %s: %w", in.OrderID, err)
	}
	if p.OrderID != o.ID {
		return VerifyResult{}, fmt.Errorf("%w: gateway order %s does not belong to order %s", ErrInvalidInput, in.GatewayOrderID, o.ID)
	}
	log := logging.FromContext(ctx).With(zap.String("order_id", o.ID), zap.String("payment_id", p.ID))

	switch p.Status {
	case PaymentCaptured:
		if p.GatewayPaymentID == in.GatewayPaymentID {
			log.Info("payment_verification_replayed")
			return VerifyResult{Order: o, Payment: p, Replayed: true}, nil
		}
		return VerifyResult{}, fmt.Errorf("%w: payment already captured by %s", ErrPaymentState, p.GatewayPaymentID)
	case PaymentFailed:
		return VerifyResult{}, fmt.Errorf("%w: attempt already rejected for order %s", ErrVerificationFailed, o.ID)
	case PaymentRefunded:
		return VerifyResult{}, fmt.Errorf("%w: payment already refunded", ErrPaymentState)
	}

	now := e.now()
	p.Attempts++
	p.LastAttemptAt = &now
	p.UpdatedAt = now
	o.UpdatedAt = now

	if !VerifySignature(e.settings.GatewaySecret, in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		if !CanTransition(o.Status, StatusCancelled) {
			return VerifyResult{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
		}
		p.Status = PaymentFailed
		o.Status = StatusCancelled
		o.appendTracking(TrackingEntry{Status: StatusCancelled, Timestamp: now, Notes: "Payment verification failed"})
		if err := e.ledger.SaveOrderPayment(ctx, o, p); err != nil {
			return VerifyResult{}, fmt.Errorf("save failed verification: %w", err)
		}
		e.metrics.Verification("rejected")
		e.publish(ctx, EventPaymentFailed, o, p.Amount, nil, "Payment verification failed")
		log.Warn("payment_verification_failed", zap.Int("attempts", p.Attempts))
		return VerifyResult{Order: o, Payment: p}, fmt.Errorf("%w: invalid signature for order %s", ErrVerificationFailed, o.ID)
	}

	if !CanTransition(o.Status, StatusProcessing) {
		return VerifyResult{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusProcessing)
	}

	// The signature already proves capture; the method is enrichment only.
	details, ferr := e.gateway.FetchPayment(ctx, in.GatewayPaymentID)
	if ferr != nil {
		log.Warn("payment_method_fetch_failed", zap.Error(ferr))
	}

	p.Status = PaymentCaptured
	p.GatewayPaymentID = in.GatewayPaymentID
	p.GatewaySignature = in.Signature
	p.Method = details.Method
	o.Status = StatusProcessing
	o.appendTracking(TrackingEntry{Status: StatusProcessing, Timestamp: now, Notes: "Payment successful"})
	if err := e.ledger.SaveOrderPayment(ctx, o, p); err != nil {
		return VerifyResult{}, fmt.Errorf("save captured payment: %w", err)
	}

	e.metrics.Verification("captured")
	e.publish(ctx, EventPaymentCaptured, o, p.Amount, nil, "")
	log.Info("payment_captured", zap.String("method", string(p.Method)), zap.Int("attempts", p.Attempts))
	return VerifyResult{Order: o, Payment: p}, nil
}

// ---- status / tracking ----

type StatusUpdate struct {
	OrderID           string
	Status            Status
	TrackingNumber    string
	Latitude          *float64
	Longitude         *float64
	Address           string
	Notes             string
	EstimatedDelivery *time.Time
}

func (u StatusUpdate) location(o *Order) (*Location, error) {
	if u.Latitude == nil || u.Longitude == nil {
		return nil, nil
	}
	if *u.Latitude < -90 || *u.Latitude > 90 || *u.Longitude < -180 || *u.Longitude > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	}
	addr := u.Address
	if addr == "" {
		addr = o.ShippingAddress.Street
	}
	return &Location{Latitude: *u.Latitude, Longitude: *u.Longitude, Address: addr}, nil
}

// UpdateStatus applies a logistics update. Exactly one tracking entry is
// appended per successful call.
func (e *Engine) UpdateStatus(ctx context.Context, u StatusUpdate) (o *Order, err error) {
	ctx, done := e.begin(ctx, "update_status", u.OrderID)
	defer func() { done(err) }()

	if u.OrderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", ErrInvalidInput)
	}
	if u.Status != "" && !u.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, u.Status)
	}
	unlock, err := e.locks.Lock(ctx, u.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", u.OrderID, err)
	}
	defer unlock()

	o, err = e.ledger.GetOrder(ctx, u.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", u.OrderID, err)
	}
	p, err := e.ledger.GetPayment(ctx, o.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("payment for order %s: %w", o.ID, err)
	}

	if o.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}
	next := o.Status
	if u.Status != "" && u.Status != o.Status {
		if !CanTransition(o.Status, u.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, u.Status)
		}
		next = u.Status
	}
	if !Consistent(next, p.Status) {
		return nil, fmt.Errorf("%w: order cannot be %s while payment is %s", ErrPaymentState, next, p.Status)
	}
	loc, err := u.location(o)
	if err != nil {
		return nil, err
	}

	now := e.now()
	o.Status = next
	if u.TrackingNumber != "" {
		o.TrackingNumber = u.TrackingNumber
	}
	if u.EstimatedDelivery != nil {
		o.EstimatedDelivery = u.EstimatedDelivery.UTC()
	}
	if next == StatusDelivered {
		o.ActualDelivery = &now
	}
	notes := u.Notes
	if notes == "" {
		notes = fmt.Sprintf("Status updated to %s", next)
	}
	o.appendTracking(TrackingEntry{Status: next, Location: loc, Timestamp: now, Notes: notes})
	o.UpdatedAt = now

	if err := e.ledger.SaveOrderPayment(ctx, o, nil); err != nil {
		return nil, fmt.Errorf("save order %s: %w", o.ID, err)
	}
	e.publish(ctx, EventOrderStatus, o, o.TotalAmount, loc, notes)
	logging.FromContext(ctx).Info("order_status_updated",
		zap.String("order_id", o.ID),
		zap.String("status", string(next)),
		zap.String("tracking_number", o.TrackingNumber),
	)
	return o, nil
}

// ---- refund ----

type RefundInput struct {
	OrderID string
	Amount  *decimal.Decimal
}

type RefundOutcome struct {
	RefundID string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status,omitempty"`
	Order    *Order          `json:"order"`
	Payment  *Payment        `json:"payment"`
}

// Refund returns money through the gateway. Local state is only written
// after the gateway confirmed the refund.
func (e *Engine) Refund(ctx context.Context, in RefundInput) (res RefundOutcome, err error) {
	ctx, done := e.begin(ctx, "refund", in.OrderID)
	defer func() { done(err) }()

	if in.OrderID == "" {
		return RefundOutcome{}, fmt.Errorf("%w: orderId is required", ErrInvalidInput)
	}
	unlock, err := e.locks.Lock(ctx, in.OrderID)
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("lock order %s: %w", in.OrderID, err)
	}
	defer unlock()

	o, err := e.ledger.GetOrder(ctx, in.OrderID)
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("order %s: %w", in.OrderID, err)
	}
	p, err := e.ledger.GetPayment(ctx, o.PaymentID)
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("payment for order %s: %w", o.ID, err)
	}
	if p.Status != PaymentCaptured || p.GatewayPaymentID == "" {
		return RefundOutcome{}, fmt.Errorf("%w: payment is %s", ErrPaymentState, p.Status)
	}
	if !CanTransition(o.Status, StatusReturned) {
		return RefundOutcome{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusReturned)
	}

	amount := p.Amount
	if in.Amount != nil {
		amount = *in.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
		return RefundOutcome{}, fmt.Errorf("%w: refund amount must be greater than 0 and at most %s", ErrInvalidInput, p.Amount.StringFixed(2))
	}
	// the gateway and the NUMERIC(12,2) columns both work in whole minor units
	if !amount.Equal(amount.Round(2)) || MinorUnits(amount) < 1 {
		return RefundOutcome{}, fmt.Errorf("%w: refund amount %s has more than 2 decimal places", ErrInvalidInput, amount.String())
	}

	r, err := e.gateway.Refund(ctx, p.GatewayPaymentID, MinorUnits(amount), "refund-"+p.ID)
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("refund payment %s: %w", p.ID, err)
	}
	// a retried refund returns the one the gateway already made under the same key
	if r.AmountMinor > 0 && r.AmountMinor != MinorUnits(amount) {
		logging.FromContext(ctx).Warn("refund_amount_differs",
			zap.String("order_id", o.ID), zap.Int64("requested_minor", MinorUnits(amount)), zap.Int64("refunded_minor", r.AmountMinor))
		amount = decimal.New(r.AmountMinor, -2)
	}

	now := e.now()
	p.Status = PaymentRefunded
	p.RefundID = r.RefundID
	p.RefundAmount = amount
	p.UpdatedAt = now
	o.Status = StatusReturned
	notes := fmt.Sprintf("Refunded amount: %s", amount.StringFixed(2))
	o.appendTracking(TrackingEntry{Status: StatusReturned, Timestamp: now, Notes: notes})
	o.UpdatedAt = now

	log := logging.FromContext(ctx).With(zap.String("order_id", o.ID), zap.String("refund_id", r.RefundID))
	if err := e.ledger.SaveOrderPayment(ctx, o, p); err != nil {
		// the gateway keys refunds by payment id, so a retry returns the same refund
		log.Error("refund_persist_failed", zap.Error(err))
		return RefundOutcome{}, fmt.Errorf("save refund: %w", err)
	}
	e.publish(ctx, EventOrderRefunded, o, amount, nil, notes)
	log.Info("order_refunded", zap.String("amount", amount.StringFixed(2)))

	return RefundOutcome{RefundID: r.RefundID, Amount: amount, Status: r.Status, Order: o, Payment: p}, nil
}

// ---- reads ----

func (e *Engine) Tracking(ctx context.Context, orderID string) (t Tracking, err error) {
	ctx, done := e.begin(ctx, "tracking", orderID)
	defer func() { done(err) }()

	o, err := e.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return Tracking{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	t = Tracking{
		OrderID:           o.ID,
		Status:            o.Status,
		TrackingNumber:    o.TrackingNumber,
		TrackingHistory:   append([]TrackingEntry(nil), o.TrackingHistory...),
		EstimatedDelivery: o.EstimatedDelivery,
		ActualDelivery:    o.ActualDelivery,
		ShippingAddress:   o.ShippingAddress,
	}
	if o.PaymentID != "" {
		p, err := e.ledger.GetPayment(ctx, o.PaymentID)
		switch {
		case err == nil:
			t.PaymentStatus = p.Status
		case !errors.Is(err, ErrNotFound):
			return Tracking{}, fmt.Errorf("payment for order %s: %w", o.ID, err)
		}
	}
	return t, nil
}

func (e *Engine) List(ctx context.Context, f ListFilter) (out []OrderView, err error) {
	ctx, done := e.begin(ctx, "list", "")
	defer func() { done(err) }()

	if f.UserID == "" {
		return nil, fmt.Errorf("%w: caller is required", ErrInvalidInput)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	return e.ledger.ListOrders(ctx, f)
}

// ---- helpers ----

func (e *Engine) begin(ctx context.Context, op, orderID string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "orders."+op, trace.WithAttributes(attribute.String("order.id", orderID)))
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveOperation(op, start, err)
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, o *Order, amount decimal.Decimal, loc *Location, notes string) {
	if e.events == nil {
		return
	}
	log := logging.FromContext(ctx)
	env, err := NewEnvelope(eventType, e.settings.Producer, traceID(ctx), OrderEventPayload{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Status:   o.Status,
		Amount:   amount,
		Location: loc,
		Notes:    notes,
	})
	if err != nil {
		log.Error("event_encode_failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	if err := e.events.Publish(ctx, env); err != nil {
		log.Warn("event_publish_failed", zap.String("event", eventType), zap.String("order_id", o.ID), zap.Error(err))
	}
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
