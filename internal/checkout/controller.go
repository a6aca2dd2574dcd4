package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/honey-marketplace/internal/config"
	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/identity"
	"github.com/joao-fontenele/honey-marketplace/internal/payment"
)

var tracer = otel.Tracer("checkout")

// Stage is the position of one checkout attempt in its lifecycle.
type Stage int

const (
	StageResolving Stage = iota
	StagePartitioning
	StagePersisted
	StageSessionCreated
	StageReconciled
	StageRolledBack
)

func (s Stage) String() string {
	switch s {
	case StageResolving:
		return "resolving"
	case StagePartitioning:
		return "partitioning"
	case StagePersisted:
		return "persisted"
	case StageSessionCreated:
		return "session_created"
	case StageReconciled:
		return "reconciled"
	case StageRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

var stageTransitions = map[Stage][]Stage{
	StageResolving:      {StagePartitioning},
	StagePartitioning:   {StagePersisted},
	StagePersisted:      {StageSessionCreated, StageRolledBack},
	StageSessionCreated: {StageReconciled, StageRolledBack},
}

// CanAdvanceTo reports whether an attempt may move from s to next. No stage
// is ever re-entered.
func (s Stage) CanAdvanceTo(next Stage) bool {
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	UpdatePaymentSessionID(ctx context.Context, orderID, sessionID string) error
	DeleteOrder(ctx context.Context, orderID string) error
}

type UserStore interface {
	EnsureUser(ctx context.Context, id, email string) error
}

// Settings are the business rules and redirect targets applied to every
// checkout.
type Settings struct {
	PlatformFeeRate decimal.Decimal
	Shipping        ShippingPolicy
	Currency        string
	SuccessURL      string
	CancelURL       string
}

func SettingsFromConfig(c config.CheckoutConfig) Settings {
	return Settings{
		PlatformFeeRate: c.PlatformFeeRate,
		Shipping: ShippingPolicy{
			FlatFee:       c.ShippingFlatFee,
			FreeThreshold: c.FreeShippingThreshold,
		},
		Currency:   c.Currency,
		SuccessURL: c.SuccessURL(),
		CancelURL:  c.CancelURL(),
	}
}

// Result describes a reconciled checkout.
type Result struct {
	OrderID     string
	SessionID   string
	Nonce       string
	RedirectURL string
	Amount      decimal.Decimal
}

// Controller runs a checkout attempt from cart resolution through payment
// session reconciliation, deleting the persisted order if any later stage
// fails.
type Controller struct {
	resolver *Resolver
	orders   OrderStore
	users    UserStore
	sessions payment.Broker
	settings Settings
	logger   *slog.Logger
	metrics  *metrics
}

func NewController(catalog CatalogReader, orders OrderStore, users UserStore, sessions payment.Broker,
	settings Settings, logger *slog.Logger) (*Controller, error) {
	m, err := newMetrics(otel.Meter("checkout"))
	if err != nil {
		return nil, err
	}

	return &Controller{
		resolver: NewResolver(catalog),
		orders:   orders,
		users:    users,
		sessions: sessions,
		settings: settings,
		logger:   logger,
		metrics:  m,
	}, nil
}

// attempt tracks one checkout through its stages.
type attempt struct {
	stage  Stage
	span   trace.Span
	logger *slog.Logger
}

func (a *attempt) advance(next Stage) {
	if !a.stage.CanAdvanceTo(next) {
		panic(fmt.Sprintf("checkout: illegal stage transition %s -> %s", a.stage, next))
	}
	a.logger.Debug("checkout stage", "from", a.stage.String(), "to", next.String())
	a.span.AddEvent("stage "+next.String())
	a.stage = next
}

// Checkout converts the buyer's cart into a persisted order bound to a
// provider payment session. Once the order is persisted the attempt runs to
// completion even if ctx is cancelled.
func (c *Controller) Checkout(ctx context.Context, buyer identity.User, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("checkout.buyer_id", buyer.ID)))
	defer span.End()

	a := &attempt{stage: StageResolving, span: span, logger: c.logger}

	result, err := c.run(ctx, a, buyer, req)

	outcome := outcomeOf(a.stage, err)
	c.metrics.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	c.metrics.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.String("checkout.stage", a.stage.String()), attribute.String("checkout.outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func outcomeOf(stage Stage, err error) string {
	switch {
	case err == nil:
		return "reconciled"
	case stage == StageRolledBack:
		return "rolled_back"
	case IsClientError(err) || errors.Is(err, ErrStockRaceLost):
		return "rejected"
	}
	return "failed"
}

func (c *Controller) run(ctx context.Context, a *attempt, buyer identity.User, req Request) (*Result, error) {
	customer, addr, err := req.Validate()
	if err != nil {
		return nil, err
	}

	lines, err := c.resolve(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	a.advance(StagePartitioning)
	shipping := c.settings.Shipping.Total(Merchandise(lines))
	drafts := Partition(lines, shipping, c.settings.PlatformFeeRate)

	// Persistence onward must reach Reconciled or RolledBack.
	ctx = context.WithoutCancel(ctx)

	if err := c.users.EnsureUser(ctx, buyer.ID, buyer.Email); err != nil {
		c.logger.Warn("failed to materialize buyer", "error", err, "buyer_id", buyer.ID)
	}

	nonce := uuid.New().String()
	order := buildOrder(buyer.ID, customer, addr, drafts, nonce, c.settings.Currency)

	if err := c.persist(ctx, order); err != nil {
		return nil, err
	}
	a.advance(StagePersisted)

	session, err := c.createSession(ctx, order, drafts, shipping, nonce, customer.Email)
	if err != nil {
		c.rollback(ctx, a, order.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}
	a.advance(StageSessionCreated)

	if err := c.reconcile(ctx, order.ID, session.ID); err != nil {
		c.rollback(ctx, a, order.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}
	a.advance(StageReconciled)

	c.logger.Info("checkout reconciled", "order_id", order.ID, "session_id", session.ID,
		"sub_orders", len(order.SubOrders), "amount", order.Payment.Amount.StringFixed(2))

	return &Result{
		OrderID:     order.ID,
		SessionID:   session.ID,
		Nonce:       nonce,
		RedirectURL: session.URL,
		Amount:      order.Payment.Amount,
	}, nil
}

func (c *Controller) resolve(ctx context.Context, items []domain.CartLine) ([]domain.ResolvedLine, error) {
	ctx, span := tracer.Start(ctx, "checkout.resolve", trace.WithAttributes(attribute.Int("checkout.items", len(items))))
	defer span.End()

	lines, err := c.resolver.Resolve(ctx, items)
	if err != nil {
		span.RecordError(err)
		if !IsClientError(err) {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return lines, nil
}

func (c *Controller) persist(ctx context.Context, order *domain.Order) error {
	ctx, span := tracer.Start(ctx, "checkout.persist", trace.WithAttributes(attribute.Int("checkout.sub_orders", len(order.SubOrders))))
	defer span.End()

	if err := c.orders.CreateOrder(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrStockRaceLost) {
			c.logger.Warn("stock race lost at persistence", "error", err)
			return err
		}
		c.logger.Error("failed to persist order", "error", err)
		return fmt.Errorf("persist order: %w", err)
	}

	span.SetAttributes(attribute.String("checkout.order_id", order.ID))
	return nil
}

func (c *Controller) createSession(ctx context.Context, order *domain.Order, drafts []domain.SubOrderDraft,
	shipping decimal.Decimal, nonce, email string) (*payment.Session, error) {
	ctx, span := tracer.Start(ctx, "checkout.create_session", trace.WithAttributes(attribute.String("checkout.order_id", order.ID)))
	defer span.End()

	var items []payment.LineItem
	for _, d := range drafts {
		for _, l := range d.Lines {
			items = append(items, payment.LineItem{
				Name:       l.ProductTitle + " (" + l.VariantSize + ")",
				UnitAmount: l.UnitPrice,
				Quantity:   l.Quantity,
			})
		}
	}

	session, err := c.sessions.CreateSession(ctx, payment.SessionRequest{
		LineItems:     items,
		ShippingTotal: shipping,
		Currency:      c.settings.Currency,
		CustomerEmail: email,
		SuccessURL:    c.settings.SuccessURL,
		CancelURL:     c.settings.CancelURL,
		Metadata: map[string]string{
			payment.MetadataNonce:   nonce,
			payment.MetadataOrderID: order.ID,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to create payment session", "error", err, "order_id", order.ID)
		return nil, err
	}
	if session.ID == "" {
		err := errors.New("provider returned an empty session id")
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to create payment session", "error", err, "order_id", order.ID)
		return nil, err
	}

	return session, nil
}

func (c *Controller) reconcile(ctx context.Context, orderID, sessionID string) error {
	ctx, span := tracer.Start(ctx, "checkout.reconcile", trace.WithAttributes(
		attribute.String("checkout.order_id", orderID),
		attribute.String("checkout.session_id", sessionID),
	))
	defer span.End()

	if err := c.orders.UpdatePaymentSessionID(ctx, orderID, sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to record payment session", "error", err, "order_id", orderID, "session_id", sessionID)
		return err
	}
	return nil
}

// rollback deletes the persisted order. A failed delete is logged and
// counted but never replaces cause as the error returned to the caller.
func (c *Controller) rollback(ctx context.Context, a *attempt, orderID string, cause error) {
	ctx, span := tracer.Start(ctx, "checkout.rollback", trace.WithAttributes(
		attribute.String("checkout.order_id", orderID),
		attribute.String("checkout.from_stage", a.stage.String()),
	))
	defer span.End()

	a.advance(StageRolledBack)

	result := "ok"
	if err := c.orders.DeleteOrder(ctx, orderID); err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("compensating delete failed", "error", err, "order_id", orderID, "cause", cause)
	} else {
		c.logger.Warn("checkout rolled back", "order_id", orderID, "cause", cause)
	}
	c.metrics.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func buildOrder(buyerID string, customer domain.CustomerInfo, addr domain.ShippingAddress,
	drafts []domain.SubOrderDraft, nonce, currency string) *domain.Order {
	now := time.Now().UTC()
	order := &domain.Order{
		BuyerID:         buyerID,
		Customer:        customer,
		ShippingAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, d := range drafts {
		so := domain.SubOrder{
			ProducerID:   d.ProducerID,
			Status:       domain.SubOrderStatusPending,
			Subtotal:     d.Subtotal,
			ShippingCost: d.ShippingCost,
			PlatformFee:  d.PlatformFee,
		}
		for _, l := range d.Lines {
			so.Items = append(so.Items, domain.OrderLineItem{
				ProductID:    l.ProductID,
				VariantID:    l.VariantID,
				ProductTitle: l.ProductTitle,
				VariantSize:  l.VariantSize,
				Quantity:     l.Quantity,
				UnitPrice:    l.UnitPrice,
				GST:          l.GST,
				Provenance:   domain.ProvenanceSnapshot{BatchID: l.BatchID},
			})
		}
		order.SubOrders = append(order.SubOrders, so)
	}

	order.Payment = &domain.PaymentRecord{
		SessionID: domain.PendingSessionPrefix + nonce,
		Nonce:     nonce,
		Amount:    order.Total(),
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
	}

	return order
}

type metrics struct {
	attempts      metric.Int64Counter
	duration      metric.Float64Histogram
	compensations metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	attempts, err := meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout attempt duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter("checkout.compensations",
		metric.WithDescription("Compensating order deletes by result"))
	if err != nil {
		return nil, err
	}

	return &metrics{attempts: attempts, duration: duration, compensations: compensations}, nil
}
