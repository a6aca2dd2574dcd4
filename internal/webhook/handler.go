// Package webhook applies payment provider events to orders.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/payment"
)

const (
	maxBodyBytes    = 64 << 10
	signatureHeader = "Stripe-Signature"

	eventSessionCompleted = "checkout.session.completed"
	eventSessionExpired   = "checkout.session.expired"
)

var tracer = otel.Tracer("webhook")

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetPaymentBySession(ctx context.Context, sessionID string) (*domain.PaymentRecord, error)
	GetPaymentByNonce(ctx context.Context, nonce string) (*domain.PaymentRecord, error)
	ConfirmPayment(ctx context.Context, orderID, sessionID string) (bool, error)
	ExpirePayment(ctx context.Context, orderID string) (bool, error)
}

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Notifier interface {
	Dispatch(event domain.Event)
}

type Handler struct {
	secret   string
	orders   OrderStore
	deduper  Deduper
	notifier Notifier
	logger   *slog.Logger
}

func NewHandler(secret string, orders OrderStore, deduper Deduper, notifier Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		secret:   secret,
		orders:   orders,
		deduper:  deduper,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *Handler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get(signatureHeader), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("rejected webhook", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ctx, span := tracer.Start(r.Context(), "webhook.stripe")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", string(event.Type)),
	)

	claimed, err := h.deduper.Claim(ctx, event.ID)
	if err != nil {
		h.logger.Warn("dedupe unavailable, processing anyway", "error", err, "event_id", event.ID)
		claimed = true
	}
	if !claimed {
		h.logger.Info("duplicate webhook ignored", "event_id", event.ID, "event_type", event.Type)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.apply(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("failed to apply webhook", "error", err, "event_id", event.ID, "event_type", event.Type)
		if err := h.deduper.Release(context.WithoutCancel(ctx), event.ID); err != nil {
			h.logger.Warn("failed to release webhook claim", "error", err, "event_id", event.ID)
		}
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *Handler) apply(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case eventSessionCompleted, eventSessionExpired:
	default:
		h.logger.Debug("ignoring webhook event", "event_type", event.Type)
		return nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	p, err := h.findPayment(ctx, &session)
	if err != nil {
		return err
	}
	if p == nil {
		h.logger.Warn("webhook for unknown order", "event_id", event.ID, "session_id", session.ID)
		return nil
	}

	if event.Type == eventSessionCompleted {
		return h.complete(ctx, p, &session)
	}
	return h.expire(ctx, p)
}

// findPayment looks the payment up by provider session id, falling back to
// the reconciliation nonce when the event beat the session id upgrade.
func (h *Handler) findPayment(ctx context.Context, session *stripe.CheckoutSession) (*domain.PaymentRecord, error) {
	p, err := h.orders.GetPaymentBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("get payment by session: %w", err)
	}
	if p != nil {
		return p, nil
	}

	nonce := session.Metadata[payment.MetadataNonce]
	if nonce == "" {
		return nil, nil
	}

	p, err = h.orders.GetPaymentByNonce(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("get payment by nonce: %w", err)
	}
	return p, nil
}

func (h *Handler) complete(ctx context.Context, p *domain.PaymentRecord, session *stripe.CheckoutSession) error {
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("checkout completed without payment yet", "order_id", p.OrderID, "payment_status", session.PaymentStatus)
		return nil
	}

	changed, err := h.orders.ConfirmPayment(ctx, p.OrderID, session.ID)
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	if !changed {
		h.logger.Info("payment already settled", "order_id", p.OrderID, "status", p.Status)
		return nil
	}

	h.logger.Info("payment confirmed", "order_id", p.OrderID, "session_id", session.ID)
	h.notify(ctx, domain.EventOrderPaid, p.OrderID)
	return nil
}

func (h *Handler) expire(ctx context.Context, p *domain.PaymentRecord) error {
	changed, err := h.orders.ExpirePayment(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("expire payment: %w", err)
	}
	if !changed {
		h.logger.Info("payment already settled", "order_id", p.OrderID, "status", p.Status)
		return nil
	}

	h.logger.Info("checkout expired, order cancelled", "order_id", p.OrderID)
	h.notify(ctx, domain.EventOrderCancelled, p.OrderID)
	return nil
}

func (h *Handler) notify(ctx context.Context, eventType domain.EventType, orderID string) {
	// The state change is already committed, so a lookup failure only costs
	// the notification and must not make the provider retry.
	order, err := h.orders.GetByID(ctx, orderID)
	if err != nil || order == nil {
		h.logger.Error("failed to load order for notification", "error", err, "order_id", orderID)
		return
	}

	payload := &domain.OrderEventPayload{
		OrderID:    order.ID,
		BuyerEmail: order.Customer.Email,
	}
	if order.Payment != nil {
		payload.Amount = order.Payment.Amount
		payload.Currency = order.Payment.Currency
	}
	for _, so := range order.SubOrders {
		payload.ProducerIDs = append(payload.ProducerIDs, so.ProducerID)
	}

	h.notifier.Dispatch(domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Order:     payload,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
