package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("payment/stripe")

// sessionCreator is the subset of the Stripe checkout session client used
// here.
type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeBroker struct {
	sessions sessionCreator
	breaker  *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
	logger   *slog.Logger
}

func NewStripeBroker(secretKey string, logger *slog.Logger) *StripeBroker {
	sc := client.New(secretKey, nil)
	return newStripeBroker(sc.CheckoutSessions, logger)
}

func newStripeBroker(sessions sessionCreator, logger *slog.Logger) *StripeBroker {
	settings := gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &StripeBroker{
		sessions: sessions,
		breaker:  gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](settings),
		logger:   logger,
	}
}

// isBreakerSuccess keeps client errors from tripping the breaker; only
// transport failures, 5xx and rate limiting count.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		return code >= 400 && code < 500 && code != http.StatusTooManyRequests
	}
	return false
}

func (b *StripeBroker) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := tracer.Start(ctx, "stripe.checkout.session.create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("payment.line_items", len(req.LineItems)),
			attribute.String("payment.currency", req.Currency),
		),
	)
	defer span.End()

	params := BuildSessionParams(req)
	params.Context = ctx

	cs, err := b.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return b.sessions.New(params)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}

	span.SetAttributes(attribute.String("payment.session_id", cs.ID))
	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

// BuildSessionParams translates a provider-neutral request into Stripe
// checkout session parameters, appending a synthetic shipping line when
// shipping is charged.
func BuildSessionParams(req SessionRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, lineItemParams(req.Currency, item))
	}

	if req.ShippingTotal.IsPositive() {
		params.LineItems = append(params.LineItems, lineItemParams(req.Currency, LineItem{
			Name:       "Shipping",
			UnitAmount: req.ShippingTotal,
			Quantity:   1,
		}))
	}

	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	return params
}

func lineItemParams(currency string, item LineItem) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(item.Name),
			},
			UnitAmount: stripe.Int64(ToMinorUnits(item.UnitAmount)),
		},
		Quantity: stripe.Int64(int64(item.Quantity)),
	}
}
