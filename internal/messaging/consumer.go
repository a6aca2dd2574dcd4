package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// EventHandler processes one decoded event.
type EventHandler func(ctx context.Context, event domain.Event) error

// Consumer reads events for a consumer group and commits each message once
// it has been handled, skipped as malformed, or given up on.
type Consumer struct {
	reader      *kafka.Reader
	topic       string
	groupID     string
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	processed   metric.Int64Counter
}

type consumerSettings struct {
	reader      kafka.ReaderConfig
	maxAttempts int
	backoff     time.Duration
}

type ConsumerOption func(*consumerSettings)

func WithStartOffset(offset int64) ConsumerOption {
	return func(s *consumerSettings) {
		s.reader.StartOffset = offset
	}
}

// WithRetry sets how many times a failing handler is called for one message
// and the delay between calls, which doubles after each failure.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(s *consumerSettings) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		s.backoff = backoff
	}
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	s := consumerSettings{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&s)
	}

	processed, err := otel.Meter("messaging/consumer").Int64Counter("messaging.events.processed",
		metric.WithDescription("Consumed events by type and result"))
	if err != nil {
		logger.Warn("failed to create consumer counter", "error", err)
	}

	return &Consumer{
		reader:      kafka.NewReader(s.reader),
		topic:       topic,
		groupID:     groupID,
		maxAttempts: s.maxAttempts,
		backoff:     s.backoff,
		logger:      logger,
		processed:   processed,
	}
}

// Consume blocks until ctx is done or the broker fails.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

// processMessage only returns an error when ctx ends mid-retry; the message
// is then left uncommitted for redelivery.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler EventHandler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrierFor(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	event, err := DecodeEvent(msg.Value)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("skipping malformed event", "error", err, "offset", msg.Offset,
			"partition", msg.Partition, "event_type", carrierFor(&msg).Get(EventTypeHeader))
		c.count(ctx, carrierFor(&msg).Get(EventTypeHeader), "malformed")
		return nil
	}
	span.SetAttributes(semconv.MessagingMessageID(event.ID), attribute.String("marketplace.event_type", string(event.Type)))

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err = handler(spanCtx, event)
		if err == nil {
			c.count(ctx, string(event.Type), "ok")
			return nil
		}
		span.RecordError(err)

		if attempt >= c.maxAttempts {
			break
		}
		c.logger.Warn("event handler failed, retrying", "error", err, "event_id", event.ID, "attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	span.SetStatus(codes.Error, err.Error())
	c.logger.Error("dropping event after retries", "error", err, "event_id", event.ID,
		"event_type", event.Type, "attempts", c.maxAttempts)
	c.count(ctx, string(event.Type), "dropped")
	return nil
}

func (c *Consumer) count(ctx context.Context, eventType, result string) {
	if c.processed == nil {
		return
	}
	c.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	))
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
