package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/email"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []domain.Event
	err     error
	release chan struct{}
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func paidEvent(id string) domain.Event {
	return domain.Event{
		ID:   id,
		Type: domain.EventOrderPaid,
		Order: &domain.OrderEventPayload{
			OrderID:     "order-" + id,
			BuyerEmail:  "buyer@example.com",
			Amount:      decimal.RequireFromString("57"),
			Currency:    "aud",
			ProducerIDs: []string{"s1", "s2"},
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestDispatcher(t *testing.T) {
	t.Run("publishes queued events and drains on close", func(t *testing.T) {
		pub := &recordingPublisher{}
		d := NewDispatcher(pub, 8, discardLogger())

		d.Dispatch(paidEvent("1"))
		d.Dispatch(paidEvent("2"))

		require.NoError(t, d.Close(context.Background()))
		assert.Equal(t, 2, pub.count())
		assert.Equal(t, "1", pub.events[0].ID)
	})

	t.Run("drops when queue is full without blocking", func(t *testing.T) {
		pub := &recordingPublisher{release: make(chan struct{})}
		d := NewDispatcher(pub, 1, discardLogger())

		done := make(chan struct{})
		go func() {
			for i := range 5 {
				d.Dispatch(paidEvent(string(rune('a' + i))))
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Dispatch blocked")
		}

		close(pub.release)
		require.NoError(t, d.Close(context.Background()))
		assert.LessOrEqual(t, pub.count(), 2)
		assert.GreaterOrEqual(t, pub.count(), 1)
	})

	t.Run("publish errors are swallowed", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("broker down")}
		d := NewDispatcher(pub, 4, discardLogger())

		d.Dispatch(paidEvent("1"))
		require.NoError(t, d.Close(context.Background()))
		assert.Equal(t, 1, pub.count())
	})

	t.Run("dispatch after close is dropped", func(t *testing.T) {
		pub := &recordingPublisher{}
		d := NewDispatcher(pub, 4, discardLogger())
		require.NoError(t, d.Close(context.Background()))
		require.NoError(t, d.Close(context.Background()))

		assert.NotPanics(t, func() { d.Dispatch(paidEvent("late")) })
		assert.Equal(t, 0, pub.count())
	})

	t.Run("close honours context", func(t *testing.T) {
		pub := &recordingPublisher{release: make(chan struct{})}
		defer close(pub.release)
		d := NewDispatcher(pub, 4, discardLogger())
		d.Dispatch(paidEvent("stuck"))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	})
}

type fakeMailer struct {
	sent []email.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func TestEmailSender(t *testing.T) {
	t.Run("order paid", func(t *testing.T) {
		mailer := &fakeMailer{}
		s := NewEmailSender(mailer, "", discardLogger())

		require.NoError(t, s.Publish(context.Background(), paidEvent("1")))
		require.Len(t, mailer.sent, 1)
		msg := mailer.sent[0]
		assert.Equal(t, "buyer@example.com", msg.To)
		assert.Equal(t, "Your honey order order-1 is confirmed", msg.Subject)
		assert.Contains(t, msg.Body, "57.00 AUD")
		assert.Contains(t, msg.Body, "2 producer(s)")
	})

	t.Run("order cancelled", func(t *testing.T) {
		mailer := &fakeMailer{}
		s := NewEmailSender(mailer, "", discardLogger())

		event := paidEvent("9")
		event.Type = domain.EventOrderCancelled

		require.NoError(t, s.Publish(context.Background(), event))
		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "Your honey order order-9 was cancelled", mailer.sent[0].Subject)
	})

	t.Run("producer registered notifies producer and admin", func(t *testing.T) {
		mailer := &fakeMailer{}
		s := NewEmailSender(mailer, "admin@honey.example", discardLogger())

		event := domain.Event{
			ID:   "e1",
			Type: domain.EventProducerRegistered,
			Producer: &domain.ProducerRegisteredEvent{
				ProducerID: "p1", BusinessName: "Golden Hive", Email: "hive@example.com",
			},
		}

		require.NoError(t, s.Publish(context.Background(), event))
		require.Len(t, mailer.sent, 2)
		assert.Equal(t, "hive@example.com", mailer.sent[0].To)
		assert.Contains(t, mailer.sent[0].Body, "Hi Golden Hive")
		assert.Equal(t, "admin@honey.example", mailer.sent[1].To)
		assert.Equal(t, "New producer awaiting verification: Golden Hive", mailer.sent[1].Subject)
	})

	t.Run("missing payload is an error", func(t *testing.T) {
		s := NewEmailSender(&fakeMailer{}, "", discardLogger())
		err := s.Publish(context.Background(), domain.Event{ID: "x", Type: domain.EventOrderPaid})
		assert.Error(t, err)
	})

	t.Run("handle swallows delivery errors", func(t *testing.T) {
		mailer := &fakeMailer{err: errors.New("smtp down")}
		s := NewEmailSender(mailer, "", discardLogger())

		assert.Error(t, s.Publish(context.Background(), paidEvent("1")))
		assert.NoError(t, s.Handle(context.Background(), paidEvent("1")))
	})
}
