// Package notify delivers lifecycle events off the request path.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

const publishTimeout = 10 * time.Second

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Dispatcher queues events for a single background publisher. Dispatch never
// blocks the caller: when the queue is full or the dispatcher is closed the
// event is dropped with a warning.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
	queue     chan domain.Event
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(publisher Publisher, size int, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan domain.Event, size),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Dispatch(event domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("dropping event after close", "event_id", event.ID, "event_type", event.Type)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event", "event_id", event.ID, "event_type", event.Type)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Error("failed to publish event", "error", err, "event_id", event.ID, "event_type", event.Type)
		} else {
			d.logger.Debug("event published", "event_id", event.ID, "event_type", event.Type)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be published or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
