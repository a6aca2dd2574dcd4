package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderPaid          EventType = "order.paid"
	EventOrderCancelled     EventType = "order.cancelled"
	EventProducerRegistered EventType = "producer.registered"
)

// Event is the envelope published for lifecycle notifications. Exactly one
// of the payload pointers is set, matching Type.
type Event struct {
	ID        string                   `json:"id"`
	Type      EventType                `json:"type"`
	Order     *OrderEventPayload       `json:"order,omitempty"`
	Producer  *ProducerRegisteredEvent `json:"producer,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

type OrderEventPayload struct {
	OrderID     string          `json:"order_id"`
	BuyerEmail  string          `json:"buyer_email"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ProducerIDs []string        `json:"producer_ids"`
}

type ProducerRegisteredEvent struct {
	ProducerID   string `json:"producer_id"`
	BusinessName string `json:"business_name"`
	Email        string `json:"email"`
}

// Key is the partition key used when publishing the event.
func (e Event) Key() string {
	switch {
	case e.Order != nil:
		return e.Order.OrderID
	case e.Producer != nil:
		return e.Producer.ProducerID
	}
	return e.ID
}
