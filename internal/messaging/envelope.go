package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

const EventTypeHeader = "event-type"

// headerCarrier exposes Kafka message headers as a propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func carrierFor(msg *kafka.Message) headerCarrier {
	return headerCarrier{headers: &msg.Headers}
}

func (c headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string((*c.headers)[i].Value)
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		(*c.headers)[i].Value = []byte(value)
		return
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c headerCarrier) index(key string) int {
	for i, h := range *c.headers {
		if h.Key == key {
			return i
		}
	}
	return -1
}

// EncodeEvent builds the Kafka message for an event. The message is keyed by
// the event's aggregate so one order's events stay on one partition.
func EncodeEvent(event domain.Event) (kafka.Message, error) {
	if event.Type == "" {
		return kafka.Message{}, errors.New("encode event: missing type")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}

	return kafka.Message{
		Key:     []byte(event.Key()),
		Value:   data,
		Headers: []kafka.Header{{Key: EventTypeHeader, Value: []byte(event.Type)}},
	}, nil
}

// DecodeEvent parses a published event envelope.
func DecodeEvent(data []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return domain.Event{}, errors.New("decode event: missing type")
	}
	return event, nil
}
