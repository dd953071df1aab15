// Package pubsub fans change events out to live subscribers. Delivery is
// best effort to whoever is subscribed at publish time.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one published payload, still JSON encoded.
type Message struct {
	Topic   string
	Payload json.RawMessage
}

// Bus publishes JSON payloads to named topics. Subscribe returns a channel
// that is closed once ctx is done or the bus is closed.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Close() error
}

var ErrClosed = errors.New("pubsub: bus closed")

func encode(payload any) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
