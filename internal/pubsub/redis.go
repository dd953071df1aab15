package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Redis publishes over Redis channels so every API node sees every event.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	closed atomic.Bool
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: "taskboard:", logger: logger}
}

func (r *Redis) channel(topic string) string {
	return r.prefix + topic
}

func (r *Redis) Publish(ctx context.Context, topic string, payload any) error {
	if r.closed.Load() {
		return ErrClosed
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription so that a publish
// issued after it returns is delivered.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan Message, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: topic, Payload: []byte(msg.Payload)}:
				default:
					r.logger.Warn("subscriber buffer full, dropping message", "topic", topic)
				}
			}
		}
	}()
	return out, nil
}

// Close marks the bus closed; the shared client is closed by its owner.
func (r *Redis) Close() error {
	r.closed.Store(true)
	return nil
}
