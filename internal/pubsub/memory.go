package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 256

type memorySubscriber struct {
	topic  string
	ch     chan Message
	closed atomic.Bool
}

// Memory is an in-process bus for single-node deployments and tests. A
// subscriber whose buffer is full misses the message instead of blocking the
// publisher.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[*memorySubscriber]struct{}
	closed      atomic.Bool
	buffer      int
}

func NewMemory() *Memory {
	return &Memory{
		subscribers: make(map[*memorySubscriber]struct{}),
		buffer:      defaultSubscriberBuffer,
	}
}

func (m *Memory) Publish(_ context.Context, topic string, payload any) error {
	if m.closed.Load() {
		return ErrClosed
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}

	m.mu.RLock()
	subs := make([]*memorySubscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		if sub.topic == topic {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	msg := Message{Topic: topic, Payload: data}
	for _, sub := range subs {
		m.trySend(sub, msg)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscriber{topic: topic, ch: make(chan Message, m.buffer)}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(sub)
	}()
	return sub.ch, nil
}

func (m *Memory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subscribers {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}
	m.subscribers = nil
	return nil
}

func (m *Memory) remove(sub *memorySubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers == nil {
		return
	}
	if _, ok := m.subscribers[sub]; !ok {
		return
	}
	delete(m.subscribers, sub)
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.ch)
	}
}

func (m *Memory) trySend(sub *memorySubscriber, msg Message) {
	defer func() {
		// the channel may close between the snapshot and the send
		if r := recover(); r != nil {
			sub.closed.Store(true)
		}
	}()
	if sub.closed.Load() {
		return
	}
	select {
	case sub.ch <- msg:
	default:
	}
}
