package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is an in-process Bus. It serves single-process deployments and
// tests. A slow listener whose buffer is full loses its oldest messages
// instead of stalling the publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[string]chan []byte
	closed bool
	logger *slog.Logger
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]map[string]chan []byte),
		logger: slog.Default(),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for id, ch := range b.topics[topic] {
		if n := offer(ch, payload); n > 0 {
			b.logger.Warn("listener buffer full, dropped oldest messages", "topic", topic, "listener_id", id, "dropped", n)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	listeners, ok := b.topics[topic]
	if !ok {
		listeners = make(map[string]chan []byte)
		b.topics[topic] = listeners
	}
	listeners[id] = ch
	return &Subscription{Topic: topic, ID: id, C: ch}, nil
}

func (b *MemoryBus) Unsubscribe(topic, listenerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	listeners, ok := b.topics[topic]
	if !ok {
		return nil
	}
	if ch, ok := listeners[listenerID]; ok {
		close(ch)
		delete(listeners, listenerID)
	}
	if len(listeners) == 0 {
		delete(b.topics, topic)
	}
	return nil
}

// Listeners is the number of live listeners on topic.
func (b *MemoryBus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, listeners := range b.topics {
		for _, ch := range listeners {
			close(ch)
		}
		delete(b.topics, topic)
	}
	return nil
}
