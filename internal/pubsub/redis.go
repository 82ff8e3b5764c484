package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sempr/labjudge/internal/errs"
)

// RedisBus maps topics onto Redis PUBLISH/SUBSCRIBE channels, so workers and
// the API process can run on different hosts. Every Subscribe opens its own
// Redis subscription.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]*redisListener
	closed bool
}

type redisListener struct {
	topic string
	ps    *redis.PubSub
	done  chan struct{}
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{
		client: rdb,
		logger: slog.Default(),
		subs:   make(map[string]*redisListener),
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return errs.Wrap(errs.ChannelPublishFailure, fmt.Sprintf("publish %s", topic), err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, topic)
	// wait for the server to confirm, otherwise an early publish can be missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	l := &redisListener{topic: topic, ps: ps, done: make(chan struct{})}
	out := make(chan []byte, subscriberBuffer)
	id := uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ps.Close()
		return nil, ErrClosed
	}
	b.subs[id] = l
	b.mu.Unlock()

	go b.pump(id, l, out)
	return &Subscription{Topic: topic, ID: id, C: out}, nil
}

func (b *RedisBus) pump(id string, l *redisListener, out chan []byte) {
	defer close(l.done)
	defer close(out)
	for msg := range l.ps.Channel() {
		if n := offer(out, []byte(msg.Payload)); n > 0 {
			b.logger.Warn("listener buffer full, dropped oldest messages", "topic", l.topic, "listener_id", id, "dropped", n)
		}
	}
}

func (b *RedisBus) Unsubscribe(topic, listenerID string) error {
	b.mu.Lock()
	l, ok := b.subs[listenerID]
	if ok && l.topic == topic {
		delete(b.subs, listenerID)
	}
	b.mu.Unlock()
	if !ok || l.topic != topic {
		return nil
	}
	err := l.ps.Close()
	<-l.done
	return err
}

// Close drops every listener. The Redis client belongs to the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*redisListener)
	b.mu.Unlock()

	for _, l := range subs {
		l.ps.Close()
		<-l.done
	}
	return nil
}
