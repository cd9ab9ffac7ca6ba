package progress

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisBroker broadcasts updates over redis pub/sub.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an already-connected redis client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

var _ Broker = (*RedisBroker)(nil)

// MemoryBroker is an in-process Broker for tests and single-node runs.
// Slow subscribers lose events rather than blocking the publisher, matching
// the at-most-once contract.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]chan []byte)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[channel] {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, sub := range subs {
			if sub == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

var _ Broker = (*MemoryBroker)(nil)
