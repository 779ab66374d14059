package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/coursehub/certification-hub/internal/infrastructure/messaging"
)

// PubSub adapts Cache to messaging.RedisClient. Messages are published as
// given; the event bus already serializes its envelope.
type PubSub struct {
	cache *Cache

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewPubSub creates a PubSub on top of cache. Closing it releases the
// subscriptions but leaves the cache connection open.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish sends message to channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.cache.client.Publish(ctx, channel, message).Err()
}

// Subscribe listens on channels until ctx is done or Close is called.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.cache.client.Subscribe(ctx, channels...)
	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends every subscription opened through p.
func (p *PubSub) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ messaging.RedisClient = (*PubSub)(nil)
