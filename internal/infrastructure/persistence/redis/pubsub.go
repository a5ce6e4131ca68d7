package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/skillforge/mastery-engine/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB ADAPTER
// Bridges the event bus's client interface onto go-redis Pub/Sub.
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts a Redis connection to the transport the cross-instance
// event bus consumes. It owns the subscriptions it opens but not the
// underlying client, which is shared with the cache.
type PubSub struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// NewPubSub creates a Pub/Sub adapter over the cache's connection pool.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.Client()}
}

// Publish sends a message to a channel. Non-string payloads are
// serialized to JSON.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}

	payload := message
	switch message.(type) {
	case string, []byte:
	default:
		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		payload = data
	}

	return p.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription and streams its messages. The stream
// closes when the context is cancelled or the adapter is closed; a
// receive failure is surfaced as a message with Err set rather than
// tearing the stream down, since go-redis reconnects underneath.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrCacheConnection
	}
	sub := p.client.Subscribe(ctx, channels...)
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	// Wait for the subscription to be confirmed so a publish issued
	// right after this call is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan messaging.RedisMessage)
	src := sub.Channel()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
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

// Close shuts every open subscription and waits for their streams to
// drain. The shared Redis client stays open.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.wg.Wait()
	return firstErr
}
