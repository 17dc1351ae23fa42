// Package eventbus defines pub/sub interfaces for canonical events.
package eventbus

import (
	"context"

	"github.com/coachpo/tradestream/internal/domain/schema"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers canonical events to interested subscribers.
type Bus interface {
	Publish(ctx context.Context, evt schema.Event) error
	Subscribe(ctx context.Context, typ schema.EventType, opts ...SubscribeOption) (SubscriptionID, <-chan schema.Event, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize    int
	FanoutWorkers int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}

type subscribeOptions struct {
	blocking   bool
	bufferSize int
}

// SubscribeOption tunes one subscription.
type SubscribeOption func(*subscribeOptions)

// WithBlocking makes publishers wait for buffer space instead of dropping the oldest event.
// Use it for subscribers that must observe every event, such as order updates.
func WithBlocking() SubscribeOption {
	return func(o *subscribeOptions) { o.blocking = true }
}

// WithBufferSize overrides the bus-wide buffer size for one subscription.
func WithBufferSize(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}
