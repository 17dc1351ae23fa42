package stream

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// State is the reconnect-relevant view of a connection, owned by its loop goroutine.
type State struct {
	// Attempt counts dials made so far, including the one that just ended.
	Attempt int
	// PriorOpened reports whether the most recent dial produced an open connection.
	PriorOpened bool
	// EverOpened reports whether any dial has produced an open connection.
	EverOpened bool
	LastErr    error
}

// ReconnectPolicy decides how long to wait before the next dial.
type ReconnectPolicy interface {
	Delay(s State) time.Duration
}

// PolicyFunc adapts a function to ReconnectPolicy.
type PolicyFunc func(State) time.Duration

// Delay implements ReconnectPolicy.
func (f PolicyFunc) Delay(s State) time.Duration { return f(s) }

// Immediate reconnects without delay, indefinitely.
func Immediate() ReconnectPolicy {
	return PolicyFunc(func(State) time.Duration { return 0 })
}

// UserStream reconnects immediately after a connection that had opened and waits delay
// after one that never opened.
func UserStream(delay time.Duration) ReconnectPolicy {
	return PolicyFunc(func(s State) time.Duration {
		if s.PriorOpened {
			return 0
		}
		return delay
	})
}

type backoffPolicy struct {
	b   *backoff.ExponentialBackOff
	max time.Duration
}

// Backoff paces reconnects exponentially up to maxInterval, restarting the schedule after every
// connection that opened.
func Backoff(initial, maxInterval time.Duration) ReconnectPolicy {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	return &backoffPolicy{b: b, max: b.MaxInterval}
}

func (p *backoffPolicy) Delay(s State) time.Duration {
	if s.PriorOpened {
		p.b.Reset()
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return p.max
	}
	return d
}
