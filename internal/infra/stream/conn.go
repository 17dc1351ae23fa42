// Package stream maintains one logical real-time connection across transport failures.
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/tradestream/errs"
)

var (
	// ErrClosed is the terminal error of a connection closed by its owner.
	ErrClosed = errors.New("stream: closed")
	// ErrTransportClosed marks a transport that ended because the peer or the runtime closed it.
	ErrTransportClosed = errors.New("stream: transport closed")
)

const defaultPingTimeout = 5 * time.Second

// Frame is one inbound message.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Option configures a Conn.
type Option func(*Conn)

// WithName labels logs and metrics.
func WithName(name string) Option {
	return func(c *Conn) {
		if name != "" {
			c.name = name
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Conn) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithPolicy sets the reconnect policy. The default is Immediate.
func WithPolicy(p ReconnectPolicy) Option {
	return func(c *Conn) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPingInterval enables keepalive pings. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(c *Conn) {
		c.pingInterval = d
	}
}

// WithURLFunc resolves the dial target before every dial, for endpoints whose address changes across
// sessions. A resolve error counts as a failed dial.
func WithURLFunc(fn func(ctx context.Context) (string, error)) Option {
	return func(c *Conn) {
		c.resolve = fn
	}
}

// WithOnOpen registers a callback run on the loop goroutine each time a transport opens.
func WithOnOpen(fn func()) Option {
	return func(c *Conn) {
		c.onOpen = fn
	}
}

// WithOnDisconnect registers a callback run on the loop goroutine when an open transport ends unexpectedly.
func WithOnDisconnect(fn func(error)) Option {
	return func(c *Conn) {
		c.onDisconnect = fn
	}
}

// Conn is a self-healing connection. Frames arrive on an unbuffered channel in transport order;
// nothing is replayed across reconnects.
type Conn struct {
	url          string
	resolve      func(ctx context.Context) (string, error)
	name         string
	dialer       Dialer
	policy       ReconnectPolicy
	logger       *log.Logger
	pingInterval time.Duration
	onOpen       func()
	onDisconnect func(error)
	metrics      *connMetrics

	ctx    context.Context
	cancel context.CancelFunc

	frames chan Frame
	done   chan struct{}

	closing   atomic.Bool
	connected atomic.Bool
	attempts  atomic.Int64
	opens     atomic.Int64

	mu        sync.Mutex
	transport Transport

	state State
}

// Open starts maintaining a connection to url. Cancelling ctx has the same effect as Close.
func Open(ctx context.Context, url string, opts ...Option) *Conn {
	connCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		url:    url,
		name:   "stream",
		dialer: WebsocketDialer{},
		policy: Immediate(),
		logger: log.Default(),
		ctx:    connCtx,
		cancel: cancel,
		frames: make(chan Frame),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.metrics = newConnMetrics(c.name)
	go c.run()
	return c
}

// Frames delivers inbound messages. It is closed once the connection is terminally closed.
func (c *Conn) Frames() <-chan Frame { return c.frames }

// Done is closed after the connection has been released.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns ErrClosed once the connection has terminated and nil before that.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
		return nil
	}
}

// Connected reports whether a transport is currently open.
func (c *Conn) Connected() bool { return c.connected.Load() }

// Attempts returns the number of dials made.
func (c *Conn) Attempts() int64 { return c.attempts.Load() }

// Opens returns the number of transports that opened.
func (c *Conn) Opens() int64 { return c.opens.Load() }

// Closing reports whether Close has been requested.
func (c *Conn) Closing() bool { return c.closing.Load() }

// Close stops reconnecting, releases the transport and waits for the loop to exit. It is idempotent.
func (c *Conn) Close() error {
	if c.closing.CompareAndSwap(false, true) {
		c.cancel()
		c.mu.Lock()
		tr := c.transport
		c.transport = nil
		c.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
	}
	<-c.done
	return nil
}

func (c *Conn) stopped() bool {
	return c.closing.Load() || c.ctx.Err() != nil
}

func (c *Conn) run() {
	defer close(c.frames)
	defer close(c.done)
	defer c.cancel()

	for {
		if c.stopped() {
			return
		}
		c.state.Attempt++
		c.attempts.Add(1)

		target, err := c.target()
		var tr Transport
		if err == nil {
			tr, err = c.dialer.Dial(c.ctx, target)
		}
		if err != nil {
			if c.stopped() {
				return
			}
			c.state.PriorOpened = false
			c.state.LastErr = errs.Connection(target, err)
			c.metrics.recordReconnect(c.ctx, "error")
			c.logger.Printf("stream [%s]: dial failed attempt=%d: %v", c.name, c.state.Attempt, c.state.LastErr)
		} else {
			if !c.attach(tr) {
				_ = tr.Close()
				return
			}
			c.state.PriorOpened = true
			c.state.EverOpened = true
			c.opens.Add(1)
			c.metrics.recordReconnect(c.ctx, "success")
			c.logger.Printf("stream [%s]: connected attempt=%d", c.name, c.state.Attempt)
			if c.onOpen != nil {
				c.onOpen()
			}

			sessErr := c.session(tr)
			c.detach(tr)
			if c.stopped() {
				return
			}
			c.state.LastErr = errs.Connection(target, sessErr)
			c.logger.Printf("stream [%s]: closed; reconnecting: %v", c.name, sessErr)
			if c.onDisconnect != nil {
				c.onDisconnect(c.state.LastErr)
			}
		}

		if !c.wait(c.policy.Delay(c.state)) {
			return
		}
	}
}

func (c *Conn) target() (string, error) {
	if c.resolve == nil {
		return c.url, nil
	}
	url, err := c.resolve(c.ctx)
	if err != nil {
		return c.url, err
	}
	return url, nil
}

func (c *Conn) attach(tr Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped() {
		return false
	}
	c.transport = tr
	c.connected.Store(true)
	return true
}

func (c *Conn) detach(tr Transport) {
	c.mu.Lock()
	if c.transport == tr {
		c.transport = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)
	_ = tr.Close()
}

func (c *Conn) wait(d time.Duration) bool {
	if d <= 0 {
		return !c.stopped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !c.stopped()
	case <-c.ctx.Done():
		return false
	}
}

// session pumps frames from one transport until it fails.
func (c *Conn) session(tr Transport) error {
	sessCtx, sessCancel := context.WithCancel(c.ctx)
	defer sessCancel()

	var wg conc.WaitGroup
	if c.pingInterval > 0 {
		wg.Go(func() {
			if err := c.pingLoop(sessCtx, tr); err != nil {
				c.logger.Printf("stream [%s]: ping failed: %v", c.name, err)
				sessCancel()
			}
		})
	}
	err := c.readLoop(sessCtx, tr)
	sessCancel()
	_ = tr.Close()
	wg.Wait()
	return err
}

func (c *Conn) readLoop(ctx context.Context, tr Transport) error {
	for {
		data, err := tr.Read(ctx)
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			c.metrics.recordDecodeError(ctx)
			c.logger.Printf("stream [%s]: %v", c.name, errs.Decode("frame", "frame is not valid json", nil))
			continue
		}
		c.metrics.recordMessage(ctx, len(data))
		select {
		case c.frames <- Frame{Data: data, ReceivedAt: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, tr Transport) error {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			err := tr.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
