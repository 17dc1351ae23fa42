package binance

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/stream"
)

const (
	defaultListenKeyRetry    = 500 * time.Millisecond
	maxListenKeyRetry        = 30 * time.Second
	accountSnapshotStream    = "accountSnapshot"
	userEventAccountInfo     = "outboundaccountinfo"
	userEventAccountPosition = "outboundaccountposition"
	userEventExecutionReport = "executionreport"
)

// ListenKeyClient issues and refreshes user data stream listen keys.
type ListenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// AccountSnapshotter returns the account balances over REST. A ListenKeyClient that also implements it
// gets a snapshot published at the start of every session.
type AccountSnapshotter interface {
	AccountInfo(ctx context.Context) (schema.AccountInfo, error)
}

// UserStreamConfig configures the user data stream.
type UserStreamConfig struct {
	Options Options
	// Policy defaults to stream.UserStream with Options.Config.UserStreamRetry.
	Policy stream.ReconnectPolicy
	Dialer stream.Dialer
	Logger *log.Logger
	// ListenKeyRetry is the first pause after a failed listen key request; later pauses grow
	// exponentially.
	ListenKeyRetry time.Duration
}

// UserStream consumes account and order events. Every session runs on a freshly issued listen key.
type UserStream struct {
	opts        Options
	keys        ListenKeyClient
	policy      stream.ReconnectPolicy
	dialer      stream.Dialer
	logger      *log.Logger
	emitter     *emitter
	metrics     *adapterMetrics
	keyRetry    time.Duration
	snapshotter AccountSnapshotter

	mu        sync.Mutex
	conn      *stream.Conn
	closed    bool
	listenKey string
}

// NewUserStream prepares a user data stream. Nothing is dialed until Run.
func NewUserStream(cfg UserStreamConfig, keys ListenKeyClient, pub Publisher) *UserStream {
	opts := withDefaults(cfg.Options)
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = stream.UserStream(opts.Config.UserStreamRetry)
	}
	keyRetry := cfg.ListenKeyRetry
	if keyRetry <= 0 {
		keyRetry = defaultListenKeyRetry
	}
	snapshotter, _ := keys.(AccountSnapshotter)
	metrics := newAdapterMetrics(opts.Config.Name)
	return &UserStream{
		opts:        opts,
		keys:        keys,
		policy:      policy,
		dialer:      cfg.Dialer,
		logger:      logger,
		emitter:     &emitter{provider: opts.Config.Name, pub: pub, metrics: metrics},
		metrics:     metrics,
		keyRetry:    keyRetry,
		snapshotter: snapshotter,
	}
}

// Run consumes the user data stream until ctx ends or Close is called. Listen key failures and dropped
// connections are retried; only Close or ctx cancellation end it.
func (u *UserStream) Run(ctx context.Context) error {
	name := u.opts.Config.Name + "/" + string(schema.StreamUserStream)
	opts := []stream.Option{
		stream.WithName(name),
		stream.WithPolicy(u.policy),
		stream.WithLogger(u.logger),
		stream.WithPingInterval(u.opts.Config.PingInterval),
		stream.WithURLFunc(u.nextSession),
		stream.WithOnOpen(func() {
			u.logger.Printf("binance user stream [%s]: connected", u.opts.Config.Name)
		}),
		stream.WithOnDisconnect(func(err error) {
			u.logger.Printf("binance user stream [%s]: connection lost: %v", u.opts.Config.Name, err)
		}),
	}
	if u.dialer != nil {
		opts = append(opts, stream.WithDialer(u.dialer))
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return stream.ErrClosed
	}
	conn := stream.Open(ctx, u.opts.userStreamURL(""), opts...)
	u.conn = conn
	u.mu.Unlock()

	var wg conc.WaitGroup
	wg.Go(func() { u.keepAlive(conn) })

	for frame := range conn.Frames() {
		if err := u.HandleFrame(ctx, frame.Data); err != nil {
			u.metrics.recordFrameError(ctx, "user", err)
			u.logger.Printf("binance user stream [%s]: drop frame: %v", u.opts.Config.Name, err)
		}
	}
	wg.Wait()
	return conn.Err()
}

// Close stops the connection and the keepalive loop. A later Run returns stream.ErrClosed.
func (u *UserStream) Close() error {
	u.mu.Lock()
	u.closed = true
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// nextSession issues a listen key for the next dial and republishes the account snapshot, so
// balances converge after any gap in the stream.
func (u *UserStream) nextSession(ctx context.Context) (string, error) {
	key, err := u.createListenKey(ctx)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	u.listenKey = key
	u.mu.Unlock()
	u.publishSnapshot(ctx)
	return u.opts.userStreamURL(key), nil
}

func (u *UserStream) createListenKey(ctx context.Context) (string, error) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = u.keyRetry
	retry.MaxInterval = max(maxListenKeyRetry, u.keyRetry)
	for {
		key, err := u.keys.CreateListenKey(ctx)
		if err == nil && strings.TrimSpace(key) == "" {
			err = errors.New("empty listen key")
		}
		if err == nil {
			return strings.TrimSpace(key), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		pause := retry.NextBackOff()
		u.logger.Printf("binance user stream [%s]: create listen key failed; retrying in %v: %v", u.opts.Config.Name, pause, err)
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (u *UserStream) publishSnapshot(ctx context.Context) {
	if u.snapshotter == nil {
		return
	}
	info, err := u.snapshotter.AccountInfo(ctx)
	if err != nil {
		u.logger.Printf("binance user stream [%s]: account snapshot: %v", u.opts.Config.Name, err)
		return
	}
	if err := u.emitter.emit(ctx, accountSnapshotStream, "", schema.EventTypeAccountInfo, info); err != nil {
		u.logger.Printf("binance user stream [%s]: publish account snapshot: %v", u.opts.Config.Name, err)
	}
}

func (u *UserStream) currentListenKey() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.listenKey
}

func (u *UserStream) keepAlive(conn *stream.Conn) {
	ticker := time.NewTicker(u.opts.Config.UserStreamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			listenKey := u.currentListenKey()
			if listenKey == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), u.opts.Config.HTTPTimeout)
			err := u.keys.KeepAliveListenKey(ctx, listenKey)
			cancel()
			if err != nil {
				u.logger.Printf("binance user stream [%s]: keepalive failed: %v", u.opts.Config.Name, err)
			}
		}
	}
}

// HandleFrame dispatches one user data payload on its event type.
func (u *UserStream) HandleFrame(ctx context.Context, raw []byte) error {
	head, err := decodeInto[UserEvent](ShapeUserEvent, raw)
	if err != nil {
		return err
	}
	eventType := strings.ToLower(strings.TrimSpace(head.EventType))

	switch eventType {
	case userEventAccountInfo, userEventAccountPosition:
		wire, err := decodeInto[StreamAccount](ShapeStreamAccount, raw)
		if err != nil {
			return err
		}
		info, err := AccountInfoFromStream(wire)
		if err != nil {
			return err
		}
		return u.emitter.emit(ctx, head.EventType, "", schema.EventTypeAccountInfo, info)

	case userEventExecutionReport:
		wire, err := decodeInto[StreamExecutionReport](ShapeStreamExecutionReport, raw)
		if err != nil {
			return err
		}
		report, err := ExecutionReportFromStream(wire)
		if err != nil {
			return err
		}
		latency := -1.0
		if !report.EventTime.IsZero() {
			latency = float64(time.Since(report.EventTime).Microseconds()) / 1000
		}
		u.metrics.recordExecutionReport(ctx, report, latency)
		return u.emitter.emit(ctx, head.EventType, report.Symbol, schema.EventTypeExecReport, report)

	default:
		payload := schema.RawPayload{StreamType: head.EventType, Data: append([]byte(nil), raw...)}
		return u.emitter.emit(ctx, head.EventType, "", schema.EventTypeRaw, payload)
	}
}
