package binance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/stream"
)

// MarketStreamConfig configures a multiplexed market data connection.
type MarketStreamConfig struct {
	Options       Options
	Subscriptions []schema.Subscription
	// Policy defaults to immediate reconnects.
	Policy stream.ReconnectPolicy
	Dialer stream.Dialer
	Logger *log.Logger
}

// MarketStream consumes many symbol streams over one combined connection and publishes normalized events.
type MarketStream struct {
	opts    Options
	keys    []string
	policy  stream.ReconnectPolicy
	dialer  stream.Dialer
	logger  *log.Logger
	emitter *emitter
	metrics *adapterMetrics

	mu     sync.Mutex
	conn   *stream.Conn
	closed bool
}

// NewMarketStream validates the subscriptions and prepares the stream. Nothing is dialed until Run.
func NewMarketStream(cfg MarketStreamConfig, pub Publisher) (*MarketStream, error) {
	if len(cfg.Subscriptions) == 0 {
		return nil, errs.New("binance/market-stream", errs.CodeInvalid, errs.WithMessage("at least one subscription required"))
	}
	keys := make([]string, 0, len(cfg.Subscriptions))
	seen := make(map[string]struct{}, len(cfg.Subscriptions))
	for _, sub := range cfg.Subscriptions {
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("market stream subscription: %w", err)
		}
		if !sub.IsMarket() {
			return nil, errs.New("binance/market-stream", errs.CodeInvalid,
				errs.WithMessage("not a market data stream"), errs.WithField("type", string(sub.Type)))
		}
		key := sub.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	opts := withDefaults(cfg.Options)
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = stream.Immediate()
	}
	metrics := newAdapterMetrics(opts.Config.Name)
	return &MarketStream{
		opts:    opts,
		keys:    keys,
		policy:  policy,
		dialer:  cfg.Dialer,
		logger:  logger,
		emitter: &emitter{provider: opts.Config.Name, pub: pub, metrics: metrics},
		metrics: metrics,
	}, nil
}

// URL returns the combined stream endpoint.
func (m *MarketStream) URL() string {
	return m.opts.combinedStreamURL(m.keys)
}

// Run holds the connection open until ctx ends or Close is called, then returns stream.ErrClosed.
// Frame-level failures are logged and never end the stream.
func (m *MarketStream) Run(ctx context.Context) error {
	opts := []stream.Option{
		stream.WithName(m.opts.Config.Name + "/market"),
		stream.WithPolicy(m.policy),
		stream.WithLogger(m.logger),
		stream.WithPingInterval(m.opts.Config.PingInterval),
	}
	if m.dialer != nil {
		opts = append(opts, stream.WithDialer(m.dialer))
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return stream.ErrClosed
	}
	conn := stream.Open(ctx, m.URL(), opts...)
	m.conn = conn
	m.mu.Unlock()

	for frame := range conn.Frames() {
		if err := m.HandleFrame(ctx, frame.Data); err != nil {
			m.metrics.recordFrameError(ctx, "market", err)
			m.logger.Printf("binance market stream [%s]: drop frame: %v", m.opts.Config.Name, err)
		}
	}
	return conn.Err()
}

// Close stops the connection. It is safe to call before Run and more than once; a Run after Close
// returns stream.ErrClosed without dialing.
func (m *MarketStream) Close() error {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// ParseStreamName splits "<symbol>@<type>[@options]" into the upper-cased symbol and the type.
func ParseStreamName(name string) (symbol string, streamType string, err error) {
	parts := strings.Split(name, "@")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errs.Decode(string(ShapeStreamEnvelope), "stream name is not <symbol>@<type>: "+name, nil)
	}
	return strings.ToUpper(parts[0]), parts[1], nil
}

// HandleFrame demultiplexes one combined-stream frame and publishes the normalized event.
// Unknown stream types are published as raw payloads.
func (m *MarketStream) HandleFrame(ctx context.Context, raw []byte) error {
	decoded, err := Decode(ShapeStreamEnvelope, raw)
	if err != nil {
		return err
	}
	env := decoded.(StreamEnvelope)
	symbol, streamType, err := ParseStreamName(env.Stream)
	if err != nil {
		return err
	}

	switch {
	case streamType == string(schema.StreamAggTrade):
		wire, err := decodeInto[StreamAggTrade](ShapeStreamAggTrade, env.Data)
		if err != nil {
			return err
		}
		trade, err := AggTradeFromStream(wire)
		if err != nil {
			return err
		}
		trade.Symbol = symbol
		return m.emitter.emit(ctx, env.Stream, symbol, schema.EventTypeAggTrade, trade)

	case streamType == string(schema.StreamTicker) || streamType == "miniTicker":
		wire, err := decodeInto[StreamTicker](ShapeStreamTicker, env.Data)
		if err != nil {
			return err
		}
		ticker, err := PriceTickerFromStream(wire)
		if err != nil {
			return err
		}
		ticker.Symbol = symbol
		return m.emitter.emit(ctx, env.Stream, symbol, schema.EventTypeTicker, ticker)

	case streamType == string(schema.StreamBookTicker):
		wire, err := decodeInto[StreamBookTicker](ShapeStreamBookTicker, env.Data)
		if err != nil {
			return err
		}
		book, err := BookTickerFromStream(wire)
		if err != nil {
			return err
		}
		book.Symbol = symbol
		return m.emitter.emit(ctx, env.Stream, symbol, schema.EventTypeBookTicker, book)

	case strings.HasPrefix(streamType, string(schema.StreamDepth)):
		wire, err := decodeInto[WireDepth](ShapeDepth, env.Data)
		if err != nil {
			return err
		}
		depth, err := DepthFromWire(symbol, wire)
		if err != nil {
			return err
		}
		depth.Symbol = symbol
		return m.emitter.emit(ctx, env.Stream, symbol, schema.EventTypeDepth, depth)

	default:
		payload := schema.RawPayload{StreamType: streamType, Data: append([]byte(nil), env.Data...)}
		return m.emitter.emit(ctx, env.Stream, symbol, schema.EventTypeRaw, payload)
	}
}
