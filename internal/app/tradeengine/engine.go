// Package tradeengine owns the live set of tracked trades. It applies order updates and price ticks to
// each trade under a per-trade lock and publishes a snapshot after every change.
package tradeengine

import (
	"cmp"
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/domain/trade"
)

const component = "tradeengine"

// Publisher receives trade snapshots after every change.
type Publisher interface {
	Publish(ctx context.Context, evt schema.Event) error
}

type entry struct {
	mu     sync.Mutex
	symbol string
	trade  trade.Trade
}

// Engine tracks trades and drives their lifecycle.
type Engine struct {
	mu       sync.RWMutex
	trades   map[string]*entry
	byClient map[string]string

	publisher Publisher
	logger    *log.Logger
	clock     func() time.Time
	newID     func() string
	seq       atomic.Uint64
	metrics   *engineMetrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher sets where trade snapshots are published.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides trade id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New constructs an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		trades:   make(map[string]*entry),
		byClient: make(map[string]string),
		logger:   log.Default(),
		clock:    time.Now,
		newID:    uuid.NewString,
		metrics:  newEngineMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// NewClientOrderID returns a fresh client order id suitable for Binance (at most 36 characters).
func NewClientOrderID() string {
	return "ts-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:30]
}

// Create opens a NEW trade for symbol tracking clientOrderID. An empty clientOrderID is generated.
func (e *Engine) Create(symbol, clientOrderID string) (trade.Trade, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return trade.Trade{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	clientOrderID = strings.TrimSpace(clientOrderID)
	if clientOrderID == "" {
		clientOrderID = NewClientOrderID()
	}
	t := trade.New(e.newID(), symbol, clientOrderID, e.clock().UTC())
	ent := &entry{symbol: symbol, trade: t}

	e.mu.Lock()
	if owner, ok := e.byClient[clientOrderID]; ok {
		e.mu.Unlock()
		return trade.Trade{}, errs.New(component, errs.CodeConflict,
			errs.WithMessage("client order id already tracked"),
			errs.WithField("client_order_id", clientOrderID),
			errs.WithField("trade_id", owner))
	}
	// The entry is locked before it becomes reachable so the NEW snapshot is published ahead of any
	// report for it.
	ent.mu.Lock()
	defer ent.mu.Unlock()
	e.trades[t.ID] = ent
	e.byClient[clientOrderID] = t.ID
	e.mu.Unlock()

	e.metrics.recordTransition("create", t.Status)
	e.logger.Printf("tradeengine: created trade id=%s symbol=%s client_order_id=%s", t.ID, symbol, clientOrderID)
	e.emit(t)
	return t.Clone(), nil
}

// MarkBuyPosted records that the buy order for the trade was accepted.
func (e *Engine) MarkBuyPosted(id string) (trade.Trade, error) {
	return e.mutate(id, "buy_posted", trade.MarkBuyPosted)
}

// AddClientOrderID links another order (a sell or a cancel request) to the trade.
func (e *Engine) AddClientOrderID(id, clientOrderID string) (trade.Trade, error) {
	clientOrderID = strings.TrimSpace(clientOrderID)
	if clientOrderID == "" {
		return trade.Trade{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("client order id required"))
	}
	e.mu.Lock()
	if _, ok := e.trades[id]; !ok {
		e.mu.Unlock()
		return trade.Trade{}, notFound(id)
	}
	if owner, ok := e.byClient[clientOrderID]; ok && owner != id {
		e.mu.Unlock()
		return trade.Trade{}, errs.New(component, errs.CodeConflict,
			errs.WithMessage("client order id belongs to another trade"),
			errs.WithField("client_order_id", clientOrderID),
			errs.WithField("trade_id", owner))
	}
	e.byClient[clientOrderID] = id
	e.mu.Unlock()

	return e.mutate(id, "add_client_order_id", func(t trade.Trade) (trade.Trade, trade.Outcome, error) {
		if t.HasClientOrderID(clientOrderID) {
			return t, trade.Ignored, nil
		}
		return t.WithClientOrderID(clientOrderID), trade.Updated, nil
	})
}

// Fail marks a trade whose order could not be placed.
func (e *Engine) Fail(id, reason string) (trade.Trade, error) {
	return e.mutate(id, "fail", func(t trade.Trade) (trade.Trade, trade.Outcome, error) {
		return trade.Fail(t, reason, e.clock().UTC())
	})
}

// Abandon stops tracking a non-terminal trade.
func (e *Engine) Abandon(id string) (trade.Trade, error) {
	return e.mutate(id, "abandon", func(t trade.Trade) (trade.Trade, trade.Outcome, error) {
		return trade.Abandon(t, e.clock().UTC())
	})
}

// Archive hides a terminal trade from the active projection.
func (e *Engine) Archive(id string) (trade.Trade, error) {
	return e.mutate(id, "archive", trade.Archive)
}

// ArchiveAllClosed archives every DONE, CANCELED and FAILED trade. Each archive is independent; the
// count of archived trades is returned with any failures joined.
func (e *Engine) ArchiveAllClosed() (int, error) {
	return e.archiveWhere(trade.StatusDone, trade.StatusCanceled, trade.StatusFailed)
}

// ArchiveCanceledFailed archives every CANCELED and FAILED trade.
func (e *Engine) ArchiveCanceledFailed() (int, error) {
	return e.archiveWhere(trade.StatusCanceled, trade.StatusFailed)
}

func (e *Engine) archiveWhere(statuses ...trade.Status) (int, error) {
	var (
		archived int
		failures []error
	)
	for _, t := range e.snapshot() {
		if t.Archived || !slices.Contains(statuses, t.Status) {
			continue
		}
		if _, err := e.Archive(t.ID); err != nil {
			failures = append(failures, err)
			continue
		}
		archived++
	}
	return archived, errors.Join(failures...)
}

// OnExecutionReport routes an order update to the trade owning its client order id.
func (e *Engine) OnExecutionReport(r schema.ExecutionReport) (trade.Trade, error) {
	e.mu.RLock()
	id, ok := e.byClient[r.ClientOrderID]
	if !ok && r.OriginalClientOrderID != "" {
		id, ok = e.byClient[r.OriginalClientOrderID]
	}
	e.mu.RUnlock()
	if !ok {
		return trade.Trade{}, errs.New(component, errs.CodeNotFound,
			errs.WithMessage("no trade for client order id"),
			errs.WithField("client_order_id", r.ClientOrderID))
	}
	return e.mutate(id, "execution_report", func(t trade.Trade) (trade.Trade, trade.Outcome, error) {
		return trade.ApplyExecutionReport(t, r)
	})
}

// OnPrice applies a live price to every active trade on symbol and returns how many changed.
func (e *Engine) OnPrice(symbol string, price decimal.Decimal) int {
	symbol = strings.ToUpper(symbol)
	e.mu.RLock()
	targets := make([]*entry, 0, 4)
	for _, ent := range e.trades {
		if ent.symbol == symbol {
			targets = append(targets, ent)
		}
	}
	e.mu.RUnlock()

	updated := 0
	for _, ent := range targets {
		ent.mu.Lock()
		if ent.trade.LastPrice.Equal(price) {
			ent.mu.Unlock()
			continue
		}
		next, ok := trade.ApplyPrice(ent.trade, price)
		if ok {
			ent.trade = next
			e.emit(next)
			updated++
		}
		ent.mu.Unlock()
	}
	return updated
}

// Get returns a snapshot of one trade, archived or not.
func (e *Engine) Get(id string) (trade.Trade, bool) {
	ent := e.lookup(id)
	if ent == nil {
		return trade.Trade{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.trade.Clone(), true
}

// Trades returns the active (not archived) trades keyed by id.
func (e *Engine) Trades() map[string]trade.Trade {
	out := make(map[string]trade.Trade)
	for _, t := range e.snapshot() {
		if !t.Archived {
			out[t.ID] = t
		}
	}
	return out
}

// Sorted returns the active trades, most recently opened first.
func (e *Engine) Sorted() []trade.Trade {
	return sortNewestFirst(e.Trades())
}

// ArchivedTrades returns archived trades, most recently opened first.
func (e *Engine) ArchivedTrades() []trade.Trade {
	out := make(map[string]trade.Trade)
	for _, t := range e.snapshot() {
		if t.Archived {
			out[t.ID] = t
		}
	}
	return sortNewestFirst(out)
}

func sortNewestFirst(in map[string]trade.Trade) []trade.Trade {
	out := make([]trade.Trade, 0, len(in))
	for _, t := range in {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b trade.Trade) int {
		if c := b.OpenTime.Compare(a.OpenTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (e *Engine) snapshot() []trade.Trade {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.trades))
	for _, ent := range e.trades {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]trade.Trade, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		out = append(out, ent.trade.Clone())
		ent.mu.Unlock()
	}
	return out
}

func (e *Engine) lookup(id string) *entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trades[id]
}

func notFound(id string) error {
	return errs.New(component, errs.CodeNotFound,
		errs.WithMessage("trade not found"),
		errs.WithField("trade_id", id))
}

type transitionFunc func(trade.Trade) (trade.Trade, trade.Outcome, error)

// mutate runs fn on the current trade under its lock and commits the result.
func (e *Engine) mutate(id, op string, fn transitionFunc) (trade.Trade, error) {
	ent := e.lookup(id)
	if ent == nil {
		return trade.Trade{}, notFound(id)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	before := ent.trade
	next, outcome, err := fn(before.Clone())
	if err != nil {
		e.metrics.recordRejected(op)
		return before.Clone(), err
	}
	if outcome == trade.Ignored {
		return before.Clone(), nil
	}
	ent.trade = next
	if outcome == trade.Transitioned {
		e.metrics.recordTransition(op, next.Status)
		e.logger.Printf("tradeengine: trade id=%s symbol=%s %s -> %s (%s)", next.ID, next.Symbol, before.Status, next.Status, op)
	}
	e.emit(next)
	return next.Clone(), nil
}

// emit publishes a snapshot. Callers hold the trade lock so snapshots of one trade stay ordered.
func (e *Engine) emit(t trade.Trade) {
	if e.publisher == nil {
		return
	}
	seq := e.seq.Add(1)
	evt := schema.Event{
		EventID:  schema.BuildEventKey(t.Symbol, schema.EventTypeTradeUpdate, seq),
		Provider: component,
		Symbol:   t.Symbol,
		Type:     schema.EventTypeTradeUpdate,
		Seq:      seq,
		IngestTS: e.clock().UTC(),
		Payload:  t.Clone(),
	}
	if err := e.publisher.Publish(context.Background(), evt); err != nil {
		e.logger.Printf("tradeengine: publish trade update id=%s: %v", t.ID, err)
	}
}
