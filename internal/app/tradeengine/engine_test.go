package tradeengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/domain/trade"
	"github.com/coachpo/tradestream/internal/infra/bus/eventbus"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []schema.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt schema.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) statuses() []trade.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]trade.Status, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Payload.(trade.Trade).Status)
	}
	return out
}

func (p *recordingPublisher) last() trade.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1].Payload.(trade.Trade)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	var (
		mu   sync.Mutex
		tick = time.Unix(1_700_000_000, 0)
		ids  atomic.Int64
	)
	base := []Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick = tick.Add(time.Second)
			return tick
		}),
		WithIDGenerator(func() string { return fmt.Sprintf("trade-%d", ids.Add(1)) }),
	}
	return New(append(base, opts...)...)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func execReport(coid string, side schema.Side, status schema.OrderStatus, price string) schema.ExecutionReport {
	return schema.ExecutionReport{
		Symbol:                   "BTCUSDT",
		ClientOrderID:            coid,
		Side:                     side,
		OrderStatus:              status,
		OrderID:                  7,
		LastExecutedPrice:        d(price),
		CumulativeFilledQuantity: d("0.1"),
		TransactionTime:          time.Unix(1_700_000_900, 0),
	}
}

// watching drives a new trade to WATCHING at the given buy price.
func watching(t *testing.T, e *Engine, coid, price string) trade.Trade {
	t.Helper()
	tr, err := e.Create("btcusdt", coid)
	require.NoError(t, err)
	_, err = e.MarkBuyPosted(tr.ID)
	require.NoError(t, err)
	tr, err = e.OnExecutionReport(execReport(coid, schema.SideBuy, schema.OrderStatusFilled, price))
	require.NoError(t, err)
	require.Equal(t, trade.StatusWatching, tr.Status)
	return tr
}

func TestCreateAndGet(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEngine(t, WithPublisher(pub))

	tr, err := e.Create(" btcusdt ", "")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", tr.Symbol)
	require.Equal(t, trade.StatusNew, tr.Status)
	require.Len(t, tr.ClientOrderIDs, 1)
	require.LessOrEqual(t, len(tr.ClientOrderIDs[0]), 36)

	got, ok := e.Get(tr.ID)
	require.True(t, ok)
	require.Equal(t, tr.ID, got.ID)
	require.Equal(t, tr.ID, pub.last().ID)

	_, err = e.Create("", "x")
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
	_, err = e.Create("ETHUSDT", tr.ClientOrderIDs[0])
	require.True(t, errs.IsCode(err, errs.CodeConflict))
}

func TestBuyFillThenPriceTick(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEngine(t, WithPublisher(pub))
	tr := watching(t, e, "buy-1", "20000")
	require.True(t, tr.BuyPrice.Equal(d("20000")))

	require.Equal(t, 1, e.OnPrice("BTCUSDT", d("21000")))
	got, _ := e.Get(tr.ID)
	require.InDelta(t, 5.0, got.ProfitPercentFloat(), 1e-9)
	require.Equal(t, trade.ClassPositive, got.Class())
	require.Equal(t, trade.StatusWatching, pub.last().Status)

	// Same price again changes nothing.
	require.Equal(t, 0, e.OnPrice("BTCUSDT", d("21000")))
	again, _ := e.Get(tr.ID)
	require.True(t, again.ProfitPercent.Equal(got.ProfitPercent))

	require.Equal(t, 0, e.OnPrice("ETHUSDT", d("1")))
}

func TestSellViaAddedClientOrderID(t *testing.T) {
	e := newTestEngine(t)
	tr := watching(t, e, "buy-1", "20000")

	_, err := e.AddClientOrderID(tr.ID, "sell-1")
	require.NoError(t, err)
	_, err = e.OnExecutionReport(execReport("sell-1", schema.SideSell, schema.OrderStatusNew, "0"))
	require.NoError(t, err)
	done, err := e.OnExecutionReport(execReport("sell-1", schema.SideSell, schema.OrderStatusFilled, "22000"))
	require.NoError(t, err)
	require.Equal(t, trade.StatusDone, done.Status)
	require.InDelta(t, 10.0, done.ProfitPercentFloat(), 1e-9)

	// Further prices leave a closed trade alone.
	require.Equal(t, 0, e.OnPrice("BTCUSDT", d("30000")))

	_, err = e.OnExecutionReport(execReport("sell-1", schema.SideSell, schema.OrderStatusFilled, "22000"))
	require.True(t, errs.IsCode(err, errs.CodeTransition))
}

func TestAddClientOrderIDConflicts(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.Create("BTCUSDT", "a")
	require.NoError(t, err)
	b, err := e.Create("BTCUSDT", "b")
	require.NoError(t, err)

	_, err = e.AddClientOrderID(a.ID, "b")
	require.True(t, errs.IsCode(err, errs.CodeConflict))
	_, err = e.AddClientOrderID("missing", "c")
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
	got, err := e.AddClientOrderID(b.ID, "b")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, got.ClientOrderIDs)
}

func TestUnknownReport(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.OnExecutionReport(execReport("nobody", schema.SideBuy, schema.OrderStatusNew, "0"))
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestUntrackedReportIsLoggedAndIgnored(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, WithLogger(log.New(&buf, "", 0)))

	e.handle(schema.Event{
		Type:    schema.EventTypeExecReport,
		Payload: execReport("external-1", schema.SideBuy, schema.OrderStatusFilled, "100"),
	})

	require.Contains(t, buf.String(), "ignored execution report for untracked client_order_id=external-1")
	require.Empty(t, e.Trades())
}

func TestFailAndAbandon(t *testing.T) {
	e := newTestEngine(t)
	a, _ := e.Create("BTCUSDT", "a")
	failed, err := e.Fail(a.ID, "insufficient balance")
	require.NoError(t, err)
	require.Equal(t, trade.StatusFailed, failed.Status)

	_, err = e.Abandon(a.ID)
	require.True(t, errs.IsCode(err, errs.CodeTransition))

	b := watching(t, e, "b", "100")
	abandoned, err := e.Abandon(b.ID)
	require.NoError(t, err)
	require.Equal(t, trade.StatusAbandoned, abandoned.Status)

	_, err = e.Abandon("missing")
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestArchiveAllClosedLeavesOpenTrades(t *testing.T) {
	e := newTestEngine(t)

	done := watching(t, e, "done", "100")
	_, err := e.AddClientOrderID(done.ID, "done-sell")
	require.NoError(t, err)
	_, err = e.OnExecutionReport(execReport("done-sell", schema.SideSell, schema.OrderStatusFilled, "110"))
	require.NoError(t, err)

	open := watching(t, e, "open", "100")

	canceled, _ := e.Create("BTCUSDT", "canceled")
	_, err = e.OnExecutionReport(execReport("canceled", schema.SideBuy, schema.OrderStatusCanceled, "0"))
	require.NoError(t, err)

	failed, _ := e.Create("BTCUSDT", "failed")
	_, err = e.Fail(failed.ID, "rejected")
	require.NoError(t, err)

	n, err := e.ArchiveAllClosed()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	active := e.Trades()
	require.Len(t, active, 1)
	require.Contains(t, active, open.ID)
	require.Equal(t, trade.StatusWatching, active[open.ID].Status)
	require.False(t, active[open.ID].Archived)

	for _, id := range []string{done.ID, canceled.ID, failed.ID} {
		got, ok := e.Get(id)
		require.True(t, ok)
		require.True(t, got.Archived, id)
	}
	require.Len(t, e.ArchivedTrades(), 3)

	n, err = e.ArchiveAllClosed()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestArchiveCanceledFailedKeepsDone(t *testing.T) {
	e := newTestEngine(t)
	done := watching(t, e, "done", "100")
	_, _ = e.AddClientOrderID(done.ID, "done-sell")
	_, err := e.OnExecutionReport(execReport("done-sell", schema.SideSell, schema.OrderStatusFilled, "90"))
	require.NoError(t, err)
	failed, _ := e.Create("BTCUSDT", "failed")
	_, _ = e.Fail(failed.ID, "x")

	n, err := e.ArchiveCanceledFailed()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, e.Trades(), done.ID)
	require.NotContains(t, e.Trades(), failed.ID)

	_, err = e.Archive(e.Sorted()[0].ID)
	require.NoError(t, err)
	require.Empty(t, e.Trades())
}

func TestArchiveOpenTradeRejected(t *testing.T) {
	e := newTestEngine(t)
	open := watching(t, e, "open", "100")
	_, err := e.Archive(open.ID)
	require.True(t, errs.IsCode(err, errs.CodeTransition))
}

func TestSortedNewestFirst(t *testing.T) {
	e := newTestEngine(t)
	first, _ := e.Create("BTCUSDT", "1")
	second, _ := e.Create("BTCUSDT", "2")
	third, _ := e.Create("ETHUSDT", "3")

	sorted := e.Sorted()
	require.Len(t, sorted, 3)
	require.Equal(t, []string{third.ID, second.ID, first.ID},
		[]string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
}

func TestCreatePublishesNewBeforeRacingReport(t *testing.T) {
	for i := 0; i < 200; i++ {
		pub := &recordingPublisher{}
		e := newTestEngine(t, WithPublisher(pub))
		coid := fmt.Sprintf("race-%d", i)

		applied := make(chan struct{})
		go func() {
			defer close(applied)
			report := execReport(coid, schema.SideBuy, schema.OrderStatusFilled, "100")
			for {
				if _, err := e.OnExecutionReport(report); err == nil {
					return
				}
				runtime.Gosched()
			}
		}()

		_, err := e.Create("BTCUSDT", coid)
		require.NoError(t, err)
		<-applied

		require.Equal(t, []trade.Status{trade.StatusNew, trade.StatusWatching}, pub.statuses())
	}
}

func TestConcurrentUpdatesOnOneTrade(t *testing.T) {
	e := newTestEngine(t)
	tr := watching(t, e, "buy", "100")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.OnPrice("BTCUSDT", decimal.NewFromInt(int64(100+i)))
			_, _ = e.Get(tr.ID)
			_ = e.Sorted()
		}(i)
	}
	wg.Wait()

	got, _ := e.Get(tr.ID)
	require.Equal(t, trade.StatusWatching, got.Status)
	recomputed := trade.RecomputeProfit(got)
	require.True(t, recomputed.ProfitPercent.Equal(got.ProfitPercent))
}

func TestRunConsumesBusEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 8}, log.New(io.Discard, "", 0))
	defer bus.Close()
	e := newTestEngine(t, WithPublisher(bus))

	updates, cancelUpdates := context.WithCancel(context.Background())
	defer cancelUpdates()
	_, tradeUpdates, err := bus.Subscribe(updates, schema.EventTypeTradeUpdate, eventbus.WithBufferSize(64))
	require.NoError(t, err)

	tr, err := e.Create("BTCUSDT", "buy-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, bus) }()

	publish := func(typ schema.EventType, payload any) {
		require.NoError(t, bus.Publish(context.Background(), schema.Event{Type: typ, Symbol: "BTCUSDT", Payload: payload}))
	}
	// Wait for Run to subscribe before publishing.
	require.Eventually(t, func() bool {
		publish(schema.EventTypeExecReport, execReport("buy-1", schema.SideBuy, schema.OrderStatusFilled, "20000"))
		got, _ := e.Get(tr.ID)
		return got.Status == trade.StatusWatching
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		publish(schema.EventTypeTicker, schema.PriceTicker{Symbol: "BTCUSDT", Price: d("21000")})
		got, _ := e.Get(tr.ID)
		return got.LastPrice.Equal(d("21000"))
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		publish(schema.EventTypeAggTrade, schema.AggTrade{Symbol: "BTCUSDT", Price: d("19000")})
		got, _ := e.Get(tr.ID)
		return got.LastPrice.Equal(d("19000"))
	}, time.Second, 10*time.Millisecond)

	evt := <-tradeUpdates
	require.Equal(t, schema.EventTypeTradeUpdate, evt.Type)
	require.Equal(t, tr.ID, evt.Payload.(trade.Trade).ID)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunRequiresBus(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, errs.IsCode(e.Run(context.Background(), nil), errs.CodeInvalid))
}
