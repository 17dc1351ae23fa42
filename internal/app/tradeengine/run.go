package tradeengine

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/bus/eventbus"
)

// Run consumes execution reports and price events from bus until ctx is done. Order updates and price
// ticks are handled concurrently; errors are logged and never stop consumption.
func (e *Engine) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("event bus required"))
	}
	reportID, reports, err := bus.Subscribe(ctx, schema.EventTypeExecReport, eventbus.WithBlocking())
	if err != nil {
		return fmt.Errorf("subscribe execution reports: %w", err)
	}
	defer bus.Unsubscribe(reportID)
	tradeID, trades, err := bus.Subscribe(ctx, schema.EventTypeAggTrade)
	if err != nil {
		return fmt.Errorf("subscribe agg trades: %w", err)
	}
	defer bus.Unsubscribe(tradeID)
	tickerID, tickers, err := bus.Subscribe(ctx, schema.EventTypeTicker)
	if err != nil {
		return fmt.Errorf("subscribe tickers: %w", err)
	}
	defer bus.Unsubscribe(tickerID)

	var wg conc.WaitGroup
	wg.Go(func() { e.consume(ctx, reports) })
	wg.Go(func() { e.consume(ctx, trades) })
	wg.Go(func() { e.consume(ctx, tickers) })
	wg.Wait()
	return nil
}

func (e *Engine) consume(ctx context.Context, events <-chan schema.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.metrics.recordConsumed(ctx, evt)
			e.handle(evt)
		}
	}
}

func (e *Engine) handle(evt schema.Event) {
	switch payload := evt.Payload.(type) {
	case schema.ExecutionReport:
		if _, err := e.OnExecutionReport(payload); err != nil {
			// Orders placed outside this process have no trade.
			if errs.IsCode(err, errs.CodeNotFound) {
				e.logger.Printf("tradeengine: ignored execution report for untracked client_order_id=%s orig_client_order_id=%s status=%s",
					payload.ClientOrderID, payload.OriginalClientOrderID, payload.OrderStatus)
				return
			}
			e.logger.Printf("tradeengine: execution report client_order_id=%s status=%s: %v",
				payload.ClientOrderID, payload.OrderStatus, err)
		}
	case schema.AggTrade:
		e.OnPrice(payload.Symbol, payload.Price)
	case schema.PriceTicker:
		e.OnPrice(payload.Symbol, payload.Price)
	default:
		e.logger.Printf("tradeengine: unexpected payload %T for event type=%s", evt.Payload, evt.Type)
	}
}
