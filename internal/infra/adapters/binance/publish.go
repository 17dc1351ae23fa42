package binance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coachpo/tradestream/internal/domain/schema"
)

// Publisher receives normalized events.
type Publisher interface {
	Publish(ctx context.Context, evt schema.Event) error
}

// emitter stamps and publishes events for one stream.
type emitter struct {
	provider string
	pub      Publisher
	seq      atomic.Uint64
	metrics  *adapterMetrics
}

func (e *emitter) emit(ctx context.Context, streamName, symbol string, typ schema.EventType, payload any) error {
	seq := e.seq.Add(1)
	evt := schema.Event{
		EventID:  schema.BuildEventKey(symbol, typ, seq),
		Provider: e.provider,
		Stream:   streamName,
		Symbol:   symbol,
		Type:     typ,
		Seq:      seq,
		IngestTS: time.Now().UTC(),
		Payload:  payload,
	}
	if e.pub == nil {
		return nil
	}
	if err := e.pub.Publish(ctx, evt); err != nil {
		return err
	}
	e.metrics.recordEvent(ctx, typ, symbol)
	return nil
}
