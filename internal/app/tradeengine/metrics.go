package tradeengine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/domain/trade"
	"github.com/coachpo/tradestream/internal/infra/telemetry"
)

type engineMetrics struct {
	environment string

	transitions metric.Int64Counter
	rejected    metric.Int64Counter
	consumed    metric.Int64Counter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter("tradeengine")
	m := &engineMetrics{environment: telemetry.Environment()}
	m.transitions, _ = meter.Int64Counter("tradestream_trade_transitions",
		metric.WithDescription("Trade status changes"),
		metric.WithUnit("{transition}"))
	m.rejected, _ = meter.Int64Counter("tradestream_trade_transition_errors",
		metric.WithDescription("Operations refused by the trade lifecycle"),
		metric.WithUnit("{error}"))
	m.consumed, _ = meter.Int64Counter("tradestream_trade_events_consumed",
		metric.WithDescription("Bus events consumed by the trade engine"),
		metric.WithUnit("{event}"))
	return m
}

func (m *engineMetrics) recordTransition(op string, status trade.Status) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrOperation.String(op),
		telemetry.AttrTradeStatus.String(string(status))))
}

func (m *engineMetrics) recordRejected(op string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.ErrorAttributes(m.environment, "transition", op)...))
}

func (m *engineMetrics) recordConsumed(ctx context.Context, evt schema.Event) {
	if m == nil || m.consumed == nil {
		return
	}
	m.consumed.Add(ctx, 1, metric.WithAttributes(
		telemetry.EventAttributes(m.environment, string(evt.Type), evt.Provider, evt.Symbol)...))
}
