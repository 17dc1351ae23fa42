package binance

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/telemetry"
)

type adapterMetrics struct {
	environment string
	provider    string

	eventsEmitted metric.Int64Counter
	frameErrors   metric.Int64Counter
	execReports   metric.Int64Counter
	reportLatency metric.Float64Histogram
}

func newAdapterMetrics(provider string) *adapterMetrics {
	meter := otel.Meter("adapter.binance")
	m := &adapterMetrics{
		environment: telemetry.Environment(),
		provider:    strings.TrimSpace(provider),
	}
	if m.provider == "" {
		m.provider = binanceMetadata.identifier
	}

	m.eventsEmitted, _ = meter.Int64Counter("tradestream_binance_events_emitted",
		metric.WithDescription("Canonical events emitted by the Binance adapter"),
		metric.WithUnit("{event}"))
	m.frameErrors, _ = meter.Int64Counter("tradestream_binance_frame_errors",
		metric.WithDescription("Frames dropped because they failed to decode or normalize"),
		metric.WithUnit("{frame}"))
	m.execReports, _ = meter.Int64Counter("tradestream_binance_execution_reports",
		metric.WithDescription("Execution reports received from the user data stream"),
		metric.WithUnit("{report}"))
	m.reportLatency, _ = meter.Float64Histogram("tradestream_binance_execution_report_latency",
		metric.WithDescription("Latency between execution report event time and ingestion"),
		metric.WithUnit("ms"))
	return m
}

func (m *adapterMetrics) recordEvent(ctx context.Context, typ schema.EventType, symbol string) {
	if m == nil || m.eventsEmitted == nil {
		return
	}
	attrs := telemetry.EventAttributes(m.environment, string(typ), m.provider, symbol)
	m.eventsEmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *adapterMetrics) recordFrameError(ctx context.Context, operation string, err error) {
	if m == nil || m.frameErrors == nil {
		return
	}
	code, ok := errs.CodeOf(err)
	if !ok {
		code = "unknown"
	}
	attrs := telemetry.ErrorAttributes(m.environment, string(code), operation)
	m.frameErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *adapterMetrics) recordExecutionReport(ctx context.Context, r schema.ExecutionReport, latencyMs float64) {
	if m == nil {
		return
	}
	attrs := telemetry.EventAttributes(m.environment, string(schema.EventTypeExecReport), m.provider, r.Symbol)
	attrs = append(attrs, telemetry.AttrResult.String(string(r.OrderStatus)))
	if m.execReports != nil {
		m.execReports.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.reportLatency != nil && latencyMs >= 0 {
		m.reportLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs[:2]...))
	}
}
