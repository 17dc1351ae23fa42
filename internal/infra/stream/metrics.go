package stream

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradestream/internal/infra/telemetry"
)

type connMetrics struct {
	attrs        []attribute.KeyValue
	reconnects   metric.Int64Counter
	messages     metric.Int64Counter
	messageBytes metric.Int64Histogram
	decodeErrors metric.Int64Counter
}

func newConnMetrics(name string) *connMetrics {
	meter := otel.Meter("stream.conn")
	m := &connMetrics{attrs: telemetry.StreamAttributes(telemetry.Environment(), name, "")}
	m.reconnects, _ = meter.Int64Counter("tradestream_stream_dials",
		metric.WithDescription("Dial attempts per stream connection"),
		metric.WithUnit("{dial}"))
	m.messages, _ = meter.Int64Counter("tradestream_stream_messages",
		metric.WithDescription("Frames delivered per stream connection"),
		metric.WithUnit("{message}"))
	m.messageBytes, _ = meter.Int64Histogram("tradestream_stream_message_size",
		metric.WithDescription("Frame payload size"),
		metric.WithUnit("By"))
	m.decodeErrors, _ = meter.Int64Counter("tradestream_stream_decode_errors",
		metric.WithDescription("Frames dropped because they were not valid JSON"),
		metric.WithUnit("{frame}"))
	return m
}

func (m *connMetrics) recordReconnect(ctx context.Context, result string) {
	if m == nil || m.reconnects == nil {
		return
	}
	attrs := append([]attribute.KeyValue{telemetry.AttrResult.String(result)}, m.attrs...)
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *connMetrics) recordMessage(ctx context.Context, size int) {
	if m == nil {
		return
	}
	if m.messages != nil {
		m.messages.Add(ctx, 1, metric.WithAttributes(m.attrs...))
	}
	if m.messageBytes != nil {
		m.messageBytes.Record(ctx, int64(size), metric.WithAttributes(m.attrs...))
	}
}

func (m *connMetrics) recordDecodeError(ctx context.Context) {
	if m == nil || m.decodeErrors == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1, metric.WithAttributes(m.attrs...))
}
