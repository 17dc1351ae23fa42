package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by all instruments.
const (
	AttrEnvironment     = attribute.Key("environment")
	AttrProvider        = attribute.Key("provider")
	AttrEventType       = attribute.Key("event.type")
	AttrSymbol          = attribute.Key("symbol")
	AttrStream          = attribute.Key("stream")
	AttrResult          = attribute.Key("result")
	AttrErrorType       = attribute.Key("error.type")
	AttrConnectionState = attribute.Key("connection.state")
	// AttrTradeStatus labels trade lifecycle transitions with the status reached.
	AttrTradeStatus = attribute.Key("trade.status")
	AttrOperation   = attribute.Key("operation")
)

// EventAttributes returns common attributes for event metrics.
func EventAttributes(environment, eventType, provider, symbol string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventType.String(eventType),
	}
	if provider != "" {
		attrs = append(attrs, AttrProvider.String(provider))
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	return attrs
}

// StreamAttributes returns attributes for connection lifecycle metrics.
func StreamAttributes(environment, stream, state string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrStream.String(stream),
	}
	if state != "" {
		attrs = append(attrs, AttrConnectionState.String(state))
	}
	return attrs
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrOperation.String(operation),
	}
}
