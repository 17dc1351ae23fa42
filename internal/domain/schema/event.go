// Package schema defines the canonical domain model shared by the stream adapters and the trade engine.
package schema

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// EventType enumerates canonical event categories published on the bus.
type EventType string

const (
	// EventTypeAggTrade identifies aggregated trade prints.
	EventTypeAggTrade EventType = "AggTrade"
	// EventTypeTicker identifies last-price ticker updates.
	EventTypeTicker EventType = "Ticker"
	// EventTypeBookTicker identifies best bid/ask updates.
	EventTypeBookTicker EventType = "BookTicker"
	// EventTypeDepth identifies partial book depth updates.
	EventTypeDepth EventType = "Depth"
	// EventTypeExecReport identifies order execution reports.
	EventTypeExecReport EventType = "ExecReport"
	// EventTypeAccountInfo identifies account balance snapshots.
	EventTypeAccountInfo EventType = "AccountInfo"
	// EventTypeRaw identifies payloads for stream types without a domain mapping.
	EventTypeRaw EventType = "Raw"
	// EventTypeTradeUpdate identifies trade lifecycle snapshots emitted by the engine.
	EventTypeTradeUpdate EventType = "TradeUpdate"
)

// Event is the envelope carried by the event bus.
type Event struct {
	EventID  string    `json:"event_id"`
	Provider string    `json:"provider"`
	Stream   string    `json:"stream,omitempty"`
	Symbol   string    `json:"symbol"`
	Type     EventType `json:"type"`
	Seq      uint64    `json:"seq"`
	IngestTS time.Time `json:"ingest_ts"`
	Payload  any       `json:"payload"`
}

// RawPayload carries a stream payload whose type has no domain mapping.
type RawPayload struct {
	StreamType string          `json:"stream_type"`
	Data       json.RawMessage `json:"data"`
}

// BuildEventKey constructs the default idempotency key for an event.
func BuildEventKey(symbol string, typ EventType, seq uint64) string {
	return fmt.Sprintf("%s:%s:%d", strings.TrimSpace(symbol), typ, seq)
}
