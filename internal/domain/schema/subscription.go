package schema

import (
	"strings"

	"github.com/coachpo/tradestream/errs"
)

// StreamType names a market data stream kind.
type StreamType string

const (
	StreamTicker     StreamType = "ticker"
	StreamBookTicker StreamType = "bookTicker"
	StreamAggTrade   StreamType = "aggTrade"
	StreamDepth      StreamType = "depth"
	// StreamUserStream is the account-wide user data stream. It carries no symbol and is served on
	// its own connection, never on the combined market stream.
	StreamUserStream StreamType = "userStream"
)

// Subscription identifies one market data stream for one symbol.
// Suffix carries stream options such as "5@100ms" for depth.
type Subscription struct {
	Symbol string
	Type   StreamType
	Suffix string
}

// Key renders the stream name in venue form, e.g. "btcusdt@depth5@100ms".
func (s Subscription) Key() string {
	return strings.ToLower(strings.TrimSpace(s.Symbol)) + "@" + string(s.Type) + s.Suffix
}

// Validate checks the subscription carries a known type and, for market streams, a symbol.
func (s Subscription) Validate() error {
	switch s.Type {
	case StreamUserStream:
		return nil
	case StreamTicker, StreamBookTicker, StreamAggTrade, StreamDepth:
	default:
		return errs.New("schema/subscription", errs.CodeInvalid,
			errs.WithMessage("unsupported stream type"), errs.WithField("type", string(s.Type)))
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return errs.New("schema/subscription", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	return nil
}

// IsMarket reports whether the subscription belongs on the combined market data connection.
func (s Subscription) IsMarket() bool {
	return s.Type != StreamUserStream
}
