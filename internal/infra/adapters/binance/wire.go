package binance

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradestream/errs"
)

// Shape names one wire record layout.
type Shape string

const (
	ShapeRestAccount           Shape = "restAccount"
	ShapeStreamAccount         Shape = "streamAccount"
	ShapeRestBalance           Shape = "restBalance"
	ShapeStreamBalance         Shape = "streamBalance"
	ShapeStreamExecutionReport Shape = "streamExecutionReport"
	ShapeRestExchangeInfo      Shape = "restExchangeInfo"
	ShapeRestSymbol            Shape = "restSymbol"
	ShapeRestPriceTicker       Shape = "restPriceTicker"
	ShapeStreamTicker          Shape = "streamTicker"
	ShapeRestBookTicker        Shape = "restBookTicker"
	ShapeStreamBookTicker      Shape = "streamBookTicker"
	ShapeDepth                 Shape = "depth"
	ShapeStreamAggTrade        Shape = "streamAggTrade"
	ShapeRestCancelOrder       Shape = "restCancelOrder"
	ShapeRestBuyOrder          Shape = "restBuyOrder"
	ShapeUserEvent             Shape = "userEvent"
	ShapeStreamEnvelope        Shape = "streamEnvelope"
)

// binanceTimestamp accepts millisecond timestamps encoded as numbers or quoted numbers.
type binanceTimestamp int64

func (ts *binanceTimestamp) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*ts = 0
		return nil
	}
	if trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		trimmed = bytes.TrimSpace(trimmed[1 : len(trimmed)-1])
		if len(trimmed) == 0 {
			*ts = 0
			return nil
		}
	}
	if parsed, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		*ts = binanceTimestamp(parsed)
		return nil
	}
	if parsed, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		*ts = binanceTimestamp(int64(parsed))
		return nil
	}
	return fmt.Errorf("binance: invalid timestamp %q", string(data))
}

// Time converts the millisecond timestamp; zero stays the zero time.
func (ts binanceTimestamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ts)).UTC()
}

// RestBalance is a balance as returned by /api/v3/account.
type RestBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// StreamBalance is a balance inside an account stream event.
type StreamBalance struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

// RestAccount is the /api/v3/account response.
type RestAccount struct {
	UpdateTime binanceTimestamp `json:"updateTime"`
	CanTrade   bool             `json:"canTrade"`
	Balances   []RestBalance    `json:"balances"`
}

// StreamAccount is an outboundAccountInfo or outboundAccountPosition event.
type StreamAccount struct {
	EventType      string           `json:"e"`
	EventTime      binanceTimestamp `json:"E"`
	LastUpdateTime binanceTimestamp `json:"u"`
	Balances       []StreamBalance  `json:"B"`
}

// StreamExecutionReport is an executionReport event.
type StreamExecutionReport struct {
	EventType                string           `json:"e"`
	EventTime                binanceTimestamp `json:"E"`
	Symbol                   string           `json:"s"`
	ClientOrderID            string           `json:"c"`
	Side                     string           `json:"S"`
	OrderType                string           `json:"o"`
	TimeInForce              string           `json:"f"`
	Quantity                 string           `json:"q"`
	Price                    string           `json:"p"`
	StopPrice                string           `json:"P"`
	IcebergQuantity          string           `json:"F"`
	OriginalClientOrderID    string           `json:"C"`
	ExecutionType            string           `json:"x"`
	OrderStatus              string           `json:"X"`
	RejectReason             string           `json:"r"`
	OrderID                  *int64           `json:"i"`
	LastExecutedQuantity     string           `json:"l"`
	CumulativeFilledQuantity string           `json:"z"`
	LastExecutedPrice        string           `json:"L"`
	CommissionAmount         string           `json:"n"`
	CommissionAsset          *string          `json:"N"`
	TransactionTime          binanceTimestamp `json:"T"`
	TradeID                  int64            `json:"t"`
	IsWorking                bool             `json:"w"`
	IsMaker                  bool             `json:"m"`
	OrderListID              int64            `json:"g"`
	OrderCreationTime        binanceTimestamp `json:"O"`
	CumulativeQuoteQuantity  string           `json:"Z"`
	LastQuoteQuantity        string           `json:"Y"`
	QuoteOrderQuantity       string           `json:"Q"`
	WorkingTime              binanceTimestamp `json:"W"`
	SelfTradePrevention      string           `json:"V"`
	Ignore                   int64            `json:"I"`
	IgnoreFlag               bool             `json:"M"`
}

// RestSymbol is one entry of the exchangeInfo symbol list.
type RestSymbol struct {
	Symbol             string  `json:"symbol"`
	Status             string  `json:"status"`
	BaseAsset          string  `json:"baseAsset"`
	BaseAssetPrecision int     `json:"baseAssetPrecision"`
	QuoteAsset         string  `json:"quoteAsset"`
	QuotePrecision     int     `json:"quotePrecision"`
	Filters            Filters `json:"filters"`
}

// RestExchangeInfo is the /api/v3/exchangeInfo response.
type RestExchangeInfo struct {
	Timezone   string           `json:"timezone"`
	ServerTime binanceTimestamp `json:"serverTime"`
	Symbols    []RestSymbol     `json:"symbols"`
}

// RestPriceTicker is the /api/v3/ticker/price response.
type RestPriceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// StreamTicker is a 24hr or mini ticker event; only the last price is consumed.
type StreamTicker struct {
	EventType string           `json:"e"`
	EventTime binanceTimestamp `json:"E"`
	Symbol    string           `json:"s"`
	LastPrice string           `json:"c"`
	CloseTime binanceTimestamp `json:"C"`
	OpenTime  binanceTimestamp `json:"O"`
}

// RestBookTicker is the /api/v3/ticker/bookTicker response.
type RestBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

// StreamBookTicker is a bookTicker stream payload.
type StreamBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// WireDepth covers the REST depth snapshot, the partial depth stream and the diff depth stream.
type WireDepth struct {
	LastUpdateID  *int64           `json:"lastUpdateId"`
	Bids          [][]string       `json:"bids"`
	Asks          [][]string       `json:"asks"`
	EventType     string           `json:"e"`
	EventTime     binanceTimestamp `json:"E"`
	Symbol        string           `json:"s"`
	FirstUpdateID int64            `json:"U"`
	FinalUpdateID *int64           `json:"u"`
	BidUpdates    [][]string       `json:"b"`
	AskUpdates    [][]string       `json:"a"`
}

// StreamAggTrade is an aggTrade stream payload.
type StreamAggTrade struct {
	EventType    string           `json:"e"`
	EventTime    binanceTimestamp `json:"E"`
	Symbol       string           `json:"s"`
	AggTradeID   int64            `json:"a"`
	Price        string           `json:"p"`
	Quantity     string           `json:"q"`
	FirstTradeID int64            `json:"f"`
	LastTradeID  int64            `json:"l"`
	TradeTime    binanceTimestamp `json:"T"`
	BuyerIsMaker bool             `json:"m"`
	Ignore       bool             `json:"M"`
}

// RestCancelOrder is the DELETE /api/v3/order response.
type RestCancelOrder struct {
	Symbol            string `json:"symbol"`
	OrigClientOrderID string `json:"origClientOrderId"`
	OrderID           *int64 `json:"orderId"`
	ClientOrderID     string `json:"clientOrderId"`
}

// RestBuyOrder is the buy endpoint response of the trading backend.
type RestBuyOrder struct {
	TradeID string `json:"trade_id"`
}

// UserEvent carries only the discriminator of a user data stream payload.
type UserEvent struct {
	EventType string           `json:"e"`
	EventTime binanceTimestamp `json:"E"`
}

// StreamEnvelope is the combined stream wrapper.
type StreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses raw into the wire record for shape and checks its required fields.
func Decode(shape Shape, raw []byte) (any, error) {
	switch shape {
	case ShapeRestAccount:
		return decodeInto[RestAccount](shape, raw)
	case ShapeStreamAccount:
		return decodeInto[StreamAccount](shape, raw)
	case ShapeRestBalance:
		return decodeInto[RestBalance](shape, raw)
	case ShapeStreamBalance:
		return decodeInto[StreamBalance](shape, raw)
	case ShapeStreamExecutionReport:
		return decodeInto[StreamExecutionReport](shape, raw)
	case ShapeRestExchangeInfo:
		return decodeInto[RestExchangeInfo](shape, raw)
	case ShapeRestSymbol:
		return decodeInto[RestSymbol](shape, raw)
	case ShapeRestPriceTicker:
		return decodeInto[RestPriceTicker](shape, raw)
	case ShapeStreamTicker:
		return decodeInto[StreamTicker](shape, raw)
	case ShapeRestBookTicker:
		return decodeInto[RestBookTicker](shape, raw)
	case ShapeStreamBookTicker:
		return decodeInto[StreamBookTicker](shape, raw)
	case ShapeDepth:
		return decodeInto[WireDepth](shape, raw)
	case ShapeStreamAggTrade:
		return decodeInto[StreamAggTrade](shape, raw)
	case ShapeRestCancelOrder:
		return decodeInto[RestCancelOrder](shape, raw)
	case ShapeRestBuyOrder:
		return decodeInto[RestBuyOrder](shape, raw)
	case ShapeUserEvent:
		return decodeInto[UserEvent](shape, raw)
	case ShapeStreamEnvelope:
		return decodeInto[StreamEnvelope](shape, raw)
	default:
		return nil, errs.Decode(string(shape), "unknown shape", nil)
	}
}

type validator interface {
	validate() []string
}

// decodeInto unmarshals raw and reports the first missing required field as a decode error.
func decodeInto[T any](shape Shape, raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errs.Decode(string(shape), "malformed payload", err)
	}
	if v, ok := any(&out).(validator); ok {
		if missing := v.validate(); len(missing) > 0 {
			return out, errs.Decode(string(shape), "missing required field "+strings.Join(missing, ","), nil)
		}
	}
	return out, nil
}

// required returns the names whose values are empty; args alternate name, value.
func required(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	return missing
}

func (b *RestBalance) validate() []string {
	return required("asset", b.Asset, "free", b.Free, "locked", b.Locked)
}

func (b *StreamBalance) validate() []string {
	return required("a", b.Asset, "f", b.Free, "l", b.Locked)
}

func (a *RestAccount) validate() []string {
	if a.Balances == nil {
		return []string{"balances"}
	}
	for i := range a.Balances {
		if missing := a.Balances[i].validate(); len(missing) > 0 {
			return prefixed(fmt.Sprintf("balances[%d].", i), missing)
		}
	}
	return nil
}

func (a *StreamAccount) validate() []string {
	if a.Balances == nil {
		return []string{"B"}
	}
	for i := range a.Balances {
		if missing := a.Balances[i].validate(); len(missing) > 0 {
			return prefixed(fmt.Sprintf("B[%d].", i), missing)
		}
	}
	return nil
}

func (r *StreamExecutionReport) validate() []string {
	missing := required(
		"s", r.Symbol,
		"c", r.ClientOrderID,
		"S", r.Side,
		"o", r.OrderType,
		"q", r.Quantity,
		"p", r.Price,
		"x", r.ExecutionType,
		"X", r.OrderStatus,
		"l", r.LastExecutedQuantity,
		"z", r.CumulativeFilledQuantity,
		"L", r.LastExecutedPrice,
	)
	if r.OrderID == nil {
		missing = append(missing, "i")
	}
	return missing
}

func (s *RestSymbol) validate() []string {
	return required("symbol", s.Symbol, "baseAsset", s.BaseAsset, "quoteAsset", s.QuoteAsset)
}

func (e *RestExchangeInfo) validate() []string {
	if e.Symbols == nil {
		return []string{"symbols"}
	}
	for i := range e.Symbols {
		if missing := e.Symbols[i].validate(); len(missing) > 0 {
			return prefixed(fmt.Sprintf("symbols[%d].", i), missing)
		}
	}
	return nil
}

func (t *RestPriceTicker) validate() []string {
	return required("symbol", t.Symbol, "price", t.Price)
}

func (t *StreamTicker) validate() []string {
	return required("s", t.Symbol, "c", t.LastPrice)
}

func (t *RestBookTicker) validate() []string {
	return required("symbol", t.Symbol, "bidPrice", t.BidPrice, "bidQty", t.BidQty, "askPrice", t.AskPrice, "askQty", t.AskQty)
}

func (t *StreamBookTicker) validate() []string {
	return required("s", t.Symbol, "b", t.BidPrice, "B", t.BidQty, "a", t.AskPrice, "A", t.AskQty)
}

func (d *WireDepth) validate() []string {
	if d.LastUpdateID == nil && d.FinalUpdateID == nil {
		return []string{"lastUpdateId"}
	}
	for _, side := range [][][]string{d.Bids, d.Asks, d.BidUpdates, d.AskUpdates} {
		for _, level := range side {
			if len(level) != 2 {
				return []string{"level"}
			}
		}
	}
	return nil
}

func (t *StreamAggTrade) validate() []string {
	return required("s", t.Symbol, "p", t.Price, "q", t.Quantity)
}

func (c *RestCancelOrder) validate() []string {
	missing := required("symbol", c.Symbol, "clientOrderId", c.ClientOrderID)
	if c.OrderID == nil {
		missing = append(missing, "orderId")
	}
	return missing
}

func (b *RestBuyOrder) validate() []string {
	return required("trade_id", b.TradeID)
}

func (e *UserEvent) validate() []string {
	return required("e", e.EventType)
}

func (e *StreamEnvelope) validate() []string {
	missing := required("stream", e.Stream)
	if len(e.Data) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		missing = append(missing, "data")
	}
	return missing
}

func prefixed(prefix string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return out
}
