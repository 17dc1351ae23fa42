package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTicker carries the last traded price of a symbol.
type PriceTicker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// BookTicker carries the best bid and ask of a symbol.
type BookTicker struct {
	Symbol   string          `json:"symbol"`
	UpdateID int64           `json:"updateId,omitempty"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	BidQty   decimal.Decimal `json:"bidQty"`
	AskPrice decimal.Decimal `json:"askPrice"`
	AskQty   decimal.Decimal `json:"askQty"`
}

// PriceLevel is one side entry of a depth book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth is a partial order book.
type Depth struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BestBid returns the first bid level, if any.
func (d Depth) BestBid() (PriceLevel, bool) {
	if len(d.Bids) == 0 {
		return PriceLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the first ask level, if any.
func (d Depth) BestAsk() (PriceLevel, bool) {
	if len(d.Asks) == 0 {
		return PriceLevel{}, false
	}
	return d.Asks[0], true
}

// AggTrade is an aggregated trade print.
type AggTrade struct {
	Symbol       string          `json:"symbol"`
	AggTradeID   int64           `json:"aggTradeId"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TradeTime    time.Time       `json:"tradeTime"`
	BuyerIsMaker bool            `json:"buyerIsMaker"`
}
