package schema

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradestream/internal/numeric"
)

// SymbolInfo describes a tradable symbol. Constraint fields are nil when the venue publishes no such filter.
type SymbolInfo struct {
	Symbol             string           `json:"symbol"`
	Status             string           `json:"status"`
	BaseAsset          string           `json:"baseAsset"`
	QuoteAsset         string           `json:"quoteAsset"`
	BaseAssetPrecision int              `json:"baseAssetPrecision"`
	QuotePrecision     int              `json:"quotePrecision"`
	MinNotional        *decimal.Decimal `json:"minNotional"`
	MinQuantity        *decimal.Decimal `json:"minQty"`
	StepSize           *decimal.Decimal `json:"stepSize"`
	TickSize           *decimal.Decimal `json:"tickSize"`
}

// PriceScale returns the number of fractional digits implied by the tick size.
func (s SymbolInfo) PriceScale() int {
	if s.TickSize == nil {
		return s.QuotePrecision
	}
	return numeric.ScaleFromStep(s.TickSize.String())
}

// QuantityScale returns the number of fractional digits implied by the lot step size.
func (s SymbolInfo) QuantityScale() int {
	if s.StepSize == nil {
		return s.BaseAssetPrecision
	}
	return numeric.ScaleFromStep(s.StepSize.String())
}

// RoundQuantity floors qty to the lot step size when one is known.
func (s SymbolInfo) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	if s.StepSize == nil {
		return qty
	}
	return numeric.FloorToStep(qty, *s.StepSize)
}

// RoundPrice floors price to the tick size when one is known.
func (s SymbolInfo) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if s.TickSize == nil {
		return price
	}
	return numeric.FloorToStep(price, *s.TickSize)
}

// ExchangeInfo is the venue's symbol catalogue.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// Symbol looks up a symbol by name.
func (e ExchangeInfo) Symbol(name string) (SymbolInfo, bool) {
	for _, s := range e.Symbols {
		if s.Symbol == name {
			return s, true
		}
	}
	return SymbolInfo{}, false
}
