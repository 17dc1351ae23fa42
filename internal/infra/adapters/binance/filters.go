package binance

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Filter tags as published in exchangeInfo.
const (
	FilterPriceFilter = "PRICE_FILTER"
	FilterLotSize     = "LOT_SIZE"
	FilterMinNotional = "MIN_NOTIONAL"
	FilterNotional    = "NOTIONAL"
)

// SymbolFilter is one trading rule of a symbol, discriminated by its filterType tag.
type SymbolFilter interface {
	FilterType() string
}

// PriceFilter bounds and quantizes order prices.
type PriceFilter struct {
	MinPrice string `json:"minPrice"`
	MaxPrice string `json:"maxPrice"`
	TickSize string `json:"tickSize"`
}

// LotSizeFilter bounds and quantizes order quantities.
type LotSizeFilter struct {
	MinQty   string `json:"minQty"`
	MaxQty   string `json:"maxQty"`
	StepSize string `json:"stepSize"`
}

// MinNotionalFilter is the legacy minimum order value rule.
type MinNotionalFilter struct {
	MinNotional   string `json:"minNotional"`
	ApplyToMarket bool   `json:"applyToMarket"`
}

// NotionalFilter bounds order value.
type NotionalFilter struct {
	MinNotional string `json:"minNotional"`
	MaxNotional string `json:"maxNotional"`
}

// OpaqueFilter keeps a filter whose tag has no typed variant.
type OpaqueFilter struct {
	Type string
	Raw  json.RawMessage
}

func (PriceFilter) FilterType() string       { return FilterPriceFilter }
func (LotSizeFilter) FilterType() string     { return FilterLotSize }
func (MinNotionalFilter) FilterType() string { return FilterMinNotional }
func (NotionalFilter) FilterType() string    { return FilterNotional }
func (f OpaqueFilter) FilterType() string    { return f.Type }

var filterDecoders = map[string]func(json.RawMessage) (SymbolFilter, error){
	FilterPriceFilter: decodeFilterVariant[PriceFilter],
	FilterLotSize:     decodeFilterVariant[LotSizeFilter],
	FilterMinNotional: decodeFilterVariant[MinNotionalFilter],
	FilterNotional:    decodeFilterVariant[NotionalFilter],
}

func decodeFilterVariant[T SymbolFilter](raw json.RawMessage) (SymbolFilter, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filters decodes a heterogeneous filter list by tag.
type Filters []SymbolFilter

func (f *Filters) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Filters, 0, len(raws))
	for _, raw := range raws {
		var tag struct {
			FilterType string `json:"filterType"`
		}
		if err := json.Unmarshal(raw, &tag); err != nil {
			return err
		}
		decode, ok := filterDecoders[tag.FilterType]
		if !ok {
			out = append(out, OpaqueFilter{Type: tag.FilterType, Raw: append(json.RawMessage(nil), raw...)})
			continue
		}
		filter, err := decode(raw)
		if err != nil {
			return fmt.Errorf("filter %s: %w", tag.FilterType, err)
		}
		out = append(out, filter)
	}
	*f = out
	return nil
}

// Find returns the first filter with the given tag.
func (f Filters) Find(tag string) (SymbolFilter, bool) {
	for _, filter := range f {
		if filter.FilterType() == tag {
			return filter, true
		}
	}
	return nil, false
}
