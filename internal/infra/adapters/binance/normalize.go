package binance

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/numeric"
)

func parseDecimal(record, field, value string) (decimal.Decimal, error) {
	d, ok := numeric.Parse(value)
	if !ok {
		return decimal.Zero, errs.Normalization(record, field, "not a decimal: "+value)
	}
	return d, nil
}

func optionalDecimal(record, field, value string) (*decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	d, err := parseDecimal(record, field, value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// decimals parses named values in order; args alternate field, value.
func decimals(record string, pairs ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		d, err := parseDecimal(record, pairs[i], pairs[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func balance(record, asset, free, locked string) (schema.Balance, error) {
	if strings.TrimSpace(asset) == "" {
		return schema.Balance{}, errs.Normalization(record, "asset", "empty asset")
	}
	v, err := decimals(record, "free", free, "locked", locked)
	if err != nil {
		return schema.Balance{}, err
	}
	return schema.Balance{Asset: asset, Free: v[0], Locked: v[1]}, nil
}

// BalanceFromRest normalizes a REST balance.
func BalanceFromRest(b RestBalance) (schema.Balance, error) {
	return balance("restBalance", b.Asset, b.Free, b.Locked)
}

// BalanceFromStream normalizes a stream balance.
func BalanceFromStream(b StreamBalance) (schema.Balance, error) {
	return balance("streamBalance", b.Asset, b.Free, b.Locked)
}

// AccountInfoFromRest normalizes a REST account snapshot.
func AccountInfoFromRest(a RestAccount) (schema.AccountInfo, error) {
	out := schema.AccountInfo{Balances: make([]schema.Balance, 0, len(a.Balances))}
	for _, b := range a.Balances {
		nb, err := BalanceFromRest(b)
		if err != nil {
			return schema.AccountInfo{}, err
		}
		out.Balances = append(out.Balances, nb)
	}
	return out, nil
}

// AccountInfoFromStream normalizes an account stream event.
func AccountInfoFromStream(a StreamAccount) (schema.AccountInfo, error) {
	out := schema.AccountInfo{Balances: make([]schema.Balance, 0, len(a.Balances))}
	for _, b := range a.Balances {
		nb, err := BalanceFromStream(b)
		if err != nil {
			return schema.AccountInfo{}, err
		}
		out.Balances = append(out.Balances, nb)
	}
	return out, nil
}

func side(record, value string) (schema.Side, error) {
	switch s := schema.Side(strings.ToUpper(strings.TrimSpace(value))); s {
	case schema.SideBuy, schema.SideSell:
		return s, nil
	default:
		return "", errs.Normalization(record, "side", "unknown side: "+value)
	}
}

func orderStatus(record, value string) (schema.OrderStatus, error) {
	switch s := schema.OrderStatus(strings.ToUpper(strings.TrimSpace(value))); s {
	case schema.OrderStatusNew, schema.OrderStatusPartiallyFilled, schema.OrderStatusFilled,
		schema.OrderStatusCanceled, schema.OrderStatusPendingCancel, schema.OrderStatusRejected,
		schema.OrderStatusExpired:
		return s, nil
	default:
		return "", errs.Normalization(record, "orderStatus", "unknown order status: "+value)
	}
}

// ExecutionReportFromStream normalizes an executionReport event.
func ExecutionReportFromStream(r StreamExecutionReport) (schema.ExecutionReport, error) {
	const record = "executionReport"
	s, err := side(record, r.Side)
	if err != nil {
		return schema.ExecutionReport{}, err
	}
	status, err := orderStatus(record, r.OrderStatus)
	if err != nil {
		return schema.ExecutionReport{}, err
	}
	v, err := decimals(record,
		"quantity", r.Quantity,
		"price", r.Price,
		"lastExecutedQuantity", r.LastExecutedQuantity,
		"cumulativeFilledQuantity", r.CumulativeFilledQuantity,
		"lastExecutedPrice", r.LastExecutedPrice,
	)
	if err != nil {
		return schema.ExecutionReport{}, err
	}
	commission := decimal.Zero
	if strings.TrimSpace(r.CommissionAmount) != "" {
		if commission, err = parseDecimal(record, "commissionAmount", r.CommissionAmount); err != nil {
			return schema.ExecutionReport{}, err
		}
	}
	var orderID int64
	if r.OrderID != nil {
		orderID = *r.OrderID
	}
	var commissionAsset string
	if r.CommissionAsset != nil {
		commissionAsset = *r.CommissionAsset
	}
	return schema.ExecutionReport{
		EventTime:                r.EventTime.Time(),
		Symbol:                   strings.ToUpper(r.Symbol),
		ClientOrderID:            r.ClientOrderID,
		OriginalClientOrderID:    r.OriginalClientOrderID,
		Side:                     s,
		OrderType:                schema.OrderType(strings.ToUpper(r.OrderType)),
		TimeInForce:              r.TimeInForce,
		Quantity:                 v[0],
		Price:                    v[1],
		ExecutionType:            r.ExecutionType,
		OrderStatus:              status,
		RejectReason:             r.RejectReason,
		OrderID:                  orderID,
		LastExecutedQuantity:     v[2],
		CumulativeFilledQuantity: v[3],
		LastExecutedPrice:        v[4],
		CommissionAmount:         commission,
		CommissionAsset:          commissionAsset,
		TransactionTime:          r.TransactionTime.Time(),
		TradeID:                  r.TradeID,
	}, nil
}

// SymbolInfoFromRest normalizes an exchangeInfo symbol. Constraints whose filter is absent stay nil.
func SymbolInfoFromRest(s RestSymbol) (schema.SymbolInfo, error) {
	const record = "symbol"
	out := schema.SymbolInfo{
		Symbol:             s.Symbol,
		Status:             s.Status,
		BaseAsset:          s.BaseAsset,
		QuoteAsset:         s.QuoteAsset,
		BaseAssetPrecision: s.BaseAssetPrecision,
		QuotePrecision:     s.QuotePrecision,
	}
	var err error
	for _, filter := range s.Filters {
		switch f := filter.(type) {
		case PriceFilter:
			if out.TickSize, err = optionalDecimal(record, "tickSize", f.TickSize); err != nil {
				return schema.SymbolInfo{}, err
			}
		case LotSizeFilter:
			if out.MinQuantity, err = optionalDecimal(record, "minQty", f.MinQty); err != nil {
				return schema.SymbolInfo{}, err
			}
			if out.StepSize, err = optionalDecimal(record, "stepSize", f.StepSize); err != nil {
				return schema.SymbolInfo{}, err
			}
		case MinNotionalFilter:
			if out.MinNotional == nil {
				if out.MinNotional, err = optionalDecimal(record, "minNotional", f.MinNotional); err != nil {
					return schema.SymbolInfo{}, err
				}
			}
		case NotionalFilter:
			if out.MinNotional == nil {
				if out.MinNotional, err = optionalDecimal(record, "minNotional", f.MinNotional); err != nil {
					return schema.SymbolInfo{}, err
				}
			}
		}
	}
	return out, nil
}

// ExchangeInfoFromRest normalizes the symbol catalogue.
func ExchangeInfoFromRest(e RestExchangeInfo) (schema.ExchangeInfo, error) {
	out := schema.ExchangeInfo{
		Timezone:   e.Timezone,
		ServerTime: int64(e.ServerTime),
		Symbols:    make([]schema.SymbolInfo, 0, len(e.Symbols)),
	}
	for _, s := range e.Symbols {
		info, err := SymbolInfoFromRest(s)
		if err != nil {
			return schema.ExchangeInfo{}, err
		}
		out.Symbols = append(out.Symbols, info)
	}
	return out, nil
}

// PriceTickerFromRest normalizes a REST price ticker.
func PriceTickerFromRest(t RestPriceTicker) (schema.PriceTicker, error) {
	price, err := parseDecimal("restPriceTicker", "price", t.Price)
	if err != nil {
		return schema.PriceTicker{}, err
	}
	return schema.PriceTicker{Symbol: t.Symbol, Price: price}, nil
}

// PriceTickerFromStream normalizes a ticker stream payload.
func PriceTickerFromStream(t StreamTicker) (schema.PriceTicker, error) {
	price, err := parseDecimal("streamTicker", "c", t.LastPrice)
	if err != nil {
		return schema.PriceTicker{}, err
	}
	return schema.PriceTicker{Symbol: t.Symbol, Price: price}, nil
}

func bookTicker(record, symbol, bidPrice, bidQty, askPrice, askQty string) (schema.BookTicker, error) {
	v, err := decimals(record, "bidPrice", bidPrice, "bidQty", bidQty, "askPrice", askPrice, "askQty", askQty)
	if err != nil {
		return schema.BookTicker{}, err
	}
	return schema.BookTicker{Symbol: symbol, BidPrice: v[0], BidQty: v[1], AskPrice: v[2], AskQty: v[3]}, nil
}

// BookTickerFromRest normalizes a REST book ticker.
func BookTickerFromRest(t RestBookTicker) (schema.BookTicker, error) {
	return bookTicker("restBookTicker", t.Symbol, t.BidPrice, t.BidQty, t.AskPrice, t.AskQty)
}

// BookTickerFromStream normalizes a bookTicker stream payload.
func BookTickerFromStream(t StreamBookTicker) (schema.BookTicker, error) {
	out, err := bookTicker("streamBookTicker", t.Symbol, t.BidPrice, t.BidQty, t.AskPrice, t.AskQty)
	if err != nil {
		return schema.BookTicker{}, err
	}
	out.UpdateID = t.UpdateID
	return out, nil
}

func levels(record, field string, raw [][]string) ([]schema.PriceLevel, error) {
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) != 2 {
			return nil, errs.Normalization(record, field, "level is not a [price, quantity] pair")
		}
		v, err := decimals(record, field+".price", level[0], field+".quantity", level[1])
		if err != nil {
			return nil, err
		}
		out = append(out, schema.PriceLevel{Price: v[0], Quantity: v[1]})
	}
	return out, nil
}

// DepthFromWire normalizes a REST snapshot or depth stream payload. symbol fills in for payloads that omit it.
func DepthFromWire(symbol string, d WireDepth) (schema.Depth, error) {
	const record = "depth"
	out := schema.Depth{Symbol: symbol}
	if d.Symbol != "" {
		out.Symbol = d.Symbol
	}
	bids, asks := d.Bids, d.Asks
	switch {
	case d.LastUpdateID != nil:
		out.LastUpdateID = *d.LastUpdateID
	case d.FinalUpdateID != nil:
		out.LastUpdateID = *d.FinalUpdateID
		bids, asks = d.BidUpdates, d.AskUpdates
	default:
		return schema.Depth{}, errs.Normalization(record, "lastUpdateId", "missing update id")
	}
	var err error
	if out.Bids, err = levels(record, "bids", bids); err != nil {
		return schema.Depth{}, err
	}
	if out.Asks, err = levels(record, "asks", asks); err != nil {
		return schema.Depth{}, err
	}
	return out, nil
}

// AggTradeFromStream normalizes an aggTrade stream payload.
func AggTradeFromStream(t StreamAggTrade) (schema.AggTrade, error) {
	v, err := decimals("aggTrade", "p", t.Price, "q", t.Quantity)
	if err != nil {
		return schema.AggTrade{}, err
	}
	return schema.AggTrade{
		Symbol:       t.Symbol,
		AggTradeID:   t.AggTradeID,
		Price:        v[0],
		Quantity:     v[1],
		TradeTime:    t.TradeTime.Time(),
		BuyerIsMaker: t.BuyerIsMaker,
	}, nil
}

// CancelOrderFromRest normalizes a cancel response.
func CancelOrderFromRest(c RestCancelOrder) (schema.CancelOrderResponse, error) {
	if c.OrderID == nil {
		return schema.CancelOrderResponse{}, errs.Normalization("cancelOrder", "orderId", "missing order id")
	}
	return schema.CancelOrderResponse{
		Symbol:            c.Symbol,
		OrigClientOrderID: c.OrigClientOrderID,
		OrderID:           *c.OrderID,
		ClientOrderID:     c.ClientOrderID,
	}, nil
}

// BuyOrderFromRest normalizes a buy response.
func BuyOrderFromRest(b RestBuyOrder) (schema.BuyOrderResponse, error) {
	if strings.TrimSpace(b.TradeID) == "" {
		return schema.BuyOrderResponse{}, errs.Normalization("buyOrder", "trade_id", "empty trade id")
	}
	return schema.BuyOrderResponse{TradeID: b.TradeID}, nil
}
