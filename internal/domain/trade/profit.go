package trade

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RecomputeProfit derives ProfitPercent and ProfitAmount from BuyPrice, BuyQuantity and LastPrice.
// It is the only writer of the profit fields and is idempotent.
func RecomputeProfit(t Trade) Trade {
	if t.BuyPrice.IsZero() {
		t.ProfitPercent = decimal.Zero
		t.ProfitAmount = decimal.Zero
		return t
	}
	diff := t.LastPrice.Sub(t.BuyPrice)
	t.ProfitPercent = diff.Div(t.BuyPrice).Mul(hundred)
	t.ProfitAmount = diff.Mul(t.BuyQuantity)
	return t
}

// ApplyPrice records a live price for the trade and recomputes profit. Terminal and archived trades
// are returned unchanged with false.
func ApplyPrice(t Trade, price decimal.Decimal) (Trade, bool) {
	if t.Status.IsTerminal() || t.Archived {
		return t, false
	}
	t.LastPrice = price
	return RecomputeProfit(t), true
}

// ProfitPercentFloat returns the profit percentage as a float64 for display and comparisons.
func (t Trade) ProfitPercentFloat() float64 {
	f, _ := t.ProfitPercent.Float64()
	return f
}
