package schema

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSubscriptionKey(t *testing.T) {
	require.Equal(t, "btcusdt@aggTrade", Subscription{Symbol: "BTCUSDT", Type: StreamAggTrade}.Key())
	require.Equal(t, "ethusdt@depth5@100ms", Subscription{Symbol: "ethusdt", Type: StreamDepth, Suffix: "5@100ms"}.Key())
}

func TestSubscriptionValidate(t *testing.T) {
	require.NoError(t, Subscription{Symbol: "BTCUSDT", Type: StreamTicker}.Validate())
	require.Error(t, Subscription{Symbol: " ", Type: StreamTicker}.Validate())
	require.Error(t, Subscription{Symbol: "BTCUSDT", Type: "kline_1m"}.Validate())
	require.Error(t, Subscription{Type: StreamAggTrade}.Validate())

	user := Subscription{Type: StreamUserStream}
	require.NoError(t, user.Validate())
	require.False(t, user.IsMarket())
	require.True(t, Subscription{Symbol: "BTCUSDT", Type: StreamDepth}.IsMarket())
}

func TestBalanceEqualIgnoresTrailingZeros(t *testing.T) {
	a := Balance{Asset: "BTC", Free: dec("1.50000000"), Locked: dec("0")}
	b := Balance{Asset: "BTC", Free: dec("1.5"), Locked: dec("0.00")}
	require.True(t, a.Equal(b))
	require.Equal(t, "1.5", a.Total().String())
}

func TestAccountInfoLookup(t *testing.T) {
	info := AccountInfo{Balances: []Balance{{Asset: "BTC", Free: dec("1")}, {Asset: "USDT", Free: dec("10")}}}
	b, ok := info.Balance("USDT")
	require.True(t, ok)
	require.Equal(t, "10", b.Free.String())
	_, ok = info.Balance("ETH")
	require.False(t, ok)
	require.False(t, info.Equal(AccountInfo{}))
}

func TestSymbolInfoRounding(t *testing.T) {
	tick := dec("0.01000000")
	step := dec("0.00010000")
	info := SymbolInfo{Symbol: "BTCUSDT", TickSize: &tick, StepSize: &step, BaseAssetPrecision: 8, QuotePrecision: 8}

	require.Equal(t, 2, info.PriceScale())
	require.Equal(t, 4, info.QuantityScale())
	require.Equal(t, "20000.12", info.RoundPrice(dec("20000.129")).String())
	require.Equal(t, "0.1234", info.RoundQuantity(dec("0.12349")).String())

	bare := SymbolInfo{QuotePrecision: 8, BaseAssetPrecision: 6}
	require.Equal(t, 8, bare.PriceScale())
	require.Equal(t, 6, bare.QuantityScale())
	require.Equal(t, "1.23456789", bare.RoundPrice(dec("1.23456789")).String())
}

func TestDepthBestLevels(t *testing.T) {
	d := Depth{Bids: []PriceLevel{{Price: dec("10"), Quantity: dec("1")}}}
	bid, ok := d.BestBid()
	require.True(t, ok)
	require.Equal(t, "10", bid.Price.String())
	_, ok = d.BestAsk()
	require.False(t, ok)
}

func TestBuildEventKey(t *testing.T) {
	require.Equal(t, "BTCUSDT:Ticker:7", BuildEventKey(" BTCUSDT ", EventTypeTicker, 7))
}
