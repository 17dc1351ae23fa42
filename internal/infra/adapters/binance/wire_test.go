package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradestream/errs"
)

const executionReportFixture = `{
  "e": "executionReport", "E": 1499405658658, "s": "BTCUSDT", "c": "buy-1",
  "S": "BUY", "o": "LIMIT", "f": "GTC", "q": "0.00100000", "p": "20000.00000000",
  "P": "0.00000000", "F": "0.00000000", "g": -1, "C": "", "x": "TRADE", "X": "FILLED",
  "r": "NONE", "i": 4293153, "l": "0.00100000", "z": "0.00100000", "L": "19999.99000000",
  "n": "0.00000100", "N": "BTC", "T": 1499405658657, "t": 42, "w": false, "m": false
}`

func TestDecodeExecutionReport(t *testing.T) {
	out, err := Decode(ShapeStreamExecutionReport, []byte(executionReportFixture))
	require.NoError(t, err)
	r := out.(StreamExecutionReport)
	require.Equal(t, "BTCUSDT", r.Symbol)
	require.Equal(t, "buy-1", r.ClientOrderID)
	require.EqualValues(t, 4293153, *r.OrderID)
	require.Equal(t, "19999.99000000", r.LastExecutedPrice)
	require.Equal(t, time.UnixMilli(1499405658658).UTC(), r.EventTime.Time())
}

func TestDecodeReportsMissingRequiredField(t *testing.T) {
	_, err := Decode(ShapeStreamTicker, []byte(`{"e":"24hrTicker","s":"BTCUSDT"}`))
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeDecode))
	require.Contains(t, err.Error(), "missing required field c")

	_, err = Decode(ShapeStreamExecutionReport, []byte(`{"e":"executionReport","s":"BTCUSDT"}`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))

	_, err = Decode(ShapeRestAccount, []byte(`{"balances":[{"asset":"BTC","free":"1"}]}`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))
	require.Contains(t, err.Error(), "balances[0].locked")
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode(ShapeRestPriceTicker, []byte(`{"symbol":`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))

	_, err = Decode(Shape("nope"), []byte(`{}`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))
}

func TestTimestampAcceptsQuotedNumbers(t *testing.T) {
	out, err := Decode(ShapeUserEvent, []byte(`{"e":"executionReport","E":"1700000000000"}`))
	require.NoError(t, err)
	require.EqualValues(t, 1700000000000, out.(UserEvent).EventTime)

	out, err = Decode(ShapeUserEvent, []byte(`{"e":"x","E":null}`))
	require.NoError(t, err)
	require.True(t, out.(UserEvent).EventTime.Time().IsZero())
}

func TestDecodeDepthRejectsBrokenLevels(t *testing.T) {
	_, err := Decode(ShapeDepth, []byte(`{"lastUpdateId":1,"bids":[["1.0"]],"asks":[]}`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))

	_, err = Decode(ShapeDepth, []byte(`{"bids":[],"asks":[]}`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))
}

func TestDecodeFiltersByTag(t *testing.T) {
	raw := `{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","baseAssetPrecision":8,
	  "quoteAsset":"BTC","quotePrecision":8,"filters":[
	    {"filterType":"PRICE_FILTER","minPrice":"0.00000100","maxPrice":"100000.00000000","tickSize":"0.00000100"},
	    {"filterType":"LOT_SIZE","minQty":"0.00100000","maxQty":"100000.00000000","stepSize":"0.00100000"},
	    {"filterType":"ICEBERG_PARTS","limit":10},
	    {"filterType":"NOTIONAL","minNotional":"0.00010000","maxNotional":"9000000.00000000"}
	  ]}`
	out, err := Decode(ShapeRestSymbol, []byte(raw))
	require.NoError(t, err)
	sym := out.(RestSymbol)
	require.Len(t, sym.Filters, 4)

	price, ok := sym.Filters.Find(FilterPriceFilter)
	require.True(t, ok)
	require.Equal(t, "0.00000100", price.(PriceFilter).TickSize)

	opaque, ok := sym.Filters.Find("ICEBERG_PARTS")
	require.True(t, ok)
	require.IsType(t, OpaqueFilter{}, opaque)

	_, ok = sym.Filters.Find(FilterMinNotional)
	require.False(t, ok)
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := Decode(ShapeStreamEnvelope, []byte(`{"stream":"btcusdt@ticker"}`))
	require.True(t, errs.IsCode(err, errs.CodeDecode))

	out, err := Decode(ShapeStreamEnvelope, []byte(`{"stream":"btcusdt@ticker","data":{"c":"1"}}`))
	require.NoError(t, err)
	require.Equal(t, "btcusdt@ticker", out.(StreamEnvelope).Stream)
}
