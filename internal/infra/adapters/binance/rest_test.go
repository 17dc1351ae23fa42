package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradestream/errs"
)

func newTestREST(t *testing.T, handler http.HandlerFunc, apiKey, secret string) *RESTClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewRESTClient(Options{Config: Config{
		APIBaseURL:        server.URL,
		APIKey:            apiKey,
		APISecret:         secret,
		RequestsPerSecond: 1000,
	}}, server.Client())
	c.clock = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSignPayload(t *testing.T) {
	// Reference vector from the Binance API documentation.
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	require.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", signPayload(payload, secret))
}

func TestAccountInfoIsSigned(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/account" || r.Header.Get("X-MBX-APIKEY") != "key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		sig := q.Get("signature")
		q.Del("signature")
		if sig != signPayload(q.Encode(), "secret") || q.Get("timestamp") != "1700000000000" || q.Get("recvWindow") != "5000" {
			http.Error(w, `{"code":-1022,"msg":"Signature for this request is not valid."}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"updateTime":1,"balances":[{"asset":"BTC","free":"0.50000000","locked":"0.10000000"}]}`))
	}, "key", "secret")

	info, err := c.AccountInfo(context.Background())
	require.NoError(t, err)
	bal, ok := info.Balance("BTC")
	require.True(t, ok)
	require.Equal(t, "0.6", bal.Total().String())
}

func TestAccountInfoRequiresCredentials(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}, "", "")
	_, err := c.AccountInfo(context.Background())
	require.True(t, errs.IsCode(err, errs.CodeAuth))
}

func TestRESTErrorMapping(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "LIMITED":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}
	}, "", "")

	_, err := c.PriceTicker(context.Background(), "LIMITED")
	require.True(t, errs.IsCode(err, errs.CodeRateLimited))

	_, err = c.PriceTicker(context.Background(), "nope")
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, "-1121", e.RawCode)
	require.Equal(t, http.StatusBadRequest, e.HTTP)
}

func TestMarketQueries(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/price":
			_, _ = w.Write([]byte(`{"symbol":"` + r.URL.Query().Get("symbol") + `","price":"21000.00000000"}`))
		case "/api/v3/ticker/bookTicker":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"20999.99","bidQty":"1","askPrice":"21000.01","askQty":"2"}`))
		case "/api/v3/depth":
			if r.URL.Query().Get("limit") != "100" {
				http.Error(w, "limit", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`))
		case "/api/v3/exchangeInfo":
			_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1565246363776,"symbols":[{"symbol":"ETHBTC","status":"TRADING",
			  "baseAsset":"ETH","baseAssetPrecision":8,"quoteAsset":"BTC","quotePrecision":8,
			  "filters":[{"filterType":"PRICE_FILTER","minPrice":"0.00000100","maxPrice":"100000.00000000","tickSize":"0.00000100"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}, "", "")
	ctx := context.Background()

	ticker, err := c.PriceTicker(ctx, "btcusdt")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", ticker.Symbol)
	require.Equal(t, "21000", ticker.Price.String())

	book, err := c.BookTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "20999.99", book.BidPrice.String())

	depth, err := c.Depth(ctx, "btcusdt", 0)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", depth.Symbol)
	require.Equal(t, "4.000002", depth.Asks[0].Price.String())

	info, err := c.ExchangeInfo(ctx, "ETHBTC")
	require.NoError(t, err)
	sym, ok := info.Symbol("ETHBTC")
	require.True(t, ok)
	require.Equal(t, "0.000001", sym.TickSize.String())
	require.Nil(t, sym.StepSize)
}

func TestListenKeyLifecycle(t *testing.T) {
	var keepAliveKey string
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`))
		case http.MethodPut:
			keepAliveKey = r.URL.Query().Get("listenKey")
			_, _ = w.Write([]byte(`{}`))
		}
	}, "key", "")
	ctx := context.Background()

	key, err := c.CreateListenKey(ctx)
	require.NoError(t, err)
	require.NoError(t, c.KeepAliveListenKey(ctx, key))
	require.Equal(t, key, keepAliveKey)

	require.True(t, errs.IsCode(c.KeepAliveListenKey(ctx, " "), errs.CodeInvalid))
}
