package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradestream/internal/app/tradeengine"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/adapters/binance"
	"github.com/coachpo/tradestream/internal/infra/bus/eventbus"
	"github.com/coachpo/tradestream/internal/infra/config"
)

type countingCloser struct{ closed atomic.Int32 }

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return nil
}

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, filepath.Clean(defaultConfigPath), resolveConfigPath(""))
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
}

func TestDecimalOrDash(t *testing.T) {
	require.Equal(t, "-", decimalOrDash(nil))
	tick := decimal.RequireFromString("0.01")
	require.Equal(t, "0.01", decimalOrDash(&tick))
}

func TestBuildAPIServerServesTrades(t *testing.T) {
	engine := tradeengine.New(tradeengine.WithLogger(log.New(io.Discard, "", 0)))
	server := buildAPIServer(config.APIServerConfig{Addr: ":0"}, engine)
	require.Equal(t, ":0", server.Addr)
	require.Equal(t, apiReadHeaderTimeout, server.ReadHeaderTimeout)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trades", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrapLogsSymbolFilters(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_, _ = io.WriteString(w, `{"timezone":"UTC","serverTime":1,"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","baseAssetPrecision":8,"quotePrecision":8,"filters":[{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"}]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	cfg := config.Default()
	cfg.Binance.APIBaseURL = api.URL
	rest := binance.NewRESTClient(binance.Options{Config: cfg.Binance.AdapterConfig()}, api.Client())

	var buf bytes.Buffer
	bootstrap(context.Background(), log.New(&buf, "", 0), rest, cfg)

	require.Contains(t, buf.String(), "symbol=BTCUSDT")
	require.Contains(t, buf.String(), "tick=0.01")
}

func TestPerformGracefulShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { <-ctx.Done() })

	stream := &countingCloser{}
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{}, logger)

	performGracefulShutdown(context.Background(), logger, gracefulShutdownConfig{
		mainCancel: cancel,
		streams:    []closer{stream},
		lifecycle:  &lifecycle,
		bus:        bus,
	})

	require.Equal(t, int32(1), stream.closed.Load())
	out := buf.String()
	require.True(t, strings.Contains(out, "shutdown: closing streams completed"), out)
	require.Contains(t, out, "shutdown: waiting for lifecycle goroutines completed")
	require.Contains(t, out, "shutdown: closing event bus completed")
	require.Error(t, bus.Publish(context.Background(), schema.Event{Type: schema.EventTypeTicker}))
}
