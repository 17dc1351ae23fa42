// Command tradestream streams Binance market and account data and tracks trades through their lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/tradestream/internal/app/tradeengine"
	"github.com/coachpo/tradestream/internal/infra/adapters/binance"
	"github.com/coachpo/tradestream/internal/infra/bus/eventbus"
	"github.com/coachpo/tradestream/internal/infra/config"
	httpserver "github.com/coachpo/tradestream/internal/infra/server/http"
	"github.com/coachpo/tradestream/internal/infra/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	loggerPrefix             = "tradestream "
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	streamShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	busShutdownTimeout       = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	apiReadHeaderTimeout     = 5 * time.Second
	bootstrapTimeout         = 15 * time.Second
)

type closer interface {
	Close() error
}

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s symbols=%s user_stream=%t reconnect=%s",
		appCfg.Environment, strings.Join(appCfg.Streams.Symbols, ","), appCfg.Streams.UserStream, appCfg.Reconnect.Policy)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	var lifecycle conc.WaitGroup

	bus := eventbus.NewMemoryBus(appCfg.Eventbus.MemoryConfig(), logger)
	engine := tradeengine.New(tradeengine.WithLogger(logger), tradeengine.WithPublisher(bus))
	lifecycle.Go(func() {
		if err := engine.Run(ctx, bus); err != nil {
			logger.Printf("trade engine: %v", err)
		}
	})

	adapterOpts := binance.Options{Config: appCfg.Binance.AdapterConfig()}
	rest := binance.NewRESTClient(adapterOpts, nil)
	bootstrap(ctx, logger, rest, appCfg)

	streams, err := startStreams(ctx, &lifecycle, logger, appCfg, adapterOpts, rest, bus)
	if err != nil {
		logger.Fatalf("start streams: %v", err)
	}

	apiServer := buildAPIServer(appCfg.APIServer, engine)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("trade API listening on %s", apiServer.Addr)

	logger.Print("tradestream started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		streams:    streams,
		lifecycle:  &lifecycle,
		bus:        bus,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
		telemetryCfg.Enabled = true
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// bootstrap logs symbol trading rules. Failures are logged; the streams still start. Account
// snapshots are published by the user stream at the start of every session.
func bootstrap(ctx context.Context, logger *log.Logger, rest *binance.RESTClient, cfg config.AppConfig) {
	if len(cfg.Streams.Symbols) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	info, err := rest.ExchangeInfo(ctx, cfg.Streams.Symbols...)
	if err != nil {
		logger.Printf("bootstrap: exchange info: %v", err)
		return
	}
	for _, sym := range info.Symbols {
		logger.Printf("bootstrap: symbol=%s status=%s tick=%s step=%s min_notional=%s",
			sym.Symbol, sym.Status, decimalOrDash(sym.TickSize), decimalOrDash(sym.StepSize), decimalOrDash(sym.MinNotional))
	}
}

func decimalOrDash(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func startStreams(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, cfg config.AppConfig, opts binance.Options, rest *binance.RESTClient, bus eventbus.Bus) ([]closer, error) {
	var streams []closer

	subs, err := cfg.Streams.Subscriptions()
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	if len(subs) > 0 {
		market, err := binance.NewMarketStream(binance.MarketStreamConfig{
			Options:       opts,
			Subscriptions: subs,
			Policy:        cfg.Reconnect.MarketPolicy(),
			Logger:        logger,
		}, bus)
		if err != nil {
			return nil, fmt.Errorf("market stream: %w", err)
		}
		streams = append(streams, market)
		lifecycle.Go(func() {
			if err := market.Run(ctx); err != nil {
				logger.Printf("market stream stopped: %v", err)
			}
		})
		logger.Printf("market stream started: streams=%d", len(subs))
	} else {
		logger.Print("no market subscriptions configured")
	}

	if cfg.Streams.UserStream {
		user := binance.NewUserStream(binance.UserStreamConfig{
			Options: opts,
			Policy:  cfg.Reconnect.UserPolicy(),
			Logger:  logger,
		}, rest, bus)
		streams = append(streams, user)
		lifecycle.Go(func() {
			if err := user.Run(ctx); err != nil {
				logger.Printf("user stream stopped: %v", err)
			}
		})
		logger.Print("user stream started")
	}
	return streams, nil
}

func buildAPIServer(cfg config.APIServerConfig, trades httpserver.TradeService) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(trades),
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("trade API server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	streams    []closer
	lifecycle  *conc.WaitGroup
	bus        eventbus.Bus
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}
	waitFor := func(stepCtx context.Context, fn func()) error {
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout: %w", stepCtx.Err())
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping trade API server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if len(cfg.streams) > 0 {
		shutdownStep("closing streams", streamShutdownTimeout, func(stepCtx context.Context) error {
			return waitFor(stepCtx, func() {
				for _, s := range cfg.streams {
					if err := s.Close(); err != nil {
						logger.Printf("shutdown: close stream: %v", err)
					}
				}
			})
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitFor(stepCtx, cfg.lifecycle.Wait)
		})
	}

	if cfg.bus != nil {
		shutdownStep("closing event bus", busShutdownTimeout, func(stepCtx context.Context) error {
			return waitFor(stepCtx, cfg.bus.Close)
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
