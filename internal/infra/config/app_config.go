// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/adapters/binance"
	"github.com/coachpo/tradestream/internal/infra/bus/eventbus"
	"github.com/coachpo/tradestream/internal/infra/stream"
)

// EventbusConfig sets in-memory event bus sizing characteristics.
type EventbusConfig struct {
	BufferSize    int                 `yaml:"bufferSize"`
	FanoutWorkers FanoutWorkerSetting `yaml:"fanoutWorkers"`
}

type fanoutWorkerKind int

const (
	fanoutWorkerUnset fanoutWorkerKind = iota
	fanoutWorkerExplicit
	fanoutWorkerAuto
	fanoutWorkerDefault
)

// FanoutWorkerSetting encapsulates the fanout worker configuration allowing both numeric and symbolic values.
type FanoutWorkerSetting struct {
	kind  fanoutWorkerKind
	value int
}

// UnmarshalYAML supports integer, "auto", and "default" values for fanout workers.
func (s *FanoutWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = FanoutWorkerSetting{}
		return nil
	}
	text := strings.TrimSpace(node.Value)
	switch strings.ToLower(text) {
	case "":
		*s = FanoutWorkerSetting{}
		return nil
	case "auto":
		*s = FanoutWorkerSetting{kind: fanoutWorkerAuto}
		return nil
	case "default":
		*s = FanoutWorkerSetting{kind: fanoutWorkerDefault}
		return nil
	}
	val, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("fanoutWorkers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("fanoutWorkers: numeric value must be > 0")
	}
	*s = FanoutWorkerSetting{kind: fanoutWorkerExplicit, value: val}
	return nil
}

func (s FanoutWorkerSetting) resolve() int {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value
	case fanoutWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores
		}
		return 4
	default:
		return 4
	}
}

// FanoutWorkerCount returns the resolved worker count.
func (c EventbusConfig) FanoutWorkerCount() int {
	return c.FanoutWorkers.resolve()
}

// MemoryConfig converts the section into event bus settings.
func (c EventbusConfig) MemoryConfig() eventbus.MemoryConfig {
	return eventbus.MemoryConfig{BufferSize: c.BufferSize, FanoutWorkers: c.FanoutWorkerCount()}
}

// BinanceConfig holds venue endpoints and client tuning. Credentials come from the environment only.
type BinanceConfig struct {
	APIBaseURL         string        `yaml:"apiBaseURL"`
	StreamBaseURL      string        `yaml:"streamBaseURL"`
	HTTPTimeout        time.Duration `yaml:"httpTimeout"`
	RecvWindow         time.Duration `yaml:"recvWindow"`
	RequestsPerSecond  float64       `yaml:"requestsPerSecond"`
	ListenKeyKeepAlive time.Duration `yaml:"listenKeyKeepAlive"`
	PingInterval       time.Duration `yaml:"pingInterval"`
	DepthLimit         int           `yaml:"depthLimit"`
	EnvFile            string        `yaml:"envFile"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// StreamsConfig selects the market data streams and whether the user data stream runs.
type StreamsConfig struct {
	Symbols    []string `yaml:"symbols"`
	Types      []string `yaml:"types"`
	UserStream bool     `yaml:"userStream"`
}

// ReconnectConfig selects reconnect pacing.
type ReconnectConfig struct {
	Policy          ReconnectPolicyName `yaml:"policy"`
	InitialInterval time.Duration       `yaml:"initialInterval"`
	MaxInterval     time.Duration       `yaml:"maxInterval"`
	UserStreamDelay time.Duration       `yaml:"userStreamDelay"`
}

// APIServerConfig configures the HTTP trade API.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Binance     BinanceConfig   `yaml:"binance"`
	Streams     StreamsConfig   `yaml:"streams"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
	Eventbus    EventbusConfig  `yaml:"eventbus"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns a configuration suitable for local development.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Streams: StreamsConfig{
			Symbols: []string{"BTCUSDT"},
			Types:   []string{string(schema.StreamAggTrade), string(schema.StreamTicker)},
		},
	}
	_ = cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file and fills credentials from the
// environment, loading the configured .env file first when it exists.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return parse(bytes)
}

// LoadOrDefault behaves like Load but falls back to Default when configPath does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, err
	}
	cfg = Default()
	if err := cfg.loadSecrets(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func parse(bytes []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.loadSecrets(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) loadSecrets() error {
	if path := c.Binance.EnvFile; path != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	c.Binance.APIKey = strings.TrimSpace(os.Getenv(envAPIKey))
	c.Binance.APISecret = strings.TrimSpace(os.Getenv(envAPISecret))
	return nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Binance.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(c.Binance.APIBaseURL), "/")
	c.Binance.StreamBaseURL = strings.TrimSuffix(strings.TrimSpace(c.Binance.StreamBaseURL), "/")
	if c.Binance.APIBaseURL == "" {
		c.Binance.APIBaseURL = "https://api.binance.com"
	}
	if c.Binance.StreamBaseURL == "" {
		c.Binance.StreamBaseURL = "wss://stream.binance.com:9443"
	}
	if c.Binance.HTTPTimeout <= 0 {
		c.Binance.HTTPTimeout = 10 * time.Second
	}
	if c.Binance.RecvWindow <= 0 {
		c.Binance.RecvWindow = 5 * time.Second
	}
	if c.Binance.RequestsPerSecond <= 0 {
		c.Binance.RequestsPerSecond = 10
	}
	if c.Binance.ListenKeyKeepAlive <= 0 {
		c.Binance.ListenKeyKeepAlive = 30 * time.Minute
	}
	c.Binance.EnvFile = strings.TrimSpace(c.Binance.EnvFile)
	if c.Binance.EnvFile == "" {
		c.Binance.EnvFile = ".env"
	}

	symbols := make([]string, 0, len(c.Streams.Symbols))
	seen := make(map[string]struct{}, len(c.Streams.Symbols))
	for _, s := range c.Streams.Symbols {
		s = normalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	c.Streams.Symbols = symbols
	types := make([]string, 0, len(c.Streams.Types))
	for _, t := range c.Streams.Types {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	c.Streams.Types = types

	c.Reconnect.Policy = ReconnectPolicyName(strings.ToLower(strings.TrimSpace(string(c.Reconnect.Policy))))
	if c.Reconnect.Policy == "" {
		c.Reconnect.Policy = PolicyImmediate
	}
	if c.Reconnect.UserStreamDelay <= 0 {
		c.Reconnect.UserStreamDelay = 3 * time.Second
	}
	if c.Reconnect.InitialInterval <= 0 {
		c.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if c.Reconnect.MaxInterval <= 0 {
		c.Reconnect.MaxInterval = 30 * time.Second
	}

	if c.Eventbus.BufferSize <= 0 {
		c.Eventbus.BufferSize = 256
	}

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	if c.APIServer.Addr == "" {
		c.APIServer.Addr = ":8880"
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tradestream"
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Eventbus.BufferSize <= 0 {
		return fmt.Errorf("eventbus bufferSize must be >0")
	}
	if c.Eventbus.FanoutWorkerCount() <= 0 {
		return fmt.Errorf("eventbus fanoutWorkers must be >0")
	}

	if c.Binance.RequestsPerSecond <= 0 {
		return fmt.Errorf("binance requestsPerSecond must be >0")
	}
	if len(c.Streams.Symbols) > 0 && len(c.Streams.Types) == 0 {
		return fmt.Errorf("streams types required when symbols are configured")
	}
	if _, err := c.Streams.Subscriptions(); err != nil {
		return fmt.Errorf("streams: %w", err)
	}
	if c.Streams.UserStream && (c.Binance.APIKey == "" || c.Binance.APISecret == "") {
		return fmt.Errorf("user stream requires %s and %s", envAPIKey, envAPISecret)
	}

	switch c.Reconnect.Policy {
	case PolicyImmediate, PolicyBackoff:
	default:
		return fmt.Errorf("reconnect policy must be one of immediate, backoff")
	}
	if c.Reconnect.InitialInterval > c.Reconnect.MaxInterval {
		return fmt.Errorf("reconnect initialInterval must be <= maxInterval")
	}

	if c.APIServer.Addr == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

// Subscriptions expands every symbol against every stream type. A type may carry a suffix, such as
// "depth5@100ms".
func (c StreamsConfig) Subscriptions() ([]schema.Subscription, error) {
	subs := make([]schema.Subscription, 0, len(c.Symbols)*len(c.Types))
	for _, raw := range c.Types {
		typ, suffix := splitStreamType(raw)
		if typ == schema.StreamUserStream {
			return nil, fmt.Errorf("type %q is not a market stream; enable streams.userStream instead", raw)
		}
		for _, symbol := range c.Symbols {
			sub := schema.Subscription{Symbol: symbol, Type: typ, Suffix: suffix}
			if err := sub.Validate(); err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func splitStreamType(raw string) (schema.StreamType, string) {
	for _, known := range []schema.StreamType{schema.StreamBookTicker, schema.StreamAggTrade, schema.StreamTicker, schema.StreamDepth} {
		if strings.HasPrefix(raw, string(known)) {
			return known, raw[len(known):]
		}
	}
	return schema.StreamType(raw), ""
}

// MarketPolicy returns the reconnect policy for market data connections.
func (c ReconnectConfig) MarketPolicy() stream.ReconnectPolicy {
	if c.Policy == PolicyBackoff {
		return stream.Backoff(c.InitialInterval, c.MaxInterval)
	}
	return stream.Immediate()
}

// UserPolicy returns the reconnect policy for the user data stream.
func (c ReconnectConfig) UserPolicy() stream.ReconnectPolicy {
	return stream.UserStream(c.UserStreamDelay)
}

// AdapterConfig converts the section into Binance adapter settings.
func (c BinanceConfig) AdapterConfig() binance.Config {
	return binance.Config{
		APIKey:              c.APIKey,
		APISecret:           c.APISecret,
		APIBaseURL:          c.APIBaseURL,
		StreamBaseURL:       c.StreamBaseURL,
		DepthLimit:          c.DepthLimit,
		HTTPTimeout:         c.HTTPTimeout,
		RecvWindow:          c.RecvWindow,
		UserStreamKeepAlive: c.ListenKeyKeepAlive,
		RequestsPerSecond:   c.RequestsPerSecond,
		PingInterval:        c.PingInterval,
	}
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
