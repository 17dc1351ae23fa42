package binance

import (
	"strings"
	"time"
)

type metadata struct {
	apiBaseURL       string
	streamBaseURL    string
	identifier       string
	exchangeInfoPath string
	depthPath        string
	listenKeyPath    string
	accountInfoPath  string
	priceTickerPath  string
	bookTickerPath   string
}

var binanceMetadata = metadata{
	apiBaseURL:       "https://api.binance.com",
	streamBaseURL:    "wss://stream.binance.com:9443",
	identifier:       "binance",
	exchangeInfoPath: "/api/v3/exchangeInfo",
	depthPath:        "/api/v3/depth",
	listenKeyPath:    "/api/v3/userDataStream",
	accountInfoPath:  "/api/v3/account",
	priceTickerPath:  "/api/v3/ticker/price",
	bookTickerPath:   "/api/v3/ticker/bookTicker",
}

const (
	defaultDepthLimit          = 100
	defaultHTTPTimeout         = 10 * time.Second
	defaultRecvWindow          = 5 * time.Second
	defaultUserStreamKeepAlive = 30 * time.Minute
	defaultUserStreamRetry     = 3 * time.Second
	defaultRequestsPerSecond   = 10
	defaultPingInterval        = 30 * time.Second
)

// Config captures user-overridable Binance settings.
type Config struct {
	Name                string
	APIKey              string
	APISecret           string
	APIBaseURL          string
	StreamBaseURL       string
	DepthLimit          int
	HTTPTimeout         time.Duration
	RecvWindow          time.Duration
	UserStreamKeepAlive time.Duration
	UserStreamRetry     time.Duration
	RequestsPerSecond   float64
	PingInterval        time.Duration
}

// Options configure the Binance adapter.
type Options struct {
	Config Config

	metadata metadata
}

func withDefaults(in Options) Options {
	in.metadata = binanceMetadata
	if base := strings.TrimSpace(in.Config.APIBaseURL); base != "" {
		in.metadata.apiBaseURL = base
	}
	if base := strings.TrimSpace(in.Config.StreamBaseURL); base != "" {
		in.metadata.streamBaseURL = base
	}
	if strings.TrimSpace(in.Config.Name) == "" {
		in.Config.Name = in.metadata.identifier
	}
	if in.Config.DepthLimit <= 0 {
		in.Config.DepthLimit = defaultDepthLimit
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if in.Config.RecvWindow <= 0 {
		in.Config.RecvWindow = defaultRecvWindow
	}
	if in.Config.UserStreamKeepAlive <= 0 {
		in.Config.UserStreamKeepAlive = defaultUserStreamKeepAlive
	}
	if in.Config.UserStreamRetry <= 0 {
		in.Config.UserStreamRetry = defaultUserStreamRetry
	}
	if in.Config.RequestsPerSecond <= 0 {
		in.Config.RequestsPerSecond = defaultRequestsPerSecond
	}
	if in.Config.PingInterval < 0 {
		in.Config.PingInterval = 0
	} else if in.Config.PingInterval == 0 {
		in.Config.PingInterval = defaultPingInterval
	}
	return in
}

func (o Options) restEndpoint(path string) string {
	base := strings.TrimSuffix(strings.TrimSpace(o.metadata.apiBaseURL), "/")
	if base == "" {
		return ""
	}
	if strings.TrimSpace(path) == "" {
		return base
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

func (o Options) streamEndpoint(path string) string {
	base := strings.TrimSuffix(strings.TrimSpace(o.metadata.streamBaseURL), "/")
	return base + "/" + strings.TrimPrefix(path, "/")
}

// combinedStreamURL renders the multiplexed endpoint for the given stream keys.
func (o Options) combinedStreamURL(keys []string) string {
	return o.streamEndpoint("stream?streams=" + strings.Join(keys, "/"))
}

func (o Options) userStreamURL(listenKey string) string {
	return o.streamEndpoint("ws/" + listenKey)
}
