package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
)

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// RESTClient queries Binance REST endpoints and returns normalized domain values.
type RESTClient struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	clock   func() time.Time
}

// NewRESTClient constructs a client. A nil httpClient uses one with the configured timeout.
func NewRESTClient(opts Options, httpClient *http.Client) *RESTClient {
	opts = withDefaults(opts)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Config.HTTPTimeout}
	}
	burst := int(opts.Config.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RESTClient{
		opts:    opts,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(opts.Config.RequestsPerSecond), burst),
		clock:   time.Now,
	}
}

func (c *RESTClient) hasCredentials() bool {
	return strings.TrimSpace(c.opts.Config.APIKey) != "" && strings.TrimSpace(c.opts.Config.APISecret) != ""
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type requestSpec struct {
	method string
	path   string
	params url.Values
	apiKey bool
	signed bool
}

// do performs one request and returns the raw body of a 2xx response.
func (c *RESTClient) do(ctx context.Context, spec requestSpec) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	params := spec.params
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if spec.signed {
		if !c.hasCredentials() {
			return nil, errs.New("binance-rest", errs.CodeAuth, errs.WithMessage("missing api credentials"), errs.WithField("endpoint", spec.path))
		}
		if c.opts.Config.RecvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.opts.Config.RecvWindow.Milliseconds(), 10))
		}
		params.Set("timestamp", strconv.FormatInt(c.clock().UTC().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + signPayload(query, c.opts.Config.APISecret)
	}
	endpoint := c.opts.restEndpoint(spec.path)
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, spec.method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", spec.path, err)
	}
	if spec.apiKey || spec.signed {
		req.Header.Set("X-MBX-APIKEY", c.opts.Config.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.New("binance-rest", errs.CodeNetwork, errs.WithField("endpoint", spec.path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", spec.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(spec.path, resp.StatusCode, body)
	}
	return body, nil
}

func statusError(path string, status int, body []byte) error {
	code := errs.CodeExchange
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		code = errs.CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errs.CodeAuth
	case status == http.StatusNotFound:
		code = errs.CodeNotFound
	case status >= 500:
		code = errs.CodeUnavailable
	case status >= 400:
		code = errs.CodeInvalid
	}
	opts := []errs.Option{errs.WithHTTP(status), errs.WithField("endpoint", path)}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		opts = append(opts, errs.WithRawCode(strconv.Itoa(apiErr.Code)), errs.WithRawMessage(apiErr.Msg))
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		opts = append(opts, errs.WithRawMessage(trimmed))
	}
	return errs.New("binance-rest", code, opts...)
}

// AccountInfo fetches the signed account snapshot.
func (c *RESTClient) AccountInfo(ctx context.Context) (schema.AccountInfo, error) {
	body, err := c.do(ctx, requestSpec{method: http.MethodGet, path: c.opts.metadata.accountInfoPath, signed: true})
	if err != nil {
		return schema.AccountInfo{}, err
	}
	wire, err := decodeInto[RestAccount](ShapeRestAccount, body)
	if err != nil {
		return schema.AccountInfo{}, err
	}
	return AccountInfoFromRest(wire)
}

// ExchangeInfo fetches the symbol catalogue, optionally restricted to symbols.
func (c *RESTClient) ExchangeInfo(ctx context.Context, symbols ...string) (schema.ExchangeInfo, error) {
	params := url.Values{}
	if len(symbols) == 1 {
		params.Set("symbol", strings.ToUpper(symbols[0]))
	} else if len(symbols) > 1 {
		quoted := make([]string, len(symbols))
		for i, s := range symbols {
			quoted[i] = strconv.Quote(strings.ToUpper(s))
		}
		params.Set("symbols", "["+strings.Join(quoted, ",")+"]")
	}
	body, err := c.do(ctx, requestSpec{method: http.MethodGet, path: c.opts.metadata.exchangeInfoPath, params: params})
	if err != nil {
		return schema.ExchangeInfo{}, err
	}
	wire, err := decodeInto[RestExchangeInfo](ShapeRestExchangeInfo, body)
	if err != nil {
		return schema.ExchangeInfo{}, err
	}
	return ExchangeInfoFromRest(wire)
}

// PriceTicker fetches the last price of symbol.
func (c *RESTClient) PriceTicker(ctx context.Context, symbol string) (schema.PriceTicker, error) {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	body, err := c.do(ctx, requestSpec{method: http.MethodGet, path: c.opts.metadata.priceTickerPath, params: params})
	if err != nil {
		return schema.PriceTicker{}, err
	}
	wire, err := decodeInto[RestPriceTicker](ShapeRestPriceTicker, body)
	if err != nil {
		return schema.PriceTicker{}, err
	}
	return PriceTickerFromRest(wire)
}

// BookTicker fetches the best bid and ask of symbol.
func (c *RESTClient) BookTicker(ctx context.Context, symbol string) (schema.BookTicker, error) {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	body, err := c.do(ctx, requestSpec{method: http.MethodGet, path: c.opts.metadata.bookTickerPath, params: params})
	if err != nil {
		return schema.BookTicker{}, err
	}
	wire, err := decodeInto[RestBookTicker](ShapeRestBookTicker, body)
	if err != nil {
		return schema.BookTicker{}, err
	}
	return BookTickerFromRest(wire)
}

// Depth fetches an order book snapshot. A non-positive limit uses the configured default.
func (c *RESTClient) Depth(ctx context.Context, symbol string, limit int) (schema.Depth, error) {
	if limit <= 0 {
		limit = c.opts.Config.DepthLimit
	}
	symbol = strings.ToUpper(symbol)
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	body, err := c.do(ctx, requestSpec{method: http.MethodGet, path: c.opts.metadata.depthPath, params: params})
	if err != nil {
		return schema.Depth{}, err
	}
	wire, err := decodeInto[WireDepth](ShapeDepth, body)
	if err != nil {
		return schema.Depth{}, err
	}
	return DepthFromWire(symbol, wire)
}

// CreateListenKey opens a user data stream session.
func (c *RESTClient) CreateListenKey(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.opts.Config.APIKey) == "" {
		return "", errs.New("binance-rest", errs.CodeAuth, errs.WithMessage("missing api key for listen key"))
	}
	body, err := c.do(ctx, requestSpec{method: http.MethodPost, path: c.opts.metadata.listenKeyPath, apiKey: true})
	if err != nil {
		return "", err
	}
	var payload listenKeyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errs.Decode("listenKey", "malformed payload", err)
	}
	if strings.TrimSpace(payload.ListenKey) == "" {
		return "", errs.Decode("listenKey", "empty listen key", nil)
	}
	return payload.ListenKey, nil
}

// KeepAliveListenKey extends the validity of a listen key.
func (c *RESTClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	listenKey = strings.TrimSpace(listenKey)
	if listenKey == "" {
		return errs.New("binance-rest", errs.CodeInvalid, errs.WithMessage("empty listen key for keepalive"))
	}
	params := url.Values{"listenKey": {listenKey}}
	_, err := c.do(ctx, requestSpec{method: http.MethodPut, path: c.opts.metadata.listenKeyPath, params: params, apiKey: true})
	return err
}
