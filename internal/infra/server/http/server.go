// Package httpserver exposes the trade projection and trade lifecycle operations over HTTP.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/trade"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	tradesPath        = "/trades"
	tradeDetailPrefix = tradesPath + "/"

	archiveClosedAction         = "archive/closed"
	archiveCanceledFailedAction = "archive/canceled-failed"
	healthPath                  = "/healthz"
)

// TradeService is the trade engine surface served over HTTP.
type TradeService interface {
	Create(symbol, clientOrderID string) (trade.Trade, error)
	MarkBuyPosted(id string) (trade.Trade, error)
	AddClientOrderID(id, clientOrderID string) (trade.Trade, error)
	Fail(id, reason string) (trade.Trade, error)
	Archive(id string) (trade.Trade, error)
	Abandon(id string) (trade.Trade, error)
	ArchiveAllClosed() (int, error)
	ArchiveCanceledFailed() (int, error)
	Get(id string) (trade.Trade, bool)
	Sorted() []trade.Trade
	ArchivedTrades() []trade.Trade
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	trades TradeService
}

// TradeView is a trade with its display class and the operations it currently allows.
type TradeView struct {
	trade.Trade
	Class      trade.Classification `json:"class"`
	CanArchive bool                 `json:"canArchive"`
	CanSell    bool                 `json:"canSell"`
	CanAbandon bool                 `json:"canAbandon"`
	Open       bool                 `json:"open"`
}

func newTradeView(t trade.Trade) TradeView {
	return TradeView{
		Trade:      t,
		Class:      t.Class(),
		CanArchive: trade.CanArchive(t),
		CanSell:    trade.CanSell(t),
		CanAbandon: trade.CanAbandon(t),
		Open:       trade.IsOpen(t),
	}
}

type createTradePayload struct {
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"clientOrderId"`
}

type clientOrderPayload struct {
	ClientOrderID string `json:"clientOrderId"`
}

type failPayload struct {
	Reason string `json:"reason"`
}

type bulkArchiveResponse struct {
	Archived int      `json:"archived"`
	Errors   []string `json:"errors,omitempty"`
}

// NewHandler creates an HTTP handler for trade operations.
func NewHandler(trades TradeService) http.Handler {
	server := &httpServer{trades: trades}
	mux := http.NewServeMux()

	mux.Handle(tradesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listTrades,
		http.MethodPost: server.createTrade,
	}))
	mux.Handle(tradeDetailPrefix, http.HandlerFunc(server.handleTrade))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		},
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) listTrades(w http.ResponseWriter, r *http.Request) {
	list := s.trades.Sorted()
	if strings.EqualFold(r.URL.Query().Get("archived"), "true") {
		list = s.trades.ArchivedTrades()
	}
	views := make([]TradeView, 0, len(list))
	for _, t := range list {
		views = append(views, newTradeView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": views})
}

func (s *httpServer) createTrade(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload createTradePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	t, err := s.trades.Create(payload.Symbol, payload.ClientOrderID)
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTradeView(t))
}

func (s *httpServer) handleTrade(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, tradeDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "trade id required")
		return
	}

	switch rest {
	case archiveClosedAction:
		s.bulkArchive(w, r, s.trades.ArchiveAllClosed)
		return
	case archiveCanceledFailedAction:
		s.bulkArchive(w, r, s.trades.ArchiveCanceledFailed)
		return
	}

	id, action, hasAction := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusNotFound, "trade id required")
		return
	}
	if !hasAction {
		s.handleTradeResource(w, r, id)
		return
	}
	s.handleTradeAction(w, r, id, strings.TrimSpace(action))
}

func (s *httpServer) handleTradeResource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	t, ok := s.trades.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(t))
}

func (s *httpServer) handleTradeAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var (
		t   trade.Trade
		err error
	)
	switch action {
	case "archive":
		t, err = s.trades.Archive(id)
	case "abandon":
		t, err = s.trades.Abandon(id)
	case "buy-posted":
		t, err = s.trades.MarkBuyPosted(id)
	case "fail":
		limitRequestBody(w, r)
		var payload failPayload
		if decodeErr := decodeOptionalBody(r, &payload); decodeErr != nil {
			writeDecodeError(w, decodeErr)
			return
		}
		t, err = s.trades.Fail(id, payload.Reason)
	case "client-orders":
		limitRequestBody(w, r)
		var payload clientOrderPayload
		if decodeErr := json.NewDecoder(r.Body).Decode(&payload); decodeErr != nil {
			writeDecodeError(w, decodeErr)
			return
		}
		t, err = s.trades.AddClientOrderID(id, payload.ClientOrderID)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	if err != nil {
		writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(t))
}

func (s *httpServer) bulkArchive(w http.ResponseWriter, r *http.Request, archive func() (int, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	n, err := archive()
	resp := bulkArchiveResponse{Archived: n}
	if err != nil {
		for _, e := range unwrapJoined(err) {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func writeTradeError(w http.ResponseWriter, err error) {
	code, _ := errs.CodeOf(err)
	switch code {
	case errs.CodeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errs.CodeTransition, errs.CodeConflict:
		writeError(w, http.StatusConflict, err.Error())
	case errs.CodeInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
