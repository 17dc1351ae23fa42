// Package trade models the lifecycle of a single tracked position: its status graph, profit math,
// display classification and eligibility predicates. Functions here are pure; callers own locking.
package trade

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Status is a trade lifecycle state.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusPendingBuy  Status = "PENDING_BUY"
	StatusWatching    Status = "WATCHING"
	StatusPendingSell Status = "PENDING_SELL"
	StatusDone        Status = "DONE"
	StatusCanceled    Status = "CANCELED"
	StatusFailed      Status = "FAILED"
	StatusAbandoned   Status = "ABANDONED"
)

// rank orders the forward path so stale reports can be detected. Terminal states are handled separately.
var rank = map[Status]int{
	StatusNew:         0,
	StatusPendingBuy:  1,
	StatusWatching:    2,
	StatusPendingSell: 3,
	StatusDone:        4,
}

// IsTerminal reports whether no further status change is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCanceled, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPendingBuy, StatusWatching, StatusPendingSell,
		StatusDone, StatusCanceled, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Trade is the tracked state of one position.
type Trade struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Status         Status          `json:"status"`
	OpenTime       time.Time       `json:"openTime"`
	CloseTime      time.Time       `json:"closeTime"`
	BuyQuantity    decimal.Decimal `json:"buyQuantity"`
	BuyPrice       decimal.Decimal `json:"buyPrice"`
	SellQuantity   decimal.Decimal `json:"sellQuantity"`
	SellPrice      decimal.Decimal `json:"sellPrice"`
	LastPrice      decimal.Decimal `json:"lastPrice"`
	ProfitAmount   decimal.Decimal `json:"profitAmount"`
	ProfitPercent  decimal.Decimal `json:"profitPercent"`
	ClientOrderIDs []string        `json:"clientOrderIds"`
	BuyOrderID     int64           `json:"buyOrderId,omitempty"`
	SellOrderID    int64           `json:"sellOrderId,omitempty"`
	Archived       bool            `json:"archived"`
	FailReason     string          `json:"failReason,omitempty"`
}

// New opens a trade in status NEW tracking the given client order id.
func New(id, symbol, clientOrderID string, openTime time.Time) Trade {
	t := Trade{
		ID:       id,
		Symbol:   symbol,
		Status:   StatusNew,
		OpenTime: openTime,
	}
	if clientOrderID != "" {
		t.ClientOrderIDs = []string{clientOrderID}
	}
	return t
}

// Clone returns a copy that shares no mutable state with t.
func (t Trade) Clone() Trade {
	t.ClientOrderIDs = slices.Clone(t.ClientOrderIDs)
	return t
}

// HasClientOrderID reports whether id belongs to one of the trade's orders.
func (t Trade) HasClientOrderID(id string) bool {
	return id != "" && slices.Contains(t.ClientOrderIDs, id)
}

// WithClientOrderID returns a copy tracking one more client order id.
func (t Trade) WithClientOrderID(id string) Trade {
	out := t.Clone()
	if id != "" && !out.HasClientOrderID(id) {
		out.ClientOrderIDs = append(out.ClientOrderIDs, id)
	}
	return out
}

// CanArchive reports whether the trade reached a terminal status.
func CanArchive(t Trade) bool { return t.Status.IsTerminal() }

// CanSell reports whether a position is held and may be sold.
func CanSell(t Trade) bool {
	return t.Status == StatusWatching || t.Status == StatusPendingSell
}

// CanAbandon is the complement of CanArchive.
func CanAbandon(t Trade) bool { return !CanArchive(t) }

// IsOpen reports whether an order or position for the trade is live at the exchange.
func IsOpen(t Trade) bool {
	switch t.Status {
	case StatusPendingBuy, StatusWatching, StatusPendingSell:
		return true
	default:
		return false
	}
}
