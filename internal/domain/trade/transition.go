package trade

import (
	"fmt"
	"time"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
)

// Outcome describes what a transition did to a trade.
type Outcome int

const (
	// Ignored means the input was stale or a duplicate and the trade is unchanged.
	Ignored Outcome = iota
	// Updated means fields changed without a status change.
	Updated
	// Transitioned means the status changed.
	Transitioned
)

func outcome(before, after Trade) Outcome {
	if before.Status != after.Status {
		return Transitioned
	}
	return Updated
}

func behind(current, target Status) bool {
	return rank[current] < rank[target]
}

func reportTime(r schema.ExecutionReport) time.Time {
	if !r.TransactionTime.IsZero() {
		return r.TransactionTime
	}
	return r.EventTime
}

// MarkBuyPosted moves a NEW trade to PENDING_BUY once its buy order was accepted. A report that already
// advanced the trade wins.
func MarkBuyPosted(t Trade) (Trade, Outcome, error) {
	if t.Status.IsTerminal() {
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("buy posted for %s trade", t.Status))
	}
	if t.Status != StatusNew {
		return t, Ignored, nil
	}
	t.Status = StatusPendingBuy
	return t, Transitioned, nil
}

// Fail marks a trade whose order could not be placed. Only trades waiting on an order may fail.
func Fail(t Trade, reason string, at time.Time) (Trade, Outcome, error) {
	switch t.Status {
	case StatusNew, StatusPendingBuy, StatusPendingSell:
	default:
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("cannot fail %s trade", t.Status))
	}
	t.Status = StatusFailed
	t.FailReason = reason
	t.CloseTime = at
	return t, Transitioned, nil
}

// Abandon stops tracking a non-terminal trade without touching the exchange.
func Abandon(t Trade, at time.Time) (Trade, Outcome, error) {
	if !CanAbandon(t) {
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("cannot abandon %s trade", t.Status))
	}
	t.Status = StatusAbandoned
	t.CloseTime = at
	return t, Transitioned, nil
}

// Archive flags a terminal trade as archived. Archiving twice is a no-op.
func Archive(t Trade) (Trade, Outcome, error) {
	if !CanArchive(t) {
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("cannot archive %s trade", t.Status))
	}
	if t.Archived {
		return t, Ignored, nil
	}
	t.Archived = true
	return t, Updated, nil
}

// ApplyExecutionReport advances the trade from an order update that belongs to it.
func ApplyExecutionReport(t Trade, r schema.ExecutionReport) (Trade, Outcome, error) {
	if !t.HasClientOrderID(r.ClientOrderID) && !t.HasClientOrderID(r.OriginalClientOrderID) {
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("report for client order %q does not belong to trade", r.ClientOrderID))
	}
	if t.Status.IsTerminal() {
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("%s report for %s trade", r.OrderStatus, t.Status))
	}
	switch r.Side {
	case schema.SideBuy:
		return applyBuy(t, r)
	case schema.SideSell:
		return applySell(t, r)
	default:
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("unknown side %q", r.Side))
	}
}

func applyBuy(t Trade, r schema.ExecutionReport) (Trade, Outcome, error) {
	before := t
	// Buy reports only move a trade that has not yet been filled.
	if !behind(t.Status, StatusWatching) {
		return t, Ignored, nil
	}
	switch r.OrderStatus {
	case schema.OrderStatusNew:
		if t.Status != StatusNew {
			return t, Ignored, nil
		}
		t.Status = StatusPendingBuy
		t.BuyOrderID = r.OrderID
	case schema.OrderStatusPartiallyFilled:
		t.Status = StatusPendingBuy
		t.BuyOrderID = r.OrderID
		t.BuyQuantity = r.CumulativeFilledQuantity
	case schema.OrderStatusFilled:
		t.Status = StatusWatching
		t.BuyOrderID = r.OrderID
		t.BuyPrice = r.LastExecutedPrice
		t.BuyQuantity = r.CumulativeFilledQuantity
		if t.LastPrice.IsZero() {
			t.LastPrice = r.LastExecutedPrice
		}
		t = RecomputeProfit(t)
	case schema.OrderStatusCanceled, schema.OrderStatusExpired:
		t.Status = StatusCanceled
		t.CloseTime = reportTime(r)
	case schema.OrderStatusRejected:
		t.Status = StatusFailed
		t.FailReason = r.RejectReason
		t.CloseTime = reportTime(r)
	default:
		return t, Ignored, nil
	}
	return t, outcome(before, t), nil
}

func applySell(t Trade, r schema.ExecutionReport) (Trade, Outcome, error) {
	before := t
	if !CanSell(t) {
		return t, Ignored, errs.Transition(t.ID, fmt.Sprintf("sell report for %s trade", t.Status))
	}
	switch r.OrderStatus {
	case schema.OrderStatusNew:
		if t.Status != StatusWatching {
			return t, Ignored, nil
		}
		t.Status = StatusPendingSell
		t.SellOrderID = r.OrderID
	case schema.OrderStatusPartiallyFilled:
		t.Status = StatusPendingSell
		t.SellOrderID = r.OrderID
		t.SellQuantity = r.CumulativeFilledQuantity
	case schema.OrderStatusFilled:
		t.Status = StatusDone
		t.SellOrderID = r.OrderID
		t.SellPrice = r.LastExecutedPrice
		t.SellQuantity = r.CumulativeFilledQuantity
		t.LastPrice = r.LastExecutedPrice
		t.CloseTime = reportTime(r)
		t = RecomputeProfit(t)
	case schema.OrderStatusCanceled, schema.OrderStatusExpired:
		// WATCHING has no edge to CANCELED or FAILED.
		if t.Status != StatusPendingSell {
			return t, Ignored, nil
		}
		t.Status = StatusCanceled
		t.CloseTime = reportTime(r)
	case schema.OrderStatusRejected:
		if t.Status != StatusPendingSell {
			return t, Ignored, nil
		}
		t.Status = StatusFailed
		t.FailReason = r.RejectReason
		t.CloseTime = reportTime(r)
	default:
		return t, Ignored, nil
	}
	return t, outcome(before, t), nil
}
