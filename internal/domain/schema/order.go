package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side captures the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates order types.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus enumerates venue order states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// ExecutionReport is a normalized order update from the user data stream.
type ExecutionReport struct {
	EventTime                time.Time       `json:"eventTime"`
	Symbol                   string          `json:"symbol"`
	ClientOrderID            string          `json:"clientOrderId"`
	OriginalClientOrderID    string          `json:"originalClientOrderId"`
	Side                     Side            `json:"side"`
	OrderType                OrderType       `json:"orderType"`
	TimeInForce              string          `json:"timeInForce"`
	Quantity                 decimal.Decimal `json:"quantity"`
	Price                    decimal.Decimal `json:"price"`
	ExecutionType            string          `json:"executionType"`
	OrderStatus              OrderStatus     `json:"orderStatus"`
	RejectReason             string          `json:"rejectReason"`
	OrderID                  int64           `json:"orderId"`
	LastExecutedQuantity     decimal.Decimal `json:"lastExecutedQuantity"`
	CumulativeFilledQuantity decimal.Decimal `json:"cumulativeFilledQuantity"`
	LastExecutedPrice        decimal.Decimal `json:"lastExecutedPrice"`
	CommissionAmount         decimal.Decimal `json:"commissionAmount"`
	CommissionAsset          string          `json:"commissionAsset"`
	TransactionTime          time.Time       `json:"transactionTime"`
	TradeID                  int64           `json:"tradeId"`
}

// CancelOrderResponse is the normalized answer to an order cancel.
type CancelOrderResponse struct {
	Symbol            string `json:"symbol"`
	OrigClientOrderID string `json:"origClientOrderId"`
	OrderID           int64  `json:"orderId"`
	ClientOrderID     string `json:"clientOrderId"`
}

// BuyOrderResponse is the normalized answer to a buy request: the id of the trade it opened.
type BuyOrderResponse struct {
	TradeID string `json:"tradeId"`
}
