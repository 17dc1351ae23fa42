package trade

import "github.com/shopspring/decimal"

// Classification is the display category of a trade.
type Classification string

const (
	ClassNeutral        Classification = "neutral"
	ClassPositive       Classification = "positive"
	ClassNegativeClosed Classification = "negative-closed"
	ClassPending        Classification = "pending"
	ClassWarning        Classification = "warning"
)

// Classify maps a status and profit percentage to a display category.
func Classify(status Status, profitPercent decimal.Decimal) Classification {
	switch status {
	case StatusCanceled, StatusFailed, StatusAbandoned:
		return ClassNeutral
	case StatusDone:
		if profitPercent.IsPositive() {
			return ClassPositive
		}
		return ClassNegativeClosed
	case StatusNew, StatusPendingBuy:
		return ClassPending
	default:
		if profitPercent.IsPositive() {
			return ClassPositive
		}
		return ClassWarning
	}
}

// Class is a convenience for Classify(t.Status, t.ProfitPercent).
func (t Trade) Class() Classification {
	return Classify(t.Status, t.ProfitPercent)
}
