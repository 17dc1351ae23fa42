package schema

import "github.com/shopspring/decimal"

// Balance is the holding of one asset.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Equal compares balances by value rather than representation.
func (b Balance) Equal(other Balance) bool {
	return b.Asset == other.Asset && b.Free.Equal(other.Free) && b.Locked.Equal(other.Locked)
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// AccountInfo is a snapshot of account balances.
type AccountInfo struct {
	Balances []Balance `json:"balances"`
}

// Balance looks up the balance for asset.
func (a AccountInfo) Balance(asset string) (Balance, bool) {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b, true
		}
	}
	return Balance{}, false
}

// Equal compares account snapshots balance by balance, in order.
func (a AccountInfo) Equal(other AccountInfo) bool {
	if len(a.Balances) != len(other.Balances) {
		return false
	}
	for i := range a.Balances {
		if !a.Balances[i].Equal(other.Balances[i]) {
			return false
		}
	}
	return true
}
