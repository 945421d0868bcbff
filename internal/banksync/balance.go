package banksync

import "github.com/ledgerlink/ledgerlink/internal/aggregator"

// balanceTypePriority orders balance types for display purposes.
var balanceTypePriority = []string{
	"closingBooked",
	"expected",
	"interimBooked",
	"interimAvailable",
}

// PreferredBalance picks the balance to display for an account. Preferred
// types win in priority order; otherwise the first reported balance is used.
// Returns false when the list is empty.
func PreferredBalance(balances []aggregator.Balance) (aggregator.Balance, bool) {
	if len(balances) == 0 {
		return aggregator.Balance{}, false
	}
	for _, kind := range balanceTypePriority {
		for _, balance := range balances {
			if balance.BalanceType == kind {
				return balance, true
			}
		}
	}
	return balances[0], true
}
