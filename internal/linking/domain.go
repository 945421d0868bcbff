// Package linking tracks bank-consent requisitions and the accounts they
// resolve to once linked.
package linking

// Status is the requisition state reported by the aggregator. The client
// only ever originates Created (by creating a requisition) and observes
// every other transition by polling; the intermediate transitions happen
// inside the bank's hosted consent flow.
type Status string

// Requisition statuses.
//
//	CR -> GC -> UA -> {RJ | SA -> GA -> LN} | SU | EX
const (
	StatusCreated           Status = "CR"
	StatusGivingConsent     Status = "GC"
	StatusAuthenticating    Status = "UA"
	StatusRejected          Status = "RJ"
	StatusSelectingAccounts Status = "SA"
	StatusGrantingAccess    Status = "GA"
	StatusLinked            Status = "LN"
	StatusSuspended         Status = "SU"
	StatusExpired           Status = "EX"
)

// Failed reports whether the requisition ended without yielding accounts.
func (s Status) Failed() bool {
	return s == StatusRejected || s == StatusSuspended || s == StatusExpired
}

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusLinked || s.Failed()
}

// BankAccount is a promoted account from a linked requisition.
// WalletAccountID maps it to a ledger account; while empty the account is
// not eligible for syncing.
type BankAccount struct {
	ID              string `json:"id"`
	InstitutionID   string `json:"institution_id"`
	Status          string `json:"status,omitempty"`
	IBAN            string `json:"iban,omitempty"`
	OwnerName       string `json:"owner_name,omitempty"`
	WalletAccountID string `json:"wallet_account_id,omitempty"`
}

// SyncEligible reports whether the account can be picked up by the sync
// pipeline.
func (a BankAccount) SyncEligible() bool {
	return a.WalletAccountID != ""
}
