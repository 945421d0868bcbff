package secrets

import "fmt"

// Key is a namespaced secret store key. Constructors below are the only
// way keys are built so distinct concerns can never collide.
type Key string

const prefix = "ledgerlink"

// CredentialsKey stores the aggregator secret id/key pair.
func CredentialsKey() Key {
	return Key(prefix + ":aggregator:credentials")
}

// TokensKey stores the current access/refresh token pair.
func TokensKey() Key {
	return Key(prefix + ":aggregator:tokens")
}

// RequisitionsKey stores tracked bank-consent requisitions.
func RequisitionsKey() Key {
	return Key(prefix + ":linking:requisitions")
}

// LinkedAccountsKey stores promoted bank account records.
func LinkedAccountsKey() Key {
	return Key(prefix + ":linking:accounts")
}

// SyncWatermarkKey stores the last synced date for one bank account.
func SyncWatermarkKey(accountID string) Key {
	return Key(fmt.Sprintf("%s:sync:watermark:%s", prefix, accountID))
}
