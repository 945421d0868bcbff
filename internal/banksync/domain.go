// Package banksync runs the per-account transaction sync pipeline: resolve
// the date window, fetch booked transactions, map them to ledger activities,
// validate, import, and advance the account's watermark.
package banksync

import "time"

// Stage is a pipeline progress milestone.
type Stage string

// Pipeline stages in execution order.
const (
	StageResolveWindow Stage = "resolve_window"
	StageFetch         Stage = "fetch"
	StageMap           Stage = "map"
	StageValidate      Stage = "validate"
	StageImport        Stage = "import"
	StageFinalize      Stage = "finalize"
)

// ProgressFunc observes pipeline milestones, e.g. to drive a UI.
type ProgressFunc func(bankAccountID string, stage Stage)

// SyncOptions overrides the resolved date window. A zero DateFrom falls back
// to the stored watermark (or the default lookback); a zero DateTo falls
// back to today. Passing an explicit DateFrom is the only way to re-process
// a window whose import previously failed.
type SyncOptions struct {
	DateFrom   time.Time
	DateTo     time.Time
	OnProgress ProgressFunc
}

// SyncResult is the outcome of one account's sync run. Every requested
// account yields exactly one result, success or failure.
type SyncResult struct {
	BankAccountID   string   `json:"bank_account_id"`
	WalletAccountID string   `json:"wallet_account_id"`
	DateFrom        string   `json:"date_from"`
	DateTo          string   `json:"date_to"`
	Imported        int      `json:"imported"`
	Skipped         int      `json:"skipped"`
	Errors          []string `json:"errors,omitempty"`
}

// Failed reports whether the run recorded any error.
func (r SyncResult) Failed() bool {
	return len(r.Errors) > 0
}
