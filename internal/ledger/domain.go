// Package ledger implements the activity-import capability: validation of
// candidate records and persistence into the ledger database.
package ledger

import "time"

// ActivityType classifies a ledger activity.
type ActivityType string

// Activity types produced by the bank sync pipeline.
const (
	ActivityDeposit    ActivityType = "DEPOSIT"
	ActivityWithdrawal ActivityType = "WITHDRAWAL"
)

// ActivityRecord is the normalized ledger-facing record. Quantity is always
// 1 and Fee always 0 for bank transactions; UnitPrice carries the absolute
// amount.
type ActivityRecord struct {
	AccountID   string       `json:"account_id" validate:"required"`
	Type        ActivityType `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Date        time.Time    `json:"date" validate:"required"`
	Quantity    float64      `json:"quantity" validate:"eq=1"`
	UnitPrice   float64      `json:"unit_price" validate:"gt=0"`
	Currency    string       `json:"currency" validate:"required,iso4217"`
	Fee         float64      `json:"fee" validate:"eq=0"`
	Comment     string       `json:"comment"`
	ExternalRef string       `json:"external_ref,omitempty"`
}

// ImportCheck is the validation verdict for a candidate batch. Errors are
// hard failures; warnings do not block an import.
type ImportCheck struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
