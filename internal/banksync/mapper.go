package banksync

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
)

const commentSeparator = " | "

// defaultComment labels transactions whose wire record carries no usable
// text at all.
const defaultComment = "Bank transaction"

// MapTransactions maps a booked batch onto ledger activity records for one
// wallet account. Unmappable transactions (zero or unparsable amount, no
// date) and in-batch duplicates are dropped; the second return value counts
// them.
func MapTransactions(walletAccountID string, txs []aggregator.Transaction) ([]ledger.ActivityRecord, int) {
	records := make([]ledger.ActivityRecord, 0, len(txs))
	seen := make(map[string]bool, len(txs))
	skipped := 0
	for _, tx := range txs {
		rec, ok := MapTransaction(walletAccountID, tx)
		if !ok {
			skipped++
			continue
		}
		if rec.ExternalRef != "" {
			if seen[rec.ExternalRef] {
				skipped++
				continue
			}
			seen[rec.ExternalRef] = true
		}
		records = append(records, rec)
	}
	return records, skipped
}

// MapTransaction maps a single wire transaction. The second return value is
// false when the transaction cannot become a ledger activity.
func MapTransaction(walletAccountID string, tx aggregator.Transaction) (ledger.ActivityRecord, bool) {
	amount, err := strconv.ParseFloat(tx.TransactionAmount.Amount, 64)
	if err != nil || amount == 0 {
		return ledger.ActivityRecord{}, false
	}

	date, ok := activityDate(tx)
	if !ok {
		return ledger.ActivityRecord{}, false
	}

	kind := ledger.ActivityDeposit
	if amount < 0 {
		kind = ledger.ActivityWithdrawal
	}

	return ledger.ActivityRecord{
		AccountID:   walletAccountID,
		Type:        kind,
		Date:        date,
		Quantity:    1,
		UnitPrice:   math.Abs(amount),
		Currency:    tx.TransactionAmount.Currency,
		Fee:         0,
		Comment:     activityComment(tx),
		ExternalRef: externalRef(tx),
	}, true
}

// activityDate picks the activity date by priority: bookingDate, then the
// date portion of bookingDateTime, then valueDate, then the date portion of
// valueDateTime.
func activityDate(tx aggregator.Transaction) (time.Time, bool) {
	for _, candidate := range []string{tx.BookingDate, tx.BookingDateTime, tx.ValueDate, tx.ValueDateTime} {
		if len(candidate) > 10 {
			candidate = candidate[:10]
		}
		if candidate == "" {
			continue
		}
		if ts, err := time.Parse("2006-01-02", candidate); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// activityComment assembles a human-readable comment: counterparty name,
// then remittance text, then additional information only when nothing else
// is present, then a transaction-id reference tag.
func activityComment(tx aggregator.Transaction) string {
	var parts []string
	if name := counterparty(tx); name != "" {
		parts = append(parts, name)
	}
	if text := remittance(tx); text != "" {
		parts = append(parts, text)
	}
	if len(parts) == 0 && tx.AdditionalInformation != "" {
		parts = append(parts, tx.AdditionalInformation)
	}
	if ref := externalRef(tx); ref != "" {
		parts = append(parts, fmt.Sprintf("(ref: %s)", ref))
	}
	if len(parts) == 0 {
		return defaultComment
	}
	return strings.Join(parts, commentSeparator)
}

func counterparty(tx aggregator.Transaction) string {
	if tx.CreditorName != "" {
		return tx.CreditorName
	}
	return tx.DebtorName
}

func remittance(tx aggregator.Transaction) string {
	if tx.RemittanceInformationUnstructured != "" {
		return tx.RemittanceInformationUnstructured
	}
	if len(tx.RemittanceInformationUnstructuredArray) > 0 {
		return strings.Join(tx.RemittanceInformationUnstructuredArray, commentSeparator)
	}
	return tx.RemittanceInformationStructured
}

func externalRef(tx aggregator.Transaction) string {
	if tx.TransactionID != "" {
		return tx.TransactionID
	}
	return tx.InternalTransactionID
}
