package banksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
)

func bookedTx(id, amount string) aggregator.Transaction {
	return aggregator.Transaction{
		TransactionID:     id,
		BookingDate:       "2024-01-15",
		TransactionAmount: aggregator.Amount{Amount: amount, Currency: "EUR"},
		CreditorName:      "REWE Markt",
	}
}

func TestMapTransactionSigns(t *testing.T) {
	deposit, ok := MapTransaction("wallet-1", bookedTx("tx-1", "250.00"))
	require.True(t, ok)
	require.Equal(t, ledger.ActivityDeposit, deposit.Type)
	require.Equal(t, 250.0, deposit.UnitPrice)

	withdrawal, ok := MapTransaction("wallet-1", bookedTx("tx-2", "-12.30"))
	require.True(t, ok)
	require.Equal(t, ledger.ActivityWithdrawal, withdrawal.Type)
	require.Equal(t, 12.30, withdrawal.UnitPrice)
	require.Equal(t, 1.0, withdrawal.Quantity)
	require.Zero(t, withdrawal.Fee)
	require.Equal(t, "wallet-1", withdrawal.AccountID)
}

func TestMapTransactionDropsZeroAndUnparsableAmounts(t *testing.T) {
	_, ok := MapTransaction("wallet-1", bookedTx("tx-1", "0"))
	require.False(t, ok)

	_, ok = MapTransaction("wallet-1", bookedTx("tx-2", "twelve"))
	require.False(t, ok)
}

func TestMapTransactionDatePriority(t *testing.T) {
	tx := bookedTx("tx-1", "-5.00")
	tx.BookingDate = ""
	tx.BookingDateTime = "2024-02-01T09:30:00Z"
	tx.ValueDate = "2024-02-03"

	rec, ok := MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), rec.Date)

	tx.BookingDateTime = ""
	rec, ok = MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), rec.Date)
}

func TestMapTransactionDropsDatelessRecords(t *testing.T) {
	tx := bookedTx("tx-1", "-5.00")
	tx.BookingDate = ""

	_, ok := MapTransaction("wallet-1", tx)
	require.False(t, ok)
}

func TestMapTransactionCommentAssembly(t *testing.T) {
	tx := bookedTx("tx-1", "-5.00")
	tx.RemittanceInformationUnstructured = "KARTENZAHLUNG"

	rec, ok := MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, "REWE Markt | KARTENZAHLUNG | (ref: tx-1)", rec.Comment)
}

func TestMapTransactionJoinsUnstructuredArray(t *testing.T) {
	tx := bookedTx("tx-1", "-5.00")
	tx.CreditorName = ""
	tx.RemittanceInformationUnstructuredArray = []string{"SEPA", "Miete Januar"}

	rec, ok := MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, "SEPA | Miete Januar | (ref: tx-1)", rec.Comment)
}

func TestMapTransactionAdditionalInformationIsLastResort(t *testing.T) {
	tx := aggregator.Transaction{
		BookingDate:           "2024-01-15",
		TransactionAmount:     aggregator.Amount{Amount: "-5.00", Currency: "EUR"},
		AdditionalInformation: "Direct debit",
	}
	rec, ok := MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, "Direct debit", rec.Comment)

	// Once any higher-priority field is present the additional information
	// is left out entirely.
	tx.DebtorName = "Stadtwerke"
	rec, ok = MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, "Stadtwerke", rec.Comment)
}

func TestMapTransactionDefaultComment(t *testing.T) {
	tx := aggregator.Transaction{
		BookingDate:       "2024-01-15",
		TransactionAmount: aggregator.Amount{Amount: "-5.00", Currency: "EUR"},
	}
	rec, ok := MapTransaction("wallet-1", tx)
	require.True(t, ok)
	require.Equal(t, "Bank transaction", rec.Comment)
}

func TestMapTransactionsDeduplicatesByReference(t *testing.T) {
	records, skipped := MapTransactions("wallet-1", []aggregator.Transaction{
		bookedTx("tx-1", "-5.00"),
		bookedTx("tx-1", "-5.00"),
		bookedTx("tx-2", "0"),
	})
	require.Len(t, records, 1)
	require.Equal(t, 2, skipped)
	require.Equal(t, "tx-1", records[0].ExternalRef)
}

func TestPreferredBalance(t *testing.T) {
	balances := []aggregator.Balance{
		{BalanceType: "interimAvailable", BalanceAmount: aggregator.Amount{Amount: "90.00", Currency: "EUR"}},
		{BalanceType: "closingBooked", BalanceAmount: aggregator.Amount{Amount: "100.00", Currency: "EUR"}},
	}
	balance, ok := PreferredBalance(balances)
	require.True(t, ok)
	require.Equal(t, "closingBooked", balance.BalanceType)

	balance, ok = PreferredBalance([]aggregator.Balance{
		{BalanceType: "openingBooked", BalanceAmount: aggregator.Amount{Amount: "1.00", Currency: "EUR"}},
	})
	require.True(t, ok)
	require.Equal(t, "openingBooked", balance.BalanceType)

	_, ok = PreferredBalance(nil)
	require.False(t, ok)
}
