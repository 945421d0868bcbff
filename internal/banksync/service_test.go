package banksync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
	"github.com/ledgerlink/ledgerlink/internal/linking"
	"github.com/ledgerlink/ledgerlink/internal/secrets"
)

type memStore struct {
	mu     sync.Mutex
	values map[secrets.Key]string
}

func newMemStore() *memStore {
	return &memStore{values: make(map[secrets.Key]string)}
}

func (s *memStore) Get(ctx context.Context, key secrets.Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key secrets.Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key secrets.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memStore) watermark(t *testing.T, accountID string) (string, bool) {
	t.Helper()
	v, err := s.Get(context.Background(), secrets.SyncWatermarkKey(accountID))
	if errors.Is(err, secrets.ErrNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return v, true
}

type fetchedWindow struct {
	accountID string
	dateFrom  string
	dateTo    string
}

type fakeSyncAPI struct {
	booked   map[string][]aggregator.Transaction
	fetchErr map[string]error
	balances map[string][]aggregator.Balance
	windows  []fetchedWindow
}

func newFakeSyncAPI() *fakeSyncAPI {
	return &fakeSyncAPI{
		booked:   make(map[string][]aggregator.Transaction),
		fetchErr: make(map[string]error),
		balances: make(map[string][]aggregator.Balance),
	}
}

func (f *fakeSyncAPI) AccountTransactions(ctx context.Context, id, dateFrom, dateTo string) (*aggregator.TransactionBuckets, error) {
	f.windows = append(f.windows, fetchedWindow{accountID: id, dateFrom: dateFrom, dateTo: dateTo})
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	return &aggregator.TransactionBuckets{Booked: f.booked[id]}, nil
}

func (f *fakeSyncAPI) AccountBalances(ctx context.Context, id string) ([]aggregator.Balance, error) {
	return f.balances[id], nil
}

type fakeLedger struct {
	validationErrs map[string][]string
	importErrs     map[string]error
	imported       []ledger.ActivityRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		validationErrs: make(map[string][]string),
		importErrs:     make(map[string]error),
	}
}

func (f *fakeLedger) CheckImport(ctx context.Context, accountID string, records []ledger.ActivityRecord) (ledger.ImportCheck, error) {
	if errs := f.validationErrs[accountID]; len(errs) > 0 {
		return ledger.ImportCheck{Valid: false, Errors: errs}, nil
	}
	return ledger.ImportCheck{Valid: true}, nil
}

func (f *fakeLedger) Import(ctx context.Context, records []ledger.ActivityRecord) (int, error) {
	if len(records) > 0 {
		if err := f.importErrs[records[0].AccountID]; err != nil {
			return 0, err
		}
	}
	f.imported = append(f.imported, records...)
	return len(records), nil
}

type fakeAccounts struct {
	accounts []linking.BankAccount
}

func (f *fakeAccounts) SyncEligibleAccounts(ctx context.Context) ([]linking.BankAccount, error) {
	return f.accounts, nil
}

var testToday = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestSync(t *testing.T) (*Service, *fakeSyncAPI, *fakeLedger, *fakeAccounts, *memStore) {
	t.Helper()
	api := newFakeSyncAPI()
	ledgerSvc := newFakeLedger()
	accounts := &fakeAccounts{}
	store := newMemStore()
	svc := NewService(api, ledgerSvc, accounts, store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, ServiceConfig{})
	svc.now = func() time.Time { return testToday }
	return svc, api, ledgerSvc, accounts, store
}

func TestSyncAccountDefaultWindowIsNinetyDays(t *testing.T) {
	svc, api, _, _, _ := newTestSync(t)
	api.booked["bank-1"] = []aggregator.Transaction{bookedTx("tx-1", "-5.00")}

	result := svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{})
	require.False(t, result.Failed())
	require.Len(t, api.windows, 1)
	require.Equal(t, "2024-01-11", api.windows[0].dateFrom)
	require.Equal(t, "2024-04-10", api.windows[0].dateTo)
	require.Equal(t, 1, result.Imported)
}

func TestSyncAccountResumesFromWatermark(t *testing.T) {
	svc, api, _, _, store := newTestSync(t)
	require.NoError(t, store.Set(context.Background(), secrets.SyncWatermarkKey("bank-1"), "2024-03-01"))

	result := svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{})
	require.False(t, result.Failed())
	require.Equal(t, "2024-03-01", api.windows[0].dateFrom)

	watermark, ok := store.watermark(t, "bank-1")
	require.True(t, ok)
	require.Equal(t, "2024-04-10", watermark)
}

func TestSyncAccountFetchFailureKeepsWatermark(t *testing.T) {
	svc, api, _, _, store := newTestSync(t)
	api.fetchErr["bank-1"] = &aggregator.APIError{Status: 429, Detail: "Rate limit exceeded"}

	result := svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{})
	require.True(t, result.Failed())
	require.Contains(t, result.Errors[0], "fetch")

	_, ok := store.watermark(t, "bank-1")
	require.False(t, ok)
}

func TestSyncAccountValidationErrorKeepsWatermark(t *testing.T) {
	svc, api, ledgerSvc, _, store := newTestSync(t)
	api.booked["bank-1"] = []aggregator.Transaction{bookedTx("tx-1", "-5.00")}
	ledgerSvc.validationErrs["wallet-1"] = []string{"record 0: bad currency"}

	result := svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{})
	require.True(t, result.Failed())
	require.Zero(t, result.Imported)
	require.Contains(t, result.Errors[0], "validate")
	require.Empty(t, ledgerSvc.imported)

	_, ok := store.watermark(t, "bank-1")
	require.False(t, ok, "validation errors must not advance the watermark")
}

func TestSyncAccountImportFailureStillAdvancesWatermark(t *testing.T) {
	svc, api, ledgerSvc, _, store := newTestSync(t)
	api.booked["bank-1"] = []aggregator.Transaction{
		bookedTx("tx-1", "-5.00"),
		bookedTx("tx-2", "10.00"),
	}
	ledgerSvc.importErrs["wallet-1"] = errors.New("ledger unavailable")

	result := svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{})
	require.True(t, result.Failed())
	require.Zero(t, result.Imported)
	require.Equal(t, 2, result.Skipped)
	require.Contains(t, result.Errors[0], "import")

	watermark, ok := store.watermark(t, "bank-1")
	require.True(t, ok, "import failure still advances the watermark")
	require.Equal(t, "2024-04-10", watermark)
}

func TestSyncAccountWatermarkNeverMovesBackwards(t *testing.T) {
	svc, _, _, _, store := newTestSync(t)
	require.NoError(t, store.Set(context.Background(), secrets.SyncWatermarkKey("bank-1"), "2024-04-01"))

	result := svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{
		DateFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.False(t, result.Failed())

	watermark, ok := store.watermark(t, "bank-1")
	require.True(t, ok)
	require.Equal(t, "2024-04-01", watermark, "historical re-sync must not shrink the processed range")
}

func TestSyncAccountReportsProgressStages(t *testing.T) {
	svc, api, _, _, _ := newTestSync(t)
	api.booked["bank-1"] = []aggregator.Transaction{bookedTx("tx-1", "-5.00")}

	var stages []Stage
	svc.SyncAccount(context.Background(), "bank-1", "wallet-1", SyncOptions{
		OnProgress: func(_ string, stage Stage) { stages = append(stages, stage) },
	})
	require.Equal(t, []Stage{
		StageResolveWindow, StageFetch, StageMap, StageValidate, StageImport, StageFinalize,
	}, stages)
}

func TestSyncAllIsolatesAccountFailures(t *testing.T) {
	svc, api, ledgerSvc, _, _ := newTestSync(t)
	accounts := []linking.BankAccount{
		{ID: "bank-1", WalletAccountID: "wallet-1"},
		{ID: "bank-2", WalletAccountID: "wallet-2"},
		{ID: "bank-3", WalletAccountID: "wallet-3"},
	}
	for _, account := range accounts {
		api.booked[account.ID] = []aggregator.Transaction{
			bookedTx(account.ID+"-tx-1", "-5.00"),
			bookedTx(account.ID+"-tx-2", "10.00"),
		}
	}
	ledgerSvc.importErrs["wallet-2"] = errors.New("ledger unavailable")

	results := svc.SyncAll(context.Background(), accounts, SyncOptions{})
	require.Len(t, results, 3)

	require.Equal(t, 2, results[0].Imported)
	require.False(t, results[0].Failed())

	require.Zero(t, results[1].Imported)
	require.Equal(t, 2, results[1].Skipped)
	require.NotEmpty(t, results[1].Errors)

	require.Equal(t, 2, results[2].Imported)
	require.False(t, results[2].Failed())

	// Strictly sequential: one fetch per account, in order.
	require.Equal(t, "bank-1", api.windows[0].accountID)
	require.Equal(t, "bank-2", api.windows[1].accountID)
	require.Equal(t, "bank-3", api.windows[2].accountID)
}

func TestSyncOneUnknownAccount(t *testing.T) {
	svc, _, _, accounts, _ := newTestSync(t)
	accounts.accounts = []linking.BankAccount{{ID: "bank-1", WalletAccountID: "wallet-1"}}

	_, err := svc.SyncOne(context.Background(), "ghost", SyncOptions{})
	require.ErrorIs(t, err, linking.ErrAccountNotFound)
}
