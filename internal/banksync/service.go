package banksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
	"github.com/ledgerlink/ledgerlink/internal/linking"
	"github.com/ledgerlink/ledgerlink/internal/observability"
	"github.com/ledgerlink/ledgerlink/internal/secrets"
)

const dateLayout = "2006-01-02"

// AggregatorPort defines the aggregator operations the pipeline needs.
type AggregatorPort interface {
	AccountTransactions(ctx context.Context, id, dateFrom, dateTo string) (*aggregator.TransactionBuckets, error)
	AccountBalances(ctx context.Context, id string) ([]aggregator.Balance, error)
}

// LedgerPort defines the ledger import capability the pipeline feeds.
type LedgerPort interface {
	CheckImport(ctx context.Context, accountID string, records []ledger.ActivityRecord) (ledger.ImportCheck, error)
	Import(ctx context.Context, records []ledger.ActivityRecord) (int, error)
}

// AccountsPort lists the accounts eligible for syncing.
type AccountsPort interface {
	SyncEligibleAccounts(ctx context.Context) ([]linking.BankAccount, error)
}

// ServiceConfig carries pipeline settings.
type ServiceConfig struct {
	// Lookback bounds the first sync of an account with no watermark.
	Lookback time.Duration
}

// Service runs the transaction sync pipeline.
type Service struct {
	api      AggregatorPort
	ledger   LedgerPort
	accounts AccountsPort
	store    secrets.Store
	logger   *slog.Logger
	metrics  *observability.Metrics
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService builds the pipeline.
func NewService(api AggregatorPort, ledgerSvc LedgerPort, accounts AccountsPort, store secrets.Store, logger *slog.Logger, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * 24 * time.Hour
	}
	return &Service{
		api:      api,
		ledger:   ledgerSvc,
		accounts: accounts,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SyncAccount runs the full pipeline for one account and always returns a
// result, success or failure.
func (s *Service) SyncAccount(ctx context.Context, bankAccountID, walletAccountID string, opts SyncOptions) SyncResult {
	result := SyncResult{BankAccountID: bankAccountID, WalletAccountID: walletAccountID}
	progress := func(stage Stage) {
		if opts.OnProgress != nil {
			opts.OnProgress(bankAccountID, stage)
		}
	}

	progress(StageResolveWindow)
	dateFrom, dateTo := s.resolveWindow(ctx, bankAccountID, opts)
	result.DateFrom = dateFrom
	result.DateTo = dateTo

	progress(StageFetch)
	buckets, err := s.api.AccountTransactions(ctx, bankAccountID, dateFrom, dateTo)
	if err != nil {
		// Nothing was processed, so the watermark stays put and the window
		// is retried on the next run.
		result.Errors = append(result.Errors, fmt.Sprintf("fetch: %v", err))
		s.observe(result)
		return result
	}

	progress(StageMap)
	records, unmappable := MapTransactions(walletAccountID, buckets.Booked)
	result.Skipped += unmappable

	progress(StageValidate)
	check, err := s.ledger.CheckImport(ctx, walletAccountID, records)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("validate: %v", err))
		s.observe(result)
		return result
	}
	if !check.Valid {
		// Hard validation errors abort without a partial import and without
		// advancing the watermark.
		for _, msg := range check.Errors {
			result.Errors = append(result.Errors, "validate: "+msg)
		}
		s.observe(result)
		return result
	}
	for _, msg := range check.Warnings {
		s.logger.Warn("sync validation warning",
			slog.String("bank_account_id", bankAccountID), slog.String("warning", msg))
	}

	progress(StageImport)
	imported, err := s.ledger.Import(ctx, records)
	if err != nil {
		// At-most-once-per-window: the failure is reported but the watermark
		// still advances below. Re-syncing the window needs an explicit
		// DateFrom override.
		result.Imported = 0
		result.Skipped += len(records)
		result.Errors = append(result.Errors, fmt.Sprintf("import: %v", err))
	} else {
		result.Imported = imported
		result.Skipped += len(records) - imported
	}

	progress(StageFinalize)
	if err := s.advanceWatermark(ctx, bankAccountID, dateTo); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("watermark: %v", err))
	}

	s.observe(result)
	s.logger.Info("account sync finished",
		slog.String("bank_account_id", bankAccountID),
		slog.String("date_from", dateFrom),
		slog.String("date_to", dateTo),
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)))
	return result
}

// SyncAll runs the pipeline for each account strictly in sequence. One
// account's failure is captured in its result and never aborts the rest.
func (s *Service) SyncAll(ctx context.Context, accounts []linking.BankAccount, opts SyncOptions) []SyncResult {
	results := make([]SyncResult, 0, len(accounts))
	for _, account := range accounts {
		if ctx.Err() != nil {
			results = append(results, SyncResult{
				BankAccountID:   account.ID,
				WalletAccountID: account.WalletAccountID,
				Errors:          []string{fmt.Sprintf("aborted: %v", ctx.Err())},
			})
			continue
		}
		results = append(results, s.SyncAccount(ctx, account.ID, account.WalletAccountID, opts))
	}
	return results
}

// SyncEligible syncs every account with a wallet mapping.
func (s *Service) SyncEligible(ctx context.Context, opts SyncOptions) ([]SyncResult, error) {
	accounts, err := s.accounts.SyncEligibleAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("banksync: list eligible accounts: %w", err)
	}
	return s.SyncAll(ctx, accounts, opts), nil
}

// SyncOne resolves the wallet mapping for one eligible account and syncs
// it.
func (s *Service) SyncOne(ctx context.Context, bankAccountID string, opts SyncOptions) (SyncResult, error) {
	accounts, err := s.accounts.SyncEligibleAccounts(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("banksync: list eligible accounts: %w", err)
	}
	for _, account := range accounts {
		if account.ID == bankAccountID {
			return s.SyncAccount(ctx, account.ID, account.WalletAccountID, opts), nil
		}
	}
	return SyncResult{}, fmt.Errorf("%w: %s", linking.ErrAccountNotFound, bankAccountID)
}

// Balance returns the display balance for an account.
func (s *Service) Balance(ctx context.Context, bankAccountID string) (aggregator.Balance, error) {
	balances, err := s.api.AccountBalances(ctx, bankAccountID)
	if err != nil {
		return aggregator.Balance{}, err
	}
	balance, ok := PreferredBalance(balances)
	if !ok {
		return aggregator.Balance{}, fmt.Errorf("banksync: account %s reported no balances", bankAccountID)
	}
	return balance, nil
}

// resolveWindow picks the sync window: explicit override, else the stored
// watermark, else the configured lookback; the upper bound defaults to
// today.
func (s *Service) resolveWindow(ctx context.Context, bankAccountID string, opts SyncOptions) (string, string) {
	dateTo := s.now().Format(dateLayout)
	if !opts.DateTo.IsZero() {
		dateTo = opts.DateTo.Format(dateLayout)
	}

	if !opts.DateFrom.IsZero() {
		return opts.DateFrom.Format(dateLayout), dateTo
	}
	if watermark, ok := s.loadWatermark(ctx, bankAccountID); ok {
		return watermark, dateTo
	}
	return s.now().Add(-s.cfg.Lookback).Format(dateLayout), dateTo
}

func (s *Service) loadWatermark(ctx context.Context, bankAccountID string) (string, bool) {
	raw, err := s.store.Get(ctx, secrets.SyncWatermarkKey(bankAccountID))
	if errors.Is(err, secrets.ErrNotFound) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("load watermark",
			slog.String("bank_account_id", bankAccountID), slog.Any("error", err))
		return "", false
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		s.logger.Warn("discarding malformed watermark",
			slog.String("bank_account_id", bankAccountID), slog.String("value", raw))
		return "", false
	}
	return raw, true
}

// advanceWatermark moves the stored watermark forward to dateTo. It never
// moves backwards, so an explicit historical re-sync does not shrink the
// processed range.
func (s *Service) advanceWatermark(ctx context.Context, bankAccountID, dateTo string) error {
	if current, ok := s.loadWatermark(ctx, bankAccountID); ok && strings.Compare(dateTo, current) < 0 {
		return nil
	}
	return s.store.Set(ctx, secrets.SyncWatermarkKey(bankAccountID), dateTo)
}

func (s *Service) observe(result SyncResult) {
	s.metrics.ObserveSync(result.Imported, result.Skipped, result.Failed())
}
