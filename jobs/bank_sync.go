package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ledgerlink/ledgerlink/internal/banksync"
	jobmetrics "github.com/ledgerlink/ledgerlink/internal/jobs"
)

// SyncRunner is the sync pipeline surface the worker drives.
type SyncRunner interface {
	SyncEligible(ctx context.Context, opts banksync.SyncOptions) ([]banksync.SyncResult, error)
	SyncOne(ctx context.Context, bankAccountID string, opts banksync.SyncOptions) (banksync.SyncResult, error)
}

// CleanupRunner removes stale requisitions.
type CleanupRunner interface {
	CleanupStale(ctx context.Context) ([]string, error)
}

// NewBankSyncHandler builds the handler for TaskBankSync.
func NewBankSyncHandler(runner SyncRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BankSyncPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		tracker := metrics.Track("bank_sync")

		var results []banksync.SyncResult
		var err error
		if payload.BankAccountID != "" {
			var result banksync.SyncResult
			result, err = runner.SyncOne(ctx, payload.BankAccountID, banksync.SyncOptions{})
			results = []banksync.SyncResult{result}
		} else {
			results, err = runner.SyncEligible(ctx, banksync.SyncOptions{})
		}
		if err != nil {
			logger.Error("bank sync job", slog.Any("error", err))
			return tracker.End(err)
		}

		for _, result := range results {
			if result.Failed() {
				logger.Warn("bank sync job account failed",
					slog.String("bank_account_id", result.BankAccountID),
					slog.Any("errors", result.Errors))
				continue
			}
			logger.Info("bank sync job account done",
				slog.String("bank_account_id", result.BankAccountID),
				slog.Int("imported", result.Imported),
				slog.Int("skipped", result.Skipped))
		}
		return tracker.End(nil)
	}
}

// NewRequisitionCleanupHandler builds the handler for TaskRequisitionCleanup.
func NewRequisitionCleanupHandler(runner CleanupRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("requisition_cleanup")
		removed, err := runner.CleanupStale(ctx)
		if err != nil {
			logger.Error("requisition cleanup job", slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("requisition cleanup job done", slog.Int("removed", len(removed)))
		return tracker.End(nil)
	}
}
