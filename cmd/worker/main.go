package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/app"
	"github.com/ledgerlink/ledgerlink/internal/banksync"
	jobmetrics "github.com/ledgerlink/ledgerlink/internal/jobs"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
	"github.com/ledgerlink/ledgerlink/internal/linking"
	"github.com/ledgerlink/ledgerlink/internal/observability"
	"github.com/ledgerlink/ledgerlink/internal/platform/cache"
	"github.com/ledgerlink/ledgerlink/internal/secrets"
	"github.com/ledgerlink/ledgerlink/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	store := secrets.NewRedisStore(redisClient, cfg.SecretsKey)
	proxy := aggregator.NewHTTPProxy(cfg.AggregatorTimeout)

	tokens := aggregator.NewTokenManager(store, proxy, cfg.AggregatorBaseURL, logger, metrics)
	apiClient := aggregator.NewClient(proxy, tokens, cfg.AggregatorBaseURL, logger)

	linkingService := linking.NewService(apiClient, store, logger, linking.ServiceConfig{
		RedirectURL: cfg.RequisitionRedirectURL,
		UserLocale:  cfg.UserLocale,
		MaxAge:      cfg.RequisitionMaxAge,
	})

	ledgerRepo := ledger.NewRepository(pool)
	if err := ledgerRepo.EnsureSchema(ctx); err != nil {
		logger.Error("ensure ledger schema", slog.Any("error", err))
		os.Exit(1)
	}
	ledgerService := ledger.NewService(ledgerRepo)

	syncService := banksync.NewService(apiClient, ledgerService, linkingService, store, logger, metrics, banksync.ServiceConfig{
		Lookback: cfg.SyncLookback,
	})

	syncTask, err := jobs.NewBankSyncTask(jobs.BankSyncPayload{})
	if err != nil {
		logger.Error("build sync task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask := jobs.NewRequisitionCleanupTask()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBankSync, Handler: jobs.NewBankSyncHandler(syncService, logger, jobMetrics)},
			{Type: jobs.TaskRequisitionCleanup, Handler: jobs.NewRequisitionCleanupHandler(linkingService, logger, jobMetrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SyncCron, Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
