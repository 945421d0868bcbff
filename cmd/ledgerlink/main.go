package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/app"
	"github.com/ledgerlink/ledgerlink/internal/banksync"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
	"github.com/ledgerlink/ledgerlink/internal/linking"
	"github.com/ledgerlink/ledgerlink/internal/observability"
	"github.com/ledgerlink/ledgerlink/internal/platform/cache"
	"github.com/ledgerlink/ledgerlink/internal/secrets"
	"github.com/ledgerlink/ledgerlink/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	store := secrets.NewRedisStore(redisClient, cfg.SecretsKey)
	proxy := aggregator.NewHTTPProxy(cfg.AggregatorTimeout)

	tokens := aggregator.NewTokenManager(store, proxy, cfg.AggregatorBaseURL, logger, metrics)
	apiClient := aggregator.NewClient(proxy, tokens, cfg.AggregatorBaseURL, logger)
	aggregatorHandler := aggregator.NewHandler(logger, tokens, apiClient)

	linkingService := linking.NewService(apiClient, store, logger, linking.ServiceConfig{
		RedirectURL: cfg.RequisitionRedirectURL,
		UserLocale:  cfg.UserLocale,
		MaxAge:      cfg.RequisitionMaxAge,
	})
	linkingHandler := linking.NewHandler(logger, linkingService)

	ledgerRepo := ledger.NewRepository(dbpool)
	if err := ledgerRepo.EnsureSchema(ctx); err != nil {
		logger.Error("ensure ledger schema", slog.Any("error", err))
		os.Exit(1)
	}
	ledgerService := ledger.NewService(ledgerRepo)
	ledgerHandler := ledger.NewHandler(logger, ledgerRepo)

	syncService := banksync.NewService(apiClient, ledgerService, linkingService, store, logger, metrics, banksync.ServiceConfig{
		Lookback: cfg.SyncLookback,
	})

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	syncHandler := banksync.NewHandler(logger, syncService, jobClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AggregatorHandler: aggregatorHandler,
		LinkingHandler:    linkingHandler,
		SyncHandler:       syncHandler,
		LedgerHandler:     ledgerHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
