package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"paycore/internal/account"
	"paycore/internal/batch"
	"paycore/internal/config"
	"paycore/internal/db"
	"paycore/internal/fraud"
	"paycore/internal/gateway"
	"paycore/internal/locker"
	"paycore/internal/notify"
	"paycore/internal/observability"
	"paycore/internal/ops"
	"paycore/internal/reconcile"
	"paycore/internal/repository"
	"paycore/internal/settlement"
	"paycore/internal/validation"
	"paycore/internal/worker"
)

// Run bootstraps the settlement, batch and reconciliation workers plus
// the operational HTTP server, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NATSURL != "" {
		natsNotifier, err := notify.ConnectNATS(cfg.NATSURL, "paycore")
		if err != nil {
			logger.Warn("nats unavailable, notifications disabled", zap.Error(err))
		} else {
			defer natsNotifier.Close()
			notifier = natsNotifier
		}
	}

	repo := repository.NewPostgres(pool)
	locks := locker.NewRedisLocker(redisClient, cfg.Batch.LockTTL)
	accounts := account.NewMemory()
	gw := gateway.NewMockGateway()

	validator := validation.New(cfg.Limits)
	limits := validation.NewLimitGuard(repo, cfg.Limits)
	engine := fraud.NewEngine(cfg.Fraud)

	orchestrator := settlement.NewOrchestrator(repo, accounts, gw, notifier, validator, limits, engine, cfg, logger)
	scheduler := batch.NewScheduler(repo, repo, locks, cfg.Batch, logger)
	reconciler := reconcile.NewService(repo, gw, notifier, cfg.Reconciliation, logger)

	settlementWorker := worker.NewSettlementWorker(repo, orchestrator).
		WithPollInterval(cfg.SettlementPollInterval).
		WithWorkers(cfg.SettlementWorkers)
	batchWorker := worker.NewBatchWorker(repo, scheduler, orchestrator).
		WithPollInterval(cfg.BatchPollInterval)
	reconWorker := worker.NewReconciliationWorker(reconciler).
		WithInterval(cfg.ReconciliationInterval)

	stopSettlement := settlementWorker.Run(ctx)
	stopBatch := batchWorker.Run(ctx)
	stopRecon := reconWorker.Run(ctx)

	router := ops.NewRouter(pool, redisClient)
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSettlement()
	stopBatch()
	stopRecon()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
