package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"github.com/atelier-b2b/atelier/internal/app"
	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/fulfillment"
	jobmetrics "github.com/atelier-b2b/atelier/internal/jobs"
	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/platform/cache"
	"github.com/atelier-b2b/atelier/internal/platform/db"
	"github.com/atelier-b2b/atelier/internal/sales"
	"github.com/atelier-b2b/atelier/internal/shared"
	"github.com/atelier-b2b/atelier/internal/users"
	"github.com/atelier-b2b/atelier/jobs"
)

const sweepLockKey = "atelier:lock:expiry-sweep"

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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	money, err := notifications.NewMoneyFormatter(cfg.Currency, language.English)
	if err != nil {
		logger.Error("init money formatter", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := jobmetrics.NewMetrics(nil)

	salesRepo := sales.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	salesService := sales.NewService(sales.Deps{
		Repo:        salesRepo,
		Users:       users.NewService(users.NewRepository(pool)),
		Catalog:     catalog.NewCachedSource(catalog.NewRepository(pool), redisClient, cfg.CatalogCacheTTL, logger),
		Notifier:    notifications.NewDispatcher(jobClient, logger),
		Fulfillment: jobClient,
		Idempotency: idempotencyStore,
		Audit:       shared.NewAuditLogger(pool),
		Logger:      logger,
		Money:       money,
	}, sales.Config{
		QuotationValidity:  cfg.QuotationValidity,
		PaymentWindow:      cfg.PaymentWindow,
		ReminderLead:       cfg.ReminderLead,
		CatalogConcurrency: cfg.CatalogConcurrency,
		SweepBatch:         cfg.SweepBatch,
	})

	sweepLock, err := cache.NewRedisLock(redisClient, sweepLockKey, cfg.SweepLockTTL)
	if err != nil {
		logger.Error("init sweep lock", slog.Any("error", err))
		os.Exit(1)
	}
	sweepJob := jobs.NewExpirySweepJob(salesService, sweepLock, logger, metrics)
	deliverJob := jobs.NewNotificationDeliverJob(notifications.NewStore(pool), logger, metrics)
	forwardJob := jobs.NewFulfillmentForwardJob(salesRepo,
		fulfillment.NewClient(cfg.FulfillmentURL, cfg.FulfillmentTimeout), logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	sweepTask, err := jobs.NewExpirySweepTask(false)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpirySweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskNotificationDeliver, Handler: deliverJob.Handle},
			{Type: jobs.TaskFulfillmentForward, Handler: forwardJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := app.Serve(ctx, metricsServer, logger); err != nil {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
