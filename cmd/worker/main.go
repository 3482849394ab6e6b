package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/odyssey-erp/odyssey-close/internal/app"
	"github.com/odyssey-erp/odyssey-close/internal/close"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
	"github.com/odyssey-erp/odyssey-close/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
	"github.com/odyssey-erp/odyssey-close/internal/rbac"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
	"github.com/odyssey-erp/odyssey-close/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.AsynqRedis()
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	service := close.NewService(
		close.NewRepository(pool),
		close.NewEngine(close.NewLedgerReader(pool), nil),
		rbac.NewService(pool),
		cfg.CloseConfig(),
		close.WithLogger(logger),
	)

	emailHandler := jobs.EmailHandler{
		Mailer: jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom),
		Logger: logger,
	}
	recipients := cfg.Recipients()
	if len(recipients) == 0 {
		logger.Warn("CLOSE_NOTIFY_RECIPIENTS empty, period close events will only be logged")
	}
	eventHandler := &jobs.CloseEventHandler{
		Store:      shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL),
		Queue:      queue,
		Recipients: recipients,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.NotifyPerSecond), 1),
		Logger:     logger,
		Metrics:    metrics,
	}
	lockSweep := jobs.NewLockSweepJob(service, logger, metrics)
	glIntegrity := &jobs.GLIntegrityJob{Service: service, Logger: logger, Metrics: metrics}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: emailHandler.Handle},
			{Type: jobs.TaskPeriodCloseEvent, Handler: eventHandler.Handle},
			{Type: jobs.TaskPeriodCloseLockSweep, Handler: lockSweep.Handle},
			{Type: jobs.TaskGLIntegrity, Handler: glIntegrity.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LockSweepCron, Task: jobs.NewLockSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
			{Spec: cfg.GLIntegrityCron, Task: jobs.NewGLIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
