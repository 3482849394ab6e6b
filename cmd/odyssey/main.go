package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-close/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-close/internal/app"
	"github.com/odyssey-erp/odyssey-close/internal/close"
	closehttp "github.com/odyssey-erp/odyssey-close/internal/close/http"
	"github.com/odyssey-erp/odyssey-close/internal/observability"
	"github.com/odyssey-erp/odyssey-close/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
	"github.com/odyssey-erp/odyssey-close/internal/rbac"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
	"github.com/odyssey-erp/odyssey-close/jobs"
	"github.com/odyssey-erp/odyssey-close/migrations"
	"github.com/odyssey-erp/odyssey-close/report"
)

const usage = `usage: odyssey [command]

commands:
  serve                      run the HTTP API (default)
  migrate                    apply pending database migrations
  migrate down [N]           revert the latest N migrations (default 1)
  diagnose --period N        check close readiness of a period
  diagnose --status S        check every period in status S
  jobs trigger NAME          enqueue lock-sweep or gl-integrity now
  jobs stats                 print default queue counters
`

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

	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger, args)
	case "diagnose":
		os.Exit(diagnose(ctx, cfg, logger, args))
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func connectPostgres(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
}

// newCloseService wires the workflow service with every collaborator available in this process.
func newCloseService(pool *pgxpool.Pool, redisClient *redis.Client, queue jobs.Enqueuer, cfg *app.Config, metrics *observability.Metrics, logger *slog.Logger) (*close.Service, *rbac.Service, *shared.AuditLogger) {
	rbacService := rbac.NewService(pool)
	auditLogger := shared.NewAuditLogger(pool)
	engine := close.NewEngine(close.NewLedgerReader(pool), nil)

	opts := []close.Option{
		close.WithAudit(auditLogger),
		close.WithLogger(logger),
	}
	if metrics != nil {
		opts = append(opts, close.WithMetrics(metrics))
	}
	if redisClient != nil {
		opts = append(opts, close.WithLocker(cache.NewLocker(redisClient)))
	}
	if queue != nil {
		opts = append(opts, close.WithEvents(jobs.NewEventBus(queue)))
	}
	if cfg.CloseFourEyesAdjustmentDelete {
		opts = append(opts, close.WithAdjustmentApprover(close.NewDeletionApprovalPolicy(shared.NewApprovalRecorder(pool, logger))))
	}
	service := close.NewService(close.NewRepository(pool), engine, rbacService, cfg.CloseConfig(), opts...)
	return service, rbacService, auditLogger
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queue := jobs.NewClient(cfg.AsynqRedis())
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	service, rbacService, auditLogger := newCloseService(pool, redisClient, queue, cfg, metrics, logger)
	if err := rbacService.SeedPeriodClosePermissions(ctx); err != nil {
		logger.Warn("seed period close permissions", slog.Any("error", err))
	}
	rbacMiddleware := rbac.Middleware{Source: rbacService, Logger: logger}

	closeHandler := closehttp.NewHandler(logger, service, rbacMiddleware,
		closehttp.WithIdempotency(shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)),
		closehttp.WithAuditLog(auditLogger),
	)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		CloseHandler:       closeHandler,
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		ReportHandler:      report.NewHandler(logger, report.NewClient(cfg.GotenbergURL), service, rbacMiddleware),
		Metrics:            metrics,
		Readiness: map[string]app.Pinger{
			"postgres": pool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) > 0 && args[0] == "down" {
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("migrate down: invalid step count %q", args[1])
			}
			steps = n
		}
		res, err := migrations.Rollback(cfg.PGDSN, steps)
		if err != nil {
			return err
		}
		logger.Info("migrations reverted", slog.Uint64("from", uint64(res.From)), slog.Uint64("to", uint64(res.To)))
		return nil
	}

	res, err := migrations.Apply(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	if res.Applied() {
		logger.Info("migrations applied", slog.Uint64("from", uint64(res.From)), slog.Uint64("to", uint64(res.To)))
	}

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := rbac.NewService(pool).SeedPeriodClosePermissions(ctx); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	logger.Info("database up to date", slog.Uint64("version", uint64(res.To)))
	return nil
}

func diagnose(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	periodID := fs.Int64("period", 0, "accounting period id")
	status := fs.String("status", "", "diagnose every period in this status")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	service, _, _ := newCloseService(pool, nil, nil, cfg, nil, logger)
	ops, err := cli.NewCloseOpsCLI(service)
	if err != nil {
		logger.Error("close cli", slog.Any("error", err))
		return 1
	}
	return ops.DiagnoseCommand(ctx, cli.DiagnoseOptions{PeriodID: *periodID, Status: *status, JSONOutput: *asJSON})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: expected trigger or stats")
	}
	ops, err := cli.NewJobsCLI(cfg.AsynqRedis())
	if err != nil {
		return err
	}
	defer ops.Close() //nolint:errcheck

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: job name required")
		}
		info, err := ops.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := ops.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		scheduled, err := ops.ListScheduled(ctx, 10)
		if err != nil {
			return err
		}
		for _, task := range scheduled {
			fmt.Printf("  %s %s at %s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %s", args[0])
	}
	return nil
}
