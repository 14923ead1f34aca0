package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"

	"github.com/atelier-b2b/atelier/cmd/atelier/cli"
	"github.com/atelier-b2b/atelier/internal/app"
	"github.com/atelier-b2b/atelier/internal/auth"
	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/observability"
	"github.com/atelier-b2b/atelier/internal/platform/cache"
	"github.com/atelier-b2b/atelier/internal/platform/db"
	"github.com/atelier-b2b/atelier/internal/rbac"
	"github.com/atelier-b2b/atelier/internal/sales"
	"github.com/atelier-b2b/atelier/internal/shared"
	"github.com/atelier-b2b/atelier/internal/users"
	"github.com/atelier-b2b/atelier/jobs"
	"github.com/atelier-b2b/atelier/migrations"
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

	if len(os.Args) > 1 && os.Args[1] != "serve" {
		if err := runCommand(ctx, cfg, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
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
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	money, err := notifications.NewMoneyFormatter(cfg.Currency, language.English)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{}

	usersService := users.NewService(users.NewRepository(pool))
	catalogSource := catalog.NewCachedSource(catalog.NewRepository(pool), redisClient, cfg.CatalogCacheTTL, logger)
	notificationStore := notifications.NewStore(pool)

	salesService := sales.NewService(sales.Deps{
		Repo:        sales.NewRepository(pool),
		Users:       usersService,
		Catalog:     catalogSource,
		Notifier:    notifications.NewDispatcher(jobClient, logger),
		Fulfillment: jobClient,
		Idempotency: shared.NewIdempotencyStore(pool),
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

	router := app.NewRouter(app.RouterParams{
		Logger:   logger,
		Config:   cfg,
		Verifier: verifier,
		Pool:     pool,
		SalesHandler: sales.NewHandler(logger, salesService, rbacMiddleware,
			sales.WithRejectionRecorder(metrics),
			sales.WithSweepTrigger(jobClient),
		),
		UsersHandler:         users.NewHandler(logger, usersService, rbacMiddleware),
		NotificationsHandler: notifications.NewHandler(notificationStore, logger),
		PermissionsHandler:   rbac.NewPermissionsHandler(),
		JobHandler:           jobs.NewHandler(inspector, logger),
		RBACMiddleware:       rbacMiddleware,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	return app.Serve(ctx, server, logger)
}

const usage = `usage: atelier [serve]
       atelier migrate up|down|status|version
       atelier jobs trigger sweep:expiry|idempotency:cleanup
       atelier jobs stats
       atelier token <user_id> <role> [ttl]`

func runCommand(ctx context.Context, cfg *app.Config, args []string) error {
	switch args[0] {
	case "migrate":
		command := "up"
		if len(args) > 1 {
			command = args[1]
		}
		return db.Migrate(ctx, cfg.PGDSN, migrations.FS, command)
	case "jobs":
		return runJobs(ctx, cfg, args[1:])
	case "token":
		return issueToken(cfg, args[1:])
	default:
		return errors.New(usage)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jc := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}, cfg.IdempotencyRetention)
	defer func() { _ = jc.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := jc.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-9s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	default:
		return errors.New(usage)
	}
	return nil
}

// issueToken prints a bearer token for local testing.
func issueToken(cfg *app.Config, args []string) error {
	if cfg.IsProduction() {
		return errors.New("token issuing is disabled in production")
	}
	if len(args) < 2 {
		return errors.New(usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	role := shared.Role(args[1])
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", args[1])
	}
	ttl := 24 * time.Hour
	if len(args) > 2 {
		if ttl, err = time.ParseDuration(args[2]); err != nil {
			return err
		}
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(shared.Actor{ID: id, Role: role}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
