package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/approval"
	"github.com/iliyamo/lab-reservation/internal/config"
	"github.com/iliyamo/lab-reservation/internal/database"
	"github.com/iliyamo/lab-reservation/internal/handler"
	"github.com/iliyamo/lab-reservation/internal/logging"
	"github.com/iliyamo/lab-reservation/internal/payment"
	"github.com/iliyamo/lab-reservation/internal/queue"
	"github.com/iliyamo/lab-reservation/internal/repository"
	"github.com/iliyamo/lab-reservation/internal/router"
	"github.com/iliyamo/lab-reservation/internal/service"
)

func main() {
	// A missing .env is fine; the process environment is used as is.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect, err := database.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	db, err := openDB(cfg, dialect)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, dialect); err != nil {
			return err
		}
	}
	logger.Info("database ready", zap.String("driver", string(dialect)))

	reservations := repository.NewReservationRepo(db, dialect)
	gate := payment.NewGate(repository.NewPaymentRepo(db, dialect), cfg.RefundRetentionPercent, logger)
	workflows := repository.NewWorkflowRepo(db)

	opts := []approval.Option{
		approval.WithLogger(logger),
		approval.WithCancelLeadDays(cfg.CancelMinLeadDays),
	}
	if cfg.Events.Enabled {
		pub := service.NewEventPublisher(cfg.Events.URL, cfg.Events.Queue, logger)
		defer pub.Close()
		opts = append(opts, approval.WithPublisher(pub))

		consumer := queue.NewConsumer(cfg.Events.URL, cfg.Events.Queue, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("event consumer stopped", zap.Error(err))
			}
		}()
	}
	engine := approval.NewEngine(db, approval.Stores{
		Reservations: reservations,
		Logs:         repository.NewApprovalLogRepo(db),
		Workflows:    workflows,
		Payments:     gate,
		Devices:      repository.NewDeviceRepo(db),
		Borrows:      repository.NewBorrowRepo(db, dialect),
	}, opts...)

	rdb := config.NewRedisClient(config.LoadRedisConfig(), logger)
	if rdb != nil {
		defer rdb.Close()
	}

	e := router.New(logger)
	router.RegisterRoutes(e, db)
	router.RegisterAPI(e, router.Handlers{
		Approvals: handler.NewApprovalHandler(engine, logger),
		Payments:  handler.NewPaymentHandler(gate, logger),
		Workflows: handler.NewWorkflowHandler(workflows, logger),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Redis:     rdb,
		Log:       logger,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openDB(cfg config.Config, d database.Dialect) (*sql.DB, error) {
	if d == database.SQLite {
		return database.OpenSQLite(cfg.SQLitePath)
	}
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
