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

	"github.com/lumident/lumident/internal/app"
	"github.com/lumident/lumident/internal/ledger"
	"github.com/lumident/lumident/internal/notify"
	"github.com/lumident/lumident/internal/observability"
	"github.com/lumident/lumident/internal/patients"
	"github.com/lumident/lumident/internal/platform/cache"
	"github.com/lumident/lumident/internal/platform/db"
	"github.com/lumident/lumident/internal/treatment"
	"github.com/lumident/lumident/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	notifier := notify.NewNotifier(redisClient, cfg.NotifyChannel)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, logger)
	ledgerService.SetReceiptEnqueuer(jobsClient)
	ledgerService.SetNotifier(notifier)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	patientRepo := patients.NewRepository(dbpool)
	patientService := patients.NewService(patientRepo)
	patientHandler := patients.NewHandler(logger, patientService)

	treatmentRepo := treatment.NewRepository(dbpool)
	treatmentService := treatment.NewService(treatmentRepo)
	treatmentHandler := treatment.NewHandler(logger, treatmentService)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledgerHandler,
		PatientsHandler:  patientHandler,
		TreatmentHandler: treatmentHandler,
		Metrics:          metrics,
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
