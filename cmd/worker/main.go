package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/lumident/lumident/internal/app"
	"github.com/lumident/lumident/internal/fiscal"
	jobmetrics "github.com/lumident/lumident/internal/jobs"
	"github.com/lumident/lumident/internal/ledger"
	"github.com/lumident/lumident/internal/platform/db"
	"github.com/lumident/lumident/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)

	ledgerRepo := ledger.NewRepository(pool)
	fiscalClient := fiscal.NewClientWithTimeout(cfg.FiscalURL, cfg.FiscalTimeout)
	if err := fiscalClient.Ping(ctx); err != nil {
		logger.Warn("fiscal service ping", slog.Any("error", err))
	}

	issueJob := jobs.NewFiscalIssueJob(ledgerRepo, fiscalClient, logger, metrics)
	driftJob := jobs.NewDriftScanJob(pool, logger, metrics)

	driftTask, err := jobs.NewDriftScanTask(jobs.DriftScanPayload{Tolerance: cfg.DriftScanTolerance})
	if err != nil {
		logger.Error("build drift scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFiscalIssue, Handler: issueJob.Handle},
			{Type: jobs.TaskLedgerDriftScan, Handler: driftJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DriftScanCron, Task: driftTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
