package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/lumident/lumident/internal/jobs"
)

// DriftScanJob recomputes every patient balance from the ledger and compares
// it with the cached copy. Divergence is a correctness bug: it is logged and
// counted, never silently repaired.
type DriftScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDriftScanJob initialises the drift scan handler.
func NewDriftScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *DriftScanJob {
	return &DriftScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// BalanceCheck is one patient's cached vs recomputed balance.
type BalanceCheck struct {
	PatientID  int64
	ClinicID   int64
	Cached     float64
	Recomputed float64
}

// Handle executes the drift scan logic.
func (j *DriftScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("drift scan: handler not configured")
	}
	var payload DriftScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLedgerDriftScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting drift scan")

	checks, err := j.collect(ctx)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	drifted := FindDrift(checks, payload.Tolerance)
	for _, d := range drifted {
		logger.Warn("ledger drift detected",
			slog.Int64("patient_id", d.PatientID),
			slog.Int64("clinic_id", d.ClinicID),
			slog.Float64("cached", d.Cached),
			slog.Float64("recomputed", d.Recomputed),
			slog.Float64("delta", d.Cached-d.Recomputed),
		)
		j.metrics().AddDrift(d.ClinicID, 1)
	}

	logger.Info("completed drift scan",
		slog.Int("patients", len(checks)),
		slog.Int("drifted", len(drifted)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *DriftScanJob) collect(ctx context.Context) ([]BalanceCheck, error) {
	if j.Pool == nil {
		return nil, errors.New("drift scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT p.id, p.clinic_id, p.cached_balance,
			COALESCE(pay.total, 0) - COALESCE(ch.total, 0) AS recomputed
		FROM patients p
		LEFT JOIN (SELECT patient_id, SUM(amount) AS total FROM payments GROUP BY patient_id) pay ON pay.patient_id = p.id
		LEFT JOIN (SELECT patient_id, SUM(total) AS total FROM charges GROUP BY patient_id) ch ON ch.patient_id = p.id
		ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []BalanceCheck
	for rows.Next() {
		var c BalanceCheck
		if err := rows.Scan(&c.PatientID, &c.ClinicID, &c.Cached, &c.Recomputed); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checks, nil
}

// FindDrift filters checks whose cached balance diverges beyond tolerance.
func FindDrift(checks []BalanceCheck, tolerance float64) []BalanceCheck {
	if tolerance < 0 {
		tolerance = 0
	}
	var drifted []BalanceCheck
	for _, c := range checks {
		if math.Abs(c.Cached-c.Recomputed) > tolerance {
			drifted = append(drifted, c)
		}
	}
	return drifted
}

func (j *DriftScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerDriftScan))
	}
	return slog.Default().With(slog.String("job", TaskLedgerDriftScan))
}

func (j *DriftScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *DriftScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
