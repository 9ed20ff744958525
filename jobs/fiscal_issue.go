package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lumident/lumident/internal/fiscal"
	jobmetrics "github.com/lumident/lumident/internal/jobs"
	"github.com/lumident/lumident/internal/ledger"
)

// PaymentStore is the slice of the ledger repository the issuance job needs.
type PaymentStore interface {
	FindPayment(ctx context.Context, id int64) (*ledger.Payment, error)
	UpdateReceipt(ctx context.Context, paymentID int64, ref string, status ledger.ReceiptStatus) error
}

// FiscalIssueJob issues fiscal receipts for committed payments. The payment is
// already final when this runs; only receipt metadata is written back.
type FiscalIssueJob struct {
	Store   PaymentStore
	Issuer  fiscal.Issuer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFiscalIssueJob initialises the issuance handler.
func NewFiscalIssueJob(store PaymentStore, issuer fiscal.Issuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *FiscalIssueJob {
	return &FiscalIssueJob{Store: store, Issuer: issuer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskFiscalIssue tasks. Failures are retried by Asynq; only
// a terminally failed issuance marks the receipt FAILED.
func (j *FiscalIssueJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil || j.Issuer == nil {
		return errors.New("fiscal issue: handler not configured")
	}
	var payload FiscalIssuePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskFiscalIssue)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("payment_id", payload.PaymentID))

	payment, err := j.Store.FindPayment(ctx, payload.PaymentID)
	if err != nil {
		if errors.Is(err, ledger.ErrPaymentNotFound) {
			logger.Error("payment vanished before fiscalization")
			return asynq.SkipRetry
		}
		resultErr = err
		return resultErr
	}
	if payment.ReceiptStatus == ledger.ReceiptIssued {
		logger.Info("receipt already issued", slog.String("ref", payment.ReceiptRef))
		return nil
	}

	receipt, err := j.Issuer.IssueReceipt(ctx, fiscal.ReceiptRequest{
		PaymentID: payment.ID,
		ClinicID:  payment.ClinicID,
		Amount:    payment.Amount,
		Method:    string(payment.Method),
	})
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			if markErr := j.Store.UpdateReceipt(ctx, payment.ID, "", ledger.ReceiptFailed); markErr != nil {
				logger.Error("mark receipt failed", slog.Any("error", markErr))
			}
		}
		logger.Warn("issue receipt", slog.Any("error", err))
		resultErr = err
		return resultErr
	}

	if err := j.Store.UpdateReceipt(ctx, payment.ID, receipt.Ref, ledger.ReceiptIssued); err != nil {
		resultErr = err
		return resultErr
	}
	logger.Info("receipt issued", slog.String("ref", receipt.Ref))
	return nil
}

func (j *FiscalIssueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFiscalIssue))
	}
	return slog.Default().With(slog.String("job", TaskFiscalIssue))
}

func (j *FiscalIssueJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}
