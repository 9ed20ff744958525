package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFiscalIssue issues a fiscal receipt for one committed payment.
	TaskFiscalIssue = "fiscal:issue"
	// TaskLedgerDriftScan compares cached patient balances with the ledger.
	TaskLedgerDriftScan = "ledger:drift_scan"
)

// FiscalIssuePayload identifies the payment to fiscalize.
type FiscalIssuePayload struct {
	PaymentID int64 `json:"payment_id"`
}

// NewFiscalIssueTask constructs an Asynq task for receipt issuance.
func NewFiscalIssueTask(payload FiscalIssuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFiscalIssue, data, asynq.MaxRetry(10), asynq.Queue(QueueDefault)), nil
}

// DriftScanPayload tunes the drift scan.
type DriftScanPayload struct {
	// Tolerance is the absolute difference below which cached and recomputed
	// balances are considered equal.
	Tolerance float64 `json:"tolerance"`
}

// NewDriftScanTask constructs an Asynq task for the drift scan.
func NewDriftScanTask(payload DriftScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerDriftScan, data, asynq.Queue(QueueDefault)), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueReceipt schedules fiscal receipt issuance for a committed payment.
// Implements the ledger engine's post-commit hook.
func (c *Client) EnqueueReceipt(ctx context.Context, paymentID int64) error {
	task, err := NewFiscalIssueTask(FiscalIssuePayload{PaymentID: paymentID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// Close releases the underlying Asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}
