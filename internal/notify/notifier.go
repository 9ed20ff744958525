// Package notify publishes balance-changed events for connected staff
// sessions. Delivery is eventual and affects UI freshness only; a dropped
// event is never a correctness problem because clients re-fetch authoritative
// state from the ledger.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultChannel is the Redis pub/sub channel for balance events.
const DefaultChannel = "lumident:balance"

// BalanceEvent is the published payload.
type BalanceEvent struct {
	EventID    string    `json:"event_id"`
	PatientID  int64     `json:"patient_id"`
	Balance    float64   `json:"balance"`
	Display    string    `json:"display"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes events over Redis pub/sub.
type Notifier struct {
	client  *redis.Client
	channel string
	printer *message.Printer
	clock   func() time.Time
}

// NewNotifier constructs a notifier. An empty channel falls back to
// DefaultChannel.
func NewNotifier(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{
		client:  client,
		channel: channel,
		printer: message.NewPrinter(language.Uzbek),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// BalanceChanged publishes one balance event.
func (n *Notifier) BalanceChanged(ctx context.Context, patientID int64, balance float64) error {
	event := BalanceEvent{
		EventID:    uuid.NewString(),
		PatientID:  patientID,
		Balance:    balance,
		Display:    n.printer.Sprintf("%.0f UZS", balance),
		OccurredAt: n.clock(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}
