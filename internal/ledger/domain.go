// Package ledger implements the patient financial ledger: an append-only store
// of charges and payments with derived balances, idempotent payment recording,
// atomic treatment completion and payment-to-charge allocation.
package ledger

import "time"

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodCard      PaymentMethod = "card"
	MethodTransfer  PaymentMethod = "transfer"
	MethodInsurance PaymentMethod = "insurance"
)

// ReceiptStatus enumerates fiscal receipt states on a payment.
type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "PENDING"
	ReceiptIssued  ReceiptStatus = "ISSUED"
	ReceiptFailed  ReceiptStatus = "FAILED"
	ReceiptSkipped ReceiptStatus = "SKIPPED"
)

// WorkStatus classifies how much of a charge has been settled.
type WorkStatus string

const (
	WorkUnpaid  WorkStatus = "unpaid"
	WorkPartial WorkStatus = "partial"
	WorkPaid    WorkStatus = "paid"
)

// EntryType distinguishes ledger view rows.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// EventType names the originating event of a ledger view row.
type EventType string

const (
	EventCharge  EventType = "charge"
	EventPayment EventType = "payment"
	EventRefund  EventType = "refund"
)

// Charge is an immutable debit entry for a billed service.
type Charge struct {
	ID            int64
	PatientID     int64
	ClinicID      int64
	AppointmentID int64
	PlanItemID    int64
	ServiceName   string
	ToothNumber   string
	Quantity      float64
	UnitPrice     float64
	DiscountPct   float64
	Total         float64
	CreatedBy     int64
	CreatedAt     time.Time
}

// Payment is an immutable credit entry. A negative amount denotes a refund and
// RefundOf references the refunded payment. BalanceAfter is the ledger balance
// derived inside the transaction that wrote the row; duplicate idempotent
// submissions replay it unchanged.
type Payment struct {
	ID             int64
	PatientID      int64
	ClinicID       int64
	Amount         float64
	Method         PaymentMethod
	RefundOf       int64
	IdempotencyKey string
	Notes          string
	BalanceAfter   float64
	ReceiptRef     string
	ReceiptStatus  ReceiptStatus
	ProcessedBy    int64
	CreatedAt      time.Time
}

// Allocation links part of a payment to a specific charge.
type Allocation struct {
	ID        int64
	PaymentID int64
	ChargeID  int64
	Amount    float64
	CreatedAt time.Time
}

// FinanceSummary is derived from the ledger in a single consistent read.
type FinanceSummary struct {
	PatientID          int64   `json:"patient_id"`
	TotalTreatmentCost float64 `json:"total_treatment_cost"`
	TotalPaid          float64 `json:"total_paid"`
	CurrentBalance     float64 `json:"current_balance"`
	CurrentDebt        float64 `json:"current_debt"`
	Advance            float64 `json:"advance"`
}

// LedgerEntry is one row of the running-balance view. BalanceAfter folds
// signed amounts over the entire history, independent of pagination.
type LedgerEntry struct {
	Type         EntryType `json:"type"`
	Event        EventType `json:"event_type"`
	Description  string    `json:"description"`
	Amount       float64   `json:"amount"`
	Date         time.Time `json:"date"`
	BalanceAfter float64   `json:"balance_after"`
}

// UnpaidWork describes a charge with an outstanding remainder.
type UnpaidWork struct {
	ChargeID    int64      `json:"id"`
	ServiceName string     `json:"service_name"`
	ToothNumber string     `json:"tooth_number"`
	TotalCost   float64    `json:"total_cost"`
	Allocated   float64    `json:"allocated"`
	Remaining   float64    `json:"remaining"`
	Status      WorkStatus `json:"status"`
	VisitDate   time.Time  `json:"visit_date"`
}

// CompletedItem is a plan item after its PLANNED -> COMPLETED transition.
type CompletedItem struct {
	ID          int64
	PatientID   int64
	ClinicID    int64
	ServiceName string
	ToothNumber string
	Quantity    float64
	UnitPrice   float64
	DiscountPct float64
}

// PatientRef is the locked patient row a writing transaction anchors on.
type PatientRef struct {
	ID            int64
	ClinicID      int64
	CachedBalance float64
}

// ChargeTotal derives the fixed total of a charge at creation time.
func ChargeTotal(quantity, unitPrice, discountPct float64) float64 {
	return quantity * unitPrice * (1 - discountPct/100)
}

// SettlementStatus classifies a charge by its allocated sum.
func SettlementStatus(total, allocated float64) WorkStatus {
	switch {
	case allocated <= 0:
		return WorkUnpaid
	case allocated < total:
		return WorkPartial
	default:
		return WorkPaid
	}
}
