// Package treatment manages treatment plans and their billable items. Item
// completion itself is owned by the ledger engine so the status transition and
// the resulting charge share one transaction.
package treatment

import "time"

// ItemStatus enumerates plan item lifecycle values.
type ItemStatus string

const (
	ItemPlanned   ItemStatus = "PLANNED"
	ItemCompleted ItemStatus = "COMPLETED"
)

// Plan groups the items proposed for one patient.
type Plan struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	ClinicID  int64     `json:"clinic_id"`
	Title     string    `json:"title"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanItem is one billable service in a plan.
type PlanItem struct {
	ID            int64      `json:"id"`
	PlanID        int64      `json:"plan_id"`
	PatientID     int64      `json:"patient_id"`
	ServiceName   string     `json:"service_name"`
	ToothNumber   string     `json:"tooth_number"`
	Quantity      float64    `json:"quantity"`
	UnitPrice     float64    `json:"unit_price"`
	DiscountPct   float64    `json:"discount_pct"`
	Status        ItemStatus `json:"status"`
	AppointmentID int64      `json:"appointment_id,omitempty"`
	CompletedBy   int64      `json:"completed_by,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreatePlanInput for opening a plan.
type CreatePlanInput struct {
	PatientID int64
	ClinicID  int64
	Title     string
	CreatedBy int64
}

// AddItemInput for appending an item to a plan.
type AddItemInput struct {
	PlanID      int64
	ServiceName string
	ToothNumber string
	Quantity    float64
	UnitPrice   float64
	DiscountPct float64
}
