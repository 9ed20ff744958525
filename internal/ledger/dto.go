package ledger

import "net/http"

// Request DTOs carry the typed contract exposed to UI collaborators. Validation
// tags are enforced by the handler before any service call.

type recordPaymentRequest struct {
	ClinicID       int64   `json:"clinic_id" validate:"required,gt=0"`
	PatientID      int64   `json:"patient_id" validate:"required,gt=0"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	Method         string  `json:"method" validate:"required,oneof=cash card transfer insurance"`
	ProcessedBy    int64   `json:"processed_by" validate:"required,gt=0"`
	Notes          string  `json:"notes" validate:"omitempty,max=500"`
	IdempotencyKey string  `json:"idempotency_key" validate:"omitempty,max=64"`
}

type recordRefundRequest struct {
	ClinicID       int64   `json:"clinic_id" validate:"required,gt=0"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	ProcessedBy    int64   `json:"processed_by" validate:"required,gt=0"`
	Notes          string  `json:"notes" validate:"omitempty,max=500"`
	IdempotencyKey string  `json:"idempotency_key" validate:"omitempty,max=64"`
}

type completeServicesRequest struct {
	AppointmentID int64   `json:"appointment_id" validate:"omitempty,gt=0"`
	ItemIDs       []int64 `json:"item_ids" validate:"required,min=1,dive,gt=0"`
	DoctorID      int64   `json:"doctor_id" validate:"required,gt=0"`
}

type allocationRequest struct {
	ChargeID int64   `json:"charge_id" validate:"required,gt=0"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
}

type allocatePaymentRequest struct {
	ClinicID    int64               `json:"clinic_id" validate:"required,gt=0"`
	PaymentID   int64               `json:"payment_id" validate:"required,gt=0"`
	Allocations []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

// errorPayload is the named error-kind variant of the result envelope.
type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
}

type paymentResponse struct {
	Success    bool          `json:"success"`
	PaymentID  int64         `json:"payment_id,omitempty"`
	Amount     float64       `json:"amount,omitempty"`
	NewBalance float64       `json:"new_balance"`
	Duplicate  bool          `json:"duplicate,omitempty"`
	Error      *errorPayload `json:"error,omitempty"`
}

type completionResponse struct {
	Success        bool          `json:"success"`
	CompletedCount int           `json:"completed_count"`
	TotalAmount    float64       `json:"total_amount"`
	NewBalance     float64       `json:"new_balance"`
	Error          *errorPayload `json:"error,omitempty"`
}

type allocateResponse struct {
	Success bool          `json:"success"`
	Error   *errorPayload `json:"error,omitempty"`
}

type ledgerResponse struct {
	Entries []LedgerEntry `json:"entries"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

func failure(err error) *errorPayload {
	return &errorPayload{
		Kind:    string(KindOf(err)),
		Message: err.Error(),
		Entity:  EntityOf(err),
	}
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
