// Package patients implements the patient registry used by the ledger engine
// for clinic scoping and cached-balance drift checks.
package patients

import "time"

// Patient model. CachedBalance mirrors the ledger balance and is maintained by
// the ledger engine inside its writing transactions; the registry only reads it.
type Patient struct {
	ID            int64     `json:"id"`
	ClinicID      int64     `json:"clinic_id"`
	FullName      string    `json:"full_name"`
	Phone         string    `json:"phone"`
	CachedBalance float64   `json:"cached_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreatePatientInput for registering a patient.
type CreatePatientInput struct {
	ClinicID int64
	FullName string
	Phone    string
}

// ListPatientsRequest filters the registry listing.
type ListPatientsRequest struct {
	ClinicID int64
	Search   string
	Page     int
	PerPage  int
}
