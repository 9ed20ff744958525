package ledger

import (
	"errors"
	"fmt"
)

// Kind tags an error with its recovery semantics for callers.
type Kind string

const (
	// KindValidation marks malformed input rejected before any write.
	KindValidation Kind = "validation"
	// KindConflict marks a lost race or constraint hit; refresh state before retrying.
	KindConflict Kind = "conflict"
	// KindAuthorization marks cross-clinic access; not retryable.
	KindAuthorization Kind = "authorization"
	// KindTransient marks storage failures that are safe to retry with the same
	// idempotency key.
	KindTransient Kind = "transient"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrChargeNotFound   = errors.New("charge not found")
	ErrPlanItemNotFound = errors.New("plan item not found")
	ErrItemCompleted    = errors.New("plan item already completed")
	ErrOverAllocation   = errors.New("allocation exceeds remaining amount")
	ErrDuplicateKey     = errors.New("idempotency key already used")
	ErrClinicMismatch   = errors.New("patient does not belong to clinic")
)

// Error is the typed failure returned across the engine boundary. Entity names
// the over-allocated or conflicting row where that helps the caller recover.
type Error struct {
	Kind   Kind
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("ledger: %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("ledger: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func validationErr(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func conflictErr(entity string, err error) error {
	return &Error{Kind: KindConflict, Entity: entity, Err: err}
}

func authorizationErr(err error) error {
	return &Error{Kind: KindAuthorization, Err: err}
}

func transientErr(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// KindOf classifies an error for the response envelope. Unknown errors are
// treated as transient storage failures: every mutation is either
// idempotent-by-key or re-checkable, so retrying is safe.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, ErrItemCompleted),
		errors.Is(err, ErrOverAllocation),
		errors.Is(err, ErrDuplicateKey):
		return KindConflict
	case errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrChargeNotFound),
		errors.Is(err, ErrPlanItemNotFound):
		return KindValidation
	case errors.Is(err, ErrClinicMismatch):
		return KindAuthorization
	default:
		return KindTransient
	}
}

// EntityOf extracts the conflicting entity name, if any.
func EntityOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Entity
	}
	return ""
}
