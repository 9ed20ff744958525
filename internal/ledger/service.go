package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RepositoryPort defines data access for the ledger engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSummary(ctx context.Context, patientID int64) (FinanceSummary, error)
	ListEntries(ctx context.Context, patientID int64, limit, offset int) ([]LedgerEntry, error)
	ListUnpaidWorks(ctx context.Context, patientID int64) ([]UnpaidWork, error)
	RecomputeBalance(ctx context.Context, patientID int64) (float64, error)
	CachedBalance(ctx context.Context, patientID int64) (float64, error)
	FindPayment(ctx context.Context, id int64) (*Payment, error)
	FindPaymentByKey(ctx context.Context, clinicID int64, key string) (*Payment, error)
}

// ReceiptEnqueuer schedules fiscal receipt issuance after a committed payment.
type ReceiptEnqueuer interface {
	EnqueueReceipt(ctx context.Context, paymentID int64) error
}

// BalanceNotifier publishes balance-changed events for UI refresh. Delivery is
// best-effort and never affects the committed write.
type BalanceNotifier interface {
	BalanceChanged(ctx context.Context, patientID int64, balance float64) error
}

// Service is the ledger engine exposed to collaborator code.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	receipts ReceiptEnqueuer
	notifier BalanceNotifier
}

// NewService builds the engine. Receipt enqueuer and notifier are optional;
// absent hooks simply skip the post-commit side effects.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// SetReceiptEnqueuer injects the fiscal receipt hook.
func (s *Service) SetReceiptEnqueuer(enqueuer ReceiptEnqueuer) {
	s.receipts = enqueuer
}

// SetNotifier injects the balance-change notification hook.
func (s *Service) SetNotifier(notifier BalanceNotifier) {
	s.notifier = notifier
}

// RecordPaymentInput is the typed request for recording a payment.
type RecordPaymentInput struct {
	ClinicID       int64
	PatientID      int64
	Amount         float64
	Method         PaymentMethod
	ProcessedBy    int64
	Notes          string
	IdempotencyKey string
}

// PaymentResult reports a committed (or replayed) payment.
type PaymentResult struct {
	PaymentID  int64
	Amount     float64
	NewBalance float64
	Duplicate  bool
}

// RecordPayment validates and appends one payment inside a single transaction.
// When the idempotency key was already used for the clinic, the prior result is
// replayed without a second entry.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error) {
	if input.ClinicID <= 0 {
		return PaymentResult{}, validationErr("clinic id required")
	}
	if input.PatientID <= 0 {
		return PaymentResult{}, validationErr("patient id required")
	}
	if input.Amount <= 0 {
		return PaymentResult{}, validationErr("amount must be positive")
	}
	if input.Method == "" {
		return PaymentResult{}, validationErr("payment method required")
	}
	if input.ProcessedBy <= 0 {
		return PaymentResult{}, validationErr("processed-by identity required")
	}

	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		patient, err := tx.GetPatientForUpdate(ctx, input.PatientID)
		if err != nil {
			return err
		}
		if patient.ClinicID != input.ClinicID {
			return authorizationErr(ErrClinicMismatch)
		}

		if input.IdempotencyKey != "" {
			prior, err := tx.FindPaymentByKey(ctx, input.ClinicID, input.IdempotencyKey)
			if err == nil {
				result = PaymentResult{
					PaymentID:  prior.ID,
					Amount:     prior.Amount,
					NewBalance: prior.BalanceAfter,
					Duplicate:  true,
				}
				return nil
			}
			if !errors.Is(err, ErrPaymentNotFound) {
				return err
			}
		}

		balance, err := tx.ComputeBalance(ctx, input.PatientID)
		if err != nil {
			return err
		}
		newBalance := balance + input.Amount

		payment, err := tx.AppendPayment(ctx, AppendPaymentInput{
			PatientID:      input.PatientID,
			ClinicID:       input.ClinicID,
			Amount:         input.Amount,
			Method:         input.Method,
			IdempotencyKey: input.IdempotencyKey,
			Notes:          input.Notes,
			BalanceAfter:   newBalance,
			ProcessedBy:    input.ProcessedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateCachedBalance(ctx, input.PatientID, newBalance); err != nil {
			return err
		}
		result = PaymentResult{PaymentID: payment.ID, Amount: payment.Amount, NewBalance: newBalance}
		return nil
	})
	if errors.Is(err, ErrDuplicateKey) {
		// Lost the unique-index race to a concurrent submission; the winner's
		// row is committed, so replay its result.
		prior, findErr := s.repo.FindPaymentByKey(ctx, input.ClinicID, input.IdempotencyKey)
		if findErr != nil {
			return PaymentResult{}, findErr
		}
		return PaymentResult{
			PaymentID:  prior.ID,
			Amount:     prior.Amount,
			NewBalance: prior.BalanceAfter,
			Duplicate:  true,
		}, nil
	}
	if err != nil {
		return PaymentResult{}, err
	}

	if !result.Duplicate {
		s.afterCommit(ctx, input.PatientID, result)
	}
	return result, nil
}

// RecordRefundInput references the payment being refunded. Amount is supplied
// positive and stored negated.
type RecordRefundInput struct {
	ClinicID       int64
	PaymentID      int64
	Amount         float64
	ProcessedBy    int64
	Notes          string
	IdempotencyKey string
}

// RecordRefund appends a negative payment referencing the original. Cumulative
// refunds can never exceed the refunded payment's amount.
func (s *Service) RecordRefund(ctx context.Context, input RecordRefundInput) (PaymentResult, error) {
	if input.ClinicID <= 0 {
		return PaymentResult{}, validationErr("clinic id required")
	}
	if input.PaymentID <= 0 {
		return PaymentResult{}, validationErr("payment id required")
	}
	if input.Amount <= 0 {
		return PaymentResult{}, validationErr("refund amount must be positive")
	}
	if input.ProcessedBy <= 0 {
		return PaymentResult{}, validationErr("processed-by identity required")
	}

	var result PaymentResult
	var patientID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if original.ClinicID != input.ClinicID {
			return authorizationErr(ErrClinicMismatch)
		}
		if original.Amount <= 0 {
			return validationErr("cannot refund a refund")
		}
		patientID = original.PatientID

		if _, err := tx.GetPatientForUpdate(ctx, original.PatientID); err != nil {
			return err
		}

		if input.IdempotencyKey != "" {
			prior, err := tx.FindPaymentByKey(ctx, input.ClinicID, input.IdempotencyKey)
			if err == nil {
				result = PaymentResult{
					PaymentID:  prior.ID,
					Amount:     prior.Amount,
					NewBalance: prior.BalanceAfter,
					Duplicate:  true,
				}
				return nil
			}
			if !errors.Is(err, ErrPaymentNotFound) {
				return err
			}
		}

		refunded, err := tx.SumRefunds(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if refunded+input.Amount > original.Amount {
			return conflictErr(paymentEntity(original.ID), ErrOverAllocation)
		}

		balance, err := tx.ComputeBalance(ctx, original.PatientID)
		if err != nil {
			return err
		}
		newBalance := balance - input.Amount

		refund, err := tx.AppendPayment(ctx, AppendPaymentInput{
			PatientID:      original.PatientID,
			ClinicID:       original.ClinicID,
			Amount:         -input.Amount,
			Method:         original.Method,
			RefundOf:       original.ID,
			IdempotencyKey: input.IdempotencyKey,
			Notes:          input.Notes,
			BalanceAfter:   newBalance,
			ProcessedBy:    input.ProcessedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateCachedBalance(ctx, original.PatientID, newBalance); err != nil {
			return err
		}
		result = PaymentResult{PaymentID: refund.ID, Amount: refund.Amount, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	if !result.Duplicate {
		s.afterCommit(ctx, patientID, result)
	}
	return result, nil
}

// GetSummary derives the finance summary from the ledger store.
func (s *Service) GetSummary(ctx context.Context, patientID int64) (FinanceSummary, error) {
	if patientID <= 0 {
		return FinanceSummary{}, validationErr("patient id required")
	}
	return s.repo.GetSummary(ctx, patientID)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// GetLedger returns one page of the running-balance view.
func (s *Service) GetLedger(ctx context.Context, patientID int64, limit, offset int) ([]LedgerEntry, error) {
	if patientID <= 0 {
		return nil, validationErr("patient id required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntries(ctx, patientID, limit, offset)
}

// GetUnpaidWorks lists charges with an outstanding remainder.
func (s *Service) GetUnpaidWorks(ctx context.Context, patientID int64) ([]UnpaidWork, error) {
	if patientID <= 0 {
		return nil, validationErr("patient id required")
	}
	return s.repo.ListUnpaidWorks(ctx, patientID)
}

// BalanceReport compares the authoritative recomputation with the cached copy.
type BalanceReport struct {
	PatientID  int64   `json:"patient_id"`
	Balance    float64 `json:"balance"`
	Cached     float64 `json:"cached_balance"`
	Drift      bool    `json:"drift"`
	DriftDelta float64 `json:"drift_delta,omitempty"`
}

// CalculateBalance recomputes the balance from the full ledger and flags drift
// against the cached value. Drift is reported, never silently repaired.
func (s *Service) CalculateBalance(ctx context.Context, patientID int64) (BalanceReport, error) {
	if patientID <= 0 {
		return BalanceReport{}, validationErr("patient id required")
	}
	balance, err := s.repo.RecomputeBalance(ctx, patientID)
	if err != nil {
		return BalanceReport{}, err
	}
	cached, err := s.repo.CachedBalance(ctx, patientID)
	if err != nil {
		return BalanceReport{}, err
	}
	report := BalanceReport{PatientID: patientID, Balance: balance, Cached: cached}
	if balance != cached {
		report.Drift = true
		report.DriftDelta = cached - balance
		s.logger.Warn("balance drift detected",
			slog.Int64("patient_id", patientID),
			slog.Float64("recomputed", balance),
			slog.Float64("cached", cached),
		)
	}
	return report, nil
}

// AllocationInput links part of a payment to one charge.
type AllocationInput struct {
	ChargeID int64
	Amount   float64
}

// AllocatePaymentInput is the typed request for allocating a payment.
type AllocatePaymentInput struct {
	ClinicID    int64
	PaymentID   int64
	Allocations []AllocationInput
}

// AllocatePayment validates and persists the whole allocation list atomically.
// Any allocation that would push a charge past its total, or the payment past
// its amount, rejects the entire request with the over-allocated entity named.
func (s *Service) AllocatePayment(ctx context.Context, input AllocatePaymentInput) error {
	if input.ClinicID <= 0 {
		return validationErr("clinic id required")
	}
	if input.PaymentID <= 0 {
		return validationErr("payment id required")
	}
	if len(input.Allocations) == 0 {
		return validationErr("at least one allocation required")
	}
	for _, alloc := range input.Allocations {
		if alloc.ChargeID <= 0 {
			return validationErr("charge id required")
		}
		if alloc.Amount <= 0 {
			return validationErr("allocation amount must be positive")
		}
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if payment.ClinicID != input.ClinicID {
			return authorizationErr(ErrClinicMismatch)
		}
		if payment.Amount <= 0 {
			return validationErr("refunds cannot be allocated")
		}

		// Serializes against concurrent allocations and writes on the patient.
		patient, err := tx.GetPatientForUpdate(ctx, payment.PatientID)
		if err != nil {
			return err
		}

		allocated, err := tx.SumAllocatedFromPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		var requested float64
		for _, alloc := range input.Allocations {
			requested += alloc.Amount
		}
		if allocated+requested > payment.Amount {
			return conflictErr(paymentEntity(payment.ID), ErrOverAllocation)
		}

		// The base sum is read once per charge; same-request splits accumulate
		// on top of it so duplicate charge ids are checked against the combined
		// amount.
		running := make(map[int64]float64)
		for _, alloc := range input.Allocations {
			charge, err := tx.GetCharge(ctx, alloc.ChargeID)
			if err != nil {
				return err
			}
			if charge.PatientID != payment.PatientID {
				return validationErr("charge %d does not belong to the payment's patient", charge.ID)
			}
			if _, seen := running[charge.ID]; !seen {
				sum, err := tx.SumAllocatedToCharge(ctx, charge.ID)
				if err != nil {
					return err
				}
				running[charge.ID] = sum
			}
			if running[charge.ID]+alloc.Amount > charge.Total {
				return conflictErr(chargeEntity(charge.ID), ErrOverAllocation)
			}
			if err := tx.InsertAllocation(ctx, payment.ID, charge.ID, alloc.Amount); err != nil {
				return err
			}
			running[charge.ID] += alloc.Amount
		}

		// Allocations never move the balance; the rewrite versions the patients
		// row, so a concurrent allocator that blocked on the lock fails with a
		// serialization error instead of re-reading allocation sums from a
		// snapshot that predates this commit.
		return tx.UpdateCachedBalance(ctx, payment.PatientID, patient.CachedBalance)
	})
}

// afterCommit runs the post-commit side effects. Failures are logged and
// dropped; the committed write stands regardless.
func (s *Service) afterCommit(ctx context.Context, patientID int64, result PaymentResult) {
	if s.receipts != nil {
		if err := s.receipts.EnqueueReceipt(ctx, result.PaymentID); err != nil {
			s.logger.Error("enqueue fiscal receipt",
				slog.Int64("payment_id", result.PaymentID),
				slog.Any("error", err),
			)
		}
	}
	s.notifyBalance(ctx, patientID, result.NewBalance)
}

func (s *Service) notifyBalance(ctx context.Context, patientID int64, balance float64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BalanceChanged(ctx, patientID, balance); err != nil {
		s.logger.Warn("publish balance change",
			slog.Int64("patient_id", patientID),
			slog.Any("error", err),
		)
	}
}

func paymentEntity(id int64) string  { return fmt.Sprintf("payment:%d", id) }
func chargeEntity(id int64) string   { return fmt.Sprintf("charge:%d", id) }
func planItemEntity(id int64) string { return fmt.Sprintf("plan_item:%d", id) }
