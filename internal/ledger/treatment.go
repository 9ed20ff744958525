package ledger

import (
	"context"
	"errors"
	"sort"
)

// CompleteServicesInput names the plan items to complete in one batch.
type CompleteServicesInput struct {
	AppointmentID int64
	ItemIDs       []int64
	DoctorID      int64
}

// CompletionResult reports a committed completion batch.
type CompletionResult struct {
	CompletedCount int
	TotalAmount    float64
	NewBalance     float64
}

// CompleteServices atomically marks every plan item completed and appends one
// charge per item. The batch is all-or-nothing: an item that is missing or was
// already completed (including by a concurrent racer) rejects the whole batch
// with a conflict naming that item, and no charge is written.
func (s *Service) CompleteServices(ctx context.Context, input CompleteServicesInput) (CompletionResult, error) {
	if input.DoctorID <= 0 {
		return CompletionResult{}, validationErr("doctor id required")
	}
	if len(input.ItemIDs) == 0 {
		return CompletionResult{}, validationErr("at least one plan item required")
	}
	seen := make(map[int64]struct{}, len(input.ItemIDs))
	ids := make([]int64, 0, len(input.ItemIDs))
	for _, id := range input.ItemIDs {
		if id <= 0 {
			return CompletionResult{}, validationErr("plan item id required")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	// Stable order keeps lock acquisition deterministic across racers.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var result CompletionResult
	var patientID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items := make([]CompletedItem, 0, len(ids))
		for _, id := range ids {
			item, err := tx.CompletePlanItem(ctx, id, input.AppointmentID, input.DoctorID)
			if err != nil {
				return conflictItemErr(id, err)
			}
			items = append(items, item)
		}

		patientID = items[0].PatientID
		for _, item := range items {
			if item.PatientID != patientID {
				return validationErr("plan items span multiple patients")
			}
		}
		if _, err := tx.GetPatientForUpdate(ctx, patientID); err != nil {
			return err
		}

		var total float64
		for _, item := range items {
			amount := ChargeTotal(item.Quantity, item.UnitPrice, item.DiscountPct)
			if _, err := tx.AppendCharge(ctx, AppendChargeInput{
				PatientID:     item.PatientID,
				ClinicID:      item.ClinicID,
				AppointmentID: input.AppointmentID,
				PlanItemID:    item.ID,
				ServiceName:   item.ServiceName,
				ToothNumber:   item.ToothNumber,
				Quantity:      item.Quantity,
				UnitPrice:     item.UnitPrice,
				DiscountPct:   item.DiscountPct,
				Total:         amount,
				CreatedBy:     input.DoctorID,
			}); err != nil {
				return conflictItemErr(item.ID, err)
			}
			total += amount
		}

		balance, err := tx.ComputeBalance(ctx, patientID)
		if err != nil {
			return err
		}
		if err := tx.UpdateCachedBalance(ctx, patientID, balance); err != nil {
			return err
		}

		result = CompletionResult{
			CompletedCount: len(items),
			TotalAmount:    total,
			NewBalance:     balance,
		}
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}

	s.notifyBalance(ctx, patientID, result.NewBalance)
	return result, nil
}

// conflictItemErr tags item-level CAS failures with the losing item; other
// errors pass through unchanged.
func conflictItemErr(itemID int64, err error) error {
	switch {
	case errors.Is(err, ErrItemCompleted):
		return conflictErr(planItemEntity(itemID), err)
	case errors.Is(err, ErrPlanItemNotFound):
		return validationErr("plan item %d not found", itemID)
	default:
		return err
	}
}
