package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompleteServicesAppendsCharges(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Crown installation", 1, 350000, 0)
	svc := NewService(repo, nil)
	notifier := &stubNotifier{}
	svc.SetNotifier(notifier)

	result, err := svc.CompleteServices(ctx, CompleteServicesInput{
		AppointmentID: 7,
		ItemIDs:       []int64{100},
		DoctorID:      5,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.CompletedCount)
	require.Equal(t, 350000.0, result.TotalAmount)
	require.Equal(t, -350000.0, result.NewBalance)

	require.Equal(t, "COMPLETED", repo.planItems[100].Status)
	require.Len(t, repo.charges, 1)
	for _, charge := range repo.charges {
		require.Equal(t, int64(100), charge.PlanItemID)
		require.Equal(t, int64(7), charge.AppointmentID)
		require.Equal(t, 350000.0, charge.Total)
	}

	summary, err := svc.GetSummary(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 350000.0, summary.CurrentDebt)

	cached, err := repo.CachedBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, -350000.0, cached)

	require.Equal(t, []float64{-350000}, notifier.balances)
}

func TestCompleteServicesAppliesDiscount(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Scaling", 2, 100000, 25)
	svc := NewService(repo, nil)

	result, err := svc.CompleteServices(ctx, CompleteServicesInput{
		ItemIDs:  []int64{100},
		DoctorID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 150000.0, result.TotalAmount)
}

func TestCompleteServicesRejectsWholeBatchOnCompletedItem(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Filling", 1, 120000, 0)
	repo.addPlanItem(101, 1, 10, "Extraction", 1, 90000, 0)
	repo.planItems[101].Status = "COMPLETED"
	svc := NewService(repo, nil)

	_, err := svc.CompleteServices(ctx, CompleteServicesInput{
		ItemIDs:  []int64{100, 101},
		DoctorID: 5,
	})
	require.ErrorIs(t, err, ErrItemCompleted)
	require.Equal(t, KindConflict, KindOf(err))
	require.Equal(t, "plan_item:101", EntityOf(err))

	// All-or-nothing: the other item stays planned and no charge exists.
	require.Equal(t, "PLANNED", repo.planItems[100].Status)
	require.Empty(t, repo.charges)

	balance, err := repo.RecomputeBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 0.0, balance)
}

func TestCompleteServicesSecondSubmissionConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Filling", 1, 120000, 0)
	svc := NewService(repo, nil)

	_, err := svc.CompleteServices(ctx, CompleteServicesInput{ItemIDs: []int64{100}, DoctorID: 5})
	require.NoError(t, err)

	_, err = svc.CompleteServices(ctx, CompleteServicesInput{ItemIDs: []int64{100}, DoctorID: 5})
	require.ErrorIs(t, err, ErrItemCompleted)

	// Still exactly one charge for the item.
	require.Len(t, repo.charges, 1)
}

func TestCompleteServicesCollapsesDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Filling", 1, 120000, 0)
	svc := NewService(repo, nil)

	result, err := svc.CompleteServices(ctx, CompleteServicesInput{
		ItemIDs:  []int64{100, 100, 100},
		DoctorID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.CompletedCount)
	require.Len(t, repo.charges, 1)
}

func TestCompleteServicesRejectsMixedPatients(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPatient(2, 10)
	repo.addPlanItem(100, 1, 10, "Filling", 1, 120000, 0)
	repo.addPlanItem(101, 2, 10, "Filling", 1, 120000, 0)
	svc := NewService(repo, nil)

	_, err := svc.CompleteServices(ctx, CompleteServicesInput{
		ItemIDs:  []int64{100, 101},
		DoctorID: 5,
	})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
	require.Empty(t, repo.charges)
	require.Equal(t, "PLANNED", repo.planItems[100].Status)
	require.Equal(t, "PLANNED", repo.planItems[101].Status)
}

func TestCompleteServicesUnknownItem(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	svc := NewService(repo, nil)

	_, err := svc.CompleteServices(ctx, CompleteServicesInput{
		ItemIDs:  []int64{999},
		DoctorID: 5,
	})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestCompleteServicesValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryLedgerRepo(), nil)

	_, err := svc.CompleteServices(ctx, CompleteServicesInput{ItemIDs: []int64{1}})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))

	_, err = svc.CompleteServices(ctx, CompleteServicesInput{DoctorID: 5})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))

	_, err = svc.CompleteServices(ctx, CompleteServicesInput{ItemIDs: []int64{0}, DoctorID: 5})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
}
