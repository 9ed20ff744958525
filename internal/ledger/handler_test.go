package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, repo *memoryLedgerRepo) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, NewService(repo, logger))
	router := chi.NewRouter()
	handler.MountRoutes(router)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRecordPayment(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	router := newTestHandler(t, repo)

	body := map[string]any{
		"clinic_id":       10,
		"patient_id":      1,
		"amount":          350000,
		"method":          "cash",
		"processed_by":    5,
		"idempotency_key": "k1",
	}
	rec := doJSON(t, router, http.MethodPost, "/finance/payments", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotZero(t, resp.PaymentID)
	require.Equal(t, 350000.0, resp.NewBalance)
	require.False(t, resp.Duplicate)

	// Retried submission replays the committed result.
	rec = doJSON(t, router, http.MethodPost, "/finance/payments", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var replay paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	require.True(t, replay.Success)
	require.True(t, replay.Duplicate)
	require.Equal(t, resp.PaymentID, replay.PaymentID)
	require.Equal(t, resp.NewBalance, replay.NewBalance)
	require.Len(t, repo.payments, 1)
}

func TestHandlerRecordPaymentRejectsUnknownMethod(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/finance/payments", map[string]any{
		"clinic_id":    10,
		"patient_id":   1,
		"amount":       1000,
		"method":       "crypto",
		"processed_by": 5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, string(KindValidation), resp.Error.Kind)
	require.Empty(t, repo.payments)
}

func TestHandlerRecordPaymentClinicMismatch(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/finance/payments", map[string]any{
		"clinic_id":    20,
		"patient_id":   1,
		"amount":       1000,
		"method":       "cash",
		"processed_by": 5,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, string(KindAuthorization), resp.Error.Kind)
}

func TestHandlerCompleteServicesConflict(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Filling", 1, 120000, 0)
	repo.planItems[100].Status = "COMPLETED"
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/finance/treatments/complete", map[string]any{
		"item_ids":  []int64{100},
		"doctor_id": 5,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp completionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, string(KindConflict), resp.Error.Kind)
	require.Equal(t, "plan_item:100", resp.Error.Entity)
}

func TestHandlerCompleteServices(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	repo.addPlanItem(100, 1, 10, "Crown installation", 1, 350000, 0)
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/finance/treatments/complete", map[string]any{
		"appointment_id": 7,
		"item_ids":       []int64{100},
		"doctor_id":      5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp completionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, 1, resp.CompletedCount)
	require.Equal(t, 350000.0, resp.TotalAmount)
	require.Equal(t, -350000.0, resp.NewBalance)
}

func TestHandlerGetSummary(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	seedCharge(t, repo, 1, 10, "Filling", 120000)
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodGet, "/finance/patients/1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary FinanceSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, int64(1), summary.PatientID)
	require.Equal(t, 120000.0, summary.TotalTreatmentCost)
	require.Equal(t, 120000.0, summary.CurrentDebt)
}

func TestHandlerGetLedgerPaging(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	seedCharge(t, repo, 1, 10, "Filling", 120000)
	seedCharge(t, repo, 1, 10, "Scaling", 30000)
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodGet, "/finance/patients/1/ledger?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ledgerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	require.Equal(t, 1, resp.Limit)
	require.Equal(t, 1, resp.Offset)
	require.Equal(t, -120000.0, resp.Entries[0].BalanceAfter)
}

func TestHandlerInvalidPatientID(t *testing.T) {
	router := newTestHandler(t, newMemoryLedgerRepo())

	rec := doJSON(t, router, http.MethodGet, "/finance/patients/abc/summary", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/finance/patients/0/ledger", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAllocateOverAllocation(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addPatient(1, 10)
	charge := seedCharge(t, repo, 1, 10, "Filling", 50000)
	router := newTestHandler(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/finance/payments", map[string]any{
		"clinic_id":    10,
		"patient_id":   1,
		"amount":       40000,
		"method":       "cash",
		"processed_by": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var payment paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))

	rec = doJSON(t, router, http.MethodPost, "/finance/allocations", map[string]any{
		"clinic_id":  10,
		"payment_id": payment.PaymentID,
		"allocations": []map[string]any{
			{"charge_id": charge.ID, "amount": 60000},
		},
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp allocateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, paymentEntity(payment.PaymentID), resp.Error.Entity)
}
