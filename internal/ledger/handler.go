package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/lumident/lumident/internal/platform/httpx"
	"github.com/lumident/lumident/internal/shared"
)

// Handler exposes the ledger engine over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	summaries singleflight.Group
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if req.ClinicID == 0 {
		req.ClinicID = actor.ClinicID
	}
	if req.ProcessedBy == 0 {
		req.ProcessedBy = actor.StaffID
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, paymentResponse{
			Error: failure(validationErr("%s", err.Error())),
		})
		return
	}

	result, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		ClinicID:       req.ClinicID,
		PatientID:      req.PatientID,
		Amount:         req.Amount,
		Method:         PaymentMethod(req.Method),
		ProcessedBy:    req.ProcessedBy,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondPaymentError(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{
		Success:    true,
		PaymentID:  result.PaymentID,
		Amount:     result.Amount,
		NewBalance: result.NewBalance,
		Duplicate:  result.Duplicate,
	})
}

func (h *Handler) recordRefund(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req recordRefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if req.ClinicID == 0 {
		req.ClinicID = actor.ClinicID
	}
	if req.ProcessedBy == 0 {
		req.ProcessedBy = actor.StaffID
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, paymentResponse{
			Error: failure(validationErr("%s", err.Error())),
		})
		return
	}

	result, err := h.service.RecordRefund(r.Context(), RecordRefundInput{
		ClinicID:       req.ClinicID,
		PaymentID:      paymentID,
		Amount:         req.Amount,
		ProcessedBy:    req.ProcessedBy,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondPaymentError(w, r, "record refund", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{
		Success:    true,
		PaymentID:  result.PaymentID,
		Amount:     result.Amount,
		NewBalance: result.NewBalance,
		Duplicate:  result.Duplicate,
	})
}

func (h *Handler) completeServices(w http.ResponseWriter, r *http.Request) {
	var req completeServicesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if req.DoctorID == 0 {
		req.DoctorID = shared.ActorFromContext(r.Context()).StaffID
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, completionResponse{
			Error: failure(validationErr("%s", err.Error())),
		})
		return
	}

	result, err := h.service.CompleteServices(r.Context(), CompleteServicesInput{
		AppointmentID: req.AppointmentID,
		ItemIDs:       req.ItemIDs,
		DoctorID:      req.DoctorID,
	})
	if err != nil {
		kind := KindOf(err)
		h.logFailure(r, "complete services", kind, err)
		httpx.JSON(w, statusForKind(kind), completionResponse{Error: failure(err)})
		return
	}
	httpx.JSON(w, http.StatusOK, completionResponse{
		Success:        true,
		CompletedCount: result.CompletedCount,
		TotalAmount:    result.TotalAmount,
		NewBalance:     result.NewBalance,
	})
}

func (h *Handler) allocatePayment(w http.ResponseWriter, r *http.Request) {
	var req allocatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if req.ClinicID == 0 {
		req.ClinicID = shared.ActorFromContext(r.Context()).ClinicID
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, allocateResponse{
			Error: failure(validationErr("%s", err.Error())),
		})
		return
	}

	input := AllocatePaymentInput{ClinicID: req.ClinicID, PaymentID: req.PaymentID}
	for _, alloc := range req.Allocations {
		input.Allocations = append(input.Allocations, AllocationInput{
			ChargeID: alloc.ChargeID,
			Amount:   alloc.Amount,
		})
	}
	if err := h.service.AllocatePayment(r.Context(), input); err != nil {
		kind := KindOf(err)
		h.logFailure(r, "allocate payment", kind, err)
		httpx.JSON(w, statusForKind(kind), allocateResponse{Error: failure(err)})
		return
	}
	httpx.JSON(w, http.StatusOK, allocateResponse{Success: true})
}

// getSummary coalesces concurrent identical reads; each flight is still one
// consistent snapshot read against the store.
func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	key := strconv.FormatInt(patientID, 10)
	value, err, _ := h.summaries.Do(key, func() (any, error) {
		return h.service.GetSummary(r.Context(), patientID)
	})
	if err != nil {
		h.respondReadError(w, r, "get summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, value)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.GetLedger(r.Context(), patientID, limit, offset)
	if err != nil {
		h.respondReadError(w, r, "get ledger", err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	httpx.JSON(w, http.StatusOK, ledgerResponse{Entries: entries, Limit: limit, Offset: offset})
}

func (h *Handler) getUnpaidWorks(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	works, err := h.service.GetUnpaidWorks(r.Context(), patientID)
	if err != nil {
		h.respondReadError(w, r, "get unpaid works", err)
		return
	}
	if works == nil {
		works = []UnpaidWork{}
	}
	httpx.JSON(w, http.StatusOK, works)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.service.CalculateBalance(r.Context(), patientID)
	if err != nil {
		h.respondReadError(w, r, "calculate balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondPaymentError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := KindOf(err)
	h.logFailure(r, op, kind, err)
	httpx.JSON(w, statusForKind(kind), paymentResponse{Error: failure(err)})
}

func (h *Handler) respondReadError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := KindOf(err)
	h.logFailure(r, op, kind, err)
	httpx.Problem(w, statusForKind(kind), string(kind), err.Error())
}

func (h *Handler) logFailure(r *http.Request, op string, kind Kind, err error) {
	logger := h.logger.With(
		slog.String("op", op),
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)
	if kind == KindTransient {
		logger.Error("ledger operation failed")
		return
	}
	logger.Info("ledger operation rejected")
}
