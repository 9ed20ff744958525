package patients

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumident/lumident/internal/platform/httpx"
	"github.com/lumident/lumident/internal/shared"
)

// Handler manages registry endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers registry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/patients", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
	})
}

type createPatientRequest struct {
	ClinicID int64  `json:"clinic_id" validate:"required,gt=0"`
	FullName string `json:"full_name" validate:"required,min=1,max=200"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

type listPatientsResponse struct {
	Patients   []Patient         `json:"patients"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	patient, err := h.service.Register(r.Context(), CreatePatientInput{
		ClinicID: req.ClinicID,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		h.logger.Error("register patient", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, patient)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	patient, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get patient", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, patient)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	clinicID, _ := strconv.ParseInt(r.URL.Query().Get("clinic_id"), 10, 64)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	req := ListPatientsRequest{
		ClinicID: clinicID,
		Search:   r.URL.Query().Get("q"),
		Page:     page,
		PerPage:  perPage,
	}
	list, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list patients", slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if list == nil {
		list = []Patient{}
	}
	httpx.JSON(w, http.StatusOK, listPatientsResponse{
		Patients:   list,
		Pagination: shared.NewPagination(req.Page, req.PerPage, total),
	})
}
