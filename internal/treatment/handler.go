package treatment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumident/lumident/internal/platform/httpx"
)

// Handler manages treatment plan endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers plan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/plans", func(r chi.Router) {
		r.Post("/", h.createPlan)
		r.Get("/{id}/items", h.listItems)
		r.Post("/{id}/items", h.addItem)
	})
}

type createPlanRequest struct {
	PatientID int64  `json:"patient_id" validate:"required,gt=0"`
	ClinicID  int64  `json:"clinic_id" validate:"required,gt=0"`
	Title     string `json:"title" validate:"omitempty,max=200"`
	CreatedBy int64  `json:"created_by" validate:"required,gt=0"`
}

type addItemRequest struct {
	ServiceName string  `json:"service_name" validate:"required,min=1,max=200"`
	ToothNumber string  `json:"tooth_number" validate:"omitempty,max=8"`
	Quantity    float64 `json:"quantity" validate:"omitempty,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"required,gt=0"`
	DiscountPct float64 `json:"discount_pct" validate:"omitempty,gte=0,lte=100"`
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), CreatePlanInput{
		PatientID: req.PatientID,
		ClinicID:  req.ClinicID,
		Title:     req.Title,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		h.logger.Error("create plan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	item, err := h.service.AddItem(r.Context(), AddItemInput{
		PlanID:      planID,
		ServiceName: req.ServiceName,
		ToothNumber: req.ToothNumber,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		DiscountPct: req.DiscountPct,
	})
	if errors.Is(err, ErrPlanNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("add plan item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	status := ItemStatus(r.URL.Query().Get("status"))
	items, err := h.service.ListItems(r.Context(), planID, status)
	if err != nil {
		h.logger.Error("list plan items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []PlanItem{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
