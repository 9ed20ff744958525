package treatment

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines data access for treatment plans.
type RepositoryPort interface {
	CreatePlan(ctx context.Context, input CreatePlanInput) (*Plan, error)
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	AddItem(ctx context.Context, patientID int64, input AddItemInput) (*PlanItem, error)
	ListItems(ctx context.Context, planID int64, status ItemStatus) ([]PlanItem, error)
}

// Service handles treatment plan business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreatePlan opens a plan for a patient.
func (s *Service) CreatePlan(ctx context.Context, input CreatePlanInput) (*Plan, error) {
	if input.PatientID <= 0 {
		return nil, errors.New("patient ID required")
	}
	if input.ClinicID <= 0 {
		return nil, errors.New("clinic ID required")
	}
	if input.CreatedBy <= 0 {
		return nil, errors.New("creator identity required")
	}
	return s.repo.CreatePlan(ctx, input)
}

// AddItem appends a billable item to an existing plan. Price and discount are
// fixed now and carried onto the charge verbatim at completion time.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (*PlanItem, error) {
	if input.PlanID <= 0 {
		return nil, errors.New("plan ID required")
	}
	input.ServiceName = strings.TrimSpace(input.ServiceName)
	if input.ServiceName == "" {
		return nil, errors.New("service name required")
	}
	if input.Quantity <= 0 {
		input.Quantity = 1
	}
	if input.UnitPrice <= 0 {
		return nil, errors.New("unit price must be positive")
	}
	if input.DiscountPct < 0 || input.DiscountPct > 100 {
		return nil, errors.New("discount must be between 0 and 100")
	}

	plan, err := s.repo.GetPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	return s.repo.AddItem(ctx, plan.PatientID, input)
}

// ListItems returns a plan's items, optionally filtered by status.
func (s *Service) ListItems(ctx context.Context, planID int64, status ItemStatus) ([]PlanItem, error) {
	if planID <= 0 {
		return nil, errors.New("plan ID required")
	}
	return s.repo.ListItems(ctx, planID, status)
}
