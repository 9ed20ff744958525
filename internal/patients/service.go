package patients

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines data access for the registry.
type RepositoryPort interface {
	Create(ctx context.Context, input CreatePatientInput) (*Patient, error)
	Get(ctx context.Context, id int64) (*Patient, error)
	List(ctx context.Context, req ListPatientsRequest) ([]Patient, int, error)
}

// Service handles registry business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Register creates a patient record.
func (s *Service) Register(ctx context.Context, input CreatePatientInput) (*Patient, error) {
	if input.ClinicID <= 0 {
		return nil, errors.New("clinic ID required")
	}
	input.FullName = strings.TrimSpace(input.FullName)
	if input.FullName == "" {
		return nil, errors.New("full name required")
	}
	return s.repo.Create(ctx, input)
}

// Get returns a patient by id.
func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of the clinic's patients.
func (s *Service) List(ctx context.Context, req ListPatientsRequest) ([]Patient, int, error) {
	if req.ClinicID <= 0 {
		return nil, 0, errors.New("clinic ID required")
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 || req.PerPage > 100 {
		req.PerPage = 20
	}
	return s.repo.List(ctx, req)
}
