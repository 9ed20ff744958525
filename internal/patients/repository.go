package patients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumident/lumident/internal/shared"
)

// ErrNotFound indicates the patient does not exist.
var ErrNotFound = errors.New("patients: not found")

// Repository provides PostgreSQL backed persistence for the registry.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create registers a patient.
func (r *Repository) Create(ctx context.Context, input CreatePatientInput) (*Patient, error) {
	p := &Patient{
		ClinicID: input.ClinicID,
		FullName: input.FullName,
		Phone:    input.Phone,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients (clinic_id, full_name, phone)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		input.ClinicID, input.FullName, input.Phone,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get retrieves a patient by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, full_name, phone, cached_balance, created_at
		FROM patients
		WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.ClinicID, &p.FullName, &p.Phone, &p.CachedBalance, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns patients for a clinic with optional name search.
func (r *Repository) List(ctx context.Context, req ListPatientsRequest) ([]Patient, int, error) {
	where := " WHERE clinic_id = $1"
	args := []any{req.ClinicID}
	if req.Search != "" {
		where += " AND full_name ILIKE $2"
		args = append(args, "%"+req.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM patients"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, clinic_id, full_name, phone, cached_balance, created_at
		FROM patients` + where +
		fmt.Sprintf(" ORDER BY full_name LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	page := shared.Pagination{Page: req.Page, PerPage: req.PerPage}
	args = append(args, req.PerPage, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.ClinicID, &p.FullName, &p.Phone, &p.CachedBalance, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
