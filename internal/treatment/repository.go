package treatment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPlanNotFound indicates the plan does not exist.
var ErrPlanNotFound = errors.New("treatment: plan not found")

// Repository provides PostgreSQL backed persistence for plans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePlan opens a plan for a patient.
func (r *Repository) CreatePlan(ctx context.Context, input CreatePlanInput) (*Plan, error) {
	p := &Plan{
		PatientID: input.PatientID,
		ClinicID:  input.ClinicID,
		Title:     input.Title,
		CreatedBy: input.CreatedBy,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO treatment_plans (patient_id, clinic_id, title, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		input.PatientID, input.ClinicID, input.Title, input.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPlan retrieves a plan by id.
func (r *Repository) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	var p Plan
	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, clinic_id, title, created_by, created_at
		FROM treatment_plans
		WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.PatientID, &p.ClinicID, &p.Title, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddItem appends a billable item to a plan.
func (r *Repository) AddItem(ctx context.Context, patientID int64, input AddItemInput) (*PlanItem, error) {
	item := &PlanItem{
		PlanID:      input.PlanID,
		PatientID:   patientID,
		ServiceName: input.ServiceName,
		ToothNumber: input.ToothNumber,
		Quantity:    input.Quantity,
		UnitPrice:   input.UnitPrice,
		DiscountPct: input.DiscountPct,
		Status:      ItemPlanned,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO plan_items (plan_id, patient_id, service_name, tooth_number, quantity, unit_price, discount_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		input.PlanID, patientID, input.ServiceName, input.ToothNumber,
		input.Quantity, input.UnitPrice, input.DiscountPct,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns a plan's items, optionally filtered by status.
func (r *Repository) ListItems(ctx context.Context, planID int64, status ItemStatus) ([]PlanItem, error) {
	query := `
		SELECT id, plan_id, patient_id, service_name, tooth_number, quantity,
			unit_price, discount_pct, status, appointment_id, completed_by,
			completed_at, created_at
		FROM plan_items
		WHERE plan_id = $1`
	args := []any{planID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, string(status))
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PlanItem
	for rows.Next() {
		var item PlanItem
		var appointmentID, completedBy pgtype.Int8
		var completedAt pgtype.Timestamptz
		err := rows.Scan(
			&item.ID, &item.PlanID, &item.PatientID, &item.ServiceName, &item.ToothNumber,
			&item.Quantity, &item.UnitPrice, &item.DiscountPct, &item.Status,
			&appointmentID, &completedBy, &completedAt, &item.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		item.AppointmentID = appointmentID.Int64
		item.CompletedBy = completedBy.Int64
		if completedAt.Valid {
			item.CompletedAt = &completedAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
