package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumident/lumident/internal/platform/db"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for the ledger. Charges,
// payments and allocations are append-only; the only UPDATE paths are the
// plan-item compare-and-set, the cached balance refresh and fiscal receipt
// metadata.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside one writing transaction.
type TxRepository interface {
	GetPatientForUpdate(ctx context.Context, patientID int64) (PatientRef, error)
	FindPaymentByKey(ctx context.Context, clinicID int64, key string) (*Payment, error)
	AppendPayment(ctx context.Context, input AppendPaymentInput) (*Payment, error)
	AppendCharge(ctx context.Context, input AppendChargeInput) (*Charge, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	GetCharge(ctx context.Context, id int64) (*Charge, error)
	SumRefunds(ctx context.Context, paymentID int64) (float64, error)
	SumAllocatedToCharge(ctx context.Context, chargeID int64) (float64, error)
	SumAllocatedFromPayment(ctx context.Context, paymentID int64) (float64, error)
	InsertAllocation(ctx context.Context, paymentID, chargeID int64, amount float64) error
	CompletePlanItem(ctx context.Context, itemID, appointmentID, doctorID int64) (CompletedItem, error)
	ComputeBalance(ctx context.Context, patientID int64) (float64, error)
	UpdateCachedBalance(ctx context.Context, patientID int64, balance float64) error
}

// AppendPaymentInput is the payment row as written.
type AppendPaymentInput struct {
	PatientID      int64
	ClinicID       int64
	Amount         float64
	Method         PaymentMethod
	RefundOf       int64
	IdempotencyKey string
	Notes          string
	BalanceAfter   float64
	ProcessedBy    int64
}

// AppendChargeInput is the charge row as written.
type AppendChargeInput struct {
	PatientID     int64
	ClinicID      int64
	AppointmentID int64
	PlanItemID    int64
	ServiceName   string
	ToothNumber   string
	Quantity      float64
	UnitPrice     float64
	DiscountPct   float64
	Total         float64
	CreatedBy     int64
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetPatientForUpdate(ctx context.Context, patientID int64) (PatientRef, error) {
	var ref PatientRef
	err := t.tx.QueryRow(ctx,
		`SELECT id, clinic_id, cached_balance FROM patients WHERE id = $1 FOR UPDATE`,
		patientID,
	).Scan(&ref.ID, &ref.ClinicID, &ref.CachedBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return PatientRef{}, ErrPatientNotFound
	}
	if err != nil {
		return PatientRef{}, transientErr(err)
	}
	return ref, nil
}

func (t *txRepo) FindPaymentByKey(ctx context.Context, clinicID int64, key string) (*Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx,
		paymentSelect+` WHERE clinic_id = $1 AND idempotency_key = $2`,
		clinicID, key,
	))
}

func (t *txRepo) AppendPayment(ctx context.Context, input AppendPaymentInput) (*Payment, error) {
	var key pgtype.Text
	if input.IdempotencyKey != "" {
		key = pgtype.Text{String: input.IdempotencyKey, Valid: true}
	}
	var refundOf pgtype.Int8
	if input.RefundOf > 0 {
		refundOf = pgtype.Int8{Int64: input.RefundOf, Valid: true}
	}

	p := &Payment{
		PatientID:      input.PatientID,
		ClinicID:       input.ClinicID,
		Amount:         input.Amount,
		Method:         input.Method,
		RefundOf:       input.RefundOf,
		IdempotencyKey: input.IdempotencyKey,
		Notes:          input.Notes,
		BalanceAfter:   input.BalanceAfter,
		ReceiptStatus:  ReceiptPending,
		ProcessedBy:    input.ProcessedBy,
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (
			patient_id, clinic_id, amount, method, refund_of,
			idempotency_key, notes, balance_after, processed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		input.PatientID, input.ClinicID, input.Amount, string(input.Method), refundOf,
		key, input.Notes, input.BalanceAfter, input.ProcessedBy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateKey
		}
		return nil, transientErr(err)
	}
	return p, nil
}

func (t *txRepo) AppendCharge(ctx context.Context, input AppendChargeInput) (*Charge, error) {
	var appointmentID, planItemID pgtype.Int8
	if input.AppointmentID > 0 {
		appointmentID = pgtype.Int8{Int64: input.AppointmentID, Valid: true}
	}
	if input.PlanItemID > 0 {
		planItemID = pgtype.Int8{Int64: input.PlanItemID, Valid: true}
	}

	c := &Charge{
		PatientID:     input.PatientID,
		ClinicID:      input.ClinicID,
		AppointmentID: input.AppointmentID,
		PlanItemID:    input.PlanItemID,
		ServiceName:   input.ServiceName,
		ToothNumber:   input.ToothNumber,
		Quantity:      input.Quantity,
		UnitPrice:     input.UnitPrice,
		DiscountPct:   input.DiscountPct,
		Total:         input.Total,
		CreatedBy:     input.CreatedBy,
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO charges (
			patient_id, clinic_id, appointment_id, plan_item_id, service_name,
			tooth_number, quantity, unit_price, discount_pct, total, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		input.PatientID, input.ClinicID, appointmentID, planItemID, input.ServiceName,
		input.ToothNumber, input.Quantity, input.UnitPrice, input.DiscountPct,
		input.Total, input.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// uq_charges_plan_item: a concurrent racer already billed this item.
			return nil, ErrItemCompleted
		}
		return nil, transientErr(err)
	}
	return c, nil
}

func (t *txRepo) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, paymentSelect+` WHERE id = $1`, id))
}

func (t *txRepo) GetCharge(ctx context.Context, id int64) (*Charge, error) {
	return scanCharge(t.tx.QueryRow(ctx, chargeSelect+` WHERE id = $1`, id))
}

func (t *txRepo) SumRefunds(ctx context.Context, paymentID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(-SUM(amount), 0) FROM payments WHERE refund_of = $1`,
		paymentID,
	).Scan(&sum)
	if err != nil {
		return 0, transientErr(err)
	}
	return sum, nil
}

func (t *txRepo) SumAllocatedToCharge(ctx context.Context, chargeID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE charge_id = $1`,
		chargeID,
	).Scan(&sum)
	if err != nil {
		return 0, transientErr(err)
	}
	return sum, nil
}

func (t *txRepo) SumAllocatedFromPayment(ctx context.Context, paymentID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM allocations WHERE payment_id = $1`,
		paymentID,
	).Scan(&sum)
	if err != nil {
		return 0, transientErr(err)
	}
	return sum, nil
}

func (t *txRepo) InsertAllocation(ctx context.Context, paymentID, chargeID int64, amount float64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO allocations (payment_id, charge_id, amount) VALUES ($1, $2, $3)`,
		paymentID, chargeID, amount,
	)
	if err != nil {
		return transientErr(err)
	}
	return nil
}

// CompletePlanItem performs the PLANNED -> COMPLETED compare-and-set. A racer
// losing on an already-completed item gets ErrItemCompleted, never a second
// transition.
func (t *txRepo) CompletePlanItem(ctx context.Context, itemID, appointmentID, doctorID int64) (CompletedItem, error) {
	var item CompletedItem
	var appt pgtype.Int8
	if appointmentID > 0 {
		appt = pgtype.Int8{Int64: appointmentID, Valid: true}
	}
	err := t.tx.QueryRow(ctx, `
		UPDATE plan_items pi
		SET status = 'COMPLETED', completed_at = NOW(), completed_by = $2, appointment_id = $3
		FROM patients p
		WHERE pi.id = $1 AND pi.status = 'PLANNED' AND p.id = pi.patient_id
		RETURNING pi.id, pi.patient_id, p.clinic_id, pi.service_name, pi.tooth_number,
			pi.quantity, pi.unit_price, pi.discount_pct`,
		itemID, doctorID, appt,
	).Scan(
		&item.ID, &item.PatientID, &item.ClinicID, &item.ServiceName, &item.ToothNumber,
		&item.Quantity, &item.UnitPrice, &item.DiscountPct,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		var status string
		probe := t.tx.QueryRow(ctx, `SELECT status FROM plan_items WHERE id = $1`, itemID).Scan(&status)
		if errors.Is(probe, pgx.ErrNoRows) {
			return CompletedItem{}, ErrPlanItemNotFound
		}
		if probe != nil {
			return CompletedItem{}, transientErr(probe)
		}
		return CompletedItem{}, ErrItemCompleted
	}
	if err != nil {
		return CompletedItem{}, transientErr(err)
	}
	return item, nil
}

func (t *txRepo) ComputeBalance(ctx context.Context, patientID int64) (float64, error) {
	var balance float64
	err := t.tx.QueryRow(ctx, balanceQuery, patientID).Scan(&balance)
	if err != nil {
		return 0, transientErr(err)
	}
	return balance, nil
}

func (t *txRepo) UpdateCachedBalance(ctx context.Context, patientID int64, balance float64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE patients SET cached_balance = $2 WHERE id = $1`,
		patientID, balance,
	)
	if err != nil {
		return transientErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// --- Reads outside transactions ---

const balanceQuery = `
	SELECT COALESCE((SELECT SUM(amount) FROM payments WHERE patient_id = $1), 0)
	     - COALESCE((SELECT SUM(total) FROM charges WHERE patient_id = $1), 0)`

// GetSummary derives the finance summary in one statement, so the read is
// consistent as of a single snapshot and cannot observe a half-committed write.
func (r *Repository) GetSummary(ctx context.Context, patientID int64) (FinanceSummary, error) {
	s := FinanceSummary{PatientID: patientID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(total) FROM charges WHERE patient_id = $1), 0) AS total_cost,
			COALESCE((SELECT SUM(amount) FROM payments WHERE patient_id = $1), 0) AS total_paid`,
		patientID,
	).Scan(&s.TotalTreatmentCost, &s.TotalPaid)
	if err != nil {
		return FinanceSummary{}, transientErr(err)
	}
	s.CurrentBalance = s.TotalPaid - s.TotalTreatmentCost
	if s.CurrentBalance < 0 {
		s.CurrentDebt = -s.CurrentBalance
	} else {
		s.Advance = s.CurrentBalance
	}
	return s, nil
}

// ListEntries returns the running-balance view page. The window fold covers the
// whole history; LIMIT/OFFSET only slice the already-annotated sequence.
func (r *Repository) ListEntries(ctx context.Context, patientID int64, limit, offset int) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		WITH entries AS (
			SELECT c.id, 'debit'::text AS type, 'charge'::text AS event,
				c.service_name AS description, -c.total AS amount, c.created_at
			FROM charges c
			WHERE c.patient_id = $1
			UNION ALL
			SELECT p.id, 'credit'::text,
				CASE WHEN p.amount < 0 THEN 'refund' ELSE 'payment' END,
				COALESCE(NULLIF(p.notes, ''), p.method), p.amount, p.created_at
			FROM payments p
			WHERE p.patient_id = $1
		),
		annotated AS (
			SELECT id, type, event, description, amount, created_at,
				SUM(amount) OVER (
					ORDER BY created_at, id, type
					ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW
				) AS balance_after
			FROM entries
		)
		SELECT type, event, description, amount, created_at, balance_after
		FROM annotated
		ORDER BY created_at DESC, id DESC, type DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset,
	)
	if err != nil {
		return nil, transientErr(err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.Type, &e.Event, &e.Description, &e.Amount, &e.Date, &e.BalanceAfter); err != nil {
			return nil, transientErr(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr(err)
	}
	return entries, nil
}

// ListUnpaidWorks returns charges whose allocated sum has not reached the total.
func (r *Repository) ListUnpaidWorks(ctx context.Context, patientID int64) ([]UnpaidWork, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.service_name, c.tooth_number, c.total,
			COALESCE(SUM(a.amount), 0) AS allocated, c.created_at
		FROM charges c
		LEFT JOIN allocations a ON a.charge_id = c.id
		WHERE c.patient_id = $1
		GROUP BY c.id
		HAVING c.total - COALESCE(SUM(a.amount), 0) > 0
		ORDER BY c.created_at`,
		patientID,
	)
	if err != nil {
		return nil, transientErr(err)
	}
	defer rows.Close()

	var works []UnpaidWork
	for rows.Next() {
		var w UnpaidWork
		if err := rows.Scan(&w.ChargeID, &w.ServiceName, &w.ToothNumber, &w.TotalCost, &w.Allocated, &w.VisitDate); err != nil {
			return nil, transientErr(err)
		}
		w.Remaining = w.TotalCost - w.Allocated
		w.Status = SettlementStatus(w.TotalCost, w.Allocated)
		works = append(works, w)
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr(err)
	}
	return works, nil
}

// RecomputeBalance is the authoritative full-history recomputation used for
// drift detection.
func (r *Repository) RecomputeBalance(ctx context.Context, patientID int64) (float64, error) {
	var balance float64
	if err := r.pool.QueryRow(ctx, balanceQuery, patientID).Scan(&balance); err != nil {
		return 0, transientErr(err)
	}
	return balance, nil
}

// CachedBalance reads the denormalized patient balance for drift comparison.
func (r *Repository) CachedBalance(ctx context.Context, patientID int64) (float64, error) {
	var balance float64
	err := r.pool.QueryRow(ctx,
		`SELECT cached_balance FROM patients WHERE id = $1`, patientID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrPatientNotFound
	}
	if err != nil {
		return 0, transientErr(err)
	}
	return balance, nil
}

// FindPayment reads a payment outside a transaction.
func (r *Repository) FindPayment(ctx context.Context, id int64) (*Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, paymentSelect+` WHERE id = $1`, id))
}

// FindPaymentByKey reads a payment by clinic and idempotency key outside a
// transaction, used to replay the prior result after a duplicate-key conflict.
func (r *Repository) FindPaymentByKey(ctx context.Context, clinicID int64, key string) (*Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		paymentSelect+` WHERE clinic_id = $1 AND idempotency_key = $2`,
		clinicID, key,
	))
}

// UpdateReceipt records the fiscal receipt outcome on a payment. Receipt
// metadata is the only mutable part of a payment row; monetary fields never
// change.
func (r *Repository) UpdateReceipt(ctx context.Context, paymentID int64, ref string, status ReceiptStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET receipt_ref = $2, receipt_status = $3 WHERE id = $1`,
		paymentID, ref, string(status),
	)
	if err != nil {
		return transientErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// --- Row scanning ---

const paymentSelect = `
	SELECT id, patient_id, clinic_id, amount, method, refund_of, idempotency_key,
		notes, balance_after, receipt_ref, receipt_status, processed_by, created_at
	FROM payments`

const chargeSelect = `
	SELECT id, patient_id, clinic_id, appointment_id, plan_item_id, service_name,
		tooth_number, quantity, unit_price, discount_pct, total, created_by, created_at
	FROM charges`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var refundOf pgtype.Int8
	var key pgtype.Text
	err := row.Scan(
		&p.ID, &p.PatientID, &p.ClinicID, &p.Amount, &p.Method, &refundOf, &key,
		&p.Notes, &p.BalanceAfter, &p.ReceiptRef, &p.ReceiptStatus, &p.ProcessedBy, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, transientErr(err)
	}
	p.RefundOf = refundOf.Int64
	p.IdempotencyKey = key.String
	return &p, nil
}

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	var appointmentID, planItemID pgtype.Int8
	err := row.Scan(
		&c.ID, &c.PatientID, &c.ClinicID, &appointmentID, &planItemID, &c.ServiceName,
		&c.ToothNumber, &c.Quantity, &c.UnitPrice, &c.DiscountPct, &c.Total, &c.CreatedBy, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChargeNotFound
	}
	if err != nil {
		return nil, transientErr(err)
	}
	c.AppointmentID = appointmentID.Int64
	c.PlanItemID = planItemID.Int64
	return &c, nil
}
