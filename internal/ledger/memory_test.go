package ledger

import (
	"context"
	"time"
)

// memoryLedgerRepo backs service tests with map-based storage. WithTx snapshots
// the state up front and restores it when fn fails, mirroring the rollback the
// real repository gets from Postgres.
type memoryLedgerRepo struct {
	patients    map[int64]*PatientRef
	payments    map[int64]*Payment
	charges     map[int64]*Charge
	planItems   map[int64]*memPlanItem
	allocations []Allocation

	// Bumped on every patients-row write, standing in for the row version a
	// repeatable-read transaction checks when its FOR UPDATE lock is granted.
	patientVersions map[int64]int64

	nextID int64
	clock  time.Time
}

type memPlanItem struct {
	CompletedItem
	Status string
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		patients:        make(map[int64]*PatientRef),
		payments:        make(map[int64]*Payment),
		charges:         make(map[int64]*Charge),
		planItems:       make(map[int64]*memPlanItem),
		patientVersions: make(map[int64]int64),
		clock:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (r *memoryLedgerRepo) addPatient(id, clinicID int64) {
	r.patients[id] = &PatientRef{ID: id, ClinicID: clinicID}
}

func (r *memoryLedgerRepo) addPlanItem(id, patientID, clinicID int64, service string, quantity, unitPrice, discountPct float64) {
	r.planItems[id] = &memPlanItem{
		CompletedItem: CompletedItem{
			ID:          id,
			PatientID:   patientID,
			ClinicID:    clinicID,
			ServiceName: service,
			Quantity:    quantity,
			UnitPrice:   unitPrice,
			DiscountPct: discountPct,
		},
		Status: "PLANNED",
	}
}

func (r *memoryLedgerRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *memoryLedgerRepo) clone() *memoryLedgerRepo {
	c := &memoryLedgerRepo{
		patients:        make(map[int64]*PatientRef, len(r.patients)),
		payments:        make(map[int64]*Payment, len(r.payments)),
		charges:         make(map[int64]*Charge, len(r.charges)),
		planItems:       make(map[int64]*memPlanItem, len(r.planItems)),
		allocations:     append([]Allocation(nil), r.allocations...),
		patientVersions: make(map[int64]int64, len(r.patientVersions)),
		nextID:          r.nextID,
		clock:           r.clock,
	}
	for id, v := range r.patientVersions {
		c.patientVersions[id] = v
	}
	for id, p := range r.patients {
		cp := *p
		c.patients[id] = &cp
	}
	for id, p := range r.payments {
		cp := *p
		c.payments[id] = &cp
	}
	for id, ch := range r.charges {
		cc := *ch
		c.charges[id] = &cc
	}
	for id, item := range r.planItems {
		ci := *item
		c.planItems[id] = &ci
	}
	return c
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, r); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) GetPatientForUpdate(ctx context.Context, patientID int64) (PatientRef, error) {
	p, ok := r.patients[patientID]
	if !ok {
		return PatientRef{}, ErrPatientNotFound
	}
	return *p, nil
}

func (r *memoryLedgerRepo) FindPaymentByKey(ctx context.Context, clinicID int64, key string) (*Payment, error) {
	for _, p := range r.payments {
		if p.ClinicID == clinicID && p.IdempotencyKey == key && key != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *memoryLedgerRepo) AppendPayment(ctx context.Context, input AppendPaymentInput) (*Payment, error) {
	if input.IdempotencyKey != "" {
		if _, err := r.FindPaymentByKey(ctx, input.ClinicID, input.IdempotencyKey); err == nil {
			return nil, ErrDuplicateKey
		}
	}
	r.nextID++
	p := &Payment{
		ID:             r.nextID,
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
		CreatedAt:      r.tick(),
	}
	r.payments[p.ID] = p
	cp := *p
	return &cp, nil
}

func (r *memoryLedgerRepo) AppendCharge(ctx context.Context, input AppendChargeInput) (*Charge, error) {
	if input.PlanItemID > 0 {
		for _, c := range r.charges {
			if c.PlanItemID == input.PlanItemID {
				return nil, ErrItemCompleted
			}
		}
	}
	r.nextID++
	c := &Charge{
		ID:            r.nextID,
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
		CreatedAt:     r.tick(),
	}
	r.charges[c.ID] = c
	cc := *c
	return &cc, nil
}

func (r *memoryLedgerRepo) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryLedgerRepo) GetCharge(ctx context.Context, id int64) (*Charge, error) {
	c, ok := r.charges[id]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *memoryLedgerRepo) SumRefunds(ctx context.Context, paymentID int64) (float64, error) {
	var sum float64
	for _, p := range r.payments {
		if p.RefundOf == paymentID {
			sum += -p.Amount
		}
	}
	return sum, nil
}

func (r *memoryLedgerRepo) SumAllocatedToCharge(ctx context.Context, chargeID int64) (float64, error) {
	var sum float64
	for _, a := range r.allocations {
		if a.ChargeID == chargeID {
			sum += a.Amount
		}
	}
	return sum, nil
}

func (r *memoryLedgerRepo) SumAllocatedFromPayment(ctx context.Context, paymentID int64) (float64, error) {
	var sum float64
	for _, a := range r.allocations {
		if a.PaymentID == paymentID {
			sum += a.Amount
		}
	}
	return sum, nil
}

func (r *memoryLedgerRepo) InsertAllocation(ctx context.Context, paymentID, chargeID int64, amount float64) error {
	r.nextID++
	r.allocations = append(r.allocations, Allocation{
		ID:        r.nextID,
		PaymentID: paymentID,
		ChargeID:  chargeID,
		Amount:    amount,
		CreatedAt: r.tick(),
	})
	return nil
}

func (r *memoryLedgerRepo) CompletePlanItem(ctx context.Context, itemID, appointmentID, doctorID int64) (CompletedItem, error) {
	item, ok := r.planItems[itemID]
	if !ok {
		return CompletedItem{}, ErrPlanItemNotFound
	}
	if item.Status != "PLANNED" {
		return CompletedItem{}, ErrItemCompleted
	}
	item.Status = "COMPLETED"
	return item.CompletedItem, nil
}

func (r *memoryLedgerRepo) ComputeBalance(ctx context.Context, patientID int64) (float64, error) {
	var balance float64
	for _, p := range r.payments {
		if p.PatientID == patientID {
			balance += p.Amount
		}
	}
	for _, c := range r.charges {
		if c.PatientID == patientID {
			balance -= c.Total
		}
	}
	return balance, nil
}

func (r *memoryLedgerRepo) UpdateCachedBalance(ctx context.Context, patientID int64, balance float64) error {
	p, ok := r.patients[patientID]
	if !ok {
		return ErrPatientNotFound
	}
	p.CachedBalance = balance
	r.patientVersions[patientID]++
	return nil
}

func (r *memoryLedgerRepo) GetSummary(ctx context.Context, patientID int64) (FinanceSummary, error) {
	s := FinanceSummary{PatientID: patientID}
	for _, c := range r.charges {
		if c.PatientID == patientID {
			s.TotalTreatmentCost += c.Total
		}
	}
	for _, p := range r.payments {
		if p.PatientID == patientID {
			s.TotalPaid += p.Amount
		}
	}
	s.CurrentBalance = s.TotalPaid - s.TotalTreatmentCost
	if s.CurrentBalance < 0 {
		s.CurrentDebt = -s.CurrentBalance
	} else {
		s.Advance = s.CurrentBalance
	}
	return s, nil
}

func (r *memoryLedgerRepo) ListEntries(ctx context.Context, patientID int64, limit, offset int) ([]LedgerEntry, error) {
	chronological := r.entriesFor(patientID)

	// Newest first, balance already folded over the full history.
	reversed := make([]LedgerEntry, 0, len(chronological))
	for i := len(chronological) - 1; i >= 0; i-- {
		reversed = append(reversed, chronological[i])
	}
	if offset >= len(reversed) {
		return nil, nil
	}
	end := offset + limit
	if end > len(reversed) {
		end = len(reversed)
	}
	return reversed[offset:end], nil
}

func (r *memoryLedgerRepo) entriesFor(patientID int64) []LedgerEntry {
	type event struct {
		at    time.Time
		entry LedgerEntry
	}
	var events []event
	for _, c := range r.charges {
		if c.PatientID != patientID {
			continue
		}
		events = append(events, event{at: c.CreatedAt, entry: LedgerEntry{
			Type:        EntryDebit,
			Event:       EventCharge,
			Description: c.ServiceName,
			Amount:      -c.Total,
			Date:        c.CreatedAt,
		}})
	}
	for _, p := range r.payments {
		if p.PatientID != patientID {
			continue
		}
		eventType := EventPayment
		if p.Amount < 0 {
			eventType = EventRefund
		}
		events = append(events, event{at: p.CreatedAt, entry: LedgerEntry{
			Type:        EntryCredit,
			Event:       eventType,
			Description: string(p.Method),
			Amount:      p.Amount,
			Date:        p.CreatedAt,
		}})
	}
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].at.Before(events[j-1].at); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}

	var balance float64
	out := make([]LedgerEntry, 0, len(events))
	for _, e := range events {
		balance += e.entry.Amount
		e.entry.BalanceAfter = balance
		out = append(out, e.entry)
	}
	return out
}

func (r *memoryLedgerRepo) ListUnpaidWorks(ctx context.Context, patientID int64) ([]UnpaidWork, error) {
	var works []UnpaidWork
	chronological := make([]*Charge, 0, len(r.charges))
	for _, c := range r.charges {
		if c.PatientID == patientID {
			chronological = append(chronological, c)
		}
	}
	for i := 1; i < len(chronological); i++ {
		for j := i; j > 0 && chronological[j].CreatedAt.Before(chronological[j-1].CreatedAt); j-- {
			chronological[j], chronological[j-1] = chronological[j-1], chronological[j]
		}
	}
	for _, c := range chronological {
		allocated, _ := r.SumAllocatedToCharge(ctx, c.ID)
		if c.Total-allocated <= 0 {
			continue
		}
		works = append(works, UnpaidWork{
			ChargeID:    c.ID,
			ServiceName: c.ServiceName,
			ToothNumber: c.ToothNumber,
			TotalCost:   c.Total,
			Allocated:   allocated,
			Remaining:   c.Total - allocated,
			Status:      SettlementStatus(c.Total, allocated),
			VisitDate:   c.CreatedAt,
		})
	}
	return works, nil
}

func (r *memoryLedgerRepo) RecomputeBalance(ctx context.Context, patientID int64) (float64, error) {
	return r.ComputeBalance(ctx, patientID)
}

func (r *memoryLedgerRepo) CachedBalance(ctx context.Context, patientID int64) (float64, error) {
	p, ok := r.patients[patientID]
	if !ok {
		return 0, ErrPatientNotFound
	}
	return p.CachedBalance, nil
}

func (r *memoryLedgerRepo) FindPayment(ctx context.Context, id int64) (*Payment, error) {
	return r.GetPayment(ctx, id)
}
