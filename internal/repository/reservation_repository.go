package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/lab-reservation/internal/database"
	"github.com/iliyamo/lab-reservation/internal/model"
)

// ReservationRepo persists reservations and their decision ledger.  The
// ledger lives in reservation_approvals with one row per (reservation,
// role); the primary key is what makes a second decision by the same role
// fail with ErrDuplicate.  All timestamp fields are stored in UTC.
type ReservationRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB, dialect database.Dialect) *ReservationRepo {
	return &ReservationRepo{db: db, dialect: dialect}
}

const reservationColumns = `id, user_id, user_category, device_id, reserve_date, time_slot, purpose, status, current_step, reject_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		res      model.Reservation
		category string
		status   int
		reason   sql.NullString
	)
	if err := s.Scan(&res.ID, &res.UserID, &category, &res.DeviceID, &res.ReserveDate, &res.TimeSlot,
		&res.Purpose, &status, &res.CurrentStep, &reason, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	c, err := model.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("reservation %d: %w", res.ID, err)
	}
	res.Category = c
	res.Status = model.ReservationStatus(status)
	if reason.Valid {
		rr := reason.String
		res.RejectReason = &rr
	}
	return &res, nil
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID.  New reservations start
// pending at step 1 unless the caller set CurrentStep.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	if !model.ValidTimeSlot(res.TimeSlot) {
		return fmt.Errorf("%w: time slot %q", ErrInvalid, res.TimeSlot)
	}
	now := time.Now().UTC()
	if res.CurrentStep == 0 {
		res.CurrentStep = 1
	}
	const q = `INSERT INTO reservations (user_id, user_category, device_id, reserve_date, time_slot, purpose, status, current_step, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.UserID, string(res.Category), res.DeviceID, res.ReserveDate,
		res.TimeSlot, res.Purpose, int(res.Status), res.CurrentStep, now, now)
	if err != nil {
		return classify(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.CreatedAt, res.UpdatedAt = now, now
	if res.Ledger == nil {
		res.Ledger = model.Ledger{}
	}
	return nil
}

// GetForUpdateTx loads a reservation and its ledger, locking the
// reservation row until tx ends.  Returns ErrNotFound when no row exists.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?` + r.dialect.LockSuffix()
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	ledger, err := r.loadLedgerTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	res.Ledger = ledger
	return res, nil
}

// GetByID loads a reservation without its ledger and without locking.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

func (r *ReservationRepo) loadLedgerTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Ledger, error) {
	const q = `SELECT role, actor_id, actor_name, actor_kind, action, note, decided_at
	           FROM reservation_approvals WHERE reservation_id = ?`
	rows, err := tx.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ledger := model.Ledger{}
	for rows.Next() {
		var (
			e                  model.LedgerEntry
			role, kind, action string
		)
		if err := rows.Scan(&role, &e.Actor.ID, &e.Actor.Name, &kind, &action, &e.Note, &e.DecidedAt); err != nil {
			return nil, err
		}
		if e.Role, err = model.ParseRole(role); err != nil {
			return nil, fmt.Errorf("ledger of reservation %d: %w", id, err)
		}
		e.Actor.Kind = model.ActorKind(kind)
		e.Action = model.Action(action)
		ledger[e.Role] = e
	}
	return ledger, rows.Err()
}

// PutLedgerEntryTx records the decision of e.Role on a reservation.  A
// second decision by the same role returns ErrDuplicate.
func (r *ReservationRepo) PutLedgerEntryTx(ctx context.Context, tx *sql.Tx, reservationID uint64, e model.LedgerEntry) error {
	const q = `INSERT INTO reservation_approvals (reservation_id, role, actor_id, actor_name, actor_kind, action, note, decided_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, reservationID, string(e.Role), e.Actor.ID, e.Actor.Name,
		string(e.Actor.Kind), string(e.Action), e.Note, e.DecidedAt.UTC())
	return classify(err)
}

// AdvanceStepTx moves a pending reservation to the workflow group with
// the given order.
func (r *ReservationRepo) AdvanceStepTx(ctx context.Context, tx *sql.Tx, id uint64, step int, at time.Time) error {
	const q = `UPDATE reservations SET current_step = ?, updated_at = ? WHERE id = ? AND status = ?`
	return execOne(ctx, tx, q, step, at.UTC(), id, int(model.StatusPending))
}

// SetStatusTx moves a reservation from the status it is expected to be in
// to a new one.  reason is stored only when non-nil.  ErrConflict is
// returned if the row is no longer in status from.
func (r *ReservationRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.ReservationStatus, reason *string, at time.Time) error {
	if reason != nil {
		const q = `UPDATE reservations SET status = ?, reject_reason = ?, updated_at = ? WHERE id = ? AND status = ?`
		return execOne(ctx, tx, q, int(to), *reason, at.UTC(), id, int(from))
	}
	const q = `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	return execOne(ctx, tx, q, int(to), at.UTC(), id, int(from))
}

// execOne runs an UPDATE that must touch exactly one row and returns
// ErrConflict when it touches none.
func execOne(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	result, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// PendingApproval is a reservation waiting on a particular role, joined
// with the workflow step that role is expected to decide.
type PendingApproval struct {
	Reservation     model.Reservation
	StepDescription string
	Parallel        bool
	PaymentRequired bool
}

// ListPendingByRole returns the pending reservations whose current group
// contains an enabled step for role that role has not yet decided.  Oldest
// reservations come first.
func (r *ReservationRepo) ListPendingByRole(ctx context.Context, role model.Role) ([]PendingApproval, error) {
	const q = `SELECT r.id, r.user_id, r.user_category, r.device_id, r.reserve_date, r.time_slot, r.purpose,
	                  r.status, r.current_step, r.reject_reason, r.created_at, r.updated_at,
	                  w.description, w.is_parallel, w.is_payment_required
	           FROM reservations r
	           JOIN approval_workflows w
	             ON w.user_category = r.user_category AND w.step_order = r.current_step
	            AND w.role = ? AND w.is_enabled = 1
	           LEFT JOIN reservation_approvals a
	             ON a.reservation_id = r.id AND a.role = ?
	           WHERE r.status = ? AND a.reservation_id IS NULL
	           ORDER BY r.created_at ASC, r.id ASC`
	rows, err := r.db.QueryContext(ctx, q, string(role), string(role), int(model.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingApproval
	for rows.Next() {
		var (
			p        PendingApproval
			category string
			status   int
			reason   sql.NullString
		)
		res := &p.Reservation
		if err := rows.Scan(&res.ID, &res.UserID, &category, &res.DeviceID, &res.ReserveDate, &res.TimeSlot,
			&res.Purpose, &status, &res.CurrentStep, &reason, &res.CreatedAt, &res.UpdatedAt,
			&p.StepDescription, &p.Parallel, &p.PaymentRequired); err != nil {
			return nil, err
		}
		res.Category = model.Category(category)
		res.Status = model.ReservationStatus(status)
		if reason.Valid {
			rr := reason.String
			res.RejectReason = &rr
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
