package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/lab-reservation/internal/model"
)

// ApprovalLogRepo appends to and reads the approval history.  The log is
// append-only: the repository exposes no update or delete.
type ApprovalLogRepo struct {
	db *sql.DB
}

// NewApprovalLogRepo returns a new ApprovalLogRepo bound to the given database.
func NewApprovalLogRepo(db *sql.DB) *ApprovalLogRepo { return &ApprovalLogRepo{db: db} }

// AppendTx writes one history entry inside the caller's transaction and
// populates its ID.
func (r *ApprovalLogRepo) AppendTx(ctx context.Context, tx *sql.Tx, e *model.ApprovalLogEntry) error {
	const q = `INSERT INTO approval_logs (reservation_id, step_order, role, actor_id, actor_name, actor_kind, action, note, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, e.ReservationID, e.StepOrder, string(e.Role), e.Actor.ID, e.Actor.Name,
		string(e.Actor.Kind), string(e.Action), e.Note, e.CreatedAt.UTC())
	if err != nil {
		return classify(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// ListByReservation returns the history of a reservation in the order it
// was written.
func (r *ApprovalLogRepo) ListByReservation(ctx context.Context, reservationID uint64) ([]model.ApprovalLogEntry, error) {
	const q = `SELECT id, reservation_id, step_order, role, actor_id, actor_name, actor_kind, action, note, created_at
	           FROM approval_logs WHERE reservation_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, q, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ApprovalLogEntry, 0)
	for rows.Next() {
		var (
			e                  model.ApprovalLogEntry
			role, kind, action string
		)
		if err := rows.Scan(&e.ID, &e.ReservationID, &e.StepOrder, &role, &e.Actor.ID, &e.Actor.Name,
			&kind, &action, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Role, err = model.ParseRole(role); err != nil {
			return nil, fmt.Errorf("approval log %d: %w", e.ID, err)
		}
		e.Actor.Kind = model.ActorKind(kind)
		e.Action = model.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
