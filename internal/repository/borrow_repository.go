package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/lab-reservation/internal/database"
	"github.com/iliyamo/lab-reservation/internal/model"
)

// BorrowRepo persists borrow records.  reservation_id is unique, so a
// reservation can never produce two records.
type BorrowRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewBorrowRepo returns a new BorrowRepo bound to the given database.
func NewBorrowRepo(db *sql.DB, dialect database.Dialect) *BorrowRepo {
	return &BorrowRepo{db: db, dialect: dialect}
}

const borrowColumns = `id, reservation_id, user_id, device_id, borrow_date, time_slot, status, operator_out_id, operator_in_id, actual_return, created_at`

func scanBorrow(s rowScanner) (*model.BorrowRecord, error) {
	var (
		b        model.BorrowRecord
		status   int
		out, in  sql.NullInt64
		returned sql.NullTime
	)
	if err := s.Scan(&b.ID, &b.ReservationID, &b.UserID, &b.DeviceID, &b.BorrowDate, &b.TimeSlot,
		&status, &out, &in, &returned, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Status = model.BorrowStatus(status)
	if out.Valid {
		v := uint64(out.Int64)
		b.OperatorOutID = &v
	}
	if in.Valid {
		v := uint64(in.Int64)
		b.OperatorInID = &v
	}
	if returned.Valid {
		t := returned.Time
		b.ActualReturn = &t
	}
	return &b, nil
}

// CreateTx inserts a borrow record inside the caller's transaction and
// returns its ID.  A second record for the same reservation returns
// ErrDuplicate.
func (r *BorrowRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.BorrowRecord) (uint64, error) {
	if b.Status == 0 {
		b.Status = model.BorrowActive
	}
	b.CreatedAt = time.Now().UTC()
	const q = `INSERT INTO borrow_records (reservation_id, user_id, device_id, borrow_date, time_slot, status, operator_out_id, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.ReservationID, b.UserID, b.DeviceID, b.BorrowDate, b.TimeSlot,
		int(b.Status), b.OperatorOutID, b.CreatedAt)
	if err != nil {
		return 0, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	b.ID = uint64(id)
	return b.ID, nil
}

// GetTx reads a borrow record inside tx without locking it.
func (r *BorrowRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.BorrowRecord, error) {
	return r.getTx(ctx, tx, `SELECT `+borrowColumns+` FROM borrow_records WHERE id = ?`, id)
}

// GetForUpdateTx reads and locks a borrow record.
func (r *BorrowRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.BorrowRecord, error) {
	return r.getTx(ctx, tx, `SELECT `+borrowColumns+` FROM borrow_records WHERE id = ?`+r.dialect.LockSuffix(), id)
}

// GetByReservationForUpdateTx reads and locks the borrow record of a
// reservation.  Returns ErrNotFound if the reservation has none.
func (r *BorrowRepo) GetByReservationForUpdateTx(ctx context.Context, tx *sql.Tx, reservationID uint64) (*model.BorrowRecord, error) {
	return r.getTx(ctx, tx, `SELECT `+borrowColumns+` FROM borrow_records WHERE reservation_id = ?`+r.dialect.LockSuffix(), reservationID)
}

func (r *BorrowRepo) getTx(ctx context.Context, tx *sql.Tx, q string, arg uint64) (*model.BorrowRecord, error) {
	b, err := scanBorrow(tx.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// CloseTx ends an open borrow record with the given status.  operatorID
// may be nil when the record is closed by a cancellation.  Returns
// ErrConflict if the record is no longer open.
func (r *BorrowRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BorrowStatus, operatorID *uint64, at time.Time) error {
	const q = `UPDATE borrow_records SET status = ?, operator_in_id = ?, actual_return = ?
	           WHERE id = ? AND status IN (?, ?)`
	var returned any
	if status == model.BorrowReturned {
		returned = at.UTC()
	}
	res, err := tx.ExecContext(ctx, q, int(status), operatorID, returned, id,
		int(model.BorrowActive), int(model.BorrowOverdue))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
