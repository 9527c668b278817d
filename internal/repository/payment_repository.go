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

// PaymentRepo persists payments for reservations that carry a fee.
type PaymentRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB, dialect database.Dialect) *PaymentRepo {
	return &PaymentRepo{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB.
func (r *PaymentRepo) DB() *sql.DB { return r.db }

const paymentColumns = `id, reservation_id, user_id, order_no, amount_cents, refund_cents, status, description, paid_at, created_at`

func scanPayment(s rowScanner) (*model.Payment, error) {
	var (
		p      model.Payment
		status int
		paidAt sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.ReservationID, &p.UserID, &p.OrderNo, &p.AmountCents, &p.RefundCents,
		&status, &p.Description, &paidAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

// OrderNo formats the order number of a reservation's payment:
// PAY + yyyyMMddHHmmss + the reservation id padded to six digits.
func OrderNo(reservationID uint64, at time.Time) string {
	return fmt.Sprintf("PAY%s%06d", at.UTC().Format("20060102150405"), reservationID)
}

// CreateTx inserts a pending payment inside the caller's transaction.
// OrderNo is generated when empty.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	p.CreatedAt = time.Now().UTC()
	if p.OrderNo == "" {
		p.OrderNo = OrderNo(p.ReservationID, p.CreatedAt)
	}
	var paidAt any
	if p.PaidAt != nil {
		paidAt = p.PaidAt.UTC()
	}
	const q = `INSERT INTO payments (reservation_id, user_id, order_no, amount_cents, refund_cents, status, description, paid_at, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, p.ReservationID, p.UserID, p.OrderNo, p.AmountCents, p.RefundCents,
		int(p.Status), p.Description, paidAt, p.CreatedAt)
	if err != nil {
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// CountSettledTx returns how many paid payments a reservation has.
func (r *PaymentRepo) CountSettledTx(ctx context.Context, tx *sql.Tx, reservationID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM payments WHERE reservation_id = ? AND status = ?`
	var n int
	if err := tx.QueryRowContext(ctx, q, reservationID, int(model.PaymentPaid)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListOpenByReservationForUpdateTx locks and returns the payments of a
// reservation that are still pending or paid.
func (r *PaymentRepo) ListOpenByReservationForUpdateTx(ctx context.Context, tx *sql.Tx, reservationID uint64) ([]model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE reservation_id = ? AND status IN (?, ?) ORDER BY id ASC` + r.dialect.LockSuffix()
	rows, err := tx.QueryContext(ctx, q, reservationID, int(model.PaymentPending), int(model.PaymentPaid))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetByOrderNoForUpdateTx locks and returns the payment with the given
// order number or ErrNotFound.
func (r *PaymentRepo) GetByOrderNoForUpdateTx(ctx context.Context, tx *sql.Tx, orderNo string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE order_no = ?` + r.dialect.LockSuffix()
	p, err := scanPayment(tx.QueryRowContext(ctx, q, orderNo))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// MarkPaidTx moves a pending payment to paid.  Returns ErrConflict if it
// is no longer pending.
func (r *PaymentRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	const q = `UPDATE payments SET status = ?, paid_at = ? WHERE id = ? AND status = ?`
	return execOne(ctx, tx, q, int(model.PaymentPaid), at.UTC(), id, int(model.PaymentPending))
}

// MarkRefundedTx moves a paid payment to refunded and records the amount
// returned to the payer.
func (r *PaymentRepo) MarkRefundedTx(ctx context.Context, tx *sql.Tx, id uint64, refundCents uint32, description string) error {
	const q = `UPDATE payments SET status = ?, refund_cents = ?, description = ? WHERE id = ? AND status = ?`
	return execOne(ctx, tx, q, int(model.PaymentRefunded), refundCents, description, id, int(model.PaymentPaid))
}

// MarkCancelledTx cancels a payment that is still pending, or paid with
// nothing to give back.
func (r *PaymentRepo) MarkCancelledTx(ctx context.Context, tx *sql.Tx, id uint64, description string) error {
	const q = `UPDATE payments SET status = ?, description = ? WHERE id = ? AND status IN (?, ?)`
	return execOne(ctx, tx, q, int(model.PaymentCancelled), description, id, int(model.PaymentPending), int(model.PaymentPaid))
}
