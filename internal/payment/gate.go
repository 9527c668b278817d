// Package payment answers whether a reservation's fee has been settled and
// owns the money side of a cancellation: refunds of settled payments and
// cancellation of pending ones.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// ErrAlreadyProcessed is returned by Settle for an order that is no longer
// pending.
var ErrAlreadyProcessed = errors.New("payment already processed")

// Gate is the payment collaborator of the approval engine.
type Gate struct {
	repo             *repository.PaymentRepo
	retentionPercent int
	log              *zap.Logger
	now              func() time.Time
}

// NewGate returns a Gate keeping retentionPercent of every refunded
// payment.  Values outside 0..100 are clamped.
func NewGate(repo *repository.PaymentRepo, retentionPercent int, log *zap.Logger) *Gate {
	if retentionPercent < 0 {
		retentionPercent = 0
	}
	if retentionPercent > 100 {
		retentionPercent = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{repo: repo, retentionPercent: retentionPercent, log: log, now: time.Now}
}

// RefundCents returns the part of amount given back to the payer when
// retentionPercent is withheld, rounded half up to the cent.
func RefundCents(amount uint32, retentionPercent int) uint32 {
	keep := uint64(100 - retentionPercent)
	return uint32((uint64(amount)*keep + 50) / 100)
}

// IsSettledTx reports whether the reservation has a paid payment.
func (g *Gate) IsSettledTx(ctx context.Context, tx *sql.Tx, reservationID uint64) (bool, error) {
	n, err := g.repo.CountSettledTx(ctx, tx, reservationID)
	if err != nil {
		return false, fmt.Errorf("count settled payments: %w", err)
	}
	return n > 0, nil
}

// ReleaseTx closes the open payments of a cancelled reservation.  A paid
// payment with a non-zero amount is refunded; everything else still open
// is cancelled.  It returns the total refunded in cents.
func (g *Gate) ReleaseTx(ctx context.Context, tx *sql.Tx, reservationID uint64, reason string) (uint32, error) {
	open, err := g.repo.ListOpenByReservationForUpdateTx(ctx, tx, reservationID)
	if err != nil {
		return 0, fmt.Errorf("load payments: %w", err)
	}
	var total uint32
	for _, p := range open {
		if p.Status == model.PaymentPaid && p.AmountCents > 0 {
			refund := RefundCents(p.AmountCents, g.retentionPercent)
			desc := fmt.Sprintf("refund %d of %d cents: %s", refund, p.AmountCents, reason)
			if err := g.repo.MarkRefundedTx(ctx, tx, p.ID, refund, desc); err != nil {
				return 0, fmt.Errorf("refund payment %s: %w", p.OrderNo, err)
			}
			total += refund
			continue
		}
		if err := g.repo.MarkCancelledTx(ctx, tx, p.ID, "cancelled: "+reason); err != nil {
			return 0, fmt.Errorf("cancel payment %s: %w", p.OrderNo, err)
		}
	}
	return total, nil
}

// Settle marks the pending payment with the given order number as paid.
// It runs in its own transaction and stands in for a payment provider
// callback.
func (g *Gate) Settle(ctx context.Context, orderNo string) (*model.Payment, error) {
	tx, err := g.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	p, err := g.repo.GetByOrderNoForUpdateTx(ctx, tx, orderNo)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentPending {
		return nil, fmt.Errorf("%w: order %s is %s", ErrAlreadyProcessed, orderNo, p.Status)
	}
	at := g.now().UTC()
	if err := g.repo.MarkPaidTx(ctx, tx, p.ID, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	p.Status = model.PaymentPaid
	p.PaidAt = &at
	g.log.Info("payment settled",
		zap.String("order_no", p.OrderNo),
		zap.Uint64("reservation_id", p.ReservationID),
		zap.Uint32("amount_cents", p.AmountCents))
	return p, nil
}
