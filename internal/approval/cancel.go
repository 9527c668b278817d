package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/queue"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// CancelRequest asks for a reservation to be withdrawn by its requester.
type CancelRequest struct {
	ReservationID uint64
	Requester     model.Actor
	Reason        string
}

// CancelResult reports a committed cancellation.
type CancelResult struct {
	ReservationID  uint64 `json:"reservation_id"`
	PreviousStatus string `json:"previous_status"`
	RefundCents    uint32 `json:"refund_cents"`
	Message        string `json:"message"`
}

// Cancel withdraws a pending or approved reservation owned by the
// requester.  The reserved day must be at least the configured number of
// days away.  Payments are refunded or cancelled, and for an approved
// reservation the borrow record is closed and the device released.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	if req.ReservationID == 0 || req.Requester.ID == 0 {
		return nil, newError(ErrValidation, "reservation id and requester are required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by requester"
	}

	var (
		out *CancelResult
		ev  queue.ReservationEvent
	)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		r, err := e.lockReservation(ctx, tx, req.ReservationID)
		if err != nil {
			return err
		}
		if r.UserID != req.Requester.ID {
			return newError(ErrForbidden, "reservation %d belongs to another user", r.ID)
		}
		if !r.Status.Cancellable() {
			return newError(ErrInvalidState, "reservation %d is %s and cannot be cancelled", r.ID, r.Status)
		}
		now := e.now()
		ok, err := e.cancelWindowOpen(r.ReserveDate, now)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrPrecondition, "reservations must be cancelled at least %d day(s) in advance", e.cancelLeadDays)
		}

		prev := r.Status
		if err := e.reservations.SetStatusTx(ctx, tx, r.ID, prev, model.StatusCancelled, nil, now); err != nil {
			return err
		}
		refund, err := e.payments.ReleaseTx(ctx, tx, r.ID, reason)
		if err != nil {
			return err
		}
		if prev == model.StatusApproved {
			if err := e.releaseBorrowTx(ctx, tx, r, now); err != nil {
				return err
			}
		}

		r.Status = model.StatusCancelled
		out = &CancelResult{
			ReservationID:  r.ID,
			PreviousStatus: prev.String(),
			RefundCents:    refund,
			Message:        "reservation cancelled",
		}
		if refund > 0 {
			out.Message = fmt.Sprintf("reservation cancelled, %d.%02d refunded", refund/100, refund%100)
		}
		ev = newEvent(queue.EventCancelled, r)
		ev.ActorID = req.Requester.ID
		ev.ActorName = req.Requester.Name
		ev.Note = reason
		ev.RefundCents = refund
		return nil
	})
	if err != nil {
		err = e.classify(err)
		e.log.Warn("cancellation aborted",
			zap.Uint64("reservation_id", req.ReservationID),
			zap.Uint64("requester_id", req.Requester.ID),
			zap.Error(err))
		return nil, err
	}
	e.log.Info("reservation cancelled",
		zap.Uint64("reservation_id", out.ReservationID),
		zap.String("previous_status", out.PreviousStatus),
		zap.Uint32("refund_cents", out.RefundCents))
	e.publish(ctx, ev)
	return out, nil
}

// releaseBorrowTx closes the open borrow record of an approved reservation
// and makes its device available again.
func (e *Engine) releaseBorrowTx(ctx context.Context, tx *sql.Tx, r *model.Reservation, now time.Time) error {
	b, err := e.borrows.GetByReservationForUpdateTx(ctx, tx, r.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrInvalidState, "approved reservation %d has no borrow record", r.ID)
	}
	if err != nil {
		return err
	}
	if !b.Status.Open() {
		return newError(ErrInvalidState, "borrow record %d is already %s", b.ID, b.Status)
	}
	if err := e.borrows.CloseTx(ctx, tx, b.ID, model.BorrowCancelled, nil, now); err != nil {
		return err
	}
	if err := e.devices.SetStatusTx(ctx, tx, r.DeviceID, model.DeviceAvailable); err != nil {
		return fmt.Errorf("release device %d: %w", r.DeviceID, err)
	}
	return nil
}

// cancelWindowOpen reports whether reserveDate is at least cancelLeadDays
// calendar days after the day of now.
func (e *Engine) cancelWindowOpen(reserveDate string, now time.Time) (bool, error) {
	loc := now.Location()
	day, err := time.ParseInLocation("2006-01-02", reserveDate, loc)
	if err != nil {
		return false, fmt.Errorf("reservation date %q: %w", reserveDate, err)
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	earliest := today.AddDate(0, 0, e.cancelLeadDays)
	return !day.Before(earliest), nil
}
