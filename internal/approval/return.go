package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/queue"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// Condition is the state a device comes back in.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
)

// deviceStatus is the status a device returned in condition c receives.
func (c Condition) deviceStatus() (model.DeviceStatus, bool) {
	switch c {
	case ConditionGood, "":
		return model.DeviceAvailable, true
	case ConditionDamaged:
		return model.DeviceMaintenance, true
	}
	return 0, false
}

// ReturnRequest confirms that the device of a borrow record is back.
type ReturnRequest struct {
	BorrowID  uint64
	Operator  model.Actor
	Condition Condition
}

// ReturnResult reports a committed return.
type ReturnResult struct {
	BorrowID      uint64 `json:"borrow_id"`
	ReservationID uint64 `json:"reservation_id"`
	DeviceID      uint64 `json:"device_id"`
	DeviceStatus  string `json:"device_status"`
	Message       string `json:"message"`
}

// Return closes an open borrow record, sets the device available or under
// maintenance depending on its condition and completes the reservation.
// Ordinary users may only return their own borrow records.
func (e *Engine) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	if req.BorrowID == 0 || req.Operator.ID == 0 {
		return nil, newError(ErrValidation, "borrow id and operator are required")
	}
	status, ok := req.Condition.deviceStatus()
	if !ok {
		return nil, newError(ErrValidation, "unknown device condition %q", req.Condition)
	}

	var (
		out *ReturnResult
		ev  queue.ReservationEvent
	)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		// Lock order is reservation first, then borrow record, as in Decide and Cancel.
		peek, err := e.borrows.GetTx(ctx, tx, req.BorrowID)
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrNotFound, "borrow record %d not found", req.BorrowID)
		}
		if err != nil {
			return err
		}
		r, err := e.lockReservation(ctx, tx, peek.ReservationID)
		if err != nil {
			return err
		}
		b, err := e.borrows.GetForUpdateTx(ctx, tx, req.BorrowID)
		if err != nil {
			return err
		}
		if req.Operator.Kind != model.ActorAdmin && b.UserID != req.Operator.ID {
			return newError(ErrForbidden, "borrow record %d belongs to another user", b.ID)
		}
		if !b.Status.Open() {
			return newError(ErrInvalidState, "borrow record %d is %s", b.ID, b.Status)
		}
		if r.Status != model.StatusApproved {
			return newError(ErrInvalidState, "reservation %d is %s", r.ID, r.Status)
		}

		now := e.now()
		operator := req.Operator.ID
		if err := e.borrows.CloseTx(ctx, tx, b.ID, model.BorrowReturned, &operator, now); err != nil {
			return err
		}
		if err := e.devices.SetStatusTx(ctx, tx, b.DeviceID, status); err != nil {
			return fmt.Errorf("set device %d %s: %w", b.DeviceID, status, err)
		}
		if err := e.reservations.SetStatusTx(ctx, tx, r.ID, model.StatusApproved, model.StatusCompleted, nil, now); err != nil {
			return err
		}

		r.Status = model.StatusCompleted
		out = &ReturnResult{
			BorrowID:      b.ID,
			ReservationID: r.ID,
			DeviceID:      b.DeviceID,
			DeviceStatus:  status.String(),
			Message:       "device returned",
		}
		ev = newEvent(queue.EventCompleted, r)
		ev.ActorID = req.Operator.ID
		ev.ActorName = req.Operator.Name
		ev.BorrowID = b.ID
		ev.Note = string(req.Condition)
		return nil
	})
	if err != nil {
		err = e.classify(err)
		e.log.Warn("return aborted", zap.Uint64("borrow_id", req.BorrowID), zap.Error(err))
		return nil, err
	}
	e.log.Info("device returned",
		zap.Uint64("borrow_id", out.BorrowID),
		zap.Uint64("reservation_id", out.ReservationID),
		zap.String("device_status", out.DeviceStatus))
	e.publish(ctx, ev)
	return out, nil
}
