package approval

import (
	"context"
	"errors"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// History returns the approval log of a reservation, oldest first.
// Administrators may read any log, users only that of their own
// reservations.
func (e *Engine) History(ctx context.Context, reservationID uint64, viewer model.Actor) ([]model.ApprovalLogEntry, error) {
	r, err := e.reservations.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, "reservation %d not found", reservationID)
		}
		return nil, err
	}
	if viewer.Kind != model.ActorAdmin && r.UserID != viewer.ID {
		return nil, newError(ErrForbidden, "reservation %d belongs to another user", reservationID)
	}
	return e.logs.ListByReservation(ctx, reservationID)
}

// PendingFor returns the reservations currently waiting on role.
func (e *Engine) PendingFor(ctx context.Context, role model.Role) ([]repository.PendingApproval, error) {
	if _, err := model.ParseRole(string(role)); err != nil {
		return nil, newError(ErrValidation, "%v", err)
	}
	return e.reservations.ListPendingByRole(ctx, role)
}
