package handler

// This file exposes the approval engine over HTTP: decisions by approvers,
// the pending queue of a role, the approval history of a reservation,
// cancellation by the requester and the return of a borrowed device.

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/approval"
	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// Engine is the part of *approval.Engine the handlers drive.
type Engine interface {
	Decide(ctx context.Context, d approval.Decision) (*approval.Result, error)
	History(ctx context.Context, reservationID uint64, viewer model.Actor) ([]model.ApprovalLogEntry, error)
	PendingFor(ctx context.Context, role model.Role) ([]repository.PendingApproval, error)
	Cancel(ctx context.Context, req approval.CancelRequest) (*approval.CancelResult, error)
	Return(ctx context.Context, req approval.ReturnRequest) (*approval.ReturnResult, error)
}

// ApprovalHandler serves the reservation lifecycle endpoints.
type ApprovalHandler struct {
	engine Engine
	log    *zap.Logger
}

// NewApprovalHandler panics when engine is nil.
func NewApprovalHandler(engine Engine, log *zap.Logger) *ApprovalHandler {
	if engine == nil {
		panic("nil engine passed to NewApprovalHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ApprovalHandler{engine: engine, log: log}
}

type approveRequest struct {
	Remark string `json:"remark" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type returnRequest struct {
	DeviceCondition string `json:"device_condition" validate:"omitempty,oneof=good damaged"`
}

// Approve handles POST /v1/reservations/:id/approve.  The caller decides
// in the approver role carried by their token.
func (h *ApprovalHandler) Approve(c echo.Context) error {
	var req approveRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	return h.decide(c, model.ActionApprove, req.Remark)
}

// Reject handles POST /v1/reservations/:id/reject.  A reason is required.
func (h *ApprovalHandler) Reject(c echo.Context) error {
	var req rejectRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	return h.decide(c, model.ActionReject, req.Reason)
}

func (h *ApprovalHandler) decide(c echo.Context, action model.Action, note string) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	role, err := approverRole(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "caller holds no approver role"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.engine.Decide(c.Request().Context(), approval.Decision{
		ReservationID: id,
		Role:          role,
		Actor:         actor,
		Action:        action,
		Note:          note,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": res.Message, "item": res})
}

type logView struct {
	ID        uint64    `json:"id"`
	StepOrder int       `json:"step_order"`
	Role      string    `json:"role"`
	RoleLabel string    `json:"role_label"`
	ActorID   uint64    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	ActorKind string    `json:"actor_kind"`
	Action    string    `json:"action"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// History handles GET /v1/reservations/:id/approvals.
func (h *ApprovalHandler) History(c echo.Context) error {
	viewer, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	entries, err := h.engine.History(c.Request().Context(), id, viewer)
	if err != nil {
		return respondError(c, h.log, err)
	}
	items := make([]logView, 0, len(entries))
	for _, e := range entries {
		items = append(items, logView{
			ID:        e.ID,
			StepOrder: e.StepOrder,
			Role:      string(e.Role),
			RoleLabel: e.Role.Label(),
			ActorID:   e.Actor.ID,
			ActorName: e.Actor.Name,
			ActorKind: string(e.Actor.Kind),
			Action:    string(e.Action),
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

type pendingView struct {
	ReservationID   uint64    `json:"reservation_id"`
	UserID          uint64    `json:"user_id"`
	Category        string    `json:"category"`
	DeviceID        uint64    `json:"device_id"`
	ReserveDate     string    `json:"reserve_date"`
	TimeSlot        string    `json:"time_slot"`
	Purpose         string    `json:"purpose"`
	CurrentStep     int       `json:"current_step"`
	StepDescription string    `json:"step_description"`
	Parallel        bool      `json:"parallel"`
	PaymentRequired bool      `json:"payment_required"`
	CreatedAt       time.Time `json:"created_at"`
}

// Pending handles GET /v1/approvals/pending: the reservations waiting on
// the caller's approver role, oldest first.
func (h *ApprovalHandler) Pending(c echo.Context) error {
	role, err := approverRole(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "caller holds no approver role"})
	}
	rows, err := h.engine.PendingFor(c.Request().Context(), role)
	if err != nil {
		return respondError(c, h.log, err)
	}
	items := make([]pendingView, 0, len(rows))
	for _, p := range rows {
		r := p.Reservation
		items = append(items, pendingView{
			ReservationID:   r.ID,
			UserID:          r.UserID,
			Category:        string(r.Category),
			DeviceID:        r.DeviceID,
			ReserveDate:     r.ReserveDate,
			TimeSlot:        r.TimeSlot,
			Purpose:         r.Purpose,
			CurrentStep:     r.CurrentStep,
			StepDescription: p.StepDescription,
			Parallel:        p.Parallel,
			PaymentRequired: p.PaymentRequired,
			CreatedAt:       r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"role": role, "items": items, "count": len(items)})
}

// Cancel handles POST /v1/reservations/:id/cancel by the requester.
func (h *ApprovalHandler) Cancel(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	var req cancelRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	res, err := h.engine.Cancel(c.Request().Context(), approval.CancelRequest{
		ReservationID: id,
		Requester:     actor,
		Reason:        req.Reason,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": res.Message, "item": res})
}

// Return handles POST /v1/borrows/:id/return.
func (h *ApprovalHandler) Return(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid borrow id"})
	}
	var req returnRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	res, err := h.engine.Return(c.Request().Context(), approval.ReturnRequest{
		BorrowID:  id,
		Operator:  actor,
		Condition: approval.Condition(req.DeviceCondition),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": res.Message, "item": res})
}
