// Package approval implements the multi-step reservation approval
// workflow: recording approver decisions, advancing reservations through
// sequential and parallel step groups, creating the borrow record on
// final approval, and the cancellation and return flows that unwind it.
//
// Every operation runs in a single database transaction that locks the
// reservation row first.  Either all of its writes commit or none do.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/queue"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// PaymentGate reports payment settlement and releases payments when a
// reservation is cancelled.  *payment.Gate implements it.
type PaymentGate interface {
	IsSettledTx(ctx context.Context, tx *sql.Tx, reservationID uint64) (bool, error)
	ReleaseTx(ctx context.Context, tx *sql.Tx, reservationID uint64, reason string) (uint32, error)
}

// DeviceMutator changes device availability.  *repository.DeviceRepo
// implements it.
type DeviceMutator interface {
	SetStatusTx(ctx context.Context, tx *sql.Tx, deviceID uint64, status model.DeviceStatus) error
}

// BorrowRecords creates and closes borrow records.  *repository.BorrowRepo
// implements it.
type BorrowRecords interface {
	CreateTx(ctx context.Context, tx *sql.Tx, b *model.BorrowRecord) (uint64, error)
	GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.BorrowRecord, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.BorrowRecord, error)
	GetByReservationForUpdateTx(ctx context.Context, tx *sql.Tx, reservationID uint64) (*model.BorrowRecord, error)
	CloseTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BorrowStatus, operatorID *uint64, at time.Time) error
}

// Publisher receives lifecycle events after the transaction producing them
// has committed.  Failures are logged and never undo the change.
type Publisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// Stores bundles the persistence collaborators of an Engine.  All fields
// must be non-nil.
type Stores struct {
	Reservations *repository.ReservationRepo
	Logs         *repository.ApprovalLogRepo
	Workflows    StepSource
	Payments     PaymentGate
	Devices      DeviceMutator
	Borrows      BorrowRecords
}

// Engine applies approval decisions to reservations.
type Engine struct {
	db             *sql.DB
	reservations   *repository.ReservationRepo
	logs           *repository.ApprovalLogRepo
	workflows      StepSource
	payments       PaymentGate
	devices        DeviceMutator
	borrows        BorrowRecords
	publisher      Publisher
	log            *zap.Logger
	now            func() time.Time
	cancelLeadDays int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.  The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithPublisher sets the event publisher.  The default drops events.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithCancelLeadDays sets how many calendar days before the reserved day a
// cancellation must happen.  The default is 1.
func WithCancelLeadDays(days int) Option { return func(e *Engine) { e.cancelLeadDays = days } }

// NewEngine constructs an Engine.  It panics if a store is missing.
func NewEngine(db *sql.DB, s Stores, opts ...Option) *Engine {
	if db == nil || s.Reservations == nil || s.Logs == nil || s.Workflows == nil ||
		s.Payments == nil || s.Devices == nil || s.Borrows == nil {
		panic("nil dependency passed to approval.NewEngine")
	}
	e := &Engine{
		db:             db,
		reservations:   s.Reservations,
		logs:           s.Logs,
		workflows:      s.Workflows,
		payments:       s.Payments,
		devices:        s.Devices,
		borrows:        s.Borrows,
		log:            zap.NewNop(),
		now:            time.Now,
		cancelLeadDays: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decision is one approver's verdict on a reservation.  Note is the
// optional remark of an approval and the mandatory reason of a rejection.
type Decision struct {
	ReservationID uint64
	Role          model.Role
	Actor         model.Actor
	Action        model.Action
	Note          string
}

func (d Decision) validate() error {
	if d.ReservationID == 0 {
		return newError(ErrValidation, "reservation id is required")
	}
	if d.Actor.ID == 0 {
		return newError(ErrValidation, "actor id is required")
	}
	if _, err := model.ParseRole(string(d.Role)); err != nil {
		return newError(ErrValidation, "%v", err)
	}
	if _, err := model.ParseAction(string(d.Action)); err != nil {
		return newError(ErrValidation, "%v", err)
	}
	if d.Action == model.ActionReject && strings.TrimSpace(d.Note) == "" {
		return newError(ErrValidation, "a rejection requires a reason")
	}
	return nil
}

// Outcome is what a decision did to its reservation.
type Outcome string

const (
	OutcomePartiallyApproved Outcome = "partially_approved"
	OutcomeAdvanced          Outcome = "advanced"
	OutcomeApproved          Outcome = "approved"
	OutcomeRejected          Outcome = "rejected"
)

// StepInfo describes a workflow step to the caller.
type StepInfo struct {
	Order           int        `json:"order"`
	Role            model.Role `json:"role"`
	RoleLabel       string     `json:"role_label"`
	Description     string     `json:"description"`
	PaymentRequired bool       `json:"payment_required"`
}

func stepInfos(steps []model.WorkflowStep) []StepInfo {
	out := make([]StepInfo, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepInfo{
			Order:           s.Order,
			Role:            s.Role,
			RoleLabel:       s.Role.Label(),
			Description:     s.Title(),
			PaymentRequired: s.PaymentRequired,
		})
	}
	return out
}

// Result reports the effect of a committed decision.
type Result struct {
	ReservationID  uint64            `json:"reservation_id"`
	Outcome        Outcome           `json:"outcome"`
	Status         string            `json:"status"`
	CurrentStep    int               `json:"current_step"`
	Pending        []StepInfo        `json:"pending,omitempty"`
	Next           []StepInfo        `json:"next,omitempty"`
	BorrowRecordID uint64            `json:"borrow_record_id,omitempty"`
	Message        string            `json:"message"`
	reservation    model.Reservation
}

// Decide records an approve or reject decision by an approver acting in
// role and applies its consequences.
//
// The reservation must be pending and its current group must contain a
// step for role that role has not yet decided.  Approving a
// payment-gated step requires a settled payment.  A rejection ends the
// reservation at once.  An approval that completes the current group
// moves to the next group, or, when none is left, approves the
// reservation, creates its borrow record and marks the device borrowed.
func (e *Engine) Decide(ctx context.Context, d Decision) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	var res *Result
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		r, err := e.lockReservation(ctx, tx, d.ReservationID)
		if err != nil {
			return err
		}
		if r.Status != model.StatusPending {
			return newError(ErrInvalidState, "reservation %d is %s, only pending reservations can be decided", r.ID, r.Status)
		}
		wf, err := LoadWorkflow(ctx, tx, e.workflows, r.Category)
		if err != nil {
			return err
		}
		group, ok := wf.Group(r.CurrentStep)
		if !ok {
			return newError(ErrConfig, "workflow %s has no enabled steps at order %d", r.Category, r.CurrentStep)
		}
		step, ok := group.Step(d.Role)
		if !ok {
			return newError(ErrForbidden, "role %s does not decide step %d of reservation %d", d.Role, r.CurrentStep, r.ID)
		}
		if r.Ledger.Has(d.Role) {
			return newError(ErrConflict, "role %s has already decided reservation %d", d.Role, r.ID)
		}
		if d.Action == model.ActionApprove && step.PaymentRequired {
			settled, err := e.payments.IsSettledTx(ctx, tx, r.ID)
			if err != nil {
				return err
			}
			if !settled {
				return newError(ErrPrecondition, "reservation %d has not been paid", r.ID)
			}
		}

		now := e.now().UTC()
		entry := model.LedgerEntry{Role: d.Role, Actor: d.Actor, Action: d.Action, Note: d.Note, DecidedAt: now}
		if err := e.reservations.PutLedgerEntryTx(ctx, tx, r.ID, entry); err != nil {
			return err
		}
		if err := e.logs.AppendTx(ctx, tx, &model.ApprovalLogEntry{
			ReservationID: r.ID,
			StepOrder:     r.CurrentStep,
			Role:          d.Role,
			Actor:         d.Actor,
			Action:        d.Action,
			Note:          d.Note,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		r.Ledger[d.Role] = entry

		if d.Action == model.ActionReject {
			reason := d.Note
			if err := e.reservations.SetStatusTx(ctx, tx, r.ID, model.StatusPending, model.StatusRejected, &reason, now); err != nil {
				return err
			}
			r.Status = model.StatusRejected
			res = &Result{Outcome: OutcomeRejected, Message: fmt.Sprintf("rejected by %s: %s", d.Role.Label(), reason)}
			res.fill(r)
			return nil
		}

		if !group.Complete(step, r.Ledger) {
			pending := group.Outstanding(r.Ledger)
			res = &Result{
				Outcome: OutcomePartiallyApproved,
				Pending: stepInfos(pending),
				Message: "approved, waiting for " + joinTitles(pending),
			}
			res.fill(r)
			return nil
		}

		if next, ok := wf.Next(r.CurrentStep); ok {
			if err := e.reservations.AdvanceStepTx(ctx, tx, r.ID, next.Order, now); err != nil {
				return err
			}
			r.CurrentStep = next.Order
			res = &Result{
				Outcome: OutcomeAdvanced,
				Next:    stepInfos(next.Steps),
				Message: fmt.Sprintf("approved, moved to step %d: %s", next.Order, joinTitles(next.Steps)),
			}
			res.fill(r)
			return nil
		}

		if err := e.reservations.SetStatusTx(ctx, tx, r.ID, model.StatusPending, model.StatusApproved, nil, now); err != nil {
			return err
		}
		operator := d.Actor.ID
		borrowID, err := e.borrows.CreateTx(ctx, tx, &model.BorrowRecord{
			ReservationID: r.ID,
			UserID:        r.UserID,
			DeviceID:      r.DeviceID,
			BorrowDate:    r.ReserveDate,
			TimeSlot:      r.TimeSlot,
			Status:        model.BorrowActive,
			OperatorOutID: &operator,
		})
		if err != nil {
			return fmt.Errorf("create borrow record: %w", err)
		}
		if err := e.devices.SetStatusTx(ctx, tx, r.DeviceID, model.DeviceBorrowed); err != nil {
			return fmt.Errorf("mark device %d borrowed: %w", r.DeviceID, err)
		}
		r.Status = model.StatusApproved
		res = &Result{Outcome: OutcomeApproved, BorrowRecordID: borrowID, Message: "reservation approved"}
		res.fill(r)
		return nil
	})
	if err != nil {
		err = e.classify(err)
		e.log.Warn("approval decision aborted",
			zap.Uint64("reservation_id", d.ReservationID),
			zap.String("role", string(d.Role)),
			zap.Uint64("actor_id", d.Actor.ID),
			zap.String("action", string(d.Action)),
			zap.Error(err))
		return nil, err
	}

	e.log.Info("approval decision committed",
		zap.Uint64("reservation_id", res.ReservationID),
		zap.String("role", string(d.Role)),
		zap.Uint64("actor_id", d.Actor.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("current_step", res.CurrentStep))
	e.publish(ctx, res.event(d))
	return res, nil
}

func (r *Result) fill(res *model.Reservation) {
	r.ReservationID = res.ID
	r.Status = res.Status.String()
	r.CurrentStep = res.CurrentStep
	r.reservation = *res
}

func (r *Result) event(d Decision) queue.ReservationEvent {
	ev := newEvent("", &r.reservation)
	ev.Role = string(d.Role)
	ev.ActorID = d.Actor.ID
	ev.ActorName = d.Actor.Name
	ev.Note = d.Note
	switch r.Outcome {
	case OutcomePartiallyApproved:
		ev.Type = queue.EventPartiallyApproved
		ev.PendingRoles = roleNames(r.Pending)
	case OutcomeAdvanced:
		ev.Type = queue.EventAdvanced
		ev.NextRoles = roleNames(r.Next)
		for _, s := range r.Next {
			ev.PaymentNeeded = ev.PaymentNeeded || s.PaymentRequired
		}
	case OutcomeApproved:
		ev.Type = queue.EventApproved
		ev.BorrowID = r.BorrowRecordID
	case OutcomeRejected:
		ev.Type = queue.EventRejected
	}
	return ev
}

func joinTitles(steps []model.WorkflowStep) string {
	titles := make([]string, 0, len(steps))
	for _, s := range steps {
		titles = append(titles, s.Title())
	}
	return strings.Join(titles, ", ")
}

func roleNames(steps []StepInfo) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s.Role))
	}
	return out
}

func newEvent(typ string, r *model.Reservation) queue.ReservationEvent {
	return queue.ReservationEvent{
		ID:            uuid.NewString(),
		Type:          typ,
		ReservationID: r.ID,
		UserID:        r.UserID,
		DeviceID:      r.DeviceID,
		Category:      string(r.Category),
		Status:        r.Status.String(),
		Step:          r.CurrentStep,
	}
}

func (e *Engine) publish(ctx context.Context, ev queue.ReservationEvent) {
	if e.publisher == nil {
		return
	}
	ev.OccurredAt = e.now().UTC().Format(time.RFC3339)
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn("publish reservation event",
			zap.String("type", ev.Type),
			zap.Uint64("reservation_id", ev.ReservationID),
			zap.Error(err))
	}
}

// lockReservation loads and locks the reservation with its ledger.
func (e *Engine) lockReservation(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	r, err := e.reservations.GetForUpdateTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrNotFound, "reservation %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if r.Ledger == nil {
		r.Ledger = model.Ledger{}
	}
	return r, nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (e *Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// classify turns storage races into Conflict so callers may retry.
func (e *Engine) classify(err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return newError(ErrConflict, "decision already recorded: %v", err)
	case errors.Is(err, repository.ErrLockTimeout):
		return newError(ErrConflict, "reservation is being modified concurrently, retry: %v", err)
	case errors.Is(err, repository.ErrConflict):
		return newError(ErrConflict, "reservation changed during the operation: %v", err)
	}
	return err
}
