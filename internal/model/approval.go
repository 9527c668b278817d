package model

import (
	"fmt"
	"strings"
	"time"
)

// ActorKind distinguishes administrator accounts from ordinary user
// accounts.  Advisors are ordinary users; the other approver roles are
// held by administrators.
type ActorKind string

const (
	ActorAdmin ActorKind = "admin"
	ActorUser  ActorKind = "user"
)

// ParseActorKind returns the matching kind for s.
func ParseActorKind(s string) (ActorKind, error) {
	switch k := ActorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ActorAdmin, ActorUser:
		return k, nil
	}
	return "", fmt.Errorf("unknown actor kind %q", s)
}

// Actor identifies whoever performs an operation.  It is always passed
// explicitly; nothing in the engine reads ambient session state.
type Actor struct {
	ID   uint64
	Name string
	Kind ActorKind
}

// Action is an approver's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction returns the matching action for s.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// LedgerEntry is the decision one role made on one reservation.
type LedgerEntry struct {
	Role      Role
	Actor     Actor
	Action    Action
	Note      string
	DecidedAt time.Time
}

// Ledger holds at most one decision per role for a reservation.
type Ledger map[Role]LedgerEntry

// Has reports whether role has already decided.
func (l Ledger) Has(role Role) bool {
	_, ok := l[role]
	return ok
}

// Approved reports whether role decided and the decision was an approval.
func (l Ledger) Approved(role Role) bool {
	e, ok := l[role]
	return ok && e.Action == ActionApprove
}

// ApprovalLogEntry is one immutable record of the approval history.
type ApprovalLogEntry struct {
	ID            uint64
	ReservationID uint64
	StepOrder     int
	Role          Role
	Actor         Actor
	Action        Action
	Note          string
	CreatedAt     time.Time
}
