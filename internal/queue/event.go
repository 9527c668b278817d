// Package queue defines message payloads exchanged over the message broker
// and the background consumer that reads them back.
package queue

// Event types published on the reservation events queue.
const (
	EventPartiallyApproved = "reservation.partially_approved"
	EventAdvanced          = "reservation.advanced"
	EventApproved          = "reservation.approved"
	EventRejected          = "reservation.rejected"
	EventCancelled         = "reservation.cancelled"
	EventCompleted         = "reservation.completed"
)

// ReservationEvent is published after a reservation lifecycle change has
// been committed.  It carries enough information for notification
// consumers to address the requester without querying the primary
// database.
type ReservationEvent struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	ReservationID uint64   `json:"reservation_id"`
	UserID        uint64   `json:"user_id"`
	DeviceID      uint64   `json:"device_id"`
	Category      string   `json:"category"`
	Status        string   `json:"status"`
	Step          int      `json:"step"`
	Role          string   `json:"role,omitempty"`
	ActorID       uint64   `json:"actor_id,omitempty"`
	ActorName     string   `json:"actor_name,omitempty"`
	Note          string   `json:"note,omitempty"`
	PendingRoles  []string `json:"pending_roles,omitempty"`
	NextRoles     []string `json:"next_roles,omitempty"`
	PaymentNeeded bool     `json:"payment_required,omitempty"`
	BorrowID      uint64   `json:"borrow_id,omitempty"`
	RefundCents   uint32   `json:"refund_cents,omitempty"`
	OccurredAt    string   `json:"occurred_at"`
}
