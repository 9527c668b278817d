package model

import "time"

// PaymentStatus is the state of a payment, stored in payments.status.
type PaymentStatus int

const (
	PaymentPending   PaymentStatus = 0
	PaymentPaid      PaymentStatus = 1
	PaymentRefunded  PaymentStatus = 2
	PaymentCancelled PaymentStatus = 3
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentPaid:
		return "paid"
	case PaymentRefunded:
		return "refunded"
	case PaymentCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Payment records the fee an external requester owes for a reservation.
// Amounts are kept in cents.
type Payment struct {
	ID            uint64
	ReservationID uint64
	UserID        uint64
	OrderNo       string
	AmountCents   uint32
	RefundCents   uint32
	Status        PaymentStatus
	Description   string
	PaidAt        *time.Time
	CreatedAt     time.Time
}
