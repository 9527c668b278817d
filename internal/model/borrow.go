package model

import "time"

// BorrowStatus is the state of a borrow record.
type BorrowStatus int

const (
	BorrowActive    BorrowStatus = 1
	BorrowReturned  BorrowStatus = 2
	BorrowOverdue   BorrowStatus = 3
	BorrowCancelled BorrowStatus = 4
)

func (s BorrowStatus) String() string {
	switch s {
	case BorrowActive:
		return "borrowing"
	case BorrowReturned:
		return "returned"
	case BorrowOverdue:
		return "overdue"
	case BorrowCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Open reports whether the device is still out on this record.
func (s BorrowStatus) Open() bool {
	return s == BorrowActive || s == BorrowOverdue
}

// BorrowRecord tracks a device handed out for an approved reservation.
// Exactly one record exists per approved reservation.
type BorrowRecord struct {
	ID            uint64
	ReservationID uint64
	UserID        uint64
	DeviceID      uint64
	BorrowDate    string // reservation day, 2006-01-02
	TimeSlot      string
	Status        BorrowStatus
	OperatorOutID *uint64 // approver whose decision completed the workflow
	OperatorInID  *uint64 // operator who confirmed the return
	ActualReturn  *time.Time
	CreatedAt     time.Time
}
