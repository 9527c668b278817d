package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.  The integer
// values are the ones stored in reservations.status.
type ReservationStatus int

const (
	StatusPending   ReservationStatus = 0
	StatusApproved  ReservationStatus = 1
	StatusRejected  ReservationStatus = 2
	StatusCancelled ReservationStatus = 3
	StatusCompleted ReservationStatus = 4
)

func (s ReservationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusCancelled:
		return "cancelled"
	case StatusCompleted:
		return "completed"
	}
	return "unknown"
}

// Cancellable reports whether the requester may still cancel a reservation
// in this state.
func (s ReservationStatus) Cancellable() bool {
	return s == StatusPending || s == StatusApproved
}

// Reservation is a request to use a device in one time slot of one day.
// The approval engine only advances CurrentStep and Status; the booking
// fields are written once at creation.
//
// Fields:
//
//	ID           – primary key identifier.
//	UserID       – requester.
//	Category     – requester category, selects the workflow.
//	DeviceID     – device being reserved.
//	ReserveDate  – calendar day of use, formatted 2006-01-02.
//	TimeSlot     – slot label such as 08:00-10:00.
//	CurrentStep  – order of the workflow group awaiting decisions.
//	RejectReason – reason recorded by the rejecting approver.
//	Ledger       – decisions recorded so far, keyed by role.
type Reservation struct {
	ID           uint64
	UserID       uint64
	Category     Category
	DeviceID     uint64
	ReserveDate  string
	TimeSlot     string
	Purpose      string
	Status       ReservationStatus
	CurrentStep  int
	RejectReason *string
	Ledger       Ledger
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TimeSlots are the bookable slots of a laboratory day.
var TimeSlots = []string{
	"08:00-10:00",
	"10:00-12:00",
	"14:00-16:00",
	"16:00-18:00",
	"19:00-21:00",
}

// ValidTimeSlot reports whether slot is one of TimeSlots.
func ValidTimeSlot(slot string) bool {
	for _, s := range TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}
