package model

import "time"

// DeviceStatus is the availability of a device, stored in devices.status.
type DeviceStatus int

const (
	DeviceAvailable   DeviceStatus = 1
	DeviceBorrowed    DeviceStatus = 2
	DeviceMaintenance DeviceStatus = 3
	DeviceScrapped    DeviceStatus = 4
)

func (s DeviceStatus) String() string {
	switch s {
	case DeviceAvailable:
		return "available"
	case DeviceBorrowed:
		return "borrowed"
	case DeviceMaintenance:
		return "maintenance"
	case DeviceScrapped:
		return "scrapped"
	}
	return "unknown"
}

// Device is a piece of laboratory equipment that can be reserved.
type Device struct {
	ID             uint64       // devices.id
	Name           string       // devices.name
	Model          string       // devices.model
	Location       string       // devices.location
	Status         DeviceStatus // devices.status
	RentPriceCents uint32       // devices.rent_price_cents, charged to external requesters
	UpdatedAt      time.Time    // devices.updated_at
}
