package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/lab-reservation/internal/model"
)

// DeviceRepo manages persistence for devices.  The approval engine only
// ever changes a device's status; the catalogue itself is maintained
// elsewhere.
type DeviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo returns a new DeviceRepo bound to the given database.
func NewDeviceRepo(db *sql.DB) *DeviceRepo { return &DeviceRepo{db: db} }

// Create inserts a device and populates its ID.
func (r *DeviceRepo) Create(ctx context.Context, d *model.Device) error {
	if d.Status == 0 {
		d.Status = model.DeviceAvailable
	}
	d.UpdatedAt = time.Now().UTC()
	const q = `INSERT INTO devices (name, model, location, status, rent_price_cents, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, d.Name, d.Model, d.Location, int(d.Status), d.RentPriceCents, d.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = uint64(id)
	return nil
}

// GetByID returns the device with the given id or ErrNotFound.
func (r *DeviceRepo) GetByID(ctx context.Context, id uint64) (*model.Device, error) {
	const q = `SELECT id, name, model, location, status, rent_price_cents, updated_at FROM devices WHERE id = ?`
	var (
		d      model.Device
		status int
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.Name, &d.Model, &d.Location, &status, &d.RentPriceCents, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = model.DeviceStatus(status)
	return &d, nil
}

// SetStatusTx sets the status of a device inside the caller's
// transaction.  Returns ErrNotFound if the device does not exist.
func (r *DeviceRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.DeviceStatus) error {
	const q = `UPDATE devices SET status = ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, int(status), time.Now().UTC(), id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
