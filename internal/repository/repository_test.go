package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lab-reservation/internal/database"
	"github.com/iliyamo/lab-reservation/internal/model"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))
	return db
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}), ErrDuplicate)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 1205}), ErrLockTimeout)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 1213}), ErrLockTimeout)
	other := &mysql.MySQLError{Number: 1146}
	assert.Same(t, other, classify(other))
	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}

func TestClassify_SQLiteUniqueViolation(t *testing.T) {
	db := openDB(t)
	repo := NewWorkflowRepo(db)
	err := repo.Create(context.Background(), &model.WorkflowStep{
		Category: model.CategoryStudent, Order: 1, Role: model.RoleAdvisor, Enabled: true,
	})
	assert.ErrorIs(t, err, ErrDuplicate, "seed already holds student/1/advisor")
}

func TestWorkflowRepo_UpdateAndToggle(t *testing.T) {
	db := openDB(t)
	repo := NewWorkflowRepo(db)
	ctx := context.Background()

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 6)
	var finance model.WorkflowStep
	for _, s := range all {
		if s.Role == model.RoleFinance {
			finance = s
		}
	}
	require.True(t, finance.PaymentRequired)

	off := false
	desc := "Finance review"
	st, err := repo.Update(ctx, finance.ID, WorkflowPatch{PaymentRequired: &off, Description: &desc})
	require.NoError(t, err)
	assert.False(t, st.PaymentRequired)
	assert.Equal(t, desc, st.Description)
	assert.True(t, st.Enabled)

	_, err = repo.Update(ctx, 999, WorkflowPatch{Enabled: &off})
	assert.ErrorIs(t, err, ErrNotFound)

	enabled, err := repo.Toggle(ctx, finance.ID)
	require.NoError(t, err)
	assert.False(t, enabled)

	var steps []model.WorkflowStep
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		steps, err = repo.EnabledStepsTx(ctx, tx, model.CategoryExternal)
		return err
	}))
	assert.Len(t, steps, 2)

	_, err = repo.Toggle(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkflowRepo_UnknownStoredRole(t *testing.T) {
	db := openDB(t)
	_, err := db.Exec(`UPDATE approval_workflows SET role = 'dean' WHERE user_category = 'teacher'`)
	require.NoError(t, err)

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := NewWorkflowRepo(db).EnabledStepsTx(context.Background(), tx, model.CategoryTeacher)
		return err
	})
	assert.ErrorIs(t, err, model.ErrUnknownRole)
}

func newReservation(t *testing.T, db *sql.DB, repo *ReservationRepo, cat model.Category, slot string) (*model.Reservation, error) {
	t.Helper()
	devices := NewDeviceRepo(db)
	d := &model.Device{Name: "Microscope", Model: "CX23"}
	require.NoError(t, devices.Create(context.Background(), d))
	r := &model.Reservation{UserID: 42, Category: cat, DeviceID: d.ID, ReserveDate: "2026-10-20", TimeSlot: slot}
	err := inTx(t, db, func(tx *sql.Tx) error { return repo.CreateTx(context.Background(), tx, r) })
	return r, err
}

func TestReservationRepo_CreateRejectsUnknownSlot(t *testing.T) {
	db := openDB(t)
	_, err := newReservation(t, db, NewReservationRepo(db, database.SQLite), model.CategoryStudent, "07:00-08:00")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReservationRepo_LedgerAndPendingQueue(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := NewReservationRepo(db, database.SQLite)
	r, err := newReservation(t, db, repo, model.CategoryExternal, "10:00-12:00")
	require.NoError(t, err)
	assert.Equal(t, 1, r.CurrentStep)

	pending, err := repo.ListPendingByRole(ctx, model.RoleDevice)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r.ID, pending[0].Reservation.ID)

	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		entry := model.LedgerEntry{
			Role:      model.RoleDevice,
			Actor:     model.Actor{ID: 3, Name: "device-admin", Kind: model.ActorAdmin},
			Action:    model.ActionApprove,
			DecidedAt: at,
		}
		if err := repo.PutLedgerEntryTx(ctx, tx, r.ID, entry); err != nil {
			return err
		}
		return repo.AdvanceStepTx(ctx, tx, r.ID, 2, at)
	}))

	for role, want := range map[model.Role]int{model.RoleDevice: 0, model.RoleSupervisor: 1, model.RoleFinance: 1} {
		pending, err := repo.ListPendingByRole(ctx, role)
		require.NoError(t, err)
		assert.Len(t, pending, want, role)
	}

	var got *model.Reservation
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		var err error
		got, err = repo.GetForUpdateTx(ctx, tx, r.ID)
		return err
	}))
	assert.Equal(t, 2, got.CurrentStep)
	require.True(t, got.Ledger.Approved(model.RoleDevice))
	assert.Equal(t, uint64(3), got.Ledger[model.RoleDevice].Actor.ID)

	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.PutLedgerEntryTx(ctx, tx, r.ID, model.LedgerEntry{Role: model.RoleDevice, Action: model.ActionApprove, DecidedAt: at})
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.SetStatusTx(ctx, tx, r.ID, model.StatusApproved, model.StatusCompleted, nil, at)
	})
	assert.ErrorIs(t, err, ErrConflict, "reservation is still pending")
}
