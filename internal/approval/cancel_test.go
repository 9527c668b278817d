package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lab-reservation/internal/approval"
	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/queue"
)

func cancel(f *fixture, id, requester uint64) (*approval.CancelResult, error) {
	return f.engine.Cancel(context.Background(), approval.CancelRequest{
		ReservationID: id,
		Requester:     model.Actor{ID: requester, Name: "requester", Kind: model.ActorUser},
		Reason:        "plans changed",
	})
}

func TestCancel_PendingReservation(t *testing.T) {
	f := newFixture(t)
	r := f.newReservation(42, model.CategoryStudent)
	order := f.newPayment(r, 5000)

	res, err := cancel(f, r.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, "pending", res.PreviousStatus)
	assert.Zero(t, res.RefundCents)
	assert.Equal(t, model.StatusCancelled, f.reload(r.ID).Status)

	var status int
	require.NoError(t, f.db.QueryRow(`SELECT status FROM payments WHERE order_no = ?`, order).Scan(&status))
	assert.Equal(t, int(model.PaymentCancelled), status)
	assert.Equal(t, []string{queue.EventCancelled}, f.pub.types())

	_, err = f.approve(r.ID, model.RoleAdvisor, 7)
	require.ErrorIs(t, err, approval.ErrInvalidState)
}

func TestCancel_ApprovedReservationRefundsAndReleasesDevice(t *testing.T) {
	f := newFixture(t)
	r := f.newReservation(42, model.CategoryExternal)
	_, err := f.approve(r.ID, model.RoleDevice, 3)
	require.NoError(t, err)
	f.pay(r, 12345)
	_, err = f.approve(r.ID, model.RoleSupervisor, 5)
	require.NoError(t, err)
	res, err := f.approve(r.ID, model.RoleFinance, 9)
	require.NoError(t, err)
	require.Equal(t, approval.OutcomeApproved, res.Outcome)

	out, err := cancel(f, r.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, "approved", out.PreviousStatus)
	// 12345 * 0.95 = 11727.75
	assert.Equal(t, uint32(11728), out.RefundCents)

	assert.Equal(t, model.StatusCancelled, f.reload(r.ID).Status)
	assert.Equal(t, model.DeviceAvailable, f.deviceStatus())
	var borrowStatus int
	require.NoError(t, f.db.QueryRow(`SELECT status FROM borrow_records WHERE id = ?`, res.BorrowRecordID).Scan(&borrowStatus))
	assert.Equal(t, int(model.BorrowCancelled), borrowStatus)

	var (
		payStatus int
		refund    uint32
	)
	require.NoError(t, f.db.QueryRow(`SELECT status, refund_cents FROM payments WHERE reservation_id = ?`, r.ID).Scan(&payStatus, &refund))
	assert.Equal(t, int(model.PaymentRefunded), payStatus)
	assert.Equal(t, uint32(11728), refund)
}

func TestCancel_Rules(t *testing.T) {
	t.Run("other user", func(t *testing.T) {
		f := newFixture(t)
		r := f.newReservation(42, model.CategoryStudent)
		_, err := cancel(f, r.ID, 43)
		require.ErrorIs(t, err, approval.ErrForbidden)
		assert.Equal(t, model.StatusPending, f.reload(r.ID).Status)
	})
	t.Run("unknown reservation", func(t *testing.T) {
		f := newFixture(t)
		_, err := cancel(f, 999, 42)
		require.ErrorIs(t, err, approval.ErrNotFound)
	})
	t.Run("rejected reservation", func(t *testing.T) {
		f := newFixture(t)
		r := f.newReservation(42, model.CategoryStudent)
		_, err := f.decide(r.ID, model.RoleAdvisor, 7, model.ActionReject, "no")
		require.NoError(t, err)
		_, err = cancel(f, r.ID, 42)
		require.ErrorIs(t, err, approval.ErrInvalidState)
	})
	t.Run("too close to the reserved day", func(t *testing.T) {
		f := newFixture(t)
		r := f.newReservation(42, model.CategoryStudent)
		_, err := f.db.Exec(`UPDATE reservations SET reserve_date = ? WHERE id = ?`, fixedNow.Format("2006-01-02"), r.ID)
		require.NoError(t, err)
		_, err = cancel(f, r.ID, 42)
		require.ErrorIs(t, err, approval.ErrPrecondition)
		assert.Equal(t, model.StatusPending, f.reload(r.ID).Status)
	})
	t.Run("day before is allowed", func(t *testing.T) {
		f := newFixture(t)
		r := f.newReservation(42, model.CategoryStudent)
		tomorrow := fixedNow.AddDate(0, 0, 1).Format("2006-01-02")
		_, err := f.db.Exec(`UPDATE reservations SET reserve_date = ? WHERE id = ?`, tomorrow, r.ID)
		require.NoError(t, err)
		_, err = cancel(f, r.ID, 42)
		require.NoError(t, err)
	})
}

func TestCancel_LeadDaysAreConfigurable(t *testing.T) {
	f := newFixture(t)
	f.engine = approval.NewEngine(f.db, approval.Stores{
		Reservations: f.reservations,
		Logs:         f.logs,
		Workflows:    f.workflows,
		Payments:     f.gate,
		Devices:      f.devices,
		Borrows:      f.borrows,
	}, approval.WithClock(func() time.Time { return fixedNow }), approval.WithCancelLeadDays(7))
	r := f.newReservation(42, model.CategoryStudent)

	_, err := cancel(f, r.ID, 42)
	require.ErrorIs(t, err, approval.ErrPrecondition, "reserved day is only six days away")
}
