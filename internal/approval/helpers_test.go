package approval_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/approval"
	"github.com/iliyamo/lab-reservation/internal/database"
	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/payment"
	"github.com/iliyamo/lab-reservation/internal/queue"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

var fixedNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

const reserveDay = "2026-10-20"

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	if p.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingBorrows makes CreateTx fail after the rest of the final approval
// has been written.
type failingBorrows struct {
	*repository.BorrowRepo
}

func (f failingBorrows) CreateTx(context.Context, *sql.Tx, *model.BorrowRecord) (uint64, error) {
	return 0, errors.New("disk full")
}

type fixture struct {
	t            *testing.T
	db           *sql.DB
	engine       *approval.Engine
	reservations *repository.ReservationRepo
	workflows    *repository.WorkflowRepo
	logs         *repository.ApprovalLogRepo
	devices      *repository.DeviceRepo
	borrows      *repository.BorrowRepo
	payments     *repository.PaymentRepo
	gate         *payment.Gate
	pub          *recordingPublisher
	device       *model.Device
}

type fixtureOption func(*approval.Stores)

func withBorrows(b approval.BorrowRecords) fixtureOption {
	return func(s *approval.Stores) { s.Borrows = b }
}

// newFixture opens a migrated in-memory database with the default
// workflows and one available device.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	f := &fixture{
		t:            t,
		db:           db,
		reservations: repository.NewReservationRepo(db, database.SQLite),
		workflows:    repository.NewWorkflowRepo(db),
		logs:         repository.NewApprovalLogRepo(db),
		devices:      repository.NewDeviceRepo(db),
		borrows:      repository.NewBorrowRepo(db, database.SQLite),
		payments:     repository.NewPaymentRepo(db, database.SQLite),
		pub:          &recordingPublisher{},
	}
	f.gate = payment.NewGate(f.payments, 5, zap.NewNop())
	stores := approval.Stores{
		Reservations: f.reservations,
		Logs:         f.logs,
		Workflows:    f.workflows,
		Payments:     f.gate,
		Devices:      f.devices,
		Borrows:      f.borrows,
	}
	for _, opt := range opts {
		opt(&stores)
	}
	f.engine = approval.NewEngine(db, stores,
		approval.WithClock(func() time.Time { return fixedNow }),
		approval.WithPublisher(f.pub),
		approval.WithLogger(zap.NewNop()))

	f.device = &model.Device{Name: "Oscilloscope", Model: "DS1104", RentPriceCents: 12345}
	require.NoError(t, f.devices.Create(context.Background(), f.device))
	return f
}

// replaceWorkflow swaps the configuration of every category for steps.
func (f *fixture) replaceWorkflow(steps ...model.WorkflowStep) {
	f.t.Helper()
	_, err := f.db.Exec(`DELETE FROM approval_workflows`)
	require.NoError(f.t, err)
	for i := range steps {
		require.NoError(f.t, f.workflows.Create(context.Background(), &steps[i]))
	}
}

func step(cat model.Category, order int, role model.Role, parallel, paymentRequired bool) model.WorkflowStep {
	return model.WorkflowStep{
		Category:        cat,
		Order:           order,
		Role:            role,
		Parallel:        parallel,
		PaymentRequired: paymentRequired,
		Enabled:         true,
		Description:     role.Label() + " approval",
	}
}

func (f *fixture) inTx(fn func(tx *sql.Tx)) {
	f.t.Helper()
	tx, err := f.db.Begin()
	require.NoError(f.t, err)
	fn(tx)
	require.NoError(f.t, tx.Commit())
}

func (f *fixture) newReservation(userID uint64, cat model.Category) *model.Reservation {
	f.t.Helper()
	r := &model.Reservation{
		UserID:      userID,
		Category:    cat,
		DeviceID:    f.device.ID,
		ReserveDate: reserveDay,
		TimeSlot:    "08:00-10:00",
		Purpose:     "signal measurements",
		Status:      model.StatusPending,
	}
	f.inTx(func(tx *sql.Tx) {
		require.NoError(f.t, f.reservations.CreateTx(context.Background(), tx, r))
	})
	return r
}

// newPayment creates a pending payment for r and returns its order number.
func (f *fixture) newPayment(r *model.Reservation, amount uint32) string {
	f.t.Helper()
	p := &model.Payment{ReservationID: r.ID, UserID: r.UserID, AmountCents: amount, Status: model.PaymentPending}
	f.inTx(func(tx *sql.Tx) {
		require.NoError(f.t, f.payments.CreateTx(context.Background(), tx, p))
	})
	return p.OrderNo
}

func (f *fixture) pay(r *model.Reservation, amount uint32) {
	f.t.Helper()
	_, err := f.gate.Settle(context.Background(), f.newPayment(r, amount))
	require.NoError(f.t, err)
}

func (f *fixture) reload(id uint64) *model.Reservation {
	f.t.Helper()
	var r *model.Reservation
	f.inTx(func(tx *sql.Tx) {
		var err error
		r, err = f.reservations.GetForUpdateTx(context.Background(), tx, id)
		require.NoError(f.t, err)
	})
	return r
}

func (f *fixture) deviceStatus() model.DeviceStatus {
	f.t.Helper()
	d, err := f.devices.GetByID(context.Background(), f.device.ID)
	require.NoError(f.t, err)
	return d.Status
}

func (f *fixture) count(query string, args ...any) int {
	f.t.Helper()
	var n int
	require.NoError(f.t, f.db.QueryRow(query, args...).Scan(&n))
	return n
}

func (f *fixture) decide(id uint64, role model.Role, actorID uint64, action model.Action, note string) (*approval.Result, error) {
	kind := model.ActorAdmin
	if role == model.RoleAdvisor {
		kind = model.ActorUser
	}
	return f.engine.Decide(context.Background(), approval.Decision{
		ReservationID: id,
		Role:          role,
		Actor:         model.Actor{ID: actorID, Name: string(role) + "-user", Kind: kind},
		Action:        action,
		Note:          note,
	})
}

func (f *fixture) approve(id uint64, role model.Role, actorID uint64) (*approval.Result, error) {
	return f.decide(id, role, actorID, model.ActionApprove, "")
}
