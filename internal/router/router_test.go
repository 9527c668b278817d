package router_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/approval"
	"github.com/iliyamo/lab-reservation/internal/database"
	"github.com/iliyamo/lab-reservation/internal/handler"
	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/payment"
	"github.com/iliyamo/lab-reservation/internal/repository"
	"github.com/iliyamo/lab-reservation/internal/router"
	"github.com/iliyamo/lab-reservation/internal/utils"
)

const secret = "router-test-secret"

type server struct {
	t            *testing.T
	e            *echo.Echo
	db           *sql.DB
	reservations *repository.ReservationRepo
	payments     *repository.PaymentRepo
	device       *model.Device
}

func newServer(t *testing.T) *server {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db, database.SQLite))

	s := &server{
		t:            t,
		db:           db,
		reservations: repository.NewReservationRepo(db, database.SQLite),
		payments:     repository.NewPaymentRepo(db, database.SQLite),
		device:       &model.Device{Name: "Spectrometer", Model: "UV-1800", RentPriceCents: 20000},
	}
	devices := repository.NewDeviceRepo(db)
	require.NoError(t, devices.Create(ctx, s.device))

	gate := payment.NewGate(s.payments, 5, zap.NewNop())
	workflows := repository.NewWorkflowRepo(db)
	engine := approval.NewEngine(db, approval.Stores{
		Reservations: s.reservations,
		Logs:         repository.NewApprovalLogRepo(db),
		Workflows:    workflows,
		Payments:     gate,
		Devices:      devices,
		Borrows:      repository.NewBorrowRepo(db, database.SQLite),
	}, approval.WithClock(func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }))

	s.e = router.New(zap.NewNop())
	router.RegisterRoutes(s.e, db)
	router.RegisterAPI(s.e, router.Handlers{
		Approvals: handler.NewApprovalHandler(engine, nil),
		Payments:  handler.NewPaymentHandler(gate, nil),
		Workflows: handler.NewWorkflowHandler(workflows, nil),
	}, router.Options{JWTSecret: secret})
	return s
}

func (s *server) reservation(userID uint64, cat model.Category) uint64 {
	s.t.Helper()
	r := &model.Reservation{
		UserID: userID, Category: cat, DeviceID: s.device.ID,
		ReserveDate: "2026-10-20", TimeSlot: "14:00-16:00", Purpose: "absorbance",
	}
	tx, err := s.db.Begin()
	require.NoError(s.t, err)
	require.NoError(s.t, s.reservations.CreateTx(context.Background(), tx, r))
	require.NoError(s.t, tx.Commit())
	return r.ID
}

func (s *server) order(resID, userID uint64, amount uint32) string {
	s.t.Helper()
	p := &model.Payment{ReservationID: resID, UserID: userID, AmountCents: amount}
	tx, err := s.db.Begin()
	require.NoError(s.t, err)
	require.NoError(s.t, s.payments.CreateTx(context.Background(), tx, p))
	require.NoError(s.t, tx.Commit())
	return p.OrderNo
}

func bearer(t *testing.T, id uint64, role, kind string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, utils.Identity{UserID: id, Name: "u" + strconv.FormatUint(id, 10), Role: role, Kind: kind}, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

type response struct {
	Code int
	Body map[string]any
}

func (s *server) do(method, path, auth, body string) response {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	out := response{Code: rec.Code}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out.Body))
	}
	return out
}

func item(r response) map[string]any {
	m, _ := r.Body["item"].(map[string]any)
	return m
}

func path(format string, id uint64) string {
	return strings.Replace(format, ":id", strconv.FormatUint(id, 10), 1)
}

var (
	advisor    = func(t *testing.T) string { return bearer(t, 7, "advisor", "user") }
	deviceMgr  = func(t *testing.T) string { return bearer(t, 3, "device", "admin") }
	supervisor = func(t *testing.T) string { return bearer(t, 5, "supervisor", "admin") }
	finance    = func(t *testing.T) string { return bearer(t, 9, "finance", "admin") }
	requester  = func(t *testing.T) string { return bearer(t, 42, "", "user") }
)

func TestHealth(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStudentReservationLifecycle(t *testing.T) {
	s := newServer(t)
	id := s.reservation(42, model.CategoryStudent)

	res := s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), advisor(t), `{"remark":"fine"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "advanced", item(res)["outcome"])

	res = s.do(http.MethodGet, "/v1/approvals/pending", deviceMgr(t), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(1), res.Body["count"])

	res = s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), deviceMgr(t), "")
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "approved", item(res)["outcome"])
	borrowID := uint64(item(res)["borrow_record_id"].(float64))
	require.NotZero(t, borrowID)

	res = s.do(http.MethodGet, path("/v1/reservations/:id/approvals", id), requester(t), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(2), res.Body["count"])
	res = s.do(http.MethodGet, path("/v1/reservations/:id/approvals", id), bearer(t, 43, "", "user"), "")
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(http.MethodPost, path("/v1/borrows/:id/return", borrowID), requester(t), `{"device_condition":"broken"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = s.do(http.MethodPost, path("/v1/borrows/:id/return", borrowID), requester(t), `{"device_condition":"good"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "available", item(res)["device_status"])
}

func TestDecisionErrors(t *testing.T) {
	s := newServer(t)
	id := s.reservation(42, model.CategoryStudent)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), "", "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), requester(t), "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/reservations/abc/approve", advisor(t), "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/reservations/999/approve", advisor(t), "").Code)

	res := s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), deviceMgr(t), "")
	assert.Equal(t, http.StatusForbidden, res.Code, "device step is not current yet")

	res = s.do(http.MethodPost, path("/v1/reservations/:id/reject", id), advisor(t), `{}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body["error"], "reason is required")

	res = s.do(http.MethodPost, path("/v1/reservations/:id/reject", id), advisor(t), `{"reason":"wrong device"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "rejected", item(res)["outcome"])

	res = s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), advisor(t), "")
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestPaymentGateAndCancellation(t *testing.T) {
	s := newServer(t)
	id := s.reservation(42, model.CategoryExternal)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), deviceMgr(t), "").Code)

	res := s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), finance(t), "")
	assert.Equal(t, http.StatusPreconditionFailed, res.Code)

	order := s.order(id, 42, 20000)
	res = s.do(http.MethodPost, "/v1/payments/confirm", requester(t), `{"order_no":"`+order+`"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "paid", item(res)["status"])
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/v1/payments/confirm", requester(t), `{"order_no":"`+order+`"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/payments/confirm", requester(t), `{"order_no":"PAY0"}`).Code)

	res = s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), finance(t), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "partially_approved", item(res)["outcome"])
	res = s.do(http.MethodPost, path("/v1/reservations/:id/approve", id), supervisor(t), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "approved", item(res)["outcome"])

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, path("/v1/reservations/:id/cancel", id), bearer(t, 43, "", "user"), "").Code)
	res = s.do(http.MethodPost, path("/v1/reservations/:id/cancel", id), requester(t), `{"reason":"project postponed"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, float64(19000), item(res)["refund_cents"])
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, path("/v1/reservations/:id/cancel", id), requester(t), "").Code)
}

func TestWorkflowAdministration(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/workflows", advisor(t), "").Code)

	res := s.do(http.MethodGet, "/v1/workflows", deviceMgr(t), "")
	require.Equal(t, http.StatusOK, res.Code)
	items := res.Body["items"].([]any)
	require.Len(t, items, 3)
	external := items[2].(map[string]any)
	assert.Equal(t, "external", external["category"])
	assert.Equal(t, "External", external["label"])
	steps := external["steps"].([]any)
	require.Len(t, steps, 3)
	first := steps[0].(map[string]any)
	assert.Equal(t, "device", first["role"])
	assert.Equal(t, "Device Manager", first["role_label"])
	assert.Equal(t, "Device Manager approval", first["description"])
	stepID := uint64(steps[0].(map[string]any)["id"].(float64))

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path("/v1/workflows/:id", stepID), deviceMgr(t), `{"enabled":false}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, path("/v1/workflows/:id", stepID), supervisor(t), `{}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPatch, "/v1/workflows/999", supervisor(t), `{"enabled":false}`).Code)

	res = s.do(http.MethodPatch, path("/v1/workflows/:id", stepID), supervisor(t), `{"description":"Device inspection"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "Device inspection", item(res)["description"])

	res = s.do(http.MethodPost, path("/v1/workflows/:id/toggle", stepID), supervisor(t), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, false, item(res)["enabled"])
	res = s.do(http.MethodPost, path("/v1/workflows/:id/toggle", stepID), supervisor(t), "")
	assert.Equal(t, true, item(res)["enabled"])
}
