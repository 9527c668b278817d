package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/model"
)

// Settler confirms payments.  *payment.Gate implements it.
type Settler interface {
	Settle(ctx context.Context, orderNo string) (*model.Payment, error)
}

// PaymentHandler serves the mock payment callback.
type PaymentHandler struct {
	payments Settler
	log      *zap.Logger
}

// NewPaymentHandler returns a PaymentHandler that settles orders through payments.
func NewPaymentHandler(payments Settler, log *zap.Logger) *PaymentHandler {
	if payments == nil {
		panic("nil settler passed to NewPaymentHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{payments: payments, log: log}
}

type confirmRequest struct {
	OrderNo string `json:"order_no" validate:"required,max=32"`
}

type paymentView struct {
	OrderNo       string     `json:"order_no"`
	ReservationID uint64     `json:"reservation_id"`
	AmountCents   uint32     `json:"amount_cents"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// Confirm handles POST /v1/payments/confirm.  It stands in for the
// provider callback and settles a pending order.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	var req confirmRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	p, err := h.payments.Settle(c.Request().Context(), req.OrderNo)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "payment confirmed",
		"item": paymentView{
			OrderNo:       p.OrderNo,
			ReservationID: p.ReservationID,
			AmountCents:   p.AmountCents,
			Status:        p.Status.String(),
			PaidAt:        p.PaidAt,
		},
	})
}
