package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/approval"
	"github.com/iliyamo/lab-reservation/internal/payment"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// statusOf maps a domain error to its HTTP status.  Unknown errors are
// internal.
func statusOf(err error) int {
	switch {
	case errors.Is(err, approval.ErrValidation), errors.Is(err, repository.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidState), errors.Is(err, payment.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, approval.ErrConflict),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, repository.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, approval.ErrPrecondition):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

// respondError writes err in the {"error": msg} envelope.  Messages of
// internal errors are logged and replaced by a generic text, except for
// configuration errors which an operator has to see.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	status := statusOf(err)
	if status < http.StatusInternalServerError {
		return c.JSON(status, echo.Map{"error": err.Error()})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	if errors.Is(err, approval.ErrConfig) {
		return c.JSON(status, echo.Map{"error": err.Error()})
	}
	return c.JSON(status, echo.Map{"error": "internal error"})
}
