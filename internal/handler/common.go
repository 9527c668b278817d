package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lab-reservation/internal/middleware"
	"github.com/iliyamo/lab-reservation/internal/model"
)

var errNoIdentity = errors.New("unauthorized")

// getUserID extracts the user_id set by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.KeyUserID).(type) {
	case uint64:
		if t != 0 {
			return t, nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n != 0 {
			return n, nil
		}
	}
	return 0, errNoIdentity
}

// actorFrom builds the explicit actor passed to the engine from the token
// claims.  Tokens without a known kind are treated as ordinary users.
func actorFrom(c echo.Context) (model.Actor, error) {
	id, err := getUserID(c)
	if err != nil {
		return model.Actor{}, err
	}
	name, _ := c.Get(middleware.KeyName).(string)
	raw, _ := c.Get(middleware.KeyKind).(string)
	kind, err := model.ParseActorKind(raw)
	if err != nil {
		kind = model.ActorUser
	}
	return model.Actor{ID: id, Name: name, Kind: kind}, nil
}

// approverRole returns the approver role claimed by the caller.
func approverRole(c echo.Context) (model.Role, error) {
	raw, _ := c.Get(middleware.KeyRole).(string)
	return model.ParseRole(raw)
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// bindAndValidate binds the request body into req and runs its struct
// tags.  An empty body binds to the zero value.  When ok is false the 400
// response has been written and err is what the handler returns.
func bindAndValidate(c echo.Context, req interface{}) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return true, nil
}
