package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// actorKey identifies the caller for rate limiting.  It is the user id set
// by JWTAuth, or "guest" when the route is not authenticated.
func actorKey(c echo.Context) string {
	if uid, ok := c.Get(KeyUserID).(uint64); ok && uid != 0 {
		return strconv.FormatUint(uid, 10)
	}
	return "guest"
}
