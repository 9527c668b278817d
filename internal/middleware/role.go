package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole returns a middleware function that enforces that the
// authenticated caller holds one of the given approver roles.  It assumes
// JWTAuth has stored the role under "role"; a missing or unknown role is
// answered with 403 Forbidden.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return requireClaim(KeyRole, roles)
}

// RequireKind is like RequireRole for the actor kind claim ("admin" or
// "user").
func RequireKind(kinds ...string) echo.MiddlewareFunc {
	return requireClaim(KeyKind, kinds)
}

func requireClaim(key string, values []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(values))
	for _, v := range values {
		allowed[v] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			v, ok := c.Get(key).(string)
			if !ok || !allowed[v] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
