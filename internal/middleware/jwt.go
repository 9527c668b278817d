package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lab-reservation/internal/utils"
)

// Context keys set by JWTAuth.
const (
	KeyUserID   = "user_id"
	KeyRole     = "role"
	KeyKind     = "kind"
	KeyName     = "name"
	KeyCategory = "category"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects its claims into the request context.  Handlers read the numeric
// user id via c.Get("user_id") and the approver role via c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			// ParseAccessToken has already rejected non-numeric subjects.
			uid, _ := claims.UserID()

			c.Set(KeyUserID, uid)
			c.Set(KeyRole, claims.Role)
			c.Set(KeyKind, claims.Kind)
			c.Set(KeyName, claims.Name)
			c.Set(KeyCategory, claims.Category)
			return next(c)
		}
	}
}
