package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/config"
	"github.com/iliyamo/lab-reservation/internal/handler"
	"github.com/iliyamo/lab-reservation/internal/middleware"
	"github.com/iliyamo/lab-reservation/internal/model"
)

// New returns an Echo instance with the request validator and the common
// middleware chain installed: panic recovery, request ids and zap request
// logging.
func New(log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	return e
}

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// Handlers bundles the handlers of the authenticated API.
type Handlers struct {
	Approvals *handler.ApprovalHandler
	Payments  *handler.PaymentHandler
	Workflows *handler.WorkflowHandler
}

// Options carries what the middleware of the authenticated API needs.  A
// nil Redis client disables rate limiting and the workflow cache.
type Options struct {
	JWTSecret string
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client
	Log       *zap.Logger
}

// RegisterAPI registers the /v1 routes.  Every route requires a valid
// access token.  Decisions and the pending queue need an approver role,
// workflow changes an administrator holding the supervisor role.
// Decisions and cancellations are rate limited per actor.
func RegisterAPI(e *echo.Echo, h Handlers, opt Options) {
	log := opt.Log
	if log == nil {
		log = zap.NewNop()
	}
	approver := middleware.RequireRole(roleNames()...)
	limiter := middleware.NewFixedWindow(opt.RateLimit, opt.Redis, log)

	v1 := e.Group("/v1", middleware.JWTAuth(opt.JWTSecret))

	v1.POST("/reservations/:id/approve", h.Approvals.Approve, approver, limiter)
	v1.POST("/reservations/:id/reject", h.Approvals.Reject, approver, limiter)
	v1.GET("/reservations/:id/approvals", h.Approvals.History)
	v1.GET("/approvals/pending", h.Approvals.Pending, approver)
	v1.POST("/reservations/:id/cancel", h.Approvals.Cancel, limiter)
	v1.POST("/borrows/:id/return", h.Approvals.Return)
	v1.POST("/payments/confirm", h.Payments.Confirm)

	wf := v1.Group("/workflows", middleware.RequireKind(string(model.ActorAdmin)))
	supervisor := middleware.RequireRole(string(model.RoleSupervisor))
	invalidate := middleware.InvalidateCache(opt.Cache, opt.Redis, log)
	wf.GET("", h.Workflows.List, middleware.NewResponseCache(opt.Cache, opt.Redis))
	wf.PATCH("/:id", h.Workflows.Update, supervisor, invalidate)
	wf.POST("/:id/toggle", h.Workflows.Toggle, supervisor, invalidate)
}

func roleNames() []string {
	roles := model.Roles()
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}
