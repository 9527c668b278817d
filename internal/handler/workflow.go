package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/model"
	"github.com/iliyamo/lab-reservation/internal/repository"
)

// WorkflowStore reads and edits the approval workflow configuration.
// *repository.WorkflowRepo implements it.
type WorkflowStore interface {
	ListAll(ctx context.Context) ([]model.WorkflowStep, error)
	Update(ctx context.Context, id uint64, patch repository.WorkflowPatch) (*model.WorkflowStep, error)
	Toggle(ctx context.Context, id uint64) (bool, error)
}

// WorkflowHandler serves the workflow administration endpoints.  Changes
// apply to the next decision on every pending reservation of the category.
type WorkflowHandler struct {
	store WorkflowStore
	log   *zap.Logger
}

// NewWorkflowHandler returns a WorkflowHandler backed by store.
func NewWorkflowHandler(store WorkflowStore, log *zap.Logger) *WorkflowHandler {
	if store == nil {
		panic("nil store passed to NewWorkflowHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkflowHandler{store: store, log: log}
}

type stepView struct {
	ID              uint64 `json:"id"`
	Order           int    `json:"step_order"`
	Role            string `json:"role"`
	RoleLabel       string `json:"role_label"`
	Parallel        bool   `json:"parallel"`
	PaymentRequired bool   `json:"payment_required"`
	Enabled         bool   `json:"enabled"`
	Description     string `json:"description"`
}

func newStepView(s model.WorkflowStep) stepView {
	return stepView{
		ID:              s.ID,
		Order:           s.Order,
		Role:            string(s.Role),
		RoleLabel:       s.Role.Label(),
		Parallel:        s.Parallel,
		PaymentRequired: s.PaymentRequired,
		Enabled:         s.Enabled,
		Description:     s.Description,
	}
}

type categoryView struct {
	Category string     `json:"category"`
	Label    string     `json:"label"`
	Steps    []stepView `json:"steps"`
}

// List handles GET /v1/workflows.  Steps are grouped by requester category
// in display order; disabled steps are included.
func (h *WorkflowHandler) List(c echo.Context) error {
	steps, err := h.store.ListAll(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	byCategory := make(map[model.Category][]stepView)
	for _, s := range steps {
		byCategory[s.Category] = append(byCategory[s.Category], newStepView(s))
	}
	items := make([]categoryView, 0, len(model.Categories()))
	for _, cat := range model.Categories() {
		views := byCategory[cat]
		if views == nil {
			views = []stepView{}
		}
		items = append(items, categoryView{Category: string(cat), Label: cat.Label(), Steps: views})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type updateStepRequest struct {
	PaymentRequired *bool   `json:"payment_required"`
	Enabled         *bool   `json:"enabled"`
	Description     *string `json:"description" validate:"omitempty,max=255"`
}

// Update handles PATCH /v1/workflows/:id.  At least one field must be
// given.
func (h *WorkflowHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workflow step id"})
	}
	var req updateStepRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	patch := repository.WorkflowPatch{
		PaymentRequired: req.PaymentRequired,
		Enabled:         req.Enabled,
		Description:     req.Description,
	}
	if patch.Empty() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}
	st, err := h.store.Update(c.Request().Context(), id, patch)
	if err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info("workflow step updated", zap.Uint64("step_id", id), zap.String("category", string(st.Category)))
	return c.JSON(http.StatusOK, echo.Map{"message": "workflow step updated", "item": newStepView(*st)})
}

// Toggle handles POST /v1/workflows/:id/toggle and returns the new enabled
// flag.
func (h *WorkflowHandler) Toggle(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workflow step id"})
	}
	enabled, err := h.store.Toggle(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info("workflow step toggled", zap.Uint64("step_id", id), zap.Bool("enabled", enabled))
	msg := "workflow step disabled"
	if enabled {
		msg = "workflow step enabled"
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "item": echo.Map{"id": id, "enabled": enabled}})
}
