package approval

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/iliyamo/lab-reservation/internal/model"
)

// StepSource returns the enabled workflow steps of a category, read inside
// the caller's transaction.  *repository.WorkflowRepo implements it.
type StepSource interface {
	EnabledStepsTx(ctx context.Context, tx *sql.Tx, category model.Category) ([]model.WorkflowStep, error)
}

// Group is the set of steps sharing one order within a workflow.
type Group struct {
	Order int
	Steps []model.WorkflowStep
}

// Step returns the step of the group assigned to role.
func (g Group) Step(role model.Role) (model.WorkflowStep, bool) {
	for _, s := range g.Steps {
		if s.Role == role {
			return s, true
		}
	}
	return model.WorkflowStep{}, false
}

// Outstanding returns the steps of the group whose role has not approved.
func (g Group) Outstanding(ledger model.Ledger) []model.WorkflowStep {
	var out []model.WorkflowStep
	for _, s := range g.Steps {
		if !ledger.Approved(s.Role) {
			out = append(out, s)
		}
	}
	return out
}

// Complete reports whether the group is done once decided has approved.
// A non-parallel step completes its group on its own; a parallel group
// needs an approval from every role in it.
func (g Group) Complete(decided model.WorkflowStep, ledger model.Ledger) bool {
	if !decided.Parallel {
		return true
	}
	return len(g.Outstanding(ledger)) == 0
}

// Workflow is the validated, ordered configuration of one category.
type Workflow struct {
	Category model.Category
	groups   []Group
}

// NewWorkflow groups and validates steps.  Disabled steps are ignored.
// It fails with ErrConfig when an order is not positive, a role is not
// one of the known roles or appears twice, or a group of several steps is
// not entirely parallel.
func NewWorkflow(category model.Category, steps []model.WorkflowStep) (*Workflow, error) {
	byOrder := make(map[int][]model.WorkflowStep)
	seen := make(map[model.Role]int)
	for _, s := range steps {
		if !s.Enabled {
			continue
		}
		if s.Order <= 0 {
			return nil, newError(ErrConfig, "workflow %s: step %d has order %d", category, s.ID, s.Order)
		}
		if _, err := model.ParseRole(string(s.Role)); err != nil {
			return nil, newError(ErrConfig, "workflow %s: step %d: %v", category, s.ID, err)
		}
		if prev, dup := seen[s.Role]; dup {
			return nil, newError(ErrConfig, "workflow %s: role %s appears at steps %d and %d", category, s.Role, prev, s.Order)
		}
		seen[s.Role] = s.Order
		byOrder[s.Order] = append(byOrder[s.Order], s)
	}

	w := &Workflow{Category: category}
	for order, group := range byOrder {
		if len(group) > 1 {
			for _, s := range group {
				if !s.Parallel {
					return nil, newError(ErrConfig, "workflow %s: step %d shares order %d but is not parallel", category, s.ID, order)
				}
			}
		}
		w.groups = append(w.groups, Group{Order: order, Steps: group})
	}
	sort.Slice(w.groups, func(i, j int) bool { return w.groups[i].Order < w.groups[j].Order })
	return w, nil
}

// LoadWorkflow reads and validates the workflow of category.  A category
// with no enabled steps fails with ErrConfig.
func LoadWorkflow(ctx context.Context, tx *sql.Tx, src StepSource, category model.Category) (*Workflow, error) {
	steps, err := src.EnabledStepsTx(ctx, tx, category)
	if err != nil {
		if errors.Is(err, model.ErrUnknownRole) || errors.Is(err, model.ErrUnknownCategory) {
			return nil, newError(ErrConfig, "workflow %s: %v", category, err)
		}
		return nil, err
	}
	w, err := NewWorkflow(category, steps)
	if err != nil {
		return nil, err
	}
	if len(w.groups) == 0 {
		return nil, newError(ErrConfig, "no approval workflow configured for %s", category)
	}
	return w, nil
}

// Groups returns the groups in ascending order.
func (w *Workflow) Groups() []Group { return w.groups }

// Group returns the group with exactly the given order.
func (w *Workflow) Group(order int) (Group, bool) {
	for _, g := range w.groups {
		if g.Order == order {
			return g, true
		}
	}
	return Group{}, false
}

// Next returns the first group whose order is greater than order.  Gaps in
// the numbering are skipped.
func (w *Workflow) Next(order int) (Group, bool) {
	for _, g := range w.groups {
		if g.Order > order {
			return g, true
		}
	}
	return Group{}, false
}
