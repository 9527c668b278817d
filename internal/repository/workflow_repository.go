package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/lab-reservation/internal/model"
)

// WorkflowRepo reads and edits the approval_workflows table.  Reads made
// by the approval engine go through the caller's transaction so that a
// decision sees one consistent configuration.
type WorkflowRepo struct {
	db *sql.DB
}

// NewWorkflowRepo returns a new WorkflowRepo bound to the given database.
func NewWorkflowRepo(db *sql.DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

const workflowColumns = `id, user_category, step_order, role, is_parallel, is_payment_required, is_enabled, description`

func scanWorkflowStep(s rowScanner) (model.WorkflowStep, error) {
	var (
		st             model.WorkflowStep
		category, role string
	)
	if err := s.Scan(&st.ID, &category, &st.Order, &role, &st.Parallel, &st.PaymentRequired, &st.Enabled, &st.Description); err != nil {
		return st, err
	}
	var err error
	if st.Category, err = model.ParseCategory(category); err != nil {
		return st, fmt.Errorf("workflow step %d: %w", st.ID, err)
	}
	if st.Role, err = model.ParseRole(role); err != nil {
		return st, fmt.Errorf("workflow step %d: %w", st.ID, err)
	}
	return st, nil
}

func collectSteps(rows *sql.Rows) ([]model.WorkflowStep, error) {
	defer rows.Close()
	out := make([]model.WorkflowStep, 0)
	for rows.Next() {
		st, err := scanWorkflowStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// EnabledStepsTx returns the enabled steps configured for category,
// ordered by step_order.  The slice is empty when nothing is configured.
func (r *WorkflowRepo) EnabledStepsTx(ctx context.Context, tx *sql.Tx, category model.Category) ([]model.WorkflowStep, error) {
	q := `SELECT ` + workflowColumns + ` FROM approval_workflows
	      WHERE user_category = ? AND is_enabled = 1 ORDER BY step_order ASC, id ASC`
	rows, err := tx.QueryContext(ctx, q, string(category))
	if err != nil {
		return nil, err
	}
	return collectSteps(rows)
}

// ListAll returns every step, enabled or not, ordered by category and step.
func (r *WorkflowRepo) ListAll(ctx context.Context) ([]model.WorkflowStep, error) {
	q := `SELECT ` + workflowColumns + ` FROM approval_workflows ORDER BY user_category ASC, step_order ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return collectSteps(rows)
}

// GetByID returns one step or ErrNotFound.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uint64) (*model.WorkflowStep, error) {
	q := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = ?`
	st, err := scanWorkflowStep(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Create inserts a new step and populates its ID.  A second step with the
// same category, order and role returns ErrDuplicate.
func (r *WorkflowRepo) Create(ctx context.Context, st *model.WorkflowStep) error {
	const q = `INSERT INTO approval_workflows (user_category, step_order, role, is_parallel, is_payment_required, is_enabled, description)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, string(st.Category), st.Order, string(st.Role),
		st.Parallel, st.PaymentRequired, st.Enabled, st.Description)
	if err != nil {
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	st.ID = uint64(id)
	return nil
}

// WorkflowPatch carries the optional fields of a step update.  Nil fields
// are left unchanged.
type WorkflowPatch struct {
	PaymentRequired *bool
	Enabled         *bool
	Description     *string
}

// Empty reports whether the patch changes nothing.
func (p WorkflowPatch) Empty() bool {
	return p.PaymentRequired == nil && p.Enabled == nil && p.Description == nil
}

// Update applies patch to the step with the given id and returns the
// updated row.  An empty patch is a no-op that still returns the row.
func (r *WorkflowRepo) Update(ctx context.Context, id uint64, patch WorkflowPatch) (*model.WorkflowStep, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if patch.PaymentRequired != nil {
		sets = append(sets, "is_payment_required = ?")
		args = append(args, *patch.PaymentRequired)
	}
	if patch.Enabled != nil {
		sets = append(sets, "is_enabled = ?")
		args = append(args, *patch.Enabled)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if len(sets) > 0 {
		args = append(args, id)
		q := `UPDATE approval_workflows SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return nil, classify(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, ErrNotFound
		}
	}
	return r.GetByID(ctx, id)
}

// Toggle flips is_enabled on a step and returns the new value.
func (r *WorkflowRepo) Toggle(ctx context.Context, id uint64) (bool, error) {
	const q = `UPDATE approval_workflows SET is_enabled = 1 - is_enabled WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, ErrNotFound
	}
	st, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Enabled, nil
}
