package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a stored or requested role string does not
// name one of the approver roles below.
var ErrUnknownRole = errors.New("unknown approver role")

// ErrUnknownCategory is returned for requester categories outside the
// closed student/teacher/external set.
var ErrUnknownCategory = errors.New("unknown requester category")

// Category classifies the requester of a reservation.  Each category
// has its own approval workflow.
type Category string

const (
	CategoryStudent  Category = "student"
	CategoryTeacher  Category = "teacher"
	CategoryExternal Category = "external"
)

// Categories lists every requester category in display order.
func Categories() []Category {
	return []Category{CategoryStudent, CategoryTeacher, CategoryExternal}
}

// ParseCategory normalizes s and returns the matching category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryStudent, CategoryTeacher, CategoryExternal:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Label returns the human readable name shown in workflow listings.
func (c Category) Label() string {
	switch c {
	case CategoryStudent:
		return "Student"
	case CategoryTeacher:
		return "Teacher"
	case CategoryExternal:
		return "External"
	}
	return string(c)
}

// Role is the approver role a workflow step requires.  The set is closed:
// unknown strings are rejected when read from storage or from a request.
type Role string

const (
	RoleAdvisor    Role = "advisor"    // supervising teacher of a student
	RoleDevice     Role = "device"     // device administrator
	RoleSupervisor Role = "supervisor" // laboratory supervisor
	RoleFinance    Role = "finance"    // finance officer
)

// Roles lists every approver role.
func Roles() []Role {
	return []Role{RoleAdvisor, RoleDevice, RoleSupervisor, RoleFinance}
}

// ParseRole normalizes s and returns the matching role or ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdvisor, RoleDevice, RoleSupervisor, RoleFinance:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Label returns the display name of the role.
func (r Role) Label() string {
	switch r {
	case RoleAdvisor:
		return "Advisor"
	case RoleDevice:
		return "Device Manager"
	case RoleSupervisor:
		return "Lab Supervisor"
	case RoleFinance:
		return "Finance"
	}
	return string(r)
}

// WorkflowStep is one row of the approval workflow configuration.
// Steps of a category sharing the same Order form a group; a group with
// more than one step must have every step marked Parallel.
type WorkflowStep struct {
	ID              uint64   // approval_workflows.id
	Category        Category // approval_workflows.user_category
	Order           int      // approval_workflows.step_order (1-based)
	Role            Role     // approval_workflows.role
	Parallel        bool     // approval_workflows.is_parallel
	PaymentRequired bool     // approval_workflows.is_payment_required
	Enabled         bool     // approval_workflows.is_enabled
	Description     string   // approval_workflows.description
}

// Title returns the description of the step, falling back to the role
// label when no description has been configured.
func (s WorkflowStep) Title() string {
	if s.Description != "" {
		return s.Description
	}
	return s.Role.Label()
}
