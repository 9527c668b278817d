package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lab-reservation/internal/model"
)

func TestLabels(t *testing.T) {
	roles := map[model.Role]string{
		model.RoleAdvisor:    "Advisor",
		model.RoleDevice:     "Device Manager",
		model.RoleSupervisor: "Lab Supervisor",
		model.RoleFinance:    "Finance",
	}
	for role, want := range roles {
		assert.Equal(t, want, role.Label(), role)
	}

	categories := map[model.Category]string{
		model.CategoryStudent:  "Student",
		model.CategoryTeacher:  "Teacher",
		model.CategoryExternal: "External",
	}
	for cat, want := range categories {
		assert.Equal(t, want, cat.Label(), cat)
	}

	assert.Equal(t, "dean", model.Role("dean").Label())
}

func TestParseRoleAndCategory(t *testing.T) {
	r, err := model.ParseRole(" Finance ")
	require.NoError(t, err)
	assert.Equal(t, model.RoleFinance, r)
	_, err = model.ParseRole("dean")
	require.ErrorIs(t, err, model.ErrUnknownRole)

	c, err := model.ParseCategory("EXTERNAL")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryExternal, c)
	_, err = model.ParseCategory("alumni")
	require.ErrorIs(t, err, model.ErrUnknownCategory)
}
