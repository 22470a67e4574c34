package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = []*models.Permission{
	{ID: 1, Name: "cashbook.read", Category: "Cashbook"},
	{ID: 2, Name: "cashbook.write", Category: "Cashbook"},
	{ID: 10, Name: "expenses.read", Category: "Expenses"},
	{ID: 11, Name: "expenses.write", Category: "Expenses"},
	{ID: 30, Name: "shipments.read", Category: "Shipments"},
}

func TestSelectCategory(t *testing.T) {
	tests := []struct {
		name     string
		current  []int
		category string
		selected bool
		want     []int
	}{
		{"select into empty", nil, "Cashbook", true, []int{1, 2}},
		{"select keeps others", []int{30, 10}, "Cashbook", true, []int{1, 2, 10, 30}},
		{"select is idempotent", []int{1, 2, 30}, "Cashbook", true, []int{1, 2, 30}},
		{"deselect removes only category", []int{1, 2, 10, 11, 30}, "Expenses", false, []int{1, 2, 30}},
		{"deselect partial category", []int{2, 30}, "Cashbook", false, []int{30}},
		{"deselect absent category", []int{10}, "Cashbook", false, []int{10}},
		{"unknown category leaves set", []int{1, 30}, "Nope", true, []int{1, 30}},
		{"ids outside catalog survive", []int{99, 1}, "Cashbook", false, []int{99}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.SelectCategory(tt.current, testCatalog, tt.category, tt.selected)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SelectCategory() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectCategoryOnlyTouchesCategory(t *testing.T) {
	inCategory := map[int]bool{1: true, 2: true}
	current := []int{2, 10, 30}
	for _, selected := range []bool{true, false} {
		got := models.SelectCategory(current, testCatalog, "Cashbook", selected)
		var outside []int
		for _, id := range got {
			if !inCategory[id] {
				outside = append(outside, id)
			}
		}
		assert.Equal(t, []int{10, 30}, outside)
	}
}

func TestPermissionSatisfied(t *testing.T) {
	granted := map[string]bool{"cashbook.write": true, "reports.production": true}
	assert.True(t, models.PermissionSatisfied(granted, "cashbook.write"))
	assert.True(t, models.PermissionSatisfied(granted, "cashbook.read"))
	assert.True(t, models.PermissionSatisfied(granted, "reports.production"))
	assert.False(t, models.PermissionSatisfied(granted, "expenses.read"))
	assert.False(t, models.PermissionSatisfied(granted, "cashbook.rebuild"))
}

func TestPermissionCatalogIsConsistent(t *testing.T) {
	catalog, err := models.LoadPermissionCatalog()
	require.NoError(t, err)
	require.NotEmpty(t, catalog)

	ids := map[int]bool{}
	names := map[string]bool{}
	for _, p := range catalog {
		assert.False(t, ids[p.ID], "duplicate id %d", p.ID)
		assert.False(t, names[p.Name], "duplicate name %s", p.Name)
		assert.NotEmpty(t, p.Category, p.Name)
		ids[p.ID] = true
		names[p.Name] = true
	}
	for _, required := range []string{"cashbook.read", "cashbook.write", "backup.recover", "database.import", "roles.write"} {
		assert.True(t, names[required], required)
	}
}

func catalogIdsIn(t *testing.T, category string) []int {
	t.Helper()
	catalog, err := models.LoadPermissionCatalog()
	require.NoError(t, err)
	var ids []int
	for _, p := range catalog {
		if p.Category == category {
			ids = append(ids, p.ID)
		}
	}
	require.NotEmpty(t, ids)
	return ids
}

func TestCreateRoleNormalizesPermissions(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Roles")

	role, err := models.CreateRole(ctx, &models.NewRole{Name: " Clerk ", PermissionIds: []int{2, 1, 2, 10}})
	require.NoError(t, err)
	assert.Equal(t, "Clerk", role.Name)
	assert.Equal(t, []int{1, 2, 10}, role.PermissionIds)

	stored, err := models.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, stored.PermissionIds)

	_, err = models.CreateRole(ctx, &models.NewRole{Name: "Ghost", PermissionIds: []int{9999}})
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = models.CreateRole(ctx, &models.NewRole{Name: "Clerk"})
	assert.ErrorIs(t, err, utils.ErrorDuplicate)
}

func TestSetCategoryPermissions(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Categories")

	cashbook := catalogIdsIn(t, "Cashbook")
	expenses := catalogIdsIn(t, "Expenses")

	role, err := models.CreateRole(ctx, &models.NewRole{Name: "Accountant", PermissionIds: []int{expenses[0]}})
	require.NoError(t, err)

	role, err = models.SetCategoryPermissions(ctx, role.ID, "Cashbook", true)
	require.NoError(t, err)
	want := append(append([]int{}, cashbook...), expenses[0])
	assert.ElementsMatch(t, want, role.PermissionIds)

	role, err = models.SetCategoryPermissions(ctx, role.ID, "Cashbook", false)
	require.NoError(t, err)
	assert.Equal(t, []int{expenses[0]}, role.PermissionIds)

	stored, err := models.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{expenses[0]}, stored.PermissionIds)

	_, err = models.SetCategoryPermissions(ctx, role.ID, "Nonexistent", true)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestGetAllowedPermissions(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Allowed")

	role, err := models.CreateRole(ctx, &models.NewRole{Name: "Viewer"})
	require.NoError(t, err)
	_, err = models.SetCategoryPermissions(ctx, role.ID, "Shipments", true)
	require.NoError(t, err)

	allowed, err := models.GetAllowedPermissions(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, allowed["shipments.read"])
	assert.True(t, allowed["shipments.write"])
	assert.False(t, allowed["cashbook.read"])
}

func TestDeleteRoleInUse(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "InUse")

	role, err := models.CreateRole(ctx, &models.NewRole{Name: "Supervisor"})
	require.NoError(t, err)
	user, err := models.CreateUser(ctx, &models.NewUser{
		Username: "sup1", Name: "Supervisor One", Password: "secret1", RoleId: role.ID, Role: models.UserRoleCustom,
	})
	require.NoError(t, err)

	_, err = models.DeleteRole(ctx, role.ID)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = models.DeleteUser(ctx, user.ID)
	require.NoError(t, err)
	_, err = models.DeleteRole(ctx, role.ID)
	require.NoError(t, err)
	_, err = models.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}
