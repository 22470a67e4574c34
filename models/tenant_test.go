package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoriesDoNotSeeEachOther(t *testing.T) {
	dbtest.Setup(t)
	_, ctxA := dbtest.NewFactory(t, "North")
	_, ctxB := dbtest.NewFactory(t, "South")

	lineA := dbtest.MustLine(t, ctxA, "Line 1")
	// same name is fine in another factory
	dbtest.MustLine(t, ctxB, "Line 1")

	_, err := models.GetLine(ctxB, lineA.ID)
	assert.Error(t, err)

	_, err = models.CreateCuttingEntry(ctxB, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-01-01"), LineId: lineA.ID, StyleId: 1, InputQty: 5,
	})
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	linesB, err := models.ListLines(ctxB)
	require.NoError(t, err)
	require.Len(t, linesB, 1)
	assert.NotEqual(t, lineA.ID, linesB[0].ID)
}

func TestUsernamesAreGlobal(t *testing.T) {
	dbtest.Setup(t)
	_, ctxA := dbtest.NewFactory(t, "East")
	_, ctxB := dbtest.NewFactory(t, "West")

	_, err := models.CreateUser(ctxA, &models.NewUser{Username: "owner", Name: "Owner", Password: "secret1", Role: models.UserRoleOwner})
	require.NoError(t, err)
	_, err = models.CreateUser(ctxB, &models.NewUser{Username: "owner", Name: "Owner", Password: "secret1", Role: models.UserRoleOwner})
	assert.ErrorIs(t, err, utils.ErrorDuplicate)
}

func TestLoginListsPermissions(t *testing.T) {
	dbtest.Setup(t)
	factory, ctx := dbtest.NewFactory(t, "Login")

	role, err := models.CreateRole(ctx, &models.NewRole{Name: "Cashier"})
	require.NoError(t, err)
	_, err = models.SetCategoryPermissions(ctx, role.ID, "Cashbook", true)
	require.NoError(t, err)
	_, err = models.CreateUser(ctx, &models.NewUser{Username: "cashier", Name: "Cashier", Password: "secret1", RoleId: role.ID})
	require.NoError(t, err)

	info, err := models.Login(ctx, "cashier", "secret1")
	require.NoError(t, err)
	assert.Equal(t, factory.ID, info.FactoryId)
	assert.Equal(t, "Cashier", info.Role)
	assert.Contains(t, info.Permissions, "cashbook.write")
	assert.NotContains(t, info.Permissions, "expenses.read")
	assert.NotEmpty(t, info.Token)

	_, err = models.Login(ctx, "cashier", "wrong-password")
	assert.ErrorIs(t, err, models.ErrorInvalidLogin)
	_, err = models.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, models.ErrorInvalidLogin)
}
