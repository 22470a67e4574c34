package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/garment_backend/models"
)

func GetLine(ctx context.Context, id int) (*models.Line, error) {
	return For(ctx).LineLoader.Load(ctx, id)()
}

// GetLines keeps the order of ids.
func GetLines(ctx context.Context, ids []int) ([]*models.Line, []error) {
	return For(ctx).LineLoader.LoadMany(ctx, ids)()
}

func GetStyles(ctx context.Context, ids []int) ([]*models.Style, []error) {
	return For(ctx).StyleLoader.LoadMany(ctx, ids)()
}

func GetRoles(ctx context.Context, ids []int) ([]*models.Role, []error) {
	return For(ctx).RoleLoader.LoadMany(ctx, ids)()
}

func GetExpenseCategories(ctx context.Context, ids []int) ([]*models.ExpenseCategory, []error) {
	return For(ctx).ExpenseCategoryLoader.LoadMany(ctx, ids)()
}
