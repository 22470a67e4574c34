package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/garment_backend/appctx"
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.String(ctx, appctx.Token)
}

func GetFactoryIdFromContext(ctx context.Context) (string, bool) {
	return appctx.String(ctx, appctx.FactoryId)
}

// RequireFactoryId returns the factory id or ErrorFactoryIdEmpty.
func RequireFactoryId(ctx context.Context) (string, error) {
	factoryId := appctx.Factory(ctx)
	if factoryId == "" {
		return "", ErrorFactoryIdEmpty
	}
	return factoryId, nil
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.String(ctx, appctx.Username)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.Int(ctx, appctx.UserId)
}

// GetUserNameFromContext is the display name written to history rows.
func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.String(ctx, appctx.UserName)
}

func GetUserRoleFromContext(ctx context.Context) string {
	role, _ := appctx.String(ctx, appctx.UserRole)
	return role
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.String(ctx, appctx.CorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.With(ctx, appctx.Token, token)
}

func SetFactoryIdInContext(ctx context.Context, factoryId string) context.Context {
	return appctx.With(ctx, appctx.FactoryId, factoryId)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.With(ctx, appctx.Username, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.With(ctx, appctx.UserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.With(ctx, appctx.UserName, userName)
}

func SetRoleIdInContext(ctx context.Context, roleId int) context.Context {
	return appctx.With(ctx, appctx.RoleId, roleId)
}

func SetUserRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.With(ctx, appctx.UserRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.With(ctx, appctx.CorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.With(ctx, appctx.IsAdmin, isAdmin)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.With(ctx, appctx.SkipTenantScope, skip)
}

// systemRole is the admin role code; jobs and operator commands act as admins of their factory.
const systemRole = "A"

// SystemContext builds a context for background jobs acting on one factory.
func SystemContext(parent context.Context, factoryId string, userName string) context.Context {
	ctx := SetFactoryIdInContext(parent, factoryId)
	ctx = SetUserIdInContext(ctx, 0)
	ctx = SetUserNameInContext(ctx, userName)
	ctx = SetUserRoleInContext(ctx, systemRole)
	return ctx
}
