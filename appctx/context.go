// Package appctx holds the request scoped values shared by config, utils and middlewares.
// It imports nothing from the module so every layer can depend on it.
package appctx

import "context"

type key int

const (
	keyToken key = iota
	keyFactoryId
	keyUsername
	keyUserId
	keyUserName
	keyRoleId
	keyUserRole
	keyCorrelationId
	keyIsAdmin
	keySkipTenantScope
)

// Key names a request value.
type Key = key

const (
	Token         Key = keyToken
	FactoryId     Key = keyFactoryId
	Username      Key = keyUsername
	UserId        Key = keyUserId
	UserName      Key = keyUserName
	RoleId        Key = keyRoleId
	// UserRole is the built-in role code of the caller: A, O or C.
	UserRole      Key = keyUserRole
	CorrelationId Key = keyCorrelationId
	// IsAdmin marks platform admin requests on /api/admin/factories.
	IsAdmin Key = keyIsAdmin
	// SkipTenantScope disables the factory_id guard for jobs that filter by factory themselves.
	SkipTenantScope Key = keySkipTenantScope
)

func With(ctx context.Context, k Key, value any) context.Context {
	return context.WithValue(ctx, k, value)
}

func String(ctx context.Context, k Key) (string, bool) {
	v, ok := ctx.Value(k).(string)
	return v, ok
}

func Int(ctx context.Context, k Key) (int, bool) {
	v, ok := ctx.Value(k).(int)
	return v, ok
}

func Flag(ctx context.Context, k Key) bool {
	v, _ := ctx.Value(k).(bool)
	return v
}

// Factory returns the tenant of the request, "" when there is none.
func Factory(ctx context.Context) string {
	v, _ := String(ctx, FactoryId)
	return v
}

// Unscoped reports whether queries may run across factories.
func Unscoped(ctx context.Context) bool {
	return Flag(ctx, SkipTenantScope) || Flag(ctx, IsAdmin)
}
