package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TenantGuardPlugin scopes queries, updates and deletes to the request's factory_id
// whenever the model carries a factory_id column.
//
// Raw SQL is not rewritten; report queries add factory_id themselves.
// Admin and internal jobs bypass it through context flags.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("tenant_guard:query", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("tenant_guard:row", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenant_guard:update", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("tenant_guard:delete", tenantGuardCallback); err != nil {
		return err
	}
	return nil
}

func tenantGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassTenantScope(ctx) {
		return
	}
	factoryID := factoryIdFromContext(ctx)
	if factoryID == "" {
		return
	}

	// Only apply if the current model/table includes a factory_id column.
	if db.Statement.Schema == nil {
		return
	}
	hasFactoryID := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, "factory_id") {
			hasFactoryID = true
			break
		}
	}
	if !hasFactoryID {
		return
	}

	// Don't duplicate an explicit tenant filter.
	if whereHasFactoryID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "factory_id"},
				Value:  factoryID,
			},
		},
	})
}

func factoryIdFromContext(ctx context.Context) string {
	return appctx.Factory(ctx)
}

func shouldBypassTenantScope(ctx context.Context) bool {
	return appctx.Unscoped(ctx)
}

func whereHasFactoryID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasFactoryID(e) {
			return true
		}
	}
	return false
}

func exprHasFactoryID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsFactoryID(v.Column)
	case clause.Neq:
		return colIsFactoryID(v.Column)
	case clause.Gt:
		return colIsFactoryID(v.Column)
	case clause.Gte:
		return colIsFactoryID(v.Column)
	case clause.Lt:
		return colIsFactoryID(v.Column)
	case clause.Lte:
		return colIsFactoryID(v.Column)
	case clause.IN:
		return colIsFactoryID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasFactoryID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasFactoryID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), "factory_id")
	default:
		return false
	}
}

func colIsFactoryID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "factory_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "factory_id")
	default:
		return false
	}
}
