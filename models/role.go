package models

import (
	"context"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

type Role struct {
	ID        int       `gorm:"primary_key" json:"id"`
	FactoryId string    `gorm:"size:64;not null;uniqueIndex:idx_role_name,priority:1" json:"factory_id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex:idx_role_name,priority:2" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r Role) GetFactoryId() string { return r.FactoryId }

// RolePermission pairs are unique by primary key.
type RolePermission struct {
	FactoryId    string    `gorm:"primary_key;size:64;autoIncrement:false;not null" json:"factory_id"`
	RoleId       int       `gorm:"primary_key;autoIncrement:false;not null" json:"role_id"`
	PermissionId int       `gorm:"primary_key;autoIncrement:false;not null" json:"permission_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewRole struct {
	Name          string `json:"name" validate:"required,max=100"`
	PermissionIds []int  `json:"permission_ids"`
}

type RoleDetail struct {
	Role
	PermissionIds []int `json:"permission_ids"`
}

// SelectCategory checks or clears every permission of category and leaves the rest of current untouched.
func SelectCategory(current []int, catalog []*Permission, category string, selected bool) []int {
	inCategory := map[int]bool{}
	for _, p := range catalog {
		if p.Category == category {
			inCategory[p.ID] = true
		}
	}
	set := map[int]bool{}
	for _, id := range current {
		if !inCategory[id] {
			set[id] = true
		}
	}
	if selected {
		for id := range inCategory {
			set[id] = true
		}
	} else {
		for _, id := range current {
			if inCategory[id] {
				delete(set, id)
			}
		}
	}
	results := make([]int, 0, len(set))
	for id := range set {
		results = append(results, id)
	}
	sort.Ints(results)
	return results
}

// normalizePermissionIds dedupes and sorts ids, rejecting any that are not in the catalog.
func normalizePermissionIds(ctx context.Context, ids []int) ([]int, error) {
	unique := utils.UniqueSlice(ids)
	sort.Ints(unique)
	if len(unique) == 0 {
		return unique, nil
	}
	catalog, err := ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[int]bool, len(catalog))
	for _, p := range catalog {
		known[p.ID] = true
	}
	for _, id := range unique {
		if !known[id] {
			return nil, utils.NewFieldError("permission_ids", "unknown permission id")
		}
	}
	return unique, nil
}

func rolePermissionIds(db *gorm.DB, factoryId string, roleId int) ([]int, error) {
	ids := make([]int, 0)
	err := db.Model(&RolePermission{}).
		Where("factory_id = ? AND role_id = ?", factoryId, roleId).
		Order("permission_id").
		Pluck("permission_id", &ids).Error
	return ids, err
}

// replaceRolePermissions rewrites the role's pairs inside tx.
func replaceRolePermissions(tx *gorm.DB, factoryId string, roleId int, permissionIds []int) error {
	if err := tx.Where("factory_id = ? AND role_id = ?", factoryId, roleId).Delete(&RolePermission{}).Error; err != nil {
		return err
	}
	if len(permissionIds) == 0 {
		return nil
	}
	pairs := make([]*RolePermission, 0, len(permissionIds))
	for _, id := range permissionIds {
		pairs = append(pairs, &RolePermission{FactoryId: factoryId, RoleId: roleId, PermissionId: id})
	}
	return tx.Create(&pairs).Error
}

func CreateRole(ctx context.Context, input *NewRole) (*RoleDetail, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Role](ctx, factoryId, "name", input.Name, 0); err != nil {
		return nil, err
	}
	permissionIds, err := normalizePermissionIds(ctx, input.PermissionIds)
	if err != nil {
		return nil, err
	}

	role := Role{FactoryId: factoryId, Name: input.Name}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&role).Error
	if err == nil {
		err = replaceRolePermissions(tx, factoryId, role.ID, permissionIds)
	}
	detail := RoleDetail{Role: role, PermissionIds: permissionIds}
	if err == nil {
		err = saveChange(tx, "roles", role.ID, EventActionCreate, detail, nil, "created role "+role.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(role); err != nil {
		return nil, err
	}
	return &detail, nil
}

func UpdateRole(ctx context.Context, id int, input *NewRole) (*RoleDetail, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Role](ctx, factoryId, "name", input.Name, id); err != nil {
		return nil, err
	}
	permissionIds, err := normalizePermissionIds(ctx, input.PermissionIds)
	if err != nil {
		return nil, err
	}

	after := RoleDetail{Role: before.Role, PermissionIds: permissionIds}
	after.Name = input.Name

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&Role{}).Where("factory_id = ? AND id = ?", factoryId, id).UpdateColumn("name", input.Name).Error
	if err == nil {
		err = replaceRolePermissions(tx, factoryId, id, permissionIds)
	}
	if err == nil {
		err = saveChange(tx, "roles", id, EventActionUpdate, after, before, "updated role "+after.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(after.Role); err != nil {
		return nil, err
	}
	return &after, nil
}

// SetCategoryPermissions selects or deselects every permission of one category for a role.
func SetCategoryPermissions(ctx context.Context, roleId int, category string, selected bool) (*RoleDetail, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := GetRole(ctx, roleId)
	if err != nil {
		return nil, err
	}
	catalog, err := ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, p := range catalog {
		if p.Category == category {
			found = true
			break
		}
	}
	if !found {
		return nil, utils.NewFieldError("category", "unknown permission category")
	}

	after := RoleDetail{Role: before.Role, PermissionIds: SelectCategory(before.PermissionIds, catalog, category, selected)}
	action := "deselected"
	if selected {
		action = "selected"
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = replaceRolePermissions(tx, factoryId, roleId, after.PermissionIds)
	if err == nil {
		err = saveChange(tx, "roles", roleId, EventActionUpdate, after, before, action+" all "+category+" permissions")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(after.Role); err != nil {
		return nil, err
	}
	return &after, nil
}

func DeleteRole(ctx context.Context, id int) (*RoleDetail, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := ensureUnreferenced(db, factoryId, "role_id", id, "role is assigned to users", &User{}); err != nil {
		return nil, err
	}

	tx := db.Begin()
	err = tx.Where("factory_id = ? AND role_id = ?", factoryId, id).Delete(&RolePermission{}).Error
	if err == nil {
		err = tx.Where("factory_id = ? AND id = ?", factoryId, id).Delete(&Role{}).Error
	}
	if err == nil {
		err = saveChange(tx, "roles", id, EventActionDelete, nil, result, "deleted role "+result.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(result.Role); err != nil {
		return nil, err
	}
	return result, nil
}

func GetRole(ctx context.Context, id int) (*RoleDetail, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	role, err := utils.FetchModel[Role](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	ids, err := rolePermissionIds(config.GetDB().WithContext(ctx), factoryId, id)
	if err != nil {
		return nil, err
	}
	return &RoleDetail{Role: *role, PermissionIds: ids}, nil
}

func ListRoles(ctx context.Context) ([]*RoleDetail, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := ListAllResource[Role](ctx, "name")
	if err != nil {
		return nil, err
	}
	var pairs []*RolePermission
	if err := config.GetDB().WithContext(ctx).
		Where("factory_id = ?", factoryId).
		Order("role_id, permission_id").
		Find(&pairs).Error; err != nil {
		return nil, err
	}
	byRole := map[int][]int{}
	for _, p := range pairs {
		byRole[p.RoleId] = append(byRole[p.RoleId], p.PermissionId)
	}
	results := make([]*RoleDetail, 0, len(roles))
	for _, r := range roles {
		ids := byRole[r.ID]
		if ids == nil {
			ids = []int{}
		}
		results = append(results, &RoleDetail{Role: *r, PermissionIds: ids})
	}
	return results, nil
}

// GetAllowedPermissions returns the permission names granted to a role, cached per role.
func GetAllowedPermissions(ctx context.Context, roleId int) (map[string]bool, error) {
	var allowed map[string]bool
	exists, err := config.GetRedisObject(utils.PermissionCacheKey(roleId), &allowed)
	if err != nil {
		return nil, err
	}
	if exists {
		return allowed, nil
	}

	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := config.GetDB().WithContext(ctx).
		Table("role_permissions").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.factory_id = ? AND role_permissions.role_id = ?", factoryId, roleId).
		Pluck("permissions.name", &names).Error; err != nil {
		return nil, err
	}
	allowed = make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	if err := config.SetRedisObject(utils.PermissionCacheKey(roleId), &allowed, 0); err != nil {
		return nil, err
	}
	return allowed, nil
}
