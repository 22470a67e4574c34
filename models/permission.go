package models

import (
	"context"
	_ "embed"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed permissions.yaml
var permissionCatalogYAML []byte

// Permission is global; roles reference it through RolePermission.
type Permission struct {
	ID          int    `gorm:"primary_key;autoIncrement:false" json:"id" yaml:"id"`
	Name        string `gorm:"size:100;not null;unique" json:"name" yaml:"name"`
	Category    string `gorm:"size:100;not null;index" json:"category" yaml:"category"`
	Description string `gorm:"size:255" json:"description" yaml:"description"`
}

type PermissionCategory struct {
	Category    string        `json:"category"`
	Permissions []*Permission `json:"permissions"`
}

// LoadPermissionCatalog parses the embedded catalog.
func LoadPermissionCatalog() ([]*Permission, error) {
	var doc struct {
		Permissions []*Permission `yaml:"permissions"`
	}
	if err := yaml.Unmarshal(permissionCatalogYAML, &doc); err != nil {
		return nil, err
	}
	return doc.Permissions, nil
}

// SyncPermissionCatalog upserts the embedded catalog into the permissions table.
func SyncPermissionCatalog(db *gorm.DB) error {
	catalog, err := LoadPermissionCatalog()
	if err != nil {
		return err
	}
	if len(catalog) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "description"}),
	}).Create(&catalog).Error
}

func ListPermissions(ctx context.Context) ([]*Permission, error) {
	var results []*Permission
	var cached []*Permission
	exists, err := config.GetRedisObject("PermissionCatalog", &cached)
	if err != nil {
		return nil, err
	}
	if exists {
		return cached, nil
	}
	if err := config.GetDB().WithContext(ctx).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	if err := config.SetRedisObject("PermissionCatalog", &results, 0); err != nil {
		return nil, err
	}
	return results, nil
}

// GroupPermissionsByCategory keeps catalog order inside each category.
func GroupPermissionsByCategory(catalog []*Permission) []*PermissionCategory {
	index := map[string]*PermissionCategory{}
	var results []*PermissionCategory
	for _, p := range catalog {
		group, ok := index[p.Category]
		if !ok {
			group = &PermissionCategory{Category: p.Category}
			index[p.Category] = group
			results = append(results, group)
		}
		group.Permissions = append(group.Permissions, p)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return strings.ToLower(results[i].Category) < strings.ToLower(results[j].Category)
	})
	return results
}

func ListPermissionsByCategory(ctx context.Context) ([]*PermissionCategory, error) {
	catalog, err := ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return GroupPermissionsByCategory(catalog), nil
}

// PermissionSatisfied reports whether the granted set allows required.
// A ".write" grant also allows the matching ".read".
func PermissionSatisfied(granted map[string]bool, required string) bool {
	if granted[required] {
		return true
	}
	if prefix, ok := strings.CutSuffix(required, ".read"); ok {
		return granted[prefix+".write"]
	}
	return false
}
