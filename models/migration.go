package models

import (
	"bitbucket.org/mmdatafocus/garment_backend/config"
)

// AllModels lists every table owned by the application, parents first.
func AllModels() []interface{} {
	return []interface{}{
		&Factory{}, &Permission{}, &Role{}, &RolePermission{}, &User{},
		&Line{}, &Style{}, &ExpenseCategory{},
		&CashbookEntry{}, &Expense{}, &CuttingEntry{}, &Shipment{}, &Target{},
		&SalaryRate{}, &PieceworkEntry{},
		&BackupRecord{}, &BackupSchedule{},
		&History{}, &EventOutbox{},
	}
}

func MigrateTable() error {
	db := config.GetDB()

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	if err := SyncPermissionCatalog(db); err != nil {
		return err
	}
	return config.RemoveRedisKey("PermissionCatalog")
}
