// seed-admin creates or resets the platform admin user and, on an empty database,
// the first factory it belongs to.
//
// Usage:
//
//	DB_DRIVER=postgres DB_HOST=... ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "garmentAdmin"
	defaultAdminName     = "Garment Admin"
	defaultFactoryName   = "Main Factory"
)

func envOr(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}
	// also syncs the permission catalog
	if err := models.MigrateTable(); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	username := envOr("ADMIN_USERNAME", defaultAdminUsername)
	password := os.Getenv("ADMIN_PASSWORD")
	if len(password) < utils.MinPasswordLength {
		fmt.Fprintf(os.Stderr, "ADMIN_PASSWORD must be at least %d characters\n", utils.MinPasswordLength)
		os.Exit(2)
	}

	factories, err := models.ListFactories(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list factories: %v\n", err)
		os.Exit(1)
	}
	var factory *models.Factory
	if len(factories) > 0 {
		factory = factories[0]
	} else {
		factory, err = models.CreateFactory(ctx, &models.NewFactory{Name: envOr("FACTORY_NAME", defaultFactoryName)})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create factory: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created factory %q (%s)\n", factory.Name, factory.ID)
	}

	ctx = utils.SystemContext(ctx, factory.ID, "Seed")
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, err := models.CreateUser(ctx, &models.NewUser{
			Username: username,
			Name:     defaultAdminName,
			Password: password,
			Role:     models.UserRoleAdmin,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", username)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
		os.Exit(1)
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"password":  string(hashed),
		"is_active": true,
		"role_id":   0,
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	if err := existing.DestroyAllSessions(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clear sessions: %v\n", err)
	}
	_ = existing.RemoveAllRedis()
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", username)
}
