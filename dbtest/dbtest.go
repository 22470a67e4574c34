// Package dbtest opens a throwaway SQLite database wired into config for package tests.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Setup migrates a fresh database file and installs it as the global connection.
// Redis is disabled so caches and locks fall back to their in-process paths.
func Setup(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "garment.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := config.UseDB(conn); err != nil {
		t.Fatalf("install db: %v", err)
	}
	config.UseRedis(nil)
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// TestUserId is the acting user id of UserContext. It never matches a created row in small tests.
const TestUserId = 1000

// UserContext carries the identity that history rows and tenant scoping read.
func UserContext(factoryId string) context.Context {
	ctx := context.Background()
	ctx = utils.SetFactoryIdInContext(ctx, factoryId)
	ctx = utils.SetUserIdInContext(ctx, TestUserId)
	ctx = utils.SetUserNameInContext(ctx, "Tester")
	ctx = utils.SetUsernameInContext(ctx, "tester")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-correlation")
	return ctx
}

// NewFactory creates a factory and returns a user context scoped to it.
func NewFactory(t testing.TB, name string) (*models.Factory, context.Context) {
	t.Helper()
	factory, err := models.CreateFactory(context.Background(), &models.NewFactory{Name: name})
	if err != nil {
		t.Fatalf("create factory: %v", err)
	}
	return factory, UserContext(factory.ID)
}

// Date is a calendar date literal for inputs.
func Date(s string) models.MyDateString {
	d, err := models.ParseDateString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func MustLine(t testing.TB, ctx context.Context, name string) *models.Line {
	t.Helper()
	line, err := models.CreateLine(ctx, &models.NewLine{Name: name})
	if err != nil {
		t.Fatalf("create line: %v", err)
	}
	return line
}

func MustStyle(t testing.TB, ctx context.Context, styleNo string, unitPrice int64) *models.Style {
	t.Helper()
	style, err := models.CreateStyle(ctx, &models.NewStyle{StyleNo: styleNo, UnitPrice: decimal.NewFromInt(unitPrice)})
	if err != nil {
		t.Fatalf("create style: %v", err)
	}
	return style
}

// Dec parses a decimal literal, panicking on bad input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
