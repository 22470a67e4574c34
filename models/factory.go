package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/google/uuid"
)

type Factory struct {
	ID             string    `gorm:"primary_key;size:64" json:"id"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	Email          string    `gorm:"size:100" json:"email"`
	Phone          string    `gorm:"size:30" json:"phone"`
	Address        string    `gorm:"type:text" json:"address"`
	Timezone       string    `gorm:"size:64;not null;default:'Asia/Yangon'" json:"timezone"`
	CurrencySymbol string    `gorm:"size:10;not null;default:'MMK'" json:"currency_symbol"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewFactory struct {
	Name           string `json:"name" validate:"required,max=255"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	Timezone       string `json:"timezone"`
	CurrencySymbol string `json:"currency_symbol" validate:"max=10"`
}

var defaultExpenseCategories = []string{
	"Raw Material", "Accessories", "Electricity", "Rent", "Transport", "Maintenance", "Office", "Other",
}

func (input *NewFactory) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.NewFieldError("email", "invalid email address")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewFieldError("phone", err.Error())
		}
	}
	if input.Timezone == "" {
		input.Timezone = config.DefaultTimezone
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return utils.NewFieldError("timezone", "unknown timezone")
	}
	if input.CurrencySymbol == "" {
		input.CurrencySymbol = "MMK"
	}
	return nil
}

// CreateFactory registers a new tenant and seeds its default expense categories.
func CreateFactory(ctx context.Context, input *NewFactory) (*Factory, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	factory := Factory{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(input.Name),
		Email:          strings.ToLower(input.Email),
		Phone:          input.Phone,
		Address:        input.Address,
		Timezone:       input.Timezone,
		CurrencySymbol: input.CurrencySymbol,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Create(&factory).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, name := range defaultExpenseCategories {
		category := ExpenseCategory{FactoryId: factory.ID, Name: name, IsActive: utils.NewTrue()}
		if err := tx.Create(&category).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &factory, nil
}

// GetFactory returns the caller's factory, cached in redis.
func GetFactory(ctx context.Context) (*Factory, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return GetFactoryById(ctx, factoryId)
}

func GetFactoryById(ctx context.Context, factoryId string) (*Factory, error) {
	var factory Factory
	exists, err := config.GetRedisObject("Factory:"+factoryId, &factory)
	if err != nil {
		return nil, err
	}
	if exists {
		return &factory, nil
	}
	if err := config.GetDB().WithContext(ctx).Where("id = ?", factoryId).First(&factory).Error; err != nil {
		return nil, utils.NormalizeDBError(err)
	}
	if err := config.SetRedisObject("Factory:"+factoryId, &factory, utils.GetCacheLifespan()); err != nil {
		return nil, err
	}
	return &factory, nil
}

// FactoryTimezone returns the timezone for report bucketing, defaulting when unset.
func FactoryTimezone(ctx context.Context) string {
	factory, err := GetFactory(ctx)
	if err != nil || factory.Timezone == "" {
		return config.DefaultTimezone
	}
	return factory.Timezone
}

func UpdateFactory(ctx context.Context, input *NewFactory) (*Factory, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	before, err := GetFactoryById(ctx, factoryId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&Factory{}).Where("id = ?", factoryId).Updates(map[string]interface{}{
		"Name":           strings.TrimSpace(input.Name),
		"Email":          strings.ToLower(input.Email),
		"Phone":          input.Phone,
		"Address":        input.Address,
		"Timezone":       input.Timezone,
		"CurrencySymbol": input.CurrencySymbol,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx, "UPDATE", 0, "factories", before, input, "updated factory profile"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*before); err != nil {
		return nil, err
	}
	return GetFactoryById(ctx, factoryId)
}

// ListFactories is used by schedulers and admin tooling.
func ListFactories(ctx context.Context) ([]*Factory, error) {
	var results []*Factory
	err := config.GetDB().WithContext(ctx).Where("is_active = ?", true).Order("created_at").Find(&results).Error
	return results, err
}
