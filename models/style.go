package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type Style struct {
	ID          int             `gorm:"primary_key" json:"id"`
	FactoryId   string          `gorm:"size:64;index;not null;uniqueIndex:idx_style_no,priority:1" json:"factory_id"`
	StyleNo     string          `gorm:"size:100;not null;uniqueIndex:idx_style_no,priority:2" json:"style_no"`
	BuyerName   string          `gorm:"size:255" json:"buyer_name"`
	Description string          `gorm:"type:text" json:"description"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStyle struct {
	StyleNo     string          `json:"style_no" validate:"required,max=100"`
	BuyerName   string          `json:"buyer_name" validate:"max=255"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (s Style) GetFactoryId() string { return s.FactoryId }

func (input *NewStyle) validate(ctx context.Context, factoryId string, exceptId int) error {
	input.StyleNo = strings.TrimSpace(input.StyleNo)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.UnitPrice.IsNegative() {
		return utils.NewFieldError("unit_price", "must not be negative")
	}
	return utils.ValidateUnique[Style](ctx, factoryId, "style_no", input.StyleNo, exceptId)
}

func CreateStyle(ctx context.Context, input *NewStyle) (*Style, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, 0); err != nil {
		return nil, err
	}
	style := Style{
		FactoryId:   factoryId,
		StyleNo:     input.StyleNo,
		BuyerName:   input.BuyerName,
		Description: input.Description,
		UnitPrice:   input.UnitPrice,
		IsActive:    utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&style).Error
	if err == nil {
		err = saveChange(tx, "styles", style.ID, EventActionCreate, style, nil, "created style "+style.StyleNo)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := style.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &style, nil
}

func UpdateStyle(ctx context.Context, id int, input *NewStyle) (*Style, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[Style](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, id); err != nil {
		return nil, err
	}
	after := *before
	after.StyleNo = input.StyleNo
	after.BuyerName = input.BuyerName
	after.Description = input.Description
	after.UnitPrice = input.UnitPrice

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&after).Updates(map[string]interface{}{
		"StyleNo":     after.StyleNo,
		"BuyerName":   after.BuyerName,
		"Description": after.Description,
		"UnitPrice":   after.UnitPrice,
	}).Error
	if err == nil {
		err = saveChange(tx, "styles", id, EventActionUpdate, after, before, "updated style "+after.StyleNo)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(after); err != nil {
		return nil, err
	}
	return &after, nil
}

func DeleteStyle(ctx context.Context, id int) (*Style, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[Style](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := ensureUnreferenced(db, factoryId, "style_id", id, "style is used by production records",
		&CuttingEntry{}, &Target{}, &Shipment{}, &SalaryRate{}, &PieceworkEntry{}); err != nil {
		return nil, err
	}

	tx := db.Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "styles", id, EventActionDelete, nil, result, "deleted style "+result.StyleNo)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return result, nil
}

func GetStyle(ctx context.Context, id int) (*Style, error) {
	return GetResource[Style](ctx, id)
}

func ListStyles(ctx context.Context) ([]*Style, error) {
	return ListAllResource[Style](ctx, "style_no")
}
