package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type SalaryRate struct {
	ID            int             `gorm:"primary_key" json:"id"`
	FactoryId     string          `gorm:"size:64;not null;uniqueIndex:idx_salary_rate_key,priority:1" json:"factory_id"`
	StyleId       int             `gorm:"not null;uniqueIndex:idx_salary_rate_key,priority:2" json:"style_id"`
	Operation     string          `gorm:"size:100;not null;uniqueIndex:idx_salary_rate_key,priority:3" json:"operation"`
	RatePerPiece  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"rate_per_piece"`
	EffectiveFrom time.Time       `gorm:"not null;uniqueIndex:idx_salary_rate_key,priority:4" json:"effective_from"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r SalaryRate) GetFactoryId() string { return r.FactoryId }

type NewSalaryRate struct {
	StyleId       int             `json:"style_id" validate:"required"`
	Operation     string          `json:"operation" validate:"required,max=100"`
	RatePerPiece  decimal.Decimal `json:"rate_per_piece"`
	EffectiveFrom MyDateString    `json:"effective_from" validate:"required"`
	IsActive      *bool           `json:"is_active"`
}

type SalaryRateFilter struct {
	StyleId   *int
	Operation string
	IsActive  *bool
}

func salaryRateCacheKey(factoryId string, styleId int, operation string, date time.Time) string {
	return fmt.Sprintf("SalaryRate:%s:%d:%s:%s", factoryId, styleId, operationKey(operation), dayKey(date))
}

// operationKey is how operation names are compared: trimmed and case-folded.
func operationKey(operation string) string {
	return strings.ToLower(strings.TrimSpace(operation))
}

// PickEffectiveRate returns the active rate with the latest effective_from on or before date.
func PickEffectiveRate(rates []*SalaryRate, styleId int, operation string, date time.Time) *SalaryRate {
	date = NormalizeDate(date)
	var picked *SalaryRate
	for _, r := range rates {
		if r.StyleId != styleId || !strings.EqualFold(r.Operation, operation) {
			continue
		}
		if r.IsActive != nil && !*r.IsActive {
			continue
		}
		if r.EffectiveFrom.After(date) {
			continue
		}
		if picked == nil || r.EffectiveFrom.After(picked.EffectiveFrom) {
			picked = r
		}
	}
	return picked
}

func (input *NewSalaryRate) validate(ctx context.Context, factoryId string, exceptId int) error {
	input.Operation = strings.TrimSpace(input.Operation)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.RatePerPiece.IsPositive() {
		return utils.NewFieldError("rate_per_piece", "must be greater than 0")
	}
	if err := utils.ValidateResourceId[Style](ctx, factoryId, input.StyleId); err != nil {
		return utils.NewFieldError("style_id", "style not found")
	}
	condition := "style_id = ? AND LOWER(operation) = ? AND effective_from = ?"
	args := []interface{}{input.StyleId, operationKey(input.Operation), NormalizeDate(input.EffectiveFrom.Time())}
	if exceptId > 0 {
		condition += " AND id <> ?"
		args = append(args, exceptId)
	}
	count, err := utils.ResourceCountWhere[SalaryRate](ctx, factoryId, condition, args...)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.DuplicateError("rate for this style, operation and effective date")
	}
	return nil
}

func CreateSalaryRate(ctx context.Context, input *NewSalaryRate) (*SalaryRate, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, 0); err != nil {
		return nil, err
	}
	if input.IsActive == nil {
		input.IsActive = utils.NewTrue()
	}
	rate := SalaryRate{
		FactoryId:     factoryId,
		StyleId:       input.StyleId,
		Operation:     input.Operation,
		RatePerPiece:  input.RatePerPiece,
		EffectiveFrom: NormalizeDate(input.EffectiveFrom.Time()),
		IsActive:      input.IsActive,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&rate).Error
	if err == nil {
		err = saveChange(tx, "salary_rates", rate.ID, EventActionCreate, rate, nil, "created salary rate for "+rate.Operation)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreateSalaryRate")
	if err := rate.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &rate, nil
}

func UpdateSalaryRate(ctx context.Context, id int, input *NewSalaryRate) (*SalaryRate, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[SalaryRate](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, id); err != nil {
		return nil, err
	}
	if input.IsActive == nil {
		input.IsActive = before.IsActive
	}
	after := *before
	after.StyleId = input.StyleId
	after.Operation = input.Operation
	after.RatePerPiece = input.RatePerPiece
	after.EffectiveFrom = NormalizeDate(input.EffectiveFrom.Time())
	after.IsActive = input.IsActive

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&SalaryRate{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
		"StyleId":       after.StyleId,
		"Operation":     after.Operation,
		"RatePerPiece":  after.RatePerPiece,
		"EffectiveFrom": after.EffectiveFrom,
		"IsActive":      after.IsActive,
	}).Error
	if err == nil {
		err = saveChange(tx, "salary_rates", id, EventActionUpdate, after, before, "updated salary rate for "+after.Operation)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateSalaryRate")
	if err := RemoveRedisBoth(after); err != nil {
		return nil, err
	}
	return &after, nil
}

func DeleteSalaryRate(ctx context.Context, id int) (*SalaryRate, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[SalaryRate](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "salary_rates", id, EventActionDelete, nil, result, "deleted salary rate for "+result.Operation)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeleteSalaryRate")
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return result, nil
}

func GetSalaryRate(ctx context.Context, id int) (*SalaryRate, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[SalaryRate](ctx, factoryId, id)
}

func ListSalaryRates(ctx context.Context, filter *SalaryRateFilter) ([]*SalaryRate, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	if filter != nil {
		if filter.StyleId != nil {
			dbCtx = dbCtx.Where("style_id = ?", *filter.StyleId)
		}
		if filter.Operation != "" {
			dbCtx = dbCtx.Where("LOWER(operation) = ?", operationKey(filter.Operation))
		}
		if filter.IsActive != nil {
			dbCtx = dbCtx.Where("is_active = ?", *filter.IsActive)
		}
	}
	var results []*SalaryRate
	err = dbCtx.Order("style_id, operation, effective_from DESC").Find(&results).Error
	return results, err
}

// GetEffectiveRate returns the rate that applies to a piece of work on date.
func GetEffectiveRate(ctx context.Context, styleId int, operation string, date time.Time) (*SalaryRate, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	date = NormalizeDate(date)
	operation = operationKey(operation)
	cacheKey := salaryRateCacheKey(factoryId, styleId, operation, date)

	var rate SalaryRate
	exists, err := config.GetRedisObject(cacheKey, &rate)
	if err != nil {
		return nil, err
	}
	if exists {
		return &rate, nil
	}

	err = config.GetDB().WithContext(ctx).
		Where("factory_id = ? AND style_id = ? AND LOWER(operation) = ? AND is_active = ? AND effective_from <= ?",
			factoryId, styleId, operation, true, date).
		Order("effective_from DESC").
		First(&rate).Error
	if err != nil {
		return nil, utils.NormalizeDBError(err)
	}
	if err := config.SetRedisObject(cacheKey, &rate, utils.GetCacheLifespan()); err != nil {
		return nil, err
	}
	return &rate, nil
}
