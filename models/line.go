package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
)

type Line struct {
	ID         int       `gorm:"primary_key" json:"id"`
	FactoryId  string    `gorm:"size:64;index;not null;uniqueIndex:idx_line_name,priority:1" json:"factory_id"`
	Name       string    `gorm:"size:100;not null;uniqueIndex:idx_line_name,priority:2" json:"name"`
	Supervisor string    `gorm:"size:100" json:"supervisor"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLine struct {
	Name       string `json:"name" validate:"required,max=100"`
	Supervisor string `json:"supervisor" validate:"max=100"`
}

func (l Line) GetFactoryId() string { return l.FactoryId }

func (input *NewLine) validate(ctx context.Context, factoryId string, exceptId int) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	return utils.ValidateUnique[Line](ctx, factoryId, "name", input.Name, exceptId)
}

func CreateLine(ctx context.Context, input *NewLine) (*Line, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, 0); err != nil {
		return nil, err
	}
	line := Line{
		FactoryId:  factoryId,
		Name:       input.Name,
		Supervisor: input.Supervisor,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&line).Error
	if err == nil {
		err = saveChange(tx, "lines", line.ID, EventActionCreate, line, nil, "created line "+line.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := line.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &line, nil
}

func UpdateLine(ctx context.Context, id int, input *NewLine) (*Line, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[Line](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, id); err != nil {
		return nil, err
	}
	after := *before
	after.Name = input.Name
	after.Supervisor = input.Supervisor

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&after).Updates(map[string]interface{}{
		"Name":       after.Name,
		"Supervisor": after.Supervisor,
	}).Error
	if err == nil {
		err = saveChange(tx, "lines", id, EventActionUpdate, after, before, "updated line "+after.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(after); err != nil {
		return nil, err
	}
	return &after, nil
}

func DeleteLine(ctx context.Context, id int) (*Line, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[Line](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := ensureUnreferenced(db, factoryId, "line_id", id, "line is used by production records",
		&CuttingEntry{}, &Target{}, &PieceworkEntry{}, &CashbookEntry{}, &Expense{}); err != nil {
		return nil, err
	}

	tx := db.Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "lines", id, EventActionDelete, nil, result, "deleted line "+result.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return result, nil
}

func GetLine(ctx context.Context, id int) (*Line, error) {
	return GetResource[Line](ctx, id)
}

func ListLines(ctx context.Context) ([]*Line, error) {
	return ListAllResource[Line](ctx, "name")
}
