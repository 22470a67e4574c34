package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

type PieceworkEntry struct {
	ID         int       `gorm:"primary_key" json:"id"`
	FactoryId  string    `gorm:"size:64;not null;index:idx_piecework_date,priority:1" json:"factory_id"`
	WorkDate   time.Time `gorm:"not null;index:idx_piecework_date,priority:2" json:"work_date"`
	WorkerName string    `gorm:"size:100;not null;index" json:"worker_name"`
	LineId     int       `gorm:"not null;index" json:"line_id"`
	StyleId    int       `gorm:"not null;index" json:"style_id"`
	Operation  string    `gorm:"size:100;not null" json:"operation"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p PieceworkEntry) GetFactoryId() string     { return p.FactoryId }
func (p PieceworkEntry) GetCursorTime() time.Time { return p.WorkDate }
func (p PieceworkEntry) GetId() int               { return p.ID }

type NewPieceworkEntry struct {
	WorkDate   MyDateString `json:"work_date" validate:"required"`
	WorkerName string       `json:"worker_name" validate:"required,max=100"`
	LineId     int          `json:"line_id" validate:"required"`
	StyleId    int          `json:"style_id" validate:"required"`
	Operation  string       `json:"operation" validate:"required,max=100"`
	Quantity   int          `json:"quantity" validate:"gt=0"`
}

type PieceworkFilter struct {
	DateRange
	WorkerName string
	LineId     *int
	StyleId    *int
}

func (input *NewPieceworkEntry) validate(ctx context.Context, factoryId string) error {
	input.WorkerName = strings.TrimSpace(input.WorkerName)
	input.Operation = strings.TrimSpace(input.Operation)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[Line](ctx, factoryId, input.LineId); err != nil {
		return utils.NewFieldError("line_id", "line not found")
	}
	if err := utils.ValidateResourceId[Style](ctx, factoryId, input.StyleId); err != nil {
		return utils.NewFieldError("style_id", "style not found")
	}
	return nil
}

func CreatePieceworkEntry(ctx context.Context, input *NewPieceworkEntry) (*PieceworkEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId); err != nil {
		return nil, err
	}
	entry := PieceworkEntry{
		FactoryId:  factoryId,
		WorkDate:   NormalizeDate(input.WorkDate.Time()),
		WorkerName: input.WorkerName,
		LineId:     input.LineId,
		StyleId:    input.StyleId,
		Operation:  input.Operation,
		Quantity:   input.Quantity,
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&entry).Error
	if err == nil {
		err = saveChange(tx, "piecework_entries", entry.ID, EventActionCreate, entry, nil, "recorded piecework for "+entry.WorkerName)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreatePieceworkEntry")
	return &entry, nil
}

func UpdatePieceworkEntry(ctx context.Context, id int, input *NewPieceworkEntry) (*PieceworkEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[PieceworkEntry](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId); err != nil {
		return nil, err
	}
	after := *before
	after.WorkDate = NormalizeDate(input.WorkDate.Time())
	after.WorkerName = input.WorkerName
	after.LineId = input.LineId
	after.StyleId = input.StyleId
	after.Operation = input.Operation
	after.Quantity = input.Quantity

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&PieceworkEntry{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
		"WorkDate":   after.WorkDate,
		"WorkerName": after.WorkerName,
		"LineId":     after.LineId,
		"StyleId":    after.StyleId,
		"Operation":  after.Operation,
		"Quantity":   after.Quantity,
	}).Error
	if err == nil {
		err = saveChange(tx, "piecework_entries", id, EventActionUpdate, after, before, "updated piecework for "+after.WorkerName)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdatePieceworkEntry")
	return &after, nil
}

func DeletePieceworkEntry(ctx context.Context, id int) (*PieceworkEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[PieceworkEntry](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "piecework_entries", id, EventActionDelete, nil, result, "deleted piecework for "+result.WorkerName)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeletePieceworkEntry")
	return result, nil
}

func (f *PieceworkFilter) apply(dbCtx *gorm.DB) (*gorm.DB, error) {
	from, to, err := f.DateBounds()
	if err != nil {
		return nil, err
	}
	if from != nil {
		dbCtx = dbCtx.Where("work_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("work_date <= ?", *to)
	}
	if f.WorkerName != "" {
		dbCtx = dbCtx.Where("worker_name = ?", f.WorkerName)
	}
	if f.LineId != nil {
		dbCtx = dbCtx.Where("line_id = ?", *f.LineId)
	}
	if f.StyleId != nil {
		dbCtx = dbCtx.Where("style_id = ?", *f.StyleId)
	}
	return dbCtx, nil
}

func ListPieceworkEntries(ctx context.Context, filter *PieceworkFilter, limit int, after string) (*Page[PieceworkEntry], error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &PieceworkFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Model(&PieceworkEntry{}).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	return FetchPageCompositeCursor[PieceworkEntry](dbCtx, limit, after, "work_date", "<")
}

func ListAllPieceworkEntries(ctx context.Context, filter *PieceworkFilter) ([]*PieceworkEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &PieceworkFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	var results []*PieceworkEntry
	err = dbCtx.Order("work_date, id").Find(&results).Error
	return results, err
}
