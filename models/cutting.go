package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

type CuttingEntry struct {
	ID        int       `gorm:"primary_key" json:"id"`
	FactoryId string    `gorm:"size:64;not null;index:idx_cutting_pair,priority:1;index:idx_cutting_date,priority:1" json:"factory_id"`
	EntryDate time.Time `gorm:"not null;index:idx_cutting_date,priority:2" json:"entry_date"`
	LineId    int       `gorm:"not null;index:idx_cutting_pair,priority:2" json:"line_id"`
	StyleId   int       `gorm:"not null;index:idx_cutting_pair,priority:3" json:"style_id"`
	Color     string    `gorm:"size:50" json:"color"`
	Size      string    `gorm:"size:20" json:"size"`
	InputQty  int       `gorm:"not null;default:0" json:"input_qty"`
	OutputQty int       `gorm:"not null;default:0" json:"output_qty"`
	Remark    string    `gorm:"type:text" json:"remark"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e CuttingEntry) GetFactoryId() string     { return e.FactoryId }
func (e CuttingEntry) GetCursorTime() time.Time { return e.EntryDate }
func (e CuttingEntry) GetId() int               { return e.ID }

type NewCuttingEntry struct {
	EntryDate MyDateString `json:"entry_date" validate:"required"`
	LineId    int          `json:"line_id" validate:"required"`
	StyleId   int          `json:"style_id" validate:"required"`
	Color     string       `json:"color" validate:"max=50"`
	Size      string       `json:"size" validate:"max=20"`
	InputQty  int          `json:"input_qty" validate:"gte=0"`
	OutputQty int          `json:"output_qty" validate:"gte=0"`
	Remark    string       `json:"remark"`
}

type CuttingFilter struct {
	DateRange
	LineId  *int
	StyleId *int
}

// CuttingBalance is the cumulative input and output of one line and style.
type CuttingBalance struct {
	LineId    int `json:"line_id"`
	StyleId   int `json:"style_id"`
	InputQty  int `json:"input_qty"`
	OutputQty int `json:"output_qty"`
}

func (b CuttingBalance) Wip() int { return b.InputQty - b.OutputQty }

func (input *NewCuttingEntry) validate(ctx context.Context, factoryId string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.InputQty == 0 && input.OutputQty == 0 {
		return utils.NewValidationError("input_qty or output_qty is required")
	}
	if err := utils.ValidateResourceId[Line](ctx, factoryId, input.LineId); err != nil {
		return utils.NewFieldError("line_id", "line not found")
	}
	if err := utils.ValidateResourceId[Style](ctx, factoryId, input.StyleId); err != nil {
		return utils.NewFieldError("style_id", "style not found")
	}
	return nil
}

func cuttingTotals(db *gorm.DB, factoryId string, lineId int, styleId int, excludeId int) (*CuttingBalance, error) {
	balance := CuttingBalance{LineId: lineId, StyleId: styleId}
	dbCtx := db.Model(&CuttingEntry{}).
		Select("COALESCE(SUM(input_qty), 0) AS input_qty, COALESCE(SUM(output_qty), 0) AS output_qty").
		Where("factory_id = ? AND line_id = ? AND style_id = ?", factoryId, lineId, styleId)
	if excludeId > 0 {
		dbCtx = dbCtx.Where("id <> ?", excludeId)
	}
	if err := dbCtx.Scan(&balance).Error; err != nil {
		return nil, err
	}
	balance.LineId = lineId
	balance.StyleId = styleId
	return &balance, nil
}

// checkCuttingBalance fails when output would exceed input for the pair.
func checkCuttingBalance(db *gorm.DB, factoryId string, lineId int, styleId int, excludeId int, addInput int, addOutput int) error {
	totals, err := cuttingTotals(db, factoryId, lineId, styleId, excludeId)
	if err != nil {
		return err
	}
	input := totals.InputQty + addInput
	output := totals.OutputQty + addOutput
	if output > input {
		return utils.NewFieldError("output_qty",
			"cumulative output would exceed cumulative input for this line and style")
	}
	return nil
}

func lockCutting(ctx context.Context, factoryId string, functionName string) (func(), error) {
	return utils.FactoryLock(ctx, factoryId, "Cutting", 30*time.Second, "models", functionName)
}

func CreateCuttingEntry(ctx context.Context, input *NewCuttingEntry) (*CuttingEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId); err != nil {
		return nil, err
	}
	release, err := lockCutting(ctx, factoryId, "CreateCuttingEntry")
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB().WithContext(ctx)
	if err := checkCuttingBalance(db, factoryId, input.LineId, input.StyleId, 0, input.InputQty, input.OutputQty); err != nil {
		return nil, err
	}

	entry := CuttingEntry{
		FactoryId: factoryId,
		EntryDate: NormalizeDate(input.EntryDate.Time()),
		LineId:    input.LineId,
		StyleId:   input.StyleId,
		Color:     input.Color,
		Size:      input.Size,
		InputQty:  input.InputQty,
		OutputQty: input.OutputQty,
		Remark:    input.Remark,
	}
	tx := db.Begin()
	err = tx.Create(&entry).Error
	if err == nil {
		err = saveChange(tx, "cutting_entries", entry.ID, EventActionCreate, entry, nil, "created cutting entry")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreateCuttingEntry")
	return &entry, nil
}

func UpdateCuttingEntry(ctx context.Context, id int, input *NewCuttingEntry) (*CuttingEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId); err != nil {
		return nil, err
	}
	release, err := lockCutting(ctx, factoryId, "UpdateCuttingEntry")
	if err != nil {
		return nil, err
	}
	defer release()

	before, err := utils.FetchModel[CuttingEntry](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := checkCuttingBalance(db, factoryId, input.LineId, input.StyleId, id, input.InputQty, input.OutputQty); err != nil {
		return nil, err
	}
	// moving the entry away must not leave the old pair short of input
	if before.LineId != input.LineId || before.StyleId != input.StyleId {
		if err := checkCuttingBalance(db, factoryId, before.LineId, before.StyleId, id, 0, 0); err != nil {
			return nil, err
		}
	}

	after := *before
	after.EntryDate = NormalizeDate(input.EntryDate.Time())
	after.LineId = input.LineId
	after.StyleId = input.StyleId
	after.Color = input.Color
	after.Size = input.Size
	after.InputQty = input.InputQty
	after.OutputQty = input.OutputQty
	after.Remark = input.Remark

	tx := db.Begin()
	err = tx.Model(&CuttingEntry{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
		"EntryDate": after.EntryDate,
		"LineId":    after.LineId,
		"StyleId":   after.StyleId,
		"Color":     after.Color,
		"Size":      after.Size,
		"InputQty":  after.InputQty,
		"OutputQty": after.OutputQty,
		"Remark":    after.Remark,
	}).Error
	if err == nil {
		err = saveChange(tx, "cutting_entries", id, EventActionUpdate, after, before, "updated cutting entry")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateCuttingEntry")
	return &after, nil
}

func DeleteCuttingEntry(ctx context.Context, id int) (*CuttingEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	release, err := lockCutting(ctx, factoryId, "DeleteCuttingEntry")
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := utils.FetchModel[CuttingEntry](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := checkCuttingBalance(db, factoryId, result.LineId, result.StyleId, id, 0, 0); err != nil {
		return nil, utils.NewValidationError("deleting this entry would leave more output than input for the line and style")
	}

	tx := db.Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "cutting_entries", id, EventActionDelete, nil, result, "deleted cutting entry")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeleteCuttingEntry")
	return result, nil
}

func GetCuttingEntry(ctx context.Context, id int) (*CuttingEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[CuttingEntry](ctx, factoryId, id)
}

func (f *CuttingFilter) apply(dbCtx *gorm.DB) (*gorm.DB, error) {
	from, to, err := f.DateBounds()
	if err != nil {
		return nil, err
	}
	if from != nil {
		dbCtx = dbCtx.Where("entry_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("entry_date <= ?", *to)
	}
	if f.LineId != nil {
		dbCtx = dbCtx.Where("line_id = ?", *f.LineId)
	}
	if f.StyleId != nil {
		dbCtx = dbCtx.Where("style_id = ?", *f.StyleId)
	}
	return dbCtx, nil
}

func ListCuttingEntries(ctx context.Context, filter *CuttingFilter, limit int, after string) (*Page[CuttingEntry], error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &CuttingFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Model(&CuttingEntry{}).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	return FetchPageCompositeCursor[CuttingEntry](dbCtx, limit, after, "entry_date", "<")
}

func ListAllCuttingEntries(ctx context.Context, filter *CuttingFilter) ([]*CuttingEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &CuttingFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	var results []*CuttingEntry
	err = dbCtx.Order("entry_date, id").Find(&results).Error
	return results, err
}

// GetCuttingBalance returns cumulative totals for one line and style.
func GetCuttingBalance(ctx context.Context, lineId int, styleId int) (*CuttingBalance, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return cuttingTotals(config.GetDB().WithContext(ctx), factoryId, lineId, styleId, 0)
}
