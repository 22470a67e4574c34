package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Target struct {
	ID         int       `gorm:"primary_key" json:"id"`
	FactoryId  string    `gorm:"size:64;not null;uniqueIndex:idx_target_key,priority:1" json:"factory_id"`
	TargetDate time.Time `gorm:"not null;uniqueIndex:idx_target_key,priority:4" json:"target_date"`
	LineId     int       `gorm:"not null;uniqueIndex:idx_target_key,priority:2" json:"line_id"`
	StyleId    int       `gorm:"not null;uniqueIndex:idx_target_key,priority:3" json:"style_id"`
	TargetQty  int       `gorm:"not null" json:"target_qty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t Target) GetFactoryId() string { return t.FactoryId }

type NewTarget struct {
	TargetDate MyDateString `json:"target_date" validate:"required"`
	LineId     int          `json:"line_id" validate:"required"`
	StyleId    int          `json:"style_id" validate:"required"`
	TargetQty  int          `json:"target_qty" validate:"gt=0"`
}

type TargetFilter struct {
	DateRange
	LineId  *int
	StyleId *int
}

// TargetAchievement is a target with the cutting output recorded against it.
type TargetAchievement struct {
	Target
	AchievedQty        int             `json:"achieved_qty"`
	AchievementPercent decimal.Decimal `json:"achievement_percent"`
}

// AchievementPercent is achieved / target × 100 rounded to 2 places, 0 when target is 0.
func AchievementPercent(achieved int, target int) decimal.Decimal {
	if target <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(achieved)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(target)), 2)
}

func (input *NewTarget) validate(ctx context.Context, factoryId string, exceptId int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[Line](ctx, factoryId, input.LineId); err != nil {
		return utils.NewFieldError("line_id", "line not found")
	}
	if err := utils.ValidateResourceId[Style](ctx, factoryId, input.StyleId); err != nil {
		return utils.NewFieldError("style_id", "style not found")
	}
	condition := "line_id = ? AND style_id = ? AND target_date = ?"
	args := []interface{}{input.LineId, input.StyleId, NormalizeDate(input.TargetDate.Time())}
	if exceptId > 0 {
		condition += " AND id <> ?"
		args = append(args, exceptId)
	}
	count, err := utils.ResourceCountWhere[Target](ctx, factoryId, condition, args...)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.DuplicateError("target for this line, style and date")
	}
	return nil
}

func CreateTarget(ctx context.Context, input *NewTarget) (*Target, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, 0); err != nil {
		return nil, err
	}
	target := Target{
		FactoryId:  factoryId,
		TargetDate: NormalizeDate(input.TargetDate.Time()),
		LineId:     input.LineId,
		StyleId:    input.StyleId,
		TargetQty:  input.TargetQty,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&target).Error
	if err == nil {
		err = saveChange(tx, "targets", target.ID, EventActionCreate, target, nil, "created target")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreateTarget")
	return &target, nil
}

func UpdateTarget(ctx context.Context, id int, input *NewTarget) (*Target, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[Target](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId, id); err != nil {
		return nil, err
	}
	after := *before
	after.TargetDate = NormalizeDate(input.TargetDate.Time())
	after.LineId = input.LineId
	after.StyleId = input.StyleId
	after.TargetQty = input.TargetQty

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&Target{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
		"TargetDate": after.TargetDate,
		"LineId":     after.LineId,
		"StyleId":    after.StyleId,
		"TargetQty":  after.TargetQty,
	}).Error
	if err == nil {
		err = saveChange(tx, "targets", id, EventActionUpdate, after, before, "updated target")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateTarget")
	return &after, nil
}

func DeleteTarget(ctx context.Context, id int) (*Target, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[Target](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "targets", id, EventActionDelete, nil, result, "deleted target")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeleteTarget")
	return result, nil
}

type achievedKey struct {
	LineId  int
	StyleId int
	Date    string
}

// EntryDate is scanned as text so every driver yields a YYYY-MM-DD prefix.
type achievedRow struct {
	LineId    int
	StyleId   int
	EntryDate string
	Output    int
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func dayKeyFromText(s string) string {
	if len(s) >= 10 {
		return s[:10]
	}
	return s
}

// attachAchievement loads cutting output for the targets' days in one query.
func attachAchievement(db *gorm.DB, factoryId string, targets []*Target) ([]*TargetAchievement, error) {
	results := make([]*TargetAchievement, 0, len(targets))
	if len(targets) == 0 {
		return results, nil
	}
	minDate, maxDate := targets[0].TargetDate, targets[0].TargetDate
	for _, t := range targets {
		if t.TargetDate.Before(minDate) {
			minDate = t.TargetDate
		}
		if t.TargetDate.After(maxDate) {
			maxDate = t.TargetDate
		}
	}

	var rows []achievedRow
	if err := db.Model(&CuttingEntry{}).
		Select("line_id, style_id, entry_date, SUM(output_qty) AS output").
		Where("factory_id = ? AND entry_date >= ? AND entry_date <= ?", factoryId, minDate, maxDate).
		Group("line_id, style_id, entry_date").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	achieved := make(map[achievedKey]int, len(rows))
	for _, r := range rows {
		achieved[achievedKey{r.LineId, r.StyleId, dayKeyFromText(r.EntryDate)}] += r.Output
	}

	for _, t := range targets {
		qty := achieved[achievedKey{t.LineId, t.StyleId, dayKey(t.TargetDate)}]
		results = append(results, &TargetAchievement{
			Target:             *t,
			AchievedQty:        qty,
			AchievementPercent: AchievementPercent(qty, t.TargetQty),
		})
	}
	return results, nil
}

func GetTarget(ctx context.Context, id int) (*TargetAchievement, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	target, err := utils.FetchModel[Target](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	results, err := attachAchievement(config.GetDB().WithContext(ctx), factoryId, []*Target{target})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func ListTargets(ctx context.Context, filter *TargetFilter) ([]*TargetAchievement, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &TargetFilter{}
	}
	from, to, err := filter.DateBounds()
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	dbCtx := db.Where("factory_id = ?", factoryId)
	if from != nil {
		dbCtx = dbCtx.Where("target_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("target_date <= ?", *to)
	}
	if filter.LineId != nil {
		dbCtx = dbCtx.Where("line_id = ?", *filter.LineId)
	}
	if filter.StyleId != nil {
		dbCtx = dbCtx.Where("style_id = ?", *filter.StyleId)
	}
	var targets []*Target
	if err := dbCtx.Order("target_date, line_id, style_id").Find(&targets).Error; err != nil {
		return nil, err
	}
	return attachAchievement(db, factoryId, targets)
}
