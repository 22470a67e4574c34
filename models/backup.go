package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
)

type BackupRecord struct {
	ID              int           `gorm:"primary_key" json:"id"`
	FactoryId       string        `gorm:"size:64;not null;index" json:"factory_id"`
	FileName        string        `gorm:"size:255;not null" json:"file_name"`
	ObjectKey       string        `gorm:"size:500" json:"object_key"`
	StorageProvider string        `gorm:"size:20" json:"storage_provider"`
	SizeBytes       int64         `gorm:"not null;default:0" json:"size_bytes"`
	Checksum        string        `gorm:"size:64" json:"checksum"`
	Tables          string        `gorm:"type:text" json:"tables"`
	RecordCount     int64         `gorm:"not null;default:0" json:"record_count"`
	Status          BackupStatus  `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Trigger         BackupTrigger `gorm:"size:20;not null;default:'manual'" json:"trigger"`
	ErrorMessage    string        `gorm:"type:text" json:"error_message"`
	CreatedBy       string        `gorm:"size:100" json:"created_by"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
}

func (b BackupRecord) GetFactoryId() string { return b.FactoryId }

func (b BackupRecord) TableList() []string {
	if b.Tables == "" {
		return nil
	}
	return strings.Split(b.Tables, ",")
}

type BackupSchedule struct {
	ID             int             `gorm:"primary_key" json:"id"`
	FactoryId      string          `gorm:"size:64;not null;unique" json:"factory_id"`
	Enabled        *bool           `gorm:"not null;default:false" json:"enabled"`
	Frequency      BackupFrequency `gorm:"size:10;not null;default:'daily'" json:"frequency"`
	TimeOfDay      string          `gorm:"size:5;not null;default:'02:00'" json:"time_of_day"`
	Weekday        int             `gorm:"not null;default:0" json:"weekday"`
	RetentionCount int             `gorm:"not null;default:14" json:"retention_count"`
	LastRunAt      *time.Time      `json:"last_run_at"`
	NextRunAt      *time.Time      `json:"next_run_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s BackupSchedule) GetFactoryId() string { return s.FactoryId }

func (s BackupSchedule) IsEnabled() bool {
	return s.Enabled != nil && *s.Enabled
}

type NewBackupSchedule struct {
	Enabled        bool            `json:"enabled"`
	Frequency      BackupFrequency `json:"frequency" validate:"required"`
	TimeOfDay      string          `json:"time_of_day" validate:"required"`
	Weekday        int             `json:"weekday" validate:"gte=0,lte=6"`
	RetentionCount int             `json:"retention_count" validate:"gte=0,lte=365"`
}

/* records */

func CreateBackupRecord(ctx context.Context, trigger BackupTrigger, fileName string, tables []string) (*BackupRecord, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	createdBy, _ := utils.GetUserNameFromContext(ctx)
	record := BackupRecord{
		FactoryId: factoryId,
		FileName:  fileName,
		Tables:    strings.Join(tables, ","),
		Status:    BackupStatusPending,
		Trigger:   trigger,
		CreatedBy: createdBy,
	}
	if err := config.GetDB().WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// CompleteBackupRecord stores the upload result and writes the audit row.
func CompleteBackupRecord(ctx context.Context, record *BackupRecord) error {
	now := time.Now().UTC()
	record.Status = BackupStatusCompleted
	record.CompletedAt = &now

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err := tx.Model(&BackupRecord{}).Where("factory_id = ? AND id = ?", record.FactoryId, record.ID).Updates(map[string]interface{}{
		"ObjectKey":       record.ObjectKey,
		"StorageProvider": record.StorageProvider,
		"SizeBytes":       record.SizeBytes,
		"Checksum":        record.Checksum,
		"RecordCount":     record.RecordCount,
		"Status":          record.Status,
		"CompletedAt":     record.CompletedAt,
	}).Error
	if err == nil {
		err = saveChange(tx, "backup_records", record.ID, EventActionCreate, record, nil, "created backup "+record.FileName)
	}
	return commitOrRollback(tx, err)
}

func FailBackupRecord(ctx context.Context, record *BackupRecord, cause error) error {
	now := time.Now().UTC()
	record.Status = BackupStatusFailed
	record.ErrorMessage = cause.Error()
	record.CompletedAt = &now
	return config.GetDB().WithContext(ctx).Model(&BackupRecord{}).
		Where("factory_id = ? AND id = ?", record.FactoryId, record.ID).
		Updates(map[string]interface{}{
			"Status":       record.Status,
			"ErrorMessage": record.ErrorMessage,
			"CompletedAt":  record.CompletedAt,
		}).Error
}

func GetBackup(ctx context.Context, id int) (*BackupRecord, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[BackupRecord](ctx, factoryId, id)
}

func ListBackups(ctx context.Context) ([]*BackupRecord, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	var results []*BackupRecord
	err = config.GetDB().WithContext(ctx).
		Where("factory_id = ?", factoryId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	return results, err
}

// ListExpiredBackups returns completed backups beyond the newest keep, oldest first.
func ListExpiredBackups(ctx context.Context, keep int) ([]*BackupRecord, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if keep <= 0 {
		return nil, nil
	}
	var completed []*BackupRecord
	if err := config.GetDB().WithContext(ctx).
		Where("factory_id = ? AND status = ?", factoryId, BackupStatusCompleted).
		Order("created_at DESC, id DESC").
		Find(&completed).Error; err != nil {
		return nil, err
	}
	if len(completed) <= keep {
		return nil, nil
	}
	expired := completed[keep:]
	for i, j := 0, len(expired)-1; i < j; i, j = i+1, j-1 {
		expired[i], expired[j] = expired[j], expired[i]
	}
	return expired, nil
}

func DeleteBackupRecord(ctx context.Context, record *BackupRecord) error {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err := tx.Where("factory_id = ? AND id = ?", record.FactoryId, record.ID).Delete(&BackupRecord{}).Error
	if err == nil {
		err = saveChange(tx, "backup_records", record.ID, EventActionDelete, nil, record, "deleted backup "+record.FileName)
	}
	return commitOrRollback(tx, err)
}

/* schedule */

func defaultBackupSchedule(factoryId string) *BackupSchedule {
	return &BackupSchedule{
		FactoryId:      factoryId,
		Enabled:        utils.NewFalse(),
		Frequency:      BackupFrequencyDaily,
		TimeOfDay:      "02:00",
		RetentionCount: config.BackupRetentionCount(),
	}
}

func ParseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("time_of_day must be HH:MM")
	}
	return t.Hour(), t.Minute(), nil
}

// NextBackupRun returns the first run strictly after now, in the factory location.
func NextBackupRun(frequency BackupFrequency, timeOfDay string, weekday int, now time.Time, loc *time.Location) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	switch frequency {
	case BackupFrequencyHourly:
		next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), minute, 0, 0, loc)
		if !next.After(local) {
			next = next.Add(time.Hour)
		}
		return next.UTC(), nil
	case BackupFrequencyDaily:
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next.UTC(), nil
	case BackupFrequencyWeekly:
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		days := (weekday - int(local.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(local) {
			next = next.AddDate(0, 0, 7)
		}
		return next.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", frequency)
}

func GetBackupSchedule(ctx context.Context) (*BackupSchedule, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	var schedule BackupSchedule
	err = config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId).Take(&schedule).Error
	if err != nil {
		if isNotFound(err) {
			return defaultBackupSchedule(factoryId), nil
		}
		return nil, err
	}
	return &schedule, nil
}

func UpdateBackupSchedule(ctx context.Context, input *NewBackupSchedule) (*BackupSchedule, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Frequency.IsValid() {
		return nil, utils.NewFieldError("frequency", "must be hourly, daily or weekly")
	}
	if _, _, err := ParseTimeOfDay(input.TimeOfDay); err != nil {
		return nil, utils.NewFieldError("time_of_day", err.Error())
	}
	if input.RetentionCount == 0 {
		input.RetentionCount = config.BackupRetentionCount()
	}
	before, err := GetBackupSchedule(ctx)
	if err != nil {
		return nil, err
	}
	loc, err := utils.LoadLocation(FactoryTimezone(ctx))
	if err != nil {
		return nil, err
	}

	after := *before
	after.Enabled = &input.Enabled
	after.Frequency = input.Frequency
	after.TimeOfDay = input.TimeOfDay
	after.Weekday = input.Weekday
	after.RetentionCount = input.RetentionCount
	after.NextRunAt = nil
	if input.Enabled {
		next, err := NextBackupRun(after.Frequency, after.TimeOfDay, after.Weekday, time.Now(), loc)
		if err != nil {
			return nil, err
		}
		after.NextRunAt = &next
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if after.ID == 0 {
		err = tx.Create(&after).Error
	} else {
		err = tx.Model(&BackupSchedule{}).Where("factory_id = ? AND id = ?", factoryId, after.ID).Updates(map[string]interface{}{
			"Enabled":        after.Enabled,
			"Frequency":      after.Frequency,
			"TimeOfDay":      after.TimeOfDay,
			"Weekday":        after.Weekday,
			"RetentionCount": after.RetentionCount,
			"NextRunAt":      after.NextRunAt,
		}).Error
	}
	if err == nil {
		err = createHistory(tx, "UPDATE", after.ID, "backup_schedules", before, after, "updated backup schedule")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	return GetBackupSchedule(ctx)
}

// MarkBackupScheduleRun records a scheduled run and the following one.
func MarkBackupScheduleRun(ctx context.Context, ranAt time.Time, next *time.Time) error {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return err
	}
	return config.GetDB().WithContext(ctx).Model(&BackupSchedule{}).
		Where("factory_id = ?", factoryId).
		Updates(map[string]interface{}{"LastRunAt": ranAt.UTC(), "NextRunAt": next}).Error
}

// ListEnabledBackupSchedules is used by the scheduler across all factories.
func ListEnabledBackupSchedules(ctx context.Context) ([]*BackupSchedule, error) {
	var results []*BackupSchedule
	err := config.GetDB().WithContext(utils.SetSkipTenantScopeInContext(ctx, true)).
		Where("enabled = ?", true).
		Order("factory_id").
		Find(&results).Error
	return results, err
}

func SetBackupScheduleNextRun(ctx context.Context, next time.Time) error {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return err
	}
	return config.GetDB().WithContext(ctx).Model(&BackupSchedule{}).
		Where("factory_id = ?", factoryId).
		Update("NextRunAt", next.UTC()).Error
}
