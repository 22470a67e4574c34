package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for EventOutbox.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type EventOutbox struct {
	ID               int         `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	FactoryId        string      `gorm:"size:64;not null;index" json:"factory_id"`
	OccurredAt       time.Time   `gorm:"not null" json:"occurred_at"`
	ReferenceId      int         `gorm:"index:idx_outbox_ref,priority:2" json:"reference_id"`
	ReferenceType    string      `gorm:"size:50;index:idx_outbox_ref,priority:1" json:"reference_type"`
	Action           EventAction `gorm:"size:1" json:"action"`
	OldObj           []byte      `json:"old_obj"`
	NewObj           []byte      `json:"new_obj"`
	PublishStatus    string      `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time  `json:"published_at"`
	MessageId        *string     `gorm:"size:255" json:"message_id"`
	PublishAttempts  int         `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time  `gorm:"index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time  `json:"locked_at"`
	LockedBy         *string     `gorm:"size:100" json:"locked_by"`
	LastPublishError *string     `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string      `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (record EventOutbox) ToMessage() config.EventMessage {
	return config.EventMessage{
		ID:            record.ID,
		FactoryId:     record.FactoryId,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		Action:        string(record.Action),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// OutboxStatusCount is one row of the outbox health summary.
type OutboxStatusCount struct {
	PublishStatus string `json:"publish_status"`
	Count         int64  `json:"count"`
}

// GetOutboxSummary counts the factory's outbox rows per status.
func GetOutboxSummary(ctx context.Context) ([]*OutboxStatusCount, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	var results []*OutboxStatusCount
	err = config.GetDB().WithContext(ctx).Model(&EventOutbox{}).
		Select("publish_status, count(*) as count").
		Where("factory_id = ?", factoryId).
		Group("publish_status").
		Order("publish_status").
		Scan(&results).Error
	return results, err
}

// RequeueDeadEvents moves DEAD rows back to PENDING so the dispatcher retries them.
func RequeueDeadEvents(ctx context.Context) (int64, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return 0, err
	}
	res := config.GetDB().WithContext(ctx).Model(&EventOutbox{}).
		Where("factory_id = ? AND publish_status = ?", factoryId, OutboxPublishStatusDead).
		Updates(map[string]interface{}{
			"publish_status":   OutboxPublishStatusPending,
			"publish_attempts": 0,
			"next_attempt_at":  nil,
			"locked_at":        nil,
			"locked_by":        nil,
		})
	return res.RowsAffected, res.Error
}

// PurgeSentEvents deletes published rows older than cutoff.
func PurgeSentEvents(db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.Where("publish_status = ? AND published_at < ?", OutboxPublishStatusSent, cutoff).Delete(&EventOutbox{})
	return res.RowsAffected, res.Error
}
