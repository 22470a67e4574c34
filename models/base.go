package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// recordEvent writes an outbox row inside the caller's transaction.
// Publishing happens asynchronously in the outbox dispatcher after commit.
func recordEvent(tx *gorm.DB, refType string, refId int, action EventAction, obj interface{}, oldObj interface{}) error {
	ctx := tx.Statement.Context
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return err
	}

	var objInByte, oldObjInByte []byte
	if action == EventActionCreate || action == EventActionUpdate {
		if objInByte, err = json.Marshal(obj); err != nil {
			return err
		}
	}
	if action == EventActionUpdate || action == EventActionDelete {
		if oldObjInByte, err = json.Marshal(oldObj); err != nil {
			return err
		}
	}

	record := EventOutbox{
		FactoryId:     factoryId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		NewObj:        objInByte,
		OldObj:        oldObjInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// saveChange records history and the outbox event for one write.
func saveChange(tx *gorm.DB, refType string, refId int, action EventAction, after interface{}, before interface{}, description string) error {
	var actionType string
	switch action {
	case EventActionCreate:
		actionType = "CREATE"
	case EventActionUpdate:
		actionType = "UPDATE"
	case EventActionDelete:
		actionType = "DELETE"
	}
	if err := createHistory(tx, actionType, refId, refType, before, after, description); err != nil {
		return err
	}
	return recordEvent(tx, refType, refId, action, after, before)
}

// commitOrRollback commits tx and maps driver errors.
func commitOrRollback(tx *gorm.DB, err error) error {
	if err != nil {
		tx.Rollback()
		return utils.NormalizeDBError(err)
	}
	return utils.NormalizeDBError(tx.Commit().Error)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, utils.ErrorRecordNotFound)
}

// RecordChange writes the audit row and outbox event for work done outside the model functions.
func RecordChange(tx *gorm.DB, refType string, refId int, action EventAction, after interface{}, before interface{}, description string) error {
	return saveChange(tx, refType, refId, action, after, before, description)
}
