package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

type Resource interface {
	GetFactoryId() string
}

// first find in redis, then in db, using ctx's factory_id in WHERE, cache result
// (may return RecordNotFound error)
func GetResource[T Resource](ctx context.Context, id int) (*T, error) {

	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[T](ctx, factoryId, id)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[T](result, id); err != nil {
			return nil, err
		}
	} else if (*result).GetFactoryId() != factoryId {
		return nil, errors.New("cannot access resource owned by other factory")
	}

	return result, nil
}

// list all resources of the factory, redis or db, cache result
func ListAllResource[T any](ctx context.Context, orders ...string) ([]*T, error) {

	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}

	results, err := utils.RetrieveRedisList[T](factoryId)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results, err = utils.FetchAllModels[T](ctx, factoryId, orders...)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedisList[T](results, factoryId); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func ToggleActiveModel[T RedisCleaner](ctx context.Context, id int, isActive bool) (*T, error) {

	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[T](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	Tx := tx.Model(result).UpdateColumn("IsActive", isActive)
	if Tx.Error != nil {
		tx.Rollback()
		return nil, Tx.Error
	}

	referenceType := Tx.Statement.Table
	actionType := "*INACTIVE*"
	if isActive {
		actionType = "*ACTIVE*"
	}
	if err := createHistory(tx, actionType, id, referenceType, nil, nil, "toggled "+utils.GetTypeName[T]()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return utils.FetchModel[T](ctx, factoryId, id)
}

// ensureUnreferenced fails when any of the given tables still points at id through column.
func ensureUnreferenced(db *gorm.DB, factoryId string, column string, id int, message string, models ...interface{}) error {
	for _, m := range models {
		var count int64
		if err := db.Model(m).Where("factory_id = ? AND "+column+" = ?", factoryId, id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return utils.NewValidationError("%s", message)
		}
	}
	return nil
}
