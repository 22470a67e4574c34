package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"gorm.io/gorm"
)

func first[T any](db *gorm.DB, factoryId string, id int) (*T, error) {
	var row T
	if err := db.Where("factory_id = ?", factoryId).First(&row, id).Error; err != nil {
		return nil, NormalizeDBError(err)
	}
	return &row, nil
}

// FetchModel loads one row of the factory, preloading associations.
func FetchModel[T any](ctx context.Context, factoryId string, id int, associations ...string) (*T, error) {
	db := config.GetDB().WithContext(ctx)
	for _, field := range associations {
		db = db.Preload(field)
	}
	return first[T](db, factoryId, id)
}

// FetchModelTx is FetchModel inside tx.
func FetchModelTx[T any](tx *gorm.DB, factoryId string, id int) (*T, error) {
	return first[T](tx, factoryId, id)
}

func FetchAllModels[T any](ctx context.Context, factoryId string, orders ...string) ([]*T, error) {
	db := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	for _, order := range orders {
		db = db.Order(order)
	}
	var rows []*T
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
