package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs `validate` tags and returns a ValidationError on failure.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return FromValidator(err)
	}
	return nil
}

// ValidateResourceId fails with ErrorRecordNotFound unless row id of T belongs to the factory.
func ValidateResourceId[T any](ctx context.Context, factoryId string, id int) error {
	count, err := ResourceCountWhere[T](ctx, factoryId, "id = ?", id)
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// ValidateUnique fails with a duplicate error when another row of the factory has value in
// column. exceptId is the row being updated, zero on create.
func ValidateUnique[T any](ctx context.Context, factoryId string, column string, value any, exceptId int) error {
	condition, args := column+" = ?", []any{value}
	if exceptId > 0 {
		condition += " AND id <> ?"
		args = append(args, exceptId)
	}
	count, err := ResourceCountWhere[T](ctx, factoryId, condition, args...)
	if err != nil {
		return err
	}
	if count > 0 {
		return DuplicateError(column)
	}
	return nil
}

// ResourceCountWhere counts rows of T matching condition; a blank factoryId counts across factories.
func ResourceCountWhere[T any](ctx context.Context, factoryId string, condition string, args ...any) (int64, error) {
	var model T
	db := config.GetDB().WithContext(ctx).Model(&model)
	if factoryId != "" {
		db = db.Where("factory_id = ?", factoryId)
	}
	var count int64
	if err := db.Where(condition, args...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
