package models

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
)

type RedisCleaner interface {
	RemoveInstanceRedis() error // remove one
	RemoveAllRedis() error      // remove factory list
}

// remove both item & list
func RemoveRedisBoth[T RedisCleaner](obj T) error {
	if err := obj.RemoveInstanceRedis(); err != nil {
		return err
	}
	return obj.RemoveAllRedis()
}

func (obj Line) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[Line](obj.ID)
}

func (obj Line) RemoveAllRedis() error {
	return utils.RemoveRedisList[Line](obj.FactoryId)
}

func (obj Style) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[Style](obj.ID)
}

func (obj Style) RemoveAllRedis() error {
	return utils.RemoveRedisList[Style](obj.FactoryId)
}

func (obj ExpenseCategory) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[ExpenseCategory](obj.ID)
}

func (obj ExpenseCategory) RemoveAllRedis() error {
	return utils.RemoveRedisList[ExpenseCategory](obj.FactoryId)
}

func (obj Role) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Role](obj.ID); err != nil {
		return err
	}
	return utils.ClearPermissionCache(obj.ID)
}

func (obj Role) RemoveAllRedis() error {
	return utils.RemoveRedisList[Role](obj.FactoryId)
}

func (obj SalaryRate) RemoveInstanceRedis() error {
	return nil
}

// rates are cached per style and operation
func (obj SalaryRate) RemoveAllRedis() error {
	return config.RemoveRedisPattern(config.GetRedisContext(), "SalaryRate:"+obj.FactoryId+":*")
}

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

func (user User) RemoveAllRedis() error {
	return utils.RemoveRedisList[User](user.FactoryId)
}

func (obj Factory) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Factory:" + obj.ID)
}

func (obj Factory) RemoveAllRedis() error {
	return nil
}

// ClearFactoryCaches drops every cached list, item and permission set of the factory.
// Used after bulk writes that bypass the model functions.
func ClearFactoryCaches(ctx context.Context, factoryId string) error {
	db := config.GetDB().WithContext(ctx)
	var err error
	ids := func(model interface{}) []int {
		var out []int
		if err == nil {
			err = db.Model(model).Where("factory_id = ?", factoryId).Pluck("id", &out).Error
		}
		return out
	}
	lineIds, styleIds, categoryIds, roleIds := ids(&Line{}), ids(&Style{}), ids(&ExpenseCategory{}), ids(&Role{})
	var usernames []string
	if err == nil {
		err = db.Model(&User{}).Where("factory_id = ?", factoryId).Pluck("username", &usernames).Error
	}
	if err != nil {
		return err
	}

	keys := []string{
		utils.GetTypeName[Line]() + "List:" + factoryId,
		utils.GetTypeName[Style]() + "List:" + factoryId,
		utils.GetTypeName[ExpenseCategory]() + "List:" + factoryId,
		utils.GetTypeName[Role]() + "List:" + factoryId,
		utils.GetTypeName[User]() + "List:" + factoryId,
	}
	for _, id := range lineIds {
		keys = append(keys, utils.GetTypeName[Line]()+":"+fmt.Sprint(id))
	}
	for _, id := range styleIds {
		keys = append(keys, utils.GetTypeName[Style]()+":"+fmt.Sprint(id))
	}
	for _, id := range categoryIds {
		keys = append(keys, utils.GetTypeName[ExpenseCategory]()+":"+fmt.Sprint(id))
	}
	for _, id := range roleIds {
		keys = append(keys, utils.GetTypeName[Role]()+":"+fmt.Sprint(id), utils.PermissionCacheKey(id))
	}
	for _, username := range usernames {
		keys = append(keys, "User:"+username)
	}
	if err := config.RemoveRedisKey(keys...); err != nil {
		return err
	}
	if err := config.RemoveRedisPattern(ctx, "SalaryRate:"+factoryId+":*"); err != nil {
		return err
	}
	return utils.ResetSequence[CashbookEntry](factoryId)
}

func ReportCachePattern(factoryId string) string {
	return "Report:" + factoryId + ":*"
}

// InvalidateReportCache drops every cached report of the factory.
func InvalidateReportCache(ctx context.Context, factoryId string) error {
	return config.RemoveRedisPattern(ctx, ReportCachePattern(factoryId))
}

// reportsChanged is called after writes that feed reports; a failure only costs a stale cache entry until its TTL.
func reportsChanged(ctx context.Context, factoryId string, functionName string) {
	if err := InvalidateReportCache(ctx, factoryId); err != nil {
		config.LogError(config.GetLogger(), "models", functionName, "invalidating report cache", factoryId, err)
	}
}
