package utils

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
)

var mutex sync.Mutex

// remove AllowedPermissions:Role:id
func ClearPermissionCache(roleId int) error {
	return config.RemoveRedisKey(PermissionCacheKey(roleId))
}

func PermissionCacheKey(roleId int) string {
	return "AllowedPermissions:Role:" + fmt.Sprint(roleId)
}

func GetCacheLifespan() time.Duration {
	lifespan := config.TokenLifespan()
	if lifespan > 24*time.Hour {
		return 24 * time.Hour
	}
	return lifespan
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

/* Redis */

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// store a factory scoped list
func StoreRedisList[T any](obj any, factoryId string) error {
	key := GetTypeName[T]() + "List:" + factoryId
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// retrieve a factory scoped list, nil when not cached
func RetrieveRedisList[T any](factoryId string) ([]*T, error) {
	key := GetTypeName[T]() + "List:" + factoryId

	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, TypeList:$factory_id
func RemoveRedisList[T any](factoryId string) error {
	return config.RemoveRedisKey(GetTypeName[T]() + "List:" + factoryId)
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	return config.RemoveRedisKey(GetTypeName[T]() + ":" + fmt.Sprint(id))
}

// GetSequence returns the next number for T's sequence_no column.
// Redis holds the counter; the database max is the fallback and the seed.
func GetSequence[T any](ctx context.Context, factoryId string) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()

	cacheKey := factoryId + "-" + strings.ToLower(GetTypeName[T]()) + "_seq"
	db := config.GetDB()

	dbMax := func() (int64, error) {
		var dbSeq *int64
		if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
			Where("factory_id = ?", factoryId).
			Scan(&dbSeq).Error; err != nil {
			return 0, err
		}
		return DereferencePtr(dbSeq), nil
	}

	if config.GetRedisDB() == nil {
		n, err := dbMax()
		if err != nil {
			return 0, err
		}
		return n + 1, nil
	}

	for {
		seqNo, err := config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		// first use of the counter, seed from db
		if seqNo == 1 {
			n, err := dbMax()
			if err != nil {
				return 0, err
			}
			seqNo = n + 1
			if err := config.SetRedisObject(cacheKey, &seqNo, 0); err != nil {
				return 0, err
			}
		}
		if err := ValidateUnique[T](ctx, factoryId, "sequence_no", seqNo, 0); err == nil {
			return seqNo, nil
		}
	}
}

// ResetSequence drops the cached counter so the next call reseeds from the database.
func ResetSequence[T any](factoryId string) error {
	return config.RemoveRedisKey(factoryId + "-" + strings.ToLower(GetTypeName[T]()) + "_seq")
}
