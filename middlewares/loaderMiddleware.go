package middlewares

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const loadersKey = ctxKey("dataloaders")

const loaderWait = time.Millisecond

// Loaders batch the reference lookups list responses make per row.
type Loaders struct {
	LineLoader            *dataloader.Loader[int, *models.Line]
	StyleLoader           *dataloader.Loader[int, *models.Style]
	RoleLoader            *dataloader.Loader[int, *models.Role]
	ExpenseCategoryLoader *dataloader.Loader[int, *models.ExpenseCategory]
}

func NewLoaders(conn *gorm.DB) *Loaders {
	return &Loaders{
		LineLoader:            newByIdLoader[models.Line](conn),
		StyleLoader:           newByIdLoader[models.Style](conn),
		RoleLoader:            newByIdLoader[models.Role](conn),
		ExpenseCategoryLoader: newByIdLoader[models.ExpenseCategory](conn),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loaders := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loaders)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request loaders, building fresh ones when the middleware did not run.
func For(ctx context.Context) *Loaders {
	if loaders, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return loaders
	}
	return NewLoaders(config.GetDB())
}

// newByIdLoader batches "id IN ?" lookups of T. The tenant guard scopes them to the
// request's factory, so ids of another factory come back as placeholders.
func newByIdLoader[T models.Data](conn *gorm.DB) *dataloader.Loader[int, *T] {
	batch := func(ctx context.Context, ids []int) []*dataloader.Result[*T] {
		var rows []T
		if err := conn.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			results := make([]*dataloader.Result[*T], len(ids))
			for i := range results {
				results[i] = &dataloader.Result[*T]{Error: err}
			}
			return results
		}
		return orderResults(rows, ids)
	}
	return dataloader.NewBatchedLoader(batch, dataloader.WithWait[int, *T](loaderWait))
}

// orderResults lines rows up with ids; a missing id gets T's placeholder.
func orderResults[T models.Data](rows []T, ids []int) []*dataloader.Result[*T] {
	byId := make(map[int]T, len(rows))
	for _, row := range rows {
		byId[row.GetId()] = row
	}
	results := make([]*dataloader.Result[*T], len(ids))
	for i, id := range ids {
		row, found := byId[id]
		if !found {
			var zero T
			row = zero.GetDefault(id).(T)
		}
		results[i] = &dataloader.Result[*T]{Data: &row}
	}
	return results
}
