package middlewares

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/retail_backend/models"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

var errLoadersMissing = errors.New("dataloaders are not installed on this request")

// Loaders wrap the per-request data loaders
type Loaders struct {
	inventoryLoader *dataloader.Loader[string, *models.InventoryRecord]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(inventory *models.InventoryLedger) *Loaders {
	inventoryReader := &inventoryReader{ledger: inventory}
	return &Loaders{
		inventoryLoader: dataloader.NewBatchedLoader(inventoryReader.getInventories, dataloader.WithWait[string, *models.InventoryRecord](time.Millisecond)),
	}
}

func LoaderMiddleware(inventory *models.InventoryLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(inventory)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request loaders; ok is false when LoaderMiddleware did not run.
func For(ctx context.Context) (*Loaders, bool) {
	loaders, ok := ctx.Value(loadersKey).(*Loaders)
	return loaders, ok
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
