package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/retail_backend/models"
)

type inventoryReader struct {
	ledger *models.InventoryLedger
}

// getInventories answers a batch with one read; products without a record get an empty one.
func (r *inventoryReader) getInventories(ctx context.Context, ids []string) []*dataloader.Result[*models.InventoryRecord] {
	records, err := r.ledger.GetInventories(ctx, ids)
	if err != nil {
		return handleError[*models.InventoryRecord](len(ids), err)
	}

	loaderResults := make([]*dataloader.Result[*models.InventoryRecord], 0, len(ids))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			rec = &models.InventoryRecord{ProductId: id}
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.InventoryRecord]{Data: rec})
	}
	return loaderResults
}

func GetInventory(ctx context.Context, productId string) (*models.InventoryRecord, error) {
	loaders, ok := For(ctx)
	if !ok {
		return nil, errLoadersMissing
	}
	return loaders.inventoryLoader.Load(ctx, productId)()
}

func GetInventories(ctx context.Context, productIds []string) ([]*models.InventoryRecord, []error) {
	loaders, ok := For(ctx)
	if !ok {
		return nil, []error{errLoadersMissing}
	}
	return loaders.inventoryLoader.LoadMany(ctx, productIds)()
}
