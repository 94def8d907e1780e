package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type SupplierReturnResult struct {
	ProductId string   `json:"productId"`
	Values    []string `json:"values"`
	Stock     int      `json:"stock"`
}

// ReturnToSupplier sends tracked units back to the supplier. Every value must be in
// stock; the identifiers and the stock deduction commit together.
func (w *PurchaseWorkflow) ReturnToSupplier(ctx context.Context, identifierType models.IdentifierType, productId string, values []string) (*SupplierReturnResult, error) {
	ctx, span := w.Tracer.Start(ctx, "ReturnToSupplier")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productId), attribute.Int("units", len(values)))

	if !identifierType.Tracked() {
		return nil, utils.NewValidationError("identifierType", "must be serial or imei")
	}
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	cleaned = utils.UniqueSlice(cleaned)
	if len(cleaned) == 0 {
		return nil, utils.NewValidationError("values", "at least one value is required")
	}

	var rec *models.InventoryRecord
	err := w.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, v := range cleaned {
			ok, err := w.Identifiers.MarkReturnedToSupplierTx(tx, identifierType, productId, v)
			if err != nil {
				return err
			}
			if !ok {
				return utils.NewNotFoundError(string(identifierType), productId+"/"+v)
			}
		}
		var err error
		rec, err = w.Inventory.ApplyDeltaTx(tx, productId, -len(cleaned), models.InventoryDeltaMeta{
			Reason:  models.InventoryReasonSupplierReturn,
			ForWhat: "returned to supplier",
		})
		return err
	})
	if err != nil {
		config.LogError(w.Logger, "supplierReturnWorkflow.go", "ReturnToSupplier", "commit", productId, err)
		span.RecordError(err)
		return nil, err
	}
	w.Inventory.Invalidate(ctx, productId)

	w.Logger.WithFields(logrus.Fields{
		"product": productId,
		"units":   len(cleaned),
	}).Info("units returned to supplier")
	return &SupplierReturnResult{ProductId: productId, Values: cleaned, Stock: rec.TotalQuantity}, nil
}
