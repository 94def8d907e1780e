package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/notification"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PurchaseResult struct {
	Purchase *models.Purchase       `json:"purchase"`
	Ledger   *models.SupplierLedger `json:"ledger"`
	Notified bool                   `json:"notified"`
}

type PurchaseWorkflow struct {
	Deps
}

func NewPurchaseWorkflow(d Deps) *PurchaseWorkflow {
	return &PurchaseWorkflow{Deps: d.withDefaults()}
}

// CreatePurchase receives stock from a supplier. Identifiers, inventory, the purchase
// document and the supplier ledger commit in one transaction.
func (w *PurchaseWorkflow) CreatePurchase(ctx context.Context, input *models.NewPurchase) (*PurchaseResult, error) {
	ctx, span := w.Tracer.Start(ctx, "CreatePurchase")
	defer span.End()

	if err := input.Validate(); err != nil {
		return nil, err
	}
	purchaseId := input.PurchaseId
	if purchaseId == "" {
		purchaseId = models.ReservePurchaseId()
	}
	span.SetAttributes(attribute.String("purchase.id", purchaseId))

	var purchase *models.Purchase
	var ledger *models.SupplierLedger
	var productIds []string
	err := w.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		purchase = &models.Purchase{
			PurchaseId:    purchaseId,
			ContactId:     input.ContactId,
			SupplierEmail: input.SupplierEmail,
			Items:         make([]models.PurchaseItem, 0, len(input.Items)),
			CreatedAt:     w.Now(),
		}
		productIds = productIds[:0]
		total := decimal.Zero
		for i, in := range input.Items {
			item, err := w.receiveItemTx(tx, i, in, purchaseId, input)
			if err != nil {
				return err
			}
			purchase.Items = append(purchase.Items, *item)
			productIds = append(productIds, item.ProductId)
			total = total.Add(item.LineTotal())
		}
		purchase.TotalAmount = utils.RoundMoney(total)

		if err := models.CreatePurchaseTx(tx, purchase); err != nil {
			return err
		}
		var err error
		ledger, err = w.Suppliers.CreateSupplierRecordTx(tx, purchaseId, input.ContactId, purchase.TotalAmount, input.InitialPayment)
		return err
	})
	if err != nil {
		config.LogError(w.Logger, "purchaseWorkflow.go", "CreatePurchase", "commit purchase", purchaseId, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	w.Inventory.Invalidate(ctx, utils.UniqueSlice(productIds)...)

	result := &PurchaseResult{Purchase: purchase, Ledger: ledger}
	result.Notified = w.notifySupplier(ctx, purchase)

	w.Logger.WithFields(logrus.Fields{
		"purchase": purchaseId,
		"items":    len(purchase.Items),
		"total":    purchase.TotalAmount.String(),
	}).Info("purchase received")
	return result, nil
}

func (w *PurchaseWorkflow) receiveItemTx(tx store.Tx, i int, in models.NewPurchaseItem, purchaseId string, input *models.NewPurchase) (*models.PurchaseItem, error) {
	product, err := models.GetProductTx(tx, in.ProductId)
	if err != nil {
		return nil, err
	}
	field := fmt.Sprintf("items[%d].identifiers", i)
	if product.IdentifierType.Tracked() {
		if len(in.Identifiers) != in.Quantity {
			return nil, utils.NewValidationError(field, "%d %s values required for %q, got %d",
				in.Quantity, product.IdentifierType, product.Sku, len(in.Identifiers))
		}
		if _, err := w.Identifiers.CreateTx(tx, product.IdentifierType, product.Sku, in.Identifiers, purchaseId, input.Warranty); err != nil {
			return nil, err
		}
	} else if len(in.Identifiers) > 0 {
		return nil, utils.NewValidationError(field, "product %q does not track identifiers", product.Sku)
	}

	unitCost := in.UnitCost
	if unitCost.IsZero() {
		unitCost = product.CostPrice
	}
	_, err = w.Inventory.ApplyDeltaTx(tx, product.Sku, in.Quantity, models.InventoryDeltaMeta{
		Reason:        models.InventoryReasonPurchase,
		Reference:     purchaseId,
		SupplierEmail: input.SupplierEmail,
	})
	if err != nil {
		return nil, err
	}
	return &models.PurchaseItem{
		ProductId:      product.Sku,
		Quantity:       in.Quantity,
		UnitCost:       unitCost,
		IdentifierType: product.IdentifierType,
		Identifiers:    in.Identifiers,
	}, nil
}

func (w *PurchaseWorkflow) notifySupplier(ctx context.Context, purchase *models.Purchase) bool {
	if strings.TrimSpace(purchase.SupplierEmail) == "" {
		return false
	}
	var attachments []notification.Attachment
	sheet, err := PurchaseSheet(purchase)
	if err != nil {
		config.LogError(w.Logger, "purchaseWorkflow.go", "notifySupplier", "build sheet", purchase.PurchaseId, err)
	} else {
		attachments = append(attachments, notification.Attachment{
			Filename:    purchase.PurchaseId + ".xlsx",
			ContentType: PurchaseSheetContentType,
			Content:     sheet,
		})
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Purchase %s has been received.\n\n", purchase.PurchaseId)
	for _, item := range purchase.Items {
		fmt.Fprintf(&body, "  %s x %d @ %s\n", item.ProductId, item.Quantity, item.UnitCost.StringFixed(2))
	}
	fmt.Fprintf(&body, "\nTotal: %s\n", purchase.TotalAmount.StringFixed(2))
	return w.Dispatcher.Email(ctx, purchase.SupplierEmail, "Purchase "+purchase.PurchaseId, body.String(), attachments...)
}
