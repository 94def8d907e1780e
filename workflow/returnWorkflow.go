package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ReturnItemInput struct {
	Id              string `json:"id"`
	IdentifierValue string `json:"identifierValue,omitempty"`
	// Quantity defaults to 1.
	Quantity   int    `json:"quantity"`
	ReturnType string `json:"returnType"`
}

type ProcessReturnInput struct {
	InvoiceId string            `json:"invoiceId"`
	Items     []ReturnItemInput `json:"items"`
	Reason    string            `json:"reason"`
}

type GroupStatus string

const (
	GroupCompleted GroupStatus = "completed"
	GroupFailed    GroupStatus = "failed"
	GroupSkipped   GroupStatus = "skipped"
)

type ReturnGroupResult struct {
	ReturnType   models.ReturnType    `json:"returnType"`
	Status       GroupStatus          `json:"status"`
	ReturnNumber string               `json:"returnNumber,omitempty"`
	Items        []models.InvoiceItem `json:"items"`
	Restored     map[string]int       `json:"restored,omitempty"`
	Error        string               `json:"error,omitempty"`
}

type ProcessReturnResult struct {
	OriginalInvoiceId string              `json:"originalInvoiceId"`
	ReturnInvoice     *models.Invoice     `json:"returnInvoice"`
	ReturnAmount      decimal.Decimal     `json:"returnAmount"`
	Groups            []ReturnGroupResult `json:"groups"`
	IgnoredItems      []ReturnItemInput   `json:"ignoredItems,omitempty"`
	Linked            bool                `json:"linked"`
	Notified          bool                `json:"notified"`
}

type ReturnWorkflow struct {
	Deps
}

func NewReturnWorkflow(d Deps) *ReturnWorkflow {
	return &ReturnWorkflow{Deps: d.withDefaults()}
}

// partitionReturn groups request lines by condition. Lines with an unknown condition
// are ignored and reported back.
func partitionReturn(items []ReturnItemInput) (map[models.ReturnType][]models.ReturnedLine, []ReturnItemInput, error) {
	groups := make(map[models.ReturnType][]models.ReturnedLine)
	var ignored []ReturnItemInput
	for i, item := range items {
		rt, ok := models.ParseReturnType(strings.TrimSpace(item.ReturnType))
		if !ok || strings.TrimSpace(item.Id) == "" {
			ignored = append(ignored, item)
			continue
		}
		qty := item.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 0 {
			return nil, nil, utils.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		groups[rt] = append(groups[rt], models.ReturnedLine{Id: item.Id, IdentifierValue: item.IdentifierValue, Quantity: qty})
	}
	return groups, ignored, nil
}

// ProcessReturn books a customer return against a sale invoice. Condition groups are
// applied one transaction each, Good then Damaged then Opened. A failing group stops
// the run; groups already applied stay applied and the result comes back together
// with a PartialFailureError.
func (w *ReturnWorkflow) ProcessReturn(ctx context.Context, input *ProcessReturnInput) (*ProcessReturnResult, error) {
	ctx, span := w.Tracer.Start(ctx, "ProcessReturn")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", input.InvoiceId))

	result, err := w.processReturn(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (w *ReturnWorkflow) processReturn(ctx context.Context, input *ProcessReturnInput) (*ProcessReturnResult, error) {
	if strings.TrimSpace(input.InvoiceId) == "" {
		return nil, utils.NewValidationError("invoiceId", "is required")
	}
	groups, ignored, err := partitionReturn(input.Items)
	if err != nil {
		return nil, err
	}
	for _, item := range ignored {
		w.Logger.WithFields(logrus.Fields{
			"invoice":    input.InvoiceId,
			"item":       item.Id,
			"returnType": item.ReturnType,
		}).Warn("ignoring return item with unknown return type")
	}
	if len(groups) == 0 {
		return nil, utils.NewValidationError("items", "no item with a valid return type (Good, Damaged, Opened)")
	}

	release, err := utils.ObtainLock(ctx, w.Locker, w.Logger, "invoice-return", input.InvoiceId, w.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	original, err := w.Invoices.GetInvoice(ctx, input.InvoiceId)
	if err != nil {
		return nil, err
	}
	if original.IsReturn {
		return nil, utils.NewValidationError("invoiceId", "%s is a return invoice", original.InvoiceNumber)
	}

	allocations, err := models.AllocateReturnGroups(original, groups)
	if err != nil {
		return nil, err
	}
	groupItems := make(map[models.ReturnType][]models.InvoiceItem, len(allocations))
	var returnedItems []models.InvoiceItem
	for _, rt := range models.ReturnTypes {
		allocs, ok := allocations[rt]
		if !ok {
			continue
		}
		items := models.ReturnItemsFor(original, allocs, rt)
		groupItems[rt] = items
		returnedItems = append(returnedItems, items...)
	}

	returnInvoice, err := w.Invoices.CreateReturnInvoice(ctx, original.InvoiceNumber, returnedItems, input.Reason)
	if err != nil {
		config.LogError(w.Logger, "returnWorkflow.go", "ProcessReturn", "CreateReturnInvoice", original.InvoiceNumber, err)
		return nil, err
	}

	result := &ProcessReturnResult{
		OriginalInvoiceId: original.InvoiceNumber,
		ReturnInvoice:     returnInvoice,
		ReturnAmount:      *returnInvoice.ReturnAmount,
		IgnoredItems:      ignored,
	}

	var failure error
	var failedAt string
	var completed []string
	for _, rt := range models.ReturnTypes {
		items, ok := groupItems[rt]
		if !ok {
			continue
		}
		group := ReturnGroupResult{ReturnType: rt, Items: items}
		if failure != nil {
			group.Status = GroupSkipped
			result.Groups = append(result.Groups, group)
			continue
		}
		rec, restored, err := w.applyGroup(ctx, original, returnInvoice, rt, items, allocations[rt], input.Reason)
		if err != nil {
			config.LogError(w.Logger, "returnWorkflow.go", "ProcessReturn", "apply "+string(rt)+" group", returnInvoice.InvoiceNumber, err)
			group.Status = GroupFailed
			group.Error = err.Error()
			failure = err
			failedAt = string(rt)
		} else {
			group.Status = GroupCompleted
			group.ReturnNumber = rec.ReturnNumber
			group.Restored = restored
			completed = append(completed, string(rt))
		}
		result.Groups = append(result.Groups, group)
	}

	if _, err := w.Invoices.UpdateOriginalInvoiceReturnStatus(ctx, original.InvoiceNumber, returnInvoice.InvoiceNumber); err != nil {
		config.LogError(w.Logger, "returnWorkflow.go", "ProcessReturn", "UpdateOriginalInvoiceReturnStatus", returnInvoice.InvoiceNumber, err)
		if failure == nil {
			failure = err
			failedAt = "link"
		}
	} else {
		result.Linked = true
	}

	if len(completed) > 0 {
		result.Notified = w.notifyCustomer(ctx, original, returnInvoice)
	}

	if failure != nil {
		w.Logger.WithFields(logrus.Fields{
			"invoice":   original.InvoiceNumber,
			"return":    returnInvoice.InvoiceNumber,
			"completed": completed,
			"failedAt":  failedAt,
		}).Warn("return partially applied")
		return result, &utils.PartialFailureError{
			Operation: "return of " + original.InvoiceNumber,
			Completed: completed,
			FailedAt:  failedAt,
			Err:       failure,
		}
	}

	w.Logger.WithFields(logrus.Fields{
		"invoice": original.InvoiceNumber,
		"return":  returnInvoice.InvoiceNumber,
		"amount":  result.ReturnAmount.String(),
	}).Info("return processed")
	return result, nil
}

// applyGroup commits one condition group: the return record, stock restored once per
// product, identifier transitions and the returned quantities on the original lines.
func (w *ReturnWorkflow) applyGroup(ctx context.Context, original, returnInvoice *models.Invoice, rt models.ReturnType, items []models.InvoiceItem, allocations []models.LineAllocation, reason string) (*models.ReturnRecord, map[string]int, error) {
	ctx, span := w.Tracer.Start(ctx, "ProcessReturn."+string(rt))
	defer span.End()

	var rec *models.ReturnRecord
	var restored map[string]int
	var productIds []string
	err := w.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = w.Invoices.CreateReturnRecordTx(tx, rt, items, original.InvoiceNumber, returnInvoice.InvoiceNumber, *returnInvoice.ReturnAmount, reason)
		if err != nil {
			return err
		}

		restored = make(map[string]int)
		productIds = productIds[:0]
		for _, item := range items {
			if _, seen := restored[item.Id]; !seen {
				productIds = append(productIds, item.Id)
			}
			restored[item.Id] += item.Quantity
		}
		for _, productId := range productIds {
			_, err := w.Inventory.RestoreFromReturnTx(tx, productId, restored[productId], models.InventoryDeltaMeta{
				Reason:    models.InventoryReasonReturn,
				Reference: returnInvoice.InvoiceNumber,
			})
			if err != nil {
				return err
			}
		}

		for _, item := range items {
			if !item.IdentifierType.Tracked() || item.IdentifierValue == "" {
				continue
			}
			if err := w.transitionIdentifierTx(tx, rt, item, returnInvoice.InvoiceNumber); err != nil {
				return err
			}
		}

		_, err = w.Invoices.MarkAllocatedLinesTx(tx, original.InvoiceNumber, allocations)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	w.Inventory.Invalidate(ctx, productIds...)
	return rec, restored, nil
}

func (w *ReturnWorkflow) transitionIdentifierTx(tx store.Tx, rt models.ReturnType, item models.InvoiceItem, returnInvoiceNumber string) error {
	kind, hasCondition := rt.Condition()
	var ok bool
	var err error
	if hasCondition {
		ok, err = w.Identifiers.MarkDamagedOrOpenedTx(tx, item.IdentifierType, item.Id, item.IdentifierValue, kind)
	} else {
		ok, err = w.Identifiers.MarkReturnedGoodTx(tx, item.IdentifierType, item.Id, item.IdentifierValue)
	}
	if err != nil {
		return err
	}
	if !ok {
		w.Logger.WithFields(logrus.Fields{
			"product":    item.Id,
			"identifier": item.IdentifierValue,
		}).Warn("returned identifier not found in ledger")
		return nil
	}
	if hasCondition {
		_, err = w.Identifiers.UpsertConditionIdentifierTx(tx, kind, item.IdentifierType, item.Id, item.IdentifierValue, returnInvoiceNumber)
	}
	return err
}

func (w *ReturnWorkflow) notifyCustomer(ctx context.Context, original, returnInvoice *models.Invoice) bool {
	customer := original.Customer
	amount := returnInvoice.ReturnAmount.StringFixed(2)
	subject := fmt.Sprintf("Return %s for invoice %s", returnInvoice.InvoiceNumber, original.InvoiceNumber)

	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\nWe have received your return against invoice %s.\n\n", customer.Name, original.InvoiceNumber)
	for _, item := range returnInvoice.Items {
		fmt.Fprintf(&body, "  %d x %s (%s)\n", item.Quantity, item.Name, item.ReturnType)
	}
	fmt.Fprintf(&body, "\nRefund amount: %s\n", amount)

	emailed := w.Dispatcher.Email(ctx, customer.Email, subject, body.String())
	texted := w.Dispatcher.SMS(ctx, customer.Phone, fmt.Sprintf("Return %s received. Refund %s.", returnInvoice.InvoiceNumber, amount))
	return emailed || texted
}
