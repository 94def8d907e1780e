package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReturnTotals holds the positive amounts of a return before they are negated on the invoice.
type ReturnTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	Total          decimal.Decimal `json:"total"`
}

// CalculateReturnTotals prices returned items and allocates the original invoice's
// discount and tax by the returned share of its subtotal.
func CalculateReturnTotals(original *Invoice, items []InvoiceItem) ReturnTotals {
	subtotal := decimal.Zero
	for i := range items {
		subtotal = subtotal.Add(items[i].LineTotal())
	}
	subtotal = utils.RoundMoney(subtotal)
	discount := utils.ProportionalAmount(original.DiscountAmount, subtotal, original.Subtotal)
	tax := utils.ProportionalAmount(original.TaxAmount, subtotal, original.Subtotal)
	return ReturnTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		Total:          utils.RoundMoney(subtotal.Sub(discount).Add(tax)),
	}
}

func ReturnInvoiceNumber(originalInvoiceNumber string, n int) string {
	return fmt.Sprintf("rtn-inv-%s-#%d", originalInvoiceNumber, n)
}

// BuildReturnItems copies the matching original lines with the returned quantities and
// tags them with the return condition.
func BuildReturnItems(original *Invoice, lines []ReturnedLine, returnType ReturnType) ([]InvoiceItem, error) {
	allocations, err := allocateReturnedLines(original, lines)
	if err != nil {
		return nil, err
	}
	return ReturnItemsFor(original, allocations, returnType), nil
}

// ReturnItemsFor prices returned units from the exact original lines they were drawn from.
func ReturnItemsFor(original *Invoice, allocations []LineAllocation, returnType ReturnType) []InvoiceItem {
	items := make([]InvoiceItem, 0, len(allocations))
	for _, a := range allocations {
		item := original.Items[a.Index]
		item.Quantity = a.Quantity
		item.ReturnedQuantity = a.Quantity
		item.Returned = true
		item.ReturnType = returnType
		items = append(items, item)
	}
	return items
}

func nextReturnSequenceTx(tx store.Tx, originalInvoiceNumber string) (int, error) {
	existing, err := store.TxQuery[Invoice](tx, store.Collection(CollectionInvoices).
		Where("originalInvoiceId", store.OpEqual, originalInvoiceNumber).
		Where("isReturn", store.OpEqual, true))
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, inv := range existing {
		highest = max(highest, inv.SequenceNo)
	}
	return highest + 1, nil
}

// CreateReturnInvoice writes a negated return invoice for items of an existing sale.
func (e *InvoiceEngine) CreateReturnInvoice(ctx context.Context, originalInvoiceId string, items []InvoiceItem, reason string) (*Invoice, error) {
	var inv *Invoice
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		original, err := store.TxGet[Invoice](tx, CollectionInvoices, originalInvoiceId)
		if err != nil {
			return err
		}
		inv, err = e.CreateReturnInvoiceTx(tx, original, items, reason)
		return err
	})
	return inv, err
}

func (e *InvoiceEngine) CreateReturnInvoiceTx(tx store.Tx, original *Invoice, items []InvoiceItem, reason string) (*Invoice, error) {
	if original.IsReturn {
		return nil, utils.NewValidationError("invoiceId", "%s is a return invoice", original.InvoiceNumber)
	}
	if len(items) == 0 {
		return nil, utils.NewValidationError("items", "nothing to return")
	}
	now := e.now()
	seq, err := nextReturnSequenceTx(tx, original.InvoiceNumber)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"invoice": original.InvoiceNumber,
			"error":   err.Error(),
		}).Warn("return sequence scan failed, numbering by timestamp")
		seq = int(now.UnixMilli())
	}

	totals := CalculateReturnTotals(original, items)
	returnAmount := totals.Total.Abs()
	returned := make([]InvoiceItem, len(items))
	for i, item := range items {
		item.Returned = true
		item.ReturnedQuantity = item.Quantity
		returned[i] = item
	}
	inv := &Invoice{
		InvoiceNumber:     ReturnInvoiceNumber(original.InvoiceNumber, seq),
		SequenceNo:        seq,
		Items:             returned,
		Customer:          original.Customer,
		Subtotal:          totals.Subtotal.Neg(),
		DiscountAmount:    totals.DiscountAmount.Neg(),
		TaxAmount:         totals.TaxAmount.Neg(),
		Total:             totals.Total.Neg(),
		PaymentMethod:     original.PaymentMethod,
		PaymentStatus:     original.PaymentStatus,
		IsReturn:          true,
		ReturnInvoices:    []string{},
		OriginalInvoiceId: original.InvoiceNumber,
		ReturnAmount:      &returnAmount,
		ReturnReason:      reason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.Create(CollectionInvoices, inv.InvoiceNumber, inv); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, store.Retry(err)
		}
		return nil, err
	}
	return inv, nil
}

// ReturnRecord is the per-condition audit document of one return group.
type ReturnRecord struct {
	ReturnNumber    string          `json:"returnNumber"`
	SequenceNo      int             `json:"sequenceNo"`
	Items           []InvoiceItem   `json:"items"`
	ReturnType      ReturnType      `json:"returnType"`
	InvoiceRef      string          `json:"invoiceRef"`
	ReturnInvoiceId string          `json:"returnInvoiceId"`
	ReturnAmount    decimal.Decimal `json:"returnAmount"`
	Reason          string          `json:"reason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func ReturnRecordNumber(seq int) string {
	return fmt.Sprintf("ret-%03d", seq)
}

// CreateReturnRecordTx numbers the record from the highest ret-NNN in the condition's collection.
func (e *InvoiceEngine) CreateReturnRecordTx(tx store.Tx, returnType ReturnType, items []InvoiceItem, invoiceRef, returnInvoiceId string, returnAmount decimal.Decimal, reason string) (*ReturnRecord, error) {
	collection := returnType.Collection()
	if collection == "" {
		return nil, utils.NewValidationError("returnType", "unknown return type %q", string(returnType))
	}
	latest, err := store.TxQuery[ReturnRecord](tx, store.Collection(collection).Order("sequenceNo", true).Page(1, 0))
	if err != nil {
		return nil, err
	}
	seq := 1
	if len(latest) > 0 {
		seq = latest[0].SequenceNo + 1
	}
	now := e.now()
	rec := &ReturnRecord{
		ReturnNumber:    ReturnRecordNumber(seq),
		SequenceNo:      seq,
		Items:           items,
		ReturnType:      returnType,
		InvoiceRef:      invoiceRef,
		ReturnInvoiceId: returnInvoiceId,
		ReturnAmount:    returnAmount,
		Reason:          reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.Create(collection, rec.ReturnNumber, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, store.Retry(err)
		}
		return nil, err
	}
	return rec, nil
}

// ListReturnRecords returns the records of one condition that reference an invoice.
func (e *InvoiceEngine) ListReturnRecords(ctx context.Context, returnType ReturnType, invoiceRef string) ([]ReturnRecord, error) {
	collection := returnType.Collection()
	if collection == "" {
		return nil, utils.NewValidationError("returnType", "unknown return type %q", string(returnType))
	}
	q := store.Collection(collection).Order("sequenceNo", false)
	if invoiceRef != "" {
		q = q.Where("invoiceRef", store.OpEqual, invoiceRef)
	}
	return store.QueryAs[ReturnRecord](ctx, e.store, q)
}
