package models

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	saleInvoicePrefix = "Inv-"
	// DefaultInvoiceStart is the first sale sequence number when no invoice exists yet.
	DefaultInvoiceStart = 1
)

type InvoiceItem struct {
	Id               string           `json:"id"`
	Name             string           `json:"name"`
	Quantity         int              `json:"quantity"`
	Price            decimal.Decimal  `json:"price"`
	DiscountedPrice  *decimal.Decimal `json:"discountedPrice,omitempty"`
	Category         string           `json:"category,omitempty"`
	Barcode          string           `json:"barcode,omitempty"`
	IdentifierType   IdentifierType   `json:"identifierType,omitempty"`
	IdentifierValue  string           `json:"identifierValue,omitempty"`
	ReturnType       ReturnType       `json:"returnType,omitempty"`
	Returned         bool             `json:"returned"`
	ReturnedQuantity int              `json:"returnedQuantity"`
}

// UnitPrice is the price actually charged per unit.
func (i *InvoiceItem) UnitPrice() decimal.Decimal {
	if i.DiscountedPrice != nil {
		return *i.DiscountedPrice
	}
	return i.Price
}

func (i *InvoiceItem) LineTotal() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i *InvoiceItem) RemainingQuantity() int {
	return max(0, i.Quantity-i.ReturnedQuantity)
}

type Customer struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty"`
}

type Invoice struct {
	InvoiceNumber       string           `json:"invoiceNumber"`
	SequenceNo          int              `json:"sequenceNo,omitempty"`
	Items               []InvoiceItem    `json:"items"`
	Customer            Customer         `json:"customer"`
	Subtotal            decimal.Decimal  `json:"subtotal"`
	DiscountAmount      decimal.Decimal  `json:"discountAmount"`
	TaxAmount           decimal.Decimal  `json:"taxAmount"`
	Total               decimal.Decimal  `json:"total"`
	PaymentMethod       PaymentMethod    `json:"paymentMethod"`
	PaymentStatus       PaymentStatus    `json:"paymentStatus"`
	IsReturn            bool             `json:"isReturn"`
	IsPartiallyReturned bool             `json:"isPartiallyReturned"`
	ReturnInvoices      []string         `json:"returnInvoices"`
	OriginalInvoiceId   string           `json:"originalInvoiceId,omitempty"`
	ReturnAmount        *decimal.Decimal `json:"returnAmount,omitempty"`
	ReturnReason        string           `json:"returnReason,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

type NewInvoiceItem struct {
	Id              string           `json:"id" validate:"required"`
	Name            string           `json:"name"`
	Quantity        int              `json:"quantity" validate:"gt=0"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice"`
	Category        string           `json:"category"`
	Barcode         string           `json:"barcode"`
	IdentifierValue string           `json:"identifierValue"`
}

type NewSaleInvoice struct {
	Items    []NewInvoiceItem `json:"items" validate:"required,min=1,dive"`
	Customer Customer         `json:"customer"`
	// Discount is a percentage when DiscountType is "P", otherwise an absolute amount.
	Discount      decimal.Decimal `json:"discount"`
	DiscountType  string          `json:"discountType" validate:"omitempty,oneof=P A"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	PaymentMethod PaymentMethod   `json:"paymentMethod" validate:"required"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
}

func (input *NewSaleInvoice) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.PaymentMethod.IsValid() {
		return utils.NewValidationError("paymentMethod", "invalid payment method %q", string(input.PaymentMethod))
	}
	if input.PaymentStatus == "" {
		input.PaymentStatus = PaymentStatusPaid
	}
	if !input.PaymentStatus.IsValid() {
		return utils.NewValidationError("paymentStatus", "invalid payment status %q", string(input.PaymentStatus))
	}
	if input.Customer.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Customer.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("customer.phone", "%s", err.Error())
		}
	}
	if input.Discount.IsNegative() || input.TaxRate.IsNegative() {
		return utils.NewValidationError("discount", "discount and tax rate must not be negative")
	}
	seenIdentifiers := make(map[string]bool)
	for i, item := range input.Items {
		if item.Price.IsNegative() || (item.DiscountedPrice != nil && item.DiscountedPrice.IsNegative()) {
			return utils.NewValidationError(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
		if item.IdentifierValue != "" {
			key := item.Id + "|" + item.IdentifierValue
			if seenIdentifiers[key] {
				return utils.NewValidationError(fmt.Sprintf("items[%d].identifierValue", i), "%q appears twice", item.IdentifierValue)
			}
			seenIdentifiers[key] = true
		}
	}
	return nil
}

type InvoiceFilter struct {
	IsReturn          *bool
	OriginalInvoiceId string
	Limit             int
	Offset            int
}

type InvoiceEngine struct {
	store       store.Store
	inventory   *InventoryLedger
	identifiers *IdentifierLedger
	logger      *logrus.Logger
	now         Clock
}

func NewInvoiceEngine(s store.Store, inventory *InventoryLedger, identifiers *IdentifierLedger, logger *logrus.Logger, now Clock) *InvoiceEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &InvoiceEngine{store: s, inventory: inventory, identifiers: identifiers, logger: logger, now: clockOrDefault(now)}
}

func SaleInvoiceNumber(seq int) string {
	return fmt.Sprintf("%s%02d", saleInvoicePrefix, seq)
}

// ParseSaleInvoiceNumber extracts the numeric suffix of an Inv-NN number.
func ParseSaleInvoiceNumber(number string) (int, bool) {
	if !strings.HasPrefix(number, saleInvoicePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(number, saleInvoicePrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// nextSaleSequenceTx scans the highest sale sequence inside the transaction.
func nextSaleSequenceTx(tx store.Tx) (int, error) {
	latest, err := store.TxQuery[Invoice](tx, store.Collection(CollectionInvoices).
		Where("isReturn", store.OpEqual, false).
		Order("sequenceNo", true).
		Page(1, 0))
	if err != nil {
		return 0, err
	}
	if len(latest) == 0 {
		return DefaultInvoiceStart, nil
	}
	seq := latest[0].SequenceNo
	if seq == 0 {
		// invoices written before sequenceNo existed
		seq, _ = ParseSaleInvoiceNumber(latest[0].InvoiceNumber)
	}
	return seq + 1, nil
}

// CreateSaleInvoice writes the invoice, deducts stock per product and marks sold
// identifiers in one transaction. Short stock fails the whole invoice.
func (e *InvoiceEngine) CreateSaleInvoice(ctx context.Context, input *NewSaleInvoice) (*Invoice, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	productIds := make([]string, 0, len(input.Items))
	trackedLines := 0
	for _, item := range input.Items {
		productIds = append(productIds, item.Id)
		if item.IdentifierValue != "" {
			trackedLines++
		}
	}
	productIds = utils.UniqueSlice(productIds)
	// invoice + one inventory and at most one identifier document per product
	if touched := 1 + len(productIds) + min(trackedLines, len(productIds)); touched > store.MaxBatchSize {
		return nil, utils.NewValidationError("items", "invoice touches %d documents; the limit is %d", touched, store.MaxBatchSize)
	}

	var invoice *Invoice
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		items, err := e.buildSaleItemsTx(tx, input.Items)
		if err != nil {
			return err
		}
		seq, err := nextSaleSequenceTx(tx)
		if err != nil {
			return err
		}
		now := e.now()
		invoice = &Invoice{
			InvoiceNumber:  SaleInvoiceNumber(seq),
			SequenceNo:     seq,
			Items:          items,
			Customer:       input.Customer,
			PaymentMethod:  input.PaymentMethod,
			PaymentStatus:  input.PaymentStatus,
			ReturnInvoices: []string{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := applySaleTotals(invoice, input); err != nil {
			return err
		}
		if err := tx.Create(CollectionInvoices, invoice.InvoiceNumber, invoice); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// a concurrent invoice took this number
				return store.Retry(err)
			}
			return err
		}

		quantities := make(map[string]int, len(productIds))
		for _, item := range items {
			quantities[item.Id] += item.Quantity
		}
		for _, productId := range productIds {
			if _, err := e.inventory.DeductForSaleTx(tx, productId, quantities[productId], invoice.InvoiceNumber); err != nil {
				return err
			}
		}
		for _, item := range items {
			if !item.IdentifierType.Tracked() {
				continue
			}
			ok, err := e.identifiers.MarkSoldTx(tx, item.IdentifierType, item.Id, item.IdentifierValue, invoice.InvoiceNumber)
			if err != nil {
				return err
			}
			if !ok {
				return utils.NewValidationError("identifierValue", "%s %q not found for product %q", item.IdentifierType, item.IdentifierValue, item.Id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.inventory.Invalidate(ctx, productIds...)

	e.logger.WithFields(logrus.Fields{
		"invoice": invoice.InvoiceNumber,
		"total":   invoice.Total.String(),
		"lines":   len(invoice.Items),
	}).Info("sale invoice created")
	return invoice, nil
}

func (e *InvoiceEngine) buildSaleItemsTx(tx store.Tx, inputs []NewInvoiceItem) ([]InvoiceItem, error) {
	products := make(map[string]*Product)
	items := make([]InvoiceItem, 0, len(inputs))
	for i, in := range inputs {
		product, ok := products[in.Id]
		if !ok {
			var err error
			product, err = GetProductTx(tx, in.Id)
			if err != nil {
				return nil, err
			}
			products[in.Id] = product
		}
		field := fmt.Sprintf("items[%d]", i)
		if product.IdentifierType.Tracked() {
			if in.IdentifierValue == "" {
				return nil, utils.NewValidationError(field+".identifierValue", "product %q requires a %s", in.Id, product.IdentifierType)
			}
			if in.Quantity != 1 {
				return nil, utils.NewValidationError(field+".quantity", "a %s line carries exactly one unit", product.IdentifierType)
			}
		} else if in.IdentifierValue != "" {
			return nil, utils.NewValidationError(field+".identifierValue", "product %q is not tracked by identifier", in.Id)
		}

		item := InvoiceItem{
			Id:              in.Id,
			Name:            utils.DereferencePtr(utils.NilIfEmpty(in.Name), product.Name),
			Quantity:        in.Quantity,
			Price:           utils.RoundMoney(in.Price),
			Category:        utils.DereferencePtr(utils.NilIfEmpty(in.Category), product.Category),
			Barcode:         utils.DereferencePtr(utils.NilIfEmpty(in.Barcode), product.Barcode),
			IdentifierValue: in.IdentifierValue,
		}
		if item.Price.IsZero() {
			item.Price = product.SalesPrice
		}
		if in.DiscountedPrice != nil {
			dp := utils.RoundMoney(*in.DiscountedPrice)
			item.DiscountedPrice = &dp
		}
		if product.IdentifierType.Tracked() {
			item.IdentifierType = product.IdentifierType
		}
		items = append(items, item)
	}
	return items, nil
}

func applySaleTotals(inv *Invoice, input *NewSaleInvoice) error {
	subtotal := decimal.Zero
	for i := range inv.Items {
		subtotal = subtotal.Add(inv.Items[i].LineTotal())
	}
	subtotal = utils.RoundMoney(subtotal)
	discountType := input.DiscountType
	if discountType == "" {
		discountType = "A"
	}
	discount := utils.CalculateDiscountAmount(subtotal, input.Discount, discountType)
	if discount.GreaterThan(subtotal) {
		return utils.NewValidationError("discount", "discount %s exceeds subtotal %s", discount, subtotal)
	}
	tax := utils.CalculateTaxAmount(input.TaxRate, subtotal.Sub(discount), false)

	inv.Subtotal = subtotal
	inv.DiscountAmount = discount
	inv.TaxAmount = tax
	inv.Total = utils.RoundMoney(subtotal.Sub(discount).Add(tax))
	return nil
}

func (e *InvoiceEngine) GetInvoice(ctx context.Context, invoiceId string) (*Invoice, error) {
	return store.GetAs[Invoice](ctx, e.store, CollectionInvoices, invoiceId)
}

// ListInvoices returns invoices newest first.
func (e *InvoiceEngine) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, PageInfo, error) {
	q := store.Collection(CollectionInvoices).Order("createdAt", true)
	if filter.IsReturn != nil {
		q = q.Where("isReturn", store.OpEqual, *filter.IsReturn)
	}
	if filter.OriginalInvoiceId != "" {
		q = q.Where("originalInvoiceId", store.OpEqual, filter.OriginalInvoiceId)
	}
	invoices, err := store.QueryAs[Invoice](ctx, e.store, q)
	if err != nil {
		return nil, PageInfo{}, err
	}
	page, info := paginate(invoices, filter.Limit, filter.Offset)
	return page, info, nil
}

// UpdateOriginalInvoiceReturnStatus links a return invoice to its original. Linking twice is a no-op.
func (e *InvoiceEngine) UpdateOriginalInvoiceReturnStatus(ctx context.Context, invoiceId, returnInvoiceNumber string) (*Invoice, error) {
	var inv *Invoice
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = e.UpdateOriginalInvoiceReturnStatusTx(tx, invoiceId, returnInvoiceNumber)
		return err
	})
	return inv, err
}

func (e *InvoiceEngine) UpdateOriginalInvoiceReturnStatusTx(tx store.Tx, invoiceId, returnInvoiceNumber string) (*Invoice, error) {
	if returnInvoiceNumber == "" {
		return nil, utils.NewValidationError("returnInvoiceNumber", "is required")
	}
	inv, err := store.TxGet[Invoice](tx, CollectionInvoices, invoiceId)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(inv.ReturnInvoices, returnInvoiceNumber) {
		inv.ReturnInvoices = append(inv.ReturnInvoices, returnInvoiceNumber)
	}
	inv.IsPartiallyReturned = len(inv.ReturnInvoices) > 0
	inv.UpdatedAt = e.now()
	if err := tx.Set(CollectionInvoices, invoiceId, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ReturnedLine identifies returned units of an invoice line. IdentifierValue narrows the
// match to one serialized line.
type ReturnedLine struct {
	Id              string `json:"id"`
	IdentifierValue string `json:"identifierValue,omitempty"`
	Quantity        int    `json:"quantity"`
}

// LineAllocation is the share of a returned line drawn from one invoice line.
type LineAllocation struct {
	Index    int `json:"index"`
	Quantity int `json:"quantity"`
}

func returnableQuantities(inv *Invoice) []int {
	remaining := make([]int, len(inv.Items))
	for i := range inv.Items {
		remaining[i] = inv.Items[i].RemainingQuantity()
	}
	return remaining
}

// allocateFrom spreads returned quantities over matching invoice lines, drawing down
// remaining, and rejects returns beyond what is left.
func allocateFrom(inv *Invoice, remaining []int, lines []ReturnedLine) ([]LineAllocation, error) {
	var out []LineAllocation
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, utils.NewValidationError("quantity", "returned quantity for %q must be greater than zero", line.Id)
		}
		need := line.Quantity
		matched := false
		for i := range inv.Items {
			item := &inv.Items[i]
			if item.Id != line.Id || (line.IdentifierValue != "" && item.IdentifierValue != line.IdentifierValue) {
				continue
			}
			matched = true
			take := min(need, remaining[i])
			if take == 0 {
				continue
			}
			remaining[i] -= take
			need -= take
			out = append(out, LineAllocation{Index: i, Quantity: take})
			if need == 0 {
				break
			}
		}
		if !matched {
			label := line.Id
			if line.IdentifierValue != "" {
				label += " (" + line.IdentifierValue + ")"
			}
			return nil, utils.NewValidationError("items", "%s is not on invoice %s", label, inv.InvoiceNumber)
		}
		if need > 0 {
			return nil, utils.NewValidationError("items", "return of %d x %s exceeds the %d unit(s) still returnable on invoice %s",
				line.Quantity, line.Id, line.Quantity-need, inv.InvoiceNumber)
		}
	}
	return out, nil
}

func allocateReturnedLines(inv *Invoice, lines []ReturnedLine) ([]LineAllocation, error) {
	return allocateFrom(inv, returnableQuantities(inv), lines)
}

// AllocateReturnGroups allocates every condition group against one pool of returnable
// units, in ReturnTypes order, so no two groups claim the same unit. Lines naming an
// identifier are placed before generic lines so a generic line cannot take a serial
// another group asked for.
func AllocateReturnGroups(inv *Invoice, groups map[ReturnType][]ReturnedLine) (map[ReturnType][]LineAllocation, error) {
	remaining := returnableQuantities(inv)
	out := make(map[ReturnType][]LineAllocation, len(groups))
	for _, specific := range []bool{true, false} {
		for _, rt := range ReturnTypes {
			var lines []ReturnedLine
			for _, line := range groups[rt] {
				if (line.IdentifierValue != "") == specific {
					lines = append(lines, line)
				}
			}
			if len(lines) == 0 {
				continue
			}
			allocations, err := allocateFrom(inv, remaining, lines)
			if err != nil {
				return nil, err
			}
			out[rt] = append(out[rt], allocations...)
		}
	}
	return out, nil
}

// ValidateReturnedLines checks a return against the invoice without writing.
func ValidateReturnedLines(inv *Invoice, lines []ReturnedLine) error {
	_, err := allocateReturnedLines(inv, lines)
	return err
}

// MarkReturnedLines accumulates returned quantities; a line flips to returned once
// everything sold on it has come back.
func (e *InvoiceEngine) MarkReturnedLines(ctx context.Context, invoiceId string, lines []ReturnedLine) (*Invoice, error) {
	var inv *Invoice
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = e.MarkReturnedLinesTx(tx, invoiceId, lines)
		return err
	})
	return inv, err
}

func (e *InvoiceEngine) MarkReturnedLinesTx(tx store.Tx, invoiceId string, lines []ReturnedLine) (*Invoice, error) {
	inv, err := store.TxGet[Invoice](tx, CollectionInvoices, invoiceId)
	if err != nil {
		return nil, err
	}
	allocations, err := allocateReturnedLines(inv, lines)
	if err != nil {
		return nil, err
	}
	return e.applyAllocationsTx(tx, invoiceId, inv, allocations)
}

// MarkAllocatedLinesTx applies allocations made by AllocateReturnGroups as they are,
// without matching the lines again.
func (e *InvoiceEngine) MarkAllocatedLinesTx(tx store.Tx, invoiceId string, allocations []LineAllocation) (*Invoice, error) {
	inv, err := store.TxGet[Invoice](tx, CollectionInvoices, invoiceId)
	if err != nil {
		return nil, err
	}
	for _, a := range allocations {
		if a.Index < 0 || a.Index >= len(inv.Items) {
			return nil, utils.NewValidationError("items", "line %d is not on invoice %s", a.Index, invoiceId)
		}
		if a.Quantity <= 0 {
			return nil, utils.NewValidationError("quantity", "returned quantity for line %d must be greater than zero", a.Index)
		}
	}
	return e.applyAllocationsTx(tx, invoiceId, inv, allocations)
}

func (e *InvoiceEngine) applyAllocationsTx(tx store.Tx, invoiceId string, inv *Invoice, allocations []LineAllocation) (*Invoice, error) {
	for _, a := range allocations {
		item := &inv.Items[a.Index]
		if a.Quantity > item.RemainingQuantity() {
			return nil, utils.NewValidationError("items", "return of %d x %s exceeds the %d unit(s) still returnable on invoice %s",
				a.Quantity, item.Id, item.RemainingQuantity(), inv.InvoiceNumber)
		}
		item.ReturnedQuantity += a.Quantity
		item.Returned = item.ReturnedQuantity >= item.Quantity
	}
	inv.UpdatedAt = e.now()
	if err := tx.Set(CollectionInvoices, invoiceId, inv); err != nil {
		return nil, err
	}
	return inv, nil
}
