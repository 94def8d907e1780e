package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
)

const purchaseIdPrefix = "PUR-"

type PurchaseItem struct {
	ProductId      string          `json:"productId"`
	Quantity       int             `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	IdentifierType IdentifierType  `json:"identifierType"`
	Identifiers    []string        `json:"identifiers"`
}

func (i *PurchaseItem) LineTotal() decimal.Decimal {
	return i.UnitCost.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Purchase struct {
	PurchaseId    string          `json:"purchaseId"`
	ContactId     string          `json:"contactId"`
	SupplierEmail string          `json:"supplierEmail,omitempty"`
	Items         []PurchaseItem  `json:"items"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type NewPurchaseItem struct {
	ProductId   string          `json:"productId" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	Identifiers []string        `json:"identifiers"`
}

type NewPurchase struct {
	// PurchaseId is optional; a reserved id is assigned when empty.
	PurchaseId     string              `json:"purchaseId"`
	ContactId      string              `json:"contactId" validate:"required"`
	SupplierEmail  string              `json:"supplierEmail" validate:"omitempty,email"`
	Warranty       string              `json:"warranty"`
	Items          []NewPurchaseItem   `json:"items" validate:"required,min=1,dive"`
	InitialPayment *NewSupplierPayment `json:"initialPayment"`
}

func (input *NewPurchase) Validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.PurchaseId != "" && !strings.HasPrefix(input.PurchaseId, purchaseIdPrefix) {
		return utils.NewValidationError("purchaseId", "must start with %s", purchaseIdPrefix)
	}
	for i, item := range input.Items {
		if item.UnitCost.IsNegative() {
			return utils.NewValidationError(fmt.Sprintf("items[%d].unitCost", i), "must not be negative")
		}
	}
	if input.InitialPayment != nil {
		if err := input.InitialPayment.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ReservePurchaseId hands out the id identifiers are stamped with before the purchase is written.
func ReservePurchaseId() string {
	return purchaseIdPrefix + uuid.NewString()
}

// CreatePurchaseTx writes the purchase document; a reused id is rejected.
func CreatePurchaseTx(tx store.Tx, p *Purchase) error {
	if err := tx.Create(CollectionPurchases, p.PurchaseId, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return utils.NewValidationError("purchaseId", "purchase %q already exists", p.PurchaseId)
		}
		return err
	}
	return nil
}

func GetPurchase(ctx context.Context, s store.Store, purchaseId string) (*Purchase, error) {
	return store.GetAs[Purchase](ctx, s, CollectionPurchases, purchaseId)
}
