package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type IdentifierType string

const (
	IdentifierTypeNone   IdentifierType = "none"
	IdentifierTypeSerial IdentifierType = "serial"
	IdentifierTypeImei   IdentifierType = "imei"
)

func ParseIdentifierType(s string) (IdentifierType, error) {
	switch s {
	case "", "none":
		return IdentifierTypeNone, nil
	case "serial":
		return IdentifierTypeSerial, nil
	case "imei":
		return IdentifierTypeImei, nil
	default:
		return "", fmt.Errorf("invalid identifier type %q", s)
	}
}

func (t *IdentifierType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("identifier type must be string")
	}
	v, err := ParseIdentifierType(str)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Tracked reports whether units of this product carry individual identifiers.
func (t IdentifierType) Tracked() bool {
	switch t {
	case IdentifierTypeSerial, IdentifierTypeImei:
		return true
	case IdentifierTypeNone:
		return false
	}
	return false
}

// Collection is the identifier ledger collection for this type.
func (t IdentifierType) Collection() (string, error) {
	switch t {
	case IdentifierTypeSerial:
		return CollectionSerials, nil
	case IdentifierTypeImei:
		return CollectionImeis, nil
	case IdentifierTypeNone:
		return "", errors.New("products without identifiers have no identifier ledger")
	}
	return "", fmt.Errorf("invalid identifier type %q", string(t))
}

type ReturnType string

const (
	ReturnTypeGood    ReturnType = "Good"
	ReturnTypeDamaged ReturnType = "Damaged"
	ReturnTypeOpened  ReturnType = "Opened"
)

// ReturnTypes is the order condition groups are processed in.
var ReturnTypes = []ReturnType{ReturnTypeGood, ReturnTypeDamaged, ReturnTypeOpened}

func ParseReturnType(s string) (ReturnType, bool) {
	switch s {
	case "Good":
		return ReturnTypeGood, true
	case "Damaged":
		return ReturnTypeDamaged, true
	case "Opened":
		return ReturnTypeOpened, true
	}
	return "", false
}

func (t ReturnType) Collection() string {
	switch t {
	case ReturnTypeGood:
		return CollectionGoodsReturns
	case ReturnTypeDamaged:
		return CollectionDamagedReturns
	case ReturnTypeOpened:
		return CollectionOpenedReturns
	}
	return ""
}

// Condition is the identifier condition a return of this type leaves the unit in.
// Good returns have none.
func (t ReturnType) Condition() (ConditionKind, bool) {
	switch t {
	case ReturnTypeGood:
		return "", false
	case ReturnTypeDamaged:
		return ConditionDamaged, true
	case ReturnTypeOpened:
		return ConditionOpened, true
	}
	return "", false
}

type ConditionKind string

const (
	ConditionDamaged ConditionKind = "damaged"
	ConditionOpened  ConditionKind = "opened"
)

func (k ConditionKind) Collection() string {
	switch k {
	case ConditionDamaged:
		return CollectionDamagedIdentifiers
	case ConditionOpened:
		return CollectionOpenedIdentifiers
	}
	return ""
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "Cash"
	PaymentMethodCard         PaymentMethod = "Card"
	PaymentMethodBankTransfer PaymentMethod = "BankTransfer"
	PaymentMethodCheque       PaymentMethod = "Cheque"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodCheque:
		return true
	}
	return false
}

func (m *PaymentMethod) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment method must be string")
	}
	v := PaymentMethod(str)
	if !v.IsValid() {
		return fmt.Errorf("invalid payment method %q", str)
	}
	*m = v
	return nil
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "Paid"
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusPartial PaymentStatus = "Partial"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusPending, PaymentStatusPartial:
		return true
	}
	return false
}

type InventoryReason string

const (
	InventoryReasonOpening         InventoryReason = "opening"
	InventoryReasonPurchase        InventoryReason = "purchase"
	InventoryReasonSale            InventoryReason = "sale"
	InventoryReasonReturn          InventoryReason = "return"
	InventoryReasonAdjustment      InventoryReason = "adjustment"
	InventoryReasonSupplierReturn  InventoryReason = "supplier_return"
	InventoryReasonLegacyMigration InventoryReason = "legacy_migration"
)

func (r InventoryReason) IsValid() bool {
	switch r {
	case InventoryReasonOpening, InventoryReasonPurchase, InventoryReasonSale, InventoryReasonReturn,
		InventoryReasonAdjustment, InventoryReasonSupplierReturn, InventoryReasonLegacyMigration:
		return true
	}
	return false
}

type IdentifierState string

const (
	IdentifierStateInStock            IdentifierState = "InStock"
	IdentifierStateSold               IdentifierState = "Sold"
	IdentifierStateDamaged            IdentifierState = "Damaged"
	IdentifierStateOpened             IdentifierState = "Opened"
	IdentifierStateReturnedToSupplier IdentifierState = "ReturnedToSupplier"
)
