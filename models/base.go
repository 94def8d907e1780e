package models

import (
	"time"
)

const (
	CollectionProducts           = "products"
	CollectionInventory          = "inventory"
	CollectionSerials            = "serials"
	CollectionImeis              = "imeis"
	CollectionInvoices           = "invoices"
	CollectionGoodsReturns       = "goods_returns"
	CollectionDamagedReturns     = "damaged_returns"
	CollectionOpenedReturns      = "opened_returns"
	CollectionDamagedIdentifiers = "damaged_identifiers"
	CollectionOpenedIdentifiers  = "opened_identifiers"
	CollectionPurchases          = "purchases"
	CollectionSupplierLedgers    = "supplier_ledgers"
)

// Clock returns the current time; services take one so tests can pin dates.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
