package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_backend/store"
	"github.com/sirupsen/logrus"
)

// legacyTransaction is a stock movement in the old inventory layout. Quantity is
// unsigned; Type decides the direction.
type legacyTransaction struct {
	Quantity      int       `json:"quantity"`
	Date          time.Time `json:"date"`
	Type          string    `json:"type"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
}

type legacyPurchase struct {
	Quantity      int       `json:"quantity"`
	Date          time.Time `json:"date"`
	SupplierEmail string    `json:"supplierEmail,omitempty"`
}

// legacyInventoryRecord reads both layouts; the old one kept transactions and
// purchases with a separately maintained total.
type legacyInventoryRecord struct {
	InventoryRecord
	Transactions []legacyTransaction `json:"transactions"`
	Purchases    []legacyPurchase    `json:"purchases"`
}

func (r *legacyInventoryRecord) isLegacy() bool {
	return len(r.History) == 0 && (len(r.Transactions) > 0 || len(r.Purchases) > 0)
}

type LegacyMigrationResult struct {
	ProductId     string `json:"productId"`
	Entries       int    `json:"entries"`
	StoredTotal   int    `json:"storedTotal"`
	ComputedTotal int    `json:"computedTotal"`
	// Correction is the legacy_migration entry added so the migrated total matches the stored one.
	Correction int  `json:"correction"`
	Written    bool `json:"written"`
}

func legacyDelta(t legacyTransaction) (int, InventoryReason) {
	switch strings.ToLower(t.Type) {
	case "sale", "sold", "deduct":
		return -t.Quantity, InventoryReasonSale
	case "return", "returned":
		return t.Quantity, InventoryReasonReturn
	case "supplier_return":
		return -t.Quantity, InventoryReasonSupplierReturn
	case "purchase":
		return t.Quantity, InventoryReasonPurchase
	default:
		// adjustments carried their own sign
		return t.Quantity, InventoryReasonAdjustment
	}
}

// convertLegacy rebuilds the delta log from the old layout. The stored total wins:
// any difference is booked as one legacy_migration entry, and a negative stored total
// is clamped to zero.
func convertLegacy(legacy *legacyInventoryRecord, productId string, now time.Time) (*InventoryRecord, LegacyMigrationResult) {
	rec := &InventoryRecord{
		ProductId:     productId,
		History:       []InventoryHistoryEntry{},
		DeductHistory: legacy.DeductHistory,
		CreatedAt:     legacy.CreatedAt,
	}
	if rec.DeductHistory == nil {
		rec.DeductHistory = []DeductHistoryEntry{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	for _, p := range legacy.Purchases {
		if p.Quantity == 0 {
			continue
		}
		rec.History = append(rec.History, InventoryHistoryEntry{
			Quantity:      p.Quantity,
			Date:          p.Date,
			SupplierEmail: p.SupplierEmail,
			Reason:        InventoryReasonPurchase,
		})
	}
	for _, t := range legacy.Transactions {
		delta, reason := legacyDelta(t)
		if delta == 0 {
			continue
		}
		rec.History = append(rec.History, InventoryHistoryEntry{
			Quantity:  delta,
			Date:      t.Date,
			Reason:    reason,
			Reference: t.InvoiceNumber,
		})
	}

	result := LegacyMigrationResult{
		ProductId:     productId,
		StoredTotal:   legacy.TotalQuantity,
		ComputedTotal: rec.historyTotal(),
	}
	target := max(0, legacy.TotalQuantity)
	if diff := target - result.ComputedTotal; diff != 0 {
		rec.History = append(rec.History, InventoryHistoryEntry{
			Quantity: diff,
			Date:     now,
			Reason:   InventoryReasonLegacyMigration,
		})
		result.Correction = diff
	}
	rec.TotalQuantity = rec.historyTotal()
	rec.UpdatedAt = now
	result.Entries = len(rec.History)
	return rec, result
}

// MigrateLegacy rewrites every inventory document still in the old layout. Each
// document is converted in its own transaction; records already migrated are skipped.
func (l *InventoryLedger) MigrateLegacy(ctx context.Context, dryRun bool) ([]LegacyMigrationResult, error) {
	snaps, err := l.store.Query(ctx, store.Collection(CollectionInventory))
	if err != nil {
		return nil, err
	}
	var results []LegacyMigrationResult
	for _, snap := range snaps {
		var result *LegacyMigrationResult
		err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			result = nil
			legacy, err := store.TxFind[legacyInventoryRecord](tx, CollectionInventory, snap.Id)
			if err != nil || legacy == nil || !legacy.isLegacy() {
				return err
			}
			rec, r := convertLegacy(legacy, snap.Id, l.now())
			result = &r
			if dryRun {
				return nil
			}
			result.Written = true
			return tx.Set(CollectionInventory, snap.Id, rec)
		})
		if err != nil {
			return results, err
		}
		if result == nil {
			continue
		}
		if result.Written {
			l.Invalidate(ctx, snap.Id)
		}
		if result.Correction != 0 {
			l.logger.WithFields(logrus.Fields{
				"productId":  snap.Id,
				"stored":     result.StoredTotal,
				"computed":   result.ComputedTotal,
				"correction": result.Correction,
			}).Warn("legacy inventory did not add up")
		}
		results = append(results, *result)
	}
	return results, nil
}
