package models

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
)

type InventoryHistoryEntry struct {
	Quantity      int             `json:"quantity"`
	Date          time.Time       `json:"date"`
	SupplierEmail string          `json:"supplierEmail,omitempty"`
	Reason        InventoryReason `json:"reason,omitempty"`
	Reference     string          `json:"reference,omitempty"`
}

type DeductHistoryEntry struct {
	Date             time.Time `json:"date"`
	DeductedQuantity int       `json:"deductedQuantity"`
	ForWhat          string    `json:"forWhat"`
	InvoiceNumber    string    `json:"invoiceNumber,omitempty"`
}

// InventoryRecord is the running stock of one product. TotalQuantity is always the
// sum of History and never negative.
type InventoryRecord struct {
	ProductId     string                  `json:"productId"`
	TotalQuantity int                     `json:"totalQuantity"`
	History       []InventoryHistoryEntry `json:"history"`
	DeductHistory []DeductHistoryEntry    `json:"deductHistory"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

func (r *InventoryRecord) historyTotal() int {
	total := 0
	for _, h := range r.History {
		total += h.Quantity
	}
	return total
}

// InventoryDeltaMeta describes why a delta is applied. ForWhat is required for a
// negative delta to be recorded in the deduction log.
type InventoryDeltaMeta struct {
	Reason        InventoryReason
	Reference     string
	SupplierEmail string
	ForWhat       string
	InvoiceNumber string
	Date          time.Time
}

type InventoryHistoryPage struct {
	ProductId     string                  `json:"productId"`
	TotalQuantity int                     `json:"totalQuantity"`
	Entries       []InventoryHistoryEntry `json:"entries"`
	PageInfo      PageInfo                `json:"pageInfo"`
}

type ReconcileResult struct {
	ProductId     string `json:"productId"`
	StoredTotal   int    `json:"storedTotal"`
	ComputedTotal int    `json:"computedTotal"`
	Drift         int    `json:"drift"`
	Fixed         bool   `json:"fixed"`
}

type InventoryLedger struct {
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *logrus.Logger
	now      Clock
}

func NewInventoryLedger(s store.Store, c cache.Cache, cacheTTL time.Duration, logger *logrus.Logger, now Clock) *InventoryLedger {
	if c == nil {
		c = cache.NoopCache{}
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &InventoryLedger{store: s, cache: c, cacheTTL: cacheTTL, logger: logger, now: clockOrDefault(now)}
}

// ApplyDelta appends one history entry atomically, creating the record on first use.
func (l *InventoryLedger) ApplyDelta(ctx context.Context, productId string, delta int, meta InventoryDeltaMeta) (*InventoryRecord, error) {
	var rec *InventoryRecord
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = l.ApplyDeltaTx(tx, productId, delta, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Invalidate(ctx, productId)
	return rec, nil
}

// DeductForSale removes sold units. Fails without writing when stock is short.
func (l *InventoryLedger) DeductForSale(ctx context.Context, productId string, quantity int, invoiceId string) (*InventoryRecord, error) {
	var rec *InventoryRecord
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = l.DeductForSaleTx(tx, productId, quantity, invoiceId)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Invalidate(ctx, productId)
	return rec, nil
}

// RestoreFromReturn puts returned units back in stock whatever their condition.
func (l *InventoryLedger) RestoreFromReturn(ctx context.Context, productId string, quantity int, meta InventoryDeltaMeta) (*InventoryRecord, error) {
	var rec *InventoryRecord
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = l.RestoreFromReturnTx(tx, productId, quantity, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Invalidate(ctx, productId)
	return rec, nil
}

func (l *InventoryLedger) ApplyDeltaTx(tx store.Tx, productId string, delta int, meta InventoryDeltaMeta) (*InventoryRecord, error) {
	return l.applyDeltaTx(tx, productId, delta, meta, true)
}

func (l *InventoryLedger) DeductForSaleTx(tx store.Tx, productId string, quantity int, invoiceId string) (*InventoryRecord, error) {
	if quantity <= 0 {
		return nil, utils.NewValidationError("quantity", "must be greater than zero")
	}
	return l.applyDeltaTx(tx, productId, -quantity, InventoryDeltaMeta{
		Reason:        InventoryReasonSale,
		Reference:     invoiceId,
		ForWhat:       "sale",
		InvoiceNumber: invoiceId,
	}, false)
}

func (l *InventoryLedger) RestoreFromReturnTx(tx store.Tx, productId string, quantity int, meta InventoryDeltaMeta) (*InventoryRecord, error) {
	if quantity <= 0 {
		return nil, utils.NewValidationError("quantity", "must be greater than zero")
	}
	if meta.Reason == "" {
		meta.Reason = InventoryReasonReturn
	}
	return l.applyDeltaTx(tx, productId, quantity, meta, false)
}

func (l *InventoryLedger) applyDeltaTx(tx store.Tx, productId string, delta int, meta InventoryDeltaMeta, createIfMissing bool) (*InventoryRecord, error) {
	if productId == "" {
		return nil, utils.NewValidationError("productId", "is required")
	}
	if delta == 0 {
		return nil, utils.NewValidationError("quantity", "delta must not be zero")
	}
	if meta.Reason != "" && !meta.Reason.IsValid() {
		return nil, utils.NewValidationError("reason", "unknown inventory reason %q", string(meta.Reason))
	}

	rec, err := store.TxFind[InventoryRecord](tx, CollectionInventory, productId)
	if err != nil {
		return nil, err
	}
	date := meta.Date
	if date.IsZero() {
		date = l.now()
	}
	if rec == nil {
		if !createIfMissing {
			return nil, utils.NewNotFoundError("inventory", productId)
		}
		rec = &InventoryRecord{
			ProductId:     productId,
			History:       []InventoryHistoryEntry{},
			DeductHistory: []DeductHistoryEntry{},
			CreatedAt:     date,
		}
	}

	current := rec.historyTotal()
	if current+delta < 0 {
		return nil, &utils.InsufficientStockError{ProductId: productId, Available: current, Requested: -delta}
	}

	rec.History = append(rec.History, InventoryHistoryEntry{
		Quantity:      delta,
		Date:          date,
		SupplierEmail: meta.SupplierEmail,
		Reason:        meta.Reason,
		Reference:     meta.Reference,
	})
	if delta < 0 && meta.ForWhat != "" {
		rec.DeductHistory = append(rec.DeductHistory, DeductHistoryEntry{
			Date:             date,
			DeductedQuantity: -delta,
			ForWhat:          meta.ForWhat,
			InvoiceNumber:    meta.InvoiceNumber,
		})
	}
	rec.TotalQuantity = rec.historyTotal()
	rec.UpdatedAt = date

	if err := tx.Set(CollectionInventory, productId, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetInventory reads through the cache.
func (l *InventoryLedger) GetInventory(ctx context.Context, productId string) (*InventoryRecord, error) {
	var cached InventoryRecord
	found, err := cache.GetObject(ctx, l.cache, cache.InventoryKey(productId), &cached)
	if err != nil {
		config.LogError(l.logger, "inventoryLedger.go", "GetInventory", "cache get", productId, err)
	}
	if found {
		return &cached, nil
	}
	rec, err := store.GetAs[InventoryRecord](ctx, l.store, CollectionInventory, productId)
	if err != nil {
		return nil, err
	}
	if err := cache.SetObject(ctx, l.cache, cache.InventoryKey(productId), rec, l.cacheTTL); err != nil {
		config.LogError(l.logger, "inventoryLedger.go", "GetInventory", "cache set", productId, err)
	}
	return rec, nil
}

// GetInventories loads many records at once; missing products are absent from the map.
func (l *InventoryLedger) GetInventories(ctx context.Context, productIds []string) (map[string]*InventoryRecord, error) {
	out := make(map[string]*InventoryRecord, len(productIds))
	for _, id := range utils.UniqueSlice(productIds) {
		rec, err := l.GetInventory(ctx, id)
		if utils.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

// ListInventory returns every record, cached under the aggregate key.
func (l *InventoryLedger) ListInventory(ctx context.Context) ([]InventoryRecord, error) {
	var cached []InventoryRecord
	found, err := cache.GetObject(ctx, l.cache, cache.InventoryAllKey, &cached)
	if err != nil {
		config.LogError(l.logger, "inventoryLedger.go", "ListInventory", "cache get", nil, err)
	}
	if found {
		return cached, nil
	}
	recs, err := store.QueryAs[InventoryRecord](ctx, l.store, store.Collection(CollectionInventory).Order("productId", false))
	if err != nil {
		return nil, err
	}
	if err := cache.SetObject(ctx, l.cache, cache.InventoryAllKey, recs, l.cacheTTL); err != nil {
		config.LogError(l.logger, "inventoryLedger.go", "ListInventory", "cache set", nil, err)
	}
	return recs, nil
}

// GetHistory pages through the delta log, newest first.
func (l *InventoryLedger) GetHistory(ctx context.Context, productId string, limit, offset int) (*InventoryHistoryPage, error) {
	rec, err := store.GetAs[InventoryRecord](ctx, l.store, CollectionInventory, productId)
	if err != nil {
		return nil, err
	}
	entries := make([]InventoryHistoryEntry, len(rec.History))
	// reversed first so equal dates keep newest-appended first
	for i, h := range rec.History {
		entries[len(rec.History)-1-i] = h
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})
	page, info := paginate(entries, limit, offset)
	return &InventoryHistoryPage{
		ProductId:     productId,
		TotalQuantity: rec.TotalQuantity,
		Entries:       page,
		PageInfo:      info,
	}, nil
}

// Reconcile replays the history and reports drift against the stored total.
// With apply set, a drifted total is rewritten from the history.
func (l *InventoryLedger) Reconcile(ctx context.Context, productId string, apply bool) (*ReconcileResult, error) {
	var result ReconcileResult
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := store.TxGet[InventoryRecord](tx, CollectionInventory, productId)
		if err != nil {
			return err
		}
		computed := rec.historyTotal()
		result = ReconcileResult{
			ProductId:     productId,
			StoredTotal:   rec.TotalQuantity,
			ComputedTotal: computed,
			Drift:         rec.TotalQuantity - computed,
		}
		if !apply || result.Drift == 0 {
			return nil
		}
		rec.TotalQuantity = computed
		rec.UpdatedAt = l.now()
		result.Fixed = true
		return tx.Set(CollectionInventory, productId, rec)
	})
	if err != nil {
		return nil, err
	}
	if result.Fixed {
		l.Invalidate(ctx, productId)
	}
	if result.ComputedTotal < 0 {
		l.logger.WithFields(logrus.Fields{
			"productId": productId,
			"computed":  result.ComputedTotal,
		}).Warn("inventory history sums below zero")
	}
	return &result, nil
}

// Invalidate drops the per-product and aggregate cache keys. Call after every commit
// that touched inventory.
func (l *InventoryLedger) Invalidate(ctx context.Context, productIds ...string) {
	keys := make([]string, 0, len(productIds)+1)
	for _, id := range utils.UniqueSlice(productIds) {
		keys = append(keys, cache.InventoryKey(id))
	}
	keys = append(keys, cache.InventoryAllKey)
	if err := l.cache.Delete(ctx, keys...); err != nil {
		config.LogError(l.logger, "inventoryLedger.go", "Invalidate", "cache delete", productIds, err)
	}
}
