package models

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
)

type Identifier struct {
	Value              string     `json:"value"`
	Warranty           string     `json:"warranty,omitempty"`
	Sold               bool       `json:"sold"`
	SoldAt             *time.Time `json:"soldAt,omitempty"`
	InvoiceId          string     `json:"invoiceId,omitempty"`
	PurchaseId         string     `json:"purchaseId"`
	Damaged            bool       `json:"damaged"`
	Opened             bool       `json:"opened"`
	ReturnedToSupplier bool       `json:"returnedToSupplier"`
	// Quantity counts damage/open events recorded against this unit.
	Quantity int `json:"quantity,omitempty"`
}

func (i *Identifier) State() IdentifierState {
	switch {
	case i.ReturnedToSupplier:
		return IdentifierStateReturnedToSupplier
	case i.Sold:
		return IdentifierStateSold
	case i.Damaged:
		return IdentifierStateDamaged
	case i.Opened:
		return IdentifierStateOpened
	default:
		return IdentifierStateInStock
	}
}

type IdentifierRecord struct {
	ProductId      string         `json:"productId"`
	IdentifierType IdentifierType `json:"identifierType"`
	Identifiers    []Identifier   `json:"identifiers"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (r *IdentifierRecord) find(value string) *Identifier {
	for i := range r.Identifiers {
		if r.Identifiers[i].Value == value {
			return &r.Identifiers[i]
		}
	}
	return nil
}

// ConditionIdentifier accumulates repeated damaged/opened returns of one physical unit.
type ConditionIdentifier struct {
	ProductId       string         `json:"productId"`
	IdentifierType  IdentifierType `json:"identifierType"`
	IdentifierValue string         `json:"identifierValue"`
	Quantity        int            `json:"quantity"`
	InvoiceRefs     []string       `json:"invoiceRefs"`
	LastReturnAt    time.Time      `json:"lastReturnAt"`
}

func ConditionIdentifierId(productId string, identifierType IdentifierType, value string) string {
	return fmt.Sprintf("%s|%s|%s", productId, identifierType, value)
}

type IdentifierLedger struct {
	store  store.Store
	logger *logrus.Logger
	now    Clock
}

func NewIdentifierLedger(s store.Store, logger *logrus.Logger, now Clock) *IdentifierLedger {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &IdentifierLedger{store: s, logger: logger, now: clockOrDefault(now)}
}

func (l *IdentifierLedger) run(ctx context.Context, fn func(tx store.Tx) error) error {
	return l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(tx)
	})
}

func (l *IdentifierLedger) Get(ctx context.Context, identifierType IdentifierType, productId string) (*IdentifierRecord, error) {
	collection, err := identifierCollection(identifierType)
	if err != nil {
		return nil, err
	}
	return store.GetAs[IdentifierRecord](ctx, l.store, collection, productId)
}

// Create appends new in-stock identifiers. Values must be unique within the request and the product.
func (l *IdentifierLedger) Create(ctx context.Context, identifierType IdentifierType, productId string, values []string, purchaseId string, warranty string) (*IdentifierRecord, error) {
	var rec *IdentifierRecord
	err := l.run(ctx, func(tx store.Tx) error {
		var err error
		rec, err = l.CreateTx(tx, identifierType, productId, values, purchaseId, warranty)
		return err
	})
	return rec, err
}

func (l *IdentifierLedger) CreateTx(tx store.Tx, identifierType IdentifierType, productId string, values []string, purchaseId string, warranty string) (*IdentifierRecord, error) {
	collection, err := identifierCollection(identifierType)
	if err != nil {
		return nil, err
	}
	if productId == "" {
		return nil, utils.NewValidationError("productId", "is required")
	}
	if len(values) == 0 {
		return nil, utils.NewValidationError("identifiers", "at least one value is required")
	}
	seen := make(map[string]bool, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, utils.NewValidationError("identifiers", "values must not be empty")
		}
		if seen[v] {
			return nil, utils.NewValidationError("identifiers", "duplicate %s %q in request", identifierType, v)
		}
		seen[v] = true
		cleaned = append(cleaned, v)
	}

	rec, err := store.TxFind[IdentifierRecord](tx, collection, productId)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if rec == nil {
		rec = &IdentifierRecord{ProductId: productId, IdentifierType: identifierType, CreatedAt: now}
	}
	for _, v := range cleaned {
		if rec.find(v) != nil {
			return nil, utils.NewValidationError("identifiers", "%s %q already exists for product %q", identifierType, v, productId)
		}
		rec.Identifiers = append(rec.Identifiers, Identifier{Value: v, Warranty: warranty, PurchaseId: purchaseId})
	}
	rec.UpdatedAt = now
	if err := tx.Set(collection, productId, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkSold moves an in-stock unit to sold. A missing product or value reports false, nil.
func (l *IdentifierLedger) MarkSold(ctx context.Context, identifierType IdentifierType, productId, value, invoiceId string) (bool, error) {
	var ok bool
	err := l.run(ctx, func(tx store.Tx) error {
		var err error
		ok, err = l.MarkSoldTx(tx, identifierType, productId, value, invoiceId)
		return err
	})
	return ok, err
}

func (l *IdentifierLedger) MarkSoldTx(tx store.Tx, identifierType IdentifierType, productId, value, invoiceId string) (bool, error) {
	now := l.now()
	return l.transitionTx(tx, identifierType, productId, value, func(id *Identifier) error {
		if id.State() != IdentifierStateInStock {
			return utils.NewValidationError("identifierValue", "%s %q is %s, not in stock", identifierType, value, id.State())
		}
		id.Sold = true
		id.SoldAt = &now
		id.InvoiceId = invoiceId
		return nil
	})
}

// MarkReturnedGood puts a sold (or damaged/opened) unit back in stock.
func (l *IdentifierLedger) MarkReturnedGood(ctx context.Context, identifierType IdentifierType, productId, value string) (bool, error) {
	var ok bool
	err := l.run(ctx, func(tx store.Tx) error {
		var err error
		ok, err = l.MarkReturnedGoodTx(tx, identifierType, productId, value)
		return err
	})
	return ok, err
}

func (l *IdentifierLedger) MarkReturnedGoodTx(tx store.Tx, identifierType IdentifierType, productId, value string) (bool, error) {
	return l.transitionTx(tx, identifierType, productId, value, func(id *Identifier) error {
		switch id.State() {
		case IdentifierStateSold, IdentifierStateDamaged, IdentifierStateOpened:
		case IdentifierStateInStock, IdentifierStateReturnedToSupplier:
			return utils.NewValidationError("identifierValue", "%s %q is %s and cannot be returned", identifierType, value, id.State())
		}
		id.Sold = false
		id.SoldAt = nil
		id.Damaged = false
		id.Opened = false
		return nil
	})
}

// MarkDamagedOrOpened flags a returned unit and counts the event.
func (l *IdentifierLedger) MarkDamagedOrOpened(ctx context.Context, identifierType IdentifierType, productId, value string, kind ConditionKind) (bool, error) {
	var ok bool
	err := l.run(ctx, func(tx store.Tx) error {
		var err error
		ok, err = l.MarkDamagedOrOpenedTx(tx, identifierType, productId, value, kind)
		return err
	})
	return ok, err
}

func (l *IdentifierLedger) MarkDamagedOrOpenedTx(tx store.Tx, identifierType IdentifierType, productId, value string, kind ConditionKind) (bool, error) {
	return l.transitionTx(tx, identifierType, productId, value, func(id *Identifier) error {
		switch id.State() {
		case IdentifierStateSold, IdentifierStateDamaged, IdentifierStateOpened:
		case IdentifierStateInStock, IdentifierStateReturnedToSupplier:
			return utils.NewValidationError("identifierValue", "%s %q is %s and cannot be returned", identifierType, value, id.State())
		}
		switch kind {
		case ConditionDamaged:
			id.Damaged = true
		case ConditionOpened:
			id.Opened = true
		default:
			return utils.NewValidationError("kind", "unknown condition %q", string(kind))
		}
		id.Sold = false
		id.Quantity++
		return nil
	})
}

// MarkReturnedToSupplier is terminal and only allowed for damaged or opened units.
func (l *IdentifierLedger) MarkReturnedToSupplier(ctx context.Context, identifierType IdentifierType, productId, value string) (bool, error) {
	var ok bool
	err := l.run(ctx, func(tx store.Tx) error {
		var err error
		ok, err = l.MarkReturnedToSupplierTx(tx, identifierType, productId, value)
		return err
	})
	return ok, err
}

func (l *IdentifierLedger) MarkReturnedToSupplierTx(tx store.Tx, identifierType IdentifierType, productId, value string) (bool, error) {
	return l.transitionTx(tx, identifierType, productId, value, func(id *Identifier) error {
		switch id.State() {
		case IdentifierStateDamaged, IdentifierStateOpened:
		case IdentifierStateInStock, IdentifierStateSold, IdentifierStateReturnedToSupplier:
			return utils.NewValidationError("identifierValue", "%s %q is %s; only damaged or opened units go back to the supplier", identifierType, value, id.State())
		}
		id.Damaged = false
		id.Opened = false
		id.ReturnedToSupplier = true
		return nil
	})
}

func (l *IdentifierLedger) transitionTx(tx store.Tx, identifierType IdentifierType, productId, value string, apply func(id *Identifier) error) (bool, error) {
	collection, err := identifierCollection(identifierType)
	if err != nil {
		return false, err
	}
	rec, err := store.TxFind[IdentifierRecord](tx, collection, productId)
	if err != nil || rec == nil {
		return false, err
	}
	id := rec.find(value)
	if id == nil {
		return false, nil
	}
	if err := apply(id); err != nil {
		return false, err
	}
	rec.UpdatedAt = l.now()
	if err := tx.Set(collection, productId, rec); err != nil {
		return false, err
	}
	return true, nil
}

// UpdatePurchaseId rewrites a temporary purchase reference and reports how many units changed.
func (l *IdentifierLedger) UpdatePurchaseId(ctx context.Context, identifierType IdentifierType, productId, tempPurchaseId, purchaseId string) (int, error) {
	if tempPurchaseId == "" || purchaseId == "" {
		return 0, utils.NewValidationError("purchaseId", "temporary and final purchase ids are required")
	}
	collection, err := identifierCollection(identifierType)
	if err != nil {
		return 0, err
	}
	var updated int
	err = l.run(ctx, func(tx store.Tx) error {
		updated = 0
		rec, err := store.TxGet[IdentifierRecord](tx, collection, productId)
		if err != nil {
			return err
		}
		for i := range rec.Identifiers {
			if rec.Identifiers[i].PurchaseId == tempPurchaseId {
				rec.Identifiers[i].PurchaseId = purchaseId
				updated++
			}
		}
		if updated == 0 {
			return nil
		}
		rec.UpdatedAt = l.now()
		return tx.Set(collection, productId, rec)
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// UpsertConditionIdentifierTx bumps the side counter for a damaged or opened unit.
func (l *IdentifierLedger) UpsertConditionIdentifierTx(tx store.Tx, kind ConditionKind, identifierType IdentifierType, productId, value, invoiceRef string) (*ConditionIdentifier, error) {
	collection := kind.Collection()
	if collection == "" {
		return nil, utils.NewValidationError("kind", "unknown condition %q", string(kind))
	}
	id := ConditionIdentifierId(productId, identifierType, value)
	row, err := store.TxFind[ConditionIdentifier](tx, collection, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &ConditionIdentifier{ProductId: productId, IdentifierType: identifierType, IdentifierValue: value, InvoiceRefs: []string{}}
	}
	row.Quantity++
	if invoiceRef != "" && !slices.Contains(row.InvoiceRefs, invoiceRef) {
		row.InvoiceRefs = append(row.InvoiceRefs, invoiceRef)
	}
	row.LastReturnAt = l.now()
	if err := tx.Set(collection, id, row); err != nil {
		return nil, err
	}
	return row, nil
}

func identifierCollection(identifierType IdentifierType) (string, error) {
	collection, err := identifierType.Collection()
	if err != nil {
		return "", utils.NewValidationError("identifierType", "%s", err.Error())
	}
	return collection, nil
}
