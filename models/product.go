package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Product struct {
	Sku                string           `json:"sku"`
	Name               string           `json:"name"`
	CostPrice          decimal.Decimal  `json:"costPrice"`
	CostPricePercent   *decimal.Decimal `json:"costPricePercent,omitempty"`
	SalesPrice         decimal.Decimal  `json:"salesPrice"`
	SalesPricePercent  *decimal.Decimal `json:"salesPricePercent,omitempty"`
	MarginPrice        decimal.Decimal  `json:"marginPrice"`
	MarginPricePercent *decimal.Decimal `json:"marginPricePercent,omitempty"`
	RetailPrice        decimal.Decimal  `json:"retailPrice"`
	RetailPricePercent *decimal.Decimal `json:"retailPricePercent,omitempty"`
	Category           string           `json:"category,omitempty"`
	Barcode            string           `json:"barcode,omitempty"`
	IdentifierType     IdentifierType   `json:"identifierType"`
	HasWarranty        bool             `json:"hasWarranty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

type NewProduct struct {
	Sku                string           `json:"sku" validate:"required,max=64"`
	Name               string           `json:"name" validate:"required,max=200"`
	CostPrice          decimal.Decimal  `json:"costPrice"`
	CostPricePercent   *decimal.Decimal `json:"costPricePercent"`
	SalesPrice         decimal.Decimal  `json:"salesPrice"`
	SalesPricePercent  *decimal.Decimal `json:"salesPricePercent"`
	MarginPrice        decimal.Decimal  `json:"marginPrice"`
	MarginPricePercent *decimal.Decimal `json:"marginPricePercent"`
	RetailPrice        decimal.Decimal  `json:"retailPrice"`
	RetailPricePercent *decimal.Decimal `json:"retailPricePercent"`
	Category           string           `json:"category" validate:"max=100"`
	Barcode            string           `json:"barcode" validate:"max=64"`
	IdentifierType     IdentifierType   `json:"identifierType"`
	HasWarranty        bool             `json:"hasWarranty"`
	// OpeningQuantity books initial stock for untracked products in the same commit.
	OpeningQuantity int `json:"openingQuantity" validate:"gte=0"`
}

func (input *NewProduct) validate() error {
	input.Sku = strings.TrimSpace(input.Sku)
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if strings.ContainsAny(input.Sku, "|/ \t") {
		return utils.NewValidationError("sku", "must not contain spaces, '|' or '/'")
	}
	if input.IdentifierType == "" {
		input.IdentifierType = IdentifierTypeNone
	}
	if _, err := ParseIdentifierType(string(input.IdentifierType)); err != nil {
		return utils.NewValidationError("identifierType", "%s", err.Error())
	}
	for name, price := range map[string]decimal.Decimal{
		"costPrice":   input.CostPrice,
		"salesPrice":  input.SalesPrice,
		"marginPrice": input.MarginPrice,
		"retailPrice": input.RetailPrice,
	} {
		if price.IsNegative() {
			return utils.NewValidationError(name, "must not be negative")
		}
	}
	if input.OpeningQuantity > 0 && input.IdentifierType.Tracked() {
		return utils.NewValidationError("openingQuantity", "serialized products receive stock through purchases")
	}
	return nil
}

func roundPercent(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := p.Round(4)
	return &v
}

func (input *NewProduct) apply(p *Product) {
	p.Name = input.Name
	p.CostPrice = utils.RoundMoney(input.CostPrice)
	p.CostPricePercent = roundPercent(input.CostPricePercent)
	p.SalesPrice = utils.RoundMoney(input.SalesPrice)
	p.SalesPricePercent = roundPercent(input.SalesPricePercent)
	p.MarginPrice = utils.RoundMoney(input.MarginPrice)
	p.MarginPricePercent = roundPercent(input.MarginPricePercent)
	p.RetailPrice = utils.RoundMoney(input.RetailPrice)
	p.RetailPricePercent = roundPercent(input.RetailPricePercent)
	p.Category = input.Category
	p.Barcode = input.Barcode
	p.IdentifierType = input.IdentifierType
	p.HasWarranty = input.HasWarranty
}

type ProductRegistry struct {
	store     store.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	inventory *InventoryLedger
	logger    *logrus.Logger
	now       Clock
}

func NewProductRegistry(s store.Store, c cache.Cache, cacheTTL time.Duration, inventory *InventoryLedger, logger *logrus.Logger, now Clock) *ProductRegistry {
	if c == nil {
		c = cache.NoopCache{}
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &ProductRegistry{store: s, cache: c, cacheTTL: cacheTTL, inventory: inventory, logger: logger, now: clockOrDefault(now)}
}

// CreateProduct registers a product. The SKU existence check and the write share one transaction.
func (r *ProductRegistry) CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	now := r.now()
	product := &Product{Sku: input.Sku, CreatedAt: now, UpdatedAt: now}
	input.apply(product)

	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Create(CollectionProducts, product.Sku, product); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return utils.NewValidationError("sku", "product %q already exists", product.Sku)
			}
			return err
		}
		if input.OpeningQuantity > 0 {
			_, err := r.inventory.ApplyDeltaTx(tx, product.Sku, input.OpeningQuantity, InventoryDeltaMeta{
				Reason: InventoryReasonOpening,
				Date:   now,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, product.Sku)
	if input.OpeningQuantity > 0 {
		r.inventory.Invalidate(ctx, product.Sku)
	}
	return product, nil
}

// UpdateProduct rewrites a product in place. The SKU is the document id and cannot change.
func (r *ProductRegistry) UpdateProduct(ctx context.Context, sku string, input *NewProduct) (*Product, error) {
	if input.Sku == "" {
		input.Sku = sku
	}
	if strings.TrimSpace(input.Sku) != sku {
		return nil, utils.NewValidationError("sku", "sku is immutable")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.OpeningQuantity > 0 {
		return nil, utils.NewValidationError("openingQuantity", "opening stock can only be set at creation")
	}

	var updated Product
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := store.TxGet[Product](tx, CollectionProducts, sku)
		if err != nil {
			return err
		}
		if current.IdentifierType != input.IdentifierType {
			hasStock, err := r.hasInventoryTx(tx, sku)
			if err != nil {
				return err
			}
			if hasStock {
				return utils.NewValidationError("identifierType", "cannot change identifier type of a product with inventory")
			}
		}
		input.apply(current)
		current.UpdatedAt = r.now()
		updated = *current
		return tx.Set(CollectionProducts, sku, current)
	})
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, sku)
	return &updated, nil
}

func (r *ProductRegistry) hasInventoryTx(tx store.Tx, sku string) (bool, error) {
	rec, err := store.TxFind[InventoryRecord](tx, CollectionInventory, sku)
	if err != nil {
		return false, err
	}
	return rec != nil && len(rec.History) > 0, nil
}

func (r *ProductRegistry) GetProduct(ctx context.Context, sku string) (*Product, error) {
	var cached Product
	if found, err := cache.GetObject(ctx, r.cache, cache.ProductKey(sku), &cached); err == nil && found {
		return &cached, nil
	} else if err != nil {
		config.LogError(r.logger, "product.go", "GetProduct", "cache get", sku, err)
	}
	product, err := store.GetAs[Product](ctx, r.store, CollectionProducts, sku)
	if err != nil {
		return nil, err
	}
	if err := cache.SetObject(ctx, r.cache, cache.ProductKey(sku), product, r.cacheTTL); err != nil {
		config.LogError(r.logger, "product.go", "GetProduct", "cache set", sku, err)
	}
	return product, nil
}

func (r *ProductRegistry) ListProducts(ctx context.Context) ([]Product, error) {
	var cached []Product
	if found, err := cache.GetObject(ctx, r.cache, cache.ProductAllKey, &cached); err == nil && found {
		return cached, nil
	}
	products, err := store.QueryAs[Product](ctx, r.store, store.Collection(CollectionProducts).Order("sku", false))
	if err != nil {
		return nil, err
	}
	if err := cache.SetObject(ctx, r.cache, cache.ProductAllKey, products, r.cacheTTL); err != nil {
		config.LogError(r.logger, "product.go", "ListProducts", "cache set", nil, err)
	}
	return products, nil
}

// GetProductTx reads a product inside a transaction; the cache is never consulted here.
func GetProductTx(tx store.Tx, sku string) (*Product, error) {
	return store.TxGet[Product](tx, CollectionProducts, sku)
}

func (r *ProductRegistry) invalidate(ctx context.Context, sku string) {
	if err := r.cache.Delete(ctx, cache.ProductKey(sku), cache.ProductAllKey); err != nil {
		config.LogError(r.logger, "product.go", "invalidate", "cache delete", sku, err)
	}
}
