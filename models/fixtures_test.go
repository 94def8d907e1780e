package models_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type services struct {
	store       *store.MemoryStore
	cache       *cache.MemoryCache
	inventory   *models.InventoryLedger
	identifiers *models.IdentifierLedger
	products    *models.ProductRegistry
	invoices    *models.InvoiceEngine
	suppliers   *models.SupplierLedgerService
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newServices(t *testing.T) *services {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore(store.DefaultMaxAttempts * 4)
	c := cache.NewMemoryCache(0)
	t.Cleanup(c.Close)
	logger := quietLogger()

	inventory := models.NewInventoryLedger(s, c, time.Minute, logger, clock.Now)
	identifiers := models.NewIdentifierLedger(s, logger, clock.Now)
	return &services{
		store:       s,
		cache:       c,
		inventory:   inventory,
		identifiers: identifiers,
		products:    models.NewProductRegistry(s, c, time.Minute, inventory, logger, clock.Now),
		invoices:    models.NewInvoiceEngine(s, inventory, identifiers, logger, clock.Now),
		suppliers:   models.NewSupplierLedgerService(s, logger, clock.Now),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (svc *services) product(t *testing.T, sku string, price string, identifierType models.IdentifierType, opening int) *models.Product {
	t.Helper()
	p, err := svc.products.CreateProduct(context.Background(), &models.NewProduct{
		Sku:             sku,
		Name:            "Product " + sku,
		SalesPrice:      dec(price),
		IdentifierType:  identifierType,
		OpeningQuantity: opening,
	})
	require.NoError(t, err)
	return p
}

// serialized registers a tracked product and receives the given units into stock.
func (svc *services) serialized(t *testing.T, sku string, price string, values ...string) {
	t.Helper()
	ctx := context.Background()
	svc.product(t, sku, price, models.IdentifierTypeSerial, 0)
	_, err := svc.identifiers.Create(ctx, models.IdentifierTypeSerial, sku, values, "PUR-test", "")
	require.NoError(t, err)
	_, err = svc.inventory.ApplyDelta(ctx, sku, len(values), models.InventoryDeltaMeta{Reason: models.InventoryReasonPurchase})
	require.NoError(t, err)
}

func (svc *services) stock(t *testing.T, sku string) int {
	t.Helper()
	rec, err := svc.inventory.GetInventory(context.Background(), sku)
	require.NoError(t, err)
	return rec.TotalQuantity
}

func cashSale(items ...models.NewInvoiceItem) *models.NewSaleInvoice {
	return &models.NewSaleInvoice{
		Items:         items,
		Customer:      models.Customer{Name: "Walk-in"},
		PaymentMethod: models.PaymentMethodCash,
	}
}
