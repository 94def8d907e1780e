package workflow_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/notification"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/workflow"
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

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newDeps wires every service on a memory store. A nil notifier logs instead of sending.
func newDeps(t *testing.T, notifier notification.Notifier) workflow.Deps {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore(store.DefaultMaxAttempts * 4)
	c := cache.NewMemoryCache(0)
	t.Cleanup(c.Close)
	logger := quietLogger()

	inventory := models.NewInventoryLedger(s, c, time.Minute, logger, clock.Now)
	identifiers := models.NewIdentifierLedger(s, logger, clock.Now)
	return workflow.Deps{
		Store:       s,
		Products:    models.NewProductRegistry(s, c, time.Minute, inventory, logger, clock.Now),
		Inventory:   inventory,
		Identifiers: identifiers,
		Invoices:    models.NewInvoiceEngine(s, inventory, identifiers, logger, clock.Now),
		Suppliers:   models.NewSupplierLedgerService(s, logger, clock.Now),
		Dispatcher:  notification.NewDispatcher(notifier, logger, "MM"),
		Logger:      logger,
		Now:         clock.Now,
	}
}

func addProduct(t *testing.T, d workflow.Deps, sku, price string, identifierType models.IdentifierType, opening int) {
	t.Helper()
	_, err := d.Products.CreateProduct(context.Background(), &models.NewProduct{
		Sku:             sku,
		Name:            "Product " + sku,
		SalesPrice:      dec(price),
		IdentifierType:  identifierType,
		OpeningQuantity: opening,
	})
	require.NoError(t, err)
}

func addSerials(t *testing.T, d workflow.Deps, sku string, values ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := d.Identifiers.Create(ctx, models.IdentifierTypeSerial, sku, values, "PUR-seed", "")
	require.NoError(t, err)
	_, err = d.Inventory.ApplyDelta(ctx, sku, len(values), models.InventoryDeltaMeta{Reason: models.InventoryReasonPurchase})
	require.NoError(t, err)
}

func stock(t *testing.T, d workflow.Deps, sku string) int {
	t.Helper()
	rec, err := d.Inventory.GetInventory(context.Background(), sku)
	require.NoError(t, err)
	return rec.TotalQuantity
}

func identifier(t *testing.T, d workflow.Deps, sku, value string) models.Identifier {
	t.Helper()
	rec, err := d.Identifiers.Get(context.Background(), models.IdentifierTypeSerial, sku)
	require.NoError(t, err)
	for _, id := range rec.Identifiers {
		if id.Value == value {
			return id
		}
	}
	t.Fatalf("identifier %s/%s not found", sku, value)
	return models.Identifier{}
}

// phoneAndCableSale sells serials S1 and S2 of PHONE (100 each) and 3 CABLE (10 each).
func phoneAndCableSale(t *testing.T, d workflow.Deps) *models.Invoice {
	t.Helper()
	addProduct(t, d, "PHONE", "100", models.IdentifierTypeSerial, 0)
	addSerials(t, d, "PHONE", "S1", "S2", "S3")
	addProduct(t, d, "CABLE", "10", models.IdentifierTypeNone, 10)

	inv, err := d.Invoices.CreateSaleInvoice(context.Background(), &models.NewSaleInvoice{
		Items: []models.NewInvoiceItem{
			{Id: "PHONE", Quantity: 1, IdentifierValue: "S1"},
			{Id: "PHONE", Quantity: 1, IdentifierValue: "S2"},
			{Id: "CABLE", Quantity: 3},
		},
		Customer:      models.Customer{Name: "Aye Aye", Email: "aye@example.com", Phone: "+1 201-555-0123"},
		PaymentMethod: models.PaymentMethodCash,
	})
	require.NoError(t, err)
	return inv
}
