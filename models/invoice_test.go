package models_test

import (
	"context"
	"sync"
	"testing"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSaleInvoice_NumbersAndDeducts(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 10)
	svc.product(t, "CASE", "20", models.IdentifierTypeNone, 3)

	first, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(
		models.NewInvoiceItem{Id: "CABLE", Quantity: 2},
		models.NewInvoiceItem{Id: "CASE", Quantity: 1, Price: dec("18")},
		models.NewInvoiceItem{Id: "CABLE", Quantity: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, "Inv-01", first.InvoiceNumber)
	assert.True(t, first.Subtotal.Equal(dec("33")), first.Subtotal.String())
	assert.True(t, first.Total.Equal(dec("33")))
	assert.Equal(t, "Product CABLE", first.Items[0].Name)
	for _, item := range first.Items {
		assert.False(t, item.Returned)
	}
	assert.Equal(t, 7, svc.stock(t, "CABLE"))
	assert.Equal(t, 2, svc.stock(t, "CASE"))

	second, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CASE", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "Inv-02", second.InvoiceNumber)

	got, err := svc.invoices.GetInvoice(ctx, "Inv-01")
	require.NoError(t, err)
	assert.Len(t, got.Items, 3)
}

func TestCreateSaleInvoice_DiscountAndTax(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "SPEAKER", "75", models.IdentifierTypeNone, 5)

	input := cashSale(models.NewInvoiceItem{Id: "SPEAKER", Quantity: 3})
	input.Discount = dec("25")
	input.TaxRate = dec("7.5")
	inv, err := svc.invoices.CreateSaleInvoice(ctx, input)
	require.NoError(t, err)
	assert.True(t, inv.Subtotal.Equal(dec("225")))
	assert.True(t, inv.DiscountAmount.Equal(dec("25")))
	assert.True(t, inv.TaxAmount.Equal(dec("15")), inv.TaxAmount.String())
	assert.True(t, inv.Total.Equal(dec("215")))

	input = cashSale(models.NewInvoiceItem{Id: "SPEAKER", Quantity: 1})
	input.Discount = dec("10")
	input.DiscountType = "P"
	inv, err = svc.invoices.CreateSaleInvoice(ctx, input)
	require.NoError(t, err)
	assert.True(t, inv.DiscountAmount.Equal(dec("7.5")))
	assert.True(t, inv.Total.Equal(dec("67.5")))

	input = cashSale(models.NewInvoiceItem{Id: "SPEAKER", Quantity: 1})
	input.Discount = dec("100")
	_, err = svc.invoices.CreateSaleInvoice(ctx, input)
	assert.True(t, utils.IsValidation(err))
}

func TestCreateSaleInvoice_ShortStockWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 10)
	svc.product(t, "CASE", "20", models.IdentifierTypeNone, 1)

	_, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(
		models.NewInvoiceItem{Id: "CABLE", Quantity: 4},
		models.NewInvoiceItem{Id: "CASE", Quantity: 2},
	))
	require.Error(t, err)
	assert.True(t, utils.IsInsufficientStock(err))

	assert.Equal(t, 10, svc.stock(t, "CABLE"))
	assert.Equal(t, 1, svc.stock(t, "CASE"))
	_, err = svc.invoices.GetInvoice(ctx, "Inv-01")
	assert.True(t, utils.IsNotFound(err))

	inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CASE", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "Inv-01", inv.InvoiceNumber)
}

func TestCreateSaleInvoice_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.serialized(t, "PHONE", "500", "S1", "S2")
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 10)

	cases := []struct {
		name  string
		input *models.NewSaleInvoice
	}{
		{"no items", cashSale()},
		{"zero quantity", cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 0})},
		{"serial missing", cashSale(models.NewInvoiceItem{Id: "PHONE", Quantity: 1})},
		{"serial with two units", cashSale(models.NewInvoiceItem{Id: "PHONE", Quantity: 2, IdentifierValue: "S1"})},
		{"serial on untracked product", cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 1, IdentifierValue: "S1"})},
		{"duplicate serial", cashSale(
			models.NewInvoiceItem{Id: "PHONE", Quantity: 1, IdentifierValue: "S1"},
			models.NewInvoiceItem{Id: "PHONE", Quantity: 1, IdentifierValue: "S1"},
		)},
		{"unknown serial", cashSale(models.NewInvoiceItem{Id: "PHONE", Quantity: 1, IdentifierValue: "S9"})},
		{"bad payment", &models.NewSaleInvoice{
			Items:         []models.NewInvoiceItem{{Id: "CABLE", Quantity: 1}},
			Customer:      models.Customer{Name: "x"},
			PaymentMethod: "Barter",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.invoices.CreateSaleInvoice(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, utils.IsValidation(err), err.Error())
		})
	}

	_, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "NOPE", Quantity: 1}))
	assert.True(t, utils.IsNotFound(err))
	assert.Equal(t, 10, svc.stock(t, "CABLE"))
	assert.Equal(t, 2, svc.stock(t, "PHONE"))
}

func TestCreateSaleInvoice_MarksSerialsSold(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.serialized(t, "PHONE", "500", "S1", "S2")

	inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "PHONE", Quantity: 1, IdentifierValue: "S2"}))
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierTypeSerial, inv.Items[0].IdentifierType)
	assert.Equal(t, models.IdentifierStateSold, identifierState(t, svc, "PHONE", "S2"))
	assert.Equal(t, models.IdentifierStateInStock, identifierState(t, svc, "PHONE", "S1"))
	assert.Equal(t, 1, svc.stock(t, "PHONE"))

	_, err = svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "PHONE", Quantity: 1, IdentifierValue: "S2"}))
	assert.True(t, utils.IsValidation(err))
	assert.Equal(t, 1, svc.stock(t, "PHONE"))
}

func TestCreateSaleInvoice_ConcurrentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 100)

	const n = 10
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 1}))
			if err != nil {
				t.Errorf("CreateSaleInvoice: %v", err)
				return
			}
			numbers <- inv.InvoiceNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for number := range numbers {
		assert.False(t, seen[number], "duplicate %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[models.SaleInvoiceNumber(i)], "missing %s", models.SaleInvoiceNumber(i))
	}
	assert.Equal(t, 100-n, svc.stock(t, "CABLE"))
}

func TestMarkReturnedLines_FlipsWhenFullyReturned(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 10)
	inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 3}))
	require.NoError(t, err)

	updated, err := svc.invoices.MarkReturnedLines(ctx, inv.InvoiceNumber, []models.ReturnedLine{{Id: "CABLE", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Items[0].ReturnedQuantity)
	assert.False(t, updated.Items[0].Returned)

	_, err = svc.invoices.MarkReturnedLines(ctx, inv.InvoiceNumber, []models.ReturnedLine{{Id: "CABLE", Quantity: 2}})
	assert.True(t, utils.IsValidation(err), "only one unit is left to return")

	updated, err = svc.invoices.MarkReturnedLines(ctx, inv.InvoiceNumber, []models.ReturnedLine{{Id: "CABLE", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Items[0].ReturnedQuantity)
	assert.True(t, updated.Items[0].Returned)

	_, err = svc.invoices.MarkReturnedLines(ctx, inv.InvoiceNumber, []models.ReturnedLine{{Id: "OTHER", Quantity: 1}})
	assert.True(t, utils.IsValidation(err))
}

func TestAllocateReturnGroups_SharesReturnableUnits(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "MUG", "10", models.IdentifierTypeNone, 5)
	inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(
		models.NewInvoiceItem{Id: "MUG", Quantity: 1, Price: dec("10")},
		models.NewInvoiceItem{Id: "MUG", Quantity: 1, Price: dec("20")},
	))
	require.NoError(t, err)

	allocations, err := models.AllocateReturnGroups(inv, map[models.ReturnType][]models.ReturnedLine{
		models.ReturnTypeDamaged: {{Id: "MUG", Quantity: 1}},
		models.ReturnTypeGood:    {{Id: "MUG", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.LineAllocation{{Index: 0, Quantity: 1}}, allocations[models.ReturnTypeGood])
	assert.Equal(t, []models.LineAllocation{{Index: 1, Quantity: 1}}, allocations[models.ReturnTypeDamaged])

	good := models.ReturnItemsFor(inv, allocations[models.ReturnTypeGood], models.ReturnTypeGood)
	damaged := models.ReturnItemsFor(inv, allocations[models.ReturnTypeDamaged], models.ReturnTypeDamaged)
	totals := models.CalculateReturnTotals(inv, append(good, damaged...))
	assert.True(t, totals.Subtotal.Equal(dec("30")), totals.Subtotal.String())

	_, err = models.AllocateReturnGroups(inv, map[models.ReturnType][]models.ReturnedLine{
		models.ReturnTypeGood:   {{Id: "MUG", Quantity: 2}},
		models.ReturnTypeOpened: {{Id: "MUG", Quantity: 1}},
	})
	assert.True(t, utils.IsValidation(err), "three units asked for, two sold")

	err = svc.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := svc.invoices.MarkAllocatedLinesTx(tx, inv.InvoiceNumber, allocations[models.ReturnTypeDamaged])
		return err
	})
	require.NoError(t, err)
	got, err := svc.invoices.GetInvoice(ctx, inv.InvoiceNumber)
	require.NoError(t, err)
	assert.False(t, got.Items[0].Returned)
	assert.True(t, got.Items[1].Returned)

	err = svc.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := svc.invoices.MarkAllocatedLinesTx(tx, inv.InvoiceNumber, allocations[models.ReturnTypeDamaged])
		return err
	})
	assert.True(t, utils.IsValidation(err), "the line was already returned")
}

func TestUpdateOriginalInvoiceReturnStatus_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 10)
	inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 3}))
	require.NoError(t, err)
	assert.False(t, inv.IsPartiallyReturned)

	for i := 0; i < 2; i++ {
		updated, err := svc.invoices.UpdateOriginalInvoiceReturnStatus(ctx, inv.InvoiceNumber, "rtn-inv-Inv-01-#1")
		require.NoError(t, err)
		assert.Equal(t, []string{"rtn-inv-Inv-01-#1"}, updated.ReturnInvoices)
		assert.True(t, updated.IsPartiallyReturned)
	}

	_, err = svc.invoices.UpdateOriginalInvoiceReturnStatus(ctx, "Inv-99", "rtn-inv-Inv-99-#1")
	assert.True(t, utils.IsNotFound(err))
}

func TestListInvoices_FiltersReturns(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	svc.product(t, "CABLE", "5", models.IdentifierTypeNone, 10)
	inv, err := svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 3}))
	require.NoError(t, err)
	_, err = svc.invoices.CreateSaleInvoice(ctx, cashSale(models.NewInvoiceItem{Id: "CABLE", Quantity: 1}))
	require.NoError(t, err)
	items, err := models.BuildReturnItems(inv, []models.ReturnedLine{{Id: "CABLE", Quantity: 1}}, models.ReturnTypeGood)
	require.NoError(t, err)
	_, err = svc.invoices.CreateReturnInvoice(ctx, inv.InvoiceNumber, items, "changed mind")
	require.NoError(t, err)

	all, info, err := svc.invoices.ListInvoices(ctx, models.InvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 3, info.Total)
	assert.True(t, all[0].IsReturn, "newest first")

	sales, _, err := svc.invoices.ListInvoices(ctx, models.InvoiceFilter{IsReturn: utils.NewFalse()})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	returns, _, err := svc.invoices.ListInvoices(ctx, models.InvoiceFilter{OriginalInvoiceId: inv.InvoiceNumber})
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, "rtn-inv-Inv-01-#1", returns[0].InvoiceNumber)
}
