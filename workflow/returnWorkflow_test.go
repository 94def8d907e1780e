package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/notification"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/mmdatafocus/retail_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestProcessReturn_AllConditions(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	inv := phoneAndCableSale(t, d)
	require.Equal(t, "Inv-01", inv.InvoiceNumber)
	require.Equal(t, 1, stock(t, d, "PHONE"))
	require.Equal(t, 7, stock(t, d, "CABLE"))

	w := workflow.NewReturnWorkflow(d)
	result, err := w.ProcessReturn(ctx, &workflow.ProcessReturnInput{
		InvoiceId: "Inv-01",
		Reason:    "changed mind",
		Items: []workflow.ReturnItemInput{
			{Id: "PHONE", IdentifierValue: "S1", ReturnType: "Good"},
			{Id: "PHONE", IdentifierValue: "S2", ReturnType: "Damaged"},
			{Id: "CABLE", Quantity: 2, ReturnType: "Opened"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "rtn-inv-Inv-01-#1", result.ReturnInvoice.InvoiceNumber)
	assert.True(t, result.ReturnInvoice.IsReturn)
	assert.True(t, result.ReturnInvoice.Total.Equal(dec("-220")))
	assert.True(t, result.ReturnAmount.Equal(dec("220")))
	assert.True(t, result.Linked)

	require.Len(t, result.Groups, 3)
	for i, rt := range models.ReturnTypes {
		assert.Equal(t, rt, result.Groups[i].ReturnType)
		assert.Equal(t, workflow.GroupCompleted, result.Groups[i].Status)
		assert.Equal(t, "ret-001", result.Groups[i].ReturnNumber)
	}
	assert.Equal(t, map[string]int{"CABLE": 2}, result.Groups[2].Restored)

	assert.Equal(t, 3, stock(t, d, "PHONE"))
	assert.Equal(t, 9, stock(t, d, "CABLE"))

	s1 := identifier(t, d, "PHONE", "S1")
	assert.Equal(t, models.IdentifierStateInStock, s1.State())
	s2 := identifier(t, d, "PHONE", "S2")
	assert.Equal(t, models.IdentifierStateDamaged, s2.State())
	assert.Equal(t, 1, s2.Quantity)

	records, err := d.Invoices.ListReturnRecords(ctx, models.ReturnTypeDamaged, "Inv-01")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rtn-inv-Inv-01-#1", records[0].ReturnInvoiceId)
	assert.True(t, records[0].ReturnAmount.Equal(dec("220")))

	original, err := d.Invoices.GetInvoice(ctx, "Inv-01")
	require.NoError(t, err)
	assert.True(t, original.IsPartiallyReturned)
	assert.Equal(t, []string{"rtn-inv-Inv-01-#1"}, original.ReturnInvoices)
	assert.True(t, original.Items[0].Returned)
	assert.True(t, original.Items[1].Returned)
	assert.Equal(t, 2, original.Items[2].ReturnedQuantity)
	assert.False(t, original.Items[2].Returned)
}

func TestProcessReturn_SameProductAcrossConditions(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	addProduct(t, d, "MUG", "10", models.IdentifierTypeNone, 5)
	inv, err := d.Invoices.CreateSaleInvoice(ctx, &models.NewSaleInvoice{
		Items: []models.NewInvoiceItem{
			{Id: "MUG", Quantity: 1, Price: dec("10")},
			{Id: "MUG", Quantity: 1, Price: dec("20")},
		},
		Customer:      models.Customer{Name: "Ko Ko"},
		PaymentMethod: models.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.True(t, inv.Subtotal.Equal(dec("30")))

	w := workflow.NewReturnWorkflow(d)
	result, err := w.ProcessReturn(ctx, &workflow.ProcessReturnInput{
		InvoiceId: inv.InvoiceNumber,
		Items: []workflow.ReturnItemInput{
			{Id: "MUG", ReturnType: "Good"},
			{Id: "MUG", ReturnType: "Damaged"},
		},
	})
	require.NoError(t, err)

	assert.True(t, result.ReturnInvoice.Subtotal.Equal(dec("-30")), result.ReturnInvoice.Subtotal.String())
	assert.True(t, result.ReturnAmount.Equal(dec("30")), result.ReturnAmount.String())
	require.Len(t, result.Groups, 2)
	require.Len(t, result.Groups[0].Items, 1)
	require.Len(t, result.Groups[1].Items, 1)
	assert.True(t, result.Groups[0].Items[0].Price.Equal(dec("10")))
	assert.True(t, result.Groups[1].Items[0].Price.Equal(dec("20")))

	records, err := d.Invoices.ListReturnRecords(ctx, models.ReturnTypeDamaged, inv.InvoiceNumber)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Items, 1)
	assert.True(t, records[0].Items[0].Price.Equal(dec("20")))

	original, err := d.Invoices.GetInvoice(ctx, inv.InvoiceNumber)
	require.NoError(t, err)
	assert.True(t, original.Items[0].Returned)
	assert.True(t, original.Items[1].Returned)
	assert.Equal(t, 5, stock(t, d, "MUG"))
}

func TestProcessReturn_Rejections(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	phoneAndCableSale(t, d)
	w := workflow.NewReturnWorkflow(d)

	tests := []struct {
		name  string
		input *workflow.ProcessReturnInput
		check func(error) bool
	}{
		{
			name:  "unknown invoice",
			input: &workflow.ProcessReturnInput{InvoiceId: "Inv-99", Items: []workflow.ReturnItemInput{{Id: "CABLE", ReturnType: "Good"}}},
			check: utils.IsNotFound,
		},
		{
			name:  "no valid return type",
			input: &workflow.ProcessReturnInput{InvoiceId: "Inv-01", Items: []workflow.ReturnItemInput{{Id: "CABLE", ReturnType: "Broken"}}},
			check: utils.IsValidation,
		},
		{
			name:  "more than sold",
			input: &workflow.ProcessReturnInput{InvoiceId: "Inv-01", Items: []workflow.ReturnItemInput{{Id: "CABLE", Quantity: 4, ReturnType: "Good"}}},
			check: utils.IsValidation,
		},
		{
			name: "same unit twice",
			input: &workflow.ProcessReturnInput{InvoiceId: "Inv-01", Items: []workflow.ReturnItemInput{
				{Id: "PHONE", IdentifierValue: "S1", ReturnType: "Good"},
				{Id: "PHONE", IdentifierValue: "S1", ReturnType: "Opened"},
			}},
			check: utils.IsValidation,
		},
		{
			name:  "negative quantity",
			input: &workflow.ProcessReturnInput{InvoiceId: "Inv-01", Items: []workflow.ReturnItemInput{{Id: "CABLE", Quantity: -1, ReturnType: "Good"}}},
			check: utils.IsValidation,
		},
		{
			name:  "item not on invoice",
			input: &workflow.ProcessReturnInput{InvoiceId: "Inv-01", Items: []workflow.ReturnItemInput{{Id: "MOUSE", ReturnType: "Good"}}},
			check: utils.IsValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.ProcessReturn(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	returns, _, err := d.Invoices.ListInvoices(ctx, models.InvoiceFilter{IsReturn: utils.NewTrue()})
	require.NoError(t, err)
	assert.Empty(t, returns, "rejected returns write nothing")
	assert.Equal(t, 7, stock(t, d, "CABLE"))
}

func TestProcessReturn_ReturnInvoiceIsNotAnOriginal(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	phoneAndCableSale(t, d)
	w := workflow.NewReturnWorkflow(d)

	result, err := w.ProcessReturn(ctx, &workflow.ProcessReturnInput{
		InvoiceId: "Inv-01",
		Items:     []workflow.ReturnItemInput{{Id: "CABLE", ReturnType: "Good"}},
	})
	require.NoError(t, err)

	_, err = w.ProcessReturn(ctx, &workflow.ProcessReturnInput{
		InvoiceId: result.ReturnInvoice.InvoiceNumber,
		Items:     []workflow.ReturnItemInput{{Id: "CABLE", ReturnType: "Good"}},
	})
	assert.True(t, utils.IsValidation(err))
}

func TestProcessReturn_IgnoresUnknownTypes(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	phoneAndCableSale(t, d)
	w := workflow.NewReturnWorkflow(d)

	result, err := w.ProcessReturn(ctx, &workflow.ProcessReturnInput{
		InvoiceId: "Inv-01",
		Items: []workflow.ReturnItemInput{
			{Id: "CABLE", ReturnType: "Good"},
			{Id: "PHONE", IdentifierValue: "S1", ReturnType: "Lost"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	require.Len(t, result.IgnoredItems, 1)
	assert.Equal(t, "S1", result.IgnoredItems[0].IdentifierValue)
	assert.True(t, result.ReturnAmount.Equal(dec("10")))
	assert.Equal(t, 8, stock(t, d, "CABLE"))
	assert.Equal(t, 1, stock(t, d, "PHONE"))
}

func TestProcessReturn_RepeatedReturns(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	phoneAndCableSale(t, d)
	w := workflow.NewReturnWorkflow(d)

	cable := func(qty int) *workflow.ProcessReturnInput {
		return &workflow.ProcessReturnInput{
			InvoiceId: "Inv-01",
			Items:     []workflow.ReturnItemInput{{Id: "CABLE", Quantity: qty, ReturnType: "Good"}},
		}
	}
	first, err := w.ProcessReturn(ctx, cable(1))
	require.NoError(t, err)
	second, err := w.ProcessReturn(ctx, cable(1))
	require.NoError(t, err)
	assert.Equal(t, "rtn-inv-Inv-01-#1", first.ReturnInvoice.InvoiceNumber)
	assert.Equal(t, "rtn-inv-Inv-01-#2", second.ReturnInvoice.InvoiceNumber)
	assert.Equal(t, "ret-002", second.Groups[0].ReturnNumber)

	_, err = w.ProcessReturn(ctx, cable(2))
	assert.True(t, utils.IsValidation(err), "only one cable is left to return")

	_, err = w.ProcessReturn(ctx, cable(1))
	require.NoError(t, err)
	original, err := d.Invoices.GetInvoice(ctx, "Inv-01")
	require.NoError(t, err)
	assert.Len(t, original.ReturnInvoices, 3)
	assert.True(t, original.Items[2].Returned)
	assert.Equal(t, 10, stock(t, d, "CABLE"))
}

func TestProcessReturn_PartialFailure(t *testing.T) {
	ctx := context.Background()
	d := newDeps(t, nil)
	phoneAndCableSale(t, d)

	// S2 comes back through another channel first, so the Damaged transition is refused
	_, err := d.Identifiers.MarkReturnedGood(ctx, models.IdentifierTypeSerial, "PHONE", "S2")
	require.NoError(t, err)

	w := workflow.NewReturnWorkflow(d)
	result, err := w.ProcessReturn(ctx, &workflow.ProcessReturnInput{
		InvoiceId: "Inv-01",
		Items: []workflow.ReturnItemInput{
			{Id: "PHONE", IdentifierValue: "S1", ReturnType: "Good"},
			{Id: "PHONE", IdentifierValue: "S2", ReturnType: "Damaged"},
			{Id: "CABLE", ReturnType: "Opened"},
		},
	})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, utils.IsPartialFailure(err))
	assert.Equal(t, 207, utils.HTTPStatus(err))

	var pf *utils.PartialFailureError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, []string{"Good"}, pf.Completed)
	assert.Equal(t, "Damaged", pf.FailedAt)
	assert.True(t, utils.IsValidation(pf.Err))

	require.Len(t, result.Groups, 3)
	assert.Equal(t, workflow.GroupCompleted, result.Groups[0].Status)
	assert.Equal(t, workflow.GroupFailed, result.Groups[1].Status)
	assert.NotEmpty(t, result.Groups[1].Error)
	assert.Equal(t, workflow.GroupSkipped, result.Groups[2].Status)
	assert.True(t, result.Linked)

	// the completed group stays applied, nothing else moved
	assert.Equal(t, 2, stock(t, d, "PHONE"))
	assert.Equal(t, 7, stock(t, d, "CABLE"))
	original, err := d.Invoices.GetInvoice(ctx, "Inv-01")
	require.NoError(t, err)
	assert.True(t, original.Items[0].Returned)
	assert.False(t, original.Items[1].Returned)
	assert.Zero(t, original.Items[2].ReturnedQuantity)
}

func TestProcessReturn_NotifiesCustomer(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := notification.NewMockNotifier(ctrl)
	d := newDeps(t, notifier)
	phoneAndCableSale(t, d)

	notifier.EXPECT().
		SendEmail(gomock.Any(), "aye@example.com", "Return rtn-inv-Inv-01-#1 for invoice Inv-01", gomock.Any(), gomock.Any()).
		Return(errors.New("smtp down"))
	notifier.EXPECT().
		SendSMS(gomock.Any(), "+12015550123", "Return rtn-inv-Inv-01-#1 received. Refund 10.00.").
		Return(nil)

	w := workflow.NewReturnWorkflow(d)
	result, err := w.ProcessReturn(context.Background(), &workflow.ProcessReturnInput{
		InvoiceId: "Inv-01",
		Items:     []workflow.ReturnItemInput{{Id: "CABLE", ReturnType: "Good"}},
	})
	require.NoError(t, err, "a failed email never fails the return")
	assert.True(t, result.Notified)
}

func TestProcessReturn_LockedInvoice(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := redislock.New(rdb)

	d := newDeps(t, nil)
	phoneAndCableSale(t, d)
	d.Locker = locker
	d.LockTTL = 200 * time.Millisecond
	w := workflow.NewReturnWorkflow(d)

	ctx := context.Background()
	held, err := locker.Obtain(ctx, "invoice-return:Inv-01", time.Minute, nil)
	require.NoError(t, err)

	input := &workflow.ProcessReturnInput{
		InvoiceId: "Inv-01",
		Items:     []workflow.ReturnItemInput{{Id: "CABLE", ReturnType: "Good"}},
	}
	_, err = w.ProcessReturn(ctx, input)
	assert.True(t, utils.IsConflict(err))
	assert.Equal(t, 7, stock(t, d, "CABLE"))

	require.NoError(t, held.Release(ctx))
	_, err = w.ProcessReturn(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 8, stock(t, d, "CABLE"))
}
