package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/retail_backend/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type SaleResult struct {
	Invoice  *models.Invoice `json:"invoice"`
	Notified bool            `json:"notified"`
}

type SaleWorkflow struct {
	Deps
}

func NewSaleWorkflow(d Deps) *SaleWorkflow {
	return &SaleWorkflow{Deps: d.withDefaults()}
}

// CreateSale books the invoice and sends the receipt. A failed receipt never fails the sale.
func (w *SaleWorkflow) CreateSale(ctx context.Context, input *models.NewSaleInvoice) (*SaleResult, error) {
	ctx, span := w.Tracer.Start(ctx, "CreateSale")
	defer span.End()

	inv, err := w.Invoices.CreateSaleInvoice(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("invoice.number", inv.InvoiceNumber))
	return &SaleResult{Invoice: inv, Notified: w.sendReceipt(ctx, inv)}, nil
}

func (w *SaleWorkflow) sendReceipt(ctx context.Context, inv *models.Invoice) bool {
	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\nThank you for your purchase.\n\n", inv.Customer.Name)
	for _, item := range inv.Items {
		line := item.LineTotal()
		fmt.Fprintf(&body, "  %d x %s  %s\n", item.Quantity, item.Name, line.StringFixed(2))
	}
	fmt.Fprintf(&body, "\nSubtotal: %s\n", inv.Subtotal.StringFixed(2))
	if !inv.DiscountAmount.IsZero() {
		fmt.Fprintf(&body, "Discount: %s\n", inv.DiscountAmount.StringFixed(2))
	}
	if !inv.TaxAmount.IsZero() {
		fmt.Fprintf(&body, "Tax: %s\n", inv.TaxAmount.StringFixed(2))
	}
	fmt.Fprintf(&body, "Total: %s\n", inv.Total.StringFixed(2))

	emailed := w.Dispatcher.Email(ctx, inv.Customer.Email, "Receipt "+inv.InvoiceNumber, body.String())
	texted := w.Dispatcher.SMS(ctx, inv.Customer.Phone, fmt.Sprintf("Invoice %s total %s. Thank you!", inv.InvoiceNumber, inv.Total.StringFixed(2)))
	return emailed || texted
}
