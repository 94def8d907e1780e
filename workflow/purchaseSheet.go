package workflow

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/xuri/excelize/v2"
)

const PurchaseSheetContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const purchaseSheetName = "Sheet1"

var purchaseSheetHeadings = []string{"ProductId", "Quantity", "UnitCost", "LineTotal", "Identifiers"}

// PurchaseSheet renders a purchase as an xlsx workbook for the supplier.
func PurchaseSheet(purchase *models.Purchase) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	col := 'A'
	for _, h := range purchaseSheetHeadings {
		if err := f.SetCellValue(purchaseSheetName, string(col)+"1", h); err != nil {
			return nil, err
		}
		col++
	}

	rowNo := 2
	for _, item := range purchase.Items {
		values := []any{
			item.ProductId,
			item.Quantity,
			item.UnitCost.InexactFloat64(),
			item.LineTotal().InexactFloat64(),
			strings.Join(item.Identifiers, ", "),
		}
		col := 'A'
		for _, v := range values {
			if err := f.SetCellValue(purchaseSheetName, string(col)+fmt.Sprint(rowNo), v); err != nil {
				return nil, err
			}
			col++
		}
		rowNo++
	}
	if err := f.SetCellValue(purchaseSheetName, "C"+fmt.Sprint(rowNo), "Total"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(purchaseSheetName, "D"+fmt.Sprint(rowNo), purchase.TotalAmount.InexactFloat64()); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write purchase sheet: %w", err)
	}
	return buf.Bytes(), nil
}
