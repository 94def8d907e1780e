package utils

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the minor-unit precision every derived amount is rounded to.
const MoneyPlaces int32 = 2

var decimalOneHundred = decimal.NewFromInt(100)

func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}

// CalculateTaxAmount applies a percentage rate to an amount.
func CalculateTaxAmount(rate decimal.Decimal, totalAmount decimal.Decimal, isTaxInclusive bool) decimal.Decimal {
	if rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	var taxAmount decimal.Decimal
	if isTaxInclusive {
		// Tax-inclusive: (totalAmount / (100 + taxRate)) * taxRate
		taxAmount = totalAmount.Mul(rate).Div(rate.Add(decimalOneHundred))
	} else {
		// Tax-exclusive: (totalAmount / 100) * taxRate
		taxAmount = totalAmount.Mul(rate).Div(decimalOneHundred)
	}
	return RoundMoney(taxAmount)
}

// CalculateDiscountAmount resolves a discount given as percent ("P") or absolute amount ("A").
func CalculateDiscountAmount(subTotal decimal.Decimal, discount decimal.Decimal, discountType string) decimal.Decimal {
	if !discount.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	if discountType == "P" {
		return RoundMoney(subTotal.Mul(discount).Div(decimalOneHundred))
	}
	return RoundMoney(discount)
}

// ProportionalAmount allocates part of a whole-invoice amount to a share of its subtotal:
// amount * share / whole. A zero whole yields zero instead of dividing.
func ProportionalAmount(amount decimal.Decimal, share decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return RoundMoney(amount.Mul(share).Div(whole))
}
