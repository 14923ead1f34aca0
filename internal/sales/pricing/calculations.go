// Package pricing holds the exact-decimal money arithmetic used by
// quotations, negotiation rounds, payments and commissions.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for amounts.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// ErrNegativeAmount is returned for prices below zero.
var ErrNegativeAmount = errors.New("amount must not be negative")

// LineTotal returns unitPrice × quantity.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Round rounds half away from zero to cents.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// Percent returns amount × pct / 100 rounded to cents.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// ApplyMarkup returns cost × (1 + pct/100) rounded to cents.
func ApplyMarkup(cost, pct decimal.Decimal) decimal.Decimal {
	return Round(cost.Add(cost.Mul(pct).Div(hundred)))
}

// ValidatePrice rejects negative prices and more than MoneyScale decimals.
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrNegativeAmount
	}
	if !price.Equal(price.Round(MoneyScale)) {
		return errors.New("amount has more than two decimal places")
	}
	return nil
}

// Min returns the smaller amount.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
