package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits of the smallest currency unit.
const MoneyScale int32 = 2

// RoundMoney rounds an amount to the smallest currency unit.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// LineAmount returns unit price times quantity rounded to the smallest currency unit.
func LineAmount(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}
