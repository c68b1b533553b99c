package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in one of the supported currencies.
// Arithmetic is kept at full precision; Round is applied only at display or
// comparison boundaries.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// NewMoney creates a new Money instance.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// Convert converts the money to a target currency using rate (Target / Source).
// No rounding is applied.
func (m Money) Convert(targetCurrency Currency, rate decimal.Decimal) Money {
	if targetCurrency == m.Currency {
		return m
	}
	return Money{
		Amount:   m.Amount.Mul(rate),
		Currency: targetCurrency,
	}
}

// Round returns the money rounded half-up to cents.
func (m Money) Round() Money {
	return Money{Amount: RoundAmount(m.Amount), Currency: m.Currency}
}

// RoundAmount rounds half-up to two decimal places. Amounts are never negative,
// so decimal's half-away-from-zero rounding is half-up here.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(AmountScale), m.Currency)
}
