// Package money defines the amount/currency pair quoted to customers.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when no currency can be resolved.
const DefaultCurrency = "USD"

// Epsilon is the absolute amount tolerance used when comparing a cached
// invoice amount with a freshly fetched one.
var Epsilon = decimal.New(1, -8)

// Money is an amount paired with its currency code. Amounts in different
// currencies are never compared directly.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New returns Money with the currency normalized to upper case. An empty
// currency falls back to DefaultCurrency.
func New(amount decimal.Decimal, currency string) Money {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

// Payable reports whether the amount is strictly positive.
func (m Money) Payable() bool {
	return m.Amount.IsPositive()
}

// Matches reports whether m and other carry the same currency and amounts
// that differ by less than Epsilon.
func (m Money) Matches(other Money) bool {
	if m.Currency != other.Currency {
		return false
	}
	return m.Amount.Sub(other.Amount).Abs().LessThan(Epsilon)
}

// ShortOf reports whether paid falls below m by more than Epsilon.
func (m Money) ShortOf(paid decimal.Decimal) bool {
	return paid.Add(Epsilon).LessThan(m.Amount)
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}
