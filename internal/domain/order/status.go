package order

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/crypto-bridge/internal/domain/money"
)

// Status is the payment classification of an order.
type Status int

const (
	// StatusOpen means the order may still require payment.
	StatusOpen Status = iota
	// StatusSettled means the order requires no further payment.
	StatusSettled
)

func (s Status) String() string {
	if s == StatusSettled {
		return "settled"
	}
	return "open"
}

var settledStatuses = map[string]struct{}{
	"PAID":               {},
	"PARTIALLY_REFUNDED": {},
	"REFUNDED":           {},
	"VOIDED":             {},
}

var payableStatuses = map[string]struct{}{
	"PENDING":        {},
	"PARTIALLY_PAID": {},
}

// NormalizedStatus returns the upper-cased financial status, preferring the
// raw financial status over the display one.
func (s *Snapshot) NormalizedStatus() string {
	st := s.FinancialStatus
	if st == "" {
		st = s.DisplayFinancialStatus
	}
	return strings.ToUpper(strings.TrimSpace(st))
}

// ClassifyStatus returns StatusSettled iff the order is paid, partially
// refunded, refunded or voided.
func ClassifyStatus(s *Snapshot) Status {
	if _, ok := settledStatuses[s.NormalizedStatus()]; ok {
		return StatusSettled
	}
	return StatusOpen
}

// AcceptsPayment reports whether the order can still be marked paid:
// pending or partially paid.
func AcceptsPayment(s *Snapshot) bool {
	_, ok := payableStatuses[s.NormalizedStatus()]
	return ok
}

// moneyAccessor reads one money field variant of a snapshot.
type moneyAccessor struct {
	name string
	get  func(s *Snapshot) *money.Money
}

// moneyPriority is evaluated in order, first present field wins. Changing
// the order changes which amount and currency is quoted.
var moneyPriority = []moneyAccessor{
	{"totalOutstandingSet.shopMoney", func(s *Snapshot) *money.Money { return s.TotalOutstanding.Shop }},
	{"totalOutstandingSet.presentmentMoney", func(s *Snapshot) *money.Money { return s.TotalOutstanding.Presentment }},
	{"totalPriceSet.shopMoney", func(s *Snapshot) *money.Money { return s.TotalPrice.Shop }},
	{"presentmentTotalPriceSet.presentmentMoney", func(s *Snapshot) *money.Money { return s.PresentmentTotalPrice.Presentment }},
	{"currentSubtotalPriceSet.shopMoney", func(s *Snapshot) *money.Money { return s.CurrentSubtotal.Shop }},
	{"currentSubtotalPriceSet.presentmentMoney", func(s *Snapshot) *money.Money { return s.CurrentSubtotal.Presentment }},
}

// ExtractMoney resolves the amount to quote for the order. When no money
// field is present the amount is 0; callers treat amounts <= 0 as nothing
// payable. The currency falls back to the order currency, then USD.
func ExtractMoney(s *Snapshot) money.Money {
	m, _ := ExtractMoneyWithSource(s)
	return m
}

// ExtractMoneyWithSource is ExtractMoney that also names the field the
// amount was taken from, or "" when none was present.
func ExtractMoneyWithSource(s *Snapshot) (money.Money, string) {
	for _, a := range moneyPriority {
		if m := a.get(s); m != nil {
			currency := m.Currency
			if currency == "" {
				currency = s.CurrencyCode
			}
			return money.New(m.Amount, currency), a.name
		}
	}
	return money.New(decimal.Zero, s.CurrencyCode), ""
}
