package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/crypto-bridge/internal/domain/money"
)

func usd(amount string) *money.Money {
	m := money.New(decimal.RequireFromString(amount), "USD")
	return &m
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		ref  string
		want Kind
	}{
		{"gid://shopify/DraftOrder/9", KindDraftOrder},
		{"gid://shopify/Order/42", KindOrder},
		{"42", KindOrder},
		{"#1001", KindName},
		{"D247", KindName},
		{"gid://shopify/Customer/1", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.ref))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "gid://shopify/Order/42", Normalize("42"))
	assert.Equal(t, "gid://shopify/DraftOrder/9", Normalize("gid://shopify/DraftOrder/9"))
	assert.Equal(t, "#1001", Normalize("#1001"))
	assert.Equal(t, "", Normalize(""))
}

func TestAliases(t *testing.T) {
	assert.Equal(t,
		[]string{"42", "gid://shopify/Order/42", "#1001"},
		Aliases("42", "#1001"),
	)
	assert.Equal(t,
		[]string{"gid://shopify/Order/42"},
		Aliases("gid://shopify/Order/42", ""),
	)
	assert.Equal(t, []string{"#1001"}, Aliases("", "#1001"))
}

func TestParseLookup(t *testing.T) {
	assert.Equal(t, Lookup{Name: "#1001"}, ParseLookup(" #1001 "))
	assert.Equal(t, Lookup{Name: "#1001"}, ParseLookup("1001"))
	assert.Equal(t, Lookup{ID: "gid://shopify/Order/5"}, ParseLookup("gid://shopify/Order/5"))
	assert.Equal(t, Lookup{ID: "D247"}, ParseLookup("D247"))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		financial string
		display   string
		want      Status
	}{
		{"PAID", "", StatusSettled},
		{"", "paid", StatusSettled},
		{"", "PARTIALLY_REFUNDED", StatusSettled},
		{"refunded", "", StatusSettled},
		{" VOIDED ", "", StatusSettled},
		{"", "PENDING", StatusOpen},
		{"", "PARTIALLY_PAID", StatusOpen},
		{"", "AUTHORIZED", StatusOpen},
		{"", "", StatusOpen},
		{"PENDING", "PAID", StatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.financial+"/"+tt.display, func(t *testing.T) {
			s := &Snapshot{FinancialStatus: tt.financial, DisplayFinancialStatus: tt.display}
			assert.Equal(t, tt.want, ClassifyStatus(s))
		})
	}
}

func TestAcceptsPayment(t *testing.T) {
	assert.True(t, AcceptsPayment(&Snapshot{DisplayFinancialStatus: "PENDING"}))
	assert.True(t, AcceptsPayment(&Snapshot{DisplayFinancialStatus: "PARTIALLY_PAID"}))
	assert.False(t, AcceptsPayment(&Snapshot{DisplayFinancialStatus: "PAID"}))
	assert.False(t, AcceptsPayment(&Snapshot{}))
}

func TestExtractMoney_Priority(t *testing.T) {
	eur := money.New(decimal.RequireFromString("7"), "EUR")

	tests := []struct {
		name       string
		snap       Snapshot
		wantAmount string
		wantCur    string
		wantSource string
	}{
		{
			name: "outstanding shop wins over everything",
			snap: Snapshot{
				TotalOutstanding: MoneySet{Shop: usd("10"), Presentment: &eur},
				TotalPrice:       MoneySet{Shop: usd("99")},
			},
			wantAmount: "10", wantCur: "USD", wantSource: "totalOutstandingSet.shopMoney",
		},
		{
			name: "outstanding presentment before totals",
			snap: Snapshot{
				TotalOutstanding: MoneySet{Presentment: &eur},
				TotalPrice:       MoneySet{Shop: usd("99")},
			},
			wantAmount: "7", wantCur: "EUR", wantSource: "totalOutstandingSet.presentmentMoney",
		},
		{
			name:       "total shop",
			snap:       Snapshot{TotalPrice: MoneySet{Shop: usd("12.5")}, CurrentSubtotal: MoneySet{Shop: usd("1")}},
			wantAmount: "12.5", wantCur: "USD", wantSource: "totalPriceSet.shopMoney",
		},
		{
			name:       "total presentment",
			snap:       Snapshot{PresentmentTotalPrice: MoneySet{Presentment: &eur}, CurrentSubtotal: MoneySet{Shop: usd("1")}},
			wantAmount: "7", wantCur: "EUR", wantSource: "presentmentTotalPriceSet.presentmentMoney",
		},
		{
			name:       "subtotal shop",
			snap:       Snapshot{CurrentSubtotal: MoneySet{Shop: usd("3"), Presentment: &eur}},
			wantAmount: "3", wantCur: "USD", wantSource: "currentSubtotalPriceSet.shopMoney",
		},
		{
			name:       "subtotal presentment",
			snap:       Snapshot{CurrentSubtotal: MoneySet{Presentment: &eur}},
			wantAmount: "7", wantCur: "EUR", wantSource: "currentSubtotalPriceSet.presentmentMoney",
		},
		{
			name:       "nothing present defaults",
			snap:       Snapshot{},
			wantAmount: "0", wantCur: "USD", wantSource: "",
		},
		{
			name:       "nothing present uses order currency",
			snap:       Snapshot{CurrencyCode: "CAD"},
			wantAmount: "0", wantCur: "CAD", wantSource: "",
		},
		{
			name:       "money without currency falls back to order currency",
			snap:       Snapshot{CurrencyCode: "GBP", TotalPrice: MoneySet{Shop: &money.Money{Amount: decimal.NewFromInt(4)}}},
			wantAmount: "4", wantCur: "GBP", wantSource: "totalPriceSet.shopMoney",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source := ExtractMoneyWithSource(&tt.snap)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(got.Amount), "amount %s", got.Amount)
			assert.Equal(t, tt.wantCur, got.Currency)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestIsBenignCompletionError(t *testing.T) {
	assert.True(t, IsBenignCompletionError("Draft order has already been completed"))
	assert.True(t, IsBenignCompletionError("Order is NOT OPEN"))
	assert.True(t, IsBenignCompletionError("order closed"))
	assert.True(t, IsBenignCompletionError("Completed"))
	assert.False(t, IsBenignCompletionError("Access denied"))
	assert.False(t, IsBenignCompletionError(""))
}

func TestMutationError(t *testing.T) {
	err := &MutationError{Ref: "gid://shopify/Order/1", Messages: []string{"Access denied"}}
	assert.Equal(t, "catalog mutation failed for gid://shopify/Order/1: Access denied", err.Error())
}
