package invoice

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentID_RoundTrip(t *testing.T) {
	key := "gid://shopify/DraftOrder/9"
	id := DocumentID(key)

	assert.NotContains(t, id, "/")
	assert.NotContains(t, id, "+")
	assert.NotContains(t, id, "=")

	got, err := KeyFromDocumentID(id)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestNormalize_Defaults(t *testing.T) {
	empty := ""
	rec := Normalize(Record{OrderID: "x", Shop: &empty})

	assert.Equal(t, "USD", rec.Currency)
	assert.True(t, rec.ExpectedAmount.IsZero())
	assert.Nil(t, rec.Shop)
}

func TestMerge(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	shop := "example.myshopify.com"

	issued := &Record{
		OrderID:        "gid://shopify/Order/1",
		OrderName:      "#1001",
		InvoiceURL:     "https://pay.example/inv/1",
		ExpectedAmount: decimal.RequireFromString("25.00"),
		Currency:       "USD",
		Shop:           &shop,
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	t.Run("first write stamps timestamps", func(t *testing.T) {
		got := Merge(nil, Record{OrderID: "a"}, now)
		assert.Equal(t, "a", got.OrderName)
		assert.Equal(t, now, got.CreatedAt)
		assert.Equal(t, now, got.UpdatedAt)
		assert.Equal(t, "USD", got.Currency)
	})

	t.Run("placeholder write keeps issued invoice", func(t *testing.T) {
		got := Merge(issued, Record{
			OrderID:          "gid://shopify/Order/1",
			ExpectedAmount:   decimal.RequireFromString("3"),
			Currency:         "BTC",
			LastStatus:       "waiting",
			LastPaidAmount:   decimal.RequireFromString("3"),
			LastPaidCurrency: "BTC",
		}, now)

		assert.Equal(t, issued.InvoiceURL, got.InvoiceURL)
		assert.Equal(t, "#1001", got.OrderName)
		assert.True(t, decimal.RequireFromString("25").Equal(got.ExpectedAmount))
		assert.Equal(t, "USD", got.Currency)
		assert.Equal(t, "waiting", got.LastStatus)
		assert.Equal(t, "BTC", got.LastPaidCurrency)
		assert.Equal(t, &shop, got.Shop)
		assert.Equal(t, created, got.CreatedAt)
		assert.Equal(t, now, got.UpdatedAt)
	})

	t.Run("new invoice replaces triple", func(t *testing.T) {
		got := Merge(issued, Record{
			OrderID:        "gid://shopify/Order/1",
			OrderName:      "#1001",
			InvoiceURL:     "https://pay.example/inv/2",
			ExpectedAmount: decimal.RequireFromString("30.00"),
			Currency:       "USD",
		}, now)

		assert.Equal(t, "https://pay.example/inv/2", got.InvoiceURL)
		assert.True(t, decimal.RequireFromString("30").Equal(got.ExpectedAmount))
		assert.Equal(t, &shop, got.Shop)
	})

	t.Run("placeholder row is replaced by placeholder", func(t *testing.T) {
		placeholder := &Record{OrderID: "x", Currency: "USD", ExpectedAmount: decimal.NewFromInt(1), CreatedAt: created}
		got := Merge(placeholder, Record{OrderID: "x", ExpectedAmount: decimal.NewFromInt(2), Currency: "EUR"}, now)

		assert.True(t, decimal.NewFromInt(2).Equal(got.ExpectedAmount))
		assert.Equal(t, "EUR", got.Currency)
		assert.Empty(t, got.InvoiceURL)
	})
}
