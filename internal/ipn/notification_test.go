package ipn

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{
		"payment_id": 5077125051,
		"invoice_id": "4522625843",
		"payment_status": " Finished ",
		"order_id": "gid://shopify/DraftOrder/9",
		"price_amount": 10.5,
		"price_currency": "usd",
		"pay_amount": "0.00017",
		"pay_currency": "btc",
		"actually_paid": 0.00017,
		"fee": {"currency": "btc", "serviceFee": 0}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "5077125051", n.PaymentID)
	assert.Equal(t, "4522625843", n.InvoiceID)
	assert.Equal(t, "finished", n.Status)
	assert.Equal(t, "gid://shopify/DraftOrder/9", n.OrderID)
	assert.True(t, decimal.RequireFromString("10.5").Equal(n.PriceAmount))
	assert.Equal(t, "USD", n.PriceCurrency)
	assert.True(t, decimal.RequireFromString("0.00017").Equal(n.PayAmount))
	assert.Equal(t, "BTC", n.PayCurrency)
	assert.True(t, decimal.RequireFromString("10.5").Equal(n.PaidAmount()))
}

func TestParseNotification_Defaults(t *testing.T) {
	n, err := ParseNotification([]byte(`{"paymentstatus":"CONFIRMED","price_amount":null,"pay_amount":3}`))
	require.NoError(t, err)

	assert.Empty(t, n.OrderID)
	assert.Equal(t, "confirmed", n.Status)
	assert.True(t, n.PriceAmount.IsZero())
	assert.Empty(t, n.PriceCurrency)
	assert.True(t, decimal.NewFromInt(3).Equal(n.PaidAmount()))
}

func TestParseNotification_Malformed(t *testing.T) {
	for _, body := range []string{`[]`, `"x"`, ``, `{"price_amount":"abc"}`, `{"payment_status":{}}`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParseNotification([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestReplayDetector(t *testing.T) {
	r := NewReplayDetector(1000, 0.001)
	n := &Notification{PaymentID: "1", OrderID: "o", Status: "finished", PriceAmount: decimal.NewFromInt(10)}

	assert.False(t, r.Seen(n))
	assert.True(t, r.Seen(n))

	other := *n
	other.Status = "confirmed"
	assert.False(t, r.Seen(&other))
}
