package ipn

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ErrMalformed is returned when a notification body is not a JSON object or
// a known field has the wrong type.
var ErrMalformed = errors.New("malformed notification")

// Notification is a parsed payment notification. Absent fields take their
// zero value: empty strings and zero amounts.
type Notification struct {
	// OrderID is the order reference the invoice was created for.
	OrderID string
	// PaymentID and InvoiceID are processor identifiers; numbers are
	// rendered in decimal.
	PaymentID string
	InvoiceID string
	// Status is the payment status lower-cased and trimmed. The legacy
	// "paymentstatus" field is used when "payment_status" is absent.
	Status string

	PriceAmount   decimal.Decimal
	PriceCurrency string
	PayAmount     decimal.Decimal
	PayCurrency   string
	ActuallyPaid  decimal.Decimal
}

// PaidAmount is the amount the notification reports as paid in the invoice
// price currency: price_amount, or pay_amount when the former is zero.
func (n *Notification) PaidAmount() decimal.Decimal {
	if !n.PriceAmount.IsZero() {
		return n.PriceAmount
	}
	return n.PayAmount
}

// ParseNotification decodes a notification body. Unknown fields are ignored.
func ParseNotification(body []byte) (*Notification, error) {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return nil, errors.Wrap(ErrMalformed, "body is not an object")
	}

	var (
		n            Notification
		legacyStatus string
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			n.OrderID, err = decodeID(d)
		case "payment_id":
			n.PaymentID, err = decodeID(d)
		case "invoice_id":
			n.InvoiceID, err = decodeID(d)
		case "payment_status":
			n.Status, err = decodeString(d)
		case "paymentstatus":
			legacyStatus, err = decodeString(d)
		case "price_amount":
			n.PriceAmount, err = decodeAmount(d)
		case "price_currency":
			n.PriceCurrency, err = decodeString(d)
		case "pay_amount":
			n.PayAmount, err = decodeAmount(d)
		case "pay_currency":
			n.PayCurrency, err = decodeString(d)
		case "actually_paid":
			n.ActuallyPaid, err = decodeAmount(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	if n.Status == "" {
		n.Status = legacyStatus
	}
	n.OrderID = strings.TrimSpace(n.OrderID)
	n.Status = strings.ToLower(strings.TrimSpace(n.Status))
	n.PriceCurrency = strings.ToUpper(strings.TrimSpace(n.PriceCurrency))
	n.PayCurrency = strings.ToUpper(strings.TrimSpace(n.PayCurrency))
	return &n, nil
}

func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeID accepts a string or a number.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return decodeString(d)
	}
}

// decodeAmount accepts a number, a numeric string, or null.
func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		if strings.TrimSpace(s) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}
