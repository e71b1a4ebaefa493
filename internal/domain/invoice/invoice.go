// Package invoice defines the persisted mapping from an order reference to
// the last invoice issued for it.
package invoice

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/crypto-bridge/internal/domain/money"
)

// ErrNotFound is returned by Repository.Get when no record exists for a key.
var ErrNotFound = errors.New("invoice mapping not found")

// Record is the last known invoice for an order, stored under one order
// reference (and written redundantly under every alias of that order).
type Record struct {
	// OrderID is the canonical reference of the order.
	OrderID string
	// OrderName is the human-facing alias, e.g. "#1001".
	OrderName string
	// InvoiceURL is the external invoice page. Empty means no invoice has
	// been issued yet (placeholder row written by a notification).
	InvoiceURL     string
	ExpectedAmount decimal.Decimal
	Currency       string
	// Shop is the tenant the invoice was issued for, when known.
	Shop *string

	// LastStatus, LastPaidAmount and LastPaidCurrency record the most
	// recent payment notification seen for this key.
	LastStatus       string
	LastPaidAmount   decimal.Decimal
	LastPaidCurrency string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expected returns the amount the invoice was issued for.
func (r *Record) Expected() money.Money {
	return money.Money{Amount: r.ExpectedAmount, Currency: r.Currency}
}

// HasInvoice reports whether the record carries an issued invoice URL.
func (r *Record) HasInvoice() bool {
	return r != nil && r.InvoiceURL != ""
}

// Repository is the Mapping Store. Keys are opaque strings; aliasing is the
// caller's responsibility.
type Repository interface {
	// Save upserts rec under key following the Merge rules and returns the
	// stored record.
	Save(ctx context.Context, key string, rec Record) (*Record, error)
	// Get returns ErrNotFound when nothing is stored under key.
	Get(ctx context.Context, key string) (*Record, error)
	// Delete is best-effort; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every stored key with its record.
	List(ctx context.Context) ([]Entry, error)
}

// Entry pairs a store key with its record.
type Entry struct {
	Key    string
	Record Record
}

// DocumentID encodes a key into a URL-safe identifier with no slashes.
func DocumentID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// KeyFromDocumentID reverses DocumentID.
func KeyFromDocumentID(id string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", errors.Wrap(err, "decode document id")
	}
	return string(b), nil
}

// Normalize fills absent fields with their defaults: amount 0 and currency
// "USD". Downstream comparisons assume presence.
func Normalize(rec Record) Record {
	if rec.Currency == "" {
		rec.Currency = money.DefaultCurrency
	}
	if rec.LastPaidCurrency == "" && !rec.LastPaidAmount.IsZero() {
		rec.LastPaidCurrency = rec.Currency
	}
	if rec.Shop != nil && *rec.Shop == "" {
		rec.Shop = nil
	}
	return rec
}

// Merge applies an incoming write onto the stored record.
//
//   - The (InvoiceURL, ExpectedAmount, Currency) triple is replaced only when
//     the write carries an invoice URL or the stored row is a placeholder.
//   - OrderName and LastStatus are replaced only when non-empty, Shop only
//     when set.
//   - CreatedAt is kept from the first write.
func Merge(stored *Record, incoming Record, now time.Time) Record {
	incoming = Normalize(incoming)
	if stored == nil {
		if incoming.OrderName == "" {
			incoming.OrderName = incoming.OrderID
		}
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		return incoming
	}

	out := *stored
	if incoming.InvoiceURL != "" || stored.InvoiceURL == "" {
		out.InvoiceURL = incoming.InvoiceURL
		out.ExpectedAmount = incoming.ExpectedAmount
		out.Currency = incoming.Currency
	}
	if incoming.OrderID != "" {
		out.OrderID = incoming.OrderID
	}
	if incoming.OrderName != "" {
		out.OrderName = incoming.OrderName
	}
	if incoming.Shop != nil {
		out.Shop = incoming.Shop
	}
	if incoming.LastStatus != "" {
		out.LastStatus = incoming.LastStatus
		out.LastPaidAmount = incoming.LastPaidAmount
		out.LastPaidCurrency = incoming.LastPaidCurrency
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}
