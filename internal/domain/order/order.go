// Package order models the storefront orders and draft orders that invoices
// are issued for. Snapshots are read fresh from the catalog on every request
// and never cached.
package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/crypto-bridge/internal/domain/money"
)

var (
	// ErrNotFound is returned when the catalog has no order or draft for a reference.
	ErrNotFound = errors.New("order not found")
	// ErrCatalogConflict is returned when the live status of an order no
	// longer permits the intended mutation, typically because another
	// payment path got there first.
	ErrCatalogConflict = errors.New("order status does not permit mutation")
	// ErrUnsupportedReference is returned for references that denote neither
	// an order nor a draft order.
	ErrUnsupportedReference = errors.New("unsupported order reference")
)

// MutationError is any catalog-side failure while completing a draft or
// marking an order paid that is not a benign idempotent error.
type MutationError struct {
	Ref      string
	Messages []string
	Err      error
}

func (e *MutationError) Error() string {
	var b strings.Builder
	b.WriteString("catalog mutation failed for ")
	b.WriteString(e.Ref)
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MutationError) Unwrap() error { return e.Err }

// MoneySet holds the shop-currency and presentment-currency variants of one
// money field. Either may be absent.
type MoneySet struct {
	Shop        *money.Money
	Presentment *money.Money
}

// Snapshot is a normalized read of an order or draft order.
type Snapshot struct {
	ID    string
	Kind  Kind
	Name  string
	Email string

	FinancialStatus        string
	DisplayFinancialStatus string
	// CurrencyCode is the order-level currency, used when a money field
	// carries no currency of its own.
	CurrencyCode string
	// InvoiceURL is the storefront's own invoice page for draft orders.
	InvoiceURL string

	TotalOutstanding      MoneySet
	TotalPrice            MoneySet
	PresentmentTotalPrice MoneySet
	CurrentSubtotal       MoneySet
}

// Completion is the outcome of CompleteOrMarkPaid.
type Completion struct {
	// FinalOrderID is the resulting order id, when the catalog reported one.
	FinalOrderID string
	// Benign is set when the catalog reported the transition had already
	// happened; the call is then treated as success.
	Benign bool
	// Warnings carries catalog messages that did not fail the call.
	Warnings []string
}

// Catalog is the storefront order catalog. shop overrides the configured
// tenant when non-empty.
type Catalog interface {
	ResolveByID(ctx context.Context, ref, shop string) (*Snapshot, error)
	// ResolveByName searches orders first, then draft orders, and returns
	// the first hit.
	ResolveByName(ctx context.Context, name, shop string) (*Snapshot, error)
	// CompleteOrMarkPaid completes a draft order or marks an order paid.
	// Benign idempotency errors are returned as a Benign Completion.
	CompleteOrMarkPaid(ctx context.Context, ref, shop string) (*Completion, error)
}

// benignFragments are catalog error fragments meaning the transition has
// already been applied through another path.
var benignFragments = []string{"already", "not open", "closed", "completed"}

// IsBenignCompletionError reports whether a catalog error message means the
// draft or order was already completed.
func IsBenignCompletionError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, f := range benignFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// conflictFragments are catalog error fragments meaning the order's live
// status refuses the transition.
var conflictFragments = []string{
	"cannot be marked as paid",
	"can't be marked as paid",
	"not payable",
	"cancelled",
	"canceled",
	"invalid financial status",
}

// IsConflictCompletionError reports whether a non-benign catalog error
// message is a status refusal rather than a failure.
func IsConflictCompletionError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, f := range conflictFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
