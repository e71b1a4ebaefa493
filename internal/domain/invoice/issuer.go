package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/crypto-bridge/internal/domain/money"
)

// IssueTimeout bounds a single invoice creation call.
const IssueTimeout = 15 * time.Second

var (
	// ErrInvalidAmount is returned when asked to invoice an amount <= 0.
	ErrInvalidAmount = errors.New("invoice amount must be positive")
	// ErrInvalidCurrency is returned when the currency is empty.
	ErrInvalidCurrency = errors.New("invoice currency is required")
	// ErrTimeout is returned when the processor does not answer within
	// IssueTimeout.
	ErrTimeout = errors.New("invoice processor timeout")
)

// UnavailableError reports a transport failure or a non-2xx response from
// the invoice processor. Body holds the response body for diagnosis.
type UnavailableError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invoice processor unavailable: %v", e.Err)
	}
	return fmt.Sprintf("invoice processor unavailable: status %d: %s", e.StatusCode, e.Body)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IssueRequest describes an invoice to create.
type IssueRequest struct {
	// OrderID is echoed back by the processor in notifications.
	OrderID    string
	Amount     money.Money
	SuccessURL string
	CancelURL  string
}

// Issued is a created invoice.
type Issued struct {
	ExternalID string
	URL        string
}

// Issuer creates invoices at the external processor. Implementations do
// not retry.
type Issuer interface {
	CreateInvoice(ctx context.Context, req IssueRequest) (*Issued, error)
}

// ValidateRequest checks the amount and currency of req.
func ValidateRequest(req IssueRequest) error {
	if !req.Amount.Amount.IsPositive() {
		return errors.Wrapf(ErrInvalidAmount, "amount %s", req.Amount.Amount)
	}
	if req.Amount.Currency == "" {
		return ErrInvalidCurrency
	}
	return nil
}
