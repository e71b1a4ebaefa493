// Package reconcile maps orders to reusable invoices and turns payment
// notifications into storefront order transitions.
package reconcile

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/order"
	"github.com/xenking/crypto-bridge/internal/ipn"
)

// DefaultFinalStatuses is used when no final statuses are configured.
var DefaultFinalStatuses = []string{"finished"}

var (
	// ErrSignatureInvalid is returned when a notification fails signature
	// verification. Nothing is persisted and no catalog call is made.
	ErrSignatureInvalid = errors.New("invalid notification signature")
)

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// PaymentMismatchError is returned by the amount-guarded notification
// handler when the reported payment does not cover the invoiced amount.
type PaymentMismatchError struct {
	OrderID  string
	Expected string
	Paid     string
}

func (e *PaymentMismatchError) Error() string {
	return "payment for " + e.OrderID + " does not cover invoice: expected " + e.Expected + ", got " + e.Paid
}

// SignatureVerifier authenticates raw notification bodies.
type SignatureVerifier interface {
	Verify(body []byte, signature string) bool
}

// InvoiceCreated is announced after a fresh invoice has been issued.
type InvoiceCreated struct {
	OrderID    string
	OrderName  string
	Email      string
	InvoiceURL string
	Amount     string
	Currency   string
}

// Notifier publishes marketing events. Failures never fail the request.
type Notifier interface {
	InvoiceCreated(ctx context.Context, e InvoiceCreated) error
}

// Config holds non-dependency settings of the Service.
type Config struct {
	// AppURL is the public base URL used for success and cancel callbacks.
	AppURL string
	// FinalStatuses are processor payment statuses that trigger order
	// completion. Compared case-insensitively.
	FinalStatuses []string

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Deps are the collaborators of the Service. Notifier and Replay are
// optional.
type Deps struct {
	Store    invoice.Repository
	Catalog  order.Catalog
	Issuer   invoice.Issuer
	Verifier SignatureVerifier
	Notifier Notifier
	Replay   *ipn.ReplayDetector
}

// Service is the reconciliation engine.
type Service struct {
	store    invoice.Repository
	catalog  order.Catalog
	issuer   invoice.Issuer
	verifier SignatureVerifier
	notifier Notifier
	replay   *ipn.ReplayDetector

	appURL        string
	finalStatuses map[string]struct{}

	tracer  trace.Tracer
	metrics *serviceMetrics
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Issuer == nil || deps.Verifier == nil {
		return nil, errors.New("store, catalog, issuer and verifier are required")
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	m, err := newServiceMetrics(mp.Meter("github.com/xenking/crypto-bridge/reconcile"))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	statuses := cfg.FinalStatuses
	if len(statuses) == 0 {
		statuses = DefaultFinalStatuses
	}
	final := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			final[s] = struct{}{}
		}
	}

	return &Service{
		store:         deps.Store,
		catalog:       deps.Catalog,
		issuer:        deps.Issuer,
		verifier:      deps.Verifier,
		notifier:      deps.Notifier,
		replay:        deps.Replay,
		appURL:        strings.TrimRight(cfg.AppURL, "/"),
		finalStatuses: final,
		tracer:        tp.Tracer("github.com/xenking/crypto-bridge/reconcile"),
		metrics:       m,
	}, nil
}

// IsFinal reports whether status is one of the configured final statuses.
func (s *Service) IsFinal(status string) bool {
	_, ok := s.finalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// SuccessURL is the landing page after a completed payment for ref.
func (s *Service) SuccessURL(ref string) string {
	return s.appURL + "/payment-success?order=" + queryEscape(ref)
}

// CancelURL is the landing page after a cancelled payment for ref.
func (s *Service) CancelURL(ref string) string {
	return s.appURL + "/payment-cancel?order=" + queryEscape(ref)
}
