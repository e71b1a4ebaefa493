package reconcile

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/money"
	"github.com/xenking/crypto-bridge/internal/domain/order"
)

// Resolution kinds. NotFound is reported as order.ErrNotFound instead.
type ResolutionKind int

const (
	// ResolvedInvoice means InvoiceURL holds a payable invoice.
	ResolvedInvoice ResolutionKind = iota
	// ResolvedSettled means the order needs no further payment.
	ResolvedSettled
	// ResolvedNothingOwed means the order has no positive outstanding amount.
	ResolvedNothingOwed
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolvedSettled:
		return "settled"
	case ResolvedNothingOwed:
		return "nothing_owed"
	default:
		return "invoice"
	}
}

// ResolveRequest identifies the order to resolve. At least one of OrderID
// and OrderName is required. Shop overrides the default tenant.
type ResolveRequest struct {
	OrderID   string
	OrderName string
	Shop      string
	// Email, when set, must match the order email (case-insensitive).
	Email string
}

// Resolution is the outcome of an invoice resolution.
type Resolution struct {
	Kind ResolutionKind
	// OrderID is the canonical order reference.
	OrderID    string
	OrderName  string
	InvoiceURL string
	// Amount is the invoiced or outstanding amount. Unset for fast-path
	// cache hits of records without an amount.
	Amount money.Money
	// Cached is set when the invoice came from the mapping store.
	Cached bool
}

// ErrEmailMismatch is returned when ResolveRequest.Email does not match
// the order.
var ErrEmailMismatch = errors.New("email does not match this order")

// ResolveInvoice is the redirect-style resolution. Every alias of the
// reference is probed in the mapping store first and the first stored
// invoice is returned without consulting the live order, trading freshness
// for latency. Only on a miss is the order fetched, classified and invoiced.
func (s *Service) ResolveInvoice(ctx context.Context, req ResolveRequest) (_ *Resolution, rerr error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.ResolveInvoice", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("order.name", req.OrderName),
	))
	defer endSpan(span, &rerr)

	if req.OrderID == "" && req.OrderName == "" {
		return nil, &ValidationError{Message: "missing orderId or orderName"}
	}
	lg := zctx.From(ctx).With(zap.String("order_id", req.OrderID), zap.String("order_name", req.OrderName))

	// Email-checked lookups must see the live order, so they skip the cache.
	if req.Email == "" {
		rec, key, err := s.probe(ctx, order.Aliases(req.OrderID, req.OrderName))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			lg.Debug("Invoice served from cache", zap.String("key", key))
			s.metrics.reused(ctx, "redirect")
			return &Resolution{
				Kind:       ResolvedInvoice,
				OrderID:    rec.OrderID,
				OrderName:  rec.OrderName,
				InvoiceURL: rec.InvoiceURL,
				Amount:     rec.Expected(),
				Cached:     true,
			}, nil
		}
	}

	snap, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Email != "" {
		if err := matchEmail(snap, req.Email); err != nil {
			return nil, err
		}
		rec, _, err := s.probe(ctx, order.Aliases(snap.ID, snap.Name))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			s.metrics.reused(ctx, "redirect")
			return &Resolution{
				Kind:       ResolvedInvoice,
				OrderID:    rec.OrderID,
				OrderName:  rec.OrderName,
				InvoiceURL: rec.InvoiceURL,
				Amount:     rec.Expected(),
				Cached:     true,
			}, nil
		}
	}

	if order.ClassifyStatus(snap) == order.StatusSettled {
		lg.Info("Order already settled", zap.String("status", snap.NormalizedStatus()))
		return &Resolution{Kind: ResolvedSettled, OrderID: snap.ID, OrderName: snap.Name}, nil
	}

	due, source := order.ExtractMoneyWithSource(snap)
	if !due.Payable() {
		lg.Info("Order has nothing owed", zap.String("amount", due.String()), zap.String("source", source))
		return &Resolution{Kind: ResolvedNothingOwed, OrderID: snap.ID, OrderName: snap.Name, Amount: due}, nil
	}

	return s.issue(ctx, "redirect", snap, due, req.OrderID, req.Shop)
}

// ResolveInvoiceChecked is the API-style resolution. The live order is
// always fetched; a stored invoice is reused only while its amount and
// currency still match the outstanding amount, otherwise a fresh invoice
// replaces it.
func (s *Service) ResolveInvoiceChecked(ctx context.Context, req ResolveRequest) (_ *Resolution, rerr error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.ResolveInvoiceChecked", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
	))
	defer endSpan(span, &rerr)

	if req.OrderID == "" {
		return nil, &ValidationError{Message: "missing orderId"}
	}
	lg := zctx.From(ctx).With(zap.String("order_id", req.OrderID))

	snap, err := s.fetch(ctx, ResolveRequest{OrderID: req.OrderID, Shop: req.Shop})
	if err != nil {
		return nil, err
	}
	due := order.ExtractMoney(snap)

	if order.ClassifyStatus(snap) == order.StatusSettled {
		return &Resolution{
			Kind:      ResolvedSettled,
			OrderID:   snap.ID,
			OrderName: snap.Name,
			Amount:    money.New(decimal.Zero, due.Currency),
		}, nil
	}
	if !due.Payable() {
		return &Resolution{Kind: ResolvedNothingOwed, OrderID: snap.ID, OrderName: snap.Name, Amount: due}, nil
	}

	rec, key, err := s.probe(ctx, order.Aliases(order.Normalize(req.OrderID), snap.Name))
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Expected().Matches(due) {
		lg.Debug("Cached invoice still matches order", zap.String("key", key))
		s.metrics.reused(ctx, "checked")
		return &Resolution{
			Kind:       ResolvedInvoice,
			OrderID:    snap.ID,
			OrderName:  snap.Name,
			InvoiceURL: rec.InvoiceURL,
			Amount:     rec.Expected(),
			Cached:     true,
		}, nil
	}
	if rec != nil {
		lg.Info("Order amount changed since invoice issuance",
			zap.String("cached", rec.Expected().String()),
			zap.String("live", due.String()),
		)
	}

	return s.issue(ctx, "checked", snap, due, req.OrderID, req.Shop)
}

// probe returns the first record among keys that carries an invoice.
func (s *Service) probe(ctx context.Context, keys []string) (*invoice.Record, string, error) {
	for _, k := range keys {
		rec, err := s.store.Get(ctx, k)
		if errors.Is(err, invoice.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", errors.Wrapf(err, "get mapping %q", k)
		}
		if rec.HasInvoice() {
			return rec, k, nil
		}
	}
	return nil, "", nil
}

func (s *Service) fetch(ctx context.Context, req ResolveRequest) (*order.Snapshot, error) {
	var (
		snap *order.Snapshot
		err  error
	)
	if req.OrderID != "" {
		snap, err = s.catalog.ResolveByID(ctx, order.Normalize(req.OrderID), req.Shop)
	} else {
		snap, err = s.catalog.ResolveByName(ctx, req.OrderName, req.Shop)
	}
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "resolve order")
	}
	return snap, nil
}

// issue creates an invoice for snap and persists the mapping under every
// alias known at this point.
func (s *Service) issue(ctx context.Context, path string, snap *order.Snapshot, due money.Money, rawRef, shop string) (*Resolution, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", snap.ID), zap.String("order_name", snap.Name))

	issued, err := s.issuer.CreateInvoice(ctx, invoice.IssueRequest{
		OrderID:    snap.ID,
		Amount:     due,
		SuccessURL: s.SuccessURL(snap.ID),
		CancelURL:  s.CancelURL(snap.ID),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}
	s.metrics.issued(ctx, path)
	lg.Info("Invoice issued",
		zap.String("invoice_id", issued.ExternalID),
		zap.String("invoice_url", issued.URL),
		zap.String("amount", due.String()),
	)

	var shopRef *string
	if shop != "" {
		shopRef = &shop
	}
	rec := invoice.Record{
		OrderID:        snap.ID,
		OrderName:      snap.Name,
		InvoiceURL:     issued.URL,
		ExpectedAmount: due.Amount,
		Currency:       due.Currency,
		Shop:           shopRef,
	}
	if err := s.persist(ctx, persistKeys(rawRef, snap), rec); err != nil {
		// The invoice exists and is payable; a missing mapping only costs a
		// duplicate invoice on the next lookup.
		lg.Error("Persist invoice mapping", zap.Error(err))
	}

	if s.notifier != nil && snap.Email != "" {
		if err := s.notifier.InvoiceCreated(ctx, InvoiceCreated{
			OrderID:    snap.ID,
			OrderName:  snap.Name,
			Email:      snap.Email,
			InvoiceURL: issued.URL,
			Amount:     due.Amount.String(),
			Currency:   due.Currency,
		}); err != nil {
			lg.Warn("Announce invoice", zap.Error(err))
		}
	}

	return &Resolution{
		Kind:       ResolvedInvoice,
		OrderID:    snap.ID,
		OrderName:  snap.Name,
		InvoiceURL: issued.URL,
		Amount:     due,
	}, nil
}

// persist writes rec under each key. Keys are independent documents, so the
// writes run concurrently.
func (s *Service) persist(ctx context.Context, keys []string, rec invoice.Record) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		g.Go(func() error {
			if _, err := s.store.Save(ctx, k, rec); err != nil {
				return errors.Wrapf(err, "save mapping %q", k)
			}
			return nil
		})
	}
	return g.Wait()
}

// persistKeys lists the raw reference, its normalized form, the canonical
// id and the display name, deduplicated.
func persistKeys(rawRef string, snap *order.Snapshot) []string {
	keys := order.Aliases(rawRef, snap.Name)
	for _, k := range keys {
		if k == snap.ID {
			return keys
		}
	}
	return append(keys, snap.ID)
}

func matchEmail(snap *order.Snapshot, email string) error {
	if snap.Email == "" {
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(snap.Email), strings.TrimSpace(email)) {
		return ErrEmailMismatch
	}
	return nil
}

func endSpan(span trace.Span, errp *error) {
	if err := *errp; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}
