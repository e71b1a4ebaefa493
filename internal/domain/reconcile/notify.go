package reconcile

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/order"
	"github.com/xenking/crypto-bridge/internal/ipn"
)

// Outcome is the acknowledgment sent back to the payment processor. Every
// Outcome is delivered with a success status code.
type Outcome string

const (
	OutcomeIgnored          Outcome = "ignored"
	OutcomeMissingOrderID   Outcome = "missing_order_id"
	OutcomeCompleted        Outcome = "OK"
	OutcomeCompleteFailed   Outcome = "complete_failed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	// OutcomeConflict means the catalog refused the mutation because the
	// order moved on through another payment path.
	OutcomeConflict Outcome = "conflict"
	// OutcomeUnmapped is the guarded handler's acknowledgment for orders
	// that were never invoiced by this service.
	OutcomeUnmapped Outcome = "unmapped"
	// OutcomeAcknowledged is the guarded handler's plain acknowledgment.
	OutcomeAcknowledged Outcome = "acknowledged"
)

// unknownOrderKey holds audit rows of notifications without an order id.
const unknownOrderKey = "unknown"

// NotificationResult describes how a notification was handled.
type NotificationResult struct {
	Outcome Outcome
	OrderID string
	// Replayed is set when an identical notification was probably handled
	// before. Informational only.
	Replayed bool
}

// HandleNotification processes a payment notification. Errors are returned
// only for signature failures (ErrSignatureInvalid) and unparseable bodies
// (ipn.ErrMalformed); every business outcome, including catalog failures,
// is an acknowledgment.
func (s *Service) HandleNotification(ctx context.Context, body []byte, signature string) (_ *NotificationResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.HandleNotification")
	defer endSpan(span, &rerr)

	n, err := s.authenticate(ctx, body, signature)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", n.OrderID), attribute.String("payment.status", n.Status))
	lg := zctx.From(ctx).With(
		zap.String("order_id", n.OrderID),
		zap.String("payment_id", n.PaymentID),
		zap.String("status", n.Status),
	)
	res := &NotificationResult{OrderID: n.OrderID, Replayed: s.replayed(ctx, n)}

	key := n.OrderID
	if key == "" {
		key = unknownOrderKey
	}
	if err := s.recordPayment(ctx, key, n); err != nil {
		lg.Error("Persist notification snapshot", zap.Error(err))
	}

	res.Outcome = s.finalize(ctx, lg, n)
	s.metrics.notification(ctx, "standard", res.Outcome)
	return res, nil
}

func (s *Service) finalize(ctx context.Context, lg *zap.Logger, n *ipn.Notification) Outcome {
	if !s.IsFinal(n.Status) {
		lg.Info("Notification status not final")
		return OutcomeIgnored
	}
	if n.OrderID == "" {
		lg.Warn("Final notification without order id")
		return OutcomeMissingOrderID
	}
	if !order.IsDraft(n.OrderID) {
		lg.Info("Order already completed")
		return OutcomeAlreadyCompleted
	}

	c, err := s.catalog.CompleteOrMarkPaid(ctx, n.OrderID, s.shopFor(ctx, n.OrderID))
	switch {
	case errors.Is(err, order.ErrCatalogConflict):
		lg.Warn("Draft completion conflicts with live order state", zap.Error(err))
		return OutcomeConflict
	case err != nil:
		lg.Error("Draft completion failed", zap.Error(err))
		return OutcomeCompleteFailed
	}
	lg.Info("Draft completed",
		zap.String("final_order_id", c.FinalOrderID),
		zap.Bool("benign", c.Benign),
		zap.Strings("warnings", c.Warnings),
	)
	return OutcomeCompleted
}

// HandleNotificationGuarded is HandleNotification that only acts on orders
// invoiced by this service and rejects payments short of the invoiced
// amount with *PaymentMismatchError. Orders must still accept payment,
// otherwise order.ErrCatalogConflict is returned.
func (s *Service) HandleNotificationGuarded(ctx context.Context, body []byte, signature string) (_ *NotificationResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.HandleNotificationGuarded")
	defer endSpan(span, &rerr)

	n, err := s.authenticate(ctx, body, signature)
	if err != nil {
		return nil, err
	}
	if n.OrderID == "" {
		return nil, &ValidationError{Message: "missing order id"}
	}
	span.SetAttributes(attribute.String("order.id", n.OrderID), attribute.String("payment.status", n.Status))
	lg := zctx.From(ctx).With(zap.String("order_id", n.OrderID), zap.String("status", n.Status))
	res := &NotificationResult{OrderID: n.OrderID, Replayed: s.replayed(ctx, n)}

	rec, err := s.store.Get(ctx, n.OrderID)
	if errors.Is(err, invoice.ErrNotFound) || (err == nil && !rec.HasInvoice()) {
		lg.Info("Notification for unmapped order")
		res.Outcome = OutcomeUnmapped
		s.metrics.notification(ctx, "guarded", res.Outcome)
		return res, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get mapping")
	}

	expected := rec.Expected()
	paid := n.PaidAmount()
	// price_amount is quoted in the invoice currency, only the amount is guarded.
	if expected.ShortOf(paid) {
		lg.Warn("Payment does not cover invoice",
			zap.String("expected", expected.String()),
			zap.String("paid", paid.String()+" "+n.PriceCurrency),
		)
		return nil, &PaymentMismatchError{
			OrderID:  n.OrderID,
			Expected: expected.String(),
			Paid:     paid.String() + " " + n.PriceCurrency,
		}
	}

	if err := s.recordPayment(ctx, n.OrderID, n); err != nil {
		lg.Error("Persist notification snapshot", zap.Error(err))
	}
	if !s.IsFinal(n.Status) {
		res.Outcome = OutcomeAcknowledged
		s.metrics.notification(ctx, "guarded", res.Outcome)
		return res, nil
	}

	var shop string
	if rec.Shop != nil {
		shop = *rec.Shop
	}
	if order.KindOf(n.OrderID) == order.KindOrder {
		snap, err := s.catalog.ResolveByID(ctx, order.Normalize(n.OrderID), shop)
		if err != nil {
			return nil, errors.Wrap(err, "resolve order")
		}
		if !order.AcceptsPayment(snap) {
			lg.Warn("Order not payable", zap.String("financial_status", snap.NormalizedStatus()))
			s.metrics.notification(ctx, "guarded", OutcomeConflict)
			return nil, errors.Wrapf(order.ErrCatalogConflict, "order status %s", snap.NormalizedStatus())
		}
	}

	c, err := s.catalog.CompleteOrMarkPaid(ctx, order.Normalize(n.OrderID), shop)
	if errors.Is(err, order.ErrCatalogConflict) {
		lg.Warn("Catalog refused to mark order paid", zap.Error(err))
		s.metrics.notification(ctx, "guarded", OutcomeConflict)
		return nil, errors.Wrap(err, "mark paid")
	}
	if err != nil {
		lg.Error("Mark order paid", zap.Error(err))
		res.Outcome = OutcomeCompleteFailed
		s.metrics.notification(ctx, "guarded", res.Outcome)
		return res, nil
	}
	lg.Info("Order marked paid",
		zap.String("final_order_id", c.FinalOrderID),
		zap.Bool("benign", c.Benign),
	)
	res.Outcome = OutcomeAcknowledged
	s.metrics.notification(ctx, "guarded", res.Outcome)
	return res, nil
}

func (s *Service) authenticate(ctx context.Context, body []byte, signature string) (*ipn.Notification, error) {
	if !s.verifier.Verify(body, signature) {
		zctx.From(ctx).Warn("Rejected notification with invalid signature",
			zap.Bool("signature_present", signature != ""),
		)
		return nil, ErrSignatureInvalid
	}
	n, err := ipn.ParseNotification(body)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) replayed(ctx context.Context, n *ipn.Notification) bool {
	if s.replay == nil || !s.replay.Seen(n) {
		return false
	}
	s.metrics.replays.Add(ctx, 1)
	zctx.From(ctx).Info("Notification probably delivered before", zap.String("order_id", n.OrderID))
	return true
}

// recordPayment writes the audit fields of n under key. Invoice fields of an
// existing row are preserved by the store merge rules.
func (s *Service) recordPayment(ctx context.Context, key string, n *ipn.Notification) error {
	_, err := s.store.Save(ctx, key, invoice.Record{
		OrderID:          n.OrderID,
		ExpectedAmount:   n.PriceAmount,
		Currency:         n.PriceCurrency,
		LastStatus:       statusOrUnknown(n.Status),
		LastPaidAmount:   n.PaidAmount(),
		LastPaidCurrency: n.PriceCurrency,
	})
	return err
}

// shopFor returns the tenant recorded with the mapping for ref, if any.
func (s *Service) shopFor(ctx context.Context, ref string) string {
	rec, err := s.store.Get(ctx, ref)
	if err != nil || rec.Shop == nil {
		return ""
	}
	return *rec.Shop
}

func statusOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
