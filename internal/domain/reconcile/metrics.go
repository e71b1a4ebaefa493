package reconcile

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type serviceMetrics struct {
	invoicesIssued metric.Int64Counter
	cacheHits      metric.Int64Counter
	notifications  metric.Int64Counter
	replays        metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) (*serviceMetrics, error) {
	var (
		m   serviceMetrics
		err error
	)
	if m.invoicesIssued, err = meter.Int64Counter("bridge.invoices.issued",
		metric.WithDescription("Invoices created at the payment processor"),
	); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("bridge.invoices.reused",
		metric.WithDescription("Invoice resolutions served from the mapping store"),
	); err != nil {
		return nil, err
	}
	if m.notifications, err = meter.Int64Counter("bridge.notifications",
		metric.WithDescription("Payment notifications by outcome"),
	); err != nil {
		return nil, err
	}
	if m.replays, err = meter.Int64Counter("bridge.notifications.replayed",
		metric.WithDescription("Notifications that were probably delivered before"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *serviceMetrics) issued(ctx context.Context, path string) {
	m.invoicesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

func (m *serviceMetrics) reused(ctx context.Context, path string) {
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

func (m *serviceMetrics) notification(ctx context.Context, handler string, outcome Outcome) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("handler", handler),
		attribute.String("outcome", string(outcome)),
	))
}
