package events

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
)

// Klaviyo defaults.
const (
	DefaultKlaviyoURL    = "https://a.klaviyo.com/api/track"
	DefaultKlaviyoMetric = "Crypto Invoice Created"
)

// KlaviyoOptions configures a Klaviyo notifier.
type KlaviyoOptions struct {
	// Token is the public site token.
	Token  string
	Metric string
	URL    string
	// Timeout bounds one track call. Defaults to 10s.
	Timeout time.Duration

	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider
}

// Klaviyo sends events through the track API.
type Klaviyo struct {
	token  string
	metric string
	url    string
	http   *http.Client
	now    func() time.Time
}

var _ reconcile.Notifier = (*Klaviyo)(nil)

// NewKlaviyo creates a Klaviyo notifier.
func NewKlaviyo(opts KlaviyoOptions) (*Klaviyo, error) {
	if opts.Token == "" {
		return nil, errors.New("klaviyo token is required")
	}
	k := &Klaviyo{
		token:  opts.Token,
		metric: opts.Metric,
		url:    opts.URL,
		now:    time.Now,
	}
	if k.metric == "" {
		k.metric = DefaultKlaviyoMetric
	}
	if k.url == "" {
		k.url = DefaultKlaviyoURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	k.http = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(base, otelOpts...)}
	return k, nil
}

// InvoiceCreated implements reconcile.Notifier.
func (k *Klaviyo) InvoiceCreated(ctx context.Context, ev reconcile.InvoiceCreated) error {
	if ev.Email == "" {
		return nil
	}
	name := ev.OrderName
	if name == "" {
		name = ev.OrderID
	}

	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("token", func(e *jx.Encoder) { e.Str(k.token) })
		e.Field("event", func(e *jx.Encoder) { e.Str(k.metric) })
		e.Field("customer_properties", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("$email", func(e *jx.Encoder) { e.Str(ev.Email) })
			})
		})
		e.Field("properties", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order_name", func(e *jx.Encoder) { e.Str(name) })
				e.Field("invoice_url", func(e *jx.Encoder) { e.Str(ev.InvoiceURL) })
				e.Field("amount", func(e *jx.Encoder) { e.Str(ev.Amount) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(ev.Currency) })
			})
		})
		e.Field("time", func(e *jx.Encoder) { e.Int64(k.now().Unix()) })
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.url, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send track event")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("klaviyo track failed: %d %s", resp.StatusCode, body)
	}
	return nil
}
