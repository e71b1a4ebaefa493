// Package nowpayments is the NOWPayments invoice API client.
package nowpayments

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.nowpayments.io/v1"

// APIKeyHeader carries the merchant API key.
const APIKeyHeader = "x-api-key"

const maxBodySize = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// CallbackURL is sent as ipn_callback_url on every invoice.
	CallbackURL string
	// Timeout bounds one invoice creation. Defaults to invoice.IssueTimeout.
	Timeout time.Duration

	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client creates invoices. It never retries.
type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	timeout     time.Duration
	http        *http.Client
}

var _ invoice.Issuer = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = invoice.IssueTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		callbackURL: opts.CallbackURL,
		timeout:     timeout,
		http:        &http.Client{Transport: otelhttp.NewTransport(base, otelOpts...)},
	}, nil
}

// CreateInvoice implements invoice.Issuer.
func (c *Client) CreateInvoice(ctx context.Context, req invoice.IssueRequest) (*invoice.Issued, error) {
	if err := invoice.ValidateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoice", bytes.NewReader(c.encodeRequest(req)))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(invoice.ErrTimeout, "after %s", c.timeout)
		}
		return nil, &invoice.UnavailableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(invoice.ErrTimeout, "after %s", c.timeout)
		}
		return nil, &invoice.UnavailableError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read body")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusForbidden {
			zctx.From(ctx).Error("Invoice API rejected credentials", zap.Int("key_length", len(c.apiKey)))
		}
		return nil, &invoice.UnavailableError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	issued, err := decodeInvoice(body)
	if err != nil {
		return nil, &invoice.UnavailableError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}
	return issued, nil
}

func (c *Client) encodeRequest(req invoice.IssueRequest) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("price_amount")
	e.Raw([]byte(req.Amount.Amount.String()))
	e.FieldStart("price_currency")
	e.Str(req.Amount.Currency)
	e.FieldStart("order_id")
	e.Str(req.OrderID)
	e.FieldStart("order_description")
	e.Str("Invoice for " + req.OrderID)
	if c.callbackURL != "" {
		e.FieldStart("ipn_callback_url")
		e.Str(c.callbackURL)
	}
	if req.SuccessURL != "" {
		e.FieldStart("success_url")
		e.Str(req.SuccessURL)
	}
	if req.CancelURL != "" {
		e.FieldStart("cancel_url")
		e.Str(req.CancelURL)
	}
	e.ObjEnd()
	return e.Bytes()
}

// decodeInvoice reads {"id": ..., "invoice_url": "..."}. The id is a number
// in current API versions and a string in older ones.
func decodeInvoice(body []byte) (*invoice.Issued, error) {
	var out invoice.Issued
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			switch d.Next() {
			case jx.Number:
				n, err := d.Num()
				if err != nil {
					return err
				}
				out.ExternalID = n.String()
				return nil
			case jx.String:
				s, err := d.Str()
				out.ExternalID = s
				return err
			default:
				return d.Skip()
			}
		case "invoice_url":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			out.URL = s
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode invoice")
	}
	if out.URL == "" {
		return nil, errors.New("response has no invoice_url")
	}
	return &out, nil
}
