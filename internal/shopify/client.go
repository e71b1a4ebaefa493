// Package shopify reads and completes storefront orders through the Admin
// GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAPIVersion is the Admin API version used when none is configured.
const DefaultAPIVersion = "2024-10"

// AccessTokenHeader authenticates Admin API calls.
const AccessTokenHeader = "X-Shopify-Access-Token"

const maxResponseSize = 4 << 20

// Options configures a Client.
type Options struct {
	// Shop is the *.myshopify.com domain. Requests naming another shop are
	// refused with ErrUnknownShop.
	Shop        string
	AccessToken string
	APIVersion  string
	// Scheme is "https" unless overridden for local fakes.
	Scheme string

	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client is a minimal Admin GraphQL client.
type Client struct {
	shop    string
	token   string
	version string
	scheme  string
	http    *http.Client
}

// NewClient creates a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.Shop == "" {
		return nil, errors.New("shop is required")
	}
	if opts.AccessToken == "" {
		return nil, errors.New("access token is required")
	}
	c := &Client{
		shop:    strings.ToLower(strings.TrimSpace(opts.Shop)),
		token:   opts.AccessToken,
		version: opts.APIVersion,
		scheme:  opts.Scheme,
	}
	if c.version == "" {
		c.version = DefaultAPIVersion
	}
	if c.scheme == "" {
		c.scheme = "https"
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
	c.http = &http.Client{Transport: otelhttp.NewTransport(base, otelOpts...)}
	return c, nil
}

// Shop returns the configured shop domain.
func (c *Client) Shop() string { return c.shop }

// GraphQLError is a top-level error returned by the API.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("admin api: status %d: %s", e.StatusCode, e.Body)
}

// ErrUnknownShop is returned for a shop other than the configured one. The
// access token is only ever sent to the configured shop.
var ErrUnknownShop = errors.New("unknown shop")

// Allows reports whether shop is empty or names the configured shop.
func (c *Client) Allows(shop string) bool {
	shop = strings.ToLower(strings.TrimSpace(shop))
	return shop == "" || shop == c.shop
}

func (c *Client) endpoint(shop string) (string, error) {
	if !c.Allows(shop) {
		return "", errors.Wrapf(ErrUnknownShop, "%q", shop)
	}
	return c.scheme + "://" + c.shop + "/admin/api/" + c.version + "/graphql.json", nil
}

// do runs one GraphQL operation and returns the raw "data" member. Top-level
// errors are returned as *GraphQLError alongside any partial data.
func (c *Client) do(ctx context.Context, shop, query string, vars func(e *jx.Encoder)) (jx.Raw, error) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("query")
	e.Str(query)
	if vars != nil {
		e.FieldStart("variables")
		e.ObjStart()
		vars(e)
		e.ObjEnd()
	}
	e.ObjEnd()

	endpoint, err := c.endpoint(shop)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AccessTokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var (
		data    jx.Raw
		gqlErrs []string
	)
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			data = append(jx.Raw(nil), raw...)
			return nil
		case "errors":
			return d.Arr(func(d *jx.Decoder) error {
				if d.Next() != jx.Object {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "message" || d.Next() != jx.String {
						return d.Skip()
					}
					msg, err := d.Str()
					gqlErrs = append(gqlErrs, msg)
					return err
				})
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if len(gqlErrs) > 0 {
		return data, &GraphQLError{Messages: gqlErrs}
	}
	return data, nil
}
