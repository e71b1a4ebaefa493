// Package handler implements the HTTP surface of the bridge.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
	"github.com/xenking/crypto-bridge/pkg/httpmiddleware"
)

// Engine is the reconciliation engine as seen by the HTTP surface.
type Engine interface {
	ResolveInvoice(ctx context.Context, req reconcile.ResolveRequest) (*reconcile.Resolution, error)
	ResolveInvoiceChecked(ctx context.Context, req reconcile.ResolveRequest) (*reconcile.Resolution, error)
	HandleNotification(ctx context.Context, body []byte, signature string) (*reconcile.NotificationResult, error)
	HandleNotificationGuarded(ctx context.Context, body []byte, signature string) (*reconcile.NotificationResult, error)
	SuccessURL(ref string) string
	CancelURL(ref string) string
}

var _ Engine = (*reconcile.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// AppURL is the public base URL of this service.
	AppURL string
	// Shop is the storefront domain. Requests and webhooks naming another
	// shop are refused.
	Shop string
	// WebhookSecret enables storefront webhook HMAC verification.
	WebhookSecret string
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
	// CORS applies to the order status endpoints only.
	CORS httpmiddleware.CORSConfig
}

// Handler serves the bridge routes.
type Handler struct {
	engine        Engine
	appURL        string
	shop          string
	webhookSecret string
	maxBody       int64
	cors          httpmiddleware.CORSConfig
}

// New creates a Handler.
func New(cfg Config, engine Engine) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		engine:        engine,
		appURL:        strings.TrimRight(cfg.AppURL, "/"),
		shop:          strings.ToLower(strings.TrimSpace(cfg.Shop)),
		webhookSecret: cfg.WebhookSecret,
		maxBody:       maxBody,
		cors:          cfg.CORS,
	}
}

// Register adds all bridge routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.Ping)
	r.Get("/health", h.Ping)

	// Called from the storefront order status page.
	r.Route("/osr", func(r chi.Router) {
		r.Use(httpmiddleware.CORS(h.cors))
		r.Get("/invoice-url", h.RedirectToInvoice)
		r.Post("/invoice-url", h.InvoiceURL)
	})

	r.Post("/ipn/nowpayments", h.Notification)
	r.Post("/ipn/nowpayments/guarded", h.NotificationGuarded)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/payment-success", h.PaymentSuccess)
		r.Get("/payment-cancel", h.PaymentCancel)
		r.Get("/pay", h.PayPage)
		r.Post("/pay/start", h.StartPay)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/orders-create", h.OrdersCreate)
		r.Post("/orders-paid", h.WebhookAck)
		r.Post("/orders-updated", h.WebhookAck)
	})
}

// Ping answers liveness checks of platforms that expect a plain "ok".
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// storeURL is the storefront home, or the app itself without a shop.
func (h *Handler) storeURL() string {
	if h.shop != "" {
		return "https://" + h.shop
	}
	return h.appURL + "/"
}

// allowsShop reports whether a caller-supplied shop is empty or the
// configured one. Any other value would route catalog calls, and the Admin
// API token with them, to a host the caller chose.
func (h *Handler) allowsShop(shop string) bool {
	return shop == "" || shop == h.shop
}
