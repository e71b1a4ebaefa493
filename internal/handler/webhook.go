package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
	"github.com/xenking/crypto-bridge/internal/shopify"
)

// OrdersCreate serves the storefront orders/create webhook by issuing an
// invoice for new orders with an outstanding balance, so the first customer
// click is a cache hit. The webhook is always acknowledged with 200 except
// for failed HMAC verification.
func (h *Handler) OrdersCreate(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context()).With(zap.String("topic", r.Header.Get(shopify.TopicHeader)))

	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		lg.Warn("Read webhook", zap.Error(err))
		writeText(w, http.StatusOK, "ok")
		return
	}
	if h.webhookSecret != "" && !shopify.VerifyWebhook(h.webhookSecret, body, r.Header.Get(shopify.HmacHeader)) {
		lg.Warn("Rejected webhook with invalid HMAC")
		writeText(w, http.StatusUnauthorized, "bad signature")
		return
	}

	shop := strings.ToLower(strings.TrimSpace(r.Header.Get(shopify.ShopDomainHeader)))
	if !h.allowsShop(shop) {
		lg.Warn("Webhook from unexpected shop", zap.String("shop", shop), zap.String("expected", h.shop))
		writeText(w, http.StatusOK, "ok")
		return
	}

	wh, err := shopify.ParseOrderWebhook(body)
	if err != nil {
		lg.Warn("Parse order webhook", zap.Error(err))
		writeText(w, http.StatusOK, "ok")
		return
	}
	if wh.AdminGraphQLID == "" {
		writeText(w, http.StatusOK, "ok")
		return
	}

	res, err := h.engine.ResolveInvoiceChecked(r.Context(), reconcile.ResolveRequest{
		OrderID: wh.AdminGraphQLID,
		Shop:    shop,
	})
	switch {
	case err != nil:
		lg.Error("Pre-issue invoice", zap.String("order_id", wh.AdminGraphQLID), zap.Error(err))
	case res.Kind == reconcile.ResolvedInvoice:
		lg.Info("Invoice pre-issued",
			zap.String("order_id", res.OrderID),
			zap.String("invoice_url", res.InvoiceURL),
			zap.Bool("cached", res.Cached),
		)
	default:
		lg.Info("No invoice needed", zap.String("order_id", res.OrderID), zap.Stringer("kind", res.Kind))
	}
	writeText(w, http.StatusOK, "ok")
}

// WebhookAck acknowledges storefront webhooks the bridge does not act on.
func (h *Handler) WebhookAck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
