package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/order"
	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
	"github.com/xenking/crypto-bridge/internal/ipn"
)

// Notification serves POST /ipn/nowpayments. Business outcomes are always
// acknowledged with 200 so the processor stops retrying; only
// authentication and malformed payloads are rejected.
func (h *Handler) Notification(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeText(w, http.StatusBadRequest, "malformed")
		return
	}

	res, err := h.engine.HandleNotification(r.Context(), body, r.Header.Get(ipn.SignatureHeader))
	var validation *reconcile.ValidationError
	switch {
	case err == nil:
		writeText(w, http.StatusOK, string(res.Outcome))
	case errors.Is(err, reconcile.ErrSignatureInvalid):
		writeText(w, http.StatusUnauthorized, "bad signature")
	case errors.Is(err, ipn.ErrMalformed), errors.As(err, &validation):
		writeText(w, http.StatusBadRequest, "malformed")
	default:
		zctx.From(r.Context()).Error("Handle notification", zap.Error(err))
		writeText(w, http.StatusOK, "ERR")
	}
}

// NotificationGuarded serves POST /ipn/nowpayments/guarded, the variant
// that rejects underpaid notifications and orders that are no longer
// payable with 4xx so the processor retries or alerts.
func (h *Handler) NotificationGuarded(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeText(w, http.StatusBadRequest, "malformed")
		return
	}

	res, err := h.engine.HandleNotificationGuarded(r.Context(), body, r.Header.Get(ipn.SignatureHeader))
	var (
		validation *reconcile.ValidationError
		mismatch   *reconcile.PaymentMismatchError
	)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, guardedAck(res.Outcome))
	case errors.Is(err, reconcile.ErrSignatureInvalid):
		writeText(w, http.StatusUnauthorized, "bad signature")
	case errors.As(err, &validation):
		writeText(w, http.StatusBadRequest, "missing order id")
	case errors.Is(err, ipn.ErrMalformed):
		writeText(w, http.StatusBadRequest, "malformed")
	case errors.As(err, &mismatch):
		writeText(w, http.StatusBadRequest, "amount too low")
	case errors.Is(err, order.ErrCatalogConflict):
		writeText(w, http.StatusConflict, "order not payable")
	default:
		zctx.From(r.Context()).Error("Handle guarded notification", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "server_error")
	}
}

// guardedAck is the response text of an acknowledged guarded notification.
func guardedAck(o reconcile.Outcome) string {
	switch o {
	case reconcile.OutcomeUnmapped, reconcile.OutcomeAcknowledged:
		return "ok"
	default:
		return string(o)
	}
}
