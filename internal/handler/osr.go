package handler

import (
	"mime"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/order"
	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
)

// resolveFailure is the HTTP rendition of a resolution error.
type resolveFailure struct {
	status int
	code   string
	text   string
}

func classifyResolveError(err error) resolveFailure {
	var (
		validation  *reconcile.ValidationError
		unavailable *invoice.UnavailableError
	)
	switch {
	case errors.As(err, &validation):
		return resolveFailure{http.StatusBadRequest, validation.Message, validation.Message}
	case errors.Is(err, order.ErrUnsupportedReference):
		return resolveFailure{http.StatusBadRequest, "unsupported_reference", "unsupported order reference"}
	case errors.Is(err, order.ErrNotFound):
		return resolveFailure{http.StatusNotFound, "order_not_found", "order not found"}
	case errors.Is(err, reconcile.ErrEmailMismatch):
		return resolveFailure{http.StatusForbidden, "email_mismatch", "Email does not match this order"}
	case errors.Is(err, invoice.ErrInvalidAmount), errors.Is(err, invoice.ErrInvalidCurrency):
		return resolveFailure{http.StatusUnprocessableEntity, "order_amount_unknown", "order_amount_unknown"}
	case errors.Is(err, invoice.ErrTimeout), errors.As(err, &unavailable):
		return resolveFailure{http.StatusBadGateway, "invoice_provider_unavailable", "invoice provider unavailable"}
	default:
		return resolveFailure{http.StatusInternalServerError, "server_error", "server_error"}
	}
}

func logResolveError(r *http.Request, f resolveFailure, err error) {
	lg := zctx.From(r.Context())
	if f.status >= http.StatusInternalServerError {
		lg.Error("Resolve invoice", zap.Error(err))
		return
	}
	lg.Info("Resolve invoice rejected", zap.Int("status", f.status), zap.Error(err))
}

// RedirectToInvoice serves GET /osr/invoice-url?orderId=&orderName=. The
// customer is redirected to a payable invoice, or to the success page when
// the order is already settled.
func (h *Handler) RedirectToInvoice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.engine.ResolveInvoice(r.Context(), reconcile.ResolveRequest{
		OrderID:   strings.TrimSpace(q.Get("orderId")),
		OrderName: strings.TrimSpace(q.Get("orderName")),
	})
	if err != nil {
		f := classifyResolveError(err)
		logResolveError(r, f, err)
		writeText(w, f.status, f.text)
		return
	}

	switch res.Kind {
	case reconcile.ResolvedSettled:
		http.Redirect(w, r, h.engine.SuccessURL(res.OrderID), http.StatusFound)
	case reconcile.ResolvedNothingOwed:
		writeText(w, http.StatusUnprocessableEntity, "order_amount_unknown")
	default:
		http.Redirect(w, r, res.InvoiceURL, http.StatusFound)
	}
}

type invoiceURLRequest struct {
	OrderID string
	Shop    string
}

func (h *Handler) decodeInvoiceURLRequest(w http.ResponseWriter, r *http.Request) (invoiceURLRequest, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
		if err := r.ParseForm(); err != nil {
			return invoiceURLRequest{}, errors.Wrap(err, "parse form")
		}
		return invoiceURLRequest{
			OrderID: strings.TrimSpace(r.PostForm.Get("orderId")),
			Shop:    strings.ToLower(strings.TrimSpace(r.PostForm.Get("shop"))),
		}, nil
	}

	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		return invoiceURLRequest{}, err
	}
	var req invoiceURLRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, nil
	}
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderId":
			return decodeOptionalString(d, &req.OrderID)
		case "shop":
			return decodeOptionalString(d, &req.Shop)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return invoiceURLRequest{}, errors.Wrap(err, "decode json")
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Shop = strings.ToLower(strings.TrimSpace(req.Shop))
	return req, nil
}

// decodeOptionalString accepts a string, a number (numeric REST ids) or null.
func decodeOptionalString(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		*dst = s
		return err
	case jx.Number:
		n, err := d.Num()
		*dst = n.String()
		return err
	case jx.Null:
		return d.Null()
	default:
		return errors.New("expected string")
	}
}

// InvoiceURL serves POST /osr/invoice-url for the order status page script.
// It answers {"invoiceUrl","amount","currency"} with a null invoiceUrl when
// there is nothing to pay.
func (h *Handler) InvoiceURL(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeInvoiceURLRequest(w, r)
	if err != nil {
		zctx.From(r.Context()).Info("Bad invoice url request", zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if !h.allowsShop(req.Shop) {
		zctx.From(r.Context()).Warn("Invoice url request for foreign shop", zap.String("shop", req.Shop))
		writeJSONError(w, http.StatusBadRequest, "invalid_shop")
		return
	}

	res, err := h.engine.ResolveInvoiceChecked(r.Context(), reconcile.ResolveRequest{
		OrderID: req.OrderID,
		Shop:    req.Shop,
	})
	if err != nil {
		f := classifyResolveError(err)
		logResolveError(r, f, err)
		writeJSONError(w, f.status, f.code)
		return
	}

	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("invoiceUrl", func(e *jx.Encoder) {
			if res.Kind == reconcile.ResolvedInvoice {
				e.Str(res.InvoiceURL)
				return
			}
			e.Null()
		})
		e.Field("amount", func(e *jx.Encoder) { e.Raw([]byte(res.Amount.Amount.String())) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(res.Amount.Currency) })
	})
	writeJSON(w, http.StatusOK, e)
}
