package handler

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/order"
	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
)

const pageStyle = `body{font-family:system-ui,-apple-system,Segoe UI,Roboto,sans-serif;margin:40px;color:#111}
.btn{display:inline-block;padding:10px 16px;border-radius:8px;text-decoration:none;border:1px solid #222;font-weight:600}
.row{display:flex;gap:12px;flex-wrap:wrap}
.muted{color:#666;font-size:14px;margin-top:8px}
form{display:flex;gap:12px;flex-wrap:wrap;margin-bottom:16px}
input,button{padding:10px 12px;font-size:16px}`

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!doctype html>
<html lang="en"><head><meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.}}</title>
<style>` + pageStyle + `</style></head>{{end}}

{{define "success"}}{{template "head" "Payment received"}}
<body>
<h1>Crypto payment received</h1>
<p>Your order will be processed shortly.</p>
<p><a class="btn" href="{{.StoreURL}}">Return to store</a></p>
{{with .Order}}<p class="muted">Order reference: <code>{{.}}</code></p>{{end}}
<p class="muted">You can close this tab.</p>
</body></html>{{end}}

{{define "cancel"}}{{template "head" "Payment canceled"}}
<body>
<h1>Crypto payment canceled</h1>
<p>You can reopen the invoice or go back to the store.</p>
<div class="row">
<a class="btn" href="{{.InvoiceLink}}">Reopen crypto invoice</a>
<a class="btn" href="{{.StoreURL}}">Return to store</a>
</div>
</body></html>{{end}}

{{define "pay"}}{{template "head" "Pay with crypto"}}
<body>
<h2>Pay with crypto</h2>
<p class="muted">Enter your order number (for example <strong>#1001</strong>) or the order ID.</p>
<form method="POST" action="/pay/start" accept-charset="UTF-8">
<input required name="order" placeholder="Order # or order ID">
<input name="email" type="email" placeholder="Email (optional)">
<button type="submit">Open invoice</button>
</form>
</body></html>{{end}}

{{define "invoice"}}<!doctype html>
<html lang="en"><head><meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.OrderName}} crypto invoice</title>
<style>html,body{height:100%}body{margin:0}iframe{width:100%;height:100%;border:0}</style></head>
<body><iframe src="{{.InvoiceURL}}" allow="payment *; clipboard-read; clipboard-write"></iframe></body></html>{{end}}
`))

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		zctx.From(r.Context()).Error("Render page", zap.String("page", name), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// PaymentSuccess serves the landing page after a completed payment.
func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "success", struct {
		StoreURL string
		Order    string
	}{
		StoreURL: h.storeURL(),
		Order:    r.URL.Query().Get("order"),
	})
}

// PaymentCancel serves the landing page after a cancelled payment. It links
// back to the redirect endpoint for the same order.
func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	link := h.appURL + "/"
	if ref := r.URL.Query().Get("order"); ref != "" {
		link = h.appURL + "/osr/invoice-url?orderId=" + url.QueryEscape(ref)
	}
	h.render(w, r, "cancel", struct {
		StoreURL    string
		InvoiceLink string
	}{
		StoreURL:    h.storeURL(),
		InvoiceLink: link,
	})
}

// PayPage serves the manual pay form.
func (h *Handler) PayPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pay", nil)
}

// StartPay serves POST /pay/start. The order is looked up by number or id,
// the optional email must match, and the invoice is shown in an iframe.
func (h *Handler) StartPay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid form")
		return
	}
	input := strings.TrimSpace(r.PostForm.Get("order"))
	if input == "" {
		writeText(w, http.StatusBadRequest, "Missing order")
		return
	}

	lookup := order.ParseLookup(input)
	res, err := h.engine.ResolveInvoice(r.Context(), reconcile.ResolveRequest{
		OrderID:   lookup.ID,
		OrderName: lookup.Name,
		Email:     strings.TrimSpace(r.PostForm.Get("email")),
	})
	if err != nil {
		f := classifyResolveError(err)
		logResolveError(r, f, err)
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeText(w, f.status, "Order not found")
		case f.status >= http.StatusInternalServerError:
			writeText(w, f.status, "Could not open invoice, try again later")
		default:
			writeText(w, f.status, f.text)
		}
		return
	}

	switch res.Kind {
	case reconcile.ResolvedSettled:
		http.Redirect(w, r, h.engine.SuccessURL(res.OrderID), http.StatusSeeOther)
	case reconcile.ResolvedNothingOwed:
		writeText(w, http.StatusOK, "This order has no outstanding balance.")
	default:
		name := res.OrderName
		if name == "" {
			name = res.OrderID
		}
		h.render(w, r, "invoice", struct {
			OrderName  string
			InvoiceURL string
		}{
			OrderName:  name,
			InvoiceURL: res.InvoiceURL,
		})
	}
}
