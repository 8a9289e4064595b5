package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"square-checkout/internal/checkout"
	"square-checkout/internal/model"
	"square-checkout/internal/order"
)

const (
	headerCartToken = "Cart-Token"
	cookieCartToken = "woocommerce_cart_token"
)

var pages = template.Must(template.New("layout").Parse(`{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main>
{{template "body" .}}
</main>
</body>
</html>{{end}}`))

var failurePage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}
<h1>{{.Title}}</h1>
<p class="error">{{.Message}}</p>
{{if .StoreURL}}<p><a href="{{.StoreURL}}/checkout/">Return to checkout</a></p>{{end}}
{{end}}`))

var thankYouPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}
<h1>Thank you. Your order has been received.</h1>
<ul class="order-details">
<li>Order number: <strong>{{.OrderID}}</strong></li>
<li>Payment method: <strong>{{.Title}}</strong></li>
{{if .TransactionID}}<li>Transaction: <strong>{{.TransactionID}}</strong></li>{{end}}
</ul>
{{if .Instructions}}<p class="instructions">{{.Instructions}}</p>{{end}}
{{if .StoreURL}}<p><a href="{{.StoreURL}}/">Continue shopping</a></p>{{end}}
{{end}}`))

var idlePage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{end}}`))

type pageData struct {
	Title         string
	Message       string
	OrderID       string
	TransactionID string
	Instructions  string
	StoreURL      string
}

// handleCheckoutPage runs the redirect leg for a browser.
// GET /checkout
//
// Idle results go back to the storefront's own checkout, success redirects
// to the vendor's hosted page.
func (h *Handler) handleCheckoutPage(w http.ResponseWriter, r *http.Request) {
	res, err := h.flow.Redirect(r.Context(), checkout.RedirectRequest{CartToken: cartToken(r)})
	if err != nil {
		h.renderFailure(w, err)
		return
	}

	switch res.State {
	case checkout.StateAwaitingGatewayRedirect:
		http.Redirect(w, r, res.CheckoutURL, http.StatusFound)
	case checkout.StateIdle:
		if h.storeURL != "" {
			http.Redirect(w, r, h.storeURL+"/checkout/", http.StatusFound)
			return
		}
		h.render(w, http.StatusOK, idlePage, pageData{Title: h.settings.Title, Message: res.Reason})
	default:
		h.renderFailure(w, model.NewInternalError(nil))
	}
}

// handleReturnPage runs the return leg when the vendor sends the shopper back.
// GET /checkout/order-received/{id}?key=...&transactionId=...
//
// Without a transaction id the shopper did not come from the vendor, so the
// storefront's own order-received page is shown instead.
func (h *Handler) handleReturnPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	key := q.Get("key")
	txID := q.Get("transactionId")

	if key == "" || txID == "" {
		if h.storeURL != "" && key != "" {
			http.Redirect(w, r, order.ReceivedURL(h.storeURL, id, key), http.StatusFound)
			return
		}
		field := "key"
		if key != "" {
			field = "transactionId"
		}
		h.renderFailure(w, model.NewValidationError(field, "required"))
		return
	}

	if h.orders != nil {
		o, err := h.orders.FindByKey(r.Context(), key)
		if err != nil {
			h.renderFailure(w, err)
			return
		}
		if o.ID != id {
			h.logger.Warn("order id does not match key", slog.String("order_id", id), slog.String("order_key", key))
			h.renderFailure(w, model.NewOrderNotFoundError(key))
			return
		}
	}

	res, err := h.flow.Return(r.Context(), checkout.ReturnRequest{
		OrderKey:      key,
		TransactionID: txID,
		CheckoutID:    q.Get("checkoutId"),
	})
	if err != nil {
		h.renderFailure(w, err)
		return
	}

	h.render(w, http.StatusOK, thankYouPage, pageData{
		Title:         h.settings.Title,
		OrderID:       res.Order.ID,
		TransactionID: res.TransactionID,
		Instructions:  h.settings.Instructions,
		StoreURL:      h.storeURL,
	})
}

// renderFailure shows the error message to the shopper.
func (h *Handler) renderFailure(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	h.render(w, apiErr.StatusCode, failurePage, pageData{
		Title:    "Checkout failed",
		Message:  apiErr.Message,
		StoreURL: h.storeURL,
	})
}

func (h *Handler) render(w http.ResponseWriter, status int, page *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := page.ExecuteTemplate(w, "layout", data); err != nil {
		h.logger.Error("failed to render page", slog.String("error", err.Error()))
	}
}

// cartToken reads the storefront cart token from the header, the query or
// the cart cookie, in that order.
func cartToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(headerCartToken)); t != "" {
		return t
	}
	if t := r.URL.Query().Get("cart_token"); t != "" {
		return t
	}
	if c, err := r.Cookie(cookieCartToken); err == nil {
		if t, err := url.QueryUnescape(c.Value); err == nil {
			return t
		}
	}
	return ""
}
