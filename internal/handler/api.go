package handler

import (
	"net/http"
	"strings"

	"square-checkout/internal/checkout"
	"square-checkout/internal/idempotency"
	"square-checkout/internal/model"
)

// createCheckoutRequest is the body of POST /api/checkouts. The cart token
// may instead be sent in the Cart-Token header.
type createCheckoutRequest struct {
	CartToken string `json:"cart_token"`
}

// reconcileRequest is the body of POST /api/reconciliations.
type reconcileRequest struct {
	OrderKey      string `json:"order_key"`
	TransactionID string `json:"transaction_id"`
	CheckoutID    string `json:"checkout_id,omitempty"`
}

// handleCreateCheckout runs the redirect leg for a headless storefront.
// POST /api/checkouts
//
// 201 with the vendor checkout URL when one was created, 200 when the flow
// stayed idle or a previous result was replayed.
func (h *Handler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	key, err := idempotency.ParseHeader(r.Header.Get(idempotency.HeaderName))
	if err != nil {
		h.writeError(w, model.NewValidationError(idempotency.HeaderName, err.Error()))
		return
	}

	var req createCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.CartToken == "" {
		req.CartToken = strings.TrimSpace(r.Header.Get(headerCartToken))
	}
	if req.CartToken == "" {
		h.writeError(w, model.NewValidationError("cart_token", "required"))
		return
	}

	res, err := h.flow.Redirect(r.Context(), checkout.RedirectRequest{
		CartToken:      req.CartToken,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.State == checkout.StateAwaitingGatewayRedirect && !res.Replayed {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, res)
}

// handleReconcile runs the return leg from a JSON body.
// POST /api/reconciliations
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.OrderKey == "" {
		h.writeError(w, model.NewValidationError("order_key", "required"))
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, model.NewValidationError("transaction_id", "required"))
		return
	}

	res, err := h.flow.Return(r.Context(), checkout.ReturnRequest{
		OrderKey:      req.OrderKey,
		TransactionID: req.TransactionID,
		CheckoutID:    req.CheckoutID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}
