// Package handler provides the HTTP surface of the checkout gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"square-checkout/internal/checkout"
	"square-checkout/internal/config"
	"square-checkout/internal/model"
	"square-checkout/internal/order"
	"square-checkout/internal/reconcile"
	"square-checkout/internal/square"
)

// Flow is the checkout flow driven by the handlers.
type Flow interface {
	Redirect(ctx context.Context, req checkout.RedirectRequest) (*checkout.RedirectResult, error)
	Return(ctx context.Context, req checkout.ReturnRequest) (*checkout.ReturnResult, error)
	Preview(ctx context.Context, cartToken string) (*square.CheckoutRequest, error)
}

// OrderFinder looks orders up by key.
type OrderFinder interface {
	FindByKey(ctx context.Context, key string) (*order.Order, error)
}

// Options configure the handler.
type Options struct {
	// StoreURL is the storefront base URL. Idle redirects and returns without
	// a transaction go back to it. Empty renders a local page instead.
	StoreURL string
	Settings config.GatewaySettings
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	flow     Flow
	orders   OrderFinder
	storeURL string
	settings config.GatewaySettings
	logger   *slog.Logger
}

// New creates a new Handler.
func New(flow Flow, orders OrderFinder, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		flow:     flow,
		orders:   orders,
		storeURL: strings.TrimSuffix(opts.StoreURL, "/"),
		settings: opts.Settings,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Browser flow
	mux.HandleFunc("GET /checkout", h.handleCheckoutPage)
	mux.HandleFunc("GET /checkout/order-received/{id}", h.handleReturnPage)
	mux.HandleFunc("GET /checkout/order-received/{id}/{$}", h.handleReturnPage)

	// JSON API for headless storefronts and operators
	mux.HandleFunc("POST /api/checkouts", h.handleCreateCheckout)
	mux.HandleFunc("POST /api/reconciliations", h.handleReconcile)
	mux.HandleFunc("GET /api/settings", h.handleSettings)

	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// settingsResponse is the storefront's view of the payment method.
type settingsResponse struct {
	Enabled          bool   `json:"enabled"`
	OverrideCheckout bool   `json:"override_checkout"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Instructions     string `json:"instructions,omitempty"`
}

// handleSettings returns the display settings.
// GET /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, settingsResponse{
		Enabled:          h.settings.Enabled,
		OverrideCheckout: h.settings.OverrideCheckout,
		Title:            h.settings.Title,
		Description:      h.settings.Description,
		Instructions:     h.settings.Instructions,
	})
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// toAPIError finds the APIError in err's chain. A partial reconciliation
// reports the steps that were applied. Anything else is logged and becomes a
// generic internal error.
func (h *Handler) toAPIError(err error) *model.APIError {
	var partial *reconcile.PartialError
	if errors.As(err, &partial) {
		h.logger.Error("partial reconciliation",
			slog.String("order_id", partial.OrderID),
			slog.String("step", partial.Step),
			slog.Any("applied", partial.Applied),
			slog.String("error", err.Error()),
		)
		return &model.APIError{
			Code:       "PARTIAL_RECONCILIATION",
			Message:    fmt.Sprintf("order %s updated partially (applied: %s; failed: %s)", partial.OrderID, strings.Join(partial.Applied, ", "), partial.Step),
			StatusCode: http.StatusInternalServerError,
			Err:        err,
		}
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	h.logger.Error("internal error", slog.String("error", err.Error()))
	return &model.APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// decodeJSON reads JSON from request body into v.
// An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
