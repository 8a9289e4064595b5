// MCP transport for operator tools using the official MCP Go SDK.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"square-checkout/internal/checkout"
	"square-checkout/internal/order"
	"square-checkout/internal/square"
)

// === MCP Tool Input/Output Types ===

// PreviewCheckoutInput is the input schema for preview_checkout tool.
type PreviewCheckoutInput struct {
	CartToken string `json:"cart_token" jsonschema:"storefront cart token"`
}

// PreviewCheckoutOutput is the create-checkout body that would be sent.
type PreviewCheckoutOutput struct {
	Request *square.CheckoutRequest `json:"request"`
}

// ReconcileOrderInput is the input schema for reconcile_order tool.
type ReconcileOrderInput struct {
	OrderKey      string `json:"order_key" jsonschema:"storefront order key"`
	TransactionID string `json:"transaction_id" jsonschema:"vendor transaction id from the return URL"`
	CheckoutID    string `json:"checkout_id,omitempty" jsonschema:"vendor checkout id, defaults to the stored one"`
}

// ReconcileOrderOutput reports the reconciled order.
type ReconcileOrderOutput struct {
	State            string       `json:"state"`
	Order            *OrderOutput `json:"order"`
	TransactionID    string       `json:"transaction_id"`
	CheckoutID       string       `json:"checkout_id,omitempty"`
	AlreadyCompleted bool         `json:"already_completed"`
}

// GetOrderInput is the input schema for get_order tool.
type GetOrderInput struct {
	OrderKey string `json:"order_key" jsonschema:"storefront order key"`
}

// OrderOutput is an order as reported to MCP clients.
type OrderOutput struct {
	ID         string         `json:"id"`
	Key        string         `json:"order_key"`
	Status     string         `json:"status"`
	Currency   string         `json:"currency"`
	Total      int64          `json:"total" jsonschema:"total in minor units"`
	Billing    *order.Address `json:"billing,omitempty"`
	Shipping   *order.Address `json:"shipping,omitempty"`
	CheckoutID string         `json:"checkout_id,omitempty"`
	Notes      []string       `json:"notes,omitempty"`
	UpdatedAt  string         `json:"updated_at,omitempty"`
}

// NewMCPServer creates an MCP server with the operator tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "square-checkout",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Square hosted checkout gateway. " +
				"Use these tools to inspect carts and orders and to reconcile paid orders.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_checkout",
		Description: "Build the hosted checkout request for a cart without creating an order or calling Square.",
	}, h.mcpPreviewCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile_order",
		Description: "Copy the customer from a Square transaction onto the order and mark it completed.",
	}, h.mcpReconcileOrder)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_order",
		Description: "Get an order by its order key.",
	}, h.mcpGetOrder)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpPreviewCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PreviewCheckoutInput,
) (*mcp.CallToolResult, PreviewCheckoutOutput, error) {
	if input.CartToken == "" {
		return nil, PreviewCheckoutOutput{}, fmt.Errorf("cart_token is required")
	}

	preview, err := h.flow.Preview(ctx, input.CartToken)
	if err != nil {
		return nil, PreviewCheckoutOutput{}, h.mcpError(err)
	}

	return nil, PreviewCheckoutOutput{Request: preview}, nil
}

func (h *Handler) mcpReconcileOrder(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ReconcileOrderInput,
) (*mcp.CallToolResult, ReconcileOrderOutput, error) {
	if input.OrderKey == "" || input.TransactionID == "" {
		return nil, ReconcileOrderOutput{}, fmt.Errorf("order_key and transaction_id are required")
	}

	res, err := h.flow.Return(ctx, checkout.ReturnRequest{
		OrderKey:      input.OrderKey,
		TransactionID: input.TransactionID,
		CheckoutID:    input.CheckoutID,
	})
	if err != nil {
		return nil, ReconcileOrderOutput{}, h.mcpError(err)
	}

	return nil, ReconcileOrderOutput{
		State:            string(res.State),
		Order:            orderOutput(res.Order),
		TransactionID:    res.TransactionID,
		CheckoutID:       res.CheckoutID,
		AlreadyCompleted: res.AlreadyCompleted,
	}, nil
}

func (h *Handler) mcpGetOrder(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOrderInput,
) (*mcp.CallToolResult, OrderOutput, error) {
	if input.OrderKey == "" {
		return nil, OrderOutput{}, fmt.Errorf("order_key is required")
	}
	if h.orders == nil {
		return nil, OrderOutput{}, fmt.Errorf("order lookup is not configured")
	}

	o, err := h.orders.FindByKey(ctx, input.OrderKey)
	if err != nil {
		return nil, OrderOutput{}, h.mcpError(err)
	}

	return nil, *orderOutput(o), nil
}

func orderOutput(o *order.Order) *OrderOutput {
	if o == nil {
		return &OrderOutput{}
	}
	out := &OrderOutput{
		ID:         o.ID,
		Key:        o.Key,
		Status:     string(o.Status),
		Currency:   o.Currency,
		Total:      o.Total,
		CheckoutID: o.CheckoutID(),
		Notes:      o.Notes,
	}
	if !o.Billing.IsZero() {
		b := o.Billing
		out.Billing = &b
	}
	if !o.Shipping.IsZero() {
		s := o.Shipping
		out.Shipping = &s
	}
	if !o.UpdatedAt.IsZero() {
		out.UpdatedAt = o.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// mcpError converts flow errors to MCP-friendly errors.
// Internal details are logged, not returned.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}
