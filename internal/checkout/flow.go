// Package checkout drives the hosted-checkout round trip.
//
// The redirect leg turns the shopper's cart into a pending order and a vendor
// checkout, and hands back the vendor URL to send the browser to. The return
// leg runs when the vendor sends the shopper back with a transaction id; it
// reconciles the order and announces the payment.
//
//	Idle → BuildingRequest → AwaitingGatewayRedirect
//	ReturnedFromGateway → Reconciled
//	any → Failed
//
// Nothing is retried. The first failure ends the flow in Failed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"square-checkout/internal/cart"
	"square-checkout/internal/events"
	"square-checkout/internal/idempotency"
	"square-checkout/internal/model"
	"square-checkout/internal/order"
	"square-checkout/internal/reconcile"
	"square-checkout/internal/square"
)

// State is a step of the checkout flow.
type State string

const (
	StateIdle                    State = "idle"
	StateBuildingRequest         State = "building_request"
	StateAwaitingGatewayRedirect State = "awaiting_gateway_redirect"
	StateReturnedFromGateway     State = "returned_from_gateway"
	StateReconciled              State = "reconciled"
	StateFailed                  State = "failed"
)

// Gateway is the subset of the vendor client used on the redirect leg.
type Gateway interface {
	ResolveLocationID(ctx context.Context) (string, error)
	CreateCheckout(ctx context.Context, locationID string, req *square.CheckoutRequest) (*square.Checkout, error)
}

// Reconciler runs the return leg's order update.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Result, error)
}

// Options configure the controller.
type Options struct {
	// Enabled and OverrideCheckout must both be set for Redirect to leave Idle.
	Enabled          bool
	OverrideCheckout bool

	// PublicBaseURL is where the vendor sends the shopper back to.
	PublicBaseURL string

	Currency             string
	MerchantSupportEmail string
	ApplyCartDiscounts   bool
}

// Deps are the controller's collaborators.
type Deps struct {
	Carts      cart.Reader
	Orders     order.Store
	Gateway    Gateway
	Reconciler Reconciler
	Publisher  events.Publisher // nil publishes nothing
	Logger     *slog.Logger
}

// RedirectRequest starts the redirect leg.
type RedirectRequest struct {
	CartToken string
	// IdempotencyKey is the caller's key. A repeated key replays the first
	// successful result, and a concurrent repeat waits for it. Reusing a key
	// for another cart token fails. When empty a fresh key is generated.
	IdempotencyKey string
}

// RedirectResult is the outcome of the redirect leg. In StateIdle nothing was
// created and CheckoutURL is empty.
type RedirectResult struct {
	State       State  `json:"state"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	CheckoutID  string `json:"checkout_id,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	OrderKey    string `json:"order_key,omitempty"`
	// Reason explains a StateIdle result.
	Reason string `json:"reason,omitempty"`
	// Replayed is set when the result came from an earlier request with the
	// same idempotency key.
	Replayed bool `json:"replayed,omitempty"`
}

// ReturnRequest starts the return leg with the values from the return URL.
type ReturnRequest struct {
	OrderKey      string
	TransactionID string
	CheckoutID    string
}

// ReturnResult is the outcome of the return leg.
type ReturnResult struct {
	State            State        `json:"state"`
	Order            *order.Order `json:"order,omitempty"`
	TransactionID    string       `json:"transaction_id,omitempty"`
	CheckoutID       string       `json:"checkout_id,omitempty"`
	AlreadyCompleted bool         `json:"already_completed,omitempty"`
}

// Idle reasons.
const (
	ReasonDisabled   = "gateway disabled"
	ReasonNoOverride = "checkout override off"
	ReasonEmptyCart  = "cart is empty"
)

// Controller is the CheckoutFlowController.
type Controller struct {
	carts      cart.Reader
	orders     order.Store
	gateway    Gateway
	reconciler Reconciler
	publisher  events.Publisher
	opts       Options
	replays    *idempotency.Cache[*RedirectResult]
	logger     *slog.Logger
}

// New creates a Controller.
func New(deps Deps, opts Options) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Controller{
		carts:      deps.Carts,
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		reconciler: deps.Reconciler,
		publisher:  publisher,
		opts:       opts,
		replays:    idempotency.NewCache[*RedirectResult](idempotency.DefaultTTL),
		logger:     logger,
	}
}

// Redirect runs the redirect leg for the cart behind req.CartToken.
//
// With the gateway disabled, the override off, or an empty cart, Redirect
// returns StateIdle without touching the order store or the vendor. Otherwise
// the location is resolved, a pending order is created, the vendor checkout is
// created and its id is stored on the order.
func (c *Controller) Redirect(ctx context.Context, req RedirectRequest) (*RedirectResult, error) {
	if !c.opts.Enabled {
		return &RedirectResult{State: StateIdle, Reason: ReasonDisabled}, nil
	}
	if !c.opts.OverrideCheckout {
		return &RedirectResult{State: StateIdle, Reason: ReasonNoOverride}, nil
	}

	if req.IdempotencyKey == "" {
		return c.redirect(ctx, req)
	}

	prev, replay, err := c.replays.Claim(ctx, req.IdempotencyKey, req.CartToken)
	if errors.Is(err, idempotency.ErrKeyReused) {
		return c.redirectFailed(StateIdle, model.NewIdempotencyKeyReusedError(req.IdempotencyKey))
	}
	if err != nil {
		return c.redirectFailed(StateIdle, fmt.Errorf("waiting for idempotency key: %w", err))
	}
	if replay {
		out := *prev
		out.Replayed = true
		c.logger.Info("replaying checkout", "order_key", prev.OrderKey, "checkout_id", prev.CheckoutID)
		return &out, nil
	}

	completed := false
	defer func() {
		if !completed {
			c.replays.Release(req.IdempotencyKey)
		}
	}()

	res, err := c.redirect(ctx, req)
	if err != nil || res.State != StateAwaitingGatewayRedirect {
		return res, err
	}
	stored := *res
	c.replays.Complete(req.IdempotencyKey, &stored)
	completed = true
	return res, nil
}

// redirect does the work of Redirect once the idempotency key is held.
func (c *Controller) redirect(ctx context.Context, req RedirectRequest) (*RedirectResult, error) {
	snap, err := c.carts.Read(ctx, req.CartToken)
	if err != nil {
		return c.redirectFailed(StateIdle, fmt.Errorf("reading cart: %w", err))
	}
	if snap.IsEmpty() {
		return &RedirectResult{State: StateIdle, Reason: ReasonEmptyCart}, nil
	}
	snap.Currency = c.currency(snap)

	state := StateBuildingRequest
	c.logger.Debug("checkout state", "state", state, "lines", len(snap.Lines))

	locationID, err := c.gateway.ResolveLocationID(ctx)
	if err != nil {
		return c.redirectFailed(state, err)
	}

	o, err := c.orders.CreatePending(ctx, order.PendingRequest{Cart: snap, CartToken: req.CartToken})
	if err != nil {
		return c.redirectFailed(state, fmt.Errorf("creating pending order: %w", err))
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.NewKey()
	}
	redirectURL := order.ReceivedURL(c.opts.PublicBaseURL, o.ID, o.Key)
	checkoutReq := square.BuildCheckoutRequest(snap, o.Key, redirectURL, c.buildOptions(key))

	co, err := c.gateway.CreateCheckout(ctx, locationID, checkoutReq)
	if err != nil {
		return c.redirectFailed(state, err, "order_key", o.Key)
	}

	if err := c.orders.SetMeta(ctx, o.ID, order.MetaCheckoutID, co.ID); err != nil {
		return c.redirectFailed(state, fmt.Errorf("saving checkout id: %w", err), "order_key", o.Key, "checkout_id", co.ID)
	}

	res := &RedirectResult{
		State:       StateAwaitingGatewayRedirect,
		CheckoutURL: co.CheckoutPageURL,
		CheckoutID:  co.ID,
		OrderID:     o.ID,
		OrderKey:    o.Key,
	}
	c.logger.Info("checkout created",
		"state", res.State,
		"order_key", o.Key,
		"checkout_id", co.ID,
		"location_id", locationID,
	)
	return res, nil
}

// Preview builds the checkout request for a cart without creating an order
// or calling the vendor. The reference id and redirect URL are placeholders.
func (c *Controller) Preview(ctx context.Context, cartToken string) (*square.CheckoutRequest, error) {
	snap, err := c.carts.Read(ctx, cartToken)
	if err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	if snap.IsEmpty() {
		return nil, model.NewEmptyCartError()
	}
	snap.Currency = c.currency(snap)
	redirectURL := order.ReceivedURL(c.opts.PublicBaseURL, "preview", "")
	return square.BuildCheckoutRequest(snap, "preview", redirectURL, c.buildOptions("preview")), nil
}

// Return runs the return leg. The order.paid event is published after the
// reconciliation commits; a publish failure is logged and not returned.
func (c *Controller) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	state := StateReturnedFromGateway
	c.logger.Debug("checkout state", "state", state, "order_key", req.OrderKey, "transaction_id", req.TransactionID)

	res, err := c.reconciler.Reconcile(ctx, reconcile.Request{
		OrderKey:      req.OrderKey,
		TransactionID: req.TransactionID,
		CheckoutID:    req.CheckoutID,
	})
	if err != nil {
		c.logger.Error("checkout failed",
			"state", state,
			"order_key", req.OrderKey,
			"transaction_id", req.TransactionID,
			"partial", reconcile.IsPartial(err),
			"error", err,
		)
		return &ReturnResult{State: StateFailed}, err
	}

	if !res.AlreadyCompleted {
		ev := events.NewOrderPaid(res.Order.ID, res.Order.Key, res.CheckoutID, res.TransactionID)
		if err := c.publisher.PublishOrderPaid(ctx, ev); err != nil {
			c.logger.Warn("order.paid not published", "order_key", res.Order.Key, "event_id", ev.EventID, "error", err)
		}
	}

	return &ReturnResult{
		State:            StateReconciled,
		Order:            res.Order,
		TransactionID:    res.TransactionID,
		CheckoutID:       res.CheckoutID,
		AlreadyCompleted: res.AlreadyCompleted,
	}, nil
}

func (c *Controller) redirectFailed(state State, err error, attrs ...any) (*RedirectResult, error) {
	args := append([]any{"state", state, "error", err}, attrs...)
	c.logger.Error("checkout failed", args...)
	return &RedirectResult{State: StateFailed}, err
}

func (c *Controller) currency(snap *cart.Snapshot) string {
	if snap.Currency != "" {
		return snap.Currency
	}
	return c.opts.Currency
}

func (c *Controller) buildOptions(key string) square.BuildOptions {
	return square.BuildOptions{
		IdempotencyKey:       key,
		Currency:             c.opts.Currency,
		MerchantSupportEmail: c.opts.MerchantSupportEmail,
		ApplyCartDiscounts:   c.opts.ApplyCartDiscounts,
	}
}
