package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"square-checkout/internal/cart"
	"square-checkout/internal/events"
	"square-checkout/internal/model"
	"square-checkout/internal/order"
	"square-checkout/internal/reconcile"
	"square-checkout/internal/square"
)

const checkoutURL = "https://connect.squareupsandbox.com/v2/checkout?c=CHK-1&l=LOC1"

type fakeGateway struct {
	mu          sync.Mutex
	resolves    int
	creates     []*square.CheckoutRequest
	locationErr error
	createErr   error
	delay       time.Duration
}

func (g *fakeGateway) ResolveLocationID(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolves++
	return "LOC1", g.locationErr
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, locationID string, req *square.CheckoutRequest) (*square.Checkout, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &square.Checkout{ID: "CHK-1", CheckoutPageURL: checkoutURL}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolves + len(g.creates)
}

// vendorGateway serves the return leg.
type vendorGateway struct {
	tenders []square.Tender
}

func (g *vendorGateway) ResolveLocationID(ctx context.Context) (string, error) { return "LOC1", nil }

func (g *vendorGateway) RetrieveTransaction(ctx context.Context, locationID, transactionID string) (*square.Transaction, error) {
	return &square.Transaction{ID: transactionID, Tenders: g.tenders}, nil
}

func (g *vendorGateway) RetrieveCustomer(ctx context.Context, customerID string) (*square.Customer, error) {
	return &square.Customer{ID: customerID, GivenName: "Ada", FamilyName: "Lovelace", EmailAddress: "ada@example.com"}, nil
}

type recordingPublisher struct {
	events []events.OrderPaid
	err    error
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, ev events.OrderPaid) error {
	p.events = append(p.events, ev)
	return p.err
}

type harness struct {
	carts     *cart.MemoryReader
	orders    *order.MemoryStore
	gateway   *fakeGateway
	vendor    *vendorGateway
	publisher *recordingPublisher
	ctrl      *Controller
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		carts:     cart.NewMemoryReader(),
		orders:    order.NewMemoryStore(),
		gateway:   &fakeGateway{},
		vendor:    &vendorGateway{tenders: []square.Tender{{ID: "T1", CustomerID: "CUST1"}}},
		publisher: &recordingPublisher{},
	}
	h.carts.Put("tok", &cart.Snapshot{
		Currency: "USD",
		Lines: []cart.Line{
			{ProductID: "61", Name: "Mug", Quantity: 2, Subtotal: 20, Total: 18},
		},
		ShippingTotal: 4.99,
	})
	h.ctrl = New(Deps{
		Carts:      h.carts,
		Orders:     h.orders,
		Gateway:    h.gateway,
		Reconciler: reconcile.New(h.vendor, h.orders, reconcile.Options{}, nil),
		Publisher:  h.publisher,
	}, opts)
	return h
}

func enabled() Options {
	return Options{Enabled: true, OverrideCheckout: true, PublicBaseURL: "https://pay.example.com", Currency: "USD"}
}

func TestRedirect_Idle(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		token  string
		reason string
	}{
		{"disabled", Options{OverrideCheckout: true}, "tok", ReasonDisabled},
		{"override off", Options{Enabled: true}, "tok", ReasonNoOverride},
		{"empty cart", enabled(), "unknown", ReasonEmptyCart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts)

			res, err := h.ctrl.Redirect(context.Background(), RedirectRequest{CartToken: tt.token})
			if err != nil {
				t.Fatalf("Redirect() error: %v", err)
			}
			if res.State != StateIdle || res.Reason != tt.reason {
				t.Errorf("result = %+v, want idle/%s", res, tt.reason)
			}
			if res.CheckoutURL != "" {
				t.Errorf("CheckoutURL = %q, want none", res.CheckoutURL)
			}
			if n := h.gateway.calls(); n != 0 {
				t.Errorf("gateway calls = %d, want 0", n)
			}
		})
	}
}

func TestRedirect_Success(t *testing.T) {
	h := newHarness(t, enabled())

	res, err := h.ctrl.Redirect(context.Background(), RedirectRequest{CartToken: "tok"})
	if err != nil {
		t.Fatalf("Redirect() error: %v", err)
	}

	if res.State != StateAwaitingGatewayRedirect {
		t.Errorf("State = %s", res.State)
	}
	if res.CheckoutURL != checkoutURL {
		t.Errorf("CheckoutURL = %q, want vendor URL exactly", res.CheckoutURL)
	}

	o, ok := h.orders.Get(res.OrderID)
	if !ok {
		t.Fatal("pending order not created")
	}
	if o.Status != order.StatusPending || o.Key != res.OrderKey {
		t.Errorf("order = %+v", o)
	}
	if o.CheckoutID() != "CHK-1" {
		t.Errorf("CheckoutID() = %q, want CHK-1", o.CheckoutID())
	}
	if o.Total != 1800+499 {
		t.Errorf("Total = %d, want 2299", o.Total)
	}

	req := h.gateway.creates[0]
	if req.Order.ReferenceID != o.Key {
		t.Errorf("ReferenceID = %q, want %q", req.Order.ReferenceID, o.Key)
	}
	wantRedirect := "https://pay.example.com/checkout/order-received/" + o.ID + "/?key=" + o.Key
	if req.RedirectURL != wantRedirect {
		t.Errorf("RedirectURL = %q, want %q", req.RedirectURL, wantRedirect)
	}
	if req.IdempotencyKey == "" {
		t.Error("IdempotencyKey should be generated")
	}
	if len(req.Order.LineItems) != 2 || req.Order.LineItems[0].BasePriceMoney.Amount != 1000 {
		t.Errorf("LineItems = %+v", req.Order.LineItems)
	}
}

func TestRedirect_FreshKeyPerAttempt(t *testing.T) {
	h := newHarness(t, enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok"}); err != nil {
			t.Fatal(err)
		}
	}
	if a, b := h.gateway.creates[0].IdempotencyKey, h.gateway.creates[1].IdempotencyKey; a == b {
		t.Errorf("idempotency keys repeated: %q", a)
	}
}

func TestRedirect_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t, enabled())
	ctx := context.Background()

	first, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok", IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok", IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatal(err)
	}

	if len(h.gateway.creates) != 1 {
		t.Errorf("CreateCheckout calls = %d, want 1", len(h.gateway.creates))
	}
	if h.gateway.creates[0].IdempotencyKey != "key-1" {
		t.Errorf("IdempotencyKey = %q, want caller key", h.gateway.creates[0].IdempotencyKey)
	}
	if !second.Replayed || second.OrderKey != first.OrderKey || second.CheckoutURL != first.CheckoutURL {
		t.Errorf("second = %+v, want replay of %+v", second, first)
	}
}

func TestRedirect_ConcurrentSameKey(t *testing.T) {
	h := newHarness(t, enabled())
	h.gateway.delay = 50 * time.Millisecond

	const callers = 4
	results := make([]*RedirectResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.ctrl.Redirect(context.Background(), RedirectRequest{CartToken: "tok", IdempotencyKey: "dup"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d error: %v", i, err)
		}
	}
	if n := len(h.gateway.creates); n != 1 {
		t.Errorf("CreateCheckout calls = %d, want 1", n)
	}
	replays := 0
	for _, res := range results {
		if res.OrderKey != results[0].OrderKey {
			t.Errorf("order keys differ: %q vs %q", res.OrderKey, results[0].OrderKey)
		}
		if res.Replayed {
			replays++
		}
	}
	if replays != callers-1 {
		t.Errorf("replays = %d, want %d", replays, callers-1)
	}
}

func TestRedirect_KeyReusedForOtherCart(t *testing.T) {
	h := newHarness(t, enabled())
	h.carts.Put("tok2", &cart.Snapshot{
		Currency: "USD",
		Lines:    []cart.Line{{ProductID: "62", Name: "Cap", Quantity: 1, Subtotal: 15, Total: 15}},
	})
	ctx := context.Background()

	if _, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok", IdempotencyKey: "k"}); err != nil {
		t.Fatal(err)
	}
	res, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok2", IdempotencyKey: "k"})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "IDEMPOTENCY_KEY_REUSED" || apiErr.StatusCode != 409 {
		t.Fatalf("error = %v, want IDEMPOTENCY_KEY_REUSED", err)
	}
	if res.State != StateFailed || res.OrderKey != "" {
		t.Errorf("result = %+v", res)
	}
	if len(h.gateway.creates) != 1 {
		t.Errorf("CreateCheckout calls = %d, want 1", len(h.gateway.creates))
	}
}

func TestRedirect_FailedAttemptFreesKey(t *testing.T) {
	h := newHarness(t, enabled())
	h.gateway.createErr = model.NewGatewayError("create checkout", errors.New("boom"))
	ctx := context.Background()

	if _, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok", IdempotencyKey: "k"}); err == nil {
		t.Fatal("first attempt should fail")
	}

	h.gateway.mu.Lock()
	h.gateway.createErr = nil
	h.gateway.mu.Unlock()

	res, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok", IdempotencyKey: "k"})
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if res.Replayed || res.State != StateAwaitingGatewayRedirect {
		t.Errorf("retry = %+v, want a fresh checkout", res)
	}
	if len(h.gateway.creates) != 2 {
		t.Errorf("CreateCheckout calls = %d, want 2", len(h.gateway.creates))
	}
}

func TestRedirect_Failures(t *testing.T) {
	t.Run("location", func(t *testing.T) {
		h := newHarness(t, enabled())
		h.gateway.locationErr = model.NewCapabilityError("Shop")

		res, err := h.ctrl.Redirect(context.Background(), RedirectRequest{CartToken: "tok"})
		if !errors.Is(err, model.ErrCapability) {
			t.Fatalf("error = %v, want ErrCapability", err)
		}
		if res.State != StateFailed {
			t.Errorf("State = %s, want failed", res.State)
		}
		if len(h.gateway.creates) != 0 {
			t.Error("no checkout must be attempted after a location failure")
		}
		if _, ok := h.orders.Get("1001"); ok {
			t.Error("no order must be created after a location failure")
		}
	})

	t.Run("create checkout", func(t *testing.T) {
		h := newHarness(t, enabled())
		h.gateway.createErr = model.NewGatewayError("create checkout", errors.New("boom"))

		res, err := h.ctrl.Redirect(context.Background(), RedirectRequest{CartToken: "tok"})
		if !errors.Is(err, model.ErrGatewayRequest) {
			t.Fatalf("error = %v, want ErrGatewayRequest", err)
		}
		if res.State != StateFailed || res.CheckoutURL != "" {
			t.Errorf("result = %+v", res)
		}
		if len(h.gateway.creates) != 1 {
			t.Errorf("CreateCheckout calls = %d, want exactly 1 (no retry)", len(h.gateway.creates))
		}
	})

	t.Run("save checkout id", func(t *testing.T) {
		h := newHarness(t, enabled())
		h.orders.FailOn = map[string]error{"SetMeta": errors.New("db down")}

		res, err := h.ctrl.Redirect(context.Background(), RedirectRequest{CartToken: "tok"})
		if err == nil || !strings.Contains(err.Error(), "saving checkout id") {
			t.Fatalf("error = %v", err)
		}
		if res.State != StateFailed {
			t.Errorf("State = %s", res.State)
		}
	})
}

func TestReturn_Reconciles(t *testing.T) {
	h := newHarness(t, enabled())
	ctx := context.Background()

	redirect, err := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.ctrl.Return(ctx, ReturnRequest{OrderKey: redirect.OrderKey, TransactionID: "TX1"})
	if err != nil {
		t.Fatalf("Return() error: %v", err)
	}
	if res.State != StateReconciled {
		t.Errorf("State = %s", res.State)
	}
	if res.CheckoutID != "CHK-1" {
		t.Errorf("CheckoutID = %q", res.CheckoutID)
	}

	o, _ := h.orders.Get(redirect.OrderID)
	if o.Status != order.StatusCompleted || o.Billing.FirstName != "Ada" || o.Shipping.FirstName != "Ada" {
		t.Errorf("order = %+v", o)
	}

	if len(h.publisher.events) != 1 {
		t.Fatalf("events = %d, want 1", len(h.publisher.events))
	}
	ev := h.publisher.events[0]
	if ev.OrderKey != redirect.OrderKey || ev.TransactionID != "TX1" || ev.CheckoutID != "CHK-1" {
		t.Errorf("event = %+v", ev)
	}

	// A second return for the same order writes and publishes nothing.
	again, err := h.ctrl.Return(ctx, ReturnRequest{OrderKey: redirect.OrderKey, TransactionID: "TX1"})
	if err != nil {
		t.Fatal(err)
	}
	if !again.AlreadyCompleted || len(h.publisher.events) != 1 {
		t.Errorf("second return = %+v, events = %d", again, len(h.publisher.events))
	}
}

func TestReturn_ZeroTendersStillCompletes(t *testing.T) {
	h := newHarness(t, enabled())
	h.vendor.tenders = nil
	ctx := context.Background()

	redirect, _ := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok"})
	if _, err := h.ctrl.Return(ctx, ReturnRequest{OrderKey: redirect.OrderKey, TransactionID: "TX1"}); err != nil {
		t.Fatalf("Return() error: %v", err)
	}

	o, _ := h.orders.Get(redirect.OrderID)
	if o.Status != order.StatusCompleted {
		t.Errorf("Status = %s, want completed", o.Status)
	}
	if !o.Billing.IsZero() || !o.Shipping.IsZero() {
		t.Errorf("addresses should be empty: %+v", o)
	}
}

func TestReturn_PublishFailureDoesNotFail(t *testing.T) {
	h := newHarness(t, enabled())
	h.publisher.err = errors.New("broker down")
	ctx := context.Background()

	redirect, _ := h.ctrl.Redirect(ctx, RedirectRequest{CartToken: "tok"})
	res, err := h.ctrl.Return(ctx, ReturnRequest{OrderKey: redirect.OrderKey, TransactionID: "TX1"})
	if err != nil {
		t.Fatalf("Return() error: %v", err)
	}
	if res.State != StateReconciled {
		t.Errorf("State = %s", res.State)
	}
}

func TestReturn_UnknownOrder(t *testing.T) {
	h := newHarness(t, enabled())

	res, err := h.ctrl.Return(context.Background(), ReturnRequest{OrderKey: "wc_order_nope", TransactionID: "TX1"})
	if !errors.Is(err, model.ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %s, want failed", res.State)
	}
	if len(h.publisher.events) != 0 {
		t.Error("no event on failure")
	}
}

func TestPreview(t *testing.T) {
	h := newHarness(t, enabled())

	req, err := h.ctrl.Preview(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if len(req.Order.LineItems) != 2 {
		t.Errorf("LineItems = %d, want 2", len(req.Order.LineItems))
	}
	if h.gateway.calls() != 0 {
		t.Error("Preview must not call the gateway")
	}
	if _, ok := h.orders.Get("1001"); ok {
		t.Error("Preview must not create an order")
	}

	if _, err := h.ctrl.Preview(context.Background(), "unknown"); !errors.Is(err, model.ErrEmptyCart) {
		t.Errorf("Preview(empty) error = %v, want ErrEmptyCart", err)
	}
}
