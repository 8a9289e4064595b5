// Package reconcile writes a vendor-confirmed payment back into the local order.
//
// A reconciliation looks the order up by key, fetches the vendor transaction
// and the paying customer, then writes the customer's address into both the
// billing and shipping slots, completes the order with a note and records the
// vendor checkout id. Stores that implement order.ReconciliationApplier get all
// of that in one write; other stores get sequential writes, and a failure part
// way through is reported as a *PartialError naming the steps already applied.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"square-checkout/internal/model"
	"square-checkout/internal/order"
	"square-checkout/internal/square"
)

const (
	// NoteVerified is attached to the order when payment is confirmed.
	NoteVerified = "Verified by Square Checkout"

	// NoteNoCustomer replaces NoteVerified when the transaction carried no
	// customer and the order was completed without address data.
	NoteNoCustomer = NoteVerified + " (no customer details on transaction)"
)

// Sequential write steps, in the order they are applied.
const (
	StepBilling  = "billing_address"
	StepShipping = "shipping_address"
	StepStatus   = "status"
	StepMeta     = "checkout_id"
)

// Gateway is the subset of the vendor client used during reconciliation.
type Gateway interface {
	ResolveLocationID(ctx context.Context) (string, error)
	RetrieveTransaction(ctx context.Context, locationID, transactionID string) (*square.Transaction, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*square.Customer, error)
}

// Options tune reconciliation policy.
type Options struct {
	// RequireCustomer fails a transaction with no tenders instead of completing
	// the order with empty address fields.
	RequireCustomer bool
}

// Request identifies the order and the transaction that paid for it.
type Request struct {
	OrderKey      string
	TransactionID string
	// CheckoutID is the vendor checkout id echoed on the return URL. When
	// empty the id stored on the order at redirect time is kept.
	CheckoutID string
}

// Result describes a finished reconciliation.
type Result struct {
	Order         *order.Order
	TransactionID string
	CustomerID    string
	CheckoutID    string
	// AlreadyCompleted is set when the order was completed before this call;
	// nothing was written.
	AlreadyCompleted bool
}

// PartialError reports a sequential reconciliation that stopped part way.
// Applied lists the steps that reached the store before Step failed.
type PartialError struct {
	OrderID string
	Applied []string
	Step    string
	Err     error
}

func (e *PartialError) Error() string {
	applied := "none"
	if len(e.Applied) > 0 {
		applied = strings.Join(e.Applied, ", ")
	}
	return fmt.Sprintf("order %s partially reconciled (applied: %s; failed at %s): %v", e.OrderID, applied, e.Step, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// Reconciler is the OrderReconciler.
type Reconciler struct {
	gateway Gateway
	orders  order.Store
	opts    Options
	logger  *slog.Logger
}

// New creates a Reconciler.
func New(gateway Gateway, orders order.Store, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{gateway: gateway, orders: orders, opts: opts, logger: logger}
}

// Reconcile applies the vendor transaction to the order identified by
// req.OrderKey. Nothing is retried; the first failure is returned.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if req.OrderKey == "" {
		return nil, model.NewValidationError("key", "order key is required")
	}
	if req.TransactionID == "" {
		return nil, model.NewValidationError("transactionId", "transaction id is required")
	}

	o, err := r.orders.FindByKey(ctx, req.OrderKey)
	if err != nil {
		return nil, err
	}

	checkoutID := req.CheckoutID
	if checkoutID == "" {
		checkoutID = o.CheckoutID()
	}

	if o.Status == order.StatusCompleted {
		r.logger.Info("order already completed", "order_key", o.Key, "transaction_id", req.TransactionID)
		return &Result{Order: o, TransactionID: req.TransactionID, CheckoutID: checkoutID, AlreadyCompleted: true}, nil
	}

	locationID, err := r.gateway.ResolveLocationID(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := r.gateway.RetrieveTransaction(ctx, locationID, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.ReferenceID != "" && tx.ReferenceID != o.Key {
		r.logger.Warn("transaction belongs to another order",
			"order_key", o.Key, "transaction_id", tx.ID, "reference_id", tx.ReferenceID)
		return nil, model.NewGatewayError("retrieve transaction",
			fmt.Errorf("transaction %s references %q, not order %q", tx.ID, tx.ReferenceID, o.Key))
	}

	addr, customerID, err := r.customerAddress(ctx, tx)
	if err != nil {
		return nil, err
	}

	rec := order.Reconciliation{
		Billing:    addr,
		Shipping:   addr,
		Status:     order.StatusCompleted,
		Note:       NoteVerified,
		CheckoutID: checkoutID,
	}
	if customerID == "" {
		rec.Note = NoteNoCustomer
	}

	if err := r.apply(ctx, o.ID, rec); err != nil {
		return nil, err
	}

	r.logger.Info("order reconciled",
		"order_key", o.Key,
		"transaction_id", tx.ID,
		"location_id", locationID,
		"checkout_id", checkoutID,
	)

	return &Result{
		Order:         applied(o, rec),
		TransactionID: tx.ID,
		CustomerID:    customerID,
		CheckoutID:    checkoutID,
	}, nil
}

// customerAddress fetches the paying customer. With no tenders there is no
// customer to fetch and an empty address is returned unless the options
// require one.
func (r *Reconciler) customerAddress(ctx context.Context, tx *square.Transaction) (order.Address, string, error) {
	customerID := tx.CustomerID()
	if customerID == "" {
		if r.opts.RequireCustomer {
			return order.Address{}, "", model.NewGatewayError("retrieve customer",
				fmt.Errorf("transaction %s has no customer", tx.ID))
		}
		r.logger.Warn("transaction has no customer, completing order without address", "transaction_id", tx.ID)
		return order.Address{}, "", nil
	}

	c, err := r.gateway.RetrieveCustomer(ctx, customerID)
	if err != nil {
		return order.Address{}, "", err
	}
	return AddressFromCustomer(c), customerID, nil
}

func (r *Reconciler) apply(ctx context.Context, orderID string, rec order.Reconciliation) error {
	if applier, ok := r.orders.(order.ReconciliationApplier); ok {
		if err := applier.ApplyReconciliation(ctx, orderID, rec); err != nil {
			return fmt.Errorf("applying reconciliation: %w", err)
		}
		return nil
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{StepBilling, func() error { return r.orders.SetAddress(ctx, orderID, order.Billing, rec.Billing) }},
		{StepShipping, func() error { return r.orders.SetAddress(ctx, orderID, order.Shipping, rec.Shipping) }},
		{StepStatus, func() error { return r.orders.SetStatus(ctx, orderID, rec.Status, rec.Note) }},
		{StepMeta, func() error {
			if rec.CheckoutID == "" {
				return nil
			}
			return r.orders.SetMeta(ctx, orderID, order.MetaCheckoutID, rec.CheckoutID)
		}},
	}

	var done []string
	for _, s := range steps {
		if err := s.run(); err != nil {
			r.logger.Error("reconciliation stopped part way",
				"order_id", orderID, "step", s.name, "applied", done, "error", err)
			return &PartialError{OrderID: orderID, Applied: done, Step: s.name, Err: err}
		}
		done = append(done, s.name)
	}
	return nil
}

// AddressFromCustomer maps a vendor customer onto an order address. A customer
// without an address keeps only the name and email.
func AddressFromCustomer(c *square.Customer) order.Address {
	if c == nil {
		return order.Address{}
	}
	addr := order.Address{
		FirstName: c.GivenName,
		LastName:  c.FamilyName,
		Email:     c.EmailAddress,
	}
	if a := c.Address; a != nil {
		addr.Address1 = a.AddressLine1
		addr.Address2 = a.AddressLine2
		addr.City = a.Locality
		addr.State = a.AdministrativeDistrictLevel1
		addr.Postcode = a.PostalCode
		addr.Country = a.Country
	}
	return addr
}

// IsPartial reports whether err is a *PartialError.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// applied returns o as it reads after rec is written.
func applied(o *order.Order, rec order.Reconciliation) *order.Order {
	out := *o
	out.Billing = rec.Billing
	out.Shipping = rec.Shipping
	out.Status = rec.Status
	out.Notes = append(append([]string(nil), o.Notes...), rec.Note)
	out.Metadata = make(map[string]string, len(o.Metadata)+1)
	for k, v := range o.Metadata {
		out.Metadata[k] = v
	}
	if rec.CheckoutID != "" {
		out.Metadata[order.MetaCheckoutID] = rec.CheckoutID
	}
	return &out
}
