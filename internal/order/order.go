// Package order defines the local order record mutated by the checkout flow and
// the Store contract implemented by order persistence backends.
package order

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"square-checkout/internal/cart"
	"square-checkout/internal/model"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// MetaCheckoutID is the metadata key holding the vendor checkout id.
const MetaCheckoutID = "square_checkout_id"

// AddressKind selects which order address is written.
type AddressKind string

const (
	Billing  AddressKind = "billing"
	Shipping AddressKind = "shipping"
)

// Address mirrors the storefront address fields.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Order is the store-owned order record.
type Order struct {
	ID        string            `json:"id"`
	Key       string            `json:"order_key"`
	Status    Status            `json:"status"`
	Currency  string            `json:"currency"`
	Total     int64             `json:"total"` // minor units
	Billing   Address           `json:"billing"`
	Shipping  Address           `json:"shipping"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Notes     []string          `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CheckoutID returns the stored vendor checkout id, if any.
func (o *Order) CheckoutID() string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	return o.Metadata[MetaCheckoutID]
}

// NewKey returns a fresh order key in the storefront's "wc_order_" format.
func NewKey() string {
	return "wc_order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}

// CartTotal is the order total in minor units: discounted line totals plus
// shipping, each converted with model.MinorUnits.
func CartTotal(s *cart.Snapshot) int64 {
	if s == nil {
		return 0
	}
	var total int64
	for _, l := range s.Lines {
		total += model.MinorUnits(l.Total)
	}
	return total + model.MinorUnits(s.ShippingTotal)
}

// ReceivedURL is the "order received" page for an order, the URL the payment
// vendor sends the shopper back to.
func ReceivedURL(baseURL, orderID, orderKey string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if orderKey == "" {
		return fmt.Sprintf("%s/checkout/order-received/%s/", base, url.PathEscape(orderID))
	}
	return fmt.Sprintf("%s/checkout/order-received/%s/?key=%s", base, url.PathEscape(orderID), url.QueryEscape(orderKey))
}

// PendingRequest carries what a store needs to create a pending order.
type PendingRequest struct {
	Cart      *cart.Snapshot
	CartToken string
}

// Store is the order persistence collaborator. It never interprets vendor data.
// FindByKey returns model.ErrOrderNotFound (wrapped) when no order matches.
type Store interface {
	CreatePending(ctx context.Context, req PendingRequest) (*Order, error)
	FindByKey(ctx context.Context, key string) (*Order, error)
	SetAddress(ctx context.Context, orderID string, kind AddressKind, addr Address) error
	SetStatus(ctx context.Context, orderID string, status Status, note string) error
	SetMeta(ctx context.Context, orderID, key, value string) error
}

// Reconciliation is the full set of writes applied to an order once the
// vendor confirms payment.
type Reconciliation struct {
	Billing    Address
	Shipping   Address
	Status     Status
	Note       string
	CheckoutID string // empty leaves the existing metadata untouched
}

// ReconciliationApplier is implemented by stores that can apply a
// Reconciliation atomically. Stores without it get sequential writes.
type ReconciliationApplier interface {
	ApplyReconciliation(ctx context.Context, orderID string, rec Reconciliation) error
}
