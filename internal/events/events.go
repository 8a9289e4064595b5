// Package events publishes checkout lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// Exchange is the topic exchange checkout events are published to.
	Exchange = "checkout.events"

	// OrderPaidRoutingKey routes events emitted after a reconciliation commits.
	OrderPaidRoutingKey = "order.paid"
)

// OrderPaid is emitted once an order has been reconciled against a vendor
// transaction.
type OrderPaid struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	OrderKey      string    `json:"order_key"`
	CheckoutID    string    `json:"checkout_id,omitempty"`
	TransactionID string    `json:"transaction_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewOrderPaid stamps a fresh event id and the current time.
func NewOrderPaid(orderID, orderKey, checkoutID, transactionID string) OrderPaid {
	return OrderPaid{
		EventID:       uuid.NewString(),
		OrderID:       orderID,
		OrderKey:      orderKey,
		CheckoutID:    checkoutID,
		TransactionID: transactionID,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher delivers checkout events.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, ev OrderPaid) error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishOrderPaid(context.Context, OrderPaid) error { return nil }
