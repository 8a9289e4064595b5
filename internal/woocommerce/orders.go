package woocommerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"square-checkout/internal/model"
	"square-checkout/internal/order"
)

const (
	ordersPerPage = 100
	// maxOrderPages bounds the order scan in FindByKey.
	maxOrderPages = 20
)

// OrderStore keeps orders in WooCommerce.
//
// Pending orders come from the Store API draft checkout for the shopper's
// cart, then move to "pending" through REST v3. Every later write is a REST v3
// order update. A reconciliation is sent as one update, so WooCommerce applies
// the addresses, status and checkout id together.
type OrderStore struct {
	client *Client
}

// NewOrderStore creates an order.Store backed by client. REST v3 credentials
// are required.
func NewOrderStore(client *Client) (*OrderStore, error) {
	if !client.HasCredentials() {
		return nil, model.NewConfigurationError("WOO_API_KEY", "REST API credentials are required for the WooCommerce order store")
	}
	return &OrderStore{client: client}, nil
}

// CreatePending creates the draft order for the cart and marks it pending.
func (s *OrderStore) CreatePending(ctx context.Context, req order.PendingRequest) (*order.Order, error) {
	if req.CartToken == "" {
		return nil, model.NewValidationError("cart_token", "required to create a WooCommerce order")
	}

	var draft WooDraftCheckout
	if err := s.client.storeRequest(ctx, http.MethodGet, "/checkout", req.CartToken, nil, &draft); err != nil {
		return nil, fmt.Errorf("creating draft order: %w", err)
	}
	if draft.OrderID == 0 {
		return nil, model.NewUpstreamError("WooCommerce", fmt.Errorf("draft checkout returned no order id"))
	}

	wc, err := s.update(ctx, strconv.Itoa(draft.OrderID), &WooOrderUpdate{Status: string(order.StatusPending)})
	if err != nil {
		return nil, fmt.Errorf("marking order pending: %w", err)
	}
	return OrderFromWoo(wc), nil
}

// FindByKey scans pending and completed orders for an exact order_key match.
// REST v3 has no order_key filter.
func (s *OrderStore) FindByKey(ctx context.Context, key string) (*order.Order, error) {
	if key == "" {
		return nil, model.NewOrderNotFoundError(key)
	}

	for page := 1; page <= maxOrderPages; page++ {
		var orders []WooOrder
		path := fmt.Sprintf("/orders?status=%s,%s&per_page=%d&page=%d", order.StatusPending, order.StatusCompleted, ordersPerPage, page)
		header, err := s.client.restRequest(ctx, http.MethodGet, path, nil, &orders)
		if err != nil {
			return nil, fmt.Errorf("listing orders: %w", err)
		}

		for i := range orders {
			if orders[i].OrderKey == key {
				return OrderFromWoo(&orders[i]), nil
			}
		}

		totalPages, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
		if len(orders) < ordersPerPage || page >= totalPages {
			break
		}
	}

	return nil, model.NewOrderNotFoundError(key)
}

// SetAddress replaces the billing or shipping address.
func (s *OrderStore) SetAddress(ctx context.Context, orderID string, kind order.AddressKind, addr order.Address) error {
	upd := &WooOrderUpdate{}
	if kind == order.Shipping {
		upd.Shipping = AddressToWoo(addr, kind)
	} else {
		upd.Billing = AddressToWoo(addr, kind)
	}
	_, err := s.update(ctx, orderID, upd)
	return err
}

// SetStatus transitions the order, then attaches note.
func (s *OrderStore) SetStatus(ctx context.Context, orderID string, status order.Status, note string) error {
	if _, err := s.update(ctx, orderID, &WooOrderUpdate{Status: string(status)}); err != nil {
		return err
	}
	return s.addNote(ctx, orderID, note)
}

// SetMeta writes one meta_data entry.
func (s *OrderStore) SetMeta(ctx context.Context, orderID, key, value string) error {
	_, err := s.update(ctx, orderID, &WooOrderUpdate{
		MetaData: []WooMeta{{Key: metaKeyToWoo(key), Value: value}},
	})
	return err
}

// ApplyReconciliation sends addresses, status and checkout id in one order
// update. The note is a separate call made after the order is committed; its
// failure is logged and does not undo the update.
func (s *OrderStore) ApplyReconciliation(ctx context.Context, orderID string, rec order.Reconciliation) error {
	upd := &WooOrderUpdate{
		Status:   string(rec.Status),
		Billing:  AddressToWoo(rec.Billing, order.Billing),
		Shipping: AddressToWoo(rec.Shipping, order.Shipping),
	}
	if rec.CheckoutID != "" {
		upd.MetaData = []WooMeta{{Key: metaCheckoutID, Value: rec.CheckoutID}}
	}

	if _, err := s.update(ctx, orderID, upd); err != nil {
		return err
	}

	if err := s.addNote(ctx, orderID, rec.Note); err != nil {
		s.client.logger.Warn("order note not saved", "order_id", orderID, "error", err)
	}
	return nil
}

func (s *OrderStore) update(ctx context.Context, orderID string, upd *WooOrderUpdate) (*WooOrder, error) {
	id, err := strconv.Atoi(orderID)
	if err != nil || id <= 0 {
		return nil, model.NewOrderNotFoundError(orderID)
	}

	var wc WooOrder
	if _, err := s.client.restRequest(ctx, http.MethodPut, "/orders/"+strconv.Itoa(id), upd, &wc); err != nil {
		return nil, mapNotFound(err, orderID)
	}
	return &wc, nil
}

func (s *OrderStore) addNote(ctx context.Context, orderID, note string) error {
	if note == "" {
		return nil
	}
	path := "/orders/" + orderID + "/notes"
	_, err := s.client.restRequest(ctx, http.MethodPost, path, &WooOrderNote{Note: note, CustomerNote: true}, nil)
	return mapNotFound(err, orderID)
}

// mapNotFound turns a REST 404 into an order-not-found error.
func mapNotFound(err error, orderID string) error {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return model.NewOrderNotFoundError(orderID)
	}
	return err
}

var (
	_ order.Store                 = (*OrderStore)(nil)
	_ order.ReconciliationApplier = (*OrderStore)(nil)
)
