package woocommerce

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"square-checkout/internal/cart"
	"square-checkout/internal/model"
)

// CartReader reads the shopper's cart through the Store API.
type CartReader struct {
	client *Client
}

// NewCartReader creates a cart.Reader backed by client.
func NewCartReader(client *Client) *CartReader {
	return &CartReader{client: client}
}

// Read fetches the cart for token. Coupon amounts are looked up through REST v3
// when credentials are configured; the Store API only reports what each coupon
// took off this cart.
func (r *CartReader) Read(ctx context.Context, token string) (*cart.Snapshot, error) {
	if token == "" {
		return &cart.Snapshot{}, nil
	}

	var wc WooCartResponse
	if err := r.client.storeRequest(ctx, http.MethodGet, "/cart", token, nil, &wc); err != nil {
		// An expired or unknown token is an empty cart, not a failure.
		if errors.Is(err, model.ErrNotFound) {
			return &cart.Snapshot{}, nil
		}
		return nil, err
	}

	snap := CartToSnapshot(&wc)

	for i := range snap.Coupons {
		c := &snap.Coupons[i]
		if !r.client.HasCredentials() {
			continue
		}
		def, err := r.lookupCoupon(ctx, c.Code)
		if err != nil {
			// The snapshot is still usable with the cart-reported amount.
			r.client.logger.Warn("coupon lookup failed", "coupon", c.Code, "error", err)
			continue
		}
		if def == nil {
			continue
		}
		c.Amount = model.ParseDecimal(def.Amount)
		if def.DiscountType != "" {
			c.Type = cart.DiscountType(def.DiscountType)
		}
	}

	return snap, nil
}

// lookupCoupon returns the coupon definition for code, or nil if none exists.
func (r *CartReader) lookupCoupon(ctx context.Context, code string) (*WooRESTCoupon, error) {
	var coupons []WooRESTCoupon
	path := "/coupons?code=" + url.QueryEscape(code)
	if _, err := r.client.restRequest(ctx, http.MethodGet, path, nil, &coupons); err != nil {
		return nil, err
	}
	for i := range coupons {
		if coupons[i].Code == code {
			return &coupons[i], nil
		}
	}
	return nil, nil
}

var _ cart.Reader = (*CartReader)(nil)
