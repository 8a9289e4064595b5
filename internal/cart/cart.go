// Package cart defines the cart snapshot read once at the start of a checkout
// attempt, and the Reader contract implemented by storefront integrations.
package cart

import (
	"context"
)

// DiscountType is the coupon discount kind as reported by the storefront.
type DiscountType string

const (
	DiscountPercent      DiscountType = "percent"
	DiscountFixedCart    DiscountType = "fixed_cart"
	DiscountFixedProduct DiscountType = "fixed_product"
)

// Line is one cart row. Amounts are decimals in major currency units.
type Line struct {
	ProductID   string  `json:"product_id"`
	VariationID string  `json:"variation_id,omitempty"` // empty when the line is not a variant
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	Subtotal    float64 `json:"subtotal"` // before discounts
	Total       float64 `json:"total"`    // after discounts, never above Subtotal
}

// EffectiveID prefers the variation identity over the parent product.
func (l Line) EffectiveID() string {
	if l.VariationID != "" && l.VariationID != "0" {
		return l.VariationID
	}
	return l.ProductID
}

// UnitPrice is the undiscounted per-unit price. Not rounded; rounding happens
// only when the amount is converted to minor units.
func (l Line) UnitPrice() float64 {
	if l.Quantity <= 0 {
		return 0
	}
	return l.Subtotal / float64(l.Quantity)
}

// Discount is the amount removed from the line by coupons. Zero or negative
// means no discount applies.
func (l Line) Discount() float64 {
	return l.Subtotal - l.Total
}

// Coupon is an applied coupon code.
type Coupon struct {
	Code   string       `json:"code"`
	Type   DiscountType `json:"type"`
	Amount float64      `json:"amount"` // percentage for DiscountPercent, money otherwise
}

// Snapshot is the cart state for one checkout attempt.
type Snapshot struct {
	Lines         []Line   `json:"lines"`
	ShippingTotal float64  `json:"shipping_total,omitempty"`
	Coupons       []Coupon `json:"coupons,omitempty"`
	Currency      string   `json:"currency,omitempty"` // ISO 4217, empty when the storefront does not report it
}

// IsEmpty reports whether there is nothing to check out.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// Reader reads the active cart identified by token.
// An absent or empty cart is returned as an empty Snapshot, not an error;
// callers treat it as "nothing to check out".
type Reader interface {
	Read(ctx context.Context, token string) (*Snapshot, error)
}
