// Package woocommerce reads carts from the WooCommerce Store API and keeps
// order records in the store through the REST v3 API.
// All WooCommerce-specific types, transforms, and HTTP client logic live here.
package woocommerce

// === Store API Types ===

// WooCartResponse represents WooCommerce Store API cart response.
type WooCartResponse struct {
	Items         []WooCartItem  `json:"items"`
	Totals        WooTotals      `json:"totals"`
	Coupons       []WooCoupon    `json:"coupons,omitempty"`
	NeedsShipping bool           `json:"needs_shipping"`
	ItemsCount    int            `json:"items_count"`
	Errors        []WooCartError `json:"errors,omitempty"`
}

// WooCartError represents an error in cart state.
type WooCartError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WooCartItem represents an item in cart response.
// ID is the variation id for variable products, the product id otherwise.
type WooCartItem struct {
	Key       string            `json:"key"` // Cart item key (not numeric ID)
	ID        int               `json:"id"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	Totals    WooCartItemTotals `json:"totals"`
	Variation []WooVariant      `json:"variation,omitempty"`
}

// WooVariant represents a product variation attribute.
type WooVariant struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// WooCartItemTotals contains totals for a cart item, in minor units.
type WooCartItemTotals struct {
	LineSubtotal    string `json:"line_subtotal"` // price * quantity
	LineSubtotalTax string `json:"line_subtotal_tax"`
	LineTotal       string `json:"line_total"` // After discounts
	LineTotalTax    string `json:"line_total_tax"`
}

// WooTotals contains cart totals. Amount fields are minor-unit strings.
type WooTotals struct {
	CurrencyCode      string `json:"currency_code"`
	CurrencySymbol    string `json:"currency_symbol"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
	TotalItems        string `json:"total_items"`
	TotalDiscount     string `json:"total_discount"`
	TotalShipping     string `json:"total_shipping"`
	TotalPrice        string `json:"total_price"`
	TotalTax          string `json:"total_tax"`
}

// WooCoupon represents an applied discount code.
type WooCoupon struct {
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Totals       WooCouponTotals `json:"totals"`
}

// WooCouponTotals contains the calculated discount amounts for a coupon.
type WooCouponTotals struct {
	TotalDiscount     string `json:"total_discount"` // Minor units as string
	TotalDiscountTax  string `json:"total_discount_tax"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

// WooDraftCheckout is the response from GET /checkout (creates draft order).
type WooDraftCheckout struct {
	OrderID  int    `json:"order_id"`
	Status   string `json:"status"` // "checkout-draft" for new drafts
	OrderKey string `json:"order_key"`
}

// === REST v3 Types ===

// WooRESTCoupon is a coupon from GET /wp-json/wc/v3/coupons.
type WooRESTCoupon struct {
	ID           int    `json:"id"`
	Code         string `json:"code"`
	Amount       string `json:"amount"` // "10.00" - decimal string
	DiscountType string `json:"discount_type"`
}

// WooAddress is a REST v3 billing or shipping address.
type WooAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
}

// WooMeta is one order meta_data entry. Value is any JSON on read.
type WooMeta struct {
	ID    int    `json:"id,omitempty"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// WooOrder is a REST v3 order.
type WooOrder struct {
	ID           int        `json:"id"`
	OrderKey     string     `json:"order_key"`
	Status       string     `json:"status"`
	Currency     string     `json:"currency"`
	Total        string     `json:"total"` // decimal string
	Billing      WooAddress `json:"billing"`
	Shipping     WooAddress `json:"shipping"`
	MetaData     []WooMeta  `json:"meta_data"`
	DateCreated  string     `json:"date_created_gmt"`
	DateModified string     `json:"date_modified_gmt"`
}

// WooOrderUpdate is the body of PUT /wp-json/wc/v3/orders/{id}.
// Nil fields are left untouched by WooCommerce.
type WooOrderUpdate struct {
	Status   string      `json:"status,omitempty"`
	Billing  *WooAddress `json:"billing,omitempty"`
	Shipping *WooAddress `json:"shipping,omitempty"`
	MetaData []WooMeta   `json:"meta_data,omitempty"`
}

// WooOrderNote is the body of POST /wp-json/wc/v3/orders/{id}/notes.
type WooOrderNote struct {
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
