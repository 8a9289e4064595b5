package square

import (
	"strconv"
	"strings"

	"square-checkout/internal/cart"
	"square-checkout/internal/model"
)

const (
	lineDiscountName = "Coupon"
	metaProductID    = "product_id"
	shippingLineName = "Shipping"
	defaultCurrency  = "USD"
)

// BuildOptions carries the per-merchant inputs of BuildCheckoutRequest.
type BuildOptions struct {
	IdempotencyKey       string
	Currency             string // used when the cart has none
	MerchantSupportEmail string
	ApplyCartDiscounts   bool
}

// BuildCheckoutRequest converts a cart snapshot into a create-checkout request.
//
// Each cart line becomes a line item priced at lineSubtotal / quantity, with
// the storefront product id (the variation when there is one) in its
// metadata. A positive lineSubtotal - lineTotal is attached as a "Coupon"
// discount on that line. A non-zero shipping total is appended as a
// "Shipping" line with quantity 1. All amounts pass through model.MinorUnits.
func BuildCheckoutRequest(snap *cart.Snapshot, orderKey, redirectURL string, opts BuildOptions) *CheckoutRequest {
	currency := opts.Currency
	if snap != nil && snap.Currency != "" {
		currency = snap.Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}

	req := &CheckoutRequest{
		IdempotencyKey: opts.IdempotencyKey,
		Order: Order{
			ReferenceID: orderKey,
			LineItems:   BuildLineItems(snap, currency),
		},
		AskForShippingAddress: true,
		MerchantSupportEmail:  opts.MerchantSupportEmail,
		RedirectURL:           redirectURL,
	}

	if opts.ApplyCartDiscounts && snap != nil {
		req.Order.Discounts = BuildCartDiscounts(snap.Coupons, currency)
	}

	return req
}

// BuildLineItems maps cart lines plus shipping to vendor line items.
func BuildLineItems(snap *cart.Snapshot, currency string) []LineItem {
	if snap == nil {
		return nil
	}

	items := make([]LineItem, 0, len(snap.Lines)+1)
	for _, line := range snap.Lines {
		item := LineItem{
			Name:     line.Name,
			Quantity: strconv.Itoa(line.Quantity),
			BasePriceMoney: Money{
				Amount:   model.MinorUnits(line.UnitPrice()),
				Currency: currency,
			},
		}
		if id := line.EffectiveID(); id != "" {
			item.Metadata = map[string]string{metaProductID: id}
		}
		if d := line.Discount(); d > 0 {
			item.Discounts = []Discount{{
				Name:        lineDiscountName,
				AmountMoney: &Money{Amount: model.MinorUnits(d), Currency: currency},
			}}
		}
		items = append(items, item)
	}

	if snap.ShippingTotal != 0 {
		items = append(items, LineItem{
			Name:     shippingLineName,
			Quantity: "1",
			BasePriceMoney: Money{
				Amount:   model.MinorUnits(snap.ShippingTotal),
				Currency: currency,
			},
		})
	}

	return items
}

// BuildCartDiscounts maps applied coupons to order-level discounts.
// Per-product coupons are skipped since their effect is already in each
// line's own discount. Percent coupons carry a percentage and no money.
func BuildCartDiscounts(coupons []cart.Coupon, currency string) []Discount {
	var discounts []Discount
	for _, c := range coupons {
		if c.Type == cart.DiscountFixedProduct {
			continue
		}

		d := Discount{Name: strings.ToUpper(c.Code)}
		if c.Type == cart.DiscountPercent {
			d.Percentage = strconv.FormatFloat(c.Amount, 'f', -1, 64)
		} else {
			d.AmountMoney = &Money{Amount: model.MinorUnits(c.Amount), Currency: currency}
		}
		discounts = append(discounts, d)
	}
	return discounts
}
