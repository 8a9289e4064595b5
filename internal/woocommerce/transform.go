package woocommerce

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"square-checkout/internal/cart"
	"square-checkout/internal/model"
	"square-checkout/internal/order"
)

// metaCheckoutID is the WooCommerce meta key for the vendor checkout id.
// The leading underscore hides it from the order edit screen.
const metaCheckoutID = "_" + order.MetaCheckoutID

// === Store API → cart ===

// CartToSnapshot converts a Store API cart. Minor-unit strings become decimal
// amounts using the cart's currency_minor_unit, and item names are entity
// decoded ("Caf&eacute;" → "Café").
func CartToSnapshot(wc *WooCartResponse) *cart.Snapshot {
	if wc == nil {
		return &cart.Snapshot{}
	}

	minor := wc.Totals.CurrencyMinorUnit
	snap := &cart.Snapshot{
		Currency:      wc.Totals.CurrencyCode,
		ShippingTotal: model.MinorToDecimal(wc.Totals.TotalShipping, minor),
	}

	for _, item := range wc.Items {
		if item.Quantity <= 0 {
			continue
		}
		line := cart.Line{
			ProductID: strconv.Itoa(item.ID),
			Name:      html.UnescapeString(item.Name),
			Quantity:  item.Quantity,
			Subtotal:  model.MinorToDecimal(item.Totals.LineSubtotal, minor),
			Total:     model.MinorToDecimal(item.Totals.LineTotal, minor),
		}
		// The Store API reports a variant under its own id.
		if len(item.Variation) > 0 {
			line.VariationID = line.ProductID
		}
		snap.Lines = append(snap.Lines, line)
	}

	for _, c := range wc.Coupons {
		couponMinor := c.Totals.CurrencyMinorUnit
		if couponMinor == 0 {
			couponMinor = minor
		}
		snap.Coupons = append(snap.Coupons, cart.Coupon{
			Code:   c.Code,
			Type:   cart.DiscountType(c.DiscountType),
			Amount: model.MinorToDecimal(c.Totals.TotalDiscount, couponMinor),
		})
	}

	return snap
}

// === REST v3 ↔ order ===

// OrderFromWoo converts a REST v3 order.
func OrderFromWoo(wc *WooOrder) *order.Order {
	o := &order.Order{
		ID:       strconv.Itoa(wc.ID),
		Key:      wc.OrderKey,
		Status:   order.Status(wc.Status),
		Currency: wc.Currency,
		Total:    model.MinorUnits(model.ParseDecimal(wc.Total)),
		Billing:  addressFromWoo(wc.Billing),
		Shipping: addressFromWoo(wc.Shipping),
		Metadata: map[string]string{},
	}
	for _, m := range wc.MetaData {
		key := m.Key
		if key == metaCheckoutID {
			key = order.MetaCheckoutID
		}
		o.Metadata[key] = metaString(m.Value)
	}
	o.CreatedAt = parseWooTime(wc.DateCreated)
	o.UpdatedAt = parseWooTime(wc.DateModified)
	return o
}

func addressFromWoo(a WooAddress) order.Address {
	return order.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
	}
}

// AddressToWoo converts an order address for a REST v3 update.
// Email is only sent on billing addresses; WooCommerce rejects it on shipping.
func AddressToWoo(a order.Address, kind order.AddressKind) *WooAddress {
	w := &WooAddress{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
	}
	if kind == order.Billing {
		w.Email = a.Email
	}
	return w
}

// metaKeyToWoo maps an order metadata key to its WooCommerce meta key.
func metaKeyToWoo(key string) string {
	if key == order.MetaCheckoutID {
		return metaCheckoutID
	}
	return key
}

func metaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// parseWooTime parses REST v3 "_gmt" timestamps, which carry no zone suffix.
func parseWooTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
