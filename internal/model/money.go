package model

import (
	"math"
	"strconv"
)

// phpFloatPrecision is the number of significant digits PHP uses when a float
// is converted to a string. Storefront amounts have always gone through that
// conversion before being truncated, so MinorUnits does the same.
const phpFloatPrecision = 14

// MinorUnits converts a decimal amount in major currency units to minor units.
// The product amount*100 is rendered with 14 significant digits and then
// truncated toward zero. It never rounds to the nearest cent.
// Examples: 10.00 → 1000, 19.999 → 1999, 0.29 → 29, -1.005 → -100
func MinorUnits(amount float64) int64 {
	if amount == 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	s := strconv.FormatFloat(amount*100, 'g', phpFloatPrecision, 64)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Trunc(f))
}

// MinorToDecimal converts a minor-unit string into a decimal amount using the
// currency's minor unit exponent (2 for USD). Invalid input yields 0.
// Examples: ("2000", 2) → 20.00, ("1999", 2) → 19.99, ("500", 0) → 500
func MinorToDecimal(s string, minorUnit int) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if minorUnit <= 0 {
		return f
	}
	return f / math.Pow10(minorUnit)
}

// ParseDecimal parses a decimal string in major units such as "10.00".
// WooCommerce REST v3 returns coupon amounts in this format.
func ParseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
