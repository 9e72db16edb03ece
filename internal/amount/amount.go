// Package amount holds the money arithmetic shared by injection, scoring
// and timeline detection. Values are routed through shopspring/decimal so
// "is this a multiple of 100" is decided exactly rather than on binary floats.
package amount

import (
	"github.com/shopspring/decimal"
)

// Round rounds v to the nearest multiple of denomination (half away from zero).
// A non-positive denomination returns v unchanged.
func Round(v, denomination float64) float64 {
	if denomination <= 0 {
		return v
	}
	d := decimal.NewFromFloat(denomination)
	f, _ := decimal.NewFromFloat(v).Div(d).Round(0).Mul(d).Float64()
	return f
}

// IsRound reports whether v is an exact multiple of denomination.
func IsRound(v, denomination float64) bool {
	if denomination <= 0 {
		return false
	}
	return decimal.NewFromFloat(v).Mod(decimal.NewFromFloat(denomination)).IsZero()
}

// Cents rounds v to two decimal places.
func Cents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
