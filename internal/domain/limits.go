// internal/domain/limits.go
package domain

import (
	"math"
	"math/bits"
)

// MaxQuantity bounds stock levels and every quantity that feeds them. Stock,
// line quantities and item counts are stored in 32-bit columns.
const MaxQuantity = math.MaxInt32

// MaxPrice bounds a unit price in minor currency units.
const MaxPrice int64 = 1_000_000_000_000

// mulAmount returns price * quantity, or false if it does not fit in int64.
// Both operands must be non-negative.
func mulAmount(price int64, quantity int) (int64, bool) {
	if price < 0 || quantity < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(price), uint64(quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// addAmount returns a + b for non-negative operands, or false on overflow.
func addAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}
