// SPDX-License-Identifier: MIT

// Package bitint holds the power-of-two helpers used to size FFTs and validate
// the analysis config. Every function is O(1) and allocation free.
package bitint

import "math/bits"

// Integer is any signed integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n <= 1.
// Subtracting one first keeps an exact power of two unchanged:
// bits.Len64(8-1) is 3, so the result is 1<<3 = 8 rather than 16.
func NextPowerOfTwo[T Integer](n T) T {
	if n <= 1 {
		return 1
	}
	return T(1) << bits.Len64(uint64(n-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two has
// a single bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo[T Integer](n T) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns the exponent of a power of two, or -1 when n is not one.
func Log2[T Integer](n T) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros64(uint64(n))
}
