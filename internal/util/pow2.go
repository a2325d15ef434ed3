package util

import "math/bits"

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// NextPow2 returns the smallest power of two >= x.
// x == 0 yields 1; values above 1<<63 clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	if x > 1<<63 {
		return 1 << 63
	}
	return 1 << bits.Len64(x-1)
}
