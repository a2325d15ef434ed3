// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// seed is shared by every fallback hash in the process so that equal keys
// always land on the same shard, stripe and sketch counters.
var seed = maphash.MakeSeed()

// Hash returns a 64-bit hash of k.
// Strings and byte arrays go through xxhash; integer keys are mixed with a
// splitmix64 finalizer (no allocation); any other comparable type falls back
// to maphash.Comparable.
func Hash[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)
	case [16]byte:
		return xxhash.Sum64(v[:])
	case [32]byte:
		return xxhash.Sum64(v[:])
	case [64]byte:
		return xxhash.Sum64(v[:])

	case uint8:
		return Mix64(uint64(v))
	case uint16:
		return Mix64(uint64(v))
	case uint32:
		return Mix64(uint64(v))
	case uint64:
		return Mix64(v)
	case uint:
		return Mix64(uint64(v))
	case uintptr:
		return Mix64(uint64(v))
	case int8:
		return Mix64(uint64(uint8(v)))
	case int16:
		return Mix64(uint64(uint16(v)))
	case int32:
		return Mix64(uint64(uint32(v)))
	case int64:
		return Mix64(uint64(v))
	case int:
		return Mix64(uint64(v))

	default:
		return maphash.Comparable(seed, k)
	}
}

// Mix64 is the splitmix64 finalizer. Consecutive inputs map to
// well-distributed outputs, which matters because shard and stripe
// selection mask the low bits.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
