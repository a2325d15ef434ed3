package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/tinycache/policy"
)

// Configuration errors returned by New. Wrapped with details; test with errors.Is.
var (
	ErrInvalidCapacity   = errors.New("cache: capacity must be > 0")
	ErrInvalidExpiry     = errors.New("cache: expiry durations must not be negative")
	ErrExpiryTooLong     = errors.New("cache: expiry durations must not exceed 100 years")
	ErrConflictingExpiry = errors.New("cache: time-to-idle must not exceed time-to-live")
)

// maxExpiry is the longest accepted TimeToLive/TimeToIdle. Deadlines are
// UnixNano int64 values, so anything much longer would overflow.
const maxExpiry = 100 * 365 * 24 * time.Hour

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Evict is called once per removed entry, whatever the cause.
	Evict(cause RemovalCause)
	// Size is published at the end of every maintenance pass.
	Size(entries int, weight uint64)
	// Maintenance observes the duration of one maintenance pass.
	Maintenance(d time.Duration)
	// ListenerPanic counts removal listener invocations that panicked.
	ListenerPanic()
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. Only Capacity is required;
// sane defaults are applied in New():
//   - nil Policy    => W-TinyLFU with default ratios
//   - Shards <= 0   => auto (≈ 2*GOMAXPROCS, rounded up to power of two)
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => slog.Default()
//   - nil Executor  => a new goroutine per asynchronous maintenance pass
type Options[K comparable, V any] struct {
	// Capacity is the entry count limit, or the total weight limit when
	// Weigher is set.
	Capacity int

	// TimeToLive expires an entry this long after it was inserted (0 = never).
	TimeToLive time.Duration
	// TimeToIdle expires an entry this long after its last read or write
	// (0 = never). It must not exceed TimeToLive when both are set.
	TimeToIdle time.Duration

	// RemovalListener is called once for every entry that leaves the cache.
	// It runs on the maintenance goroutine after the eviction lock is
	// released; a panic is recovered, logged and counted.
	RemovalListener func(k K, v V, cause RemovalCause)

	// Weigher returns the weight of an entry. nil = every entry weighs 1.
	Weigher func(k K, v V) uint32

	// InitialCapacity pre-sizes the map (0 = derived from Capacity).
	InitialCapacity int

	// Shards defines the number of map stripes. If 0, an automatic value is
	// chosen (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Policy is a pluggable eviction policy (W-TinyLFU/LRU/2Q).
	Policy policy.Policy

	// MaintenanceInterval is the period of the background maintenance
	// tick that reaps expired entries when the cache is otherwise idle.
	// 0 = one second; negative disables the tick.
	MaintenanceInterval time.Duration

	// Executor runs asynchronous maintenance passes. Tests pass
	// func(f func()) { f() } to make maintenance synchronous.
	Executor func(func())

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// Hasher overrides the key hash used for striping and frequency counting.
	Hasher func(K) uint64

	// Observability
	Metrics Metrics
	Logger  *slog.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

// validate checks the construction parameters.
func (o *Options[K, V]) validate() error {
	if o.Capacity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, o.Capacity)
	}
	if o.TimeToLive < 0 || o.TimeToIdle < 0 {
		return fmt.Errorf("%w: ttl=%v tti=%v", ErrInvalidExpiry, o.TimeToLive, o.TimeToIdle)
	}
	if o.TimeToLive > maxExpiry || o.TimeToIdle > maxExpiry {
		return fmt.Errorf("%w: ttl=%v tti=%v", ErrExpiryTooLong, o.TimeToLive, o.TimeToIdle)
	}
	if o.TimeToLive > 0 && o.TimeToIdle > o.TimeToLive {
		return fmt.Errorf("%w: ttl=%v tti=%v", ErrConflictingExpiry, o.TimeToLive, o.TimeToIdle)
	}
	return nil
}
