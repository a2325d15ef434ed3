package cache

import (
	"context"
	"iter"
	"time"
)

// Cache is a bounded, in-memory key/value cache interface.
// All methods are safe for concurrent use by multiple goroutines.
//
// Reads and writes touch only the striped key/value map and then post an
// event for the maintenance pass, which owns the eviction policy and the
// expiration queue. Policy effects (admission, eviction, expiration) are
// therefore eventually consistent; RunPendingTasks makes them visible.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a boolean flag indicating presence.
	// An expired entry is reported absent even before it is reaped.
	// On hit, the access is recorded for the policy and the idle deadline
	// (if any) is pushed back.
	Get(k K) (V, bool)

	// Insert inserts or replaces k→v using the cache's TimeToLive.
	// It returns the previous value if k held a live entry.
	Insert(k K, v V) (prev V, replaced bool)

	// InsertWithTTL is Insert with a per-entry time-to-live overriding
	// Options.TimeToLive. A non-positive ttl disables time-to-live for
	// this entry; Options.TimeToIdle still applies. A ttl above 100 years
	// is treated as 100 years.
	InsertWithTTL(k K, v V, ttl time.Duration) (prev V, replaced bool)

	// Add inserts k→v only if k is absent (or expired).
	// Returns false if a live entry exists (no update is performed).
	Add(k K, v V) bool

	// Invalidate removes k and returns its value if it was live.
	// The removal listener sees CauseExplicit.
	Invalidate(k K) (V, bool)

	// InvalidateAll removes every entry and forgets all policy history.
	InvalidateAll()

	// InvalidateIf removes every entry for which pred returns true and
	// returns how many were removed. pred must not call back into the cache.
	InvalidateIf(pred func(K, V) bool) int

	// RunPendingTasks runs maintenance synchronously until the events
	// buffered at call time are applied, then waits for removal
	// notifications of passes already in flight. It must not be called
	// from a removal listener.
	RunPendingTasks()

	// RequestMaintenance schedules a maintenance pass without waiting.
	RequestMaintenance()

	// EntryCount returns the number of resident entries, including ones
	// that have expired but not been reaped yet. It never runs maintenance.
	EntryCount() int

	// WeightedSize returns the total weight tracked by the policy as of
	// the last maintenance pass.
	WeightedSize() uint64

	// All iterates over live entries. Iteration is weakly consistent: it
	// reflects some state of each map stripe at or after the call, and it
	// does not count as access.
	All() iter.Seq2[K, V]

	// GetOrLoad returns the value for k, loading it via Options.Loader on miss.
	// Concurrent loads for the same key are coalesced (singleflight).
	// If no Loader was configured, returns ErrNoLoader. A load that
	// overlaps an Invalidate, InvalidateIf or InvalidateAll still returns
	// its value to the waiting callers but does not store it.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Close stops the periodic maintenance worker and applies pending
	// events. Later operations are ignored; GetOrLoad returns ErrClosed.
	Close() error
}

// RemovalCause explains why an entry left the cache.
type RemovalCause int

const (
	// CauseExplicit: removed by Invalidate, InvalidateIf or InvalidateAll.
	CauseExplicit RemovalCause = iota
	// CauseReplaced: the value was overwritten by Insert.
	CauseReplaced
	// CauseSize: evicted by the policy to stay within capacity.
	CauseSize
	// CauseExpired: time-to-live or time-to-idle elapsed.
	CauseExpired
)

func (c RemovalCause) String() string {
	switch c {
	case CauseExplicit:
		return "explicit"
	case CauseReplaced:
		return "replaced"
	case CauseSize:
		return "size"
	case CauseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// WasEvicted reports whether the cache removed the entry on its own
// (capacity or expiration) rather than because a caller asked.
func (c RemovalCause) WasEvicted() bool {
	return c == CauseSize || c == CauseExpired
}
