// Package cache provides a bounded, generic, concurrent in-memory cache
// with a frequency-aware eviction policy (Window TinyLFU by default),
// time-to-live and time-to-idle expiration, a removal listener, optional
// singleflight loading, lightweight metrics hooks and weight-based capacity.
//
// Design
//
//   - Storage: keys live in a striped map; each stripe is a map[K]*entry
//     behind an RWMutex. The stripe count is a power of two chosen by a
//     heuristic (ReasonableShardCount). Reads and writes only touch the map.
//
//   - Events: every hit is offered to a lossy striped read buffer and every
//     write is posted to a bounded write buffer. A busy or full read stripe
//     drops the event; a full write buffer makes the writer retry and, if it
//     stays full, run maintenance itself. Callers never wait on the policy.
//
//   - Maintenance: a single pass at a time (eviction mutex + drain status
//     word) drains the buffers, applies writes to the policy and the
//     expiration queue, reaps expired entries and evicts until the weighted
//     size fits. A write that arrives during a pass sets a "run again"
//     state instead of queueing another pass. Passes are triggered by
//     writes, by full read stripes, by a periodic tick and by
//     RunPendingTasks.
//
//   - Policies: eviction policy is pluggable via the policy package.
//     W-TinyLFU is the default (policy/wtinylfu); LRU and 2Q are provided.
//     The policy orders cache-owned intrusive lists through policy.Hooks.
//
//   - Expiration: TimeToLive is fixed at insertion; TimeToIdle is pushed
//     back by every hit. An expired entry is invisible to Get immediately
//     and removed by the next pass.
//
//   - Removal listener: Options.RemovalListener(k, v, cause) is called
//     exactly once for every entry that leaves the cache, with cause
//     CauseExplicit, CauseReplaced, CauseSize or CauseExpired. It runs after
//     the eviction lock is released; a panicking listener is logged through
//     Options.Logger and counted, and the pass carries on.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/Maintenance
//     signals. By default NoopMetrics is used; plug metrics/prom to export
//     them to Prometheus.
//
// Basic usage
//
//	c, err := cache.New[string, []byte](cache.Options[string, []byte]{Capacity: 10_000})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	c.Insert("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v // use value
//	}
//	c.Invalidate("a")
//
// With expiration and a removal listener
//
//	c := cache.MustNew[string, string](cache.Options[string, string]{
//	    Capacity:   1024,
//	    TimeToLive: time.Minute,
//	    TimeToIdle: 10 * time.Second,
//	    RemovalListener: func(k, v string, cause cache.RemovalCause) {
//	        log.Printf("removed %s (%v)", k, cause)
//	    },
//	})
//
// With GetOrLoad (singleflight)
//
//	c := cache.MustNew[string, string](cache.Options[string, string]{
//	    Capacity: 1024,
//	    Loader: func(ctx context.Context, k string) (string, error) {
//	        // e.g. fetch from DB
//	        return "v:" + k, nil
//	    },
//	})
//	v, err := c.GetOrLoad(context.Background(), "key")
//
// Weighted capacity
//
//	c := cache.MustNew[string, []byte](cache.Options[string, []byte]{
//	    Capacity: 64 << 20, // bytes
//	    Weigher:  func(_ string, v []byte) uint32 { return uint32(len(v)) },
//	})
//
// Using an alternative policy (2Q)
//
//	c := cache.MustNew[string, string](cache.Options[string, string]{
//	    Capacity: 50_000,
//	    Policy:   twoq.New(12_500 /* A1in ≈ 25% */, 25_000 /* ghosts */),
//	})
//
// Thread-safety & consistency
//
// All methods on Cache are safe for concurrent use. A Get issued after an
// Insert for the same key on the same goroutine observes that Insert.
// Policy effects lag the events that cause them by at most one pass; call
// RunPendingTasks when a test or a caller needs them applied.
package cache
