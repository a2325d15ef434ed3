package cache

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/tinycache/internal/buffer"
	"github.com/IvanBrykalov/tinycache/internal/expiry"
	"github.com/IvanBrykalov/tinycache/internal/singleflight"
	"github.com/IvanBrykalov/tinycache/internal/util"
	"github.com/IvanBrykalov/tinycache/policy"
	"github.com/IvanBrykalov/tinycache/policy/wtinylfu"
)

var (
	// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
	ErrNoLoader = errors.New("cache: no Loader provided")
	// ErrClosed is returned by GetOrLoad after Close.
	ErrClosed = errors.New("cache: closed")
)

const (
	// readStripeSize is the number of read events one stripe buffers
	// before producers start dropping them.
	readStripeSize = 16
	// writeBufferSize bounds the write events waiting for maintenance.
	writeBufferSize = 1024
	// maxInitialCapacity caps the default map pre-sizing.
	maxInitialCapacity = 1 << 16
)

// cache is a bounded in-memory KV store with a pluggable eviction policy.
// All methods are safe for concurrent use by multiple goroutines.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	opt    Options[K, V]
	log    *slog.Logger

	// drain status word (see maintenance.go); hammered by every caller
	status util.PaddedAtomicUint32

	readBuf  *buffer.Striped[*entry[K, V]]
	writeBuf *buffer.Bounded[task[K, V]]

	// ---- guarded by evictMu ----
	evictMu sync.Mutex
	lists   segments[K, V]
	engine  policy.Engine
	timers  *expiry.Queue[*entry[K, V]]
	pending []removal[K, V] // removals collected by the running pass

	// Held for reading while a pass delivers removal notifications;
	// RunPendingTasks takes it for writing to wait for them.
	dispatchMu sync.RWMutex

	weighted util.PaddedAtomicUint64 // published at the end of every pass

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
	// loadEpoch advances on every invalidation; a load that spans a change
	// is returned to its callers but not stored.
	loadEpoch atomic.Uint64

	closed  atomic.Bool
	stop    context.CancelFunc
	workers errgroup.Group
}

// New constructs a cache with the provided Options.
// It returns a wrapped configuration error (ErrInvalidCapacity,
// ErrInvalidExpiry, ErrExpiryTooLong, ErrConflictingExpiry) for invalid
// options.
func New[K comparable, V any](opt Options[K, V]) (Cache[K, V], error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Policy == nil {
		opt.Policy = wtinylfu.Default()
	}
	if opt.Executor == nil {
		opt.Executor = func(fn func()) { go fn() }
	}
	if opt.Hasher == nil {
		opt.Hasher = util.Hash[K]
	}
	if opt.MaintenanceInterval == 0 {
		opt.MaintenanceInterval = time.Second
	}

	// number of shards -> power of two
	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	initial := opt.InitialCapacity
	if initial <= 0 {
		initial = min(opt.Capacity, maxInitialCapacity)
	}
	perShard := (initial + sh - 1) / sh // split evenly (ceil)

	c := &cache[K, V]{
		shards:   make([]*shard[K, V], sh),
		hash:     opt.Hasher,
		opt:      opt,
		log:      opt.Logger.With(slog.String("component", "cache")),
		readBuf:  buffer.NewStriped[*entry[K, V]](util.ReasonableShardCount(), readStripeSize),
		writeBuf: buffer.NewBounded[task[K, V]](writeBufferSize),
		timers:   expiry.New[*entry[K, V]](0),
	}
	for i := range c.shards {
		c.shards[i] = newShard[K, V](perShard)
	}
	c.engine = opt.Policy.New(&c.lists, uint64(opt.Capacity))

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	if opt.MaintenanceInterval > 0 {
		c.workers.Go(func() error { return c.maintenanceLoop(ctx, opt.MaintenanceInterval) })
	}
	return c, nil
}

// MustNew is like New but panics on invalid options.
func MustNew[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	c, err := New(opt)
	if err != nil {
		panic(err)
	}
	return c
}

// ---- Cache[K,V] implementation ----

// Get returns the value for k and a presence flag.
func (c *cache[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	e := c.getShard(k).get(k)
	if e == nil {
		c.opt.Metrics.Miss()
		return zero, false
	}
	now := c.now()
	if e.expired(now) {
		c.opt.Metrics.Miss()
		return zero, false
	}
	e.accessedAt.Store(now)
	if tti := c.opt.TimeToIdle; tti > 0 {
		e.expiresAt.Store(idleDeadline(now, tti, e.ttlDeadline))
	}
	c.afterRead(e)
	c.opt.Metrics.Hit()
	return e.val, true
}

// Insert inserts or replaces k→v using Options.TimeToLive.
func (c *cache[K, V]) Insert(k K, v V) (V, bool) {
	return c.insert(k, v, c.opt.TimeToLive)
}

// InsertWithTTL inserts or replaces k→v with a per-key TTL.
func (c *cache[K, V]) InsertWithTTL(k K, v V, ttl time.Duration) (V, bool) {
	return c.insert(k, v, ttl)
}

func (c *cache[K, V]) insert(k K, v V, ttl time.Duration) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	now := c.now()
	e := c.newEntry(k, v, now, ttl)
	old := c.getShard(k).put(k, e)
	if old == nil {
		c.afterWrite(task[K, V]{kind: addTask, e: e})
		return zero, false
	}
	c.afterWrite(task[K, V]{kind: updateTask, e: e, old: old})
	if old.expired(now) {
		return zero, false
	}
	return old.val, true
}

// Add inserts k→v only if k is absent or expired.
func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	now := c.now()
	e := c.newEntry(k, v, now, c.opt.TimeToLive)
	old, stored := c.getShard(k).putIf(k, e, func(cur *entry[K, V]) bool { return !cur.expired(now) })
	if !stored {
		return false
	}
	if old == nil {
		c.afterWrite(task[K, V]{kind: addTask, e: e})
	} else {
		c.afterWrite(task[K, V]{kind: updateTask, e: e, old: old})
	}
	return true
}

// Invalidate removes k and returns its value if it was live.
func (c *cache[K, V]) Invalidate(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	if c.opt.Loader != nil {
		c.loadEpoch.Add(1)
		c.sf.Forget(k)
	}
	old := c.getShard(k).remove(k)
	if old == nil {
		return zero, false
	}
	c.afterWrite(task[K, V]{kind: removeTask, e: old, cause: CauseExplicit})
	if old.expired(c.now()) {
		return zero, false
	}
	return old.val, true
}

// InvalidateIf removes every entry matching pred.
func (c *cache[K, V]) InvalidateIf(pred func(K, V) bool) int {
	if c.closed.Load() {
		return 0
	}
	if c.opt.Loader != nil {
		c.loadEpoch.Add(1)
		c.sf.ForgetAll()
	}
	n := 0
	for _, s := range c.shards {
		for _, e := range s.snapshot() {
			if !pred(e.key, e.val) || !s.removeIf(e.key, e) {
				continue
			}
			c.afterWrite(task[K, V]{kind: removeTask, e: e, cause: CauseExplicit})
			n++
		}
	}
	return n
}

// EntryCount returns the number of resident entries across all shards.
func (c *cache[K, V]) EntryCount() int {
	total := 0
	for _, s := range c.shards {
		total += s.len()
	}
	return total
}

// WeightedSize returns the policy weight published by the last pass.
func (c *cache[K, V]) WeightedSize() uint64 { return c.weighted.Load() }

// All iterates over live entries, one shard snapshot at a time.
func (c *cache[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		now := c.now()
		for _, s := range c.shards {
			for _, e := range s.snapshot() {
				if e.expired(now) {
					continue
				}
				if !yield(e.key, e.val) {
					return
				}
			}
		}
	}
}

// Close stops the maintenance worker, applies pending events and marks the
// cache closed. Future operations are ignored. Close is idempotent.
func (c *cache[K, V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.stop()
	err := c.workers.Wait()
	c.RunPendingTasks()
	return err
}

// GetOrLoad returns the value for k; on miss it loads via Options.Loader,
// coalescing concurrent loads for the same key (singleflight).
// If no Loader is configured, returns ErrNoLoader.
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	// fast path
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		return zero, ErrNoLoader
	}

	// singleflight: exactly one real load for the key
	v, err, _ := c.sf.Do(ctx, k, func() (V, error) {
		// double-check after flight join
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		epoch := c.loadEpoch.Load()
		v, err := c.opt.Loader(ctx, k)
		if err == nil && c.loadEpoch.Load() == epoch {
			c.Insert(k, v)
		}
		return v, err
	})
	return v, err
}

// ---- helpers ----

// getShard picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash(k), len(c.shards))]
}

func (c *cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// newEntry builds an entry with its weight and absolute deadlines.
func (c *cache[K, V]) newEntry(k K, v V, now int64, ttl time.Duration) *entry[K, V] {
	var weight uint32 = 1
	if c.opt.Weigher != nil {
		weight = c.opt.Weigher(k, v)
	}
	var ttlDeadline int64
	if ttl > 0 {
		// per-entry TTLs skip validate; keep the deadline from wrapping
		ttlDeadline = now + int64(min(ttl, maxExpiry))
	}
	expiresAt := ttlDeadline
	if tti := c.opt.TimeToIdle; tti > 0 {
		expiresAt = idleDeadline(now, tti, ttlDeadline)
	}
	return newEntry(k, v, c.hash(k), weight, now, ttlDeadline, expiresAt)
}

// idleDeadline pushes the idle deadline to now+tti without passing the
// entry's time-to-live deadline.
func idleDeadline(now int64, tti time.Duration, ttlDeadline int64) int64 {
	d := now + int64(tti)
	if ttlDeadline != 0 && ttlDeadline < d {
		return ttlDeadline
	}
	return d
}

// afterRead records a hit for the policy. The read buffer is lossy: a busy
// or full stripe drops the event, and a full stripe asks for a drain.
func (c *cache[K, V]) afterRead(e *entry[K, V]) {
	switch c.readBuf.Add(e.hash, e) {
	case buffer.Full:
		c.scheduleDrainBuffers()
	case buffer.Success:
		if c.status.Load() == statusRequired {
			c.scheduleDrainBuffers()
		}
	}
}

// afterWrite hands a write event to the maintenance pass. Write events are
// never dropped: after a bounded number of failed attempts the writer runs
// the pass itself.
func (c *cache[K, V]) afterWrite(t task[K, V]) {
	for i := 0; i < writeRetries; i++ {
		if c.writeBuf.TryPush(t) {
			c.scheduleAfterWrite()
			return
		}
		c.scheduleDrainBuffers()
		runtime.Gosched()
	}
	c.log.Debug("write buffer full, writer runs maintenance")
	c.performCleanUp(&t)
}
