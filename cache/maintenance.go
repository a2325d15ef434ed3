package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/tinycache/policy"
)

// Drain status. Every caller reads it; the transitions below make sure at
// most one pass runs at a time and that a write arriving during a pass
// causes exactly one more pass instead of a queue of them.
//
//	idle                 --write-->      required
//	required             --schedule-->   processingToIdle
//	processingToIdle     --write-->      processingToRequired
//	processingToIdle     --pass done-->  idle
//	processingToRequired --pass done-->  required (and reschedule)
const (
	statusIdle uint32 = iota
	statusRequired
	statusProcessingToIdle
	statusProcessingToRequired
)

const (
	// writeRetries is how often a writer retries a full write buffer
	// before it runs the pass itself.
	writeRetries = 100
	// maxWriteDrain bounds the write events applied per pass.
	maxWriteDrain = writeBufferSize / 2
)

type taskKind uint8

const (
	addTask taskKind = iota + 1
	updateTask
	removeTask
)

// task is a write event. The goroutine that took an entry out of the map
// posts the task that reports it, so every removal is reported once.
type task[K comparable, V any] struct {
	kind  taskKind
	e     *entry[K, V]
	old   *entry[K, V] // updateTask: the replaced entry
	cause RemovalCause // removeTask
}

// removal is a listener notification collected under the eviction lock and
// delivered after it is released.
type removal[K comparable, V any] struct {
	key   K
	val   V
	cause RemovalCause
}

// RequestMaintenance schedules a pass without waiting for it.
func (c *cache[K, V]) RequestMaintenance() { c.scheduleAfterWrite() }

// RunPendingTasks applies every event buffered at call time and waits for
// removal notifications of concurrent passes to be delivered.
func (c *cache[K, V]) RunPendingTasks() {
	for pass := 0; pass <= writeBufferSize/maxWriteDrain; pass++ {
		c.performCleanUp(nil)
		if c.writeBuf.Len() == 0 {
			break
		}
	}
	// Passes deliver notifications holding dispatchMu for reading.
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock() //nolint:staticcheck // waiting for readers to leave
}

// InvalidateAll removes every entry and resets the policy, including its
// frequency history.
func (c *cache[K, V]) InvalidateAll() {
	if c.opt.Loader != nil {
		c.loadEpoch.Add(1)
		c.sf.ForgetAll()
	}
	c.evictMu.Lock()
	now := c.now()
	c.readBuf.Clear()
	for i := 0; i < c.writeBuf.Cap(); i++ {
		t, ok := c.writeBuf.TryPop()
		if !ok {
			break
		}
		c.runTask(t, now)
	}
	for _, s := range c.shards {
		for _, e := range s.drain() {
			c.report(e, causeFor(e, CauseExplicit, now))
		}
	}
	c.lists.clear()
	c.timers.Clear()
	c.engine.Reset()
	c.weighted.Store(0)
	c.unlockAndDispatch()
}

// scheduleAfterWrite marks maintenance as required and schedules a pass,
// or flags the running pass to go again.
func (c *cache[K, V]) scheduleAfterWrite() {
	for {
		switch c.status.Load() {
		case statusIdle:
			c.status.CompareAndSwap(statusIdle, statusRequired)
			c.scheduleDrainBuffers()
			return
		case statusRequired:
			c.scheduleDrainBuffers()
			return
		case statusProcessingToIdle:
			if c.status.CompareAndSwap(statusProcessingToIdle, statusProcessingToRequired) {
				return
			}
		default:
			return
		}
	}
}

// scheduleDrainBuffers hands a pass to the executor unless one is already
// running or scheduled. It never blocks.
func (c *cache[K, V]) scheduleDrainBuffers() {
	if c.status.Load() >= statusProcessingToIdle {
		return
	}
	if !c.evictMu.TryLock() {
		return
	}
	if c.status.Load() >= statusProcessingToIdle {
		c.evictMu.Unlock()
		return
	}
	c.status.Store(statusProcessingToIdle)
	c.evictMu.Unlock()
	c.opt.Executor(func() { c.performCleanUp(nil) })
}

// performCleanUp runs one pass under the eviction lock, optionally applying
// a write event the caller could not buffer, then delivers notifications.
func (c *cache[K, V]) performCleanUp(t *task[K, V]) {
	c.evictMu.Lock()
	start := time.Now()
	c.maintenance(t)
	c.opt.Metrics.Maintenance(time.Since(start))
	c.unlockAndDispatch()

	if c.status.Load() == statusRequired {
		c.scheduleDrainBuffers()
	}
}

// maintenance is one pass. evictMu must be held.
func (c *cache[K, V]) maintenance(t *task[K, V]) {
	c.status.Store(statusProcessingToIdle)
	now := c.now()

	c.readBuf.DrainTo(c.onAccess)
	for i := 0; i < maxWriteDrain; i++ {
		wt, ok := c.writeBuf.TryPop()
		if !ok {
			break
		}
		c.runTask(wt, now)
	}
	if t != nil {
		c.runTask(*t, now)
	}
	c.expireEntries(now)
	c.engine.Evict(c.evictVictim)

	weight := c.engine.WeightedSize()
	c.weighted.Store(weight)
	c.opt.Metrics.Size(c.EntryCount(), weight)

	if c.writeBuf.Len() > 0 ||
		!c.status.CompareAndSwap(statusProcessingToIdle, statusIdle) {
		c.status.Store(statusRequired)
	}
}

// onAccess applies one read event.
func (c *cache[K, V]) onAccess(e *entry[K, V]) {
	if !e.alive() {
		return
	}
	c.engine.Access(e)
	if e.index >= 0 {
		if exp := e.expiresAt.Load(); exp != e.deadline {
			c.timers.Refresh(e, exp)
		}
	}
}

// runTask applies one write event.
func (c *cache[K, V]) runTask(t task[K, V], now int64) {
	switch t.kind {
	case addTask:
		e := t.e
		if !e.alive() {
			// already taken out of the map; whoever did that reports it
			return
		}
		if !c.engine.Add(e) {
			c.evictEntry(e, CauseSize)
			return
		}
		c.track(e)

	case updateTask:
		n, old := t.e, t.old
		if n.alive() {
			if c.engine.Update(n, old) {
				c.track(n)
			} else {
				c.evictEntry(n, CauseSize)
			}
		} else {
			c.engine.Remove(old)
		}
		c.timers.Remove(old)
		c.report(old, causeFor(old, CauseReplaced, now))

	case removeTask:
		c.engine.Remove(t.e)
		c.timers.Remove(t.e)
		c.report(t.e, causeFor(t.e, t.cause, now))

	default:
		panic(fmt.Sprintf("cache: unknown task kind %d", t.kind))
	}
}

// track queues e for expiration if it has a deadline.
func (c *cache[K, V]) track(e *entry[K, V]) {
	if exp := e.expiresAt.Load(); exp != 0 {
		c.timers.Track(e, exp)
	}
}

// expireEntries removes every entry whose deadline has passed.
func (c *cache[K, V]) expireEntries(now int64) {
	for _, e := range c.timers.Reap(now) {
		if exp := e.expiresAt.Load(); exp > now {
			// a reader pushed the idle deadline back
			c.timers.Track(e, exp)
			continue
		}
		if !c.getShard(e.key).removeIf(e.key, e) {
			continue
		}
		c.engine.Remove(e)
		c.report(e, CauseExpired)
	}
}

// evictVictim is the callback for entries the policy has already unlinked.
func (c *cache[K, V]) evictVictim(n policy.Node) {
	c.evictEntry(n.(*entry[K, V]), CauseSize)
}

// evictEntry takes an unlinked entry out of the map. If a writer already
// replaced or removed it, that writer's task reports it instead.
func (c *cache[K, V]) evictEntry(e *entry[K, V], cause RemovalCause) {
	c.timers.Remove(e)
	if !c.getShard(e.key).removeIf(e.key, e) {
		return
	}
	c.report(e, cause)
}

// report records the removal of a retired entry.
func (c *cache[K, V]) report(e *entry[K, V], cause RemovalCause) {
	e.die()
	c.opt.Metrics.Evict(cause)
	if c.opt.RemovalListener != nil {
		c.pending = append(c.pending, removal[K, V]{key: e.key, val: e.val, cause: cause})
	}
}

// causeFor reports an entry that had already expired as expired, whatever
// removed it.
func causeFor[K comparable, V any](e *entry[K, V], cause RemovalCause, now int64) RemovalCause {
	if e.expired(now) {
		return CauseExpired
	}
	return cause
}

// unlockAndDispatch releases evictMu and delivers the notifications the
// pass collected. dispatchMu is taken before evictMu is released so that
// RunPendingTasks cannot slip in between.
func (c *cache[K, V]) unlockAndDispatch() {
	removals := c.pending
	c.pending = nil
	c.dispatchMu.RLock()
	c.evictMu.Unlock()
	defer c.dispatchMu.RUnlock()

	for _, r := range removals {
		c.notify(r)
	}
}

// notify calls the listener once, isolating panics.
func (c *cache[K, V]) notify(r removal[K, V]) {
	defer func() {
		if p := recover(); p != nil {
			c.opt.Metrics.ListenerPanic()
			c.log.Error("removal listener panicked",
				slog.Any("key", r.key),
				slog.String("cause", r.cause.String()),
				slog.Any("panic", p))
		}
	}()
	c.opt.RemovalListener(r.key, r.val, r.cause)
}

// maintenanceLoop runs a pass every interval until ctx is cancelled, so
// expired entries are reaped even when the cache sees no traffic.
func (c *cache[K, V]) maintenanceLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.performCleanUp(nil)
		}
	}
}
