package cache

import (
	"sync/atomic"

	"github.com/IvanBrykalov/tinycache/policy"
)

// Entry lifecycle states.
//
//	alive   -> resident in the map
//	retired -> removed from the map; its removal has not been reported yet
//	dead    -> unlinked from the policy and reported to the listener
const (
	stateAlive uint32 = iota
	stateRetired
	stateDead
)

// entry is one cached mapping. The same allocation is referenced by the
// shard map (lookup), the policy segment lists (ordering) and, when it can
// expire, the expiration queue. An update never mutates an entry in place:
// the writer installs a new entry and the old one is retired.
type entry[K comparable, V any] struct {
	key    K
	val    V
	hash   uint64
	weight uint32

	// Set at construction, read-only afterwards.
	createdAt   int64
	ttlDeadline int64 // absolute UnixNano; 0 = no TTL

	// Readers refresh these without any lock.
	expiresAt  atomic.Int64 // min(ttlDeadline, last access + TTI); 0 = never
	accessedAt atomic.Int64

	state atomic.Uint32

	// ---- guarded by the cache eviction lock ----

	// Intrusive segment list links: prev is towards LRU, next towards MRU.
	seg  policy.Segment
	prev *entry[K, V]
	next *entry[K, V]

	// Position in the expiration queue (-1 = not tracked) and the deadline
	// the queue orders it by.
	index    int
	deadline int64
}

func newEntry[K comparable, V any](k K, v V, hash uint64, weight uint32, now, ttlDeadline, expiresAt int64) *entry[K, V] {
	e := &entry[K, V]{
		key:         k,
		val:         v,
		hash:        hash,
		weight:      weight,
		createdAt:   now,
		ttlDeadline: ttlDeadline,
		index:       -1,
	}
	e.expiresAt.Store(expiresAt)
	e.accessedAt.Store(now)
	return e
}

// expired reports whether the entry is logically gone at now.
func (e *entry[K, V]) expired(now int64) bool {
	exp := e.expiresAt.Load()
	return exp != 0 && now >= exp
}

func (e *entry[K, V]) alive() bool { return e.state.Load() == stateAlive }

// retire marks an entry that was just removed from the map.
// Callers hold the shard lock, so this happens exactly once per entry.
func (e *entry[K, V]) retire() { e.state.Store(stateRetired) }

// die marks the entry as reported. A second report means two code paths
// believe they own the same removal.
func (e *entry[K, V]) die() {
	if !e.state.CompareAndSwap(stateRetired, stateDead) {
		panic("cache: entry reported removed twice or while still resident")
	}
}

// policy.Node

func (e *entry[K, V]) Hash() uint64            { return e.hash }
func (e *entry[K, V]) Weight() uint32          { return e.weight }
func (e *entry[K, V]) Segment() policy.Segment { return e.seg }

// expiry.Item

func (e *entry[K, V]) Deadline() int64     { return e.deadline }
func (e *entry[K, V]) SetDeadline(d int64) { e.deadline = d }
func (e *entry[K, V]) Index() int          { return e.index }
func (e *entry[K, V]) SetIndex(i int)      { e.index = i }
