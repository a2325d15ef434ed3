package cache

import (
	"sync"

	"github.com/IvanBrykalov/tinycache/internal/util"
)

// shard is an independent stripe of the key/value map with its own lock.
// It only does lookups and swaps; ordering and eviction belong to the
// maintenance pass. Every entry that leaves the map through a shard method
// is retired under the shard lock, which makes the remover the single owner
// of that entry's removal report.
type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*entry[K, V]

	// keep neighbouring shards' locks off this cache line
	_ util.CacheLinePad
}

func newShard[K comparable, V any](hint int) *shard[K, V] {
	return &shard[K, V]{m: make(map[K]*entry[K, V], hint)}
}

func (s *shard[K, V]) get(k K) *entry[K, V] {
	s.mu.RLock()
	e := s.m[k]
	s.mu.RUnlock()
	return e
}

// put stores e and returns the entry it replaced (retired), if any.
func (s *shard[K, V]) put(k K, e *entry[K, V]) *entry[K, V] {
	s.mu.Lock()
	old := s.m[k]
	s.m[k] = e
	if old != nil {
		old.retire()
	}
	s.mu.Unlock()
	return old
}

// putIf stores e unless an existing entry is present and keep(existing)
// reports true. It returns the replaced entry (retired), or the kept one
// together with stored == false.
func (s *shard[K, V]) putIf(k K, e *entry[K, V], keep func(*entry[K, V]) bool) (old *entry[K, V], stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.m[k]
	if old != nil && keep(old) {
		return old, false
	}
	s.m[k] = e
	if old != nil {
		old.retire()
	}
	return old, true
}

// remove deletes k and returns the removed entry (retired), if any.
func (s *shard[K, V]) remove(k K) *entry[K, V] {
	s.mu.Lock()
	e := s.m[k]
	if e != nil {
		delete(s.m, k)
		e.retire()
	}
	s.mu.Unlock()
	return e
}

// removeIf deletes k only while it still maps to e.
func (s *shard[K, V]) removeIf(k K, e *entry[K, V]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[k] != e {
		return false
	}
	delete(s.m, k)
	e.retire()
	return true
}

// drain empties the shard and returns every entry it held, retired.
func (s *shard[K, V]) drain() []*entry[K, V] {
	s.mu.Lock()
	out := make([]*entry[K, V], 0, len(s.m))
	for _, e := range s.m {
		e.retire()
		out = append(out, e)
	}
	clear(s.m)
	s.mu.Unlock()
	return out
}

// snapshot copies the resident entries for iteration outside the lock.
func (s *shard[K, V]) snapshot() []*entry[K, V] {
	s.mu.RLock()
	out := make([]*entry[K, V], 0, len(s.m))
	for _, e := range s.m {
		out = append(out, e)
	}
	s.mu.RUnlock()
	return out
}

func (s *shard[K, V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
