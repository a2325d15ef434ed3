// Package buffer holds the event buffers that decouple cache callers from
// the maintenance pass.
//
//   - Striped is a lossy buffer for read events: a producer that finds its
//     stripe busy or full simply drops the event.
//   - Bounded is a lossless, fixed-capacity FIFO for write events. A full
//     Bounded buffer reports failure and the producer decides what to do.
package buffer

import (
	"sync"

	"github.com/IvanBrykalov/tinycache/internal/util"
)

// Status is the outcome of Striped.Add.
type Status int

const (
	// Success means the event was recorded.
	Success Status = iota
	// Full means the stripe was full and the event was dropped.
	// The caller should schedule a drain.
	Full
	// Contended means another goroutine held the stripe and the event was dropped.
	Contended
)

// stripe is a tiny ring guarded by a mutex that producers only ever TryLock.
type stripe[T any] struct {
	mu  sync.Mutex
	buf []T
	n   int
	_   util.CacheLinePad
}

// Striped spreads read events over independent stripes selected by hash.
type Striped[T any] struct {
	stripes []stripe[T]
	size    int
}

// NewStriped returns a buffer with the given stripe count (rounded up to a
// power of two) and per-stripe capacity.
func NewStriped[T any](stripes, size int) *Striped[T] {
	if stripes < 1 {
		stripes = 1
	}
	if size < 1 {
		size = 1
	}
	n := int(util.NextPow2(uint64(stripes)))
	s := &Striped[T]{stripes: make([]stripe[T], n), size: size}
	for i := range s.stripes {
		s.stripes[i].buf = make([]T, size)
	}
	return s
}

// Add records v in the stripe selected by hash. It never blocks.
func (s *Striped[T]) Add(hash uint64, v T) Status {
	st := &s.stripes[util.ShardIndex(hash>>32, len(s.stripes))]
	if !st.mu.TryLock() {
		return Contended
	}
	if st.n == len(st.buf) {
		st.mu.Unlock()
		return Full
	}
	st.buf[st.n] = v
	st.n++
	st.mu.Unlock()
	return Success
}

// DrainTo hands every buffered event to fn and empties the buffer.
// fn runs with the stripe lock held, so producers on that stripe drop
// events until it returns.
func (s *Striped[T]) DrainTo(fn func(T)) {
	var zero T
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for j := 0; j < st.n; j++ {
			fn(st.buf[j])
			st.buf[j] = zero
		}
		st.n = 0
		st.mu.Unlock()
	}
}

// Clear drops every buffered event.
func (s *Striped[T]) Clear() { s.DrainTo(func(T) {}) }

// Len returns the number of buffered events. It is a snapshot and may be
// stale by the time it returns.
func (s *Striped[T]) Len() int {
	total := 0
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		total += st.n
		st.mu.Unlock()
	}
	return total
}
