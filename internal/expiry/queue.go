// Package expiry keeps entries ordered by expiration deadline.
//
// Queue is a binary min-heap keyed by an absolute deadline in UnixNano.
// Items carry their own heap index, so Track, Refresh and Remove are
// O(log n) without any lookup. A Queue is not safe for concurrent use; the
// cache only touches it from the maintenance pass.
package expiry

import "container/heap"

// Item is an element that can sit in a Queue.
// Index must return -1 while the item is not tracked.
type Item interface {
	Deadline() int64
	SetDeadline(int64)
	Index() int
	SetIndex(int)
}

// Queue orders tracked items by deadline (earliest first).
type Queue[T Item] struct {
	h items[T]
}

// New returns an empty queue with room for hint items.
func New[T Item](hint int) *Queue[T] {
	if hint < 0 {
		hint = 0
	}
	return &Queue[T]{h: make(items[T], 0, hint)}
}

// Len returns the number of tracked items.
func (q *Queue[T]) Len() int { return len(q.h) }

// Track inserts it with the given deadline, or moves it if already tracked.
func (q *Queue[T]) Track(it T, deadline int64) {
	it.SetDeadline(deadline)
	if i := it.Index(); i >= 0 {
		heap.Fix(&q.h, i)
		return
	}
	heap.Push(&q.h, it)
}

// Refresh moves a tracked item to a new deadline. Untracked items are left
// alone so that a late read event cannot resurrect a removed entry.
func (q *Queue[T]) Refresh(it T, deadline int64) {
	if it.Index() < 0 {
		return
	}
	q.Track(it, deadline)
}

// Remove stops tracking it. Removing an untracked item is a no-op.
func (q *Queue[T]) Remove(it T) {
	if i := it.Index(); i >= 0 {
		heap.Remove(&q.h, i)
	}
}

// Peek returns the earliest deadline, or false if the queue is empty.
func (q *Queue[T]) Peek() (int64, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].Deadline(), true
}

// Reap pops every item whose deadline is <= now, earliest first.
// Popped items are no longer tracked.
func (q *Queue[T]) Reap(now int64) []T {
	var out []T
	for len(q.h) > 0 && q.h[0].Deadline() <= now {
		out = append(out, heap.Pop(&q.h).(T))
	}
	return out
}

// Clear untracks every item.
func (q *Queue[T]) Clear() {
	for _, it := range q.h {
		it.SetIndex(-1)
	}
	clear(q.h)
	q.h = q.h[:0]
}

// items implements heap.Interface.
type items[T Item] []T

func (h items[T]) Len() int           { return len(h) }
func (h items[T]) Less(i, j int) bool { return h[i].Deadline() < h[j].Deadline() }

func (h items[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].SetIndex(i)
	h[j].SetIndex(j)
}

func (h *items[T]) Push(x any) {
	it := x.(T)
	it.SetIndex(len(*h))
	*h = append(*h, it)
}

func (h *items[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	var zero T
	old[n-1] = zero
	*h = old[:n-1]
	it.SetIndex(-1)
	return it
}
