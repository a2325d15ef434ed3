package cache

import (
	"fmt"

	"github.com/IvanBrykalov/tinycache/policy"
)

// deque is an intrusive doubly linked list of entries (head=LRU, tail=MRU).
type deque[K comparable, V any] struct {
	head *entry[K, V]
	tail *entry[K, V]
	len  int
}

// pushBack appends e at MRU in O(1).
func (d *deque[K, V]) pushBack(e *entry[K, V]) {
	e.prev = d.tail
	e.next = nil
	if d.tail != nil {
		d.tail.next = e
	}
	d.tail = e
	if d.head == nil {
		d.head = e
	}
	d.len++
}

// unlink removes e from the list in O(1).
func (d *deque[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		d.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		d.tail = e.prev
	}
	e.prev, e.next = nil, nil
	d.len--
}

// moveToBack promotes e to MRU in O(1).
func (d *deque[K, V]) moveToBack(e *entry[K, V]) {
	if d.tail == e {
		return
	}
	d.unlink(e)
	d.pushBack(e)
}

// segments holds one deque per policy segment and implements policy.Hooks
// for the active engine. Only the maintenance pass touches it.
type segments[K comparable, V any] struct {
	lists [policy.Protected + 1]deque[K, V]
}

func (s *segments[K, V]) PushBack(seg policy.Segment, n policy.Node) {
	e := n.(*entry[K, V])
	if e.seg != policy.None {
		panic(fmt.Sprintf("cache: entry already linked in %v, cannot push to %v", e.seg, seg))
	}
	if seg == policy.None || seg > policy.Protected {
		panic(fmt.Sprintf("cache: cannot link entry into segment %v", seg))
	}
	s.lists[seg].pushBack(e)
	e.seg = seg
}

func (s *segments[K, V]) MoveToBack(n policy.Node) {
	e := n.(*entry[K, V])
	if e.seg == policy.None {
		panic("cache: reorder of an unlinked entry")
	}
	s.lists[e.seg].moveToBack(e)
}

func (s *segments[K, V]) Remove(n policy.Node) {
	e := n.(*entry[K, V])
	if e.seg == policy.None {
		panic("cache: unlink of an unlinked entry")
	}
	s.lists[e.seg].unlink(e)
	e.seg = policy.None
}

func (s *segments[K, V]) Front(seg policy.Segment) policy.Node {
	if h := s.lists[seg].head; h != nil {
		return h
	}
	// literal nil: a typed nil pointer would not compare equal to nil
	return nil
}

func (s *segments[K, V]) Len(seg policy.Segment) int { return s.lists[seg].len }

// total returns the number of linked entries across all segments.
func (s *segments[K, V]) total() int {
	n := 0
	for i := range s.lists {
		n += s.lists[i].len
	}
	return n
}

// clear unlinks every entry.
func (s *segments[K, V]) clear() {
	for i := range s.lists {
		d := &s.lists[i]
		for e := d.head; e != nil; {
			next := e.next
			e.prev, e.next = nil, nil
			e.seg = policy.None
			e = next
		}
		*d = deque[K, V]{}
	}
}

var _ policy.Hooks = (*segments[string, int])(nil)
