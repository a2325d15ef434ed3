// Package twoq implements the 2Q eviction policy.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/tinycache/policy"
)

// twoQ implements the 2Q eviction policy on top of the cache segments.
//
// Resident queues:
//   - A1in (younger queue), mapped to the window segment; admits first-time entries
//   - Am   (mature queue), mapped to the protected segment
//
// Ghost A1out: key hashes only (no values). It tracks recently evicted A1in
// entries to give them a second chance (bypass A1in on re-admission).
type twoQ struct {
	h policy.Hooks

	maximum  uint64
	capIn    uint64 // A1in weight budget
	capGhost int    // A1out (ghost) capacity

	inWeight uint64
	amWeight uint64

	// A1out (ghosts): MRU at Front() -> LRU at Back()
	ghostList *list.List
	ghostIdx  map[uint64]*list.Element // hash -> element in ghostList (element.Value is uint64)
}

// New constructs a 2Q policy factory.
// Common choices: capIn ≈ 25% of capacity; capGhost ≈ 50–100% of capacity.
// Non-positive values select exactly those shares of the cache maximum.
func New(capIn, capGhost int) policy.Policy {
	return twoQPolicy{capIn: capIn, capGhost: capGhost}
}

type twoQPolicy struct {
	capIn    int
	capGhost int
}

func (p twoQPolicy) New(h policy.Hooks, maximum uint64) policy.Engine {
	capIn := uint64(max(p.capIn, 0))
	if capIn == 0 {
		capIn = max(maximum/4, 1)
	}
	capGhost := p.capGhost
	if capGhost <= 0 {
		capGhost = int(min(max(maximum/2, 1), 1<<20))
	}
	return &twoQ{
		h:         h,
		maximum:   maximum,
		capIn:     capIn,
		capGhost:  capGhost,
		ghostList: list.New(),
		ghostIdx:  make(map[uint64]*list.Element),
	}
}

// Add admission rules:
//   - If the hash is present in ghosts (A1out), bypass A1in and admit
//     directly to Am (MRU). Also remove the ghost entry.
//   - Otherwise admit into A1in.
func (q *twoQ) Add(n policy.Node) bool {
	w := uint64(n.Weight())
	if w > q.maximum {
		return false
	}
	if ge, ok := q.ghostIdx[n.Hash()]; ok {
		// Second chance: promote from ghosts directly into Am (skip A1in).
		q.ghostList.Remove(ge)
		delete(q.ghostIdx, n.Hash())
		q.h.PushBack(policy.Protected, n)
		q.amWeight += w
		return true
	}
	q.h.PushBack(policy.Window, n)
	q.inWeight += w
	return true
}

// Access: a node in A1in is promoted to Am; a node in Am moves to MRU.
func (q *twoQ) Access(n policy.Node) {
	switch n.Segment() {
	case policy.Window:
		q.h.Remove(n)
		q.inWeight -= uint64(n.Weight())
		q.h.PushBack(policy.Protected, n)
		q.amWeight += uint64(n.Weight())
	case policy.Protected:
		q.h.MoveToBack(n)
	}
}

// Update follows Access semantics (updates count as recent use).
func (q *twoQ) Update(n, old policy.Node) bool {
	wasLinked := old.Segment() != policy.None
	q.Remove(old)
	if !q.Add(n) {
		return false
	}
	if wasLinked {
		q.Access(n)
	}
	return true
}

// Remove unlinks the node. Explicit removals do not populate ghosts.
func (q *twoQ) Remove(n policy.Node) {
	switch n.Segment() {
	case policy.Window:
		q.inWeight -= uint64(n.Weight())
	case policy.Protected:
		q.amWeight -= uint64(n.Weight())
	default:
		return
	}
	q.h.Remove(n)
}

// Evict takes A1in's LRU while A1in is over its budget (remembering it as a
// ghost), otherwise Am's LRU.
func (q *twoQ) Evict(evict func(policy.Node)) {
	for q.WeightedSize() > q.maximum {
		var victim policy.Node
		if q.inWeight > q.capIn || q.h.Len(policy.Protected) == 0 {
			victim = q.h.Front(policy.Window)
		}
		if victim == nil {
			victim = q.h.Front(policy.Protected)
		}
		if victim == nil {
			return
		}
		if victim.Segment() == policy.Window {
			q.remember(victim.Hash())
		}
		q.Remove(victim)
		evict(victim)
	}
}

func (q *twoQ) WeightedSize() uint64 { return q.inWeight + q.amWeight }

func (q *twoQ) Reset() {
	q.inWeight, q.amWeight = 0, 0
	q.ghostList.Init()
	clear(q.ghostIdx)
}

// remember inserts/moves a ghost to MRU and enforces the ghost capacity.
func (q *twoQ) remember(hash uint64) {
	if old := q.ghostIdx[hash]; old != nil {
		q.ghostList.Remove(old)
	}
	q.ghostIdx[hash] = q.ghostList.PushFront(hash)

	for q.ghostList.Len() > q.capGhost {
		tail := q.ghostList.Back()
		if tail == nil {
			break
		}
		delete(q.ghostIdx, tail.Value.(uint64))
		q.ghostList.Remove(tail)
	}
}
