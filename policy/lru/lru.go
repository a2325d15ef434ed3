// Package lru implements the LRU eviction policy.
package lru

import "github.com/IvanBrykalov/tinycache/policy"

// lru is a classic Least-Recently-Used policy. Every node lives in a
// single list (the probation segment); hits move it to the MRU end and
// eviction always takes the LRU end.
type lru struct {
	h       policy.Hooks
	maximum uint64
	weight  uint64
}

type lruPolicy struct{}

// New returns a Policy factory that constructs LRU engines.
func New() policy.Policy { return lruPolicy{} }

// New implements policy.Policy by binding the cache hooks.
func (lruPolicy) New(h policy.Hooks, maximum uint64) policy.Engine {
	return &lru{h: h, maximum: maximum}
}

// Add places the new entry at MRU.
func (p *lru) Add(n policy.Node) bool {
	if uint64(n.Weight()) > p.maximum {
		return false
	}
	p.h.PushBack(policy.Probation, n)
	p.weight += uint64(n.Weight())
	return true
}

// Access promotes the entry to MRU.
func (p *lru) Access(n policy.Node) {
	if n.Segment() != policy.None {
		p.h.MoveToBack(n)
	}
}

// Update swaps old for n at MRU (updates are treated as recent use).
func (p *lru) Update(n, old policy.Node) bool {
	p.Remove(old)
	return p.Add(n)
}

// Remove unlinks the entry.
func (p *lru) Remove(n policy.Node) {
	if n.Segment() == policy.None {
		return
	}
	p.h.Remove(n)
	p.weight -= uint64(n.Weight())
}

// Evict drops LRU entries until the weight fits.
func (p *lru) Evict(evict func(policy.Node)) {
	for p.weight > p.maximum {
		victim := p.h.Front(policy.Probation)
		if victim == nil {
			return
		}
		p.Remove(victim)
		evict(victim)
	}
}

func (p *lru) WeightedSize() uint64 { return p.weight }

// Reset forgets all linked weight; LRU keeps no other state.
func (p *lru) Reset() { p.weight = 0 }
