// Package wtinylfu implements the Window TinyLFU eviction policy.
//
// New entries enter a small LRU admission window. When the window overflows,
// its LRU entry becomes a candidate for the main space, which is a
// segmented LRU split into probation and protected lists. If the cache is
// over capacity the candidate competes with the main space's LRU victim and
// the one with the higher estimated access frequency stays; on a tie the
// victim stays. One exception: a candidate whose estimate is above 5 that
// loses (or ties) is still admitted with probability 1/128, evicting the
// victim even though the victim looked at least as hot. This keeps keys
// crafted to collide in the sketch from pinning a victim forever. A hit on a
// probation entry promotes it to protected; protected overflow demotes back
// to probation.
//
// Frequencies come from a 4-bit count-min sketch (internal/sketch) that is
// incremented on every insertion and every recorded hit.
package wtinylfu

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/IvanBrykalov/tinycache/internal/sketch"
	"github.com/IvanBrykalov/tinycache/policy"
)

const (
	// DefaultWindowRatio is the share of the maximum given to the window.
	DefaultWindowRatio = 0.01
	// DefaultProtectedRatio is the share of the main space given to the
	// protected segment.
	DefaultProtectedRatio = 0.80

	// admitThreshold is the candidate frequency above which a losing
	// candidate still gets a small random chance of admission, so that an
	// attacker cannot pin a victim by flooding colliding keys.
	admitThreshold = 5

	// initialSketchKeys bounds the sketch allocated up front for caches
	// sized by weight; the sketch grows with the entry count.
	initialSketchKeys = 1 << 16
)

// ErrInvalidRatio is returned by New for a ratio outside [0, 1].
var ErrInvalidRatio = errors.New("wtinylfu: ratio must be within [0, 1]")

// Config tunes the segment sizes. Zero values select the defaults.
// Admission itself is not configurable: ties keep the incumbent, and a
// warm losing candidate is admitted at random 1 time in 128 (see the
// package documentation).
type Config struct {
	// WindowRatio is the fraction of the maximum reserved for the admission
	// window. The window always holds at least one unit of weight.
	WindowRatio float64
	// ProtectedRatio is the fraction of the main space reserved for the
	// protected segment.
	ProtectedRatio float64
}

type wtinylfuPolicy struct {
	cfg Config
}

// New returns a Policy factory with the given tuning.
func New(cfg Config) (policy.Policy, error) {
	if cfg.WindowRatio == 0 {
		cfg.WindowRatio = DefaultWindowRatio
	}
	if cfg.ProtectedRatio == 0 {
		cfg.ProtectedRatio = DefaultProtectedRatio
	}
	if cfg.WindowRatio < 0 || cfg.WindowRatio > 1 {
		return nil, fmt.Errorf("%w: window ratio %v", ErrInvalidRatio, cfg.WindowRatio)
	}
	if cfg.ProtectedRatio < 0 || cfg.ProtectedRatio > 1 {
		return nil, fmt.Errorf("%w: protected ratio %v", ErrInvalidRatio, cfg.ProtectedRatio)
	}
	return wtinylfuPolicy{cfg: cfg}, nil
}

// Default returns a Policy factory with the default tuning.
func Default() policy.Policy {
	return wtinylfuPolicy{cfg: Config{WindowRatio: DefaultWindowRatio, ProtectedRatio: DefaultProtectedRatio}}
}

// New implements policy.Policy.
func (p wtinylfuPolicy) New(h policy.Hooks, maximum uint64) policy.Engine {
	windowMax := uint64(float64(maximum) * p.cfg.WindowRatio)
	if windowMax < 1 {
		windowMax = 1
	}
	if windowMax > maximum {
		windowMax = maximum
	}
	mainMax := maximum - windowMax
	keys := maximum
	if keys > initialSketchKeys {
		keys = initialSketchKeys
	}
	return &engine{
		h:            h,
		sketch:       sketch.New(keys),
		maximum:      maximum,
		windowMax:    windowMax,
		protectedMax: uint64(float64(mainMax) * p.cfg.ProtectedRatio),
	}
}

// engine is the cache-wide W-TinyLFU state.
type engine struct {
	h      policy.Hooks
	sketch *sketch.Sketch

	maximum      uint64
	windowMax    uint64
	protectedMax uint64

	windowWeight    uint64
	probationWeight uint64
	protectedWeight uint64
	entries         uint64
}

func (e *engine) Add(n policy.Node) bool {
	e.sketch.Increment(n.Hash())
	w := uint64(n.Weight())
	if w > e.maximum {
		return false
	}
	e.entries++
	if e.entries > e.sketch.Capacity() {
		e.sketch.EnsureCapacity(e.entries)
	}
	e.link(policy.Window, n)
	return true
}

func (e *engine) Access(n policy.Node) {
	switch n.Segment() {
	case policy.None:
		return
	case policy.Window, policy.Protected:
		e.h.MoveToBack(n)
	case policy.Probation:
		e.promote(n)
	}
	e.sketch.Increment(n.Hash())
}

func (e *engine) Update(n, old policy.Node) bool {
	seg := old.Segment()
	if seg == policy.None {
		return e.Add(n)
	}
	e.unlink(old)
	e.sketch.Increment(n.Hash())
	if uint64(n.Weight()) > e.maximum {
		e.entries--
		return false
	}
	e.link(seg, n)
	if seg == policy.Probation {
		e.promote(n)
	}
	return true
}

func (e *engine) Remove(n policy.Node) {
	if n.Segment() == policy.None {
		return
	}
	e.unlink(n)
	e.entries--
}

func (e *engine) Evict(evict func(policy.Node)) {
	// Drain the window into the main space, running admission whenever the
	// cache as a whole is over its maximum.
	for e.windowWeight > e.windowMax {
		candidate := e.h.Front(policy.Window)
		if candidate == nil {
			break
		}
		if e.WeightedSize() <= e.maximum {
			e.move(candidate, policy.Probation)
			continue
		}
		victim := e.h.Front(policy.Probation)
		if victim == nil {
			victim = e.h.Front(policy.Protected)
		}
		if victim == nil {
			e.move(candidate, policy.Probation)
			continue
		}
		if e.admit(candidate, victim) {
			e.evictNode(victim, evict)
			e.move(candidate, policy.Probation)
		} else {
			e.evictNode(candidate, evict)
		}
	}

	// Still too heavy: take plain LRU victims, main space first.
	for e.WeightedSize() > e.maximum {
		victim := e.h.Front(policy.Probation)
		if victim == nil {
			victim = e.h.Front(policy.Protected)
		}
		if victim == nil {
			victim = e.h.Front(policy.Window)
		}
		if victim == nil {
			break
		}
		e.evictNode(victim, evict)
	}
}

func (e *engine) WeightedSize() uint64 {
	return e.windowWeight + e.probationWeight + e.protectedWeight
}

func (e *engine) Reset() {
	e.windowWeight, e.probationWeight, e.protectedWeight = 0, 0, 0
	e.entries = 0
	e.sketch.Reset()
}

// admit reports whether candidate should replace victim in the main space.
// Ties favour the incumbent.
func (e *engine) admit(candidate, victim policy.Node) bool {
	cf := e.sketch.Estimate(candidate.Hash())
	vf := e.sketch.Estimate(victim.Hash())
	if cf > vf {
		return true
	}
	if cf <= admitThreshold {
		return false
	}
	return rand.Uint32()&127 == 0
}

// promote moves a probation node to protected and demotes protected
// overflow back to probation.
func (e *engine) promote(n policy.Node) {
	e.move(n, policy.Protected)
	for e.protectedWeight > e.protectedMax {
		lru := e.h.Front(policy.Protected)
		if lru == nil {
			break
		}
		e.move(lru, policy.Probation)
	}
}

func (e *engine) evictNode(n policy.Node, evict func(policy.Node)) {
	e.unlink(n)
	e.entries--
	evict(n)
}

func (e *engine) move(n policy.Node, to policy.Segment) {
	e.unlink(n)
	e.link(to, n)
}

func (e *engine) link(s policy.Segment, n policy.Node) {
	e.h.PushBack(s, n)
	*e.weight(s) += uint64(n.Weight())
}

func (e *engine) unlink(n policy.Node) {
	w := e.weight(n.Segment())
	e.h.Remove(n)
	*w -= uint64(n.Weight())
}

func (e *engine) weight(s policy.Segment) *uint64 {
	switch s {
	case policy.Window:
		return &e.windowWeight
	case policy.Probation:
		return &e.probationWeight
	case policy.Protected:
		return &e.protectedWeight
	default:
		panic(fmt.Sprintf("wtinylfu: node in segment %v", s))
	}
}
