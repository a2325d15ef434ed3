// Package policy defines the contract between the cache and its eviction
// engines.
//
// The cache owns the entries and the intrusive segment lists they sit in;
// an Engine decides which segment an entry belongs to, how it moves on
// access, and which entries leave when the cache is over capacity. Engines
// never touch the key/value map: they manipulate lists through Hooks and
// hand victims back to the cache through a callback.
//
// Concurrency: every Engine and Hooks method is invoked by the cache's
// maintenance pass while it holds the eviction lock. Implementations need
// no locking of their own.
package policy

// Segment names the list an entry is linked into.
type Segment uint8

const (
	// None means the entry is not linked into any list.
	None Segment = iota
	// Window is the admission window: new entries land here first.
	Window
	// Probation holds main-space entries that have not been hit since they
	// left the window (or were demoted).
	Probation
	// Protected holds main-space entries that were hit while in probation.
	Protected
)

func (s Segment) String() string {
	switch s {
	case None:
		return "none"
	case Window:
		return "window"
	case Probation:
		return "probation"
	case Protected:
		return "protected"
	default:
		return "unknown"
	}
}

// Node is the view of a cache entry an engine needs.
// Hash and Weight never change for the lifetime of an entry; an update
// replaces the entry with a new one.
type Node interface {
	Hash() uint64
	Weight() uint32
	// Segment reports where Hooks last linked the node.
	Segment() Segment
}

// Hooks expose O(1) list operations on the cache-owned segment lists.
// Each list runs from LRU (front) to MRU (back).
//
// Implementations must panic when asked to link a node that is already
// linked, or to unlink or reorder a node that is not linked: either means
// the engine's bookkeeping is corrupt.
type Hooks interface {
	// PushBack links n at the MRU end of segment s.
	PushBack(s Segment, n Node)
	// MoveToBack moves n to the MRU end of its current segment.
	MoveToBack(n Node)
	// Remove unlinks n from its segment.
	Remove(n Node)
	// Front returns the LRU node of segment s, or nil if it is empty.
	Front(s Segment) Node
	// Len returns the number of nodes linked into segment s.
	Len(s Segment) int
}

// Engine is a cache-wide eviction policy bound to one set of Hooks.
type Engine interface {
	// Add links a newly inserted node. It reports false when the node can
	// never fit (its weight exceeds the maximum); the node is then left
	// unlinked and the cache must evict it straight away.
	Add(n Node) bool
	// Access records a hit on n and reorders it. Unlinked nodes are ignored
	// so that a stale read event cannot resurrect a removed entry.
	Access(n Node)
	// Update replaces old by n, keeping old's position in the policy
	// where the engine supports that. Same return contract as Add.
	Update(n, old Node) bool
	// Remove unlinks n (explicit invalidation or expiration).
	// Unlinked nodes are ignored.
	Remove(n Node)
	// Evict removes nodes until the weighted size is within the maximum.
	// Each victim is unlinked before evict is called with it.
	Evict(evict func(Node))
	// WeightedSize returns the total weight of linked nodes.
	WeightedSize() uint64
	// Reset forgets every node and all frequency history. The cache clears
	// its own lists.
	Reset()
}

// Policy is a factory that binds an Engine to the cache's hooks and its
// maximum weighted size.
type Policy interface {
	New(h Hooks, maximum uint64) Engine
}
