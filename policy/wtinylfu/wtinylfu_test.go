package wtinylfu

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/tinycache/internal/util"
	"github.com/IvanBrykalov/tinycache/policy"
)

// --- test doubles ---

type testNode struct {
	name   string
	hash   uint64
	weight uint32
	seg    policy.Segment
}

func node(name string, weight uint32) *testNode {
	return &testNode{name: name, hash: util.Hash(name), weight: weight}
}

func (n *testNode) Hash() uint64            { return n.hash }
func (n *testNode) Weight() uint32          { return n.weight }
func (n *testNode) Segment() policy.Segment { return n.seg }

// listHooks keeps one slice per segment, LRU first.
type listHooks struct {
	lists map[policy.Segment][]*testNode
}

func newHooks() *listHooks {
	return &listHooks{lists: make(map[policy.Segment][]*testNode)}
}

func (h *listHooks) PushBack(s policy.Segment, x policy.Node) {
	n := x.(*testNode)
	if n.seg != policy.None {
		panic("already linked")
	}
	n.seg = s
	h.lists[s] = append(h.lists[s], n)
}

func (h *listHooks) MoveToBack(x policy.Node) {
	n := x.(*testNode)
	s := n.seg
	h.Remove(n)
	h.PushBack(s, n)
}

func (h *listHooks) Remove(x policy.Node) {
	n := x.(*testNode)
	l := h.lists[n.seg]
	i := slices.Index(l, n)
	if i < 0 {
		panic("not linked")
	}
	h.lists[n.seg] = slices.Delete(l, i, i+1)
	n.seg = policy.None
}

func (h *listHooks) Front(s policy.Segment) policy.Node {
	if l := h.lists[s]; len(l) > 0 {
		return l[0]
	}
	return nil
}

func (h *listHooks) Len(s policy.Segment) int { return len(h.lists[s]) }

func (h *listHooks) names(s policy.Segment) []string {
	var out []string
	for _, n := range h.lists[s] {
		out = append(out, n.name)
	}
	return out
}

func bind(t *testing.T, maximum uint64) (*engine, *listHooks) {
	t.Helper()
	h := newHooks()
	return Default().New(h, maximum).(*engine), h
}

func collect(victims *[]string) func(policy.Node) {
	return func(n policy.Node) { *victims = append(*victims, n.(*testNode).name) }
}

// --- tests ---

func TestNew_RejectsBadRatios(t *testing.T) {
	t.Parallel()

	_, err := New(Config{WindowRatio: 1.5})
	require.ErrorIs(t, err, ErrInvalidRatio)
	_, err = New(Config{ProtectedRatio: -0.1})
	require.ErrorIs(t, err, ErrInvalidRatio)

	p, err := New(Config{})
	require.NoError(t, err)
	e := p.New(newHooks(), 100).(*engine)
	require.EqualValues(t, 1, e.windowMax)
	require.EqualValues(t, 79, e.protectedMax)
}

func TestEngine_AddLandsInWindow(t *testing.T) {
	t.Parallel()

	e, h := bind(t, 10)
	a := node("a", 1)
	require.True(t, e.Add(a))
	require.Equal(t, policy.Window, a.seg)
	require.EqualValues(t, 1, e.WeightedSize())
	require.Equal(t, []string{"a"}, h.names(policy.Window))
}

func TestEngine_OversizedNodeIsRejected(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 10)
	big := node("big", 11)
	require.False(t, e.Add(big))
	require.Equal(t, policy.None, big.seg)
	require.Zero(t, e.WeightedSize())
}

func TestEngine_WindowOverflowMovesToProbation(t *testing.T) {
	t.Parallel()

	e, h := bind(t, 10)
	for _, k := range []string{"a", "b", "c"} {
		e.Add(node(k, 1))
	}
	var victims []string
	e.Evict(collect(&victims))

	require.Empty(t, victims)
	require.Equal(t, []string{"c"}, h.names(policy.Window))
	require.Equal(t, []string{"a", "b"}, h.names(policy.Probation))
}

func TestEngine_ProbationHitPromotes(t *testing.T) {
	t.Parallel()

	e, h := bind(t, 100)
	a, b := node("a", 1), node("b", 1)
	e.Add(a)
	e.Add(b)
	e.Evict(func(policy.Node) { t.Fatal("nothing should be evicted") })
	require.Equal(t, policy.Probation, a.seg)

	e.Access(a)
	require.Equal(t, policy.Protected, a.seg)
	require.Equal(t, []string{"a"}, h.names(policy.Protected))
}

// With a tiny protected segment, a promotion demotes the protected LRU.
func TestEngine_ProtectedOverflowDemotes(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 4) // window 1, main 3, protected 2
	nodes := []*testNode{node("a", 1), node("b", 1), node("c", 1), node("d", 1)}
	for _, n := range nodes {
		e.Add(n)
	}
	e.Evict(func(policy.Node) {})
	a, b, c := nodes[0], nodes[1], nodes[2]
	e.Access(a)
	e.Access(b)
	e.Access(c)

	require.Equal(t, policy.Probation, a.seg, "oldest protected entry is demoted")
	require.Equal(t, policy.Protected, b.seg)
	require.Equal(t, policy.Protected, c.seg)
	require.LessOrEqual(t, e.protectedWeight, e.protectedMax)
}

// A frequently read entry survives a newcomer competing for its slot.
func TestEngine_FrequencyWinsAdmission(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 2)
	a, b, c := node("a", 1), node("b", 1), node("c", 1)
	e.Add(a)
	e.Add(b)
	e.Evict(func(policy.Node) {})
	for i := 0; i < 20; i++ {
		e.Access(a)
	}
	e.Add(c)

	var victims []string
	e.Evict(collect(&victims))
	require.Equal(t, []string{"b"}, victims)
	require.NotEqual(t, policy.None, a.seg)
	require.NotEqual(t, policy.None, c.seg)
	require.EqualValues(t, 2, e.WeightedSize())
}

// A one-hit newcomer loses against a main-space entry with history.
func TestEngine_ColdCandidateIsRejected(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 2)
	a, b := node("a", 1), node("b", 1)
	e.Add(a)
	e.Add(b)
	e.Evict(func(policy.Node) {})
	e.Access(a)
	e.Access(a)
	e.Access(b) // b is in the window

	c := node("c", 1)
	e.Add(c)
	var victims []string
	e.Evict(collect(&victims))
	require.Equal(t, []string{"b"}, victims, "b (freq 2) loses to a (freq 3)")
	require.Equal(t, policy.Window, c.seg)
}

func TestEngine_UpdateKeepsSegmentAndReweighs(t *testing.T) {
	t.Parallel()

	e, h := bind(t, 100)
	a, b := node("a", 1), node("b", 1)
	e.Add(a)
	e.Add(b)
	e.Evict(func(policy.Node) {})
	require.Equal(t, policy.Probation, a.seg)

	a2 := node("a", 5)
	require.True(t, e.Update(a2, a))
	require.Equal(t, policy.None, a.seg)
	require.Equal(t, policy.Protected, a2.seg, "an update counts as a hit")
	require.EqualValues(t, 6, e.WeightedSize())
	require.Equal(t, 1, h.Len(policy.Protected))

	// Updating an entry that was never linked behaves like Add.
	x, x2 := node("x", 1), node("x", 1)
	require.True(t, e.Update(x2, x))
	require.Equal(t, policy.Window, x2.seg)
}

func TestEngine_RemoveAndStaleAccess(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 10)
	a := node("a", 3)
	e.Add(a)
	e.Remove(a)
	require.Zero(t, e.WeightedSize())
	require.Equal(t, policy.None, a.seg)

	// Stale events after removal are ignored.
	e.Access(a)
	e.Remove(a)
	require.Equal(t, policy.None, a.seg)
}

func TestEngine_WeightedEvictionPrefersMainLRU(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 10)
	a, b := node("a", 4), node("b", 4)
	e.Add(a)
	e.Add(b)
	e.Evict(func(policy.Node) {})

	c := node("c", 6)
	e.Add(c)
	var victims []string
	e.Evict(collect(&victims))
	require.LessOrEqual(t, e.WeightedSize(), uint64(10))
	require.NotEmpty(t, victims)
}

func TestEngine_Reset(t *testing.T) {
	t.Parallel()

	e, _ := bind(t, 10)
	a := node("a", 1)
	e.Add(a)
	e.Access(a)
	e.Reset()
	require.Zero(t, e.WeightedSize())
	require.Zero(t, e.sketch.Estimate(a.hash))
}

func TestSegment_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "window", policy.Window.String())
	require.Equal(t, "probation", policy.Probation.String())
	require.Equal(t, "protected", policy.Protected.String())
	require.Equal(t, "none", policy.None.String())
}

// Ties keep the victim, except that a warm candidate (estimate above 5)
// is let in about 1 time in 128 even when it is not hotter.
func TestEngine_AdmitTieBreak(t *testing.T) {
	t.Parallel()

	const trials = 4096
	admitted := func(e *engine, cand, victim *testNode, candHits, victimHits int) int {
		e.sketch.Reset()
		for i := 0; i < candHits; i++ {
			e.sketch.Increment(cand.hash)
		}
		for i := 0; i < victimHits; i++ {
			e.sketch.Increment(victim.hash)
		}
		require.EqualValues(t, candHits, e.sketch.Estimate(cand.hash))
		require.EqualValues(t, victimHits, e.sketch.Estimate(victim.hash))
		n := 0
		for i := 0; i < trials; i++ {
			if e.admit(cand, victim) {
				n++
			}
		}
		return n
	}

	e, _ := bind(t, 1024)
	cand, victim := node("candidate", 1), node("victim", 1)

	require.Zero(t, admitted(e, cand, victim, 3, 3), "cold ties always keep the victim")
	require.Zero(t, admitted(e, cand, victim, 2, 9), "a cold loser is never admitted")
	require.Equal(t, trials, admitted(e, cand, victim, 9, 3), "a hotter candidate always wins")

	warmTie := admitted(e, cand, victim, 8, 8)
	require.Greater(t, warmTie, 0, "a warm tie must occasionally admit the candidate")
	require.Less(t, warmTie, trials/16, "random admission must stay rare")

	warmLoser := admitted(e, cand, victim, 7, 12)
	require.Greater(t, warmLoser, 0, "a warm loser must occasionally be admitted")
	require.Less(t, warmLoser, trials/16)
}
