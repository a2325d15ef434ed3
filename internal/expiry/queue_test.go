package expiry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	name     string
	deadline int64
	index    int
}

func newItem(name string) *item { return &item{name: name, index: -1} }

func (i *item) Deadline() int64     { return i.deadline }
func (i *item) SetDeadline(d int64) { i.deadline = d }
func (i *item) Index() int          { return i.index }
func (i *item) SetIndex(x int)      { i.index = x }

func names(its []*item) []string {
	out := make([]string, 0, len(its))
	for _, it := range its {
		out = append(out, it.name)
	}
	return out
}

func TestQueue_ReapInDeadlineOrder(t *testing.T) {
	t.Parallel()

	q := New[*item](4)
	a, b, c, d := newItem("a"), newItem("b"), newItem("c"), newItem("d")
	q.Track(c, 30)
	q.Track(a, 10)
	q.Track(d, 40)
	q.Track(b, 20)

	got := q.Reap(30)
	require.Equal(t, []string{"a", "b", "c"}, names(got))
	require.Equal(t, 1, q.Len())
	for _, it := range got {
		require.Equal(t, -1, it.Index(), "reaped items must be untracked")
	}

	next, ok := q.Peek()
	require.True(t, ok)
	require.EqualValues(t, 40, next)
}

func TestQueue_ReapNothingBeforeDeadline(t *testing.T) {
	t.Parallel()

	q := New[*item](0)
	q.Track(newItem("a"), 100)
	require.Empty(t, q.Reap(99))
	require.Len(t, q.Reap(100), 1)
}

// Refresh models a time-to-idle deadline being pushed back by a read.
func TestQueue_RefreshMovesDeadline(t *testing.T) {
	t.Parallel()

	q := New[*item](0)
	a, b := newItem("a"), newItem("b")
	q.Track(a, 10)
	q.Track(b, 20)
	q.Refresh(a, 50)

	require.Equal(t, []string{"b"}, names(q.Reap(30)))
	require.Equal(t, []string{"a"}, names(q.Reap(50)))
}

func TestQueue_RefreshIgnoresUntracked(t *testing.T) {
	t.Parallel()

	q := New[*item](0)
	a := newItem("a")
	q.Refresh(a, 10)
	require.Zero(t, q.Len())
	require.Equal(t, -1, a.Index())
}

func TestQueue_RemoveAndClear(t *testing.T) {
	t.Parallel()

	q := New[*item](0)
	a, b, c := newItem("a"), newItem("b"), newItem("c")
	q.Track(a, 1)
	q.Track(b, 2)
	q.Track(c, 3)

	q.Remove(b)
	q.Remove(b) // idempotent
	require.Equal(t, 2, q.Len())
	require.Equal(t, -1, b.Index())

	q.Clear()
	require.Zero(t, q.Len())
	require.Equal(t, -1, a.Index())
	require.Equal(t, -1, c.Index())
	_, ok := q.Peek()
	require.False(t, ok)
}
