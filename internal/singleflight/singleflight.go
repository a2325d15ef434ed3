// Package singleflight coalesces concurrent loads of the same cache key.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// PanicError is returned to every caller of a flight whose fn panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("singleflight: loader panicked: %v", e.Value) }

// Group coalesces concurrent function calls for the same key K so that
// the supplied fn is executed at most once. Other concurrent callers
// wait for the shared result.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Cancelling ctx in a follower unblocks only that follower; it does
//     NOT cancel the leader's fn.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
	dups int
}

// Do runs fn once for the given key. Concurrent calls with the same key
// wait for the shared result. shared reports whether the result was handed
// to more than one caller. If ctx is cancelled in a follower, that follower
// returns ctx.Err() while the leader continues to run fn.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err(), false
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	g.run(key, c, fn)

	g.mu.Lock()
	shared = c.dups > 0
	g.mu.Unlock()
	return c.val, c.err, shared
}

// run executes fn, publishes its result and removes the in-flight marker.
// A panic in fn is published as *PanicError instead of unwinding the leader.
func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			c.val, c.err = zero, &PanicError{Value: r}
		}
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}

// Forget drops the in-flight marker for key. Callers arriving after Forget
// start a fresh flight instead of joining the current one. Used when the
// cache invalidates a key whose load is still running.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// ForgetAll drops every in-flight marker, as Forget does for one key.
func (g *Group[K, V]) ForgetAll() {
	g.mu.Lock()
	clear(g.m)
	g.mu.Unlock()
}
