package cache

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
)

// benchmarkMix exercises a read/write mix against a warm cache.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
// String keys include strconv/concat costs and often allocate, which is fine
// for an end-to-end benchmark.
func benchmarkMix(b *testing.B, readsPct int) {
	c := MustNew[string, string](Options[string, string]{
		Capacity: 100_000,
	})
	b.Cleanup(func() { _ = c.Close() })

	// Preload half the capacity to get a realistic hit-rate.
	for i := 0; i < 50_000; i++ {
		k := "k:" + strconv.Itoa(i)
		c.Insert(k, "v")
	}
	c.RunPendingTasks()

	// Report per-op allocations for a rough idea where costs go.
	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 16) - 1 // hot keyspace (power of two for fast &-mask)

	b.RunParallel(func(pb *testing.PB) {
		// Independent RNG stream for each worker.
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := "k:" + strconv.Itoa(i&keyMask)
			if r.Intn(100) < readsPct {
				c.Get(k)
			} else {
				c.Insert(k, "v")
			}
			i++
		}
	})
}

func BenchmarkCache_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkCache_50r50w(b *testing.B) { benchmarkMix(b, 50) }

// benchmarkMixInt is the same workload but with int keys.
// This removes strconv/alloc noise and better exposes the cache hot path.
func benchmarkMixInt(b *testing.B, readsPct int) {
	c := MustNew[int, int](Options[int, int]{
		Capacity: 100_000,
	})
	b.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 50_000; i++ {
		c.Insert(i, 1)
	}
	c.RunPendingTasks()

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 16) - 1

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := i & keyMask
			if r.Intn(100) < readsPct {
				c.Get(k)
			} else {
				c.Insert(k, 1)
			}
			i++
		}
	})
}

func BenchmarkCache_IntKeys_90r10w(b *testing.B) { benchmarkMixInt(b, 90) }
func BenchmarkCache_IntKeys_50r50w(b *testing.B) { benchmarkMixInt(b, 50) }

// BenchmarkCache_ReadOnly measures the hit path alone: map lookup plus a
// lossy read-buffer offer.
func BenchmarkCache_ReadOnly(b *testing.B) {
	c := MustNew[int, int](Options[int, int]{Capacity: 1 << 16})
	b.Cleanup(func() { _ = c.Close() })
	for i := 0; i < 1<<16; i++ {
		c.Insert(i, i)
	}
	c.RunPendingTasks()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(i & (1<<16 - 1))
			i++
		}
	})
}
