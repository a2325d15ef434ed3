package singleflight

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestGroup_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	var eg errgroup.Group
	eg.Go(func() error {
		v, err, _ := g.Do(context.Background(), "k", func() (int, error) {
			calls.Add(1)
			close(started)
			<-release
			return 42, nil
		})
		if err != nil {
			return err
		}
		if v != 42 {
			return errors.New("leader got unexpected value")
		}
		return nil
	})
	<-started

	const followers = 8
	var joined atomic.Int32
	for i := 0; i < followers; i++ {
		eg.Go(func() error {
			v, err, shared := g.Do(context.Background(), "k", func() (int, error) {
				calls.Add(1)
				return -1, nil
			})
			if err != nil {
				return err
			}
			if shared {
				joined.Add(1)
			}
			if v != 42 && v != -1 {
				return errors.New("unexpected value")
			}
			return nil
		})
	}
	// Give followers a moment to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, eg.Wait())

	require.GreaterOrEqual(t, int(joined.Load()), 1)
	require.LessOrEqual(t, int(calls.Load()), 1+followers-int(joined.Load()))
}

func TestGroup_FollowerContextCancel(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err, shared := g.Do(ctx, "k", func() (int, error) { return 2, nil })
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, shared)

	close(release)
	<-done
}

func TestGroup_PanicBecomesError(t *testing.T) {
	t.Parallel()

	var g Group[int, string]
	_, err, _ := g.Do(context.Background(), 7, func() (string, error) {
		panic("boom")
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "boom", pe.Value)

	// The key is usable again after the panic.
	v, err, _ := g.Do(context.Background(), 7, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestGroup_ForgetStartsFreshFlight(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	g.Forget("k")
	v, err, shared := g.Do(context.Background(), "k", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.False(t, shared)

	close(release)
	<-done
}

func TestGroup_ForgetAllStartsFreshFlights(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var eg errgroup.Group

	for _, k := range []string{"a", "b"} {
		eg.Go(func() error {
			_, err, _ := g.Do(context.Background(), k, func() (int, error) {
				started <- struct{}{}
				<-release
				return 1, nil
			})
			return err
		})
	}
	<-started
	<-started

	g.ForgetAll()
	for _, k := range []string{"a", "b"} {
		v, err, shared := g.Do(context.Background(), k, func() (int, error) { return 2, nil })
		require.NoError(t, err)
		require.Equal(t, 2, v)
		require.False(t, shared)
	}

	close(release)
	require.NoError(t, eg.Wait())
}
