package parallel_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/CZERTAINLY/checkpar/internal/parallel"
	"github.com/stretchr/testify/require"
)

// slice is a Source over a slice
type slice[T any] struct {
	mx    sync.Mutex
	items []T
}

func newSlice[T any](items ...T) *slice[T] {
	return &slice[T]{items: items}
}

func (s *slice[T]) Next() (T, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	x := s.items[0]
	s.items = s.items[1:]
	return x, true
}

func (s *slice[T]) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.items)
}

func collect[T any](ch <-chan T) []T {
	var ret []T
	for x := range ch {
		ret = append(ret, x)
	}
	return ret
}

func TestPool(t *testing.T) {
	t.Parallel()

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

	type then struct {
		workers int
		elapsed time.Duration
	}
	var testCases = []struct {
		scenario string
		given    int
		then     then
	}{
		{"limit 1", 1, then{1, 18 * time.Second}},
		{"limit 2", 2, then{2, 12 * time.Second}},
		{"limit 4", 4, then{4, 10 * time.Second}},
		{"limit 10 caps at jobs", 10, then{4, 10 * time.Second}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				var active, peak atomic.Int32
				f := func(_ context.Context, d time.Duration) time.Duration {
					n := active.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(d)
					active.Add(-1)
					return d
				}

				start := time.Now()
				pool := parallel.NewPool(tt.given, f)
				got := collect(pool.Run(t.Context(), newSlice(input...)))
				<-pool.Done()

				require.ElementsMatch(t, input, got)
				require.Equal(t, tt.then.workers, pool.Workers())
				require.Equal(t, int32(tt.then.workers), peak.Load())
				require.Equal(t, tt.then.elapsed, time.Since(start))
			})
		})
	}
}

func TestPool_Empty(t *testing.T) {
	t.Parallel()
	pool := parallel.NewPool(4, func(_ context.Context, x int) int { return x })
	got := collect(pool.Run(t.Context(), newSlice[int]()))
	<-pool.Done()
	require.Empty(t, got)
	require.Zero(t, pool.Workers())
}

func TestPool_OnStart(t *testing.T) {
	t.Parallel()
	var mx sync.Mutex
	var started []int
	pool := parallel.NewPool(3, func(_ context.Context, x int) int { return x * 2 }).
		OnStart(func(x int) {
			mx.Lock()
			started = append(started, x)
			mx.Unlock()
		})
	got := collect(pool.Run(t.Context(), newSlice(1, 2, 3, 4, 5)))
	require.ElementsMatch(t, []int{2, 4, 6, 8, 10}, got)
	require.ElementsMatch(t, []int{1, 2, 3, 4, 5}, started)
}

func TestPool_OnPanic(t *testing.T) {
	t.Parallel()
	f := func(_ context.Context, x int) string {
		if x == 2 {
			panic("boom")
		}
		return "ok"
	}
	pool := parallel.NewPool(2, f).OnPanic(func(x int, r any) string {
		return "panic: " + r.(string)
	})
	got := collect(pool.Run(t.Context(), newSlice(1, 2, 3)))
	require.ElementsMatch(t, []string{"ok", "panic: boom", "ok"}, got)
}

func TestPool_Cancel(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		f := func(ctx context.Context, d time.Duration) time.Duration {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
			return d
		}
		time.AfterFunc(1500*time.Millisecond, cancel)

		start := time.Now()
		pool := parallel.NewPool(1, f)
		got := collect(pool.Run(ctx, newSlice(time.Second, time.Second, time.Second, time.Second)))
		// the second element was in flight when cancelled, nothing else is dequeued
		require.Len(t, got, 2)
		require.Equal(t, 1500*time.Millisecond, time.Since(start))
	})
}

func TestPool_Spawn(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		f := func(_ context.Context, x string) string {
			if x == "stuck" {
				<-release
			}
			return x
		}
		pool := parallel.NewPool(1, f)
		mapped := pool.Run(t.Context(), newSlice("stuck", "b", "c"))
		synctest.Wait()
		require.Equal(t, 1, pool.Workers())

		require.True(t, pool.Spawn())
		require.Equal(t, "b", <-mapped)
		require.Equal(t, "c", <-mapped)
		require.Equal(t, 2, pool.Workers())

		close(release)
		require.Equal(t, "stuck", <-mapped)
		_, ok := <-mapped
		require.False(t, ok)
		<-pool.Done()
		require.False(t, pool.Spawn())
	})
}
