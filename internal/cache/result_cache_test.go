package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/energy-stats-indexer/pkg/utils"
)

type payload struct {
	Total uint64   `json:"total"`
	Items []string `json:"items"`
}

// failingStore rejects every operation.
type failingStore struct {
	gets, sets atomic.Int32
}

func (s *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	s.gets.Add(1)
	return nil, false, ErrStoreUnavailable
}

func (s *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	s.sets.Add(1)
	return ErrStoreUnavailable
}

func newTestCache(t *testing.T, store Store, compression bool) *ResultCache {
	t.Helper()
	c, err := NewResultCache(store, time.Minute, compression)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newMemory(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(16, nil)
	require.NoError(t, err)
	return store
}

func TestFetch(t *testing.T) {
	for _, compression := range []bool{false, true} {
		name := "plain"
		if compression {
			name = "zstd"
		}

		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newMemory(t)
			c := newTestCache(t, store, compression)
			key := SystemKey("SP1.token")

			var calls int
			compute := func(context.Context) (payload, error) {
				calls++
				return payload{Total: 42, Items: []string{"a", "b"}}, nil
			}

			first, fromCache, err := Fetch(ctx, c, key, false, compute)
			require.NoError(t, err)
			assert.False(t, fromCache)

			second, fromCache, err := Fetch(ctx, c, key, false, compute)
			require.NoError(t, err)
			assert.True(t, fromCache)
			assert.Equal(t, first, second)
			assert.Equal(t, 1, calls, "a hit must not recompute")

			raw, ok, err := store.Get(ctx, key.String())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, compression, utils.IsCompressed(raw))
		})
	}
}

func TestFetchRefreshAlwaysRecomputes(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newMemory(t), true)
	key := UserKey("SP1.token", "SPA")

	var calls uint64
	compute := func(context.Context) (payload, error) {
		calls++
		return payload{Total: calls}, nil
	}

	for i := 1; i <= 3; i++ {
		got, fromCache, err := Fetch(ctx, c, key, true, compute)
		require.NoError(t, err)
		assert.False(t, fromCache)
		assert.Equal(t, uint64(i), got.Total)
	}

	// the last refresh overwrote the stored entry
	got, fromCache, err := Fetch(ctx, c, key, false, compute)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, uint64(3), got.Total)
}

func TestFetchComputeErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	c := newTestCache(t, store, false)
	key := SystemKey("SP1.token")
	upstream := errors.New("upstream down")

	_, _, err := Fetch(ctx, c, key, false, func(context.Context) (payload, error) {
		return payload{}, upstream
	})
	require.ErrorIs(t, err, upstream)
	assert.Equal(t, 0, store.Len())

	got, fromCache, err := Fetch(ctx, c, key, false, func(context.Context) (payload, error) {
		return payload{Total: 7}, nil
	})
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, uint64(7), got.Total)
}

func TestFetchUnavailableStoreAlwaysComputes(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	c := newTestCache(t, store, false)
	key := SystemKey("SP1.token")

	var calls int
	for i := 0; i < 3; i++ {
		got, fromCache, err := Fetch(ctx, c, key, false, func(context.Context) (payload, error) {
			calls++
			return payload{Total: 1}, nil
		})
		require.NoError(t, err)
		assert.False(t, fromCache)
		assert.Equal(t, uint64(1), got.Total)
	}

	assert.Equal(t, 3, calls)
	assert.EqualValues(t, 3, store.gets.Load())
	assert.EqualValues(t, 3, store.sets.Load())
}

func TestFetchCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	c := newTestCache(t, store, false)
	key := SystemKey("SP1.token")

	require.NoError(t, store.Set(ctx, key.String(), []byte("{not json"), time.Minute))

	got, fromCache, err := Fetch(ctx, c, key, false, func(context.Context) (payload, error) {
		return payload{Total: 9}, nil
	})
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, uint64(9), got.Total)
}

func TestFetchConcurrentMissesShareOneComputation(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newMemory(t), false)
	key := SystemKey("SP1.token")

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (payload, error) {
		calls.Add(1)
		<-release
		return payload{Total: 5}, nil
	}

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	results := make([]payload, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			got, _, err := Fetch(ctx, c, key, false, compute)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	started.Wait()
	// give every caller time to join the in-flight computation
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
	for _, r := range results {
		assert.Equal(t, uint64(5), r.Total)
	}
}

func TestFetchCancelledCallerDoesNotFailSharers(t *testing.T) {
	c := newTestCache(t, newMemory(t), false)
	key := SystemKey("SP1.token")

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	computeErr := make(chan error, 2)
	compute := func(ctx context.Context) (payload, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		computeErr <- ctx.Err()
		return payload{Total: 7}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := Fetch(leaderCtx, c, key, false, compute)
		leaderErr <- err
	}()
	<-entered

	type outcome struct {
		got payload
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		got, _, err := Fetch(context.Background(), c, key, false, compute)
		follower <- outcome{got, err}
	}()
	// let the second caller join the in-flight computation
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared computation")
	}

	close(release)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		assert.Equal(t, uint64(7), res.got.Total)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never received the shared result")
	}
	assert.NoError(t, <-computeErr, "computation must not see the caller's cancellation")

	got, fromCache, err := Fetch(context.Background(), c, key, false, compute)
	require.NoError(t, err)
	assert.True(t, fromCache, "shared result is cached despite the cancellation")
	assert.Equal(t, uint64(7), got.Total)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
