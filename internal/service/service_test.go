package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/cache"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/source"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func u64(v uint64) *uint64 { return &v }
func i64(v int64) *int64    { return &v }

// fakeSource serves a fixed log and counts fetches.
type fakeSource struct {
	logs  []energy.HarvestLogEntry
	err   error
	calls atomic.Int32
}

func (f *fakeSource) FetchHarvestLogs(context.Context, string) ([]energy.HarvestLogEntry, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]energy.HarvestLogEntry(nil), f.logs...), nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, cache.ErrStoreUnavailable
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return cache.ErrStoreUnavailable
}

func exampleLog() []energy.HarvestLogEntry {
	return []energy.HarvestLogEntry{
		{Sender: "A", Energy: u64(10), Integral: u64(100), BlockHeight: i64(1), BlockTime: i64(1000), TxID: "0x1"},
		{Sender: "A", Energy: u64(20), Integral: u64(200), BlockHeight: i64(2), BlockTime: i64(1600), TxID: "0x2"},
		{Sender: "B", Energy: u64(1440), Integral: u64(2880), BlockHeight: i64(3), TxID: "0x3"},
		{Sender: "", Energy: u64(99), TxID: "0x4"},
	}
}

func newTestService(t *testing.T, src source.Source, store cache.Store) *Service {
	t.Helper()
	if store == nil {
		memory, err := cache.NewMemoryStore(64, func() time.Time { return testNow })
		require.NoError(t, err)
		store = memory
	}
	resultCache, err := cache.NewResultCache(store, cache.DefaultTTL, true)
	require.NoError(t, err)
	t.Cleanup(resultCache.Close)

	agg := energy.NewAggregator(energy.DefaultConfig(), func() time.Time { return testNow })
	return NewService(src, resultCache, agg)
}

func TestUserStatsEndToEnd(t *testing.T) {
	src := &fakeSource{logs: exampleLog()}
	svc := newTestService(t, src, nil)

	res, err := svc.UserStats(context.Background(), "SP1.token", "A", false)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	stats := res.Data
	assert.Equal(t, "A", stats.Address)
	assert.Equal(t, uint64(30), stats.TotalEnergyHarvested)
	assert.Equal(t, uint64(300), stats.TotalIntegralCalculated)
	assert.Equal(t, 2, stats.HarvestCount)
	assert.Equal(t, 15.0, stats.AverageEnergyPerHarvest)
	assert.Equal(t, 3.0, stats.EstimatedEnergyRate)
	assert.Equal(t, 30.0, stats.EstimatedIntegralRate)
	assert.True(t, stats.HasData)
	require.Len(t, stats.HarvestHistory, 2)
	// block times of 1970 fall outside the validity window and resolve to now
	assert.Equal(t, testNow.UnixMilli(), stats.LastHarvestTimestamp)
}

func TestUserStatsCacheIdempotence(t *testing.T) {
	src := &fakeSource{logs: exampleLog()}
	svc := newTestService(t, src, nil)
	ctx := context.Background()

	first, err := svc.UserStats(ctx, "SP1.token", "A", false)
	require.NoError(t, err)
	second, err := svc.UserStats(ctx, "SP1.token", "A", false)
	require.NoError(t, err)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 1, src.calls.Load())

	// a different address is a different key
	_, err = svc.UserStats(ctx, "SP1.token", "B", false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestSystemStatsRefreshAlwaysRecomputes(t *testing.T) {
	src := &fakeSource{logs: exampleLog()}
	svc := newTestService(t, src, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.SystemStats(ctx, "SP1.token", true)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
	}
	assert.EqualValues(t, 3, src.calls.Load())

	cached, err := svc.SystemStats(ctx, "SP1.token", false)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.EqualValues(t, 3, src.calls.Load())

	stats := cached.Data.Stats
	assert.Equal(t, uint64(1470), stats.TotalEnergyHarvested)
	assert.Equal(t, 2, stats.UniqueUsers)
	assert.True(t, testNow.Equal(stats.LastUpdated))
	require.Len(t, cached.Data.Rates.TopUserRates, 2)
	assert.Equal(t, "A", cached.Data.Rates.TopUserRates[0].Address)
}

func TestEmptyUserIsCachedNotAnError(t *testing.T) {
	src := &fakeSource{logs: exampleLog()}
	svc := newTestService(t, src, nil)
	ctx := context.Background()

	res, err := svc.UserStats(ctx, "SP1.token", "nobody", false)
	require.NoError(t, err)
	assert.False(t, res.Data.HasData)
	assert.Zero(t, res.Data.TotalEnergyHarvested)
	assert.NotNil(t, res.Data.HarvestHistory)

	again, err := svc.UserStats(ctx, "SP1.token", "nobody", false)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.False(t, again.Data.HasData)
}

func TestUpstreamFailureIsNotCached(t *testing.T) {
	src := &fakeSource{err: errors.Join(source.ErrUpstream, errors.New("connection refused"))}
	svc := newTestService(t, src, nil)
	ctx := context.Background()

	_, err := svc.SystemStats(ctx, "SP1.token", false)
	require.ErrorIs(t, err, source.ErrUpstream)

	src.err = nil
	src.logs = exampleLog()
	res, err := svc.SystemStats(ctx, "SP1.token", false)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestUnavailableCacheAlwaysComputes(t *testing.T) {
	src := &fakeSource{logs: exampleLog()}
	svc := newTestService(t, src, brokenStore{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.UserStats(ctx, "SP1.token", "A", false)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Equal(t, uint64(30), res.Data.TotalEnergyHarvested)
	}
	assert.EqualValues(t, 3, src.calls.Load())
}

func TestInvalidArguments(t *testing.T) {
	src := &fakeSource{}
	svc := newTestService(t, src, nil)
	ctx := context.Background()

	_, err := svc.UserStats(ctx, "SP1.token", "  ", false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.UserStats(ctx, "", "A", false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.SystemStats(ctx, "", false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Zero(t, src.calls.Load())
}

func TestAggregatorConfig(t *testing.T) {
	config := internal.Config{
		TopUsersLimit:        5,
		RateFallbackMinutes:  720,
		DailyBucketMinutes:   60,
		DailyBucketCount:     24,
		WeeklyBucketMinutes:  1440,
		WeeklyBucketCount:    7,
		MonthlyBucketMinutes: 4320,
		MonthlyBucketCount:   10,
	}

	got := AggregatorConfig(config)
	assert.Equal(t, 5, got.TopUsers)
	assert.Equal(t, 720.0, got.FallbackMinutes)
	assert.Equal(t, energy.DefaultConfig().Daily, got.Daily)
	assert.Equal(t, energy.DefaultConfig().Weekly, got.Weekly)
	assert.Equal(t, energy.DefaultConfig().Monthly, got.Monthly)
}
