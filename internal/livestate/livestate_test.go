package livestate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
)

const (
	testContract = "SP000000000000000000002Q6VF78.energize"
	alice        = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	bob          = "SP3K8BC0PPEVCV7NZ6QSRWPQ2JE9E5B6N3PA0KBR9"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeStats struct {
	mu          sync.Mutex
	rate        float64
	harvested   uint64
	err         error
	calls       int
	lastRefresh bool
}

func (f *fakeStats) UserStats(_ context.Context, _, address string, refresh bool) (energy.UserEnergyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastRefresh = refresh
	if f.err != nil {
		return energy.UserEnergyStats{}, f.err
	}
	return energy.UserEnergyStats{
		Address:              address,
		TotalEnergyHarvested: f.harvested,
		EstimatedEnergyRate:  f.rate,
		HasData:              true,
	}, nil
}

func (f *fakeStats) set(fn func(*fakeStats)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeStats) snapshot() (calls int, lastRefresh bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.lastRefresh
}

type fakeQuoter struct {
	mu      sync.Mutex
	units   uint64
	err     error
	calls   map[string]int
	gate    chan struct{}
	waiting chan struct{}
}

func newFakeQuoter(units uint64) *fakeQuoter {
	return &fakeQuoter{units: units, calls: make(map[string]int)}
}

func (f *fakeQuoter) PendingUnits(ctx context.Context, _, address string) (uint64, error) {
	f.mu.Lock()
	f.calls[address]++
	gate, waiting := f.gate, f.waiting
	f.gate, f.waiting = nil, nil
	f.mu.Unlock()

	if gate != nil {
		close(waiting)
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.units, nil
}

func (f *fakeQuoter) set(fn func(*fakeQuoter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeQuoter) callsFor(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

// holdNext makes the next quote request block until the returned release
// func is called. waiting is closed once that request is in flight.
func (f *fakeQuoter) holdNext() (waiting <-chan struct{}, release func()) {
	gate := make(chan struct{})
	w := make(chan struct{})
	f.set(func(f *fakeQuoter) { f.gate, f.waiting = gate, w })
	return w, func() { close(gate) }
}

func newTestClient(t *testing.T, stats StatsFetcher, quoter Quoter, reconcile time.Duration) *Client {
	t.Helper()
	c := New(Config{
		ContractID:     testContract,
		PollInterval:   10 * time.Millisecond,
		ReconcileDelay: reconcile,
		MinutesPerUnit: 10,
	}, stats, quoter)
	t.Cleanup(c.Close)
	return c
}

func waitForState(t *testing.T, c *Client, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().State == state }, waitFor, tick,
		"state never reached %s (last %s)", state, c.Snapshot().State)
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{}, &fakeStats{}, newFakeQuoter(0))

	assert.Equal(t, DefaultPollInterval, c.config.PollInterval)
	assert.Equal(t, DefaultReconcileDelay, c.config.ReconcileDelay)
	assert.Equal(t, float64(DefaultMinutesPerUnit), c.config.MinutesPerUnit)
	assert.Equal(t, StateIdle, c.Snapshot().State)
}

func TestBindLoadsAndProjects(t *testing.T) {
	stats := &fakeStats{rate: 1.5, harvested: 300}
	quoter := newFakeQuoter(4)
	c := newTestClient(t, stats, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)

	snap := c.Snapshot()
	assert.Equal(t, alice, snap.Address)
	assert.Equal(t, uint64(300), snap.Stats.TotalEnergyHarvested)
	assert.Equal(t, uint64(4), snap.PendingUnits)
	assert.InDelta(t, 4*10*1.5, snap.Projected, 1e-9)
	assert.Zero(t, snap.TapMarker)

	_, refresh := stats.snapshot()
	assert.False(t, refresh, "mount fetch should accept cached results")
}

func TestPollRefreshesOnlyTheQuote(t *testing.T) {
	stats := &fakeStats{rate: 2}
	quoter := newFakeQuoter(1)
	c := newTestClient(t, stats, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)

	quoter.set(func(f *fakeQuoter) { f.units = 7 })
	require.Eventually(t, func() bool { return c.Snapshot().PendingUnits == 7 }, waitFor, tick)

	assert.InDelta(t, 7*10*2.0, c.Snapshot().Projected, 1e-9)
	calls, _ := stats.snapshot()
	assert.Equal(t, 1, calls, "polls must not refetch accrual state")
	assert.Greater(t, quoter.callsFor(alice), 1)
}

func TestPollFailureKeepsDisplayedState(t *testing.T) {
	stats := &fakeStats{rate: 2}
	quoter := newFakeQuoter(3)
	c := newTestClient(t, stats, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)
	before := c.Snapshot()

	quoter.set(func(f *fakeQuoter) { f.err = errors.New("node unreachable") })
	failedFrom := quoter.callsFor(alice)
	require.Eventually(t, func() bool { return quoter.callsFor(alice) > failedFrom+2 }, waitFor, tick)

	after := c.Snapshot()
	assert.Contains(t, []State{StateReady, StatePolling}, after.State)
	assert.Equal(t, before.PendingUnits, after.PendingUnits)
	assert.Equal(t, before.Projected, after.Projected)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestInitialLoadFailureRetries(t *testing.T) {
	stats := &fakeStats{rate: 1, err: errors.New("api down")}
	quoter := newFakeQuoter(2)
	c := newTestClient(t, stats, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	require.Eventually(t, func() bool {
		calls, _ := stats.snapshot()
		return calls >= 2
	}, waitFor, tick)
	assert.Equal(t, StateLoading, c.Snapshot().State)

	stats.set(func(f *fakeStats) { f.err = nil })
	waitForState(t, c, StateReady)
	assert.Equal(t, uint64(2), c.Snapshot().PendingUnits)
}

func TestHarvestIsOptimisticThenReconciles(t *testing.T) {
	stats := &fakeStats{rate: 1.5, harvested: 100}
	quoter := newFakeQuoter(4)

	var mu sync.Mutex
	var seen []State
	c := New(Config{
		ContractID:     testContract,
		PollInterval:   10 * time.Millisecond,
		ReconcileDelay: 100 * time.Millisecond,
		MinutesPerUnit: 10,
	}, stats, quoter, WithOnChange(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	}))
	t.Cleanup(c.Close)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)
	projected := c.Snapshot().Projected
	require.NotZero(t, projected)

	// the server sees the harvest as settled on the next real fetch
	stats.set(func(f *fakeStats) { f.harvested = 160 })
	quoter.set(func(f *fakeQuoter) { f.units = 0 })

	require.NoError(t, c.Harvest())

	snap := c.Snapshot()
	assert.Equal(t, StateOptimistic, snap.State)
	assert.Zero(t, snap.PendingUnits)
	assert.Zero(t, snap.Projected)
	assert.Equal(t, projected, snap.TapMarker)
	assert.Equal(t, uint64(100), snap.Stats.TotalEnergyHarvested, "optimistic state keeps the old accrual figures")

	waitForState(t, c, StateReady)
	snap = c.Snapshot()
	assert.Equal(t, uint64(160), snap.Stats.TotalEnergyHarvested)
	assert.Zero(t, snap.TapMarker, "reconcile overwrites the optimistic marker")

	_, refresh := stats.snapshot()
	assert.True(t, refresh, "reconcile must bypass the result cache")

	mu.Lock()
	defer mu.Unlock()
	assert.Subset(t, seen, []State{StateLoading, StateReady, StateHarvesting, StateOptimistic})
}

func TestHarvestRequiresReadyState(t *testing.T) {
	stats := &fakeStats{err: errors.New("api down")}
	c := newTestClient(t, stats, newFakeQuoter(0), time.Hour)

	assert.ErrorIs(t, c.Harvest(), ErrNotReady)

	c.Bind(context.Background(), alice)
	assert.ErrorIs(t, c.Harvest(), ErrNotReady)
}

func TestStaleQuoteIsIgnoredAfterHarvest(t *testing.T) {
	stats := &fakeStats{rate: 1}
	quoter := newFakeQuoter(5)
	c := newTestClient(t, stats, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)

	waiting, release := quoter.holdNext()
	quoter.set(func(f *fakeQuoter) { f.units = 999 })
	<-waiting

	require.NoError(t, c.Harvest())
	release()

	// let the held poll complete and a few more ticks pass
	held := quoter.callsFor(alice)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, held, quoter.callsFor(alice), "no polls while optimistic")

	snap := c.Snapshot()
	assert.Equal(t, StateOptimistic, snap.State)
	assert.Zero(t, snap.PendingUnits)
}

func TestRebindCancelsPreviousLoop(t *testing.T) {
	stats := &fakeStats{rate: 1}
	quoter := newFakeQuoter(1)
	c := newTestClient(t, stats, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)

	c.Bind(context.Background(), bob)
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Address == bob && s.State == StateReady
	}, waitFor, tick)

	aliceCalls := quoter.callsFor(alice)
	require.Eventually(t, func() bool { return quoter.callsFor(bob) > 3 }, waitFor, tick)
	assert.Equal(t, aliceCalls, quoter.callsFor(alice))
}

func TestStaleLoadIsIgnoredAfterRebind(t *testing.T) {
	stats := &fakeStats{rate: 1}
	quoter := newFakeQuoter(1)
	c := newTestClient(t, stats, quoter, time.Hour)

	waiting, release := quoter.holdNext()
	c.Bind(context.Background(), alice)
	<-waiting

	c.Bind(context.Background(), bob)
	release()

	require.Eventually(t, func() bool { return c.Snapshot().State == StateReady }, waitFor, tick)
	assert.Equal(t, bob, c.Snapshot().Address)
}

func TestUnbindReturnsToIdle(t *testing.T) {
	quoter := newFakeQuoter(1)
	c := newTestClient(t, &fakeStats{rate: 1}, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)

	c.Bind(context.Background(), "")
	assert.Equal(t, StateIdle, c.Snapshot().State)
	assert.Empty(t, c.Snapshot().Address)

	calls := quoter.callsFor(alice)
	time.Sleep(50 * time.Millisecond)
	// at most one poll that was already in flight
	assert.LessOrEqual(t, quoter.callsFor(alice), calls+1)
}

func TestCloseStopsPolling(t *testing.T) {
	quoter := newFakeQuoter(1)
	c := newTestClient(t, &fakeStats{rate: 1}, quoter, time.Hour)

	c.Bind(context.Background(), alice)
	waitForState(t, c, StateReady)

	c.Close()
	calls := quoter.callsFor(alice)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, quoter.callsFor(alice))
}
