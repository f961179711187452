package livestate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
)

type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StatePolling    State = "polling"
	StateHarvesting State = "harvesting"
	StateOptimistic State = "optimistic"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultReconcileDelay = 10 * time.Second
	DefaultMinutesPerUnit = 10
)

// ErrNotReady is returned by Harvest when no settled position is bound.
var ErrNotReady = errors.New("live estimate is not ready")

// StatsFetcher returns the last-known accrual state of an address.
type StatsFetcher interface {
	UserStats(ctx context.Context, contractID, address string, refresh bool) (energy.UserEnergyStats, error)
}

// Quoter returns the units an address has accrued since its last harvest.
type Quoter interface {
	PendingUnits(ctx context.Context, contractID, address string) (uint64, error)
}

type Config struct {
	ContractID     string
	PollInterval   time.Duration
	ReconcileDelay time.Duration
	// MinutesPerUnit converts one pending unit (a block) into holding minutes.
	MinutesPerUnit float64
}

// Snapshot is the displayed estimate of one position.
type Snapshot struct {
	State        State                  `json:"state"`
	Address      string                 `json:"address"`
	Stats        energy.UserEnergyStats `json:"stats"`
	PendingUnits uint64                 `json:"pendingUnits"`
	// Projected is pendingUnits × minutesPerUnit × estimatedEnergyRate.
	Projected float64 `json:"projected"`
	// TapMarker holds the projected value at the moment of an optimistic
	// harvest. Any real fetch resets it.
	TapMarker float64   `json:"tapMarker"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Client keeps a projected reward estimate fresh for one bound address
// between full recomputations. Server results are only applied when no
// newer state change happened while they were in flight.
type Client struct {
	config   Config
	stats    StatsFetcher
	quoter   Quoter
	now      func() time.Time
	onChange func(Snapshot)
	log      *slog.Logger

	mu          sync.Mutex
	snap        Snapshot
	session     uint64 // bumped on every Bind
	epoch       uint64 // bumped on every applied state change
	reconcileAt time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type Option func(*Client)

// WithClock overrides time.Now for UpdatedAt stamps and reconcile scheduling.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithOnChange registers a callback invoked after every published state
// change. It runs outside the client's lock and may call Snapshot.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Client) { c.onChange = fn }
}

func New(config Config, stats StatsFetcher, quoter Quoter, opts ...Option) *Client {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ReconcileDelay <= 0 {
		config.ReconcileDelay = DefaultReconcileDelay
	}
	if config.MinutesPerUnit <= 0 {
		config.MinutesPerUnit = DefaultMinutesPerUnit
	}

	c := &Client{
		config: config,
		stats:  stats,
		quoter: quoter,
		now:    time.Now,
		log:    logger.GetLogger("live-estimate"),
		snap:   Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Bind starts tracking address, cancelling the loop of any previously bound
// address. An empty address unbinds and returns the client to idle.
func (c *Client) Bind(ctx context.Context, address string) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.session++
	c.epoch++
	session := c.session

	if address == "" {
		c.snap = Snapshot{State: StateIdle, UpdatedAt: c.now()}
		snap := c.snap
		c.mu.Unlock()
		c.publish(snap)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.ctx, c.cancel = loopCtx, cancel
	c.snap = Snapshot{State: StateLoading, Address: address, UpdatedAt: c.now()}
	snap := c.snap
	c.mu.Unlock()
	c.publish(snap)

	c.wg.Add(1)
	go c.run(loopCtx, session)
}

// Close stops the background loop and waits for in-flight work to finish.
func (c *Client) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.session++
	c.mu.Unlock()
	c.wg.Wait()
}

// Harvest records a user-initiated harvest. The pending estimate is zeroed
// at once and the tap marker pinned to the current projection. A full fetch
// after ReconcileDelay replaces this optimistic state.
func (c *Client) Harvest() error {
	c.mu.Lock()
	if c.snap.State != StateReady && c.snap.State != StatePolling {
		c.mu.Unlock()
		return ErrNotReady
	}
	session := c.session
	ctx := c.ctx
	c.epoch++
	c.snap.State = StateHarvesting
	snap := c.snap
	c.mu.Unlock()
	c.publish(snap)

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	c.snap.TapMarker = c.snap.Projected
	c.snap.PendingUnits = 0
	c.snap.Projected = 0
	c.snap.State = StateOptimistic
	c.snap.UpdatedAt = c.now()
	c.reconcileAt = c.snap.UpdatedAt.Add(c.config.ReconcileDelay)
	snap = c.snap
	c.mu.Unlock()
	c.publish(snap)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.config.ReconcileDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.load(ctx, session, true)
	}()
	return nil
}

func (c *Client) run(ctx context.Context, session uint64) {
	defer c.wg.Done()

	c.load(ctx, session, false)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, session)
		}
	}
}

func (c *Client) tick(ctx context.Context, session uint64) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	state := c.snap.State
	overdue := state == StateOptimistic && !c.now().Before(c.reconcileAt)
	c.mu.Unlock()

	switch {
	case state == StateLoading:
		c.load(ctx, session, false)
	case overdue:
		// the scheduled reconcile failed; keep trying
		c.load(ctx, session, true)
	case state == StateReady:
		c.poll(ctx, session)
	}
}

// load runs the full fetch: accrual state plus pending quote. On success it
// replaces the whole snapshot.
func (c *Client) load(ctx context.Context, session uint64, refresh bool) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	address := c.snap.Address
	c.mu.Unlock()

	stats, err := c.stats.UserStats(ctx, c.config.ContractID, address, refresh)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("Could not fetch accrual state", "address", address, "refresh", refresh, "error", err)
		}
		return
	}
	units, err := c.quoter.PendingUnits(ctx, c.config.ContractID, address)
	if err != nil {
		if ctx.Err() == nil {
			metrics.QuotePollFailures.Inc()
			c.log.Warn("Could not fetch pending units", "address", address, "error", err)
		}
		return
	}

	c.mu.Lock()
	if c.session != session || c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("Discarding stale fetch", "address", address)
		return
	}
	c.epoch++
	c.snap = Snapshot{
		State:        StateReady,
		Address:      address,
		Stats:        stats,
		PendingUnits: units,
		Projected:    c.project(units, stats.EstimatedEnergyRate),
		UpdatedAt:    c.now(),
	}
	snap := c.snap
	c.mu.Unlock()
	c.publish(snap)
}

// poll refreshes only the pending quote. Failures leave the displayed state
// untouched.
func (c *Client) poll(ctx context.Context, session uint64) {
	c.mu.Lock()
	if c.session != session || c.snap.State != StateReady {
		c.mu.Unlock()
		return
	}
	c.snap.State = StatePolling
	epoch := c.epoch
	address := c.snap.Address
	c.mu.Unlock()

	units, err := c.quoter.PendingUnits(ctx, c.config.ContractID, address)

	c.mu.Lock()
	if c.session != session || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.snap.State = StateReady
	if err != nil {
		c.mu.Unlock()
		if ctx.Err() == nil {
			metrics.QuotePollFailures.Inc()
			c.log.Debug("Pending units poll failed", "address", address, "error", err)
		}
		return
	}

	c.epoch++
	c.snap.PendingUnits = units
	c.snap.Projected = c.project(units, c.snap.Stats.EstimatedEnergyRate)
	c.snap.UpdatedAt = c.now()
	snap := c.snap
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Client) project(units uint64, rate float64) float64 {
	return float64(units) * c.config.MinutesPerUnit * rate
}

func (c *Client) publish(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}
