package roster

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/singleflight"

	"rollcall/internal/fault"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// Loader fetches a fresh roster. The engine supplies one that wraps a
// Source with the retry and timeout policy.
type Loader func(ctx context.Context) ([]Entry, error)

// State is the freshness state of the cache.
type State string

const (
	StateCold    State = "cold"
	StateLoading State = "loading"
	StateFresh   State = "fresh"
	StateStale   State = "stale"
)

const reloadKey = "roster"

// Cache holds the last-loaded roster snapshot and reloads it on staleness.
//
// Design principles:
//   - Reads take an RLock and return the shared immutable *Snapshot.
//   - Concurrent reloads collapse into one upstream call (singleflight).
//   - A failed reload serves the previous snapshot if there is one.
//   - After a failed reload the stale snapshot is served without calling the
//     loader until the cooldown passes.
type Cache struct {
	mu         sync.RWMutex
	snapshot   *Snapshot
	generation uint64 // bumped by Invalidate
	freshGen   uint64 // generation the current snapshot satisfies
	loading    bool
	ttl        time.Duration
	clock      clock.Clock
	loader     Loader
	group      singleflight.Group
	logger     *logs.Logger
	metrics    *metrics.Registry
	onReload   func(time.Duration, error)
	cooldown   time.Duration
	retryAt    time.Time // no reload before this while serving stale
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) CacheOption {
	return func(c *Cache) {
		c.clock = clk
	}
}

// WithReloadObserver registers fn to be told the duration and outcome of
// every reload.
func WithReloadObserver(fn func(time.Duration, error)) CacheOption {
	return func(c *Cache) {
		c.onReload = fn
	}
}

// WithFailureCooldown sets how long a stale snapshot is served without
// another reload attempt after a reload fails. Zero retries on every Get.
func WithFailureCooldown(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.cooldown = d
	}
}

// NewCache creates an empty (cold) cache.
func NewCache(
	loader Loader,
	ttl time.Duration,
	logger *logs.Logger,
	reg *metrics.Registry,
	opts ...CacheOption,
) *Cache {
	c := &Cache{
		ttl:     ttl,
		clock:   clock.WallClock,
		loader:  loader,
		logger:  logger,
		metrics: reg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current snapshot, reloading first if it is stale,
// invalidated, or missing.
//
// Behavior on reload failure:
// - a previous snapshot exists: it is returned (stale-on-error)
// - no snapshot was ever loaded: *fault.ColdStartError
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap, fresh := c.snapshot, c.freshLocked()
	coolingDown := snap != nil && c.clock.Now().Before(c.retryAt)
	c.mu.RUnlock()

	if fresh {
		c.metrics.Inc(metrics.RosterCacheHitsTotal)
		return snap, nil
	}
	if coolingDown {
		c.metrics.Inc(metrics.RosterStaleServedTotal)
		return snap, nil
	}

	// The shared reload must outlive the caller that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(reloadKey, func() (any, error) {
		return c.reload(loadCtx)
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(*Snapshot), nil
		}
		return c.fallback(res.Err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fallback(err error) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()

	if snap == nil {
		return nil, &fault.ColdStartError{Err: err}
	}
	c.metrics.Inc(metrics.RosterStaleServedTotal)
	c.logger.Warn("serving stale roster after reload failure",
		"loaded_at", snap.LoadedAt().Format(time.RFC3339), "error", err)
	return snap, nil
}

func (c *Cache) reload(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	// Another flight may have finished between our read and DoChan.
	if c.freshLocked() {
		snap := c.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	gen := c.generation
	c.loading = true
	c.mu.Unlock()

	start := c.clock.Now()
	entries, err := c.loader(ctx)
	elapsed := c.clock.Now().Sub(start)
	if c.onReload != nil {
		c.onReload(elapsed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false

	c.metrics.Inc(metrics.RosterReloadsTotal)
	if err != nil {
		c.metrics.Inc(metrics.RosterReloadFailuresTotal)
		c.logger.Error("roster reload failed", "error", err)
		if c.snapshot != nil && c.cooldown > 0 {
			c.retryAt = c.clock.Now().Add(c.cooldown)
		}
		return nil, err
	}

	snap, dups := NewSnapshot(entries, c.clock.Now())
	for _, id := range dups {
		c.logger.Warn("duplicate roster id, keeping last name", "id", id)
	}
	c.snapshot = snap
	c.freshGen = gen
	c.retryAt = time.Time{}
	c.metrics.Set(metrics.RosterEntries, int64(snap.Len()))
	c.logger.Info("roster reloaded", "entries", snap.Len(), "took", elapsed.String())
	return snap, nil
}

// Invalidate forces the next Get to reload regardless of TTL or cooldown.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.retryAt = time.Time{}
}

// Merge adds entries whose id is not yet in the snapshot without a reload.
// It returns the ids that were added. Merging into a cold cache is a no-op.
func (c *Cache) Merge(entries []Entry) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil || len(entries) == 0 {
		return nil
	}
	snap, added := c.snapshot.withEntries(entries)
	if len(added) == 0 {
		return nil
	}
	c.snapshot = snap
	c.metrics.Set(metrics.RosterEntries, int64(snap.Len()))
	return added
}

// State reports the cache freshness state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.loading:
		return StateLoading
	case c.snapshot == nil:
		return StateCold
	case c.freshLocked():
		return StateFresh
	default:
		return StateStale
	}
}

// Peek returns the current snapshot without triggering a reload.
func (c *Cache) Peek() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Cache) freshLocked() bool {
	return c.snapshot != nil &&
		c.freshGen == c.generation &&
		!c.snapshot.IsStale(c.clock.Now(), c.ttl)
}
