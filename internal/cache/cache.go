// Package cache implements the in-memory hot-entry cache:
// TTL expiry, LRU-by-last-access, and pressure-driven
// reduction under memory or cache-fill pressure.
package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/types"
)

// cacheMeter is the OTel meter for cache occupancy gauges, deferred
// against the global provider the same way internal/pool registers
// its gauges.
var cacheMeter = otel.Meter("github.com/atlasengine/atlas/cache")

// Config holds the cache tuning knobs.
type Config struct {
	MaxEntries        int
	MaxBytes          int64
	TTL               time.Duration
	CleanupInterval   time.Duration
	MemoryHighWater   float64 // default 0.7
	PressureHighWater float64 // default 0.6
}

// DefaultConfig returns the stock cache tuning.
func DefaultConfig() Config {
	return Config{
		MaxEntries:        10_000,
		MaxBytes:          64 << 20,
		TTL:               5 * time.Minute,
		CleanupInterval:   30 * time.Second,
		MemoryHighWater:   0.7,
		PressureHighWater: 0.6,
	}
}

type entry struct {
	value      *types.Task
	expiresAt  time.Time
	lastAccess time.Time
	sizeHint   int64
}

// MemStats is the subset of runtime memory stats the pressure
// calculation consults; production code supplies runtime.MemStats
// fields, tests supply a fixed fake.
type MemStats struct {
	HeapUsed  uint64
	HeapTotal uint64
}

// Cache is the bounded, pressure-aware hot-entry cache.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	bus     *eventbus.Bus
	clock   func() time.Time

	gaugeReg metric.Registration
}

// New creates a Cache. A nil bus disables event emission (tests may
// pass nil when they don't care about reduction events).
func New(cfg Config, bus *eventbus.Bus) *Cache {
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		bus:     bus,
		clock:   time.Now,
	}
	c.registerGauges()
	return c
}

// registerGauges installs an async gauge reporting cache entry count.
// A registration failure is non-fatal.
func (c *Cache) registerGauges() {
	sizeGauge, err := cacheMeter.Int64ObservableGauge("atlas.cache.entries",
		metric.WithDescription("entries currently held in the hot-entry cache"))
	if err != nil {
		return
	}
	reg, err := cacheMeter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(sizeGauge, int64(c.Len()))
		return nil
	}, sizeGauge)
	if err == nil {
		c.gaugeReg = reg
	}
}

// Get returns the cached task for id if present and unexpired,
// touching last-access. A miss returns (nil, false) and the caller is
// expected to load-then-Put.
func (c *Cache) Get(id string) (*types.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	now := c.clock()
	if now.After(e.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}
	e.lastAccess = now
	return e.value.Clone(), true
}

// Put inserts or replaces the cached entry for task.ID. The cache
// stores its own clone rather than aliasing the caller's pointer.
func (c *Cache) Put(task *types.Task) {
	if task == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.entries[task.ID] = &entry{
		value:      task.Clone(),
		expiresAt:  now.Add(c.cfg.TTL),
		lastAccess: now,
		sizeHint:   sizeHintFor(task),
	}
}

// Invalidate drops the cached entry for id, if present. Called on
// commit (never before) and conservatively on a failed
// transaction for every id it might have mutated.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// InvalidateAll drops every entry in ids.
func (c *Cache) InvalidateAll(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
}

// Close releases the cache's registered gauge callback. Safe to call
// on a Cache that was never started via StartCleanup.
func (c *Cache) Close() error {
	c.mu.Lock()
	reg := c.gaugeReg
	c.gaugeReg = nil
	c.mu.Unlock()
	if reg != nil {
		return reg.Unregister()
	}
	return nil
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sizeHintFor approximates a task's heap footprint for size reporting;
// the cache enforces no byte bound. Exactness does not matter, only
// monotonic growth with note content.
func sizeHintFor(t *types.Task) int64 {
	n := int64(len(t.Name) + len(t.Description) + len(t.Reasoning))
	for _, notes := range [][]types.Note{t.PlanningNotes, t.ProgressNotes, t.CompletionNotes, t.TroubleshootingNotes} {
		for _, note := range notes {
			n += int64(len(note.Text))
		}
	}
	return n + 256 // fixed overhead per entry
}

// CleanupExpired removes every entry whose TTL has elapsed. Called by
// the background sweep on CleanupInterval.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	removed := 0
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// StartCleanup launches the background TTL sweep; stop() must be
// called to release the ticker goroutine.
func (c *Cache) StartCleanup() (stop func()) {
	if c.cfg.CleanupInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.CleanupExpired()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
