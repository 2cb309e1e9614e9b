package cache

import (
	"context"
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask(id string) *types.Task {
	return &types.Task{ID: id, Path: "proj/" + id, Name: id, Status: types.StatusPending}
}

func TestCachePutGet(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.Put(testTask("t1"))

	got, ok := c.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)

	// Mutating the returned value must not alias the cached entry.
	got.Name = "mutated"
	got2, _ := c.Get("t1")
	assert.Equal(t, "t1", got2.Name)
}

func TestCacheMiss(t *testing.T) {
	c := New(DefaultConfig(), nil)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Millisecond
	c := New(cfg, nil)
	now := time.Now()
	c.clock = func() time.Time { return now }
	c.Put(testTask("t1"))

	c.clock = func() time.Time { return now.Add(time.Second) }
	_, ok := c.Get("t1")
	assert.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.Put(testTask("t1"))
	c.Invalidate("t1")
	_, ok := c.Get("t1")
	assert.False(t, ok)
}

func TestScaleAboveHighWater(t *testing.T) {
	assert.Equal(t, 0.0, scaleAboveHighWater(0.5, 0.7))
	assert.Equal(t, 0.0, scaleAboveHighWater(0.7, 0.7))
	assert.InDelta(t, 0.5, scaleAboveHighWater(0.85, 0.7), 0.01)
	assert.Equal(t, 1.0, scaleAboveHighWater(1.0, 0.7))
}

func TestMaybeReduceTriggersAboveHalfPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 10
	cfg.PressureHighWater = 0.6
	cfg.MemoryHighWater = 0.7
	c := New(cfg, nil)

	now := time.Now()
	for i := 0; i < 8; i++ {
		task := testTask(string(rune('a' + i)))
		c.Put(task)
	}
	// 8/10 = 0.8 cache fill (above 0.6 high water) combined with heap
	// usage above the 0.7 high water pushes combined pressure above
	// the 0.5 reduceTrigger.
	mem := MemStats{HeapUsed: 90, HeapTotal: 100}

	result := c.MaybeReduce(context.Background(), mem, "cache_fill", now)
	require.NotNil(t, result)
	assert.Greater(t, result.EntriesRemoved, 0)
	assert.Less(t, c.Len(), 8)
}

func TestMaybeReduceNoOpBelowTrigger(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.Put(testTask("t1"))
	result := c.MaybeReduce(context.Background(), MemStats{HeapUsed: 1, HeapTotal: 100}, "idle", time.Now())
	assert.Nil(t, result)
	assert.Equal(t, 1, c.Len())
}
