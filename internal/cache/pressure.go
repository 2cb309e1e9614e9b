package cache

import (
	"context"
	"sort"
	"time"

	"github.com/atlasengine/atlas/internal/eventbus"
)

// Pressure weights and thresholds:
//
//	total = 0.6 * mem_pressure + 0.4 * cache_pressure
//
// above 0.5 the cache reduces until the score falls below 0.3 or 50%
// of entries are gone, whichever comes first.
const (
	memWeight       = 0.6
	cacheWeight     = 0.4
	reduceTrigger   = 0.5
	reduceStopScore = 0.3
	reduceStopFrac  = 0.5
)

// Score computes the combined pressure in [0,1] from the current
// heap reading and cache fill ratio.
func (c *Cache) Score(mem MemStats) float64 {
	c.mu.Lock()
	entryCount := len(c.entries)
	maxEntries := c.cfg.MaxEntries
	memHW := c.cfg.MemoryHighWater
	cacheHW := c.cfg.PressureHighWater
	c.mu.Unlock()

	memPressure := scaleAboveHighWater(heapFraction(mem), memHW)
	cachePressure := scaleAboveHighWater(cacheFraction(entryCount, maxEntries), cacheHW)
	return memWeight*memPressure + cacheWeight*cachePressure
}

func heapFraction(m MemStats) float64 {
	if m.HeapTotal == 0 {
		return 0
	}
	return float64(m.HeapUsed) / float64(m.HeapTotal)
}

func cacheFraction(entryCount, maxEntries int) float64 {
	if maxEntries <= 0 {
		return 0
	}
	return float64(entryCount) / float64(maxEntries)
}

// scaleAboveHighWater maps [highWater, 1.0] linearly onto [0,1],
// clamping below highWater to 0 and above 1.0 to 1.
func scaleAboveHighWater(fraction, highWater float64) float64 {
	if fraction <= highWater {
		return 0
	}
	if highWater >= 1.0 {
		return 1.0
	}
	score := (fraction - highWater) / (1.0 - highWater)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ReductionResult is the payload the cache publishes for each
// pressure reduction pass.
type ReductionResult struct {
	EntriesRemoved int
	BytesSaved     int64
	Trigger        string
	ScoreBefore    float64
	ScoreAfter     float64
}

// MaybeReduce computes the current pressure score and, if it is at or
// above reduceTrigger, evicts oldest-by-last-access entries until the
// score falls below reduceStopScore or half the entries are gone,
// whichever comes first. It recomputes cache_pressure (but not
// mem_pressure, which does not change as the cache shrinks within one
// call) after each removal.
func (c *Cache) MaybeReduce(ctx context.Context, mem MemStats, trigger string, now time.Time) *ReductionResult {
	score := c.Score(mem)
	if score < reduceTrigger {
		return nil
	}

	c.mu.Lock()
	startCount := len(c.entries)
	type item struct {
		id       string
		lastUsed time.Time
		size     int64
	}
	items := make([]item, 0, startCount)
	for id, e := range c.entries {
		items = append(items, item{id: id, lastUsed: e.lastAccess, size: e.sizeHint})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].lastUsed.Before(items[j].lastUsed) })

	memHW := c.cfg.MemoryHighWater
	cacheHW := c.cfg.PressureHighWater
	maxEntries := c.cfg.MaxEntries
	memPressure := scaleAboveHighWater(heapFraction(mem), memHW)

	removed := 0
	var bytesSaved int64
	minRemaining := startCount - startCount/2 // stop once >= 50% gone

	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		current := memWeight*memPressure + cacheWeight*scaleAboveHighWater(cacheFraction(len(c.entries), maxEntries), cacheHW)
		if current < reduceStopScore || len(c.entries) <= minRemaining {
			break
		}
		if e, ok := c.entries[it.id]; ok {
			bytesSaved += e.sizeHint
			delete(c.entries, it.id)
			removed++
		}
	}
	finalScore := memWeight*memPressure + cacheWeight*scaleAboveHighWater(cacheFraction(len(c.entries), maxEntries), cacheHW)
	c.mu.Unlock()

	result := &ReductionResult{
		EntriesRemoved: removed,
		BytesSaved:     bytesSaved,
		Trigger:        trigger,
		ScoreBefore:    score,
		ScoreAfter:     finalScore,
	}
	if c.bus != nil && removed > 0 {
		c.bus.Dispatch(ctx, &eventbus.Event{
			Type:      eventbus.EventCacheReduction,
			Timestamp: now,
			Payload: map[string]any{
				"entries_removed": removed,
				"bytes_saved":     bytesSaved,
				"trigger":         trigger,
			},
		})
	}
	return result
}
