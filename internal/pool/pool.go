// Package pool implements the bounded connection pool over durable-store
// handles: acquire/release, idle eviction, and a
// FIFO wait-queue with timeout.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// poolMeter is the OTel meter for pool occupancy gauges. It uses the
// global provider, a no-op until telemetry.Init runs.
var poolMeter = otel.Meter("github.com/atlasengine/atlas/pool")

// Handle is anything the pool can open, health-check, and close — in
// production this wraps a walstore.Backend; tests use a fake.
type Handle interface {
	Healthy(ctx context.Context) bool
	Close() error
}

// Factory creates a new Handle on demand (e.g. walstore.Open).
type Factory func(ctx context.Context) (Handle, error)

// Config holds the pool sizing and timeout knobs.
type Config struct {
	MinSize           int
	MaxSize           int
	AcquireTimeout    time.Duration
	IdleTimeout       time.Duration
	MaxWaitingClients int
}

// DefaultConfig returns the stock pool sizing.
func DefaultConfig() Config {
	return Config{
		MinSize:           1,
		MaxSize:           10,
		AcquireTimeout:    5 * time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxWaitingClients: 100,
	}
}

type pooledHandle struct {
	handle    Handle
	lastUsed  time.Time
	idleSince time.Time
}

// Stats exposes active/idle/waiting counts for the otel gauges.
type Stats struct {
	Active  int
	Idle    int
	Waiting int
}

// Pool is a bounded, FIFO-fair pool of Handles.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	factory Factory

	idle    []*pooledHandle
	active  int
	waiting int
	closed  bool

	waiters chan *waitTicket

	stopIdle chan struct{}

	gaugeReg metric.Registration
}

type acquireResult struct {
	handle Handle
	err    error
}

// waitTicket is one queued waiter. state arbitrates the race between a
// Release delivering a handle and the waiter abandoning the wait on
// timeout/cancellation: exactly one side wins the CAS from pending, so
// a handle is either delivered to a live waiter or kept by the pool —
// never sent into a ticket nobody will read.
type waitTicket struct {
	ch    chan acquireResult // buffered(1); written at most once, by the CAS winner's peer
	state int32
}

const (
	ticketPending int32 = iota
	ticketDelivered
	ticketAbandoned
)

// New creates a pool and starts its idle-eviction ticker. The pool is
// pre-warmed to MinSize handles.
func New(ctx context.Context, cfg Config, factory Factory) (*Pool, error) {
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		waiters:  make(chan *waitTicket, cfg.MaxWaitingClients),
		stopIdle: make(chan struct{}),
	}
	for i := 0; i < cfg.MinSize; i++ {
		h, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("pool: prewarm: %w", err)
		}
		p.idle = append(p.idle, &pooledHandle{handle: h, lastUsed: time.Now(), idleSince: time.Now()})
	}
	go p.idleEvictionLoop()
	p.registerGauges()
	return p, nil
}

// registerGauges installs async gauges reporting active/idle/waiting
// occupancy. A
// registration failure is non-fatal — the pool works identically
// without observability wired up.
func (p *Pool) registerGauges() {
	activeGauge, err1 := poolMeter.Int64ObservableGauge("atlas.pool.active",
		metric.WithDescription("durable-store handles currently checked out"))
	idleGauge, err2 := poolMeter.Int64ObservableGauge("atlas.pool.idle",
		metric.WithDescription("durable-store handles idle in the pool"))
	waitingGauge, err3 := poolMeter.Int64ObservableGauge("atlas.pool.waiting",
		metric.WithDescription("callers queued waiting for a handle"))
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	reg, err := poolMeter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := p.Stats()
		o.ObserveInt64(activeGauge, int64(s.Active))
		o.ObserveInt64(idleGauge, int64(s.Idle))
		o.ObserveInt64(waitingGauge, int64(s.Waiting))
		return nil
	}, activeGauge, idleGauge, waitingGauge)
	if err == nil {
		p.gaugeReg = reg
	}
}

// Acquire returns a healthy handle, waiting up to cfg.AcquireTimeout
// (or ctx's own deadline, whichever is tighter) for one to become
// available. Waiters past MaxWaitingClients fail immediately with
// ErrPoolExhausted — no queueing beyond that bound.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: closed")
	}

	for len(p.idle) > 0 {
		ph := p.idle[0]
		p.idle = p.idle[1:]
		if !ph.handle.Healthy(ctx) {
			_ = ph.handle.Close()
			continue
		}
		p.active++
		p.mu.Unlock()
		return ph.handle, nil
	}

	if p.active < p.cfg.MaxSize {
		p.active++
		p.mu.Unlock()
		h, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: create: %w", err)
		}
		return h, nil
	}

	if p.waiting >= p.cfg.MaxWaitingClients {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	p.waiting++
	ticket := &waitTicket{ch: make(chan acquireResult, 1)}
	p.mu.Unlock()

	timeout := p.cfg.AcquireTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.waiters <- ticket:
		select {
		case res := <-ticket.ch:
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			return res.handle, res.err
		case <-timer.C:
			return p.abandonWait(ticket, ErrTimeout)
		case <-ctx.Done():
			return p.abandonWait(ticket, ctx.Err())
		}
	case <-timer.C:
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
		return nil, ErrTimeout
	case <-ctx.Done():
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// abandonWait gives up a queued ticket. If Release already claimed it,
// the handle is in flight and about to land in ticket.ch — take it and
// return success rather than leaking it; the deadline losing that race
// by a hair is indistinguishable from the handle arriving in time.
func (p *Pool) abandonWait(ticket *waitTicket, cause error) (Handle, error) {
	p.mu.Lock()
	p.waiting--
	p.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&ticket.state, ticketPending, ticketAbandoned) {
		res := <-ticket.ch
		return res.handle, res.err
	}
	return nil, cause
}

// Release returns a handle to the pool. If a live waiter is queued,
// the handle is handed directly to the oldest one (FIFO fairness)
// instead of being placed on the idle list. Tickets whose waiters
// already abandoned the wait (timeout, cancellation) are skipped, so a
// handle is never sent into a ticket nobody reads.
func (p *Pool) Release(h Handle) {
	for {
		select {
		case ticket := <-p.waiters:
			if atomic.CompareAndSwapInt32(&ticket.state, ticketPending, ticketDelivered) {
				ticket.ch <- acquireResult{handle: h}
				return
			}
			continue
		default:
		}
		break
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.closed {
		_ = h.Close()
		return
	}
	p.idle = append(p.idle, &pooledHandle{handle: h, lastUsed: time.Now(), idleSince: time.Now()})
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.active, Idle: len(p.idle), Waiting: p.waiting}
}

// idleEvictionLoop closes idle handles beyond IdleTimeout, down to
// MinSize, on a coarse interval.
func (p *Pool) idleEvictionLoop() {
	interval := p.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopIdle:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	kept := p.idle[:0]
	for _, ph := range p.idle {
		if len(kept)+p.active < p.cfg.MinSize || now.Sub(ph.idleSince) < p.cfg.IdleTimeout {
			kept = append(kept, ph)
			continue
		}
		_ = ph.handle.Close()
	}
	p.idle = kept
}

// Close shuts down the pool, closing every idle handle and stopping
// the eviction loop. In-flight acquired handles are closed as they're
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	reg := p.gaugeReg
	p.gaugeReg = nil
	p.mu.Unlock()

	if reg != nil {
		_ = reg.Unregister()
	}
	close(p.stopIdle)
	var firstErr error
	for _, ph := range idle {
		if err := ph.handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
