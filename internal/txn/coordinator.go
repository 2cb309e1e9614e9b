// Package txn implements the transaction coordinator and rollback
// manager: begin/execute/commit/rollback
// across the index set and the durable store, atomic or best-effort
// modes, per-operation result capture, and retrying compensation on
// partial failure. The coordinator manages the in-memory index set
// alongside the WAL-backed durable store instead of a single SQL
// transaction.
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasengine/atlas/internal/cache"
	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/types"
	"github.com/atlasengine/atlas/internal/walstore"
)

// txnTracer opens a span per commit/rollback. Deferred against the
// global provider like the sibling packages' otel.Meter/otel.Tracer
// calls.
var txnTracer = otel.Tracer("github.com/atlasengine/atlas/txn")

func endSpan(span trace.Span, err *types.Error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
	}
	span.End()
}

// Mode selects how many indexes participate in atomicity.
type Mode string

const (
	// ModeAtomic requires every index to succeed for the transaction
	// to be returned as successful; failures compensate.
	ModeAtomic Mode = "atomic"
	// ModeBestEffort applies only to the primary index; used for
	// high-throughput paths that accept eventual reindexing.
	ModeBestEffort Mode = "best_effort"
)

// appliedStep is one already-applied index mutation, carrying its own
// undo closure so Rollback can compensate without re-deriving intent,
// and a verify closure the rollback manager's post-rollback validation
// pass uses to re-read the index and confirm undo actually
// restored the pre-step state. verify is nil for steps with nothing
// further to check beyond undo's own return value.
type appliedStep struct {
	label  string
	undo   func(now time.Time) error
	verify func() error
}

// Coordinator manages one transaction's lifetime over an index.Set, a
// durable walstore.Backend, and the cache/bus that observe commits.
type Coordinator struct {
	mu    sync.Mutex
	state types.TransactionState
	mode  Mode

	store   walstore.Backend
	indexes *index.Set
	cache   *cache.Cache
	bus     *eventbus.Bus
	clock   func() time.Time

	rollbackMgr *RollbackManager

	applied []appliedStep
	batch   []walstore.BatchOp
	results []types.OperationResult
	touched map[string]bool
}

// New constructs a Coordinator. A nil cache/bus is tolerated (no
// invalidation/events emitted) for tests that only exercise the
// index/store interaction.
func New(store walstore.Backend, indexes *index.Set, c *cache.Cache, bus *eventbus.Bus, mode Mode, rollbackMgr *RollbackManager) *Coordinator {
	if mode == "" {
		mode = ModeAtomic
	}
	return &Coordinator{
		state:       types.TxnIdle,
		mode:        mode,
		store:       store,
		indexes:     indexes,
		cache:       c,
		bus:         bus,
		clock:       time.Now,
		rollbackMgr: rollbackMgr,
	}
}

// State returns the coordinator's current lifecycle state.
func (c *Coordinator) State() types.TransactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin starts a new transaction. Fails if one is already active.
func (c *Coordinator) Begin(ctx context.Context) *types.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.TxnActive {
		return types.NewError(types.ErrTransactionAlreadyActive, "txn.begin", "a transaction is already active", c.clock())
	}
	c.state = types.TxnActive
	c.applied = nil
	c.batch = nil
	c.results = nil
	c.touched = make(map[string]bool)
	return nil
}

// Execute validates and applies op to the durable store batch and
// (per c.mode) to each index, recording a per-operation result. Index
// order is other indexes first, primary last,
// so that a primary-index failure (the least likely,
// since it's the uniqueness authority) leaves the smallest possible
// compensation surface, and rollback unwinds in the reverse order.
func (c *Coordinator) Execute(ctx context.Context, op Op) types.OperationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.results)
	if c.state != types.TxnActive {
		res := types.OperationResult{Index: idx, Success: false, Error: types.NewError(types.ErrNoActiveTransaction, "txn.execute", "no active transaction", c.clock())}
		c.results = append(c.results, res)
		return res
	}

	now := c.clock()
	var opErr *types.Error

	switch op.Kind {
	case OpUpsertTask:
		opErr = c.executeUpsertTask(op.Task, now)
	case OpDeleteTask:
		opErr = c.executeDeleteTask(op.Task, now)
	case OpAddDependency:
		opErr = c.executeAddDependency(*op.Dependency, now)
	case OpRemoveDependency:
		opErr = c.executeRemoveDependency(*op.Dependency, now)
	default:
		opErr = types.NewError(types.ErrInternal, "txn.execute", fmt.Sprintf("unknown op kind %q", op.Kind), now)
	}

	if opErr == nil {
		if durable, err := durableOpsFor(op); err == nil {
			c.batch = append(c.batch, durable...)
		} else {
			c.compensate(now)
			opErr = types.NewError(types.ErrInternal, "txn.execute", err.Error(), now)
		}
	}
	res := types.OperationResult{Index: idx, Success: opErr == nil, Error: opErr}
	c.results = append(c.results, res)
	return res
}

func (c *Coordinator) executeUpsertTask(task *types.Task, now time.Time) *types.Error {
	prior, hadPrior := c.indexes.Primary.GetByID(task.ID)

	if c.mode == ModeAtomic {
		statusRes := c.indexes.Status.Upsert(task.ID, task.Status, now)
		if !statusRes.Success {
			return statusRes.Error
		}
		c.applied = append(c.applied, appliedStep{
			label: "status:" + task.ID,
			undo: func(now time.Time) error {
				if hadPrior {
					c.indexes.Status.Upsert(task.ID, prior.Status, now)
				} else {
					c.indexes.Status.Delete(task.ID, now)
				}
				return nil
			},
			verify: func() error {
				got, found := c.indexes.Status.Get(task.ID)
				if !hadPrior {
					if found {
						return fmt.Errorf("status:%s: expected no entry, found %q", task.ID, got)
					}
					return nil
				}
				if !found || got != prior.Status {
					return fmt.Errorf("status:%s: expected %q, found %q (present=%v)", task.ID, prior.Status, got, found)
				}
				return nil
			},
		})

		hierRes := c.indexes.Hierarchy.Upsert(task, now)
		if !hierRes.Success {
			c.compensate(now)
			return hierRes.Error
		}
		c.applied = append(c.applied, appliedStep{
			label: "hierarchy:" + task.ID,
			undo: func(now time.Time) error {
				if hadPrior {
					c.indexes.Hierarchy.Upsert(prior, now)
				} else {
					c.indexes.Hierarchy.Delete(task.ID, now)
				}
				return nil
			},
			verify: func() error {
				parentID, _, _, found := c.indexes.Hierarchy.Get(task.ID)
				if !hadPrior {
					if found {
						return fmt.Errorf("hierarchy:%s: expected no entry, found parent %q", task.ID, parentID)
					}
					return nil
				}
				var wantParentID string
				if prior.ParentPath != "" {
					if parent, ok := c.indexes.Primary.GetByPath(prior.ParentPath); ok {
						wantParentID = parent.ID
					}
				}
				if !found || parentID != wantParentID {
					return fmt.Errorf("hierarchy:%s: expected parent %q, found %q (present=%v)", task.ID, wantParentID, parentID, found)
				}
				return nil
			},
		})
	}

	primRes := c.indexes.Primary.Upsert(task, now)
	if !primRes.Success {
		c.compensate(now)
		return primRes.Error
	}
	c.applied = append(c.applied, appliedStep{
		label: "primary:" + task.ID,
		undo: func(now time.Time) error {
			if hadPrior {
				c.indexes.Primary.Upsert(prior, now)
			} else {
				c.indexes.Primary.Delete(task.ID, now)
			}
			return nil
		},
		verify: func() error {
			got, found := c.indexes.Primary.GetByID(task.ID)
			if !hadPrior {
				if found {
					return fmt.Errorf("primary:%s: expected no entry, found path %q", task.ID, got.Path)
				}
				return nil
			}
			if !found || got.Path != prior.Path || got.Status != prior.Status {
				return fmt.Errorf("primary:%s: expected path %q status %q, found present=%v", task.ID, prior.Path, prior.Status, found)
			}
			return nil
		},
	})
	c.touched[task.ID] = true
	return nil
}

// executeDeleteTask mirrors executeUpsertTask's mode gating: in
// ModeBestEffort only the primary index participates, so a task
// deleted under that mode leaves stale dependency/hierarchy/status
// entries behind for a later reindex rather than failing the op.
func (c *Coordinator) executeDeleteTask(task *types.Task, now time.Time) *types.Error {
	if c.mode == ModeAtomic {
		removedDeps := c.indexes.Dependency.RemoveAllFor(task.Path)
		c.applied = append(c.applied, appliedStep{
			label: "deps:" + task.ID,
			undo: func(now time.Time) error {
				for _, e := range removedDeps {
					c.indexes.Dependency.Add(e, now)
				}
				return nil
			},
			verify: func() error {
				for _, e := range removedDeps {
					found := false
					for _, target := range c.indexes.Dependency.Outgoing(e.Source) {
						if target == e.Target {
							found = true
							break
						}
					}
					if !found {
						return fmt.Errorf("deps:%s: expected edge %s->%s restored, not found", task.ID, e.Source, e.Target)
					}
				}
				return nil
			},
		})

		hierRes := c.indexes.Hierarchy.Delete(task.ID, now)
		if hierRes.Success {
			c.applied = append(c.applied, appliedStep{
				label: "hierarchy:" + task.ID,
				undo: func(now time.Time) error {
					c.indexes.Hierarchy.Upsert(task, now)
					return nil
				},
				verify: func() error {
					if _, _, _, found := c.indexes.Hierarchy.Get(task.ID); !found {
						return fmt.Errorf("hierarchy:%s: expected entry restored, not found", task.ID)
					}
					return nil
				},
			})
		}

		statusRes := c.indexes.Status.Delete(task.ID, now)
		if statusRes.Success {
			c.applied = append(c.applied, appliedStep{
				label: "status:" + task.ID,
				undo: func(now time.Time) error {
					c.indexes.Status.Upsert(task.ID, task.Status, now)
					return nil
				},
				verify: func() error {
					got, found := c.indexes.Status.Get(task.ID)
					if !found || got != task.Status {
						return fmt.Errorf("status:%s: expected %q restored, found %q (present=%v)", task.ID, task.Status, got, found)
					}
					return nil
				},
			})
		}
	}

	primRes := c.indexes.Primary.Delete(task.ID, now)
	if !primRes.Success {
		c.compensate(now)
		return primRes.Error
	}
	c.applied = append(c.applied, appliedStep{
		label: "primary:" + task.ID,
		undo: func(now time.Time) error {
			c.indexes.Primary.Upsert(task, now)
			return nil
		},
		verify: func() error {
			got, found := c.indexes.Primary.GetByID(task.ID)
			if !found || got.Path != task.Path {
				return fmt.Errorf("primary:%s: expected path %q restored, present=%v", task.ID, task.Path, found)
			}
			return nil
		},
	})
	c.touched[task.ID] = true
	return nil
}

func (c *Coordinator) executeAddDependency(edge types.Dependency, now time.Time) *types.Error {
	res := c.indexes.Dependency.Add(edge, now)
	if !res.Success {
		return res.Error
	}
	c.applied = append(c.applied, appliedStep{
		label: "dep:" + edge.Source + "->" + edge.Target,
		undo: func(now time.Time) error {
			c.indexes.Dependency.Remove(edge.Source, edge.Target, now)
			return nil
		},
		verify: func() error {
			if dependencyEdgeExists(c.indexes.Dependency, edge.Source, edge.Target) {
				return fmt.Errorf("dep:%s->%s: expected removed, still present", edge.Source, edge.Target)
			}
			return nil
		},
	})
	return nil
}

func (c *Coordinator) executeRemoveDependency(edge types.Dependency, now time.Time) *types.Error {
	res := c.indexes.Dependency.Remove(edge.Source, edge.Target, now)
	if !res.Success {
		return res.Error
	}
	c.applied = append(c.applied, appliedStep{
		label: "dep:" + edge.Source + "->" + edge.Target,
		undo: func(now time.Time) error {
			c.indexes.Dependency.Add(edge, now)
			return nil
		},
		verify: func() error {
			if !dependencyEdgeExists(c.indexes.Dependency, edge.Source, edge.Target) {
				return fmt.Errorf("dep:%s->%s: expected restored, not found", edge.Source, edge.Target)
			}
			return nil
		},
	})
	return nil
}

func dependencyEdgeExists(d *index.Dependency, source, target string) bool {
	for _, t := range d.Outgoing(source) {
		if t == target {
			return true
		}
	}
	return false
}

// compensate unwinds every step applied so far, in reverse order
// of application, without changing c.state. Callers
// that already hold c.mu use this to unwind a partial Execute before
// returning an error to the caller; Rollback itself also reuses it.
// The staged durable batch is dropped too: once the index effects are
// unwound, committing those frames would diverge store from indexes.
func (c *Coordinator) compensate(now time.Time) {
	for i := len(c.applied) - 1; i >= 0; i-- {
		_ = c.applied[i].undo(now)
	}
	c.applied = nil
	c.batch = nil
}

// Commit flushes the accumulated durable-store batch, invalidates
// affected cache entries, and publishes a write event. On durable
// store failure it triggers the rollback manager and returns the
// rollback's outcome error.
func (c *Coordinator) Commit(ctx context.Context) (retErr *types.Error) {
	ctx, span := txnTracer.Start(ctx, "txn.commit", trace.WithAttributes(attribute.String("txn.mode", string(c.mode))))
	defer func() { endSpan(span, retErr) }()

	c.mu.Lock()
	if c.state != types.TxnActive {
		defer c.mu.Unlock()
		return types.NewError(types.ErrNoActiveTransaction, "txn.commit", "no active transaction", c.clock())
	}
	batch := c.batch
	touched := c.touched
	c.mu.Unlock()
	span.SetAttributes(attribute.Int("txn.batch_size", len(batch)), attribute.Int("txn.touched", len(touched)))

	now := c.clock()
	if len(batch) > 0 {
		if _, err := c.store.Apply(ctx, batch); err != nil {
			return c.rollbackAfterCommitFailure(ctx, err, now)
		}
	}

	c.mu.Lock()
	c.state = types.TxnCommitted
	c.applied = nil
	c.mu.Unlock()

	if c.cache != nil {
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		c.cache.InvalidateAll(ids)
	}
	if c.bus != nil {
		c.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventWrite, Timestamp: now, Payload: map[string]any{"touched": len(touched)}})
	}
	return nil
}

func (c *Coordinator) rollbackAfterCommitFailure(ctx context.Context, storageErr error, now time.Time) *types.Error {
	original := types.NewError(types.ErrStorageIO, "txn.commit", storageErr.Error(), now)
	if rbErr := c.Rollback(ctx); rbErr != nil {
		return types.NewError(types.ErrRollbackFailed, "txn.commit", "rollback after commit failure also failed", now).
			WithCause(rbErr).WithDetails(map[string]any{"original_error": original.Message})
	}
	return original
}

// Rollback invokes the rollback manager to compensate every applied
// step (primary first, reverse of commit order, in sequential mode;
// concurrently in parallel mode) and, optionally,
// validates the touched keys afterward.
func (c *Coordinator) Rollback(ctx context.Context) (retErr *types.Error) {
	ctx, span := txnTracer.Start(ctx, "txn.rollback")
	defer func() { endSpan(span, retErr) }()

	c.mu.Lock()
	if c.state != types.TxnActive && c.state != types.TxnRollingBack {
		defer c.mu.Unlock()
		return types.NewError(types.ErrNoActiveTransaction, "txn.rollback", "no active transaction", c.clock())
	}
	c.state = types.TxnRollingBack
	steps := c.applied
	touched := c.touched
	c.mu.Unlock()
	span.SetAttributes(attribute.Int("txn.steps", len(steps)))

	now := c.clock()
	mgr := c.rollbackMgr
	if mgr == nil {
		mgr = NewRollbackManager(DefaultRollbackConfig())
	}

	err := mgr.Compensate(ctx, steps, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = types.TxnFailed
		if c.bus != nil {
			c.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventRollback, Timestamp: now, Payload: map[string]any{"failed": true, "error": err.Error()}})
		}
		return types.NewError(types.ErrRollbackFailed, "txn.rollback", err.Error(), now)
	}
	c.state = types.TxnRolledBack
	c.applied = nil
	c.batch = nil
	if c.cache != nil {
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		c.cache.InvalidateAll(ids)
	}
	if c.bus != nil {
		c.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventRollback, Timestamp: now, Payload: map[string]any{"failed": false}})
	}
	return nil
}

// Results returns a copy of the per-operation results recorded so far.
func (c *Coordinator) Results() []types.OperationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.OperationResult(nil), c.results...)
}
