// Package engine wires the durable store, index set, cache, validator,
// state machine, transaction coordinator, and backup orchestrator into
// a typed operation vocabulary: CreateTask,
// UpdateTask, DeleteTask, the various list/get queries, dependency
// management, project/knowledge CRUD, and the maintenance family.
// Every operation returns a types.Result[T] rather than a bare error.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/atlasengine/atlas/internal/backup"
	"github.com/atlasengine/atlas/internal/cache"
	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/txn"
	"github.com/atlasengine/atlas/internal/types"
	"github.com/atlasengine/atlas/internal/validator"
	"github.com/atlasengine/atlas/internal/walstore"
)

// Engine is the top-level facade. One Engine owns one durable-store
// handle's worth of state; concurrent callers share it, serialised
// per task path.
type Engine struct {
	store   walstore.Backend
	indexes *index.Set
	cache   *cache.Cache
	bus     *eventbus.Bus
	valid   *validator.Validator
	backupO *backup.Orchestrator
	mode    txn.Mode
	clock   func() time.Time

	pathLocks sync.Map // path -> *sync.Mutex; writes to a single task are totally ordered

	projMu   sync.RWMutex
	projects map[string]*types.Project

	knowMu    sync.RWMutex
	knowledge map[string]*types.Knowledge

	boardMu     sync.RWMutex
	whiteboards map[string]*types.Whiteboard
}

// New constructs an Engine over an already-open durable store. The
// index set is assumed empty; call RepairRelationships (or Recover)
// to rebuild it from the store's contents on startup.
func New(store walstore.Backend, c *cache.Cache, bus *eventbus.Bus, backupO *backup.Orchestrator, mode txn.Mode) *Engine {
	indexes := index.NewSet()
	if bus != nil && backupO != nil {
		// The orchestrator listens for commit write events to drive its
		// debounced auto-export; the subscription lives until bus.Close.
		_, _ = bus.Register(backupO)
	}
	return &Engine{
		store:       store,
		indexes:     indexes,
		cache:       c,
		bus:         bus,
		valid:       validator.New(indexes.Primary, indexes.Dependency),
		backupO:     backupO,
		mode:        mode,
		clock:       time.Now,
		projects:    make(map[string]*types.Project),
		knowledge:   make(map[string]*types.Knowledge),
		whiteboards: make(map[string]*types.Whiteboard),
	}
}

// lockPath returns (creating if needed) the mutex serialising writes
// to a single task path.
func (e *Engine) lockPath(path string) *sync.Mutex {
	v, _ := e.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// withPathLock runs fn holding path's per-path mutex.
func (e *Engine) withPathLock(path string, fn func()) {
	mu := e.lockPath(path)
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// newCoordinator creates a fresh transaction coordinator over the
// engine's shared store/index/cache/bus, per-call, since a
// Coordinator's lifetime is exactly one transaction.
func (e *Engine) newCoordinator() *txn.Coordinator {
	rollbackMgr := txn.NewRollbackManager(txn.DefaultRollbackConfig())
	return txn.New(e.store, e.indexes, e.cache, e.bus, e.mode, rollbackMgr)
}

func errResult[T any](code types.ErrorKind, op, msg string, now time.Time) types.Result[T] {
	return types.Err[T](types.NewError(code, op, msg, now))
}

// Recover rebuilds every index from the durable store's full key
// range. walstore.Open has already replayed the WAL by the time
// Recover runs, so this is a rebuild from whatever the store holds,
// not a log replay.
func (e *Engine) Recover(ctx context.Context) *types.Error {
	records, err := e.store.Range(ctx, "task/")
	if err != nil {
		return types.NewError(types.ErrStorageIO, "engine.recover", err.Error(), e.clock())
	}
	depRecords, err := e.store.Range(ctx, "dep/")
	if err != nil {
		return types.NewError(types.ErrStorageIO, "engine.recover", err.Error(), e.clock())
	}

	tasks := make([]*types.Task, 0, len(records))
	for _, r := range records {
		if r.Tombstone {
			continue
		}
		t, decErr := decodeTaskRecord(r.Value)
		if decErr != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	deps := make([]types.Dependency, 0, len(depRecords))
	for _, r := range depRecords {
		if r.Tombstone {
			continue
		}
		edge, ok := decodeDependencyRecord(r.Key, r.Value)
		if ok {
			deps = append(deps, edge)
		}
	}

	now := e.clock()
	if errs := e.indexes.RebuildFromTasks(ctx, tasks, deps, now); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
