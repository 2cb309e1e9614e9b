package index

import (
	"context"
	"time"

	"github.com/atlasengine/atlas/internal/types"
)

// Set bundles the four secondary indexes and routes filtered queries
// to whichever one can answer them: status
// in filter -> status index; type in filter -> hierarchy index;
// otherwise primary. No union across indexes is attempted.
type Set struct {
	Primary    *Primary
	Status     *Status
	Hierarchy  *Hierarchy
	Dependency *Dependency
}

// NewSet creates an empty, wired index set.
func NewSet() *Set {
	return &Set{
		Primary:    NewPrimary(),
		Status:     NewStatus(),
		Hierarchy:  NewHierarchy(),
		Dependency: NewDependency(),
	}
}

// UpsertTask applies task to every index. Callers needing atomicity
// across indexes go through the transaction coordinator, which calls
// these per-index primitives directly and compensates on partial
// failure; Set.UpsertTask itself makes no atomicity guarantee beyond
// "each index call either succeeds or reports why."
func (s *Set) UpsertTask(task *types.Task, now time.Time) (primary, status, hierarchy Result) {
	primary = s.Primary.Upsert(task, now)
	if !primary.Success {
		return
	}
	status = s.Status.Upsert(task.ID, task.Status, now)
	hierarchy = s.Hierarchy.Upsert(task, now)
	return
}

// DeleteTask removes task's id from primary, status, and hierarchy,
// and its dependency edges from the dependency index.
func (s *Set) DeleteTask(task *types.Task, now time.Time) (primary, status, hierarchy Result, removedDeps []types.Dependency) {
	primary = s.Primary.Delete(task.ID, now)
	status = s.Status.Delete(task.ID, now)
	hierarchy = s.Hierarchy.Delete(task.ID, now)
	removedDeps = s.Dependency.RemoveAllFor(task.Path)
	return
}

// Query routes f to the appropriate index and hydrates full Task
// values from Primary. Exactly one index answers a given
// filter; callers needing a union across dimensions issue multiple
// Query calls and merge client-side.
func (s *Set) Query(f Filter) []*types.Task {
	switch {
	case len(f.Statuses) > 0:
		ids := s.Status.Query(f)
		return s.hydrate(ids)
	case len(f.Types) > 0:
		ids := s.Hierarchy.Query(f)
		return s.hydrate(ids)
	default:
		return s.Primary.Query(f)
	}
}

func (s *Set) hydrate(ids []string) []*types.Task {
	out := make([]*types.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.Primary.GetByID(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// Clear empties every index (Maintenance "clear_all").
func (s *Set) Clear() {
	s.Primary.Clear()
	s.Status.Clear()
	s.Hierarchy.Clear()
	s.Dependency.Clear()
}

// RebuildFromTasks discards current index state and replays every
// task's placement, then every dependency edge. Used by Maintenance
// "repair_relationships"/"vacuum" and by durable-store recovery.
func (s *Set) RebuildFromTasks(ctx context.Context, tasks []*types.Task, deps []types.Dependency, now time.Time) []*types.Error {
	s.Clear()
	var errs []*types.Error
	for _, t := range tasks {
		if ctx.Err() != nil {
			errs = append(errs, types.NewError(types.ErrTimeout, "set.rebuild", "context cancelled", now))
			return errs
		}
		_, stRes, hRes := s.UpsertTask(t, now)
		if !stRes.Success && stRes.Error != nil {
			errs = append(errs, stRes.Error)
		}
		if !hRes.Success && hRes.Error != nil {
			errs = append(errs, hRes.Error)
		}
	}
	for _, edge := range deps {
		res := s.Dependency.Add(edge, now)
		if !res.Success && res.Error != nil {
			errs = append(errs, res.Error)
		}
	}
	return errs
}

// Batch applies ops in order with no atomicity guarantee: each op's
// result is recorded and a failure does not stop later ops. Callers
// that need all-or-nothing semantics go through the transaction
// coordinator instead.
func (s *Set) Batch(ops []BatchOp, now time.Time) []Result {
	results := make([]Result, 0, len(ops))
	for _, op := range ops {
		switch {
		case op.Upsert != nil:
			primary, status, hierarchy := s.UpsertTask(op.Upsert, now)
			results = append(results, firstFailure(primary, status, hierarchy))
		case op.Delete != "":
			task, found := s.Primary.GetByID(op.Delete)
			if !found {
				results = append(results, fail(types.NewError(types.ErrNotFound, "set.batch", "no task with id "+op.Delete, now)))
				continue
			}
			primary, status, hierarchy, _ := s.DeleteTask(task, now)
			results = append(results, firstFailure(primary, status, hierarchy))
		default:
			results = append(results, fail(types.NewError(types.ErrMissingField, "set.batch", "op carries neither upsert nor delete", now)))
		}
	}
	return results
}

// firstFailure collapses a multi-index outcome into one Result: the
// first failed sub-result, or the primary result when all succeeded.
func firstFailure(primary, status, hierarchy Result) Result {
	for _, r := range []Result{primary, status, hierarchy} {
		if !r.Success {
			return r
		}
	}
	return primary
}

// Stats aggregates per-index occupancy.
type SetStats struct {
	Primary    Stats
	Status     Stats
	Hierarchy  Stats
	Dependency Stats
}

// Stats returns occupancy across all four indexes.
func (s *Set) Stats() SetStats {
	return SetStats{
		Primary:    s.Primary.Stats(),
		Status:     s.Status.Stats(),
		Hierarchy:  s.Hierarchy.Stats(),
		Dependency: s.Dependency.Stats(),
	}
}
