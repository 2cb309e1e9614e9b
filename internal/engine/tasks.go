package engine

import (
	"context"
	"sort"
	"time"

	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/pathid"
	"github.com/atlasengine/atlas/internal/statemachine"
	"github.com/atlasengine/atlas/internal/txn"
	"github.com/atlasengine/atlas/internal/types"
)

// CreateTaskParams is the payload for creating a task.
type CreateTaskParams struct {
	Path         string
	Name         string
	Description  string
	Reasoning    string
	Type         types.TaskType
	Dependencies []string
	Annex        types.MetadataAnnex
}

// CreateTask validates and inserts a new task, serialised on the
// task's own path (a fresh path never collides with an in-flight
// sibling create, but claims the lock anyway for uniformity).
func (e *Engine) CreateTask(ctx context.Context, p CreateTaskParams) types.Result[*types.Task] {
	now := e.clock()
	if err := pathid.Validate(p.Path); err != nil {
		return errResult[*types.Task](types.ErrInvalidPath, "engine.create_task", err.Error(), now)
	}
	if err := types.ValidateAnnex(p.Annex); err != nil {
		return errResult[*types.Task](types.ErrLimitExceeded, "engine.create_task", err.Error(), now)
	}
	taskType := types.NormalizeTaskType(p.Type)
	if taskType == "" {
		taskType = types.TaskTypeTask
	}

	var result types.Result[*types.Task]
	e.withPathLock(p.Path, func() {
		if e.indexes.Primary.Exists(p.Path) {
			result = errResult[*types.Task](types.ErrDuplicate, "engine.create_task", "path already exists", now)
			return
		}
		task := &types.Task{
			ID:           pathid.GenerateID("task", p.Name, pathid.ParentTaskPath(p.Path), now, 0),
			Path:         p.Path,
			ParentPath:   pathid.ParentTaskPath(p.Path),
			Type:         taskType,
			Status:       types.StatusPending,
			Name:         p.Name,
			Description:  p.Description,
			Reasoning:    p.Reasoning,
			Dependencies:  append([]string(nil), p.Dependencies...),
			Annex:         p.Annex,
			Created:       now,
			Updated:       now,
			StatusUpdated: now,
			Version:       1,
		}
		result = e.commitSingleTask(ctx, txn.OpUpsertTask, task, now)
	})
	return result
}

// BulkCreateTasks creates every item in one transaction: if any item
// fails validation or index application, the whole batch rolls back
// and no task is created. The returned
// OperationResults are in request order; on failure, every entry
// past the failing index is a synthetic "not attempted" result rather
// than a second validation pass, since the batch never reaches them.
func (e *Engine) BulkCreateTasks(ctx context.Context, items []CreateTaskParams) types.Result[[]types.OperationResult] {
	now := e.clock()
	if err := types.ValidateBulkSize(len(items)); err != nil {
		return errResult[[]types.OperationResult](types.ErrLimitExceeded, "engine.bulk_create_tasks", err.Error(), now)
	}

	co := e.newCoordinator()
	if err := co.Begin(ctx); err != nil {
		return types.Err[[]types.OperationResult](err)
	}

	results := make([]types.OperationResult, 0, len(items))
	created := make([]*types.Task, 0, len(items))
	var failed *types.Error

	for i, p := range items {
		if failed != nil {
			break
		}
		if err := pathid.Validate(p.Path); err != nil {
			failed = types.NewError(types.ErrInvalidPath, "engine.bulk_create_tasks", err.Error(), now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		if err := types.ValidateAnnex(p.Annex); err != nil {
			failed = types.NewError(types.ErrLimitExceeded, "engine.bulk_create_tasks", err.Error(), now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		if e.indexes.Primary.Exists(p.Path) {
			failed = types.NewError(types.ErrDuplicate, "engine.bulk_create_tasks", "path already exists", now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		taskType := types.NormalizeTaskType(p.Type)
		if taskType == "" {
			taskType = types.TaskTypeTask
		}
		task := &types.Task{
			ID:            pathid.GenerateID("task", p.Name, pathid.ParentTaskPath(p.Path), now, i),
			Path:          p.Path,
			ParentPath:    pathid.ParentTaskPath(p.Path),
			Type:          taskType,
			Status:        types.StatusPending,
			Name:          p.Name,
			Description:   p.Description,
			Reasoning:     p.Reasoning,
			Dependencies:  append([]string(nil), p.Dependencies...),
			Annex:         p.Annex,
			Created:       now,
			Updated:       now,
			StatusUpdated: now,
			Version:       1,
		}
		res := co.Execute(ctx, txn.Op{Kind: txn.OpUpsertTask, Task: task})
		results = append(results, types.OperationResult{Index: i, Success: res.Success, Error: res.Error})
		if !res.Success {
			failed = res.Error
			break
		}
		created = append(created, task)
	}

	if failed != nil {
		_ = co.Rollback(ctx)
		for i := len(results); i < len(items); i++ {
			results = append(results, types.OperationResult{Index: i, Success: false,
				Error: types.NewError(types.ErrInternal, "engine.bulk_create_tasks", "not attempted: batch rolled back", now)})
		}
		if failed.Details == nil {
			failed.Details = map[string]any{}
		}
		failed.Details["operation_results"] = results
		return types.Err[[]types.OperationResult](failed)
	}

	if err := co.Commit(ctx); err != nil {
		return types.Err[[]types.OperationResult](err)
	}
	if e.cache != nil {
		for _, t := range created {
			e.cache.Put(t)
		}
	}
	return types.Ok(results)
}

// commitSingleTask runs a single-op transaction (upsert or delete) for
// task and returns its outcome as a Result.
func (e *Engine) commitSingleTask(ctx context.Context, kind txn.OpKind, task *types.Task, now time.Time) types.Result[*types.Task] {
	co := e.newCoordinator()
	if err := co.Begin(ctx); err != nil {
		return types.Err[*types.Task](err)
	}
	res := co.Execute(ctx, txn.Op{Kind: kind, Task: task})
	if !res.Success {
		_ = co.Rollback(ctx)
		return types.Err[*types.Task](res.Error)
	}
	if err := co.Commit(ctx); err != nil {
		return types.Err[*types.Task](err)
	}
	if e.cache != nil {
		if kind == txn.OpDeleteTask {
			e.cache.Invalidate(task.ID)
		} else {
			e.cache.Put(task)
		}
	}
	return types.Ok(task)
}

// UpdateTaskParams carries only the fields UpdateTask is allowed to
// change; status changes go through TransitionStatus instead, since
// they require the state-machine guards.
type UpdateTaskParams struct {
	Name        *string
	Description *string
	Reasoning   *string
	Notes       map[types.NoteCategory][]types.Note
	Annex       *types.MetadataAnnex
}

// UpdateTask applies a partial update to the task at path.
func (e *Engine) UpdateTask(ctx context.Context, path string, p UpdateTaskParams) types.Result[*types.Task] {
	now := e.clock()
	var result types.Result[*types.Task]
	e.withPathLock(path, func() {
		existing, ok := e.indexes.Primary.GetByPath(path)
		if !ok {
			result = errResult[*types.Task](types.ErrNotFound, "engine.update_task", "task not found", now)
			return
		}
		updated := existing.Clone()
		if p.Name != nil {
			updated.Name = *p.Name
		}
		if p.Description != nil {
			updated.Description = *p.Description
		}
		if p.Reasoning != nil {
			updated.Reasoning = *p.Reasoning
		}
		for cat, notes := range p.Notes {
			if err := types.ValidateNotes(notes); err != nil {
				result = errResult[*types.Task](types.ErrLimitExceeded, "engine.update_task", err.Error(), now)
				return
			}
			updated.SetNotesFor(cat, notes)
		}
		if p.Annex != nil {
			if err := types.ValidateAnnex(*p.Annex); err != nil {
				result = errResult[*types.Task](types.ErrLimitExceeded, "engine.update_task", err.Error(), now)
				return
			}
			updated.Annex = *p.Annex
		}
		updated.Updated = now
		updated.Version++
		result = e.commitSingleTask(ctx, txn.OpUpsertTask, updated, now)
	})
	return result
}

// DeleteTask removes the task at path and, recursively, every
// descendant, plus cleans up inbound
// dependency edges via the index set's own RemoveAllFor inside the
// coordinator.
func (e *Engine) DeleteTask(ctx context.Context, path string) types.Result[bool] {
	now := e.clock()
	var result types.Result[bool]
	e.withPathLock(path, func() {
		root, ok := e.indexes.Primary.GetByPath(path)
		if !ok {
			result = errResult[bool](types.ErrNotFound, "engine.delete_task", "task not found", now)
			return
		}

		victims := e.collectSubtree(root)

		co := e.newCoordinator()
		if err := co.Begin(ctx); err != nil {
			result = types.Err[bool](err)
			return
		}
		// Children before parents so the hierarchy index never sees a
		// delete of a still-populated parent.
		for i := len(victims) - 1; i >= 0; i-- {
			res := co.Execute(ctx, txn.Op{Kind: txn.OpDeleteTask, Task: victims[i]})
			if !res.Success {
				_ = co.Rollback(ctx)
				result = types.Err[bool](res.Error)
				return
			}
		}
		if err := co.Commit(ctx); err != nil {
			result = types.Err[bool](err)
			return
		}
		if e.cache != nil {
			for _, v := range victims {
				e.cache.Invalidate(v.ID)
			}
		}
		result = types.Ok(true)
	})
	return result
}

// collectSubtree returns root followed by every descendant, in
// top-down (parent-before-child) order.
func (e *Engine) collectSubtree(root *types.Task) []*types.Task {
	out := []*types.Task{root}
	childIDs := e.indexes.Hierarchy.Children(root.ID)
	for _, id := range childIDs {
		if child, ok := e.indexes.Primary.GetByID(id); ok {
			out = append(out, e.collectSubtree(child)...)
		}
	}
	return out
}

// GetTask returns the task with the given id, preferring the cache.
func (e *Engine) GetTask(id string) types.Result[*types.Task] {
	now := e.clock()
	if e.cache != nil {
		if t, ok := e.cache.Get(id); ok {
			return types.Ok(t)
		}
	}
	t, ok := e.indexes.Primary.GetByID(id)
	if !ok {
		return errResult[*types.Task](types.ErrNotFound, "engine.get_task", "task not found", now)
	}
	if e.cache != nil {
		e.cache.Put(t)
	}
	return types.Ok(t.Clone())
}

// GetByPath returns the task at path.
func (e *Engine) GetByPath(path string) types.Result[*types.Task] {
	now := e.clock()
	t, ok := e.indexes.Primary.GetByPath(path)
	if !ok {
		return errResult[*types.Task](types.ErrNotFound, "engine.get_by_path", "task not found", now)
	}
	return types.Ok(t.Clone())
}

// GetChildren returns the immediate children of the task at path.
func (e *Engine) GetChildren(path string) types.Result[[]*types.Task] {
	now := e.clock()
	t, ok := e.indexes.Primary.GetByPath(path)
	if !ok {
		return errResult[[]*types.Task](types.ErrNotFound, "engine.get_children", "task not found", now)
	}
	childIDs := e.indexes.Hierarchy.Children(t.ID)
	out := make([]*types.Task, 0, len(childIDs))
	for _, id := range childIDs {
		if child, ok := e.indexes.Primary.GetByID(id); ok {
			out = append(out, child.Clone())
		}
	}
	return types.Ok(out)
}

// GetByStatus returns every task currently in one of statuses.
func (e *Engine) GetByStatus(statuses ...types.Status) types.Result[[]*types.Task] {
	tasks := e.indexes.Query(index.Filter{Statuses: statuses})
	return types.Ok(cloneAll(tasks))
}

// ListTasks is the general list/query entry point, routing through
// index.Set.Query.
func (e *Engine) ListTasks(f index.Filter) types.Result[[]*types.Task] {
	return types.Ok(cloneAll(e.indexes.Query(f)))
}

func cloneAll(tasks []*types.Task) []*types.Task {
	out := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out
}

// TransitionStatus moves the task at path to the requested status,
// applying the state machine's guards and propagation effects
// atomically with the originating change, then emits one
// EventStatusChanged per affected task in deterministic id order.
func (e *Engine) TransitionStatus(ctx context.Context, path string, to types.Status) types.Result[*types.Task] {
	now := e.clock()
	var result types.Result[*types.Task]
	e.withPathLock(path, func() {
		task, ok := e.indexes.Primary.GetByPath(path)
		if !ok {
			result = errResult[*types.Task](types.ErrNotFound, "engine.transition_status", "task not found", now)
			return
		}

		outcome := statemachine.Evaluate(statemachine.TransitionRequest{
			TaskID:   task.ID,
			TaskPath: task.Path,
			TaskType: task.Type,
			From:     task.Status,
			To:       to,
		}, dependencyLookup{e}, childLookup{e}, now)
		if outcome.Err != nil {
			result = types.Err[*types.Task](outcome.Err)
			return
		}

		updated := task.Clone()
		updated.Status = outcome.AppliedStatus
		updated.StatusUpdated = now
		updated.Updated = now
		updated.Version++
		if outcome.AutoRewritten {
			updated.StatusMeta.BlockedBy = outcome.BlockedBy
			updated.StatusMeta.BlockedReason = "dependencies not completed"
		}
		if outcome.AppliedStatus == types.StatusCancelled {
			cancelledAt := now
			updated.StatusMeta.CancelledAt = &cancelledAt
		}

		co := e.newCoordinator()
		if err := co.Begin(ctx); err != nil {
			result = types.Err[*types.Task](err)
			return
		}
		res := co.Execute(ctx, txn.Op{Kind: txn.OpUpsertTask, Task: updated})
		if !res.Success {
			_ = co.Rollback(ctx)
			result = types.Err[*types.Task](res.Error)
			return
		}

		var propagated []*types.Task
		for _, prop := range outcome.Propagations {
			target, ok := e.indexes.Primary.GetByPath(prop.TaskPath)
			if !ok {
				continue
			}
			next := target.Clone()
			next.Status = prop.To
			next.StatusUpdated = now
			next.Updated = now
			next.Version++
			if prop.To == types.StatusCancelled {
				cancelledAt := now
				next.StatusMeta.CancelledAt = &cancelledAt
			}
			pres := co.Execute(ctx, txn.Op{Kind: txn.OpUpsertTask, Task: next})
			if !pres.Success {
				_ = co.Rollback(ctx)
				result = types.Err[*types.Task](pres.Error)
				return
			}
			propagated = append(propagated, next)
		}

		if err := co.Commit(ctx); err != nil {
			result = types.Err[*types.Task](err)
			return
		}

		changed := append([]*types.Task{updated}, propagated...)
		sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
		for _, p := range propagated {
			if e.cache != nil {
				e.cache.Put(p)
			}
		}
		for _, t := range changed {
			e.emitStatusChanged(ctx, t, now)
		}
		if e.cache != nil {
			e.cache.Put(updated)
		}
		result = types.Ok(updated)
	})
	return result
}

func (e *Engine) emitStatusChanged(ctx context.Context, t *types.Task, now time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Dispatch(ctx, &eventbus.Event{
		Type:      eventbus.EventStatusChanged,
		Timestamp: now,
		TaskID:    t.ID,
		Payload:   map[string]any{"path": t.Path, "status": string(t.Status)},
	})
}
