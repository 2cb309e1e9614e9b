package engine

import (
	"sort"

	"github.com/atlasengine/atlas/internal/pathid"
	"github.com/atlasengine/atlas/internal/types"
)

// bulkRollback applies undo in reverse order. Project mutations have
// no coordinator/durable-store participation (projects are not
// part of the four-index set), so a failed bulk batch compensates by
// directly replaying each already-applied item's inverse under the
// same e.projMu critical section the Bulk* callers already hold.
func bulkRollback(undo []func()) {
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// CreateProjectParams is the payload for creating a project.
type CreateProjectParams struct {
	Path string
	Name string
	URLs []string
}

// CreateProject registers a new containment root. Projects are not
// part of the four-index set — they own a top-level path segment and
// every task whose root segment matches is considered theirs.
func (e *Engine) CreateProject(p CreateProjectParams) types.Result[*types.Project] {
	now := e.clock()
	if err := pathid.Validate(p.Path); err != nil {
		return errResult[*types.Project](types.ErrInvalidPath, "engine.create_project", err.Error(), now)
	}
	if pathid.Depth(p.Path) != 1 {
		return errResult[*types.Project](types.ErrInvalidPath, "engine.create_project", "project path must be a single root segment", now)
	}

	e.projMu.Lock()
	defer e.projMu.Unlock()
	if _, exists := e.projects[p.Path]; exists {
		return errResult[*types.Project](types.ErrDuplicate, "engine.create_project", "project already exists", now)
	}
	proj := &types.Project{Path: p.Path, Name: p.Name, Status: types.StatusPending, URLs: append([]string(nil), p.URLs...), Created: now, Updated: now}
	e.projects[p.Path] = proj
	return types.Ok(proj)
}

// UpdateProjectParams carries the fields UpdateProject is allowed to
// change.
type UpdateProjectParams struct {
	Name   *string
	Status *types.Status
	URLs   []string
}

// UpdateProject applies a partial update to the project at path.
func (e *Engine) UpdateProject(path string, p UpdateProjectParams) types.Result[*types.Project] {
	now := e.clock()
	e.projMu.Lock()
	defer e.projMu.Unlock()
	proj, ok := e.projects[path]
	if !ok {
		return errResult[*types.Project](types.ErrNotFound, "engine.update_project", "project not found", now)
	}
	updated := *proj
	if p.Name != nil {
		updated.Name = *p.Name
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return errResult[*types.Project](types.ErrInvalidValue, "engine.update_project", "invalid status", now)
		}
		updated.Status = *p.Status
	}
	if p.URLs != nil {
		updated.URLs = append([]string(nil), p.URLs...)
	}
	updated.Updated = now
	e.projects[path] = &updated
	return types.Ok(&updated)
}

// DeleteProject removes a project. It does not cascade to tasks under
// that root segment — the Maintenance family (vacuum/repair) is the
// documented path for reconciling orphaned tasks after a project is
// removed.
func (e *Engine) DeleteProject(path string) types.Result[bool] {
	now := e.clock()
	e.projMu.Lock()
	defer e.projMu.Unlock()
	if _, ok := e.projects[path]; !ok {
		return errResult[bool](types.ErrNotFound, "engine.delete_project", "project not found", now)
	}
	delete(e.projects, path)
	return types.Ok(true)
}

// GetProject returns the project at path.
func (e *Engine) GetProject(path string) types.Result[*types.Project] {
	now := e.clock()
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	proj, ok := e.projects[path]
	if !ok {
		return errResult[*types.Project](types.ErrNotFound, "engine.get_project", "project not found", now)
	}
	return types.Ok(proj)
}

// BulkCreateProjects registers every item in request order, rolling back every
// already-created project in the batch the instant one item fails
// validation or collides with an existing path, so the registry is
// left exactly as it was before the call. Mirrors BulkCreateTasks's
// shape, adapted to the project registry's lack
// of a transaction coordinator.
func (e *Engine) BulkCreateProjects(items []CreateProjectParams) types.Result[[]types.OperationResult] {
	now := e.clock()
	if err := types.ValidateBulkSize(len(items)); err != nil {
		return errResult[[]types.OperationResult](types.ErrLimitExceeded, "engine.bulk_create_projects", err.Error(), now)
	}

	e.projMu.Lock()
	defer e.projMu.Unlock()

	results := make([]types.OperationResult, 0, len(items))
	var undo []func()
	var failed *types.Error

	for i, p := range items {
		if err := pathid.Validate(p.Path); err != nil {
			failed = types.NewError(types.ErrInvalidPath, "engine.bulk_create_projects", err.Error(), now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		if pathid.Depth(p.Path) != 1 {
			failed = types.NewError(types.ErrInvalidPath, "engine.bulk_create_projects", "project path must be a single root segment", now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		if _, exists := e.projects[p.Path]; exists {
			failed = types.NewError(types.ErrDuplicate, "engine.bulk_create_projects", "project already exists", now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		path := p.Path
		e.projects[path] = &types.Project{Path: path, Name: p.Name, Status: types.StatusPending, URLs: append([]string(nil), p.URLs...), Created: now, Updated: now}
		undo = append(undo, func() { delete(e.projects, path) })
		results = append(results, types.OperationResult{Index: i, Success: true})
	}

	if failed != nil {
		bulkRollback(undo)
		for i := len(results); i < len(items); i++ {
			results = append(results, types.OperationResult{Index: i, Success: false,
				Error: types.NewError(types.ErrInternal, "engine.bulk_create_projects", "not attempted: batch rolled back", now)})
		}
		if failed.Details == nil {
			failed.Details = map[string]any{}
		}
		failed.Details["operation_results"] = results
		return types.Err[[]types.OperationResult](failed)
	}
	return types.Ok(results)
}

// BulkUpdateProjects is Project.bulk_update: applies each partial
// update in order, restoring every already-applied item's prior
// project value if a later item targets a project that does not
// exist.
func (e *Engine) BulkUpdateProjects(items map[string]UpdateProjectParams) types.Result[[]types.OperationResult] {
	now := e.clock()
	paths := make([]string, 0, len(items))
	for path := range items {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if err := types.ValidateBulkSize(len(paths)); err != nil {
		return errResult[[]types.OperationResult](types.ErrLimitExceeded, "engine.bulk_update_projects", err.Error(), now)
	}

	e.projMu.Lock()
	defer e.projMu.Unlock()

	results := make([]types.OperationResult, 0, len(paths))
	var undo []func()
	var failed *types.Error

	for i, path := range paths {
		prior, ok := e.projects[path]
		if !ok {
			failed = types.NewError(types.ErrNotFound, "engine.bulk_update_projects", "project not found", now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		p := items[path]
		if p.Status != nil && !p.Status.Valid() {
			failed = types.NewError(types.ErrInvalidValue, "engine.bulk_update_projects", "invalid status", now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		updated := *prior
		if p.Name != nil {
			updated.Name = *p.Name
		}
		if p.Status != nil {
			updated.Status = *p.Status
		}
		if p.URLs != nil {
			updated.URLs = append([]string(nil), p.URLs...)
		}
		updated.Updated = now
		e.projects[path] = &updated
		restore := prior
		key := path
		undo = append(undo, func() { e.projects[key] = restore })
		results = append(results, types.OperationResult{Index: i, Success: true})
	}

	if failed != nil {
		bulkRollback(undo)
		for i := len(results); i < len(paths); i++ {
			results = append(results, types.OperationResult{Index: i, Success: false,
				Error: types.NewError(types.ErrInternal, "engine.bulk_update_projects", "not attempted: batch rolled back", now)})
		}
		if failed.Details == nil {
			failed.Details = map[string]any{}
		}
		failed.Details["operation_results"] = results
		return types.Err[[]types.OperationResult](failed)
	}
	return types.Ok(results)
}

// BulkDeleteProjects is Project.bulk_delete: removes every path in
// order, restoring every already-removed project if a later path does
// not exist.
func (e *Engine) BulkDeleteProjects(paths []string) types.Result[[]types.OperationResult] {
	now := e.clock()
	if err := types.ValidateBulkSize(len(paths)); err != nil {
		return errResult[[]types.OperationResult](types.ErrLimitExceeded, "engine.bulk_delete_projects", err.Error(), now)
	}

	e.projMu.Lock()
	defer e.projMu.Unlock()

	results := make([]types.OperationResult, 0, len(paths))
	var undo []func()
	var failed *types.Error

	for i, path := range paths {
		proj, ok := e.projects[path]
		if !ok {
			failed = types.NewError(types.ErrNotFound, "engine.bulk_delete_projects", "project not found", now)
			results = append(results, types.OperationResult{Index: i, Success: false, Error: failed})
			break
		}
		delete(e.projects, path)
		restore := proj
		key := path
		undo = append(undo, func() { e.projects[key] = restore })
		results = append(results, types.OperationResult{Index: i, Success: true})
	}

	if failed != nil {
		bulkRollback(undo)
		for i := len(results); i < len(paths); i++ {
			results = append(results, types.OperationResult{Index: i, Success: false,
				Error: types.NewError(types.ErrInternal, "engine.bulk_delete_projects", "not attempted: batch rolled back", now)})
		}
		if failed.Details == nil {
			failed.Details = map[string]any{}
		}
		failed.Details["operation_results"] = results
		return types.Err[[]types.OperationResult](failed)
	}
	return types.Ok(results)
}

// ListProjects returns every project, sorted by path.
func (e *Engine) ListProjects() types.Result[[]*types.Project] {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	paths := make([]string, 0, len(e.projects))
	for p := range e.projects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]*types.Project, 0, len(paths))
	for _, p := range paths {
		out = append(out, e.projects[p])
	}
	return types.Ok(out)
}
