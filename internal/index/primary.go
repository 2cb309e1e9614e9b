package index

import (
	"sync"
	"time"

	"github.com/atlasengine/atlas/internal/types"
)

// Primary is the authoritative by-id and by-path lookup. Every other
// index derives its membership from what Primary holds; rebuilding
// Primary from the durable store is therefore the first step of any
// full index rebuild.
type Primary struct {
	mu     sync.RWMutex
	byID   map[string]*types.Task
	byPath map[string]string // path -> id
}

// NewPrimary creates an empty primary index.
func NewPrimary() *Primary {
	return &Primary{byID: make(map[string]*types.Task), byPath: make(map[string]string)}
}

// Upsert inserts or replaces a task, enforcing path uniqueness (a
// path may map to at most one id; re-upserting the same id at a new
// path moves the mapping).
func (p *Primary) Upsert(task *types.Task, now time.Time) Result {
	if task == nil || task.ID == "" {
		return fail(types.NewError(types.ErrMissingField, "primary.upsert", "task or task.ID is empty", now))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if existingID, exists := p.byPath[task.Path]; exists && existingID != task.ID {
		return fail(types.NewError(types.ErrDuplicate, "primary.upsert", "path already claimed by another task", now).
			WithDetails(map[string]any{"path": task.Path, "existing_id": existingID}))
	}
	if prior, existed := p.byID[task.ID]; existed && prior.Path != task.Path {
		delete(p.byPath, prior.Path)
	}
	p.byID[task.ID] = task
	p.byPath[task.Path] = task.ID
	return ok(&types.IndexEntry{Key: task.Path, EntityID: task.ID})
}

// Delete removes a task by id.
func (p *Primary) Delete(id string, now time.Time) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok2 := p.byID[id]
	if !ok2 {
		return fail(types.NewError(types.ErrNotFound, "primary.delete", "task not found", now))
	}
	delete(p.byID, id)
	delete(p.byPath, t.Path)
	return ok(&types.IndexEntry{Key: t.Path, EntityID: id})
}

// GetByID returns the task for id, or nil if absent.
func (p *Primary) GetByID(id string) (*types.Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok2 := p.byID[id]
	return t, ok2
}

// GetByPath returns the task at path, or nil if absent.
func (p *Primary) GetByPath(path string) (*types.Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok2 := p.byPath[path]
	if !ok2 {
		return nil, false
	}
	return p.byID[id], true
}

// Exists reports whether path is claimed by any task.
func (p *Primary) Exists(path string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok2 := p.byPath[path]
	return ok2
}

// Query returns tasks matching f.IDs or f.PathPrefix (lexicographic
// order by path), honoring Limit/Offset. An empty filter returns every
// task in path order.
func (p *Primary) Query(f Filter) []*types.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	paths := sortedKeys(p.byPath)
	var matched []string
	if len(f.IDs) > 0 {
		want := make(map[string]bool, len(f.IDs))
		for _, id := range f.IDs {
			want[id] = true
		}
		for _, path := range paths {
			if want[p.byPath[path]] {
				matched = append(matched, path)
			}
		}
	} else if f.PathPrefix != "" {
		for _, path := range paths {
			if path == f.PathPrefix || hasPathPrefix(path, f.PathPrefix) {
				matched = append(matched, path)
			}
		}
	} else {
		matched = paths
	}

	matched = applyPaging(matched, f)
	out := make([]*types.Task, 0, len(matched))
	for _, path := range matched {
		out = append(out, p.byID[p.byPath[path]])
	}
	return out
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) <= len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// Clear empties the index.
func (p *Primary) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[string]*types.Task)
	p.byPath = make(map[string]string)
}

// Stats reports occupancy.
func (p *Primary) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{EntryCount: len(p.byID)}
}

// All returns every task currently indexed, path-ordered. Used by
// rebuild flows in the other three indexes.
func (p *Primary) All() []*types.Task {
	return p.Query(Filter{})
}
