package index

import (
	"sync"
	"time"

	"github.com/atlasengine/atlas/internal/pathid"
	"github.com/atlasengine/atlas/internal/types"
)

// MaxChildrenPerParent bounds fan-out under a single MILESTONE.
const MaxChildrenPerParent = 100

// hierarchyEntry is the per-task containment record.
type hierarchyEntry struct {
	TaskID     string
	ParentID   string
	Path       string
	ParentPath string
	Type       types.TaskType
	Children   []string // child task IDs, insertion order
	Depth      int
}

// Hierarchy indexes parent/child containment and enforces the
// containment rules: only MILESTONE may contain children, depth <= 7, bounded
// fan-out, no cycles.
type Hierarchy struct {
	mu     sync.RWMutex
	byID   map[string]*hierarchyEntry
	byPath map[string]string // path -> id, for parent resolution
}

// NewHierarchy creates an empty hierarchy index.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{byID: make(map[string]*hierarchyEntry), byPath: make(map[string]string)}
}

// Upsert inserts or updates task's hierarchy placement. The parent
// (if any) must already be indexed. Rejects: parent not a MILESTONE,
// depth > 7, parent at children-count capacity, or task becoming its
// own ancestor (self-parent / descendant-as-parent cycle).
func (h *Hierarchy) Upsert(task *types.Task, now time.Time) Result {
	if task == nil {
		return fail(types.NewError(types.ErrMissingField, "hierarchy.upsert", "task is nil", now))
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	depth := pathid.Depth(task.Path)
	if depth > pathid.MaxDepth {
		return fail(types.NewError(types.ErrHierarchyDepthExceeded, "hierarchy.upsert",
			"path depth exceeds maximum", now).WithDetails(map[string]any{"path": task.Path, "depth": depth}))
	}

	var parentID string
	if task.ParentPath != "" {
		pid, exists := h.byPath[task.ParentPath]
		if !exists {
			return fail(types.NewError(types.ErrInvalidReference, "hierarchy.upsert",
				"parent_path does not resolve", now).WithDetails(map[string]any{"parent_path": task.ParentPath}))
		}
		parent := h.byID[pid]
		if parent.Type != types.TaskTypeMilestone {
			return fail(types.NewError(types.ErrInvalidReference, "hierarchy.upsert",
				"only MILESTONE tasks may contain children", now).WithDetails(map[string]any{"parent_path": task.ParentPath, "parent_type": parent.Type}))
		}
		if task.Path == task.ParentPath || pathid.IsDescendantOf(task.ParentPath, task.Path) {
			return fail(types.NewError(types.ErrCircularDependency, "hierarchy.upsert",
				"task cannot be its own ancestor", now))
		}
		existing := h.byID[task.ID]
		alreadyChild := existing != nil && existing.ParentID == pid
		if !alreadyChild && len(parent.Children) >= MaxChildrenPerParent {
			return fail(types.NewError(types.ErrLimitExceeded, "hierarchy.upsert",
				"parent has reached max children", now).WithDetails(map[string]any{"parent_path": task.ParentPath, "max": MaxChildrenPerParent}))
		}
		parentID = pid
	}

	if existing, had := h.byID[task.ID]; had {
		if existing.Type == types.TaskTypeMilestone && task.Type == types.TaskTypeTask && len(existing.Children) > 0 {
			return fail(types.NewError(types.ErrInvalidValue, "hierarchy.upsert",
				"cannot change MILESTONE with children to TASK", now))
		}
		if existing.ParentID != "" && existing.ParentID != parentID {
			if oldParent := h.byID[existing.ParentID]; oldParent != nil {
				oldParent.Children = removeString(oldParent.Children, task.ID)
			}
		}
		delete(h.byPath, existing.Path)
	}

	entry := &hierarchyEntry{
		TaskID:     task.ID,
		ParentID:   parentID,
		Path:       task.Path,
		ParentPath: task.ParentPath,
		Type:       task.Type,
		Depth:      depth,
	}
	if prior := h.byID[task.ID]; prior != nil {
		entry.Children = prior.Children
	}
	h.byID[task.ID] = entry
	h.byPath[task.Path] = task.ID

	if parentID != "" {
		parent := h.byID[parentID]
		if !containsString(parent.Children, task.ID) {
			parent.Children = append(parent.Children, task.ID)
		}
	}

	return ok(&types.IndexEntry{Key: task.Path, EntityID: task.ID, Metadata: entry})
}

// Delete removes id from the hierarchy, detaching it from its parent.
// Cascading to children is the caller's (transaction coordinator's)
// responsibility — the index only removes the one entry asked for.
func (h *Hierarchy) Delete(id string, now time.Time) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, had := h.byID[id]
	if !had {
		return fail(types.NewError(types.ErrNotFound, "hierarchy.delete", "id not indexed", now))
	}
	if entry.ParentID != "" {
		if parent := h.byID[entry.ParentID]; parent != nil {
			parent.Children = removeString(parent.Children, id)
		}
	}
	delete(h.byID, id)
	delete(h.byPath, entry.Path)
	return ok(&types.IndexEntry{Key: entry.Path, EntityID: id})
}

// Children returns the immediate child task IDs of parentID, in
// insertion order.
func (h *Hierarchy) Children(parentID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok2 := h.byID[parentID]
	if !ok2 {
		return nil
	}
	return append([]string(nil), entry.Children...)
}

// Get returns the hierarchy entry for id.
func (h *Hierarchy) Get(id string) (parentID string, depth int, children []string, found bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok2 := h.byID[id]
	if !ok2 {
		return "", 0, nil, false
	}
	return entry.ParentID, entry.Depth, append([]string(nil), entry.Children...), true
}

// Query returns task IDs matching f.Types (or all) in path order.
func (h *Hierarchy) Query(f Filter) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	paths := sortedKeys(h.byPath)
	var ids []string
	for _, p := range paths {
		id := h.byPath[p]
		entry := h.byID[id]
		if len(f.Types) > 0 && !typeIn(entry.Type, f.Types) {
			continue
		}
		ids = append(ids, id)
	}
	return applyPaging(ids, f)
}

func typeIn(t types.TaskType, types_ []types.TaskType) bool {
	for _, want := range types_ {
		if want == t {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, x := range ss {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}

// Clear empties the index.
func (h *Hierarchy) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID = make(map[string]*hierarchyEntry)
	h.byPath = make(map[string]string)
}

// Stats reports occupancy.
func (h *Hierarchy) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{EntryCount: len(h.byID)}
}
