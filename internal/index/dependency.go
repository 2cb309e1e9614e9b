package index

import (
	"sort"
	"sync"
	"time"

	"github.com/atlasengine/atlas/internal/types"
)

// Dependency indexes outgoing edges (task -> targets it depends on)
// and the inverse (target -> sources that depend on it).
type Dependency struct {
	mu       sync.RWMutex
	outgoing map[string]map[string]types.Dependency // source -> target -> edge
	incoming map[string]map[string]bool             // target -> sources
}

// NewDependency creates an empty dependency index.
func NewDependency() *Dependency {
	return &Dependency{
		outgoing: make(map[string]map[string]types.Dependency),
		incoming: make(map[string]map[string]bool),
	}
}

// Add inserts an edge source -> target. Existence/cycle checks are
// the dependency validator's job; the index itself only
// maintains the adjacency maps.
func (d *Dependency) Add(edge types.Dependency, now time.Time) Result {
	if edge.Source == "" || edge.Target == "" {
		return fail(types.NewError(types.ErrMissingField, "dependency.add", "source/target required", now))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outgoing[edge.Source] == nil {
		d.outgoing[edge.Source] = make(map[string]types.Dependency)
	}
	d.outgoing[edge.Source][edge.Target] = edge
	if d.incoming[edge.Target] == nil {
		d.incoming[edge.Target] = make(map[string]bool)
	}
	d.incoming[edge.Target][edge.Source] = true
	return ok(&types.IndexEntry{Key: edge.Source + "->" + edge.Target, EntityID: edge.Source})
}

// Remove deletes the edge source -> target, if present.
func (d *Dependency) Remove(source, target string, now time.Time) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outgoing[source] == nil || !hasEdge(d.outgoing[source], target) {
		return fail(types.NewError(types.ErrNotFound, "dependency.remove", "edge not found", now))
	}
	delete(d.outgoing[source], target)
	if len(d.outgoing[source]) == 0 {
		delete(d.outgoing, source)
	}
	if d.incoming[target] != nil {
		delete(d.incoming[target], source)
		if len(d.incoming[target]) == 0 {
			delete(d.incoming, target)
		}
	}
	return ok(&types.IndexEntry{Key: source + "->" + target, EntityID: source})
}

func hasEdge(m map[string]types.Dependency, target string) bool {
	_, ok := m[target]
	return ok
}

// RemoveAllFor removes every edge touching taskPath, as both source
// and target. Used when a task is deleted to clean up inbound edges.
func (d *Dependency) RemoveAllFor(taskPath string) []types.Dependency {
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed []types.Dependency
	if out, ok := d.outgoing[taskPath]; ok {
		for target, edge := range out {
			removed = append(removed, edge)
			if d.incoming[target] != nil {
				delete(d.incoming[target], taskPath)
			}
		}
		delete(d.outgoing, taskPath)
	}
	for source := range d.incoming[taskPath] {
		if d.outgoing[source] != nil {
			if edge, ok := d.outgoing[source][taskPath]; ok {
				removed = append(removed, edge)
			}
			delete(d.outgoing[source], taskPath)
		}
	}
	delete(d.incoming, taskPath)
	return removed
}

// Outgoing returns the sorted target paths taskPath directly depends on.
func (d *Dependency) Outgoing(taskPath string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := d.outgoing[taskPath]
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Incoming returns the sorted source paths that directly depend on
// taskPath.
func (d *Dependency) Incoming(taskPath string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	in := d.incoming[taskPath]
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Edges returns every edge whose source is taskPath, sorted by target.
func (d *Dependency) Edges(taskPath string) []types.Dependency {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := d.outgoing[taskPath]
	targets := make([]string, 0, len(out))
	for t := range out {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	edges := make([]types.Dependency, 0, len(targets))
	for _, t := range targets {
		edges = append(edges, out[t])
	}
	return edges
}

// HasCycleFrom runs a depth-first search starting at candidate,
// following outgoing edges and skipping nodes already visited, looking
// for a path to start (i.e.
// whether adding start -> candidate would close a cycle). maxDepth
// bounds the search; exceeding it returns (false, true).
func (d *Dependency) HasCycleFrom(start, candidate string, maxDepth int) (cycle bool, depthExceeded bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	visited := make(map[string]bool)
	var dfs func(node string, depth int) (bool, bool)
	dfs = func(node string, depth int) (bool, bool) {
		if node == start {
			return true, false
		}
		if depth > maxDepth {
			return false, true
		}
		if visited[node] {
			return false, false
		}
		visited[node] = true
		for target := range d.outgoing[node] {
			found, exceeded := dfs(target, depth+1)
			if found || exceeded {
				return found, exceeded
			}
		}
		return false, false
	}
	return dfs(candidate, 0)
}

// Clear empties the index.
func (d *Dependency) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outgoing = make(map[string]map[string]types.Dependency)
	d.incoming = make(map[string]map[string]bool)
}

// Stats reports occupancy (edge count).
func (d *Dependency) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, m := range d.outgoing {
		n += len(m)
	}
	return Stats{EntryCount: n}
}
