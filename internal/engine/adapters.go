package engine

import (
	"github.com/atlasengine/atlas/internal/types"
)

// dependencyLookup adapts the engine's index.Set to
// statemachine.DependencyLookup and validator.StatusLookup, both of
// which key by task path while the status/dependency indexes key by
// task id — the adapter resolves id<->path via the primary index.
type dependencyLookup struct{ e *Engine }

func (d dependencyLookup) StatusOf(path string) (types.Status, bool) {
	t, ok := d.e.indexes.Primary.GetByPath(path)
	if !ok {
		return "", false
	}
	return d.e.indexes.Status.Get(t.ID)
}

func (d dependencyLookup) DependenciesOf(path string) []string {
	return d.e.indexes.Dependency.Outgoing(path)
}

func (d dependencyLookup) DependentsOf(path string) []string {
	return d.e.indexes.Dependency.Incoming(path)
}

// childLookup adapts index.Set to statemachine.ChildLookup, again
// translating the hierarchy index's id-keyed children into the
// path-keyed view the state machine's cascade walk expects.
type childLookup struct{ e *Engine }

func (c childLookup) ChildrenOf(path string) []string {
	t, ok := c.e.indexes.Primary.GetByPath(path)
	if !ok {
		return nil
	}
	childIDs := c.e.indexes.Hierarchy.Children(t.ID)
	paths := make([]string, 0, len(childIDs))
	for _, id := range childIDs {
		if ct, ok := c.e.indexes.Primary.GetByID(id); ok {
			paths = append(paths, ct.Path)
		}
	}
	return paths
}

func (c childLookup) TypeOf(path string) (types.TaskType, bool) {
	t, ok := c.e.indexes.Primary.GetByPath(path)
	if !ok {
		return "", false
	}
	return t.Type, true
}

func (c childLookup) StatusOf(path string) (types.Status, bool) {
	return dependencyLookup{c.e}.StatusOf(path)
}

// validatorStatusLookup adapts the engine to validator.StatusLookup
// (identical shape to dependencyLookup's StatusOf, kept as a distinct
// type so validator.Validator and statemachine.Evaluate each receive
// the exact interface they declare).
type validatorStatusLookup struct{ e *Engine }

func (v validatorStatusLookup) StatusOf(path string) (types.Status, bool) {
	return dependencyLookup{v.e}.StatusOf(path)
}
