// Package index implements the four secondary lookup structures
// over the task store (primary, status, hierarchy, and
// dependency) plus a Set coordinator that routes filtered
// queries to whichever index can answer them. All four are pure
// in-memory structures rebuildable from the durable store.
package index

import (
	"sort"

	"github.com/atlasengine/atlas/internal/types"
)

// Result is the common envelope every index operation returns.
type Result struct {
	Success bool
	Entry   *types.IndexEntry
	Entries []*types.IndexEntry
	Error   *types.Error
}

func ok(entry *types.IndexEntry) Result { return Result{Success: true, Entry: entry} }
func fail(err *types.Error) Result      { return Result{Success: false, Error: err} }

// Filter describes a query against the index set. Exactly the fields
// relevant to the chosen routing index are consulted; see Set.Query.
type Filter struct {
	Statuses   []types.Status
	Types      []types.TaskType
	PathPrefix string
	IDs        []string
	Limit      int
	Offset     int
}

// Stats reports index occupancy for observability.
type Stats struct {
	EntryCount int
}

// applyPaging slices an already-sorted key list per Filter.Offset/Limit.
func applyPaging(keys []string, f Filter) []string {
	if f.Offset > 0 {
		if f.Offset >= len(keys) {
			return nil
		}
		keys = keys[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(keys) {
		keys = keys[:f.Limit]
	}
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BatchOp is one mutation inside a Set.Batch call, sharing the
// vocabulary of a transaction coordinator op.
type BatchOp struct {
	Upsert *types.Task
	Delete string // task ID to remove
}
