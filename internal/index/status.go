package index

import (
	"sort"
	"sync"
	"time"

	"github.com/atlasengine/atlas/internal/types"
)

// statusTransitions is the allowed-edge table. The Status
// index enforces it independently of the state machine package so
// that a raw index mutation (e.g. during rebuild) can never silently
// create a state the machine would have rejected.
// Cancellation is allowed from every state except COMPLETED, so a
// BLOCKED task can be cancelled both directly and by the state
// machine's cancellation cascade.
var statusTransitions = map[types.Status]map[types.Status]bool{
	types.StatusPending:    {types.StatusInProgress: true, types.StatusBlocked: true, types.StatusCancelled: true},
	types.StatusInProgress: {types.StatusCompleted: true, types.StatusBlocked: true, types.StatusCancelled: true},
	types.StatusBlocked:    {types.StatusPending: true, types.StatusInProgress: true, types.StatusCancelled: true},
	types.StatusCancelled:  {types.StatusPending: true},
	types.StatusCompleted:  {types.StatusInProgress: true},
}

// CanTransition reports whether from -> to is an allowed edge, or is a
// no-op (from == to, always allowed as an idempotent re-set).
func CanTransition(from, to types.Status) bool {
	if from == to {
		return true
	}
	return statusTransitions[from][to]
}

// Status indexes tasks by their current status.
type Status struct {
	mu     sync.RWMutex
	byID   map[string]types.Status
	bucket map[types.Status]map[string]bool
}

// NewStatus creates an empty status index.
func NewStatus() *Status {
	return &Status{
		byID:   make(map[string]types.Status),
		bucket: make(map[types.Status]map[string]bool),
	}
}

func (s *Status) ensureBucket(st types.Status) map[string]bool {
	b, ok := s.bucket[st]
	if !ok {
		b = make(map[string]bool)
		s.bucket[st] = b
	}
	return b
}

// Upsert records id's status, validating the transition. A
// first-time insert (no prior status recorded) is always accepted —
// there is no "from" state to validate against.
func (s *Status) Upsert(id string, newStatus types.Status, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, had := s.byID[id]
	if had && !CanTransition(prior, newStatus) {
		return fail(types.NewError(types.ErrInvalidTransition, "status.upsert",
			"transition not allowed", now).WithDetails(map[string]any{
			"from": prior, "to": newStatus, "id": id,
		}))
	}
	if had {
		delete(s.bucket[prior], id)
	}
	s.byID[id] = newStatus
	s.ensureBucket(newStatus)[id] = true
	return ok(&types.IndexEntry{Key: string(newStatus), EntityID: id})
}

// Delete removes id from the index entirely.
func (s *Status) Delete(id string, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, had := s.byID[id]
	if !had {
		return fail(types.NewError(types.ErrNotFound, "status.delete", "id not indexed", now))
	}
	delete(s.byID, id)
	delete(s.bucket[st], id)
	return ok(&types.IndexEntry{Key: string(st), EntityID: id})
}

// Get returns the currently recorded status for id.
func (s *Status) Get(id string) (types.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok2 := s.byID[id]
	return st, ok2
}

// Query returns ids matching any of f.Statuses (or all ids if none
// given), sorted by id for deterministic iteration order, which the
// state machine's propagation tie-break relies on.
func (s *Status) Query(f Filter) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if len(f.Statuses) == 0 {
		ids = sortedKeys(s.byID)
	} else {
		seen := make(map[string]bool)
		for _, st := range f.Statuses {
			for id := range s.bucket[st] {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		sort.Strings(ids)
	}
	return applyPaging(ids, f)
}

// Clear empties the index.
func (s *Status) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]types.Status)
	s.bucket = make(map[types.Status]map[string]bool)
}

// Stats reports occupancy.
func (s *Status) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{EntryCount: len(s.byID)}
}
