// Package statemachine implements the per-task status finite
// automaton: the transition table, the guards
// that consult the dependency and hierarchy indexes, and the
// propagation effects a transition can trigger on other tasks.
// The index package's CanTransition table is the single source of
// truth for the edge set.
package statemachine

import (
	"time"

	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/types"
)

// DependencyLookup resolves a task path to its current status and
// existence, letting the guards consult the dependency graph without
// importing the full index package's mutation surface.
type DependencyLookup interface {
	StatusOf(path string) (types.Status, bool)
	DependenciesOf(path string) []string
	DependentsOf(path string) []string
}

// ChildLookup resolves a task's immediate children by path.
type ChildLookup interface {
	ChildrenOf(path string) []string
	TypeOf(path string) (types.TaskType, bool)
	StatusOf(path string) (types.Status, bool)
}

// TransitionRequest describes a single proposed status change.
type TransitionRequest struct {
	TaskID   string
	TaskPath string
	TaskType types.TaskType
	From     types.Status
	To       types.Status
}

// TransitionOutcome is the result of evaluating one transition: the
// status actually applied (which may be auto-rewritten per the
// -> IN_PROGRESS guard), any blocking dependency paths, and the
// propagation effects to apply in the same commit.
type TransitionOutcome struct {
	AppliedStatus types.Status
	AutoRewritten bool
	BlockedBy     []string
	Propagations  []Propagation
	Err           *types.Error
}

// Propagation is one induced transition on a task other than the one
// the caller directly requested.
type Propagation struct {
	TaskPath string
	From     types.Status
	To       types.Status
	Reason   string
}

// Evaluate applies the transition guards to req and computes any
// propagation effects. It does not mutate any index — the transaction
// coordinator applies AppliedStatus and each Propagation atomically.
func Evaluate(req TransitionRequest, deps DependencyLookup, children ChildLookup, now time.Time) TransitionOutcome {
	if !index.CanTransition(req.From, req.To) {
		return TransitionOutcome{Err: types.NewError(types.ErrInvalidTransition, "statemachine.evaluate",
			"transition not allowed", now).WithDetails(map[string]any{"from": req.From, "to": req.To})}
	}

	switch req.To {
	case types.StatusInProgress:
		blocking := unmetDependencies(req.TaskPath, deps)
		if len(blocking) > 0 {
			// Guard: auto-rewrite to BLOCKED and report the blockers,
			// rather than rejecting the request outright.
			return TransitionOutcome{
				AppliedStatus: types.StatusBlocked,
				AutoRewritten: true,
				BlockedBy:     blocking,
			}
		}
		return TransitionOutcome{AppliedStatus: types.StatusInProgress}

	case types.StatusCompleted:
		blocking := unmetDependencies(req.TaskPath, deps)
		if len(blocking) > 0 {
			return TransitionOutcome{Err: types.NewError(types.ErrDependencyNotReady, "statemachine.evaluate",
				"dependencies not completed", now).WithDetails(map[string]any{"blocking": blocking})}
		}
		if req.TaskType == types.TaskTypeMilestone {
			unfinished := unfinishedChildren(req.TaskPath, children)
			if len(unfinished) > 0 {
				return TransitionOutcome{Err: types.NewError(types.ErrChildrenNotCompleted, "statemachine.evaluate",
					"milestone has incomplete children", now).WithDetails(map[string]any{"children": unfinished})}
			}
		}
		props := propagateCompletion(req.TaskPath, deps, now)
		return TransitionOutcome{AppliedStatus: types.StatusCompleted, Propagations: props}

	case types.StatusBlocked:
		return TransitionOutcome{AppliedStatus: types.StatusBlocked}

	case types.StatusCancelled:
		props := propagateCancellation(req.TaskPath, deps, children, now)
		return TransitionOutcome{AppliedStatus: types.StatusCancelled, Propagations: props}

	default:
		return TransitionOutcome{AppliedStatus: req.To}
	}
}

// unmetDependencies returns the dependency paths of taskPath that are
// not yet COMPLETED, sorted for deterministic reporting.
func unmetDependencies(taskPath string, deps DependencyLookup) []string {
	var blocking []string
	for _, dep := range deps.DependenciesOf(taskPath) {
		st, found := deps.StatusOf(dep)
		if !found || st != types.StatusCompleted {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

// propagateCompletion computes which BLOCKED dependents of
// taskPath can now move to PENDING because every one of their
// dependencies is COMPLETED (taskPath now among them). Iteration order
// is the order DependentsOf returns; the engine's adapter returns the
// dependents sorted by path, not by task id.
func propagateCompletion(taskPath string, deps DependencyLookup, now time.Time) []Propagation {
	var props []Propagation
	for _, dependent := range deps.DependentsOf(taskPath) {
		st, found := deps.StatusOf(dependent)
		if !found || st != types.StatusBlocked {
			continue
		}
		// taskPath is not yet COMPLETED in the lookup; count it as done.
		unmet := 0
		for _, dep := range unmetDependencies(dependent, deps) {
			if dep != taskPath {
				unmet++
			}
		}
		if unmet == 0 {
			props = append(props, Propagation{
				TaskPath: dependent,
				From:     types.StatusBlocked,
				To:       types.StatusPending,
				Reason:   "all dependencies completed",
			})
		}
	}
	return props
}

// propagateCancellation cascades CANCELLED along two axes:
// every non-COMPLETED immediate child of taskPath (the
// hierarchy cascade), and every dependent of taskPath that has no
// alternative satisfying chain (the dependency cascade) — a dependent
// with at least one other live, non-terminal dependency could still
// complete once that dependency does, so it is spared. Both cascades
// recurse: a task cancelled by either axis is in turn walked for its
// own children and dependents.
func propagateCancellation(taskPath string, deps DependencyLookup, children ChildLookup, now time.Time) []Propagation {
	var props []Propagation
	visited := map[string]bool{taskPath: true}

	cascade := func(path, reason string) bool {
		if visited[path] {
			return false
		}
		st, found := children.StatusOf(path)
		if !found || st == types.StatusCompleted || st == types.StatusCancelled {
			return false
		}
		visited[path] = true
		props = append(props, Propagation{TaskPath: path, From: st, To: types.StatusCancelled, Reason: reason})
		return true
	}

	var walkChildren, walkDependents func(path string)

	walkChildren = func(path string) {
		for _, childPath := range children.ChildrenOf(path) {
			if cascade(childPath, "parent cancelled") {
				walkChildren(childPath)
				walkDependents(childPath)
			}
		}
	}
	walkDependents = func(path string) {
		for _, dependent := range deps.DependentsOf(path) {
			if hasAlternativeSatisfyingChain(dependent, path, deps) {
				continue
			}
			if cascade(dependent, "required dependency cancelled") {
				walkDependents(dependent)
				walkChildren(dependent)
			}
		}
	}

	walkChildren(taskPath)
	walkDependents(taskPath)
	return props
}

// hasAlternativeSatisfyingChain reports whether dependentPath has some
// dependency other than the one just cancelled that is still live
// (neither COMPLETED nor CANCELLED) — an open path that could still
// carry the dependent to completion, sparing it from the cascade.
func hasAlternativeSatisfyingChain(dependentPath, justCancelled string, deps DependencyLookup) bool {
	for _, dep := range deps.DependenciesOf(dependentPath) {
		if dep == justCancelled {
			continue
		}
		st, found := deps.StatusOf(dep)
		if found && st != types.StatusCompleted && st != types.StatusCancelled {
			return true
		}
	}
	return false
}

// unfinishedChildren returns the immediate child paths of taskPath
// that are not COMPLETED.
func unfinishedChildren(taskPath string, children ChildLookup) []string {
	var out []string
	for _, childPath := range children.ChildrenOf(taskPath) {
		st, found := children.StatusOf(childPath)
		if !found || st != types.StatusCompleted {
			out = append(out, childPath)
		}
	}
	return out
}
