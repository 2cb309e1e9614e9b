// Package validator implements the dependency validator:
// existence checks, cycle detection, and the
// status-readiness guard reused by the state machine. Validation
// reports every failing edge, not only the first.
package validator

import (
	"time"

	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/types"
)

// MaxDependencyDepth bounds the cycle-detection DFS; exceeding it
// reports DEPENDENCY_DEPTH_EXCEEDED.
const MaxDependencyDepth = 64

// ValidationResult is the typed outcome of validating one or more
// proposed dependency edges.
type ValidationResult struct {
	Valid                bool
	Errors               []*types.Error
	BlockingDependencies []string
	StatusConflicts      []string
}

// PrimaryLookup resolves whether a path exists in the primary index.
type PrimaryLookup interface {
	Exists(path string) bool
}

// Validator checks dependency edges against the primary and
// dependency indexes.
type Validator struct {
	Primary    PrimaryLookup
	Dependency *index.Dependency
}

// New constructs a Validator over the given indexes.
func New(primary PrimaryLookup, dep *index.Dependency) *Validator {
	return &Validator{Primary: primary, Dependency: dep}
}

// ValidateEdge checks a single proposed edge source -> target:
// existence of both endpoints, then whether adding it would close a
// cycle. It does not mutate the dependency index.
func (v *Validator) ValidateEdge(edge types.Dependency, now time.Time) ValidationResult {
	result := ValidationResult{Valid: true}

	if !v.Primary.Exists(edge.Source) {
		result.Valid = false
		result.Errors = append(result.Errors, types.NewError(types.ErrInvalidReference, "validator.validate_edge",
			"source task does not exist", now).WithDetails(map[string]any{"path": edge.Source}))
	}
	if !v.Primary.Exists(edge.Target) {
		result.Valid = false
		result.Errors = append(result.Errors, types.NewError(types.ErrInvalidReference, "validator.validate_edge",
			"target task does not exist", now).WithDetails(map[string]any{"path": edge.Target}))
	}
	if !result.Valid {
		return result
	}

	if edge.Source == edge.Target {
		result.Valid = false
		result.Errors = append(result.Errors, types.NewError(types.ErrCircularDependency, "validator.validate_edge",
			"a task may not depend on itself", now))
		return result
	}

	cycle, exceeded := v.Dependency.HasCycleFrom(edge.Source, edge.Target, MaxDependencyDepth)
	if exceeded {
		result.Valid = false
		result.Errors = append(result.Errors, types.NewError(types.ErrDependencyDepthExceeded, "validator.validate_edge",
			"dependency search exceeded max depth", now).WithDetails(map[string]any{"max_depth": MaxDependencyDepth}))
		return result
	}
	if cycle {
		result.Valid = false
		result.Errors = append(result.Errors, types.NewError(types.ErrCircularDependency, "validator.validate_edge",
			"edge would create a dependency cycle", now).WithDetails(map[string]any{"source": edge.Source, "target": edge.Target}))
	}
	return result
}

// StatusLookup resolves a path's current status, for the readiness
// check.
type StatusLookup interface {
	StatusOf(path string) (types.Status, bool)
}

// ValidateReadiness checks, for a task moving to IN_PROGRESS or
// COMPLETED, whether every dependency is COMPLETED. It reports every
// unmet dependency, not just the first.
func (v *Validator) ValidateReadiness(taskPath string, to types.Status, statuses StatusLookup, now time.Time) ValidationResult {
	result := ValidationResult{Valid: true}
	if to != types.StatusInProgress && to != types.StatusCompleted {
		return result
	}
	for _, dep := range v.Dependency.Outgoing(taskPath) {
		st, found := statuses.StatusOf(dep)
		if !found || st != types.StatusCompleted {
			result.BlockingDependencies = append(result.BlockingDependencies, dep)
		}
	}
	if len(result.BlockingDependencies) > 0 {
		result.Valid = false
		result.Errors = append(result.Errors, types.NewError(types.ErrDependencyNotReady, "validator.validate_readiness",
			"dependencies not completed", now).WithDetails(map[string]any{"blocking": result.BlockingDependencies}))
	}
	return result
}
