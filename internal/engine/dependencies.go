package engine

import (
	"context"

	"github.com/atlasengine/atlas/internal/txn"
	"github.com/atlasengine/atlas/internal/types"
)

// AddDependencyParams is the payload for adding a dependency edge.
type AddDependencyParams struct {
	Source      string
	Target      string
	Kind        types.DependencyKind
	Description string
}

// AddDependency validates the proposed edge against both endpoints'
// existence and the cycle check, then stages it through a
// single-op transaction.
func (e *Engine) AddDependency(ctx context.Context, p AddDependencyParams) types.Result[types.Dependency] {
	now := e.clock()
	edge := types.Dependency{Source: p.Source, Target: p.Target, Kind: p.Kind, Description: p.Description}
	if !edge.Kind.Valid() {
		return errResult[types.Dependency](types.ErrInvalidValue, "engine.add_dependency", "unrecognized dependency kind", now)
	}

	vr := e.valid.ValidateEdge(edge, now)
	if !vr.Valid {
		return types.Err[types.Dependency](vr.Errors[0])
	}

	co := e.newCoordinator()
	if err := co.Begin(ctx); err != nil {
		return types.Err[types.Dependency](err)
	}
	res := co.Execute(ctx, txn.Op{Kind: txn.OpAddDependency, Dependency: &edge})
	if !res.Success {
		_ = co.Rollback(ctx)
		return types.Err[types.Dependency](res.Error)
	}
	if err := co.Commit(ctx); err != nil {
		return types.Err[types.Dependency](err)
	}
	return types.Ok(edge)
}

// RemoveDependency removes the edge source -> target.
func (e *Engine) RemoveDependency(ctx context.Context, source, target string) types.Result[bool] {
	edge := types.Dependency{Source: source, Target: target}

	co := e.newCoordinator()
	if err := co.Begin(ctx); err != nil {
		return types.Err[bool](err)
	}
	res := co.Execute(ctx, txn.Op{Kind: txn.OpRemoveDependency, Dependency: &edge})
	if !res.Success {
		_ = co.Rollback(ctx)
		return types.Err[bool](res.Error)
	}
	if err := co.Commit(ctx); err != nil {
		return types.Err[bool](err)
	}
	return types.Ok(true)
}

// ListDependencies returns every outgoing edge from the task at path.
func (e *Engine) ListDependencies(path string) types.Result[[]types.Dependency] {
	return types.Ok(e.indexes.Dependency.Edges(path))
}
