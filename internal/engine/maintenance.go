package engine

import (
	"context"

	"github.com/atlasengine/atlas/internal/backup"
	"github.com/atlasengine/atlas/internal/types"
	"github.com/atlasengine/atlas/internal/walstore"
)

// ClearAll wipes every task, dependency, project, knowledge, and
// whiteboard entry from both the durable store and every in-memory
// index. It is irreversible; the
// cmd/atlasctl translator is responsible for gating this behind an
// interactive confirmation before calling it.
func (e *Engine) ClearAll(ctx context.Context) types.Result[bool] {
	now := e.clock()
	records, err := e.store.Range(ctx, "")
	if err != nil {
		return errResult[bool](types.ErrStorageIO, "engine.clear_all", err.Error(), now)
	}
	if len(records) > 0 {
		batch := make([]walstore.BatchOp, 0, len(records))
		for _, r := range records {
			batch = append(batch, walstore.BatchOp{Key: r.Key, Delete: true})
		}
		if _, err := e.store.Apply(ctx, batch); err != nil {
			return errResult[bool](types.ErrStorageIO, "engine.clear_all", err.Error(), now)
		}
	}

	e.indexes.Clear()

	e.projMu.Lock()
	e.projects = make(map[string]*types.Project)
	e.projMu.Unlock()

	e.knowMu.Lock()
	e.knowledge = make(map[string]*types.Knowledge)
	e.knowMu.Unlock()

	e.boardMu.Lock()
	e.whiteboards = make(map[string]*types.Whiteboard)
	e.boardMu.Unlock()

	return types.Ok(true)
}

// Vacuum compacts the durable store (checkpointing the WAL into the
// snapshot) and rebuilds every index from the post-compaction state,
// discarding stale derived data in the process.
func (e *Engine) Vacuum(ctx context.Context) types.Result[bool] {
	now := e.clock()
	if err := e.store.Checkpoint(ctx); err != nil {
		return errResult[bool](types.ErrStorageIO, "engine.vacuum", err.Error(), now)
	}
	if recErr := e.Recover(ctx); recErr != nil {
		return types.Err[bool](recErr)
	}
	return types.Ok(true)
}

// RepairRelationships rebuilds the hierarchy and dependency indexes
// from the durable store's current task/dependency records, discarding
// whatever in-memory index state preceded it — the recovery path used
// after a suspected index/store divergence.
func (e *Engine) RepairRelationships(ctx context.Context) types.Result[bool] {
	if err := e.Recover(ctx); err != nil {
		return types.Err[bool](err)
	}
	return types.Ok(true)
}

// Verify runs the durable store's integrity check:
// per-record checksums and referential sanity of parent_path/
// dependency references against the primary table.
func (e *Engine) Verify(ctx context.Context) types.Result[*walstore.IntegrityReport] {
	now := e.clock()
	report, err := e.store.Verify(ctx)
	if err != nil {
		return errResult[*walstore.IntegrityReport](types.ErrStorageIO, "engine.verify", err.Error(), now)
	}
	return types.Ok(report)
}

// Export produces a restorable backup manifest via the backup
// orchestrator, always forced. A forced export resets the debounce
// counter.
func (e *Engine) Export(ctx context.Context) types.Result[*backup.Manifest] {
	now := e.clock()
	if e.backupO == nil {
		return errResult[*backup.Manifest](types.ErrInternal, "engine.export", "backup orchestrator not configured", now)
	}
	manifest, err := e.backupO.Export(ctx, true)
	if err != nil {
		return errResult[*backup.Manifest](types.ErrStorageIO, "engine.export", err.Error(), now)
	}
	return types.Ok(manifest)
}

// Import replays every record in manifest into the durable store and
// rebuilds every index from the result, verifying per-record hashes
// first so a corrupted manifest is rejected before it touches the
// store.
func (e *Engine) Import(ctx context.Context, manifest *backup.Manifest) types.Result[bool] {
	now := e.clock()
	if mismatches := backup.VerifyManifest(manifest); len(mismatches) > 0 {
		err := types.NewError(types.ErrStorageCorrupt, "engine.import", "manifest failed integrity verification", now).
			WithDetails(map[string]any{"mismatches": mismatches})
		return types.Err[bool](err)
	}

	batch := make([]walstore.BatchOp, 0, len(manifest.Records))
	for _, r := range manifest.Records {
		batch = append(batch, walstore.BatchOp{Key: r.Key, Value: r.Value, Delete: r.Tombstone})
	}
	if len(batch) > 0 {
		if _, err := e.store.Apply(ctx, batch); err != nil {
			return errResult[bool](types.ErrStorageIO, "engine.import", err.Error(), now)
		}
	}

	if recErr := e.Recover(ctx); recErr != nil {
		return types.Err[bool](recErr)
	}
	return types.Ok(true)
}
