package engine

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/atlasengine/atlas/internal/backup"
	"github.com/atlasengine/atlas/internal/cache"
	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/txn"
	"github.com/atlasengine/atlas/internal/types"
	"github.com/atlasengine/atlas/internal/walstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal in-memory walstore.Backend, mirroring the
// txn package's own test fake, extended with a working Range so the
// engine's Recover/Vacuum/Import paths can be exercised directly.
type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBackend() *fakeBackend { return &fakeBackend{data: make(map[string][]byte)} }

func (f *fakeBackend) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}
func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}
func (f *fakeBackend) Range(ctx context.Context, prefix string) ([]walstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []walstore.Record
	for k, v := range f.data {
		if prefix == "" || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out = append(out, walstore.Record{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
func (f *fakeBackend) Apply(ctx context.Context, batch []walstore.BatchOp) (walstore.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range batch {
		if op.Delete {
			delete(f.data, op.Key)
		} else {
			f.data[op.Key] = op.Value
		}
	}
	return walstore.BatchResult{Applied: true}, nil
}
func (f *fakeBackend) Checkpoint(ctx context.Context) error { return nil }
func (f *fakeBackend) Verify(ctx context.Context) (*walstore.IntegrityReport, error) {
	return &walstore.IntegrityReport{}, nil
}
func (f *fakeBackend) Close() error { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := newFakeBackend()
	bus := eventbus.New(nil)
	c := cache.New(cache.DefaultConfig(), bus)
	return New(store, c, bus, nil, txn.ModeAtomic)
}

func mustCreateProject(t *testing.T, e *Engine, path string) {
	t.Helper()
	res := e.CreateProject(CreateProjectParams{Path: path, Name: path})
	require.True(t, res.IsOk())
}

func mustCreateTask(t *testing.T, e *Engine, path string, taskType types.TaskType) *types.Task {
	t.Helper()
	res := e.CreateTask(context.Background(), CreateTaskParams{Path: path, Name: path, Type: taskType})
	require.True(t, res.IsOk(), "create %s: %v", path, res.Error())
	return res.Value()
}

// TestDependencyGatedCompletion: a task blocked on an
// incomplete dependency cannot complete until the dependency does, and
// completing the dependency propagates its blocked dependent to PENDING.
func TestDependencyGatedCompletion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")
	mustCreateTask(t, e, "proj/a", types.TaskTypeTask)
	mustCreateTask(t, e, "proj/b", types.TaskTypeTask)

	addRes := e.AddDependency(ctx, AddDependencyParams{Source: "proj/b", Target: "proj/a", Kind: types.DepRequires})
	require.True(t, addRes.IsOk())

	blockedRes := e.TransitionStatus(ctx, "proj/b", types.StatusInProgress)
	require.True(t, blockedRes.IsOk())
	assert.Equal(t, types.StatusBlocked, blockedRes.Value().Status)

	completeA := e.TransitionStatus(ctx, "proj/a", types.StatusInProgress)
	require.True(t, completeA.IsOk())
	completeA = e.TransitionStatus(ctx, "proj/a", types.StatusCompleted)
	require.True(t, completeA.IsOk(), "complete a: %v", completeA.Error())

	bRes := e.GetByPath("proj/b")
	require.True(t, bRes.IsOk())
	assert.Equal(t, types.StatusPending, bRes.Value().Status)
}

// TestCycleRejection: adding an edge that would close
// a cycle is rejected with CIRCULAR_DEPENDENCY and mutates no index.
func TestCycleRejection(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")
	mustCreateTask(t, e, "proj/a", types.TaskTypeTask)
	mustCreateTask(t, e, "proj/b", types.TaskTypeTask)

	require.True(t, e.AddDependency(ctx, AddDependencyParams{Source: "proj/a", Target: "proj/b", Kind: types.DepRequires}).IsOk())

	res := e.AddDependency(ctx, AddDependencyParams{Source: "proj/b", Target: "proj/a", Kind: types.DepRequires})
	require.False(t, res.IsOk())
	assert.Equal(t, types.ErrCircularDependency, res.Error().Code)

	deps := e.ListDependencies("proj/b").Value()
	assert.Empty(t, deps)
}

// TestCancellationCascade: cancelling a milestone
// cascades CANCELLED to every non-completed descendant, and each
// induced transition is observed as its own status_changed event.
func TestCancellationCascade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")
	mustCreateTask(t, e, "proj/m", types.TaskTypeMilestone)
	mustCreateTask(t, e, "proj/m/a", types.TaskTypeTask)
	mustCreateTask(t, e, "proj/m/b", types.TaskTypeTask)

	var seen []string
	var mu sync.Mutex
	_, err := e.bus.Register(&eventbus.FuncHandler{
		HandlerID: "test-observer",
		Fn: func(ctx context.Context, ev *eventbus.Event) error {
			if ev.Type == eventbus.EventStatusChanged {
				mu.Lock()
				seen = append(seen, ev.TaskID)
				mu.Unlock()
			}
			return nil
		},
	})
	require.NoError(t, err)

	res := e.TransitionStatus(ctx, "proj/m", types.StatusCancelled)
	require.True(t, res.IsOk(), "cancel milestone: %v", res.Error())

	aRes := e.GetByPath("proj/m/a")
	bRes := e.GetByPath("proj/m/b")
	require.True(t, aRes.IsOk())
	require.True(t, bRes.IsOk())
	assert.Equal(t, types.StatusCancelled, aRes.Value().Status)
	assert.Equal(t, types.StatusCancelled, bRes.Value().Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
}

// TestCancelCascadesToBlockedDependent: a dependent that was
// auto-rewritten to BLOCKED must itself be cancellable when its sole
// dependency is cancelled — the cascade's induced BLOCKED→CANCELLED
// transition has to commit, not roll the whole cancel back.
func TestCancelCascadesToBlockedDependent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")
	mustCreateTask(t, e, "proj/a", types.TaskTypeTask)
	mustCreateTask(t, e, "proj/b", types.TaskTypeTask)

	require.True(t, e.AddDependency(ctx, AddDependencyParams{Source: "proj/b", Target: "proj/a", Kind: types.DepRequires}).IsOk())

	blocked := e.TransitionStatus(ctx, "proj/b", types.StatusInProgress)
	require.True(t, blocked.IsOk())
	require.Equal(t, types.StatusBlocked, blocked.Value().Status)

	cancelled := e.TransitionStatus(ctx, "proj/a", types.StatusCancelled)
	require.True(t, cancelled.IsOk(), "cancel a: %v", cancelled.Error())

	bRes := e.GetByPath("proj/b")
	require.True(t, bRes.IsOk())
	assert.Equal(t, types.StatusCancelled, bRes.Value().Status)
}

// TestDeleteCascadesToChildren covers delete removing the task's
// entire subtree.
func TestDeleteCascadesToChildren(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")
	mustCreateTask(t, e, "proj/m", types.TaskTypeMilestone)
	mustCreateTask(t, e, "proj/m/a", types.TaskTypeTask)

	res := e.DeleteTask(ctx, "proj/m")
	require.True(t, res.IsOk())

	assert.False(t, e.GetByPath("proj/m").IsOk())
	assert.False(t, e.GetByPath("proj/m/a").IsOk())
}

// TestAtomicBulkWithOneInvalidItem: a bulk create
// where one item references a parent that doesn't exist rolls back the
// entire batch, leaving the primary index untouched, and reports the
// failing index with INVALID_REFERENCE.
func TestAtomicBulkWithOneInvalidItem(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")

	before := e.indexes.Primary.Stats().EntryCount

	items := []CreateTaskParams{
		{Path: "proj/a", Name: "a", Type: types.TaskTypeTask},
		{Path: "proj/b", Name: "b", Type: types.TaskTypeTask},
		{Path: "proj/ghost/c", Name: "c", Type: types.TaskTypeTask}, // parent "proj/ghost" does not exist
		{Path: "proj/d", Name: "d", Type: types.TaskTypeTask},
		{Path: "proj/e", Name: "e", Type: types.TaskTypeTask},
	}

	res := e.BulkCreateTasks(ctx, items)
	require.False(t, res.IsOk())
	assert.Equal(t, types.ErrInvalidReference, res.Error().Code)

	results, ok := res.Error().Details["operation_results"].([]types.OperationResult)
	require.True(t, ok, "error details must carry the per-item operation_results")
	require.Len(t, results, len(items))
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	require.False(t, results[2].Success)
	assert.Equal(t, types.ErrInvalidReference, results[2].Error.Code)
	assert.False(t, results[3].Success)
	assert.False(t, results[4].Success)

	after := e.indexes.Primary.Stats().EntryCount
	assert.Equal(t, before, after, "primary index size must be unchanged after rollback")
	assert.False(t, e.GetByPath("proj/a").IsOk())
	assert.False(t, e.GetByPath("proj/b").IsOk())
}

// TestBulkCreateProjectsRollsBackOnDuplicate exercises the Project
// side of the bulk-operation contract: a batch where a later item
// collides with an existing project path leaves none of the batch's
// earlier items registered.
func TestBulkCreateProjectsRollsBackOnDuplicate(t *testing.T) {
	e := newTestEngine(t)
	mustCreateProject(t, e, "existing")

	items := []CreateProjectParams{
		{Path: "alpha", Name: "alpha"},
		{Path: "beta", Name: "beta"},
		{Path: "existing", Name: "dup"},
		{Path: "gamma", Name: "gamma"},
	}

	res := e.BulkCreateProjects(items)
	require.False(t, res.IsOk())
	assert.Equal(t, types.ErrDuplicate, res.Error().Code)

	results, ok := res.Error().Details["operation_results"].([]types.OperationResult)
	require.True(t, ok)
	require.Len(t, results, len(items))
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.False(t, results[3].Success)

	assert.False(t, e.GetProject("alpha").IsOk())
	assert.False(t, e.GetProject("beta").IsOk())
	assert.False(t, e.GetProject("gamma").IsOk())
	require.True(t, e.GetProject("existing").IsOk())
}

// TestExportImportRoundTrip: export then import into
// a freshly cleared store reproduces every task.
func TestExportImportRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustCreateProject(t, e, "proj")
	mustCreateTask(t, e, "proj/a", types.TaskTypeTask)

	manifest := backup.BuildManifest(mustRange(t, e), e.clock())
	require.NotZero(t, manifest.RecordCount)

	require.True(t, e.ClearAll(ctx).IsOk())
	assert.False(t, e.GetByPath("proj/a").IsOk())

	importRes := e.Import(ctx, manifest)
	require.True(t, importRes.IsOk(), "import: %v", importRes.Error())

	aRes := e.GetByPath("proj/a")
	require.True(t, aRes.IsOk())
	assert.Equal(t, "proj/a", aRes.Value().Path)
}

func mustRange(t *testing.T, e *Engine) []walstore.Record {
	t.Helper()
	records, err := e.store.Range(context.Background(), "")
	require.NoError(t, err)
	return records
}

// TestWhiteboardVersionedHistory covers the Whiteboard update contract:
// each update archives the prior content and bumps Version.
func TestWhiteboardVersionedHistory(t *testing.T) {
	e := newTestEngine(t)
	mustCreateProject(t, e, "proj")

	createRes := e.CreateWhiteboard(CreateWhiteboardParams{ProjectRef: "proj", Title: "notes", Content: "v1"})
	require.True(t, createRes.IsOk())
	board := createRes.Value()
	assert.Equal(t, uint64(1), board.Version)

	updateRes := e.UpdateWhiteboard(board.ID, "v2")
	require.True(t, updateRes.IsOk())
	updated := updateRes.Value()
	assert.Equal(t, uint64(2), updated.Version)
	require.Len(t, updated.History, 1)
	assert.Equal(t, "v1", updated.History[0].Content)
}
