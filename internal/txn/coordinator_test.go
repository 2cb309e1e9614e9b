package txn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/types"
	"github.com/atlasengine/atlas/internal/walstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is a minimal in-memory walstore.Backend fake for
// exercising the coordinator without touching the filesystem.
type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (m *memBackend) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
func (m *memBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *memBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
func (m *memBackend) Range(ctx context.Context, prefix string) ([]walstore.Record, error) { return nil, nil }
func (m *memBackend) Apply(ctx context.Context, batch []walstore.BatchOp) (walstore.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return walstore.BatchResult{Applied: false}, assertErr
	}
	for _, op := range batch {
		if op.Delete {
			delete(m.data, op.Key)
		} else {
			m.data[op.Key] = op.Value
		}
	}
	return walstore.BatchResult{Applied: true}, nil
}
func (m *memBackend) Checkpoint(ctx context.Context) error                       { return nil }
func (m *memBackend) Verify(ctx context.Context) (*walstore.IntegrityReport, error) { return &walstore.IntegrityReport{}, nil }
func (m *memBackend) Close() error                                               { return nil }

var assertErr = &testStorageError{}

type testStorageError struct{}

func (e *testStorageError) Error() string { return "simulated storage failure" }

func taskFor(id, path string) *types.Task {
	return &types.Task{ID: id, Path: path, Type: types.TaskTypeTask, Status: types.StatusPending, Name: id}
}

func TestCoordinatorCommitAppliesToAllIndexes(t *testing.T) {
	store := newMemBackend()
	idx := index.NewSet()
	co := New(store, idx, nil, nil, ModeAtomic, nil)

	require.Nil(t, co.Begin(context.Background()))
	res := co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: taskFor("t1", "proj/t1")})
	require.True(t, res.Success)
	require.Nil(t, co.Commit(context.Background()))

	got, ok := idx.Primary.GetByID("t1")
	require.True(t, ok)
	assert.Equal(t, "proj/t1", got.Path)

	_, found, _ := store.Get(context.Background(), taskKey("t1"))
	assert.True(t, found)
	assert.Equal(t, types.TxnCommitted, co.State())
}

func TestCoordinatorRollbackRestoresIndexes(t *testing.T) {
	store := newMemBackend()
	idx := index.NewSet()
	co := New(store, idx, nil, nil, ModeAtomic, NewRollbackManager(RollbackConfig{RetryAttempts: 1, RetryBaseDelay: time.Millisecond, ParallelRollback: false, ValidateAfter: true}))

	require.Nil(t, co.Begin(context.Background()))
	co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: taskFor("t1", "proj/t1")})
	require.Nil(t, co.Rollback(context.Background()))

	_, ok := idx.Primary.GetByID("t1")
	assert.False(t, ok)
	assert.Equal(t, types.TxnRolledBack, co.State())
}

func TestCoordinatorCommitFailureTriggersRollback(t *testing.T) {
	store := newMemBackend()
	store.fail = true
	idx := index.NewSet()
	co := New(store, idx, nil, nil, ModeAtomic, NewRollbackManager(RollbackConfig{RetryAttempts: 1, RetryBaseDelay: time.Millisecond, ParallelRollback: false, ValidateAfter: true}))

	require.Nil(t, co.Begin(context.Background()))
	co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: taskFor("t1", "proj/t1")})
	err := co.Commit(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, types.ErrStorageIO, err.Code)

	_, ok := idx.Primary.GetByID("t1")
	assert.False(t, ok, "index mutation must be compensated when durable commit fails")
}

func TestCoordinatorBulkInvalidItemRollsBackWholeBatch(t *testing.T) {
	store := newMemBackend()
	idx := index.NewSet()
	co := New(store, idx, nil, nil, ModeAtomic, nil)

	require.Nil(t, co.Begin(context.Background()))
	for i := 0; i < 2; i++ {
		res := co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: taskFor(string(rune('a'+i)), "proj/"+string(rune('a'+i)))})
		require.True(t, res.Success)
	}
	// Third item references a parent that does not exist.
	bad := taskFor("c", "proj/c")
	bad.ParentPath = "proj/missing"
	res := co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: bad})
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrInvalidReference, res.Error.Code)

	require.Nil(t, co.Rollback(context.Background()))
	assert.Equal(t, 0, idx.Primary.Stats().EntryCount)
}

// TestCoordinatorBestEffortModeOnlyTouchesPrimary exercises ModeBestEffort
// end to end: upsert and delete under this mode must write/remove the
// primary index only, leaving the status and hierarchy indexes exactly
// as they were (here, seeded directly to simulate state an earlier
// atomic write established and this best-effort transaction does not
// participate in maintaining).
func TestCoordinatorBestEffortModeOnlyTouchesPrimary(t *testing.T) {
	store := newMemBackend()
	idx := index.NewSet()
	co := New(store, idx, nil, nil, ModeBestEffort, nil)

	task := taskFor("t1", "proj/t1")
	require.True(t, idx.Status.Upsert(task.ID, task.Status, time.Now()).Success)
	require.True(t, idx.Hierarchy.Upsert(task, time.Now()).Success)

	require.Nil(t, co.Begin(context.Background()))
	res := co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: task})
	require.True(t, res.Success)
	require.Nil(t, co.Commit(context.Background()))

	_, ok := idx.Primary.GetByID("t1")
	assert.True(t, ok, "best-effort mode still writes the primary index")

	require.Nil(t, co.Begin(context.Background()))
	res = co.Execute(context.Background(), Op{Kind: OpDeleteTask, Task: task})
	require.True(t, res.Success)
	require.Nil(t, co.Commit(context.Background()))

	_, ok = idx.Primary.GetByID("t1")
	assert.False(t, ok, "primary index must reflect the delete")

	_, statusFound := idx.Status.Get("t1")
	assert.True(t, statusFound, "best-effort delete must not touch the status index")
	_, _, _, hierFound := idx.Hierarchy.Get("t1")
	assert.True(t, hierFound, "best-effort delete must not touch the hierarchy index")
}

func TestCoordinatorDependencyCycleIndependentOfTxn(t *testing.T) {
	store := newMemBackend()
	idx := index.NewSet()
	co := New(store, idx, nil, nil, ModeAtomic, nil)

	require.Nil(t, co.Begin(context.Background()))
	co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: taskFor("a", "proj/a")})
	co.Execute(context.Background(), Op{Kind: OpUpsertTask, Task: taskFor("b", "proj/b")})
	res := co.Execute(context.Background(), Op{Kind: OpAddDependency, Dependency: &types.Dependency{Source: "proj/a", Target: "proj/b", Kind: types.DepRequires}})
	require.True(t, res.Success)
	require.Nil(t, co.Commit(context.Background()))

	assert.Equal(t, []string{"proj/b"}, idx.Dependency.Outgoing("proj/a"))
}
