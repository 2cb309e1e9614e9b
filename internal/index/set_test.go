package index

import (
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func milestone(id, path, parent string) *types.Task {
	return &types.Task{ID: id, Path: path, ParentPath: parent, Type: types.TaskTypeMilestone, Status: types.StatusPending}
}

func task(id, path, parent string) *types.Task {
	return &types.Task{ID: id, Path: path, ParentPath: parent, Type: types.TaskTypeTask, Status: types.StatusPending}
}

func TestSetUpsertAndQuery(t *testing.T) {
	s := NewSet()
	now := time.Now()

	root := milestone("m1", "proj/root", "")
	primary, status, hierarchy := s.UpsertTask(root, now)
	require.True(t, primary.Success)
	require.True(t, status.Success)
	require.True(t, hierarchy.Success)

	child := task("t1", "proj/root/x", "proj/root")
	primary, status, hierarchy = s.UpsertTask(child, now)
	require.True(t, primary.Success)
	require.True(t, status.Success)
	require.True(t, hierarchy.Success)

	kids := s.Hierarchy.Children("m1")
	assert.Equal(t, []string{"t1"}, kids)

	got, ok := s.Primary.GetByPath("proj/root/x")
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)
}

func TestSetHierarchyRejectsTaskContainingChild(t *testing.T) {
	s := NewSet()
	now := time.Now()
	leaf := task("t1", "proj/leaf", "")
	s.UpsertTask(leaf, now)

	child := task("t2", "proj/leaf/x", "proj/leaf")
	_, _, hierarchy := s.UpsertTask(child, now)
	assert.False(t, hierarchy.Success)
	assert.Equal(t, types.ErrInvalidReference, hierarchy.Error.Code)
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	s := NewSet()
	now := time.Now()
	tsk := task("t1", "proj/t1", "")
	tsk.Status = types.StatusCompleted
	s.UpsertTask(tsk, now)

	tsk.Status = types.StatusBlocked
	_, status, _ := s.UpsertTask(tsk, now)
	assert.False(t, status.Success)
	assert.Equal(t, types.ErrInvalidTransition, status.Error.Code)
}

func TestSetDeleteTaskCleansDependencies(t *testing.T) {
	s := NewSet()
	now := time.Now()
	a := task("a", "proj/a", "")
	b := task("b", "proj/b", "")
	s.UpsertTask(a, now)
	s.UpsertTask(b, now)
	s.Dependency.Add(types.Dependency{Source: "proj/b", Target: "proj/a"}, now)

	primary, _, _, removed := s.DeleteTask(a, now)
	require.True(t, primary.Success)
	assert.Len(t, removed, 1)
	assert.Empty(t, s.Dependency.Outgoing("proj/b"))
}

func TestSetQueryRoutesByStatusAndType(t *testing.T) {
	s := NewSet()
	now := time.Now()
	a := task("a", "proj/a", "")
	a.Status = types.StatusInProgress
	s.UpsertTask(a, now)
	root := milestone("m", "proj/m", "")
	s.UpsertTask(root, now)

	byStatus := s.Query(Filter{Statuses: []types.Status{types.StatusInProgress}})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "a", byStatus[0].ID)

	byType := s.Query(Filter{Types: []types.TaskType{types.TaskTypeMilestone}})
	require.Len(t, byType, 1)
	assert.Equal(t, "m", byType[0].ID)
}
