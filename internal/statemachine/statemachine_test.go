package statemachine

import (
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph implements both DependencyLookup and ChildLookup over a
// small in-memory map, for testing the guards in isolation from the
// real index package.
type fakeGraph struct {
	status     map[string]types.Status
	taskType   map[string]types.TaskType
	dependsOn  map[string][]string
	dependents map[string][]string
	children   map[string][]string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		status:     map[string]types.Status{},
		taskType:   map[string]types.TaskType{},
		dependsOn:  map[string][]string{},
		dependents: map[string][]string{},
		children:   map[string][]string{},
	}
}

func (f *fakeGraph) StatusOf(path string) (types.Status, bool) { s, ok := f.status[path]; return s, ok }
func (f *fakeGraph) TypeOf(path string) (types.TaskType, bool) { t, ok := f.taskType[path]; return t, ok }
func (f *fakeGraph) DependenciesOf(path string) []string       { return f.dependsOn[path] }
func (f *fakeGraph) DependentsOf(path string) []string         { return f.dependents[path] }
func (f *fakeGraph) ChildrenOf(path string) []string           { return f.children[path] }

func (f *fakeGraph) link(a, b string) {
	f.dependsOn[a] = append(f.dependsOn[a], b)
	f.dependents[b] = append(f.dependents[b], a)
}

func TestDependencyGatedCompletionScenario(t *testing.T) {
	g := newFakeGraph()
	g.status["proj/a"] = types.StatusPending
	g.status["proj/b"] = types.StatusPending
	g.link("proj/b", "proj/a")
	now := time.Now()

	// b -> IN_PROGRESS auto-rewrites to BLOCKED since a isn't COMPLETED.
	out := Evaluate(TransitionRequest{TaskPath: "proj/b", TaskType: types.TaskTypeTask, From: types.StatusPending, To: types.StatusInProgress}, g, g, now)
	require.Nil(t, out.Err)
	assert.True(t, out.AutoRewritten)
	assert.Equal(t, types.StatusBlocked, out.AppliedStatus)
	assert.Equal(t, []string{"proj/a"}, out.BlockedBy)
	g.status["proj/b"] = types.StatusBlocked

	// a -> IN_PROGRESS -> COMPLETED.
	out = Evaluate(TransitionRequest{TaskPath: "proj/a", TaskType: types.TaskTypeTask, From: types.StatusPending, To: types.StatusInProgress}, g, g, now)
	require.Nil(t, out.Err)
	assert.Equal(t, types.StatusInProgress, out.AppliedStatus)
	g.status["proj/a"] = types.StatusInProgress

	out = Evaluate(TransitionRequest{TaskPath: "proj/a", TaskType: types.TaskTypeTask, From: types.StatusInProgress, To: types.StatusCompleted}, g, g, now)
	require.Nil(t, out.Err)
	assert.Equal(t, types.StatusCompleted, out.AppliedStatus)
	require.Len(t, out.Propagations, 1)
	assert.Equal(t, "proj/b", out.Propagations[0].TaskPath)
	assert.Equal(t, types.StatusPending, out.Propagations[0].To)
	g.status["proj/a"] = types.StatusCompleted
	g.status["proj/b"] = types.StatusPending

	// b -> IN_PROGRESS -> COMPLETED now succeeds cleanly.
	out = Evaluate(TransitionRequest{TaskPath: "proj/b", TaskType: types.TaskTypeTask, From: types.StatusPending, To: types.StatusInProgress}, g, g, now)
	require.Nil(t, out.Err)
	assert.Equal(t, types.StatusInProgress, out.AppliedStatus)
	g.status["proj/b"] = types.StatusInProgress

	out = Evaluate(TransitionRequest{TaskPath: "proj/b", TaskType: types.TaskTypeTask, From: types.StatusInProgress, To: types.StatusCompleted}, g, g, now)
	require.Nil(t, out.Err)
	assert.Equal(t, types.StatusCompleted, out.AppliedStatus)
}

func TestCancellationCascade(t *testing.T) {
	g := newFakeGraph()
	g.taskType["root"] = types.TaskTypeMilestone
	g.status["root"] = types.StatusInProgress
	g.status["root/x"] = types.StatusInProgress
	g.status["root/y"] = types.StatusInProgress
	g.children["root"] = []string{"root/x", "root/y"}
	now := time.Now()

	out := Evaluate(TransitionRequest{TaskPath: "root", TaskType: types.TaskTypeMilestone, From: types.StatusInProgress, To: types.StatusCancelled}, g, g, now)
	require.Nil(t, out.Err)
	assert.Equal(t, types.StatusCancelled, out.AppliedStatus)
	require.Len(t, out.Propagations, 2)
	for _, p := range out.Propagations {
		assert.Equal(t, types.StatusCancelled, p.To)
	}
}

func TestCancellationCascadesToDependentsWithoutAlternative(t *testing.T) {
	g := newFakeGraph()
	g.status["root"] = types.StatusInProgress
	g.status["other"] = types.StatusInProgress
	g.status["sole-dependent"] = types.StatusPending
	g.status["hedged-dependent"] = types.StatusPending
	g.link("sole-dependent", "root")
	g.link("hedged-dependent", "root")
	g.link("hedged-dependent", "other")
	now := time.Now()

	out := Evaluate(TransitionRequest{TaskPath: "root", TaskType: types.TaskTypeTask, From: types.StatusInProgress, To: types.StatusCancelled}, g, g, now)
	require.Nil(t, out.Err)
	assert.Equal(t, types.StatusCancelled, out.AppliedStatus)

	var cancelled []string
	for _, p := range out.Propagations {
		assert.Equal(t, types.StatusCancelled, p.To)
		cancelled = append(cancelled, p.TaskPath)
	}
	assert.ElementsMatch(t, []string{"sole-dependent"}, cancelled,
		"hedged-dependent has a still-live alternative dependency and must be spared")
}

func TestCancellationCascadeReachesBlockedDependent(t *testing.T) {
	g := newFakeGraph()
	g.status["proj/a"] = types.StatusInProgress
	g.status["proj/b"] = types.StatusBlocked
	g.link("proj/b", "proj/a")
	now := time.Now()

	out := Evaluate(TransitionRequest{TaskPath: "proj/a", TaskType: types.TaskTypeTask, From: types.StatusInProgress, To: types.StatusCancelled}, g, g, now)
	require.Nil(t, out.Err)
	require.Len(t, out.Propagations, 1)
	assert.Equal(t, "proj/b", out.Propagations[0].TaskPath)
	assert.Equal(t, types.StatusBlocked, out.Propagations[0].From)
	assert.Equal(t, types.StatusCancelled, out.Propagations[0].To)
}

func TestInvalidTransitionRejected(t *testing.T) {
	g := newFakeGraph()
	now := time.Now()
	out := Evaluate(TransitionRequest{TaskPath: "proj/a", From: types.StatusCompleted, To: types.StatusBlocked}, g, g, now)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrInvalidTransition, out.Err.Code)
}

func TestMilestoneCompletionRequiresChildrenDone(t *testing.T) {
	g := newFakeGraph()
	g.children["root"] = []string{"root/x"}
	g.status["root/x"] = types.StatusInProgress
	now := time.Now()

	out := Evaluate(TransitionRequest{TaskPath: "root", TaskType: types.TaskTypeMilestone, From: types.StatusInProgress, To: types.StatusCompleted}, g, g, now)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrChildrenNotCompleted, out.Err.Code)
}
