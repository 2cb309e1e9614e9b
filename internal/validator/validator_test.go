package validator

import (
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/index"
	"github.com/atlasengine/atlas/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrimary struct{ paths map[string]bool }

func (f fakePrimary) Exists(path string) bool { return f.paths[path] }

func TestValidateEdgeMissingEndpoint(t *testing.T) {
	dep := index.NewDependency()
	v := New(fakePrimary{paths: map[string]bool{"proj/a": true}}, dep)
	result := v.ValidateEdge(types.Dependency{Source: "proj/a", Target: "proj/missing"}, time.Now())
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.ErrInvalidReference, result.Errors[0].Code)
}

func TestValidateEdgeCycleRejected(t *testing.T) {
	dep := index.NewDependency()
	paths := map[string]bool{"proj/a": true, "proj/b": true}
	v := New(fakePrimary{paths: paths}, dep)
	now := time.Now()

	first := v.ValidateEdge(types.Dependency{Source: "proj/a", Target: "proj/b"}, now)
	assert.True(t, first.Valid)
	dep.Add(types.Dependency{Source: "proj/a", Target: "proj/b"}, now)

	second := v.ValidateEdge(types.Dependency{Source: "proj/b", Target: "proj/a"}, now)
	assert.False(t, second.Valid)
	require.Len(t, second.Errors, 1)
	assert.Equal(t, types.ErrCircularDependency, second.Errors[0].Code)
}

func TestValidateEdgeSelfDependencyRejected(t *testing.T) {
	dep := index.NewDependency()
	v := New(fakePrimary{paths: map[string]bool{"proj/a": true}}, dep)
	result := v.ValidateEdge(types.Dependency{Source: "proj/a", Target: "proj/a"}, time.Now())
	assert.False(t, result.Valid)
	assert.Equal(t, types.ErrCircularDependency, result.Errors[0].Code)
}

type fakeStatus struct{ m map[string]types.Status }

func (f fakeStatus) StatusOf(path string) (types.Status, bool) { s, ok := f.m[path]; return s, ok }

func TestValidateReadinessReportsAllBlockers(t *testing.T) {
	dep := index.NewDependency()
	now := time.Now()
	dep.Add(types.Dependency{Source: "proj/c", Target: "proj/a"}, now)
	dep.Add(types.Dependency{Source: "proj/c", Target: "proj/b"}, now)
	v := New(fakePrimary{}, dep)

	statuses := fakeStatus{m: map[string]types.Status{"proj/a": types.StatusPending, "proj/b": types.StatusPending}}
	result := v.ValidateReadiness("proj/c", types.StatusInProgress, statuses, now)
	assert.False(t, result.Valid)
	assert.ElementsMatch(t, []string{"proj/a", "proj/b"}, result.BlockingDependencies)
}
