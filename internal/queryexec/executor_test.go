package queryexec

import (
	"context"
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/pool"
	"github.com/atlasengine/atlas/internal/walstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	walstore.Backend
	records map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: map[string][]byte{"task/a": []byte(`{"id":"a"}`)}}
}

func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := f.records[key]
	return v, ok, nil
}

func (f *fakeBackend) Healthy(ctx context.Context) bool { return true }
func (f *fakeBackend) Close() error                      { return nil }

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	backend := newFakeBackend()
	p, err := pool.New(context.Background(), pool.Config{
		MinSize: 1, MaxSize: 2, AcquireTimeout: time.Second, IdleTimeout: time.Minute, MaxWaitingClients: 4,
	}, func(ctx context.Context) (pool.Handle, error) {
		return backend, nil
	})
	require.NoError(t, err)
	return p
}

func TestExecuteCachesResult(t *testing.T) {
	p := newTestPool(t)
	defer p.Close()

	calls := 0
	exec := New(p, NewResultCache(10), time.Minute, time.Hour, nil)
	fn := func(b walstore.Backend) (string, error) {
		calls++
		v, _, _ := b.Get(context.Background(), "task/a")
		return string(v), nil
	}

	v1, err := Execute(context.Background(), exec, "get task", []any{"a"}, CacheOptions{}, fn)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, v1)

	v2, err := Execute(context.Background(), exec, "get task", []any{"a"}, CacheOptions{}, fn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls, "second call should hit the cache and skip fn")
}

func TestExecuteDisabledBypassesCache(t *testing.T) {
	p := newTestPool(t)
	defer p.Close()

	calls := 0
	exec := New(p, NewResultCache(10), time.Minute, time.Hour, nil)
	fn := func(b walstore.Backend) (string, error) {
		calls++
		return "x", nil
	}

	_, err := Execute(context.Background(), exec, "get task", []any{"a"}, CacheOptions{Disabled: true}, fn)
	require.NoError(t, err)
	_, err = Execute(context.Background(), exec, "get task", []any{"a"}, CacheOptions{Disabled: true}, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunBypassesCacheEntirely(t *testing.T) {
	p := newTestPool(t)
	defer p.Close()

	exec := New(p, NewResultCache(10), time.Minute, time.Hour, nil)
	called := false
	err := exec.Run(context.Background(), func(b walstore.Backend) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSlowQueryDoesNotFailExecute(t *testing.T) {
	p := newTestPool(t)
	defer p.Close()

	exec := New(p, NewResultCache(10), time.Minute, time.Nanosecond, nil)
	v, err := Execute(context.Background(), exec, "slow", nil, CacheOptions{}, func(b walstore.Backend) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
