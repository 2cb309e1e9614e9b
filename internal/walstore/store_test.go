package walstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestFileStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, dir, fixedClock{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(ctx, "proj/a", []byte("hello")))
	v, ok, err := store.Get(ctx, "proj/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(v))

	require.NoError(t, store.Delete(ctx, "proj/a"))
	_, ok, err = store.Get(ctx, "proj/a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreApplyAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, dir, fixedClock{time.Now()})
	require.NoError(t, err)
	defer store.Close()

	batch := []BatchOp{
		{Key: "proj/a", Value: []byte("a")},
		{Key: "proj/b", Value: []byte("b")},
	}
	result, err := store.Apply(ctx, batch)
	require.NoError(t, err)
	require.True(t, result.Applied)

	records, err := store.Range(ctx, "proj/")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestFileStoreRecoveryAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, dir, fixedClock{time.Now()})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "proj/a", []byte("persisted")))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, dir, fixedClock{time.Now()})
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "proj/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", string(v))
}

func TestFileStoreCheckpointCompactsWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, dir, fixedClock{time.Now()})
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(ctx, "proj/"+string(rune('a'+i)), []byte("v")))
	}
	require.NoError(t, store.Checkpoint(ctx))

	records, err := store.Range(ctx, "proj/")
	require.NoError(t, err)
	require.Len(t, records, 10)

	report, err := store.Verify(ctx)
	require.NoError(t, err)
	require.False(t, report.Corrupt)
	require.Equal(t, 10, report.RecordCount)
}

func TestFileStoreSecondOpenIsLockBusy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, dir, fixedClock{time.Now()})
	require.NoError(t, err)
	defer store.Close()

	_, err = Open(ctx, dir, fixedClock{time.Now()})
	require.ErrorIs(t, err, ErrLockBusy)
}
