package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasengine/atlas/internal/walstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{ records []walstore.Record }

func (f fakeSource) Range(ctx context.Context, prefix string) ([]walstore.Record, error) {
	return f.records, nil
}

func TestForcedExportWritesManifest(t *testing.T) {
	dir := t.TempDir()
	src := fakeSource{records: []walstore.Record{{Key: "task/a", Value: []byte(`{"id":"a"}`)}}}
	orch := New(DefaultConfig(filepath.Join(dir, "backups")), src, nil)

	manifest, err := orch.Export(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.RecordCount)

	latest, err := orch.LatestBackup()
	require.NoError(t, err)
	assert.NotEmpty(t, latest)

	reloaded, err := ReadManifest(latest)
	require.NoError(t, err)
	assert.Empty(t, VerifyManifest(reloaded))
}

func TestForcedExportResetsDebounceCounter(t *testing.T) {
	dir := t.TempDir()
	src := fakeSource{}
	orch := New(DefaultConfig(filepath.Join(dir, "backups")), src, nil)
	orch.counter = 49

	_, err := orch.Export(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, orch.counter)
}

func TestPruneRetainsOnlyMaxBackups(t *testing.T) {
	dir := t.TempDir()
	src := fakeSource{}
	cfg := DefaultConfig(filepath.Join(dir, "backups"))
	cfg.MaxBackups = 2
	orch := New(cfg, src, nil)
	base := time.Now()
	orch.clock = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		_, err := orch.Export(context.Background(), true)
		require.NoError(t, err)
		base = base.Add(time.Second)
		orch.clock = func() time.Time { return base }
	}

	entries, err := orch.LatestBackup()
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	files, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestHealthCheckTriggersExportWhenStale(t *testing.T) {
	dir := t.TempDir()
	src := fakeSource{}
	orch := New(DefaultConfig(filepath.Join(dir, "backups")), src, nil)

	report := orch.HealthCheck(context.Background())
	assert.True(t, report.TriggeredExport)
	assert.True(t, report.TestRestoreOK)
}
