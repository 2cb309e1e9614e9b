//go:build integration

package walstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/dolt"
)

// TestSQLBackendAgainstRealDolt exercises SQLBackend against a real
// Dolt server via testcontainers. Skipped unless the "integration"
// build tag is set, since it requires a Docker daemon.
func TestSQLBackendAgainstRealDolt(t *testing.T) {
	ctx := context.Background()

	container, err := dolt.Run(ctx, "dolthub/dolt-sql-server:latest")
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	backend, err := OpenSQLBackend(ctx, dsn)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Put(ctx, "proj/a", []byte(`{"name":"a"}`)))
	value, ok, err := backend.Get(ctx, "proj/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"name":"a"}`, string(value))

	batch := []BatchOp{
		{Key: "proj/b", Value: []byte(`{"name":"b"}`)},
		{Key: "proj/a", Delete: true},
	}
	result, err := backend.Apply(ctx, batch)
	require.NoError(t, err)
	require.True(t, result.Applied)

	_, ok, err = backend.Get(ctx, "proj/a")
	require.NoError(t, err)
	require.False(t, ok)

	report, err := backend.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.RecordCount)
}
