package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/atlasengine/atlas/internal/backup"
	"github.com/atlasengine/atlas/internal/cache"
	"github.com/atlasengine/atlas/internal/config"
	"github.com/atlasengine/atlas/internal/engine"
	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/telemetry"
	"github.com/atlasengine/atlas/internal/txn"
	"github.com/atlasengine/atlas/internal/walstore"
)

var (
	styleAccent = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}).Bold(true)
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"})
	styleFail   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
)

var dataDir string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atlasctl",
		Short: "Maintenance CLI for the atlas task engine",
		Long: styleAccent.Render("atlasctl") + ` drives the Maintenance operation family
(clear-all, vacuum, repair-relationships, export, import) against an
on-disk atlas store. It is a thin reference translator, not a general
request/tool dispatch surface.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./atlas-data", "root directory holding store/ and backups/")

	root.AddCommand(
		newExportCmd(),
		newImportCmd(),
		newVacuumCmd(),
		newRepairCmd(),
		newClearAllCmd(),
		newVerifyCmd(),
	)
	return root
}

// bootstrap opens the durable store, wires the cache/eventbus/backup
// orchestrator, recovers every index from whatever the store already
// holds, and returns a ready-to-use Engine plus a teardown func.
//
// One atlasctl invocation = one Engine lifetime: each command opens a
// fresh store rather than holding a long-lived daemon handle.
func bootstrap(ctx context.Context) (*engine.Engine, func(), error) {
	tp, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "atlasctl"})
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: %w", err)
	}

	loader := config.NewLoader(dataDir)
	settings, err := loader.Load()
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	store, err := openStore(ctx, settings)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(nil)
	c := cache.New(settings.Cache, bus)
	backupCfg := settings.Backup
	if backupCfg.BackupDir == "" || backupCfg.BackupDir == "backups" {
		backupCfg.BackupDir = dataDir + "/backups"
	}
	backupO := backup.New(backupCfg, store, bus)

	e := engine.New(store, c, bus, backupO, txn.ModeAtomic)
	if err := e.Recover(ctx); err != nil {
		_ = store.Close()
		_ = tp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("recover: %s", err.Message)
	}

	teardown := func() {
		_ = c.Close()
		_ = store.Close()
		_ = tp.Shutdown(ctx)
	}
	return e, teardown, nil
}

// openStore selects the durable backend per settings.StorageDriver:
// the default file-backed WAL+snapshot store,
// or, when set to "sqlbackend", the SQL-backed store talking to a
// Dolt/MySQL-protocol server over settings.StorageDSN.
func openStore(ctx context.Context, settings config.Settings) (walstore.Backend, error) {
	switch settings.StorageDriver {
	case "", "walstore":
		return walstore.Open(ctx, dataDir+"/store", walstore.RealClock{})
	case "sqlbackend":
		if settings.StorageDSN == "" {
			return nil, fmt.Errorf("storage.driver=sqlbackend requires storage.dsn to be set")
		}
		return walstore.OpenSQLBackend(ctx, settings.StorageDSN)
	default:
		return nil, fmt.Errorf("unknown storage.driver %q", settings.StorageDriver)
	}
}
