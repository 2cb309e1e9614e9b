package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasengine/atlas/internal/eventbus"
	"github.com/atlasengine/atlas/internal/walstore"
)

// backupTracer and backupMetrics follow the same deferred-registration
// pattern as internal/pool and internal/cache: instruments bind to
// the global provider at package init, then report through whatever
// provider telemetry.Init later installs.
var backupTracer = otel.Tracer("github.com/atlasengine/atlas/backup")

var backupMetrics struct {
	exportsTotal metric.Int64Counter
	exportFailed metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/atlasengine/atlas/backup")
	backupMetrics.exportsTotal, _ = m.Int64Counter("atlas.backup.exports_total",
		metric.WithDescription("completed export/backup operations"))
	backupMetrics.exportFailed, _ = m.Int64Counter("atlas.backup.export_failures_total",
		metric.WithDescription("export/backup operations that returned an error"))
}

// endSpan records an error, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Config holds the export debounce and retention knobs.
type Config struct {
	BackupDir       string
	DebounceMs      int
	ChangeThreshold int
	MaxBackups      int
	HealthInterval  time.Duration
}

// DefaultConfig returns the stock debounce and retention settings.
func DefaultConfig(backupDir string) Config {
	return Config{
		BackupDir:       backupDir,
		DebounceMs:      5000,
		ChangeThreshold: 50,
		MaxBackups:      10,
		HealthInterval:  time.Hour,
	}
}

// Source is whatever the orchestrator exports from — the durable
// store's full key range.
type Source interface {
	Range(ctx context.Context, prefix string) ([]walstore.Record, error)
}

// Orchestrator runs debounced auto-export, forced export, and the
// health-check/test-restore loop.
type Orchestrator struct {
	mu sync.Mutex

	cfg    Config
	source Source
	bus    *eventbus.Bus
	clock  func() time.Time

	counter        int
	lastExportAt   time.Time
	exportInFlight bool
	lastBackupPath string
}

// New constructs an Orchestrator over source, publishing events on bus
// (nil disables event emission).
func New(cfg Config, source Source, bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{cfg: cfg, source: source, bus: bus, clock: time.Now}
}

// ID implements eventbus.Handler so the orchestrator can subscribe to
// write events directly.
func (o *Orchestrator) ID() string    { return "backup.orchestrator" }
func (o *Orchestrator) Priority() int { return 100 }

// Handle increments the debounce counter on a write event and, if the
// counter or elapsed-time trigger fires, kicks off an export. Export
// errors are reported as EventBackupFailed rather than returned, since
// Handle runs inside the event bus's dispatch loop.
func (o *Orchestrator) Handle(ctx context.Context, event *eventbus.Event) error {
	if event.Type != eventbus.EventWrite {
		return nil
	}
	o.mu.Lock()
	o.counter++
	shouldExport := !o.exportInFlight && (o.counter >= o.cfg.ChangeThreshold || o.debounceElapsed())
	o.mu.Unlock()

	if shouldExport {
		if _, err := o.Export(ctx, false); err != nil {
			o.emit(ctx, eventbus.EventBackupFailed, map[string]any{"error": err.Error()})
		}
	}
	return nil
}

func (o *Orchestrator) debounceElapsed() bool {
	if o.lastExportAt.IsZero() {
		return true
	}
	return o.clock().Sub(o.lastExportAt) >= time.Duration(o.cfg.DebounceMs)*time.Millisecond
}

// Export produces a restorable snapshot. Forced exports await any
// in-flight export first and always reset the debounce counter;
// debounced exports reset it too,
// since both paths go through this one method.
func (o *Orchestrator) Export(ctx context.Context, forced bool) (manifest *Manifest, retErr error) {
	ctx, span := backupTracer.Start(ctx, "backup.export", trace.WithAttributes(attribute.Bool("forced", forced)))
	defer func() {
		backupMetrics.exportsTotal.Add(ctx, 1)
		if retErr != nil {
			backupMetrics.exportFailed.Add(ctx, 1)
		}
		endSpan(span, retErr)
	}()

	o.mu.Lock()
	for o.exportInFlight {
		o.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		o.mu.Lock()
	}
	o.exportInFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.exportInFlight = false
		o.mu.Unlock()
	}()

	records, err := o.source.Range(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("backup: read records: %w", err)
	}

	now := o.clock()
	m := BuildManifest(records, now)
	path, err := WriteManifest(o.cfg.BackupDir, m)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.counter = 0
	o.lastExportAt = now
	o.lastBackupPath = path
	o.mu.Unlock()

	if err := o.prune(); err != nil {
		o.emit(ctx, eventbus.EventBackupFailed, map[string]any{"prune_error": err.Error()})
	}

	o.emit(ctx, eventbus.EventBackupCompleted, map[string]any{"path": path, "record_count": m.RecordCount, "forced": forced})
	return m, nil
}

// prune retains only the newest cfg.MaxBackups backup files.
func (o *Orchestrator) prune() error {
	entries, err := os.ReadDir(o.cfg.BackupDir)
	if err != nil {
		return fmt.Errorf("backup: list dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // ISO timestamps in the filename sort chronologically
	if len(names) <= o.cfg.MaxBackups {
		return nil
	}
	toRemove := names[:len(names)-o.cfg.MaxBackups]
	for _, n := range toRemove {
		if err := os.Remove(filepath.Join(o.cfg.BackupDir, n)); err != nil {
			return fmt.Errorf("backup: prune %s: %w", n, err)
		}
	}
	return nil
}

// LatestBackup returns the path of the most recent backup file in
// cfg.BackupDir, or "" if none exists.
func (o *Orchestrator) LatestBackup() (string, error) {
	entries, err := os.ReadDir(o.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("backup: list dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(o.cfg.BackupDir, names[len(names)-1]), nil
}

// HealthReport is the outcome of one HealthCheck pass.
type HealthReport struct {
	HasRecentBackup bool
	TriggeredExport bool
	TestRestoreOK   bool
	Mismatches      []string
	Err             error
}

// HealthCheck verifies a backup exists within the last 24h (triggering
// one if not) and test-restores the latest backup: parses it and
// checks its hashes, without touching the live store.
func (o *Orchestrator) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{}
	latest, err := o.LatestBackup()
	if err != nil {
		report.Err = err
		return report
	}

	if latest != "" {
		info, statErr := os.Stat(latest)
		if statErr == nil && o.clock().Sub(info.ModTime()) < 24*time.Hour {
			report.HasRecentBackup = true
		}
	}

	if !report.HasRecentBackup {
		if _, err := o.Export(ctx, true); err != nil {
			report.Err = err
			return report
		}
		report.TriggeredExport = true
		latest, err = o.LatestBackup()
		if err != nil {
			report.Err = err
			return report
		}
	}

	manifest, err := ReadManifest(latest)
	if err != nil {
		report.Err = err
		return report
	}
	report.Mismatches = VerifyManifest(manifest)
	report.TestRestoreOK = len(report.Mismatches) == 0
	return report
}

// StartHealthLoop runs HealthCheck on cfg.HealthInterval until stop()
// is called.
func (o *Orchestrator) StartHealthLoop(ctx context.Context) (stop func()) {
	if o.cfg.HealthInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	ticker := time.NewTicker(o.cfg.HealthInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				o.HealthCheck(ctx)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func (o *Orchestrator) emit(ctx context.Context, t eventbus.EventType, payload map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Dispatch(ctx, &eventbus.Event{Type: t, Timestamp: o.clock(), Payload: payload})
}
