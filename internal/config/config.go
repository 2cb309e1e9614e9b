package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/atlasengine/atlas/internal/backup"
	"github.com/atlasengine/atlas/internal/cache"
	"github.com/atlasengine/atlas/internal/pool"
)

// Settings aggregates the runtime options for every component
// that owns a Config struct. It is the unit Loader produces and
// hot-reloads.
type Settings struct {
	StorageDriver string
	StorageDSN    string
	DataDir       string

	Pool   pool.Config
	Cache  cache.Config
	Backup backup.Config
}

// Loader wraps a viper instance configured to read atlas.yaml (or
// atlas.{json,toml}) from a directory, with environment variable
// overrides under the ATLAS_ prefix, and to notify subscribers on
// fsnotify-driven hot reload.
//
// Loader points a fresh viper.New() at one directory's atlas config file rather
// than relying on viper's package-global instance, so two loaders in
// one process (tests, embedded use) never share state.
type Loader struct {
	v *viper.Viper

	mu       sync.RWMutex
	current  Settings
	onChange []func(Settings)
}

// NewLoader creates a Loader rooted at dir/atlas.yaml and seeds every
// component default from DefaultSettings.
func NewLoader(dir string) *Loader {
	v := viper.New()
	v.SetConfigName("atlas")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("ATLAS")
	v.AutomaticEnv()

	l := &Loader{v: v, current: DefaultSettings()}
	l.applyDefaults()
	return l
}

// DefaultSettings bundles every component's DefaultConfig.
func DefaultSettings() Settings {
	return Settings{
		StorageDriver: "walstore",
		Pool:          pool.DefaultConfig(),
		Cache:         cache.DefaultConfig(),
		Backup:        backup.DefaultConfig("backups"),
	}
}

func (l *Loader) applyDefaults() {
	d := DefaultSettings()
	l.v.SetDefault("storage.driver", d.StorageDriver)
	l.v.SetDefault("pool.min_size", d.Pool.MinSize)
	l.v.SetDefault("pool.max_size", d.Pool.MaxSize)
	l.v.SetDefault("pool.acquire_timeout_ms", d.Pool.AcquireTimeout.Milliseconds())
	l.v.SetDefault("pool.idle_timeout_ms", d.Pool.IdleTimeout.Milliseconds())
	l.v.SetDefault("pool.max_waiting_clients", d.Pool.MaxWaitingClients)
	l.v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	l.v.SetDefault("cache.max_bytes", d.Cache.MaxBytes)
	l.v.SetDefault("cache.ttl_ms", d.Cache.TTL.Milliseconds())
	l.v.SetDefault("cache.cleanup_interval_ms", d.Cache.CleanupInterval.Milliseconds())
	l.v.SetDefault("cache.memory_high_water", d.Cache.MemoryHighWater)
	l.v.SetDefault("cache.pressure_high_water", d.Cache.PressureHighWater)
	l.v.SetDefault("backup.debounce_ms", d.Backup.DebounceMs)
	l.v.SetDefault("backup.change_threshold", d.Backup.ChangeThreshold)
	l.v.SetDefault("backup.max_backups", d.Backup.MaxBackups)
	l.v.SetDefault("backup.health_interval_ms", d.Backup.HealthInterval.Milliseconds())
}

// Load reads the config file (if present; a missing file just keeps
// defaults), unmarshals into Settings, and stores it as current.
func (l *Loader) Load() (Settings, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, fmt.Errorf("config: read: %w", err)
		}
	}
	s := l.decode()
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
	return s, nil
}

func (l *Loader) decode() Settings {
	backupDir := l.v.GetString("backup.dir")
	if backupDir == "" {
		backupDir = "backups"
	}
	return Settings{
		StorageDriver: l.v.GetString("storage.driver"),
		StorageDSN:    l.v.GetString("storage.dsn"),
		DataDir:       l.v.GetString("storage.data_dir"),
		Pool: pool.Config{
			MinSize:           l.v.GetInt("pool.min_size"),
			MaxSize:           l.v.GetInt("pool.max_size"),
			AcquireTimeout:    time.Duration(l.v.GetInt64("pool.acquire_timeout_ms")) * time.Millisecond,
			IdleTimeout:       time.Duration(l.v.GetInt64("pool.idle_timeout_ms")) * time.Millisecond,
			MaxWaitingClients: l.v.GetInt("pool.max_waiting_clients"),
		},
		Cache: cache.Config{
			MaxEntries:        l.v.GetInt("cache.max_entries"),
			MaxBytes:          l.v.GetInt64("cache.max_bytes"),
			TTL:               time.Duration(l.v.GetInt64("cache.ttl_ms")) * time.Millisecond,
			CleanupInterval:   time.Duration(l.v.GetInt64("cache.cleanup_interval_ms")) * time.Millisecond,
			MemoryHighWater:   l.v.GetFloat64("cache.memory_high_water"),
			PressureHighWater: l.v.GetFloat64("cache.pressure_high_water"),
		},
		Backup: backup.Config{
			BackupDir:       backupDir,
			DebounceMs:      l.v.GetInt("backup.debounce_ms"),
			ChangeThreshold: l.v.GetInt("backup.change_threshold"),
			MaxBackups:      l.v.GetInt("backup.max_backups"),
			HealthInterval:  time.Duration(l.v.GetInt64("backup.health_interval_ms")) * time.Millisecond,
		},
	}
}

// Current returns the last successfully loaded Settings.
func (l *Loader) Current() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked with the freshly decoded
// Settings after every hot-reload triggered by Watch.
func (l *Loader) OnChange(fn func(Settings)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts fsnotify-driven hot reload via viper.WatchConfig. Safe
// to call at most once per Loader; subsequent calls are no-ops.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		s := l.decode()
		l.mu.Lock()
		l.current = s
		callbacks := append([]func(Settings){}, l.onChange...)
		l.mu.Unlock()
		for _, cb := range callbacks {
			cb(s)
		}
	})
	l.v.WatchConfig()
}
