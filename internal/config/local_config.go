// Package config loads and hot-reloads the engine's runtime settings:
// a viper-backed layered loader
// for the full option set, plus a direct yaml.v3 read path for the
// handful of bootstrap fields (storage driver, data directory) that
// must be known before viper itself can be pointed at a data dir.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of atlas.yaml read directly, bypassing
// viper, for settings needed before the data directory (and therefore
// the config file's own location) is known. A handful of
// startup-only settings have to be resolved before the rest of the
// config stack can be initialized.
type LocalConfig struct {
	StorageDriver string `yaml:"storage-driver"`
	DataDir       string `yaml:"data-dir"`
}

// LoadLocalConfig reads atlas.yaml directly from dir. It returns an
// empty (not nil) LocalConfig if the file is absent or unparsable —
// bootstrap must never fail just because the optional override file
// doesn't exist yet.
func LoadLocalConfig(dir string) *LocalConfig {
	path := filepath.Join(dir, "atlas.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv applies the ATLAS_STORAGE_DRIVER override on
// top of LoadLocalConfig, matching the env-override precedence the
// rest of the config stack follows.
func LoadLocalConfigWithEnv(dir string) *LocalConfig {
	cfg := LoadLocalConfig(dir)
	if v := os.Getenv("ATLAS_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = v
	}
	return cfg
}
