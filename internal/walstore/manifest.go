package walstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// storeManifest is the small header read before the rest of the
// durable-store machinery is brought up — schema version and creation
// time, so a future migration can detect the on-disk format it is
// looking at without first parsing the (potentially large) snapshot.
type storeManifest struct {
	SchemaVersion int       `toml:"schema_version"`
	CreatedAt     time.Time `toml:"created_at"`
}

const currentSchemaVersion = 1

func manifestPath(storeDir string) string {
	return filepath.Join(storeDir, "manifest.toml")
}

// loadOrCreateManifest reads store/manifest.toml, creating it with
// the current schema version if absent.
func loadOrCreateManifest(storeDir string, now time.Time) (*storeManifest, error) {
	path := manifestPath(storeDir)
	var m storeManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		m = storeManifest{SchemaVersion: currentSchemaVersion, CreatedAt: now}
		if err := writeManifest(storeDir, &m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return &m, nil
}

func writeManifest(storeDir string, m *storeManifest) error {
	path := manifestPath(storeDir)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}
