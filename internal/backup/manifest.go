// Package backup implements the backup/export orchestrator:
// debounced auto-export, forced export, a
// health-check loop, and integrity-probing test-restores. Exports are
// written atomically (temp file then rename) as
// `atlas-backup-<iso-ts>.json`, a manifest followed by the records.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/atlasengine/atlas/internal/walstore"
)

// RecordHash is one record's manifest entry: its key and a content
// hash, so an import/restore can verify it got back exactly what was
// exported.
type RecordHash struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// Manifest is the full backup file contents: header plus records.
type Manifest struct {
	SchemaVersion int          `json:"schema_version"`
	CreatedAt     time.Time    `json:"created_at"`
	RecordCount   int          `json:"record_count"`
	Hashes        []RecordHash `json:"hashes"`
	Records       []walstore.Record `json:"records"`
}

const manifestSchemaVersion = 1

func hashRecord(r walstore.Record) string {
	h := sha256.Sum256(r.Value)
	return hex.EncodeToString(h[:])
}

// BuildManifest assembles a Manifest from a snapshot of records,
// sorted by key for deterministic output.
func BuildManifest(records []walstore.Record, now time.Time) *Manifest {
	sorted := append([]walstore.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	hashes := make([]RecordHash, 0, len(sorted))
	for _, r := range sorted {
		hashes = append(hashes, RecordHash{Key: r.Key, Hash: hashRecord(r)})
	}
	return &Manifest{
		SchemaVersion: manifestSchemaVersion,
		CreatedAt:     now,
		RecordCount:   len(sorted),
		Hashes:        hashes,
		Records:       sorted,
	}
}

// fileName builds the backup file name, e.g.
// "atlas-backup-2026-08-01T12-00-00.000Z.json".
func fileName(now time.Time) string {
	return fmt.Sprintf("atlas-backup-%s.json", now.UTC().Format("2006-01-02T15-04-05.000Z"))
}

// WriteManifest serializes manifest to dir/fileName(manifest.CreatedAt)
// via a temp-file-then-rename so readers never observe a partial
// backup.
func WriteManifest(dir string, manifest *Manifest) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: mkdir: %w", err)
	}
	path := filepath.Join(dir, fileName(manifest.CreatedAt))

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "atlas-backup-*.tmp")
	if err != nil {
		return "", fmt.Errorf("backup: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("backup: write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("backup: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("backup: rename into place: %w", err)
	}
	return path, nil
}

// ReadManifest loads and parses a backup file.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", path, err)
	}
	defer f.Close()
	m, err := DecodeManifest(f)
	if err != nil {
		return nil, fmt.Errorf("backup: parse %s: %w", path, err)
	}
	return m, nil
}

// DecodeManifest parses a backup manifest from r, e.g. a file or a
// pipe.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// VerifyManifest re-hashes every record and compares against the
// stored hash list, returning the keys that mismatch (empty = clean).
func VerifyManifest(m *Manifest) []string {
	want := make(map[string]string, len(m.Hashes))
	for _, h := range m.Hashes {
		want[h.Key] = h.Hash
	}
	var mismatches []string
	for _, r := range m.Records {
		if want[r.Key] != hashRecord(r) {
			mismatches = append(mismatches, r.Key)
		}
	}
	if len(m.Records) != m.RecordCount {
		mismatches = append(mismatches, "__record_count_mismatch__")
	}
	return mismatches
}
