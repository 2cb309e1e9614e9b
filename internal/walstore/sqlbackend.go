package walstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"
)

// SQLBackend is an alternate Backend implementation that stores
// records in a Dolt server speaking the MySQL wire protocol, for
// deployments that want a queryable durable store instead of the
// default WAL+snapshot files. Selected via config (storage.driver =
// "sqlbackend"); never the default.
//
// Table layout is a single key/value records table; atomicity comes
// from wrapping each batch in one SQL transaction. No graph checks
// happen at this layer (cycle detection is the dependency validator's job,
// not the durable store's; this backend only persists bytes).
type SQLBackend struct {
	db *sql.DB
}

// OpenSQLBackend connects to a Dolt database at dsn and ensures the
// records table exists. A file:// DSN opens an embedded Dolt database
// in-process via the dolt driver; anything else is treated as a
// MySQL-protocol server address.
func OpenSQLBackend(ctx context.Context, dsn string) (*SQLBackend, error) {
	driver := "mysql"
	if strings.HasPrefix(dsn, "file://") {
		driver = "dolt"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlbackend: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			record_key VARCHAR(512) PRIMARY KEY,
			value LONGBLOB NOT NULL,
			tombstone BOOLEAN NOT NULL DEFAULT FALSE
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlbackend: create table: %w", err)
	}
	return &SQLBackend{db: db}, nil
}

func (s *SQLBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (record_key, value, tombstone) VALUES (?, ?, FALSE)
		ON DUPLICATE KEY UPDATE value = VALUES(value), tombstone = FALSE
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlbackend: put: %w", err)
	}
	return nil
}

func (s *SQLBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var tombstone bool
	err := s.db.QueryRowContext(ctx, `SELECT value, tombstone FROM records WHERE record_key = ?`, key).Scan(&value, &tombstone)
	if err == sql.ErrNoRows || tombstone {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlbackend: get: %w", err)
	}
	return value, true, nil
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE records SET tombstone = TRUE WHERE record_key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlbackend: delete: %w", err)
	}
	return nil
}

func (s *SQLBackend) Range(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_key, value FROM records WHERE record_key LIKE ? AND tombstone = FALSE ORDER BY record_key
	`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: range: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, fmt.Errorf("sqlbackend: scan: %w", err)
		}
		if strings.HasPrefix(r.Key, prefix) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// Apply runs the whole batch inside a single SQL transaction, the
// same begin/commit/rollback shape the query executor uses, reused
// here for the durable store's own atomicity.
func (s *SQLBackend) Apply(ctx context.Context, batch []BatchOp) (BatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BatchResult{}, fmt.Errorf("sqlbackend: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range batch {
		if op.Delete {
			if _, err := tx.ExecContext(ctx, `UPDATE records SET tombstone = TRUE WHERE record_key = ?`, op.Key); err != nil {
				return BatchResult{Applied: false, Err: err}, fmt.Errorf("sqlbackend: apply delete: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (record_key, value, tombstone) VALUES (?, ?, FALSE)
			ON DUPLICATE KEY UPDATE value = VALUES(value), tombstone = FALSE
		`, op.Key, op.Value); err != nil {
			return BatchResult{Applied: false, Err: err}, fmt.Errorf("sqlbackend: apply put: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{Applied: false, Err: err}, fmt.Errorf("sqlbackend: commit: %w", err)
	}
	return BatchResult{Applied: true}, nil
}

// Checkpoint is a no-op for the SQL backend — Dolt already durably
// commits every statement, so there is no separate log/snapshot split
// to compact.
func (s *SQLBackend) Checkpoint(ctx context.Context) error { return nil }

func (s *SQLBackend) Verify(ctx context.Context) (*IntegrityReport, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE tombstone = FALSE`).Scan(&count); err != nil {
		return nil, fmt.Errorf("sqlbackend: verify: %w", err)
	}
	return &IntegrityReport{RecordCount: count}, nil
}

func (s *SQLBackend) Close() error { return s.db.Close() }

var _ Backend = (*SQLBackend)(nil)
var _ Backend = (*FileStore)(nil)
