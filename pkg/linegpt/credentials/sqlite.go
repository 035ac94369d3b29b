package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// sqliteSchema is executed on every open (idempotent).
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    identity   TEXT PRIMARY KEY,
    token      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// SQLiteStore keeps one row per identity.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load reads every row. An empty table reports ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, token FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("credentials: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, token string
		if err := rows.Scan(&id, &token); err != nil {
			return nil, fmt.Errorf("credentials: scan: %w", err)
		}
		out[id] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: rows: %w", err)
	}

	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Save upserts every pair inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, partial map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credentials: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO credentials (identity, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("credentials: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for id, token := range partial {
		if _, err := stmt.ExecContext(ctx, id, token, now); err != nil {
			return fmt.Errorf("credentials: upsert %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credentials: commit: %w", err)
	}

	s.logger.Debug("credentials saved", "identities", len(partial))
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
