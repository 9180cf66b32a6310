package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local document store, one row per namespace and key.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			body       BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`)
	if err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, ns Namespace, key Key) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE namespace = ? AND key = ?`,
		ns.String(), string(key),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, ns Namespace, key Key, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (namespace, key, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		ns.String(), string(key), data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadAll returns every document saved for ns.
func (s *SQLiteStore) LoadAll(ctx context.Context, ns Namespace) (map[Key][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, body FROM documents WHERE namespace = ?`, ns.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Key][]byte)
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return nil, err
		}
		out[Key(key)] = body
	}
	return out, rows.Err()
}

// Namespaces lists every namespace with at least one document.
func (s *SQLiteStore) Namespaces(ctx context.Context) ([]Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM documents ORDER BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Namespace
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ns, err := ParseNamespace(name)
		if err != nil {
			continue
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}
