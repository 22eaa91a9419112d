// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteTier stores the token as one row of a SQLite database. It is an
// alternative Durable backend for hosts where several tools already share a
// state database.
type SQLiteTier struct {
	db   *sql.DB
	path string
	key  string
}

// OpenSQLiteTier opens (or creates) the database at path and stores the
// credential under key.
func OpenSQLiteTier(path, key string) (*SQLiteTier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	// One writer; concurrent processes are serialized by busy_timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(credentialSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credential schema: %w", err)
	}

	// Keep the database private like the file tier.
	_ = os.Chmod(path, 0600)

	return &SQLiteTier{db: db, path: path, key: key}, nil
}

// Path returns the database file path.
func (s *SQLiteTier) Path() string { return s.path }

func (s *SQLiteTier) Get() (string, bool, error) {
	var token string
	err := s.db.QueryRow("SELECT value FROM credentials WHERE key = ?", s.key).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read credential row: %w", err)
	}
	return token, token != "", nil
}

func (s *SQLiteTier) Set(token string) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, token, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write credential row: %w", err)
	}
	return nil
}

func (s *SQLiteTier) Remove() error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE key = ?", s.key); err != nil {
		return fmt.Errorf("failed to delete credential row: %w", err)
	}
	return nil
}

func (s *SQLiteTier) Name() string { return "sqlite" }

// Close releases the database handle.
func (s *SQLiteTier) Close() error {
	return s.db.Close()
}
