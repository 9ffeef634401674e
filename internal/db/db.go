// Package db handles database operations for fieldsync
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages database operations
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path
func Open(path string) (*Store, error) {
	// Connection parameters apply to every pooled connection.
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- Tasks delivered by the dispatch authority while their engineer was online
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_key TEXT NOT NULL UNIQUE,
		assigned_to TEXT NOT NULL,
		start_ms INTEGER NOT NULL DEFAULT 0,
		properties TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Client sessions; identified once engineer_id is set
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		engineer_id TEXT,
		created_at INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_assigned_start ON tasks(assigned_to, start_ms);
	CREATE INDEX IF NOT EXISTS idx_tasks_start ON tasks(start_ms);
	CREATE INDEX IF NOT EXISTS idx_sessions_engineer ON sessions(engineer_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_access ON sessions(last_access);
	`

	_, err := s.DB.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
