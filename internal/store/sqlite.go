// Package store persists datasets, harvest jobs, licenses and the user
// directory in SQLite.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrAmbiguous is returned when an id prefix matches more than one row.
	ErrAmbiguous = errors.New("store: ambiguous id prefix")

	// ErrLicenseNotFound is returned when no license matches a code.
	ErrLicenseNotFound = errors.New("store: license not found")
)

// Store handles database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}
