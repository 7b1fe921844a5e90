// Package store persists gateway state to PostgreSQL. The in-memory
// registry and secrets store remain the source of truth at runtime; the
// gateway writes through here and reloads at boot.
package store

import "database/sql"

// Store provides access to the PostgreSQL database for gateway state.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}
