// Package database provides SQLite persistence for push channel credentials.
package database

import (
	"database/sql"
	"fmt"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db     *sql.DB
	sealer *sealer
}

type Option func(*SQLiteStore)

// WithTokenKey seals tokens at rest with the given key.
func WithTokenKey(key [32]byte) Option {
	return func(s *SQLiteStore) {
		s.sealer = &sealer{key: key}
	}
}

func NewSQLiteStore(
	dbPath string,
	opts ...Option,
) (
	*SQLiteStore,
	error,
) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	// a second connection to ":memory:" would open a different database
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init database: %v", err)
	}

	store := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *SQLiteStore) CredentialStore() credentials.Store {
	return s
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	return initTable(db, "credential", `
		CREATE TABLE IF NOT EXISTS credential (
			id             TEXT PRIMARY KEY,
			identity_key   TEXT UNIQUE NOT NULL,
			access_token   TEXT,
			refresh_token  TEXT,
			expires_at     INTEGER NOT NULL DEFAULT 0
		);`,
	)
}

func initTable(
	db *sql.DB,
	name string,
	sql string,
) error {
	if _, err := db.Exec(sql); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %v", name, err)
	}
	return nil
}
