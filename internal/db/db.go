// Package db provides database connection management and operations.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// DB wraps the sql.DB with the local store configuration.
type DB struct {
	*sql.DB
	x *sqlx.DB
}

// Open opens (creating if absent) the SQLite database fileName under
// dataDir. The database is opened with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// - A busy timeout so a second process waits instead of failing
func Open(dataDir, fileName string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	return OpenPath(filepath.Join(dataDir, fileName))
}

// OpenPath opens the SQLite database at path.
func OpenPath(path string) (*DB, error) {
	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// SQLite doesn't support multiple writers. With one connection every
	// transaction must run its queries on the tx, never on db.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %s", p)
		}
	}

	return &DB{DB: db, x: sqlx.NewDb(db, DriverName)}, nil
}

// X returns the sqlx handle sharing the same pool.
func (db *DB) X() *sqlx.DB {
	return db.x
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
