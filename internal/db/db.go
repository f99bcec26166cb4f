package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"
)

// Supported database/sql drivers
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// KVTable holds one text blob per key
const KVTable = "chat_kv"

const createKVTableSQL = `
CREATE TABLE IF NOT EXISTS ` + KVTable + ` (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

type handleKey struct {
	driver string
	path   string
}

var (
	mu      sync.Mutex
	handles = make(map[handleKey]*sql.DB)
)

// Get returns the shared connection for driver and path, opening it and
// creating the key/value table on first use. An empty path opens an
// in-memory database that is not shared.
func Get(driver, path string) (*sql.DB, error) {
	if path == "" {
		return open(driver, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	key := handleKey{driver: driver, path: abs}

	mu.Lock()
	defer mu.Unlock()

	if db, ok := handles[key]; ok {
		return db, nil
	}
	db, err := open(driver, abs)
	if err != nil {
		return nil, err
	}
	handles[key] = db
	return db, nil
}

// CloseAll closes every shared connection opened through Get
func CloseAll() error {
	mu.Lock()
	defer mu.Unlock()

	var firstErr error
	for key, db := range handles {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s database %s: %w", key.driver, key.path, err)
		}
		delete(handles, key)
	}
	return firstErr
}

func open(driver, path string) (*sql.DB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverDuckDB:
		db, err = openDuckDB(path)
	case DriverSQLite:
		db, err = openSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(createKVTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create %s table: %w", KVTable, err)
	}
	return db, nil
}

// openDuckDB opens a DuckDB database file, or an in-memory one for ""
func openDuckDB(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverDuckDB, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	// DuckDB works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// openSQLite opens a SQLite database file, or an in-memory one for ""
func openSQLite(path string) (*sql.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// An in-memory SQLite database lives only as long as its connection
	db.SetMaxOpenConns(1)

	if path != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}
	return db, nil
}
