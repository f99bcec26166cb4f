package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/strrl/chatdeck/internal/db"
)

// DefaultKey is the slot name the collection is stored under
const DefaultKey = "chats"

// Slot is a single named durable read/write surface for a text blob
type Slot interface {
	// Read returns the stored blob. ok is false when nothing was written yet.
	Read(ctx context.Context) (blob string, ok bool, err error)
	Write(ctx context.Context, blob string) error
	// Describe names the backend and location, for diagnostics
	Describe() string
}

// Backend names accepted by OpenSlot
const (
	BackendDuckDB = "duckdb"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// OpenSlot opens the slot for a configured backend and path
func OpenSlot(backend, path string) (Slot, error) {
	switch backend {
	case BackendDuckDB, "":
		return NewSQLSlot(db.DriverDuckDB, path, DefaultKey)
	case BackendSQLite:
		return NewSQLSlot(db.DriverSQLite, path, DefaultKey)
	case BackendFile:
		if path == "" {
			return nil, errors.New("file storage backend requires a path")
		}
		return NewFileSlot(path), nil
	case BackendMemory:
		return NewMemorySlot(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// MemorySlot keeps the blob in process memory
type MemorySlot struct {
	mu     sync.RWMutex
	blob   string
	ok     bool
	writes int
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

// NewMemorySlotWith returns a memory slot preloaded with blob
func NewMemorySlotWith(blob string) *MemorySlot {
	return &MemorySlot{blob: blob, ok: true}
}

func (m *MemorySlot) Read(ctx context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blob, m.ok, nil
}

func (m *MemorySlot) Write(ctx context.Context, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = blob
	m.ok = true
	m.writes++
	return nil
}

func (m *MemorySlot) Describe() string { return BackendMemory }

// Writes returns how many times the slot was written
func (m *MemorySlot) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// FileSlot stores the blob in a single file, replaced atomically on write
type FileSlot struct {
	path string
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

func (f *FileSlot) Read(ctx context.Context) (string, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return string(data), true, nil
}

func (f *FileSlot) Write(ctx context.Context, blob string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileSlot) Describe() string { return BackendFile + ":" + f.path }

// SQLSlot stores the blob as one row of the shared key/value table
type SQLSlot struct {
	db     *sql.DB
	driver string
	path   string
	key    string
}

// NewSQLSlot opens (or reuses) the database for driver and path.
// An empty path gives a private in-memory database.
func NewSQLSlot(driver, path, key string) (*SQLSlot, error) {
	database, err := db.Get(driver, path)
	if err != nil {
		return nil, err
	}
	return &SQLSlot{db: database, driver: driver, path: path, key: key}, nil
}

func (s *SQLSlot) Read(ctx context.Context) (string, bool, error) {
	query := `SELECT value FROM ` + db.KVTable + ` WHERE key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read slot %q: %w", s.key, err)
	}
	return value, true, nil
}

func (s *SQLSlot) Write(ctx context.Context, blob string) error {
	query := `INSERT OR REPLACE INTO ` + db.KVTable + ` (key, value, updated_at) VALUES (?, ?, ?)`

	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, s.key, blob, updatedAt); err != nil {
		return fmt.Errorf("failed to write slot %q: %w", s.key, err)
	}
	return nil
}

// Close releases a private in-memory database. Shared file databases stay
// open until db.CloseAll.
func (s *SQLSlot) Close() error {
	if s.path != "" {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSlot) Describe() string {
	path := s.path
	if path == "" {
		path = ":memory:"
	}
	return s.driver + ":" + path
}
