package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// timeLayout is a fixed-width RFC3339 variant so that updated_at strings
// compare correctly with plain string comparison in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session states. The runtime.state column is constrained to these.
const (
	StateWorking = "working"
	StateIdle    = "idle"
	StateWaiting = "waiting"
)

// ErrInvalidState is returned for a runtime write with a state outside the
// enumerated set. It is never persisted.
var ErrInvalidState = errors.New("statedb: invalid runtime state")

// ValidState reports whether s is one of the enumerated runtime states.
func ValidState(s string) bool {
	return s == StateWorking || s == StateIdle || s == StateWaiting
}

// IsUnknownSession reports whether err is a referential-integrity failure
// from a runtime write against a session that doesn't exist. Callers on the
// hook path catch and discard these; the next catalog scan creates the row.
func IsUnknownSession(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// StateDB wraps the claude-status SQLite database. Multiple short-lived
// processes (hook dispatches, the daemon, the CLI) safely share it via WAL
// mode and the busy timeout; there is no other cross-process coordination.
type StateDB struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: foreign keys: %w", err)
	}

	return &StateDB{db: db, path: dbPath}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables and indexes if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id     TEXT PRIMARY KEY,
			slug           TEXT,
			custom_title   TEXT,
			project_path   TEXT,
			project_dir    TEXT,
			cwd            TEXT,
			git_branch     TEXT,
			first_prompt   TEXT,
			message_count  INTEGER DEFAULT 0 CHECK(message_count >= 0),
			is_sidechain   INTEGER DEFAULT 0,
			jsonl_path     TEXT,
			jsonl_mtime    REAL,
			created_at     TEXT,
			modified_at    TEXT,
			updated_at     TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create sessions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runtime (
			session_id     TEXT PRIMARY KEY REFERENCES sessions(session_id),
			pid            INTEGER,
			tty            TEXT,
			tmux_target    TEXT,
			tmux_session   TEXT,
			resume_arg     TEXT,
			state          TEXT NOT NULL CHECK(state IN ('working', 'idle', 'waiting')),
			last_activity  REAL,
			updated_at     TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create runtime: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create meta: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_project_path ON sessions(project_path)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_modified_at ON sessions(modified_at)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_slug ON sessions(slug)",
		"CREATE INDEX IF NOT EXISTS idx_runtime_state ON runtime(state)",
	} {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("statedb: create index: %w", err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// Now returns the current wall-clock time in the canonical storage format.
func Now() string {
	return time.Now().UTC().Format(timeLayout)
}

// execer is satisfied by both *sql.DB and *sql.Tx so every write helper can
// run standalone or inside a pass transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Tx is a pass-scoped transaction over the store. One reconciliation pass or
// hook dispatch is exactly one Tx: all of its writes commit together.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *StateDB) WithTx(fn func(tx *Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin: %w", err)
	}
	t := &Tx{tx: tx}
	if err := fn(t); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statedb: commit: %w", err)
	}
	return nil
}

// --- Meta ---

// SetMeta upserts a meta key-value pair.
func (t *Tx) SetMeta(key, value string) error {
	return setMeta(t.tx, key, value)
}

// SetMeta upserts a meta key-value pair outside a pass transaction.
func (s *StateDB) SetMeta(key, value string) error {
	return setMeta(s.db, key, value)
}

func setMeta(e execer, key, value string) error {
	_, err := e.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value,
	)
	if err != nil {
		return fmt.Errorf("statedb: set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns a meta value, or "" if the key is absent.
func (t *Tx) GetMeta(key string) (string, error) {
	return getMeta(t.tx, key)
}

// GetMeta returns a meta value, or "" if the key is absent.
func (s *StateDB) GetMeta(key string) (string, error) {
	return getMeta(s.db, key)
}

func getMeta(e execer, key string) (string, error) {
	var value string
	err := e.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statedb: get meta %s: %w", key, err)
	}
	return value, nil
}
