// Package serverdb is the SQLite store behind the reference board server:
// projects, sprints and tickets, with the sprint lifecycle enforced on write.
package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a project, sprint or ticket does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for sprint status changes that are not
	// a single forward step, and for tickets moved into a completed sprint.
	ErrInvalidTransition = errors.New("invalid transition")
)

// ServerDB is the board server's store. All writes go through a single
// connection so SQLite never sees concurrent writers.
type ServerDB struct {
	conn *sql.DB
	path string
}

// pragmas are applied to every connection before the schema is created.
// Only the first two are required to succeed.
var pragmas = []struct {
	stmt     string
	required bool
}{
	{"PRAGMA journal_mode=WAL", true},
	{"PRAGMA busy_timeout=5000", true},
	{"PRAGMA synchronous=NORMAL", false},
	{"PRAGMA foreign_keys=ON", false},
}

// Open opens (creating if needed) the database file at dbPath with the
// pure-Go driver and brings its schema up to date. ":memory:" is accepted.
func Open(dbPath string) (*ServerDB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	db.path = dbPath
	return db, nil
}

// New prepares an already opened SQLite connection from either driver.
func New(conn *sql.DB) (*ServerDB, error) {
	conn.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil && p.required {
			return nil, fmt.Errorf("%s: %w", p.stmt, err)
		}
	}
	if _, err := conn.Exec(serverSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	db := &ServerDB{conn: conn}
	if _, err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Path returns the database file path, or "" for an injected connection.
func (db *ServerDB) Path() string {
	return db.path
}

// Ping checks the database connection is alive.
func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the database connection.
func (db *ServerDB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// RunMigrations applies every migration newer than the recorded schema
// version, each in its own transaction together with the version bump, and
// reports how many ran.
func (db *ServerDB) RunMigrations() (int, error) {
	current := db.SchemaVersion()
	ran := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if err := db.migrate(m); err != nil {
			return ran, err
		}
		ran++
	}
	if current < ServerSchemaVersion {
		if err := setSchemaVersion(db.conn, ServerSchemaVersion); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

func (db *ServerDB) migrate(m Migration) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := setSchemaVersion(tx, m.Version); err != nil {
		return fmt.Errorf("migration %d: record version: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the recorded schema version, 0 for a new database.
func (db *ServerDB) SchemaVersion() int {
	var raw string
	if err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&raw); err != nil {
		return 0
	}
	v, _ := strconv.Atoi(raw)
	return v
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setSchemaVersion(e execer, version int) error {
	_, err := e.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(version))
	return err
}

// NewID generates an opaque entity id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// now is truncated to milliseconds so timestamps survive a JSON round trip
// through clients unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
