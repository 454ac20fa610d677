// Package store owns the minion coordination database: a single
// embedded SQLite file in the work directory, opened in WAL mode with
// short busy timeouts so many agent processes can share it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ai-janitor/minion-factory-sub000/internal/workdir"
)

// Store wraps the comms database handle.
type Store struct {
	DB   *sql.DB
	Path string
}

// Open opens (creating if needed) the comms database at path, applies
// pragmas, the base schema, and pending migrations. Migration is
// serialized across processes with a sibling .lock file.
func Open(path string) (*Store, error) {
	if path == "" {
		path = workdir.DBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single pooled connection keeps BEGIN EXCLUSIVE and pragmas
	// bound to one SQLite handle.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		db.Close()
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer lock.Unlock()

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db, Path: path}, nil
}

// OpenDefault opens the database at the configured default location.
func OpenDefault() (*Store, error) { return Open("") }

// Close releases the database handle.
func (s *Store) Close() error { return s.DB.Close() }

// NowISO returns the current UTC time in RFC 3339 format, the timestamp
// format used throughout the database.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ParseISO parses a stored timestamp, tolerating both RFC 3339 and the
// second-precision variant older rows carry.
func ParseISO(ts string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Lead returns the name of the first registered lead-class agent that
// has not retired, or "" when the party has no lead.
func (s *Store) Lead() string {
	var name string
	err := s.DB.QueryRow(
		`SELECT name FROM agents
         WHERE agent_class = 'lead' AND status != 'retired'
         ORDER BY last_seen DESC LIMIT 1`,
	).Scan(&name)
	if err != nil {
		return ""
	}
	return name
}

// FlagSet upserts a coordination flag (moon_crash, stand_down, ...).
func (s *Store) FlagSet(key, value, setBy string) error {
	_, err := s.DB.Exec(
		`INSERT INTO flags (key, value, set_by, set_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value=excluded.value, set_by=excluded.set_by, set_at=excluded.set_at`,
		key, value, setBy, NowISO(),
	)
	return err
}

// FlagGet returns a flag value, "" when unset.
func (s *Store) FlagGet(key string) string {
	var value string
	if err := s.DB.QueryRow(`SELECT COALESCE(value, '') FROM flags WHERE key = ?`, key).Scan(&value); err != nil {
		return ""
	}
	return value
}

// FlagClear removes a flag.
func (s *Store) FlagClear(key string) error {
	_, err := s.DB.Exec(`DELETE FROM flags WHERE key = ?`, key)
	return err
}

// Touch bumps an agent's last_seen.
func (s *Store) Touch(agent string) {
	s.DB.Exec(`UPDATE agents SET last_seen = ? WHERE name = ?`, NowISO(), agent)
}

// SystemMessage drops a message from "system" straight into an agent's
// inbox, writing the body file atomically first.
func (s *Store) SystemMessage(to, content string) error {
	file := workdir.MessageFilePath(to, "system", content)
	if err := workdir.AtomicWriteFile(file, content); err != nil {
		return err
	}
	_, err := s.DB.Exec(
		`INSERT INTO messages (from_agent, to_agent, content_file, timestamp, read_flag, is_cc)
         VALUES ('system', ?, ?, ?, 0, 0)`,
		to, file, NowISO(),
	)
	return err
}
