// Package store is the sqlite-backed persisted state behind spec.md §6.5:
// an append-only events table deduplicated by event_id, a schema_meta
// migration-version table, and a periodic retention sweep. Grounded on the
// database/sql + modernc.org/sqlite WAL-mode pattern from the example pack.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRetention is the default events retention window (spec.md §6.6).
const DefaultRetention = 7 * 24 * time.Hour

// DefaultSweepInterval is how often the retention sweep runs (spec.md §4.10).
const DefaultSweepInterval = 5 * time.Minute

// Store wraps the sqlite connection holding the events table and its
// migrations.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// pending migrations. path == "" opens an in-memory database, useful for
// tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// migration is one ordered DDL step, applied at most once per version.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	event_id    TEXT PRIMARY KEY,
	terminal_id TEXT NOT NULL,
	persona_id  TEXT,
	project_id  TEXT,
	event_type  TEXT NOT NULL,
	tool_name   TEXT,
	payload     TEXT,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

CREATE TABLE IF NOT EXISTS personas (
	persona_id TEXT PRIMARY KEY,
	source_session_id TEXT NOT NULL,
	xp INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	root TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
`,
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_meta`)
	if err := row.Scan(&current); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Event is a single row of the append-only events table.
type Event struct {
	EventID    string
	TerminalID string
	PersonaID  string
	ProjectID  string
	EventType  string
	ToolName   string
	Payload    string
	CreatedAt  time.Time
}

// InsertEvent appends ev, returning (false, nil) if event_id already exists
// (spec.md §4.9: "Event ids are deduplicated by a (event_id) uniqueness
// constraint ... duplicates are discarded").
func (s *Store) InsertEvent(ctx context.Context, ev Event) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (event_id, terminal_id, persona_id, project_id, event_type, tool_name, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.TerminalID, nullable(ev.PersonaID), nullable(ev.ProjectID), ev.EventType, nullable(ev.ToolName), nullable(ev.Payload), ev.CreatedAt.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Sweep deletes events rows older than retention as of now, with a strict
// "<" cutoff (spec.md §4.10: an event exactly at the cutoff is kept).
func (s *Store) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RunSweeper runs Sweep on a ticker until ctx is cancelled. The sweep is
// idempotent and safe to cancel mid-run (spec.md §5).
func (s *Store) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now(), retention); err != nil {
				// Retention failures are not fatal to the serving path.
				continue
			}
		}
	}
}

// UpsertPersona records a persona's existence, idempotent on persona_id.
func (s *Store) UpsertPersona(ctx context.Context, personaID, sourceSessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (persona_id, source_session_id, xp, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(persona_id) DO NOTHING
	`, personaID, sourceSessionID, now.Unix())
	return err
}

// AddPersonaXP increments a persona's stored XP total.
func (s *Store) AddPersonaXP(ctx context.Context, personaID string, amount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE personas SET xp = xp + ? WHERE persona_id = ?`, amount, personaID)
	return err
}

// UpsertProject records a project's existence, idempotent on project_id.
func (s *Store) UpsertProject(ctx context.Context, projectID, root string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_id, root, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO NOTHING
	`, projectID, root, now.Unix())
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
