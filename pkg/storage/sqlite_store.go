package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/log"
	_ "modernc.org/sqlite"
)

// Store wraps an embedded SQLite database holding notes and runtime markers.
// It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	for _, p := range []struct{ stmt, what string }{
		{`PRAGMA journal_mode=WAL;`, "set WAL"},
		{`PRAGMA busy_timeout=5000;`, "set busy_timeout"},
		{`PRAGMA synchronous=NORMAL;`, "set synchronous"},
	} {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	log.DatabaseLogger().Info("Note store ready", "path", s.dbPath)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// Note is one named note.
type Note struct {
	Name      string
	Value     string
	OwnerID   string
	GuildID   string
	CreatedAt time.Time
}

// AddNote inserts n. An existing name fails with errors.ErrConflict.
func (s *Store) AddNote(ctx context.Context, n Note) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("note name is empty")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (name, value, owner_id, guild_id, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(name) DO NOTHING`,
		n.Name, n.Value, n.OwnerID, n.GuildID, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert note %q: %w", n.Name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert note %q: %w", n.Name, err)
	}
	if affected == 0 {
		return fmt.Errorf("note %q: %w", n.Name, errors.ErrConflict)
	}
	log.DatabaseLogger().Debug("Note added", "name", n.Name, "ownerID", n.OwnerID)
	return nil
}

// GetNote looks a note up by exact name. A missing name fails with errors.ErrNotFound.
func (s *Store) GetNote(ctx context.Context, name string) (Note, error) {
	if s.db == nil {
		return Note{}, fmt.Errorf("store not initialized")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT name, value, owner_id, guild_id, created_at FROM notes WHERE name=?`, name)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return Note{}, fmt.Errorf("note %q: %w", name, errors.ErrNotFound)
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note %q: %w", name, err)
	}
	return n, nil
}

// DeleteNote removes name when requesterID wrote it or override is set. The
// note is returned, also on errors.ErrNotOwner, so callers can name the author.
func (s *Store) DeleteNote(ctx context.Context, name, requesterID string, override bool) (Note, error) {
	if s.db == nil {
		return Note{}, fmt.Errorf("store not initialized")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := scanNote(tx.QueryRowContext(ctx,
		`SELECT name, value, owner_id, guild_id, created_at FROM notes WHERE name=?`, name))
	if err == sql.ErrNoRows {
		return Note{}, fmt.Errorf("note %q: %w", name, errors.ErrNotFound)
	}
	if err != nil {
		return Note{}, fmt.Errorf("delete note %q: %w", name, err)
	}
	if n.OwnerID != requesterID && !override {
		return n, fmt.Errorf("note %q: %w", name, errors.ErrNotOwner)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE name=?`, name); err != nil {
		return Note{}, fmt.Errorf("delete note %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return Note{}, fmt.Errorf("commit delete: %w", err)
	}
	log.DatabaseLogger().Debug("Note removed", "name", name, "by", requesterID, "override", override)
	return n, nil
}

// CountNotes counts all notes, or those of ownerID when it is non-empty.
func (s *Store) CountNotes(ctx context.Context, ownerID string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	var n int
	var err error
	if ownerID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE owner_id=?`, ownerID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// ListNoteNames returns names ordered by name, optionally filtered by owner.
func (s *Store) ListNoteNames(ctx context.Context, ownerID string, offset, limit int) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if ownerID == "" {
		return s.queryNames(ctx, `SELECT name FROM notes ORDER BY name LIMIT ? OFFSET ?`, limit, offset)
	}
	return s.queryNames(ctx, `SELECT name FROM notes WHERE owner_id=? ORDER BY name LIMIT ? OFFSET ?`, ownerID, limit, offset)
}

// CountSearch counts notes whose name contains query.
func (s *Store) CountSearch(ctx context.Context, query string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE name LIKE ? ESCAPE '\'`, likePattern(query)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count search: %w", err)
	}
	return n, nil
}

// SearchNoteNames returns names containing query, ordered by name.
func (s *Store) SearchNoteNames(ctx context.Context, query string, offset, limit int) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	return s.queryNames(ctx,
		`SELECT name FROM notes WHERE name LIKE ? ESCAPE '\' ORDER BY name LIMIT ? OFFSET ?`,
		likePattern(query), limit, offset)
}

func (s *Store) queryNames(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// likePattern matches query as a literal substring.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var n Note
	if err := row.Scan(&n.Name, &n.Value, &n.OwnerID, &n.GuildID, &n.CreatedAt); err != nil {
		return Note{}, err
	}
	return n, nil
}

// SetHeartbeat records the last time the bot was known to be running.
func (s *Store) SetHeartbeat(ctx context.Context, t time.Time) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_meta (key, ts) VALUES ('heartbeat', ?)
         ON CONFLICT(key) DO UPDATE SET ts=excluded.ts`,
		t.UTC(),
	)
	return err
}

// GetHeartbeat returns the last recorded heartbeat, if any.
func (s *Store) GetHeartbeat(ctx context.Context) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, fmt.Errorf("store not initialized")
	}
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT ts FROM runtime_meta WHERE key='heartbeat'`).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func ensureSchema(db *sql.DB) error {
	const createNotes = `
CREATE TABLE IF NOT EXISTS notes (
  name       TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  owner_id   TEXT NOT NULL,
  guild_id   TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner_id, name);`

	const createRuntimeMeta = `
CREATE TABLE IF NOT EXISTS runtime_meta (
  key TEXT PRIMARY KEY,
  ts  TIMESTAMP NOT NULL
);`

	for _, sqlText := range []string{createNotes, createRuntimeMeta} {
		if _, err := db.Exec(sqlText); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
