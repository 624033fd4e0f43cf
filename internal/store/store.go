// Package store persists analysis sessions in SQLite. A session is one dated
// pass over the corpus: one embedding row and one cluster assignment per
// note, plus the link set seen that day. Sessions are append-only; rewriting
// a date requires an explicit overwrite, never a silent merge.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/note"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// DateLayout is the canonical session key format.
const DateLayout = "2006-01-02"

// Noise is the cluster id for notes not confidently assigned to any cluster.
const Noise = -1

var (
	// ErrSessionNotFound reports a read for a date never computed.
	ErrSessionNotFound = errors.New("no such session")
	// ErrSessionExists reports a write for a date already computed without
	// the overwrite flag.
	ErrSessionExists = errors.New("session already exists")
)

// Record is one note's row within a session.
type Record struct {
	NoteID       string    `json:"note_id"`
	Vector       []float64 `json:"vector"` // full embedding: semantic + temporal
	ClusterID    int       `json:"cluster_id"`
	ClusterLabel string    `json:"cluster_label,omitempty"`
}

// Session is one dated analysis pass read back from disk.
type Session struct {
	Date    string
	Records map[string]Record // note id -> record
	Links   []note.Link
}

// DB wraps the SQLite session store.
type DB struct {
	db           *sql.DB
	path         string
	vecAvailable bool
	vecDim       int // embedding dimension in session_vec (0 = not yet determined)
}

// Open opens or creates the session store database.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &DB{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	// Check if sqlite-vec extension is available
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		logging.Info("store", "sqlite-vec not available: %v, nearest-note queries fall back to full scan", err)
	} else {
		logging.Info("store", "sqlite-vec %s loaded", vecVersion)
		s.vecAvailable = true
		if err := s.initVecTable(); err != nil {
			logging.Warn("store", "vec init: %v", err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Latest snapshot of every note ever seen. History lives in sessions.
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		created DATETIME NOT NULL,
		modified DATETIME NOT NULL,
		is_virtual BOOLEAN DEFAULT FALSE,
		source_ref TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_date TEXT PRIMARY KEY,
		note_count INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_embeddings (
		session_date TEXT NOT NULL,
		note_id TEXT NOT NULL,
		vector BLOB NOT NULL,
		cluster_id INTEGER DEFAULT -1,
		cluster_label TEXT DEFAULT '',
		PRIMARY KEY (session_date, note_id),
		FOREIGN KEY (session_date) REFERENCES sessions(session_date) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_session_embeddings_note ON session_embeddings(note_id);

	-- Link set per session. Deleted bridges are derivable by diffing
	-- adjacent sessions; there is no separate removals table.
	CREATE TABLE IF NOT EXISTS links (
		session_date TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		PRIMARY KEY (session_date, source_id, target_id),
		FOREIGN KEY (session_date) REFERENCES sessions(session_date) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_links_source ON links(session_date, source_id);

	-- Expensive aggregate statistics, cached per session.
	CREATE TABLE IF NOT EXISTS metrics_cache (
		session_date TEXT PRIMARY KEY,
		metrics BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_date) REFERENCES sessions(session_date) ON DELETE CASCADE
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// WriteSession persists one session atomically: all embeddings, cluster
// assignments, links and note snapshots land in a single transaction, so a
// reader never observes a partial session. An existing date is rejected with
// ErrSessionExists unless overwrite is set, in which case the old rows are
// replaced wholesale (explicit replay).
func (s *DB) WriteSession(date string, notes []note.Note, records []Record, links []note.Link, overwrite bool) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid session date %q: %w", date, err)
	}

	exists, err := s.HasSession(date)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return fmt.Errorf("%w: %s", ErrSessionExists, date)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin session write: %w", err)
	}
	defer tx.Rollback()

	if exists {
		// Explicit replay: drop the old session in the same transaction.
		if _, err := tx.Exec(`DELETE FROM sessions WHERE session_date = ?`, date); err != nil {
			return fmt.Errorf("replace session %s: %w", date, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO sessions (session_date, note_count) VALUES (?, ?)`,
		date, len(records)); err != nil {
		return fmt.Errorf("insert session %s: %w", date, err)
	}

	for _, n := range notes {
		if _, err := tx.Exec(`
			INSERT INTO notes (id, content_hash, created, modified, is_virtual, source_ref)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content_hash = excluded.content_hash,
				modified = excluded.modified`,
			n.ID, n.Hash, n.Created, n.Modified, n.Virtual, n.SourceRef); err != nil {
			return fmt.Errorf("upsert note %s: %w", n.ID, err)
		}
	}

	for _, r := range records {
		blob, err := json.Marshal(r.Vector)
		if err != nil {
			return fmt.Errorf("encode vector for %s: %w", r.NoteID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO session_embeddings (session_date, note_id, vector, cluster_id, cluster_label)
			VALUES (?, ?, ?, ?, ?)`,
			date, r.NoteID, blob, r.ClusterID, r.ClusterLabel); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", r.NoteID, err)
		}
	}

	for _, l := range links {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO links (session_date, source_id, target_id) VALUES (?, ?, ?)`,
			date, l.Source, l.Target); err != nil {
			return fmt.Errorf("insert link %s->%s: %w", l.Source, l.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", date, err)
	}

	if s.vecAvailable {
		if err := s.indexSessionVectors(date, records); err != nil {
			logging.Warn("store", "vec index for %s: %v", date, err)
		}
	}
	return nil
}

// HasSession reports whether a session exists for the date. Missing is not an
// error here; required reads use ReadSession.
func (s *DB) HasSession(date string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_date = ?`, date).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", date, err)
	}
	return count > 0, nil
}

// ReadSession loads one full session. A missing date returns
// ErrSessionNotFound, never an empty session.
func (s *DB) ReadSession(date string) (*Session, error) {
	exists, err := s.HasSession(date)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, date)
	}

	rows, err := s.db.Query(`
		SELECT note_id, vector, cluster_id, cluster_label
		FROM session_embeddings WHERE session_date = ?`, date)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", date, err)
	}
	defer rows.Close()

	sess := &Session{Date: date, Records: make(map[string]Record)}
	for rows.Next() {
		var r Record
		var blob []byte
		if err := rows.Scan(&r.NoteID, &blob, &r.ClusterID, &r.ClusterLabel); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		if err := json.Unmarshal(blob, &r.Vector); err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", r.NoteID, err)
		}
		sess.Records[r.NoteID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sess.Links, err = s.LinksFor(date)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// LinksFor returns the directed link set recorded for one session.
func (s *DB) LinksFor(date string) ([]note.Link, error) {
	rows, err := s.db.Query(`
		SELECT source_id, target_id FROM links
		WHERE session_date = ? ORDER BY source_id, target_id`, date)
	if err != nil {
		return nil, fmt.Errorf("read links %s: %w", date, err)
	}
	defer rows.Close()

	var links []note.Link
	for rows.Next() {
		var l note.Link
		if err := rows.Scan(&l.Source, &l.Target); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// SessionsBetween returns the ordered list of dates with data in
// [start, end] inclusive. Empty bounds mean unbounded on that side.
func (s *DB) SessionsBetween(start, end string) ([]string, error) {
	query := `SELECT session_date FROM sessions`
	var args []any
	switch {
	case start != "" && end != "":
		query += ` WHERE session_date >= ? AND session_date <= ?`
		args = append(args, start, end)
	case start != "":
		query += ` WHERE session_date >= ?`
		args = append(args, start)
	case end != "":
		query += ` WHERE session_date <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY session_date`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// NoteSnapshot returns the latest persisted snapshot of one note.
func (s *DB) NoteSnapshot(id string) (*note.Note, error) {
	var n note.Note
	err := s.db.QueryRow(`
		SELECT id, content_hash, created, modified, is_virtual, source_ref
		FROM notes WHERE id = ?`, id).
		Scan(&n.ID, &n.Hash, &n.Created, &n.Modified, &n.Virtual, &n.SourceRef)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("note %s: not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read note %s: %w", id, err)
	}
	return &n, nil
}

// GetMetrics reads the cached aggregate metrics for one session. The bool
// reports whether a cached entry exists.
func (s *DB) GetMetrics(date string, out any) (bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT metrics FROM metrics_cache WHERE session_date = ?`, date).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read metrics %s: %w", date, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("decode metrics %s: %w", date, err)
	}
	return true, nil
}

// PutMetrics caches aggregate metrics for one session.
func (s *DB) PutMetrics(date string, metrics any) error {
	blob, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO metrics_cache (session_date, metrics) VALUES (?, ?)`,
		date, blob)
	if err != nil {
		return fmt.Errorf("write metrics %s: %w", date, err)
	}
	return nil
}

// Stats returns row counts per table.
func (s *DB) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	tables := []string{"notes", "sessions", "session_embeddings", "links", "metrics_cache"}
	for _, table := range tables {
		var count int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, err
		}
		stats[table] = count
	}
	return stats, nil
}
