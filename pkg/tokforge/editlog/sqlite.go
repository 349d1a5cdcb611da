package editlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteJournal persists injection entries to SQLite.
// It is suitable for single-process production use.
type SQLiteJournal struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteJournal creates a journal backed by the SQLite database at path.
// Use ":memory:" for testing.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps concurrent readers cheap while an append is in flight.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS injections (
			id TEXT NOT NULL PRIMARY KEY,
			ordinal INTEGER NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL,
			segments BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_injections_created
		ON injections(created_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Append implements Journal.
func (j *SQLiteJournal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	segments, err := json.Marshal(e.Segments)
	if err != nil {
		return fmt.Errorf("serialize segments: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = j.db.Exec(`
		INSERT INTO injections (id, ordinal, kind, created_at, segments)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.Ordinal, e.Kind, created.Format(time.RFC3339Nano), segments)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// Get implements Journal.
func (j *SQLiteJournal) Get(id string) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return Entry{}, ErrJournalClosed
	}

	row := j.db.QueryRow(`
		SELECT id, ordinal, kind, created_at, segments
		FROM injections WHERE id = ?
	`, id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load entry: %w", err)
	}
	return e, nil
}

// List implements Journal.
func (j *SQLiteJournal) List() ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrJournalClosed
	}

	rows, err := j.db.Query(`
		SELECT id, ordinal, kind, created_at, segments
		FROM injections ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Delete implements Journal.
func (j *SQLiteJournal) Delete(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	if _, err := j.db.Exec(`DELETE FROM injections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Close implements Journal.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// scanEntry decodes one row via the given Scan function.
func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var (
		e        Entry
		created  string
		segments []byte
	)
	if err := scan(&e.ID, &e.Ordinal, &e.Kind, &created, &segments); err != nil {
		return Entry{}, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if err := json.Unmarshal(segments, &e.Segments); err != nil {
		return Entry{}, fmt.Errorf("decode segments: %w", err)
	}
	return e, nil
}

// isUniqueViolation reports whether err is a primary-key conflict.
// modernc.org/sqlite reports constraint violations in the error text;
// matching on the message avoids a driver-specific import.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
