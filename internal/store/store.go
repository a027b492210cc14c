// Package store keeps diary entries and their signed Nostr events in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no entry or event matches.
	ErrNotFound = errors.New("not found")

	// ErrEntryExists is returned when the day already has an entry.
	ErrEntryExists = errors.New("an entry already exists for this day")

	// ErrEventExists is returned when the Nostr event id is already stored.
	ErrEventExists = errors.New("nostr event already stored")

	// ErrInvalidDay is returned for days not in YYYY-MM-DD form.
	ErrInvalidDay = errors.New("day must be YYYY-MM-DD")
)

// DayLayout is the time layout of Entry.Day.
const DayLayout = "2006-01-02"

// createdLayout is fixed width so that ORDER BY created_at sorts by time.
const createdLayout = "2006-01-02T15:04:05.000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS diary_entries (
    id          TEXT PRIMARY KEY,
    content     TEXT NOT NULL,
    weather     TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    nostr_id    TEXT UNIQUE,
    day         TEXT UNIQUE,
    nostr_event TEXT
);

CREATE INDEX IF NOT EXISTS idx_diary_entries_created ON diary_entries(created_at);
`

// Entry is one diary entry. NostrEvent is the signed kind 30027 event JSON.
type Entry struct {
	ID         string
	Content    string
	Weather    string
	CreatedAt  time.Time
	NostrID    string
	Day        string
	NostrEvent string
}

// Store is a SQLite diary store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ValidDay reports whether day is a calendar date in YYYY-MM-DD form.
func ValidDay(day string) bool {
	_, err := time.Parse(DayLayout, day)
	return err == nil
}

// SaveEntry inserts e. A missing ID is filled with a new UUID and a zero
// CreatedAt with the current time.
func (s *Store) SaveEntry(e *Entry) error {
	if !ValidDay(e.Day) {
		return fmt.Errorf("%w: %q", ErrInvalidDay, e.Day)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO diary_entries (id, content, weather, created_at, nostr_id, day, nostr_event)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Content, e.Weather, e.CreatedAt.UTC().Format(createdLayout),
		nullable(e.NostrID), e.Day, nullable(e.NostrEvent),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", constraintError(err))
	}
	return nil
}

// constraintError maps unique violations to ErrEntryExists or ErrEventExists.
func constraintError(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return err
	}
	if strings.Contains(sqlErr.Error(), "nostr_id") {
		return ErrEventExists
	}
	return ErrEntryExists
}

const entryColumns = `id, content, weather, created_at, nostr_id, day, nostr_event`

// Entries returns all entries, newest first.
func (s *Store) Entries() ([]*Entry, error) {
	rows, err := s.db.Query(`SELECT ` + entryColumns + ` FROM diary_entries ORDER BY created_at DESC, day DESC`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// EntryByDay returns the entry for day.
func (s *Store) EntryByDay(day string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM diary_entries WHERE day = ?`, day)
	return s.one(row, "day "+day)
}

// EntryByNostrID returns the entry whose event has the given id.
func (s *Store) EntryByNostrID(nostrID string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM diary_entries WHERE nostr_id = ?`, nostrID)
	return s.one(row, "event "+nostrID)
}

// EventByNostrID returns the stored event JSON for nostrID.
func (s *Store) EventByNostrID(nostrID string) (string, error) {
	var raw sql.NullString
	err := s.db.QueryRow(`SELECT nostr_event FROM diary_entries WHERE nostr_id = ?`, nostrID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return "", fmt.Errorf("event %s: %w", nostrID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get event: %w", err)
	}
	return raw.String, nil
}

// HasEntryForDay reports whether day already has an entry.
func (s *Store) HasEntryForDay(day string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM diary_entries WHERE day = ?`, day).Scan(&n); err != nil {
		return false, fmt.Errorf("check day: %w", err)
	}
	return n > 0, nil
}

func (s *Store) one(row *sql.Row, what string) (*Entry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                  Entry
		created            string
		nostrID, nostrJSON sql.NullString
		day                sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.Content, &e.Weather, &created, &nostrID, &day, &nostrJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad created_at %q: %w", e.ID, created, err)
	}
	e.CreatedAt = t
	e.NostrID = nostrID.String
	e.Day = day.String
	e.NostrEvent = nostrJSON.String
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
