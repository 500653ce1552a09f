// Package localstate persists the small amount of client-side state the
// portal keeps between runs: cached identity records consumed by the
// credential resolver, and the last conference link for session rejoin.
package localstate

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	// Pure-Go SQLite driver, registered for database/sql.
	_ "modernc.org/sqlite"

	"dmp-portal-client/internal/domain"
)

// ErrNotFound is returned when a lookup targets a missing record.
var ErrNotFound = errors.New("localstate: record not found")

// Credential source names, in resolver priority order.
const (
	SourcePrimaryToken       = "primary_token"
	SourcePatientRecord      = "patient_record"
	SourceProfessionalRecord = "professional_record"
)

// CredentialRecord is one cached identity record.
type CredentialRecord struct {
	Source    string
	Token     string
	UserID    int64
	Role      domain.Role
	UpdatedAt time.Time
}

// Store wraps the sqlite database holding client-side state.
// Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database at path and initializes the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			source     TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			user_id    INTEGER NOT NULL DEFAULT 0,
			role       TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	return err
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCredential inserts or replaces a cached identity record.
func (s *Store) SaveCredential(rec *CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO credentials (source, token, user_id, role, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			role = excluded.role,
			updated_at = excluded.updated_at
	`, rec.Source, rec.Token, rec.UserID, string(rec.Role), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save credential %s: %w", rec.Source, err)
	}
	return nil
}

// Credential returns the cached record for a source, or ErrNotFound.
func (s *Store) Credential(source string) (*CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := &CredentialRecord{Source: source}
	var role string
	err := s.db.QueryRow(`
		SELECT token, user_id, role, updated_at FROM credentials WHERE source = ?
	`, source).Scan(&rec.Token, &rec.UserID, &role, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", source, err)
	}
	rec.Role = domain.Role(role)
	return rec, nil
}

// DeleteCredential removes a cached record. Missing records are not an error.
func (s *Store) DeleteCredential(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM credentials WHERE source = ?`, source)
	return err
}

const settingLastConferenceLink = "last_conference_link"

// SetLastConferenceLink remembers the most recently validated conference
// link for rejoin convenience.
func (s *Store) SetLastConferenceLink(link string) error {
	return s.setSetting(settingLastConferenceLink, link)
}

// LastConferenceLink returns the remembered conference link, or "" when
// none has been stored yet.
func (s *Store) LastConferenceLink() (string, error) {
	v, err := s.setting(settingLastConferenceLink)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (s *Store) setSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) setting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	return value, nil
}
