// Package settings is a flat key-value table for application preferences.
package settings

import (
	"database/sql"
	"fmt"
)

// Schema for the app_settings table. Apply via dbopen.WithSchema or Init.
const Schema = `
CREATE TABLE IF NOT EXISTS app_settings (
	key   TEXT PRIMARY KEY,
	value TEXT
);
`

// Store persists settings.
type Store struct {
	db *sql.DB
}

// NewStore creates a settings store over the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the app_settings table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Save upserts one key.
func (s *Store) Save(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("settings: save %s: %w", key, err)
	}
	return nil
}

// Load returns the value for key, or "" when absent.
func (s *Store) Load(key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("settings: load %s: %w", key, err)
	}
	return value.String, nil
}

// All returns every setting.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM app_settings")
	if err != nil {
		return nil, fmt.Errorf("settings: all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: all scan: %w", err)
		}
		out[k] = v.String
	}
	return out, rows.Err()
}
